package transform

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		total string
		want  string
	}{
		{"0", "<strong>Friend\n$1-$49</strong>"},
		{"49.99", "<strong>Friend\n$1-$49</strong>"},
		{"50", "<strong>Supporter\n$50-$99</strong>"},
		{"99.99", "<strong>Supporter\n$50-$99</strong>"},
		{"100", "<strong>Patron\n$100-$249</strong>"},
		{"250", "<strong>Champion Level\n$250-$499</strong>"},
		{"500", "<strong>Ambassador\n$500-$999</strong>"},
		{"1000", "<strong>Editor's Circle\n$1,000-$2,499</strong>"},
		{"2499.99", "<strong>Editor's Circle\n$1,000-$2,499</strong>"},
		{"2500", "<strong>Publisher's Circle\n$2,500-$4,999</strong>"},
		{"5000", "<strong>Publisher's Circle\n$2,500-$4,999</strong>"},
		{"123456.78", "<strong>Publisher's Circle\n$2,500-$4,999</strong>"},
	}
	for _, tc := range tests {
		level, _ := levelFor(decimal.RequireFromString(tc.total))
		if got, want := level.Label, tc.want; got != want {
			t.Errorf("total %s: got level %q, want %q", tc.total, got, want)
		}
	}
}

func TestLevelForRanks(t *testing.T) {
	// Rank must rise with the total so walls can order levels without
	// parsing labels.
	totals := []string{"0", "50", "100", "250", "500", "1000", "2500"}
	prev := -1
	for _, total := range totals {
		_, rank := levelFor(decimal.RequireFromString(total))
		if rank <= prev {
			t.Errorf("total %s: got rank %d, want above %d", total, rank, prev)
		}
		prev = rank
	}
}

func TestGivingLevelsTable(t *testing.T) {
	if got, want := len(givingLevels), 7; got != want {
		t.Fatalf("got %d levels, want %d", got, want)
	}
	for i, level := range givingLevels {
		if !strings.HasPrefix(level.Label, "<strong>") || !strings.HasSuffix(level.Label, "</strong>") {
			t.Errorf("level %d: label %q is not a display fragment", i, level.Label)
		}
		if i == 0 {
			continue
		}
		prev := givingLevels[i-1]
		if prev.Max == nil || *prev.Max != level.Min {
			t.Errorf("level %d: range not contiguous after %q", i, prev.Label)
		}
	}
	if last := givingLevels[len(givingLevels)-1]; last.Max != nil {
		t.Errorf("top level %q has an upper bound", last.Label)
	}
}

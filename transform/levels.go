package transform

import (
	_ "embed"
	"fmt"

	"github.com/shopspring/decimal"
	yaml "gopkg.in/yaml.v2"
)

//go:embed levels.yaml
var levelsYAML []byte

// Level is one giving-level bin: a display label and a dollar range
// over an account's summed donations. The range is inclusive of Min and
// exclusive of Max; a nil Max means the level is unbounded.
type Level struct {
	Label string `yaml:"label"`
	Min   int    `yaml:"min"`
	Max   *int   `yaml:"max"`
}

// Contains reports whether total falls inside the level's range.
func (l Level) Contains(total decimal.Decimal) bool {
	if total.LessThan(decimal.NewFromInt(int64(l.Min))) {
		return false
	}
	if l.Max == nil {
		return true
	}
	return total.LessThan(decimal.NewFromInt(int64(*l.Max)))
}

// givingLevels is the level table in ascending order.
var givingLevels = mustLoadLevels()

// mustLoadLevels parses the embedded level table and checks it is
// usable: non-empty, ascending, and contiguous so every non-negative
// total lands in exactly one level.
func mustLoadLevels() []Level {
	var doc struct {
		Levels []Level `yaml:"levels"`
	}
	if err := yaml.Unmarshal(levelsYAML, &doc); err != nil {
		panic(fmt.Sprintf("levels asset: %v", err))
	}
	if len(doc.Levels) == 0 {
		panic("levels asset: no levels defined")
	}
	for i, level := range doc.Levels {
		if i > 0 {
			prev := doc.Levels[i-1]
			if prev.Max == nil || *prev.Max != level.Min {
				panic(fmt.Sprintf("levels asset: gap before %q", level.Label))
			}
		}
		if level.Max != nil && *level.Max <= level.Min {
			panic(fmt.Sprintf("levels asset: empty range for %q", level.Label))
		}
	}
	if last := doc.Levels[len(doc.Levels)-1]; last.Max != nil {
		panic(fmt.Sprintf("levels asset: top level %q must be unbounded", last.Label))
	}
	return doc.Levels
}

// levelFor returns the level containing total together with its rank in
// the table. A higher rank is a higher giving level.
func levelFor(total decimal.Decimal) (Level, int) {
	for i, level := range givingLevels {
		if level.Contains(total) {
			return level, i
		}
	}
	return givingLevels[0], 0
}

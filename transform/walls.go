package transform

import (
	"sort"
	"strconv"
	"time"

	"github.com/okwatch/donorwall/apiclients/salesforce"

	"github.com/shopspring/decimal"
)

// AllTimeWallName is the base name of the wall aggregating every year.
const AllTimeWallName = "all-time-donations"

// WallEntry is one donor on a giving wall: the label of the level the
// donor's total falls under, and the donor's display name.
type WallEntry struct {
	Level string
	Name  string
}

// Wall is one giving-wall table, named for the file it is written to: a
// calendar year, or all-time.
type Wall struct {
	Name    string
	Entries []WallEntry
}

// donation is one qualifying opportunity flattened with the owning
// account's display name.
type donation struct {
	accountID string
	name      string
	year      int
	amount    decimal.Decimal
}

// GivingWalls builds the wall tables: the all-time wall first, then one
// wall per calendar year from the earliest to the latest qualifying
// donation. Years inside that range with no donations produce an empty
// wall. Accounts with no contacts have no display name and are left off
// every wall.
func GivingWalls(rs *salesforce.RecordSet, asOf time.Time) []Wall {
	donations := flatten(rs, asOf)

	walls := []Wall{{Name: AllTimeWallName, Entries: buildWall(donations)}}
	if len(donations) == 0 {
		return walls
	}

	minYear, maxYear := donations[0].year, donations[0].year
	for _, d := range donations[1:] {
		if d.year < minYear {
			minYear = d.year
		}
		if d.year > maxYear {
			maxYear = d.year
		}
	}
	for year := minYear; year <= maxYear; year++ {
		var inYear []donation
		for _, d := range donations {
			if d.year == year {
				inYear = append(inYear, d)
			}
		}
		walls = append(walls, Wall{Name: strconv.Itoa(year), Entries: buildWall(inYear)})
	}
	return walls
}

// flatten extracts the qualifying donations from the record set,
// attaching each account's display name: its contacts' names joined as
// an AP series. Accounts with no contacts are skipped.
func flatten(rs *salesforce.RecordSet, asOf time.Time) []donation {
	var donations []donation
	for _, account := range rs.Accounts {
		if len(account.Contacts) == 0 {
			continue
		}
		names := make([]string, len(account.Contacts))
		for i, contact := range account.Contacts {
			names[i] = contact.Name
		}
		display := NameSeries(names)
		for _, opportunity := range account.Opportunities {
			if !qualifies(opportunity, asOf) {
				continue
			}
			donations = append(donations, donation{
				accountID: account.ID,
				name:      display,
				year:      opportunity.CloseDate.Year(),
				amount:    opportunity.Amount,
			})
		}
	}
	return donations
}

// buildWall sums the donations by donor, assigns each total its giving
// level, and orders the entries: level descending, then last name, full
// name and account ID ascending.
func buildWall(donations []donation) []WallEntry {
	type donorKey struct {
		accountID string
		name      string
	}
	totals := make(map[donorKey]decimal.Decimal)
	for _, d := range donations {
		key := donorKey{d.accountID, d.name}
		totals[key] = totals[key].Add(d.amount)
	}

	type wallRow struct {
		entry     WallEntry
		rank      int
		lastName  string
		accountID string
	}
	rows := make([]wallRow, 0, len(totals))
	for key, total := range totals {
		level, rank := levelFor(total)
		rows = append(rows, wallRow{
			entry:     WallEntry{Level: level.Label, Name: key.name},
			rank:      rank,
			lastName:  lastNameOf(key.name),
			accountID: key.accountID,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].rank != rows[j].rank {
			return rows[i].rank > rows[j].rank
		}
		if rows[i].lastName != rows[j].lastName {
			return rows[i].lastName < rows[j].lastName
		}
		if rows[i].entry.Name != rows[j].entry.Name {
			return rows[i].entry.Name < rows[j].entry.Name
		}
		return rows[i].accountID < rows[j].accountID
	})

	var entries []WallEntry
	for _, row := range rows {
		entries = append(entries, row.entry)
	}
	return entries
}

// Package transform projects a fetched donor record set into the
// tables the pipeline publishes. Every function here is pure: the same
// record set and reference time always produce the same rows in the
// same order.
package transform

import (
	"sort"
	"time"

	"github.com/okwatch/donorwall/apiclients/salesforce"

	"github.com/shopspring/decimal"
)

// closedStages are the donation stages counted as received money.
var closedStages = map[string]bool{
	"Closed Won": true,
	"Invoiced":   true,
	"Pledged":    true,
}

// Amount is a currency amount rendered with two decimal places in CSV
// output.
type Amount struct {
	decimal.Decimal
}

// Equal reports whether two amounts represent the same value.
func (a Amount) Equal(other Amount) bool {
	return a.Decimal.Equal(other.Decimal)
}

// MarshalCSV implements the gocsv marshaller.
func (a Amount) MarshalCSV() (string, error) {
	return a.StringFixed(2), nil
}

// UnmarshalCSV implements the gocsv unmarshaller.
func (a *Amount) UnmarshalCSV(field string) error {
	d, err := decimal.NewFromString(field)
	if err != nil {
		return err
	}
	a.Decimal = d
	return nil
}

// SummaryRow is the denormalized projection of one account written to
// the donor totals table. The column order consumers rely on is the
// field order: account, total, contacts.
type SummaryRow struct {
	Account  string `csv:"account"`
	Total    Amount `csv:"total"`
	Contacts int    `csv:"contacts"`
}

// Summarize projects the record set into one row per account: the sum
// of its qualifying donations and its contact count. No account is
// dropped; an account with no qualifying donations keeps a row with a
// zero total. Rows are ordered by account name, account ID breaking
// ties.
func Summarize(rs *salesforce.RecordSet, asOf time.Time) []SummaryRow {
	accounts := make([]salesforce.Account, len(rs.Accounts))
	copy(accounts, rs.Accounts)
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].Name != accounts[j].Name {
			return accounts[i].Name < accounts[j].Name
		}
		return accounts[i].ID < accounts[j].ID
	})

	rows := make([]SummaryRow, 0, len(accounts))
	for _, account := range accounts {
		total := decimal.Zero
		for _, donation := range account.Opportunities {
			if !qualifies(donation, asOf) {
				continue
			}
			total = total.Add(donation.Amount)
		}
		rows = append(rows, SummaryRow{
			Account:  account.Name,
			Total:    Amount{total},
			Contacts: len(account.Contacts),
		})
	}
	return rows
}

// qualifies reports whether a donation counts toward totals: a closed
// stage, and not dated beyond the reference year. Pledges recorded for
// future years are not yet donations.
func qualifies(donation salesforce.Opportunity, asOf time.Time) bool {
	return closedStages[donation.Stage] && donation.CloseDate.Year() <= asOf.Year()
}

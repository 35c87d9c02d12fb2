package salesforce

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SalesforceDate is a custom date type for Salesforce's plain date
// fields.
type SalesforceDate struct {
	time.Time
}

// Equal reports whether two dates represent the same instant.
func (sd SalesforceDate) Equal(other SalesforceDate) bool {
	return sd.Time.Equal(other.Time)
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (sd *SalesforceDate) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return err
	}
	sd.Time = t
	return nil
}

// SOQLResponse is the top-level envelope for a SOQL query response.
// Records are kept raw; each query decodes them into its own record
// type.
type SOQLResponse struct {
	TotalSize      int               `json:"totalSize"`
	Done           bool              `json:"done"`
	NextRecordsURL string            `json:"nextRecordsUrl"`
	Records        []json.RawMessage `json:"records"`
}

// Account is a donor entity, the aggregate root for contacts and
// donations. Type is either "Household" or "Foundation".
type Account struct {
	ID            string
	Name          string
	Type          string
	Contacts      []Contact
	Opportunities []Opportunity
}

// Contact is a person associated with an Account.
type Contact struct {
	ID        string
	AccountID string
	Name      string
}

// Opportunity is a donation associated with an Account.
type Opportunity struct {
	ID        string
	AccountID string
	Amount    decimal.Decimal
	Stage     string
	CloseDate SalesforceDate
}

// RecordSet is the logically-complete result of a donor query: every
// matching Account with its Contacts and Opportunities attached.
type RecordSet struct {
	Accounts []Account
}

// DecodeError reports a record from the query API that does not match
// the expected shape. Either Field names the first required field found
// missing or null, or Err holds the underlying decoding failure.
type DecodeError struct {
	Object string
	Field  string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode %s record: required field %s missing or null", e.Object, e.Field)
	}
	return fmt.Sprintf("decode %s record: %v", e.Object, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// decodeAccount validates and decodes a raw query record into an
// Account.
func decodeAccount(data []byte) (Account, error) {
	var raw struct {
		ID   *string `json:"Id"`
		Name *string `json:"Name"`
		Type *string `json:"Type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Account{}, &DecodeError{Object: "Account", Err: err}
	}
	switch {
	case raw.ID == nil || *raw.ID == "":
		return Account{}, &DecodeError{Object: "Account", Field: "Id"}
	case raw.Name == nil || *raw.Name == "":
		return Account{}, &DecodeError{Object: "Account", Field: "Name"}
	case raw.Type == nil:
		return Account{}, &DecodeError{Object: "Account", Field: "Type"}
	}
	return Account{ID: *raw.ID, Name: *raw.Name, Type: *raw.Type}, nil
}

// decodeContact validates and decodes a raw query record into a Contact.
func decodeContact(data []byte) (Contact, error) {
	var raw struct {
		ID        *string `json:"Id"`
		AccountID *string `json:"AccountId"`
		Name      *string `json:"Name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Contact{}, &DecodeError{Object: "Contact", Err: err}
	}
	switch {
	case raw.ID == nil || *raw.ID == "":
		return Contact{}, &DecodeError{Object: "Contact", Field: "Id"}
	case raw.AccountID == nil || *raw.AccountID == "":
		return Contact{}, &DecodeError{Object: "Contact", Field: "AccountId"}
	case raw.Name == nil || *raw.Name == "":
		return Contact{}, &DecodeError{Object: "Contact", Field: "Name"}
	}
	return Contact{ID: *raw.ID, AccountID: *raw.AccountID, Name: *raw.Name}, nil
}

// decodeOpportunity validates and decodes a raw query record into an
// Opportunity.
func decodeOpportunity(data []byte) (Opportunity, error) {
	var raw struct {
		ID        *string          `json:"Id"`
		AccountID *string          `json:"AccountId"`
		Amount    *decimal.Decimal `json:"Amount"`
		Stage     *string          `json:"StageName"`
		CloseDate SalesforceDate   `json:"CloseDate"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Opportunity{}, &DecodeError{Object: "Opportunity", Err: err}
	}
	switch {
	case raw.ID == nil || *raw.ID == "":
		return Opportunity{}, &DecodeError{Object: "Opportunity", Field: "Id"}
	case raw.AccountID == nil || *raw.AccountID == "":
		return Opportunity{}, &DecodeError{Object: "Opportunity", Field: "AccountId"}
	case raw.Amount == nil:
		return Opportunity{}, &DecodeError{Object: "Opportunity", Field: "Amount"}
	case raw.Stage == nil || *raw.Stage == "":
		return Opportunity{}, &DecodeError{Object: "Opportunity", Field: "StageName"}
	case raw.CloseDate.IsZero():
		return Opportunity{}, &DecodeError{Object: "Opportunity", Field: "CloseDate"}
	}
	return Opportunity{
		ID:        *raw.ID,
		AccountID: *raw.AccountID,
		Amount:    *raw.Amount,
		Stage:     *raw.Stage,
		CloseDate: raw.CloseDate,
	}, nil
}

// newRecordSet attaches contacts and opportunities to their owning
// accounts. Records referencing an account outside the set cannot be
// displayed and are dropped; the returned count lets the caller report
// them.
func newRecordSet(accounts []Account, contacts []Contact, opportunities []Opportunity) (*RecordSet, int) {
	rs := &RecordSet{Accounts: make([]Account, len(accounts))}
	copy(rs.Accounts, accounts)

	byID := make(map[string]*Account, len(rs.Accounts))
	for i := range rs.Accounts {
		byID[rs.Accounts[i].ID] = &rs.Accounts[i]
	}

	var dropped int
	for _, contact := range contacts {
		account, ok := byID[contact.AccountID]
		if !ok {
			dropped++
			continue
		}
		account.Contacts = append(account.Contacts, contact)
	}
	for _, opportunity := range opportunities {
		account, ok := byID[opportunity.AccountID]
		if !ok {
			dropped++
			continue
		}
		account.Opportunities = append(account.Opportunities, opportunity)
	}
	return rs, dropped
}

// Package salesforce is a client for the donor data held in Salesforce:
// it authenticates with the SOAP login service and fetches accounts,
// contacts and donations over the REST query API, following pagination
// to completion so callers always see the full result set.
package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/go-querystring/query"
)

// The donor queries. Donations are restricted to positive amounts in
// the closed stages on Household and Foundation accounts; the account
// query fetches those account types whether or not they have donations.
const (
	soqlAccounts = `SELECT Id, Name, Type FROM Account ` +
		`WHERE Type IN ('Household', 'Foundation')`
	soqlContacts = `SELECT Id, AccountId, Name FROM Contact ` +
		`WHERE AccountId != NULL`
	soqlOpportunities = `SELECT Id, Amount, StageName, CloseDate, AccountId FROM Opportunity ` +
		`WHERE AccountId IN (SELECT Id FROM Account WHERE Type IN ('Household', 'Foundation')) ` +
		`AND StageName IN ('Closed Won', 'Invoiced', 'Pledged') ` +
		`AND Amount != NULL AND npsp__Primary_Contact__c != NULL AND Amount > 0`
)

// Client is a wrapper for making authenticated calls to the Salesforce
// API. Construct one with Login.
type Client struct {
	httpClient  *http.Client
	instanceURL string
	apiVersion  string
	log         *slog.Logger
}

// APIError is a fault reported by the Salesforce REST API, such as a
// malformed query, a rate limit or an expired password.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s: %s", e.StatusCode, e.Code, e.Message)
}

// QueryError reports a failed SOQL query, wrapping the service fault or
// transport error.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("soql query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// GetAccounts fetches every Household and Foundation account.
func (c *Client) GetAccounts(ctx context.Context) ([]Account, error) {
	raw, err := c.queryAll(ctx, soqlAccounts)
	if err != nil {
		return nil, err
	}
	accounts := make([]Account, 0, len(raw))
	for _, record := range raw {
		account, err := decodeAccount(record)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// GetContacts fetches every contact attached to an account.
func (c *Client) GetContacts(ctx context.Context) ([]Contact, error) {
	raw, err := c.queryAll(ctx, soqlContacts)
	if err != nil {
		return nil, err
	}
	contacts := make([]Contact, 0, len(raw))
	for _, record := range raw {
		contact, err := decodeContact(record)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}
	return contacts, nil
}

// GetOpportunities fetches the closed, positive donations on Household
// and Foundation accounts.
func (c *Client) GetOpportunities(ctx context.Context) ([]Opportunity, error) {
	raw, err := c.queryAll(ctx, soqlOpportunities)
	if err != nil {
		return nil, err
	}
	opportunities := make([]Opportunity, 0, len(raw))
	for _, record := range raw {
		opportunity, err := decodeOpportunity(record)
		if err != nil {
			return nil, err
		}
		opportunities = append(opportunities, opportunity)
	}
	return opportunities, nil
}

// FetchRecordSet runs the donor queries and assembles the complete
// record set: accounts with their contacts and opportunities attached.
func (c *Client) FetchRecordSet(ctx context.Context) (*RecordSet, error) {
	accounts, err := c.GetAccounts(ctx)
	if err != nil {
		return nil, err
	}
	contacts, err := c.GetContacts(ctx)
	if err != nil {
		return nil, err
	}
	opportunities, err := c.GetOpportunities(ctx)
	if err != nil {
		return nil, err
	}

	rs, dropped := newRecordSet(accounts, contacts, opportunities)
	if dropped > 0 {
		c.log.Warn(fmt.Sprintf("FetchRecordSet: dropped %d records referencing accounts outside the set", dropped))
	}
	c.log.Info(fmt.Sprintf("FetchRecordSet: %d accounts, %d contacts, %d donations",
		len(accounts), len(contacts), len(opportunities)))
	return rs, nil
}

// queryParams carries the SOQL statement for encoding onto the query
// URL.
type queryParams struct {
	Query string `url:"q"`
}

// queryAll runs a SOQL query and returns the raw records from all
// batches.
//
// Salesforce sobject queries provide at most 2000 records in a batch.
// Subsequent query paths are represented by response.NextRecordsURL. If
// there are no more records to retrieve this URL will be empty and
// response.Done will be true. See
// https://developer.salesforce.com/docs/atlas.en-us.api_rest.meta/api_rest/dome_query.htm
// and https://help.salesforce.com/s/articleView?id=000386264&type=1 for
// more info.
func (c *Client) queryAll(ctx context.Context, soql string) ([]json.RawMessage, error) {
	params, err := query.Values(queryParams{Query: soql})
	if err != nil {
		return nil, &QueryError{Query: soql, Err: fmt.Errorf("failed to encode query params: %w", err)}
	}

	// requestURL is the initial url.
	requestURL := fmt.Sprintf("%s/services/data/%s/query?%s", c.instanceURL, c.apiVersion, params.Encode())
	var records []json.RawMessage
	var pageNo int
	for {
		pageNo++
		c.log.Debug(fmt.Sprintf("queryAll: page %d: url %s", pageNo, requestURL))

		req, err := c.newRequest(ctx, "GET", requestURL)
		if err != nil {
			c.log.Error(fmt.Sprintf("queryAll: newRequest error pageNo %d: %v", pageNo, err))
			return nil, &QueryError{Query: soql, Err: fmt.Errorf("newRequest error pageNo %d: %w", pageNo, err)}
		}

		var response SOQLResponse
		if err := c.do(req, &response); err != nil {
			c.log.Error(fmt.Sprintf("queryAll: do error pageNo %d: %v", pageNo, err))
			return nil, &QueryError{Query: soql, Err: err}
		}
		records = append(records, response.Records...)
		if response.Done || response.NextRecordsURL == "" {
			break
		}
		requestURL, err = url.JoinPath(c.instanceURL, response.NextRecordsURL)
		if err != nil {
			c.log.Error(fmt.Sprintf("queryAll: url construction error for page %d: (%s) %v", pageNo+1, response.NextRecordsURL, err))
			return nil, &QueryError{Query: soql, Err: fmt.Errorf("url construction error for page %d: (%s) %w", pageNo+1, response.NextRecordsURL, err)}
		}
	}
	return records, nil
}

// newRequest is a helper to create a new HTTP request with common headers.
func (c *Client) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do is a helper to execute an HTTP request and decode the JSON
// response. Service faults are returned as an *APIError.
func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, body)
	}

	if v != nil {
		if err := json.Unmarshal(body, v); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// apiError builds an *APIError from a non-2xx response body. Salesforce
// reports REST faults as an array of error objects; an unparseable body
// is carried whole in the message.
func apiError(statusCode int, body []byte) *APIError {
	var faults []struct {
		Message   string `json:"message"`
		ErrorCode string `json:"errorCode"`
	}
	if err := json.Unmarshal(body, &faults); err != nil || len(faults) == 0 {
		return &APIError{StatusCode: statusCode, Message: string(body)}
	}
	return &APIError{
		StatusCode: statusCode,
		Code:       faults[0].ErrorCode,
		Message:    faults[0].Message,
	}
}

package salesforce

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/okwatch/donorwall/config"

	"golang.org/x/oauth2"
)

// SalesforceAPIVersionNumber sets out the currently supported
// Salesforce API used for this client.
const SalesforceAPIVersionNumber = "v65.0"

// loginEnvelope is the SOAP body for the partner API login call. The
// security token is appended to the password.
const loginEnvelope = `<?xml version="1.0" encoding="utf-8"?>
<env:Envelope xmlns:env="http://schemas.xmlsoap.org/soap/envelope/" xmlns:urn="urn:partner.soap.sforce.com">
  <env:Body>
    <urn:login>
      <urn:username>%s</urn:username>
      <urn:password>%s</urn:password>
    </urn:login>
  </env:Body>
</env:Envelope>`

// AuthenticationError reports a refused Salesforce login, carrying the
// SOAP fault code (e.g. INVALID_LOGIN) and message.
type AuthenticationError struct {
	Code    string
	Message string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("salesforce login failed: %s", e.Message)
}

// session is the result of a successful SOAP login.
type session struct {
	SessionID   string
	InstanceURL string
}

// Login authenticates to the Salesforce SOAP login service with a
// username, password and security token and returns a client bound to
// the user's instance. The session ID is carried on subsequent REST
// calls as a bearer token.
func Login(ctx context.Context, cfg config.SalesforceConfig, logger *slog.Logger) (*Client, error) {
	// Logger setup.
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(
			os.Stdout,
			&slog.HandlerOptions{Level: slog.LevelDebug},
		))
	}

	sess, err := soapLogin(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info(fmt.Sprintf("Login: authenticated %s to %s", cfg.Username, sess.InstanceURL))

	source := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: sess.SessionID,
		TokenType:   "Bearer",
	})
	return &Client{
		httpClient:  oauth2.NewClient(ctx, source),
		instanceURL: sess.InstanceURL,
		apiVersion:  SalesforceAPIVersionNumber,
		log:         logger,
	}, nil
}

// soapLogin posts the login envelope and extracts the session ID and
// instance URL from the response, or the fault from a refusal.
func soapLogin(ctx context.Context, cfg config.SalesforceConfig) (*session, error) {
	body := fmt.Sprintf(loginEnvelope,
		xmlEscape(cfg.Username),
		xmlEscape(cfg.Password+cfg.SecurityToken),
	)

	req, err := http.NewRequestWithContext(ctx, "POST", loginURL(cfg.LoginDomain), strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=UTF-8")
	req.Header.Set("SOAPAction", "login")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute login request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read login response: %w", err)
	}

	// A refused login comes back as a SOAP fault with a non-2xx status;
	// a success carries the result in a loginResponse element.
	var envelope struct {
		Body struct {
			Result struct {
				ServerURL string `xml:"serverUrl"`
				SessionID string `xml:"sessionId"`
			} `xml:"loginResponse>result"`
			Fault struct {
				Code    string `xml:"faultcode"`
				Message string `xml:"faultstring"`
			} `xml:"Fault"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("login failed (status %d): unparseable response: %w", resp.StatusCode, err)
	}

	if fault := envelope.Body.Fault; fault.Code != "" || fault.Message != "" {
		return nil, &AuthenticationError{
			Code:    trimNamespace(fault.Code),
			Message: fault.Message,
		}
	}

	result := envelope.Body.Result
	if result.SessionID == "" || result.ServerURL == "" {
		return nil, fmt.Errorf("login failed (status %d): response carries no session", resp.StatusCode)
	}

	// The serverUrl points at the SOAP endpoint on the user's instance;
	// only the scheme and host are kept for REST calls.
	serverURL, err := url.Parse(result.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse login serverUrl %q: %w", result.ServerURL, err)
	}

	return &session{
		SessionID:   result.SessionID,
		InstanceURL: fmt.Sprintf("%s://%s", serverURL.Scheme, serverURL.Host),
	}, nil
}

// loginURL builds the SOAP login endpoint for a login domain. A domain
// carrying a scheme is used as-is, which lets tests point at a local
// server.
func loginURL(domain string) string {
	version := strings.TrimPrefix(SalesforceAPIVersionNumber, "v")
	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return fmt.Sprintf("%s/services/Soap/u/%s", domain, version)
	}
	return fmt.Sprintf("https://%s/services/Soap/u/%s", domain, version)
}

// trimNamespace removes a namespace prefix from a fault code, turning
// "sf:INVALID_LOGIN" into "INVALID_LOGIN".
func trimNamespace(code string) string {
	if i := strings.Index(code, ":"); i >= 0 {
		return code[i+1:]
	}
	return code
}

// xmlEscape escapes a credential value for inclusion in the login
// envelope.
func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

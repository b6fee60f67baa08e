// Package relay implements maskmail.IdentityProvider and maskmail.AliasAPI
// against the relay service's HTTP endpoints. Payloads and tokens are treated
// as opaque passthrough: the client copies provider headers in and out of the
// session payload and never inspects token contents.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	maskmail "github.com/maskmail/go-maskmail"
)

const (
	headerClientID     = "X-Relay-Client-Id"
	headerSessionID    = "X-Relay-Session-Id"
	headerSessionToken = "X-Relay-Session-Token"
	headerTrustToken   = "X-Relay-Trust-Token"
	headerSCNT         = "scnt"
)

var (
	_ maskmail.IdentityProvider = (*Client)(nil)
	_ maskmail.AliasAPI         = (*Client)(nil)
)

// Option customizes Client construction.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client (useful for tests and
// custom transports).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger maskmail.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client talks to the relay provider endpoints.
type Client struct {
	baseURL  string
	clientID string
	http     *http.Client
	logger   maskmail.Logger
}

// New creates a provider client from configuration. A missing client id gets
// a generated one: the provider uses it to correlate the device across the
// sign-in exchanges.
func New(cfg maskmail.Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.GetBaseURL()), "/")
	if base == "" {
		return nil, goerrors.New("relay: base URL is required", goerrors.CategoryBadInput)
	}

	clientID := cfg.GetClientID()
	if clientID == "" {
		clientID = uuid.NewString()
	}

	c := &Client{
		baseURL:  base,
		clientID: clientID,
		http:     &http.Client{Timeout: cfg.GetRequestTimeout()},
		logger:   nopLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c, nil
}

type signInRequest struct {
	AccountName string `json:"accountName"`
	Password    string `json:"password"`
	RememberMe  bool   `json:"rememberMe"`
}

type securityCodeRequest struct {
	SecurityCode struct {
		Code string `json:"code"`
	} `json:"securityCode"`
}

type accountLoginResponse struct {
	AccountID string `json:"accountId"`
}

// SignIn implements maskmail.IdentityProvider.
func (c *Client) SignIn(ctx context.Context, identifier, password string) (maskmail.SessionData, error) {
	req := signInRequest{AccountName: identifier, Password: password, RememberMe: true}

	resp, err := c.do(ctx, http.MethodPost, "/auth/signin", maskmail.SessionData{}, req)
	if err != nil {
		return maskmail.SessionData{}, err
	}
	defer drain(resp)

	// 409 is the provider's "credentials accepted, second factor required"
	// continuation, not a failure.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return maskmail.SessionData{}, metaError(maskmail.ErrAuthenticationRejected, map[string]any{
				"status": resp.StatusCode,
			})
		}
		return maskmail.SessionData{}, c.unexpectedStatus("signin", resp.StatusCode)
	}

	return sessionFromHeaders(resp.Header), nil
}

// VerifySecurityCode implements maskmail.IdentityProvider.
func (c *Client) VerifySecurityCode(ctx context.Context, data maskmail.SessionData, code string) (maskmail.SessionData, error) {
	var req securityCodeRequest
	req.SecurityCode.Code = code

	resp, err := c.do(ctx, http.MethodPost, "/auth/verify/securitycode", data, req)
	if err != nil {
		return maskmail.SessionData{}, err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		return sessionFromHeaders(resp.Header), nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return maskmail.SessionData{}, metaError(maskmail.ErrVerificationRejected, map[string]any{
			"status": resp.StatusCode,
		})
	default:
		return maskmail.SessionData{}, c.unexpectedStatus("verify", resp.StatusCode)
	}
}

// TrustDevice implements maskmail.IdentityProvider.
func (c *Client) TrustDevice(ctx context.Context, data maskmail.SessionData) (maskmail.SessionData, error) {
	resp, err := c.do(ctx, http.MethodGet, "/auth/2sv/trust", data, nil)
	if err != nil {
		return maskmail.SessionData{}, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return maskmail.SessionData{}, c.unexpectedStatus("trust", resp.StatusCode)
	}

	return sessionFromHeaders(resp.Header), nil
}

// AccountLogin implements maskmail.IdentityProvider.
func (c *Client) AccountLogin(ctx context.Context, data maskmail.SessionData) (maskmail.SessionData, error) {
	resp, err := c.do(ctx, http.MethodPost, "/auth/accountLogin", data, struct{}{})
	if err != nil {
		return maskmail.SessionData{}, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return maskmail.SessionData{}, c.unexpectedStatus("accountLogin", resp.StatusCode)
	}

	var body accountLoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return maskmail.SessionData{}, goerrors.Wrap(err, goerrors.CategoryInternal, "relay: undecodable accountLogin response")
	}

	update := sessionFromHeaders(resp.Header)
	update.AccountID = body.AccountID
	return update, nil
}

// ValidateToken implements maskmail.IdentityProvider. Any non-success
// response means the session is no longer valid; callers treat that as an
// expected condition.
func (c *Client) ValidateToken(ctx context.Context, data maskmail.SessionData) error {
	resp, err := c.do(ctx, http.MethodGet, "/auth/validate", data, nil)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return metaError(maskmail.ErrSessionInvalid, map[string]any{
			"status": resp.StatusCode,
		})
	}

	return nil
}

// SignOut implements maskmail.IdentityProvider.
func (c *Client) SignOut(ctx context.Context, data maskmail.SessionData) error {
	resp, err := c.do(ctx, http.MethodPost, "/auth/signout", data, struct{}{})
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return c.unexpectedStatus("signout", resp.StatusCode)
	}

	return nil
}

// do builds, sends, and error-maps one provider request. Transport failures
// come back as ErrTransientNetwork so surfaces can offer a retry affordance.
func (c *Client) do(ctx context.Context, method, path string, data maskmail.SessionData, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "relay: failed to encode request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "relay: failed to build request")
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(headerClientID, c.clientID)
	applySessionHeaders(req.Header, data)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("relay request %s failed: %v", path, err)
		return nil, metaError(maskmail.ErrTransientNetwork, map[string]any{
			"path":  path,
			"cause": err.Error(),
		})
	}

	return resp, nil
}

// metaError attaches metadata to a copy of a shared sentinel. WithMetadata
// mutates its receiver; the copy keeps errors.Is matching through Source.
func metaError(sentinel *goerrors.Error, meta map[string]any) error {
	clone := sentinel.Clone()
	if clone == nil {
		return sentinel
	}
	clone.Source = sentinel
	return clone.WithMetadata(meta)
}

func (c *Client) unexpectedStatus(op string, status int) error {
	return goerrors.New(
		fmt.Sprintf("relay: %s returned unexpected status %d", op, status),
		goerrors.CategoryOperation,
	).WithMetadata(map[string]any{
		"op":     op,
		"status": status,
	})
}

func applySessionHeaders(h http.Header, data maskmail.SessionData) {
	if data.SessionID != "" {
		h.Set(headerSessionID, data.SessionID)
	}
	if data.SessionToken != "" {
		h.Set(headerSessionToken, data.SessionToken)
	}
	if data.TrustToken != "" {
		h.Set(headerTrustToken, data.TrustToken)
	}
	if data.SCNT != "" {
		h.Set(headerSCNT, data.SCNT)
	}
}

// sessionFromHeaders captures whichever provider headers the response
// rotated. Empty headers stay empty so Merge keeps the previous values.
func sessionFromHeaders(h http.Header) maskmail.SessionData {
	return maskmail.SessionData{
		SessionID:    h.Get(headerSessionID),
		SessionToken: h.Get(headerSessionToken),
		TrustToken:   h.Get(headerTrustToken),
		SCNT:         h.Get(headerSCNT),
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

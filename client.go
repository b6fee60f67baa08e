package maskmail

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// VerifyCodePayload is the second factor submission. Validation runs client
// side before any network call is attempted.
type VerifyCodePayload struct {
	Code string `json:"code"`
}

// Validate will run validation rules
func (p VerifyCodePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(
			&p.Code,
			validation.Required.Error(Msg2FACodeLength),
			validation.Length(6, 6).Error(Msg2FACodeLength),
			is.Digit.Error(Msg2FACodeLength),
		),
	)
}

// Client wraps a Session and exposes the authentication operations plus the
// generic authenticated request capability. One Client owns the in-memory
// session copy for its surface; the persisted copy is shared and reconciled
// through RefreshSession.
type Client struct {
	session  *Session
	provider IdentityProvider
	store    Store
	logger   Logger
	sink     ActivitySink
}

// NewClient returns a new Client bound to the given session
func NewClient(provider IdentityProvider, session *Session, store Store) *Client {
	return &Client{
		session:  session,
		provider: provider,
		store:    store,
		logger:   defLogger{},
		sink:     noopActivitySink{},
	}
}

func (c *Client) WithLogger(logger Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (c *Client) WithActivitySink(sink ActivitySink) *Client {
	c.sink = normalizeActivitySink(sink)
	return c
}

// Session exposes the bound session.
func (c *Client) Session() *Session {
	return c.session
}

// Authenticated reports whether the session carries the markers set only by a
// completed verification round trip.
func (c *Client) Authenticated() bool {
	return c.session.Authenticated()
}

// ValidateToken performs the lightweight validity probe against the provider.
// Failures are an expected condition (expired or revoked sessions), so they
// are reported, never escalated here, and the session payload is left alone:
// the caller owns the resulting sign-out and phase reset.
func (c *Client) ValidateToken(ctx context.Context) error {
	data := c.session.Data()
	if data.IsZero() {
		return ErrSessionNotPresent
	}

	if err := c.provider.ValidateToken(ctx, data); err != nil {
		c.logger.Debug("token validation failed: %v", err)
		return err
	}

	return nil
}

// RefreshSession re-reads the persisted payload and rebinds the in-memory
// session. This is the synchronization point after another execution context
// (the privileged sign-in component) wrote fresh SessionData; before calling
// it the local copy may be stale relative to storage.
func (c *Client) RefreshSession(ctx context.Context) error {
	data, _, err := c.store.Session(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read persisted session")
	}

	c.session.Rebind(data)
	c.emitEvent(ctx, ActivityEventSessionRefreshed, data.AccountID, nil)
	return nil
}

// Verify2FACode submits the second factor code and returns the updated
// payload without persisting it. Codes that are not exactly six digits are
// rejected locally; no network call is made.
func (c *Client) Verify2FACode(ctx context.Context, code string) (SessionData, error) {
	data := c.session.Data()

	if err := (VerifyCodePayload{Code: code}).Validate(); err != nil {
		return data, metaError(ErrVerificationRejected, map[string]any{
			"message": Msg2FACodeLength,
			"reason":  "client_side_validation",
		})
	}

	updated, err := c.provider.VerifySecurityCode(ctx, data, code)
	if err != nil {
		return data, err
	}

	return data.Merge(updated), nil
}

// TrustDevice marks the device as trusted. Called only after a successful
// Verify2FACode; the returned payload is not persisted.
func (c *Client) TrustDevice(ctx context.Context, data SessionData) (SessionData, error) {
	updated, err := c.provider.TrustDevice(ctx, data)
	if err != nil {
		return data, err
	}
	return data.Merge(updated), nil
}

// AccountLogin finalizes the authenticated session, setting the markers that
// make Authenticated true. Called only after TrustDevice.
func (c *Client) AccountLogin(ctx context.Context, data SessionData) (SessionData, error) {
	updated, err := c.provider.AccountLogin(ctx, data)
	if err != nil {
		return data, err
	}
	return data.Merge(updated), nil
}

// CompleteVerification runs the strict verify, trust, account-login sequence
// against a scratch copy of the session payload and commits exactly once at
// the end. Any failure aborts the sequence, persists nothing, and surfaces as
// a single verification failure: no partial trust state ever reaches storage.
func (c *Client) CompleteVerification(ctx context.Context, code string) error {
	before := c.session.Data()

	staged, err := c.Verify2FACode(ctx, code)
	if err != nil {
		c.emitEvent(ctx, ActivityEventVerificationFailure, before.AccountID, map[string]any{
			"step":  "verify",
			"error": err.Error(),
		})
		return err
	}

	staged, err = c.TrustDevice(ctx, staged)
	if err != nil {
		c.emitEvent(ctx, ActivityEventVerificationFailure, before.AccountID, map[string]any{
			"step":  "trust",
			"error": err.Error(),
		})
		return c.verificationFailure(err, "trust")
	}

	staged, err = c.AccountLogin(ctx, staged)
	if err != nil {
		c.emitEvent(ctx, ActivityEventVerificationFailure, before.AccountID, map[string]any{
			"step":  "login",
			"error": err.Error(),
		})
		return c.verificationFailure(err, "login")
	}

	if err := c.session.Set(staged); err != nil {
		return err
	}

	c.emitEvent(ctx, ActivityEventVerificationSuccess, staged.AccountID, nil)
	return nil
}

// LogOut invalidates the session server side on a best-effort basis and then
// clears the local payload unconditionally. Remote failure is logged and
// swallowed: sign-out must always succeed locally. Calling it twice yields
// the same empty payload as calling it once.
func (c *Client) LogOut(ctx context.Context) error {
	data := c.session.Data()

	if !data.IsZero() {
		if err := c.provider.SignOut(ctx, data); err != nil {
			c.logger.Warn("remote sign-out failed, clearing local session anyway: %v", err)
		}
	}

	if err := c.session.Clear(); err != nil {
		return err
	}

	c.emitEvent(ctx, ActivityEventSignOut, data.AccountID, nil)
	return nil
}

// Do runs fn with the current authenticated payload. It is the generic
// authenticated request gate: calls made while unauthenticated fail fast with
// ErrNotAuthenticated instead of retrying.
func (c *Client) Do(ctx context.Context, fn func(ctx context.Context, data SessionData) error) error {
	if !c.Authenticated() {
		return ErrNotAuthenticated
	}
	return fn(ctx, c.session.Data())
}

// verificationFailure collapses mid-sequence errors into the single
// verification failure the caller sees, keeping transient transport errors
// distinguishable for retry affordances.
func (c *Client) verificationFailure(err error, step string) error {
	if IsTransient(err) {
		return err
	}
	return metaError(ErrVerificationRejected, map[string]any{
		"step":  step,
		"cause": err.Error(),
	})
}

func (c *Client) emitEvent(ctx context.Context, eventType ActivityEventType, accountID string, metadata map[string]any) {
	sink := normalizeActivitySink(c.sink)
	event := ActivityEvent{
		EventType: eventType,
		AccountID: accountID,
		Metadata:  metadata,
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if err := sink.Record(ctx, event); err != nil {
		c.logger.Warn("activity sink record error: %v", err)
	}
}

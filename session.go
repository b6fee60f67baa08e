package maskmail

import (
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// SessionData is the opaque credential bag the identity provider needs to
// resume a session. Every field is provider-issued and passed back verbatim;
// the library never derives or reinterprets token contents.
//
// The zero value is the well-defined "no session" state used before any
// sign-in.
type SessionData struct {
	// SessionToken is the renewable token returned by a successful sign-in
	// exchange and rotated by subsequent calls.
	SessionToken string `json:"session_token,omitempty"`

	// SessionID identifies the provider-side session record.
	SessionID string `json:"session_id,omitempty"`

	// SCNT is the provider's per-exchange continuation counter header,
	// echoed on every authenticated call.
	SCNT string `json:"scnt,omitempty"`

	// TrustToken marks the device as trusted after second factor success,
	// extending session longevity.
	TrustToken string `json:"trust_token,omitempty"`

	// AccountID is the provider account identifier, set by the final
	// account-login step.
	AccountID string `json:"account_id,omitempty"`

	// AccountEmail is the account the session belongs to. Used locally to
	// namespace persisted state per account.
	AccountEmail string `json:"account_email,omitempty"`

	// UpdatedAt records the last mutation, informational only.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// IsZero reports whether the payload is the empty pre-sign-in value.
// UpdatedAt is ignored: a cleared record that still carries a timestamp is
// still "no session".
func (d SessionData) IsZero() bool {
	return d.SessionToken == "" &&
		d.SessionID == "" &&
		d.SCNT == "" &&
		d.TrustToken == "" &&
		d.AccountID == "" &&
		d.AccountEmail == ""
}

// Authenticated reports whether the payload carries the markers that are set
// only after the full verify, trust, account-login round trip.
func (d SessionData) Authenticated() bool {
	return d.SessionToken != "" && d.TrustToken != "" && d.AccountID != ""
}

// Equal compares two payloads field by field, ignoring UpdatedAt. Used by
// tests to assert that a failed verification sequence left the persisted
// payload untouched.
func (d SessionData) Equal(other SessionData) bool {
	return d.SessionToken == other.SessionToken &&
		d.SessionID == other.SessionID &&
		d.SCNT == other.SCNT &&
		d.TrustToken == other.TrustToken &&
		d.AccountID == other.AccountID &&
		d.AccountEmail == other.AccountEmail
}

// Merge returns a copy of d with every non-empty field of update applied.
// Providers rotate headers piecemeal, so responses rarely carry the full bag.
func (d SessionData) Merge(update SessionData) SessionData {
	out := d
	if update.SessionToken != "" {
		out.SessionToken = update.SessionToken
	}
	if update.SessionID != "" {
		out.SessionID = update.SessionID
	}
	if update.SCNT != "" {
		out.SCNT = update.SCNT
	}
	if update.TrustToken != "" {
		out.TrustToken = update.TrustToken
	}
	if update.AccountID != "" {
		out.AccountID = update.AccountID
	}
	if update.AccountEmail != "" {
		out.AccountEmail = update.AccountEmail
	}
	return out
}

// SessionOption customizes Session construction.
type SessionOption func(*Session)

// WithSessionChangeHandler sets the callback that persists every mutation.
// The callback runs before the in-memory copy is replaced; if it fails the
// mutation is abandoned.
func WithSessionChangeHandler(fn func(SessionData) error) SessionOption {
	return func(s *Session) {
		s.onChange = fn
	}
}

// WithSessionRefreshHandler sets the callback invoked after an external
// writer's payload was rebound into this session.
func WithSessionRefreshHandler(fn func(SessionData)) SessionOption {
	return func(s *Session) {
		s.onRefresh = fn
	}
}

// Session binds a SessionData payload to its persistence callback. The
// in-memory copy is owned by exactly one Client per surface; the persisted
// copy is shared and may move underneath us, which Rebind reconciles.
type Session struct {
	mu        sync.RWMutex
	data      SessionData
	onChange  func(SessionData) error
	onRefresh func(SessionData)
}

// NewSession creates a session around an initial payload, usually the one
// read back from the store at startup.
func NewSession(data SessionData, opts ...SessionOption) *Session {
	s := &Session{data: data}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Data returns a copy of the current payload.
func (s *Session) Data() SessionData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

// Present reports whether any session payload exists, authenticated or not.
func (s *Session) Present() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.data.IsZero()
}

// Authenticated reports whether the bound payload carries the verified
// session markers.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Authenticated()
}

// Set persists data through the change handler and, only on success,
// replaces the in-memory copy. Write-through ordering keeps the persisted
// record at least as fresh as what consumers observe in memory.
func (s *Session) Set(data SessionData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data.UpdatedAt = time.Now()

	if s.onChange != nil {
		if err := s.onChange(data); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist session payload")
		}
	}

	s.data = data
	return nil
}

// Clear persists and binds the empty payload. Clearing an already empty
// session is a no-op that still succeeds, which keeps sign-out idempotent.
func (s *Session) Clear() error {
	return s.Set(SessionData{})
}

// Rebind replaces the in-memory payload with one read from the store after an
// external writer changed it. It does not run the change handler: the store
// already holds this value.
func (s *Session) Rebind(data SessionData) {
	s.mu.Lock()
	s.data = data
	refresh := s.onRefresh
	s.mu.Unlock()

	if refresh != nil {
		refresh(data)
	}
}

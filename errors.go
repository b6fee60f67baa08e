package maskmail

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeTransientNetwork  = "TRANSIENT_NETWORK"
	textCodeAuthRejected      = "AUTHENTICATION_REJECTED"
	textCodeVerifyRejected    = "VERIFICATION_REJECTED"
	textCodeSessionInvalid    = "SESSION_INVALID"
	textCodeNotAuthenticated  = "NOT_AUTHENTICATED"
	textCodeActionInFlight    = "ACTION_IN_FLIGHT"
	textCodeSessionNotPresent = "SESSION_NOT_PRESENT"
)

// Msg2FACodeLength is the inline message shown when the submitted second
// factor code is not exactly six digits. No network call is made in that case.
const Msg2FACodeLength = "Please fill in all of the 6 digits of the code."

// ErrTransientNetwork marks provider calls that failed in transport. The user
// may retry by re-submitting; the library never retries silently.
var ErrTransientNetwork = goerrors.New("provider request failed", goerrors.CategoryOperation).
	WithTextCode(textCodeTransientNetwork)

// ErrAuthenticationRejected is returned for bad credentials or an expired
// session during sign-in. The phase is forced back to signed out.
var ErrAuthenticationRejected = goerrors.New("authentication rejected", goerrors.CategoryAuth).
	WithTextCode(textCodeAuthRejected)

// ErrVerificationRejected is returned for a short or rejected second factor
// code. The surface stays in the signed-in phase and the session payload is
// not touched.
var ErrVerificationRejected = goerrors.New("verification rejected", goerrors.CategoryValidation).
	WithTextCode(textCodeVerifyRejected)

// ErrSessionInvalid signals that the provider no longer accepts the persisted
// session. Unlike every other failure it escalates past the operation
// boundary into a forced sign-out and phase reset.
var ErrSessionInvalid = goerrors.New("session no longer valid", goerrors.CategoryAuth).
	WithTextCode(textCodeSessionInvalid)

// ErrNotAuthenticated is the fail-fast gate for alias operations attempted
// before verification completed.
var ErrNotAuthenticated = goerrors.New("not authenticated", goerrors.CategoryAuth).
	WithTextCode(textCodeNotAuthenticated)

// ErrActionInFlight is returned when an action slot already has an operation
// outstanding. Surfaces disable the affordance instead of queueing.
var ErrActionInFlight = goerrors.New("action already in flight", goerrors.CategoryConflict).
	WithTextCode(textCodeActionInFlight)

// ErrSessionNotPresent is returned by operations that need a session payload
// (even an unauthenticated one) when the store holds the empty value.
var ErrSessionNotPresent = goerrors.New("no session present", goerrors.CategoryBadInput).
	WithTextCode(textCodeSessionNotPresent)

// metaError attaches metadata to a copy of a shared sentinel. WithMetadata
// mutates its receiver, and the sentinels are package-level state returned
// from concurrent paths; the copy keeps errors.Is matching through Source.
func metaError(sentinel *goerrors.Error, meta map[string]any) error {
	clone := sentinel.Clone()
	if clone == nil {
		return sentinel
	}
	clone.Source = sentinel
	return clone.WithMetadata(meta)
}

// IsSessionInvalid reports whether err carries the session invalidity signal.
func IsSessionInvalid(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrSessionInvalid)
}

// IsVerificationRejected reports whether err is a second factor rejection,
// either client-side (length) or provider-side.
func IsVerificationRejected(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrVerificationRejected)
}

// IsTransient reports whether err is a retryable transport failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransientNetwork)
}

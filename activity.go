package maskmail

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventPhaseChanged        ActivityEventType = "auth.phase.changed"
	ActivityEventSignInSuccess       ActivityEventType = "auth.signin.success"
	ActivityEventSignInFailure       ActivityEventType = "auth.signin.failure"
	ActivityEventVerificationSuccess ActivityEventType = "auth.verification.success"
	ActivityEventVerificationFailure ActivityEventType = "auth.verification.failure"
	ActivityEventSignOut             ActivityEventType = "auth.signout"
	ActivityEventSessionInvalidated  ActivityEventType = "auth.session.invalidated"
	ActivityEventSessionRefreshed    ActivityEventType = "auth.session.refreshed"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	AccountID  string
	FromPhase  Phase
	ToPhase    Phase
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

package maskmail

import (
	"context"

	"github.com/goliatone/hashid/pkg/hashid"
)

// StoreKey names one of the two independently persisted values.
type StoreKey string

const (
	// StoreKeyPhase is the persisted Phase.
	StoreKeyPhase StoreKey = "phase"

	// StoreKeySession is the persisted SessionData payload.
	StoreKeySession StoreKey = "session"
)

// StoreEvent notifies watchers that a persisted value changed. Revision is a
// per-key monotonically increasing fence: watchers drop events older than the
// last revision they observed, so a slow stale write cannot clobber a faster
// fresh one. The reconciliation policy between surfaces is last-writer-wins.
type StoreEvent struct {
	Key      StoreKey
	Phase    Phase
	Session  SessionData
	Revision uint64
}

// Store persists the phase and the session payload as two independent keys
// and notifies watchers on change, including changes made by other execution
// contexts where the backend supports it.
//
// Writes must be atomic per key and assign revisions in commit order. Reads
// return the zero value plus revision 0 before the first write.
type Store interface {
	Phase(ctx context.Context) (Phase, uint64, error)
	SetPhase(ctx context.Context, phase Phase) (uint64, error)

	Session(ctx context.Context) (SessionData, uint64, error)
	SetSession(ctx context.Context, data SessionData) (uint64, error)

	// Watch delivers change events until ctx is done or the returned stop
	// function runs. Implementations may coalesce but must never reorder
	// events for the same key.
	Watch(ctx context.Context) (<-chan StoreEvent, func(), error)
}

// StoreNamespace derives a stable storage namespace from the account email so
// two accounts on one machine never share persisted state. Falls back to the
// raw input when derivation fails.
func StoreNamespace(accountEmail string) string {
	if accountEmail == "" {
		return "default"
	}

	if id, err := hashid.NewUUID(accountEmail); err == nil {
		return id.String()
	}

	return accountEmail
}

// Package memory provides the in-process Store used as the default backend
// and in tests. Change notification only reaches watchers in the same
// process.
package memory

import (
	"context"
	"sync"

	maskmail "github.com/maskmail/go-maskmail"
)

var _ maskmail.Store = (*Store)(nil)

// Store keeps both persisted values in memory with per-key revisions.
type Store struct {
	mu         sync.Mutex
	phase      maskmail.Phase
	phaseRev   uint64
	session    maskmail.SessionData
	sessionRev uint64

	nextWatcher int
	watchers    map[int]chan maskmail.StoreEvent
}

// New returns an empty store: signed-out phase, zero session, revision 0.
func New() *Store {
	return &Store{
		phase:    maskmail.PhaseSignedOut,
		watchers: map[int]chan maskmail.StoreEvent{},
	}
}

// Phase implements maskmail.Store.
func (s *Store) Phase(ctx context.Context) (maskmail.Phase, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase, s.phaseRev, nil
}

// SetPhase implements maskmail.Store.
func (s *Store) SetPhase(ctx context.Context, phase maskmail.Phase) (uint64, error) {
	s.mu.Lock()
	s.phase = phase
	s.phaseRev++
	rev := s.phaseRev
	event := maskmail.StoreEvent{
		Key:      maskmail.StoreKeyPhase,
		Phase:    phase,
		Revision: rev,
	}
	s.notifyLocked(event)
	s.mu.Unlock()
	return rev, nil
}

// Session implements maskmail.Store.
func (s *Store) Session(ctx context.Context) (maskmail.SessionData, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, s.sessionRev, nil
}

// SetSession implements maskmail.Store.
func (s *Store) SetSession(ctx context.Context, data maskmail.SessionData) (uint64, error) {
	s.mu.Lock()
	s.session = data
	s.sessionRev++
	rev := s.sessionRev
	event := maskmail.StoreEvent{
		Key:      maskmail.StoreKeySession,
		Session:  data,
		Revision: rev,
	}
	s.notifyLocked(event)
	s.mu.Unlock()
	return rev, nil
}

// Watch implements maskmail.Store. Events are delivered on a buffered channel;
// a watcher that falls far enough behind loses intermediate events but never
// sees them out of order, and the revision fence lets it detect the gap.
func (s *Store) Watch(ctx context.Context) (<-chan maskmail.StoreEvent, func(), error) {
	ch := make(chan maskmail.StoreEvent, 16)

	s.mu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
			close(ch)
		})
	}

	go func() {
		<-ctx.Done()
		stop()
	}()

	return ch, stop, nil
}

func (s *Store) notifyLocked(event maskmail.StoreEvent) {
	for _, ch := range s.watchers {
		select {
		case ch <- event:
		default:
		}
	}
}

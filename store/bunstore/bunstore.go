// Package bunstore persists the phase and session payload in a SQLite table
// through Bun. It suits single-process embedders that want state to survive
// restarts without running Redis; change notification is in-process only, so
// two OS processes sharing the same database file still reconcile through
// revalidation-on-activate rather than watch events.
package bunstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	maskmail "github.com/maskmail/go-maskmail"
)

var _ maskmail.Store = (*Store)(nil)

type record struct {
	bun.BaseModel `bun:"table:maskmail_state,alias:ms"`

	Key       string    `bun:"key,pk"`
	Value     string    `bun:"value,notnull"`
	Revision  uint64    `bun:"revision,notnull,default:0"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// Store is a Bun backed maskmail.Store.
type Store struct {
	db        *bun.DB
	namespace string

	mu          sync.Mutex
	nextWatcher int
	watchers    map[int]chan maskmail.StoreEvent
}

// Open creates a store over a SQLite database at path. Use ":memory:" for
// throwaway state.
func Open(path, namespace string) (*Store, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, fmt.Sprintf("file:%s?cache=shared", path))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open state database")
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())
	return New(db, namespace), nil
}

// New wraps an existing Bun handle.
func New(db *bun.DB, namespace string) *Store {
	if namespace == "" {
		namespace = "default"
	}
	return &Store{
		db:        db,
		namespace: namespace,
		watchers:  map[int]chan maskmail.StoreEvent{},
	}
}

// Init creates the backing table when missing.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*record)(nil)).IfNotExists().Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create state table")
	}
	return nil
}

func (s *Store) rowKey(k maskmail.StoreKey) string {
	return s.namespace + ":" + string(k)
}

// Phase implements maskmail.Store.
func (s *Store) Phase(ctx context.Context) (maskmail.Phase, uint64, error) {
	value, rev, err := s.get(ctx, maskmail.StoreKeyPhase)
	if err != nil {
		return maskmail.PhaseSignedOut, 0, err
	}
	if value == "" {
		return maskmail.PhaseSignedOut, rev, nil
	}
	return maskmail.Phase(value), rev, nil
}

// SetPhase implements maskmail.Store.
func (s *Store) SetPhase(ctx context.Context, phase maskmail.Phase) (uint64, error) {
	rev, err := s.set(ctx, maskmail.StoreKeyPhase, string(phase))
	if err != nil {
		return 0, err
	}

	s.notify(maskmail.StoreEvent{
		Key:      maskmail.StoreKeyPhase,
		Phase:    phase,
		Revision: rev,
	})
	return rev, nil
}

// Session implements maskmail.Store.
func (s *Store) Session(ctx context.Context) (maskmail.SessionData, uint64, error) {
	value, rev, err := s.get(ctx, maskmail.StoreKeySession)
	if err != nil {
		return maskmail.SessionData{}, 0, err
	}
	if value == "" {
		return maskmail.SessionData{}, rev, nil
	}

	var data maskmail.SessionData
	if err := json.Unmarshal([]byte(value), &data); err != nil {
		return maskmail.SessionData{}, 0, goerrors.Wrap(err, goerrors.CategoryInternal, "corrupt persisted session payload")
	}
	return data, rev, nil
}

// SetSession implements maskmail.Store.
func (s *Store) SetSession(ctx context.Context, data maskmail.SessionData) (uint64, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode session payload")
	}

	rev, err := s.set(ctx, maskmail.StoreKeySession, string(payload))
	if err != nil {
		return 0, err
	}

	s.notify(maskmail.StoreEvent{
		Key:      maskmail.StoreKeySession,
		Session:  data,
		Revision: rev,
	})
	return rev, nil
}

// Watch implements maskmail.Store. Only writes made through this Store value
// are observable; see the package comment.
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

func (s *Store) get(ctx context.Context, key maskmail.StoreKey) (string, uint64, error) {
	rec := new(record)
	err := s.db.NewSelect().Model(rec).Where("key = ?", s.rowKey(key)).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, nil
		}
		return "", 0, goerrors.Wrap(err, goerrors.CategoryOperation, "state read failed")
	}
	return rec.Value, rec.Revision, nil
}

func (s *Store) set(ctx context.Context, key maskmail.StoreKey, value string) (uint64, error) {
	var rev uint64

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		rec := new(record)
		err := tx.NewSelect().Model(rec).Where("key = ?", s.rowKey(key)).Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		rev = rec.Revision + 1
		next := &record{
			Key:       s.rowKey(key),
			Value:     value,
			Revision:  rev,
			UpdatedAt: time.Now(),
		}

		_, err = tx.NewInsert().
			Model(next).
			On("CONFLICT (key) DO UPDATE").
			Set("value = EXCLUDED.value").
			Set("revision = EXCLUDED.revision").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		return err
	})
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryOperation, "state write failed")
	}

	return rev, nil
}

func (s *Store) notify(event maskmail.StoreEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- event:
		default:
		}
	}
}

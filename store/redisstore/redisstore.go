// Package redisstore persists the phase and session payload in Redis and
// broadcasts changes over pub/sub, which makes it the backend of choice when
// several execution contexts (a UI surface plus a privileged background
// component) share one session record. Reconciliation between writers is
// last-writer-wins; every write is fenced with a monotonically increasing
// revision taken from a Redis counter.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"

	maskmail "github.com/maskmail/go-maskmail"
)

var _ maskmail.Store = (*Store)(nil)

// setValueScript bumps the revision counter, stores the value, and publishes
// the change event in one atomic step so subscribers can never observe a
// revision without its value being durable.
const setValueScript = `
local rev = redis.call("INCR", KEYS[2])
redis.call("SET", KEYS[1], ARGV[1])
redis.call("PUBLISH", ARGV[2], cjson.encode({key = ARGV[3], revision = rev, value = ARGV[1]}))
return rev
`

var setValueLua = redis.NewScript(setValueScript)

type wireEvent struct {
	Key      string `json:"key"`
	Revision uint64 `json:"revision"`
	Value    string `json:"value"`
}

// Option customizes Store construction.
type Option func(*Store)

// WithLogger overrides the logger used for subscription failures.
func WithLogger(logger maskmail.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store is a Redis backed maskmail.Store.
type Store struct {
	client    *redis.Client
	namespace string
	logger    maskmail.Logger
}

// New wraps an existing Redis client. The namespace keeps two accounts on the
// same machine from sharing persisted state; derive it with
// maskmail.StoreNamespace.
func New(client *redis.Client, namespace string, opts ...Option) *Store {
	if namespace == "" {
		namespace = "default"
	}

	s := &Store{
		client:    client,
		namespace: namespace,
		logger:    nopLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

func (s *Store) key(k maskmail.StoreKey) string {
	return fmt.Sprintf("maskmail:%s:%s", s.namespace, k)
}

func (s *Store) revKey(k maskmail.StoreKey) string {
	return fmt.Sprintf("maskmail:%s:%s:rev", s.namespace, k)
}

func (s *Store) channel() string {
	return fmt.Sprintf("maskmail:%s:events", s.namespace)
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
	return s.set(ctx, maskmail.StoreKeyPhase, string(phase))
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
	return s.set(ctx, maskmail.StoreKeySession, string(payload))
}

// Watch implements maskmail.Store via Redis pub/sub: writes from any process
// sharing the namespace are observable without polling.
func (s *Store) Watch(ctx context.Context) (<-chan maskmail.StoreEvent, func(), error) {
	pubsub := s.client.Subscribe(ctx, s.channel())

	// Force the subscription onto the wire before we report readiness.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to subscribe to store events")
	}

	out := make(chan maskmail.StoreEvent, 16)
	stop := func() {
		_ = pubsub.Close()
	}

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			event, err := s.decodeEvent(msg.Payload)
			if err != nil {
				s.logger.Warn("dropping undecodable store event: %v", err)
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, stop, nil
}

func (s *Store) decodeEvent(payload string) (maskmail.StoreEvent, error) {
	var wire wireEvent
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return maskmail.StoreEvent{}, err
	}

	event := maskmail.StoreEvent{
		Key:      maskmail.StoreKey(wire.Key),
		Revision: wire.Revision,
	}

	switch event.Key {
	case maskmail.StoreKeyPhase:
		event.Phase = maskmail.Phase(wire.Value)
	case maskmail.StoreKeySession:
		if wire.Value != "" {
			if err := json.Unmarshal([]byte(wire.Value), &event.Session); err != nil {
				return maskmail.StoreEvent{}, err
			}
		}
	default:
		return maskmail.StoreEvent{}, fmt.Errorf("unknown store key %q", wire.Key)
	}

	return event, nil
}

func (s *Store) get(ctx context.Context, key maskmail.StoreKey) (string, uint64, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", 0, goerrors.Wrap(err, goerrors.CategoryOperation, "redis read failed")
	}

	rev, err := s.client.Get(ctx, s.revKey(key)).Uint64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", 0, goerrors.Wrap(err, goerrors.CategoryOperation, "redis revision read failed")
	}

	return value, rev, nil
}

func (s *Store) set(ctx context.Context, key maskmail.StoreKey, value string) (uint64, error) {
	rev, err := setValueLua.Run(
		ctx,
		s.client,
		[]string{s.key(key), s.revKey(key)},
		value,
		s.channel(),
		string(key),
	).Int64()
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryOperation, "redis write failed")
	}
	return uint64(rev), nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

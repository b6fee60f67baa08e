package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	maskmail "github.com/maskmail/go-maskmail"
	"github.com/maskmail/go-maskmail/store/redisstore"
)

func newTestStore(t *testing.T) *redisstore.Store {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return redisstore.New(client, "test-ns")
}

func TestStoreDefaultsBeforeFirstWrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	phase, rev, err := store.Phase(ctx)
	require.NoError(t, err)
	assert.Equal(t, maskmail.PhaseSignedOut, phase)
	assert.Equal(t, uint64(0), rev)

	data, rev, err := store.Session(ctx)
	require.NoError(t, err)
	assert.True(t, data.IsZero())
	assert.Equal(t, uint64(0), rev)
}

func TestStorePhaseRoundTripWithRevisions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rev1, err := store.SetPhase(ctx, maskmail.PhaseSignedIn)
	require.NoError(t, err)
	rev2, err := store.SetPhase(ctx, maskmail.PhaseVerified)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rev1)
	assert.Equal(t, uint64(2), rev2)

	phase, rev, err := store.Phase(ctx)
	require.NoError(t, err)
	assert.Equal(t, maskmail.PhaseVerified, phase)
	assert.Equal(t, uint64(2), rev)
}

func TestStoreSessionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	payload := maskmail.SessionData{
		SessionToken: "tok-1",
		SessionID:    "sid-1",
		SCNT:         "1",
		TrustToken:   "trust-1",
		AccountID:    "acct-1",
		AccountEmail: "user@example.com",
	}

	rev, err := store.SetSession(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rev)

	got, gotRev, err := store.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, rev, gotRev)
	assert.True(t, got.Equal(payload))
}

func TestStoreSessionAndPhaseRevisionsAreIndependent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.SetPhase(ctx, maskmail.PhaseSignedIn)
	require.NoError(t, err)
	_, err = store.SetPhase(ctx, maskmail.PhaseVerified)
	require.NoError(t, err)

	rev, err := store.SetSession(ctx, maskmail.SessionData{SessionToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rev)
}

func TestStoreWatchObservesWrites(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, stop, err := store.Watch(ctx)
	require.NoError(t, err)
	defer stop()

	_, err = store.SetPhase(ctx, maskmail.PhaseSignedIn)
	require.NoError(t, err)

	select {
	case event := <-events:
		assert.Equal(t, maskmail.StoreKeyPhase, event.Key)
		assert.Equal(t, maskmail.PhaseSignedIn, event.Phase)
		assert.Equal(t, uint64(1), event.Revision)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for store event")
	}

	_, err = store.SetSession(ctx, maskmail.SessionData{SessionToken: "tok-1"})
	require.NoError(t, err)

	select {
	case event := <-events:
		assert.Equal(t, maskmail.StoreKeySession, event.Key)
		assert.Equal(t, "tok-1", event.Session.SessionToken)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session event")
	}
}

func TestStoreNamespacesDoNotCollide(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	a := redisstore.New(client, "account-a")
	b := redisstore.New(client, "account-b")
	ctx := context.Background()

	_, err = a.SetPhase(ctx, maskmail.PhaseVerified)
	require.NoError(t, err)

	phase, rev, err := b.Phase(ctx)
	require.NoError(t, err)
	assert.Equal(t, maskmail.PhaseSignedOut, phase)
	assert.Equal(t, uint64(0), rev)
}

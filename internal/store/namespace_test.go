package store

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/lordvitaly/lvchat/pkg/metrics"
)

func TestNamespaceAppliesPolicy(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ns, err := NewNamespace(s, Policy{Name: "init", TTL: time.Hour, StampValue: true})
	require.NoError(t, err)
	ctx := context.Background()

	rec, err := ns.Put(ctx, "session", []byte(`{"user_id":"u1"}`))
	require.NoError(t, err)
	require.Equal(t, clock.Now().Add(time.Hour).Unix(), rec.ExpiresAt.Unix())
	require.JSONEq(t, `{"user_id":"u1","created_at":1700000000,"expires_at":1700003600}`, string(rec.Value))

	got, err := ns.Get(ctx, "session")
	require.NoError(t, err)
	require.Equal(t, string(rec.Value), string(got.Value))

	keys, err := ns.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"session"}, keys)

	require.NoError(t, ns.Delete(ctx, "session"))
	_, err = ns.Get(ctx, "session")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNamespacePreWriteSweepIsThrottled(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ns, err := NewNamespace(s, Policy{Name: "blobs", TTL: time.Minute, SweepInterval: time.Hour})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Put(ctx, "blobs", "stale-1", []byte(`1`), time.Second)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	before := testutil.ToFloat64(metrics.SweepRemoved.WithLabelValues("blobs", TriggerWrite))

	_, err = ns.Put(ctx, "fresh-1", []byte(`2`))
	require.NoError(t, err)
	ns.Wait()
	require.Equal(t, before+1, testutil.ToFloat64(metrics.SweepRemoved.WithLabelValues("blobs", TriggerWrite)))

	_, err = s.Put(ctx, "blobs", "stale-2", []byte(`1`), time.Second)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	_, err = ns.Put(ctx, "fresh-2", []byte(`3`))
	require.NoError(t, err)
	ns.Wait()

	s.mu.RLock()
	_, stillThere := s.spaces["blobs"]["stale-2"]
	s.mu.RUnlock()
	require.True(t, stillThere, "second write within the interval must not sweep")

	require.Equal(t, 1, ns.Sweep(ctx, TriggerCron))
}

func TestNamespaceWithoutSweepIntervalNeverSweepsOnWrite(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ns, err := NewNamespace(s, Policy{Name: "characters"})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Put(ctx, "characters", "old", []byte(`1`), time.Second)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	_, err = ns.Put(ctx, "new", []byte(`{}`))
	require.NoError(t, err)
	ns.Wait()

	s.mu.RLock()
	_, ok := s.spaces["characters"]["old"]
	s.mu.RUnlock()
	require.True(t, ok)
}

func TestNamespaceCountsOperations(t *testing.T) {
	ns, err := NewNamespace(NewMemoryStore(), Policy{Name: "settings"})
	require.NoError(t, err)
	ctx := context.Background()

	counter := metrics.StoreOperations.WithLabelValues("settings", "get", "not_found")
	before := testutil.ToFloat64(counter)
	_, err = ns.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestNewNamespaceValidates(t *testing.T) {
	_, err := NewNamespace(nil, Policy{Name: "init"})
	require.Error(t, err)

	_, err = NewNamespace(NewMemoryStore(), Policy{Name: "Bad Name"})
	require.Error(t, err)
}

func TestResultLabel(t *testing.T) {
	require.Equal(t, "ok", resultLabel(nil))
	require.Equal(t, "expired", resultLabel(ErrExpired))
	require.Equal(t, "invalid", resultLabel(ErrInvalidValue))
	require.Equal(t, "error", resultLabel(context.Canceled))
}

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"

	"github.com/lordvitaly/lvchat/internal/database/testutil"
	"github.com/lordvitaly/lvchat/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type backendFactory func(t *testing.T, clock *fakeClock) Store

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		"memory": func(t *testing.T, clock *fakeClock) Store {
			return NewMemoryStore(WithClock(clock.Now), WithEmbeddedExpiry("init"))
		},
		"file": func(t *testing.T, clock *fakeClock) Store {
			s, err := NewFileStore(t.TempDir(), WithClock(clock.Now), WithEmbeddedExpiry("init"))
			require.NoError(t, err)
			return s
		},
		"bolt": func(t *testing.T, clock *fakeClock) Store {
			s, err := OpenBolt(filepath.Join(t.TempDir(), "store.bolt"), WithClock(clock.Now), WithEmbeddedExpiry("init"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"database": func(t *testing.T, clock *fakeClock) Store {
			db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
			s, err := NewDatabaseStore(db, WithClock(clock.Now), WithEmbeddedExpiry("init"))
			require.NoError(t, err)
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store, clock *fakeClock)) {
	for name, factory := range backends() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			fn(t, factory(t, clock), clock)
		})
	}
}

func TestStoreRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		value := []byte(`{"a":1,"nested":{"b":[true,null,"x"]}}`)

		put, err := s.Put(ctx, "blobs", "k1", value, time.Hour)
		require.NoError(t, err)
		require.Equal(t, clock.Now().Unix(), put.CreatedAt.Unix())
		require.Equal(t, clock.Now().Add(time.Hour).Unix(), put.ExpiresAt.Unix())

		got, err := s.Get(ctx, "blobs", "k1")
		require.NoError(t, err)
		require.Equal(t, string(value), string(got.Value))
		require.Equal(t, "k1", got.Key)
		require.Equal(t, put.CreatedAt.Unix(), got.CreatedAt.Unix())
		require.Equal(t, put.ExpiresAt.Unix(), got.ExpiresAt.Unix())
	})
}

func TestStoreNoExpiryNeverExpires(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()

		rec, err := s.Put(ctx, "characters", "Capitano_default", []byte(`{"name":"Capitano"}`), NoExpiry)
		require.NoError(t, err)
		require.True(t, rec.ExpiresAt.IsZero())

		clock.Advance(365 * 24 * time.Hour)
		_, err = s.Get(ctx, "characters", "Capitano_default")
		require.NoError(t, err)
		require.Zero(t, s.Sweep(ctx, "characters", time.Hour))
	})
}

func TestStoreExpiredOnceThenNotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()

		_, err := s.Put(ctx, "init", "session", []byte(`{"x":1}`), time.Second)
		require.NoError(t, err)

		clock.Advance(time.Second)
		_, err = s.Get(ctx, "init", "session")
		require.NoError(t, err, "a record is live up to and including its expiry second")

		clock.Advance(time.Second)
		_, err = s.Get(ctx, "init", "session")
		require.ErrorIs(t, err, ErrExpired)

		_, err = s.Get(ctx, "init", "session")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreOverwrite(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()

		_, err := s.Put(ctx, "settings", "settings_default", []byte(`{"v":1}`), time.Second)
		require.NoError(t, err)
		clock.Advance(10 * time.Second)
		_, err = s.Put(ctx, "settings", "settings_default", []byte(`{"v":2}`), NoExpiry)
		require.NoError(t, err)

		got, err := s.Get(ctx, "settings", "settings_default")
		require.NoError(t, err)
		require.JSONEq(t, `{"v":2}`, string(got.Value))
		require.True(t, got.ExpiresAt.IsZero())
	})
}

func TestStoreSweepIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			_, err := s.Put(ctx, "blobs", fmt.Sprintf("old-%d", i), []byte(`1`), time.Minute)
			require.NoError(t, err)
		}
		_, err := s.Put(ctx, "blobs", "fresh", []byte(`2`), time.Hour)
		require.NoError(t, err)

		clock.Advance(2 * time.Minute)
		require.Equal(t, 3, s.Sweep(ctx, "blobs", time.Minute))
		require.Zero(t, s.Sweep(ctx, "blobs", time.Minute))

		keys, err := s.Keys(ctx, "blobs")
		require.NoError(t, err)
		require.Equal(t, []string{"fresh"}, keys)
	})
}

func TestStoreNamespaceIsolation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()

		_, err := s.Put(ctx, "init", "shared", []byte(`"init"`), time.Minute)
		require.NoError(t, err)
		_, err = s.Put(ctx, "blobs", "shared", []byte(`"blobs"`), time.Hour)
		require.NoError(t, err)

		clock.Advance(2 * time.Minute)
		require.Equal(t, 1, s.Sweep(ctx, "init", time.Minute))

		_, err = s.Get(ctx, "init", "shared")
		require.ErrorIs(t, err, ErrNotFound)
		got, err := s.Get(ctx, "blobs", "shared")
		require.NoError(t, err)
		require.Equal(t, `"blobs"`, string(got.Value))
	})
}

func TestStoreDeleteAndKeys(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()

		keys, err := s.Keys(ctx, "characters")
		require.NoError(t, err)
		require.Empty(t, keys)

		for _, key := range []string{"Роберт_default", "AI_Assistant_default", "Цзин Юань_default"} {
			_, err := s.Put(ctx, "characters", key, []byte(`{}`), NoExpiry)
			require.NoError(t, err)
		}
		_, err = s.Put(ctx, "characters", "temp_default", []byte(`{}`), time.Second)
		require.NoError(t, err)
		clock.Advance(5 * time.Second)

		keys, err = s.Keys(ctx, "characters")
		require.NoError(t, err)
		require.Equal(t, []string{"AI_Assistant_default", "Роберт_default", "Цзин Юань_default"}, keys)

		require.NoError(t, s.Delete(ctx, "characters", "Роберт_default"))
		require.NoError(t, s.Delete(ctx, "characters", "Роберт_default"))
		_, err = s.Get(ctx, "characters", "Роберт_default")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreRejectsInvalidInput(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()

		_, err := s.Put(ctx, "blobs", "", []byte(`{}`), time.Hour)
		require.ErrorIs(t, err, ErrInvalidKey)

		_, err = s.Put(ctx, "blobs", "bad\x00key", []byte(`{}`), time.Hour)
		require.ErrorIs(t, err, ErrInvalidKey)

		_, err = s.Put(ctx, "blobs", "k", []byte(`{not json`), time.Hour)
		require.ErrorIs(t, err, ErrInvalidValue)

		_, err = s.Get(ctx, "blobs", "")
		require.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestStoreEmbeddedExpiryIsHonoured(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		expires := clock.Now().Add(30 * time.Second).Unix()
		value := []byte(fmt.Sprintf(`{"meta":{"expires_at":%d},"v":1}`, expires))

		rec, err := s.Put(ctx, "init", "self-managed", value, NoExpiry)
		require.NoError(t, err)
		require.Equal(t, expires, rec.ExpiresAt.Unix())

		clock.Advance(time.Minute)
		_, err = s.Get(ctx, "init", "self-managed")
		require.ErrorIs(t, err, ErrExpired)
	})
}

func TestStoreEmbeddedExpiryIgnoredElsewhere(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		expires := clock.Now().Add(time.Second).Unix()
		value := []byte(fmt.Sprintf(`{"theme":"dark","expires_at":%d,"meta":{"expires_at":%d}}`, expires, expires))

		rec, err := s.Put(ctx, "settings", "u1", value, NoExpiry)
		require.NoError(t, err)
		require.True(t, rec.ExpiresAt.IsZero())

		clock.Advance(time.Hour)
		require.Zero(t, s.Sweep(ctx, "settings", time.Minute))

		got, err := s.Get(ctx, "settings", "u1")
		require.NoError(t, err)
		require.Equal(t, string(value), string(got.Value))

		keys, err := s.Keys(ctx, "settings")
		require.NoError(t, err)
		require.Equal(t, []string{"u1"}, keys)
	})
}

func TestStoreKeepsValueBytes(t *testing.T) {
	values := map[string]string{
		"whitespace": "{\"b\": 2,  \"a\": [1, 2]}",
		"key-order":  `{"z":1,"a":{"y":2,"b":3}}`,
		"indented":   "{\n\t\"name\": \"Цзин Юань\",\n\t\"tags\": [ \"a\", \"b\" ]\n}",
		"escapes":    `{"html":"<b>&amp;</b>","unicode":"\u00e9","num":1.50}`,
		"trailing":   "[1, 2]\n",
		"scalar":     ` "text" `,
	}

	forEachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		for name, value := range values {
			_, err := s.Put(ctx, "blobs", name, []byte(value), time.Hour)
			require.NoError(t, err, name)

			got, err := s.Get(ctx, "blobs", name)
			require.NoError(t, err, name)
			require.Equal(t, value, string(got.Value), name)
		}
	})
}

func TestStoreKeysAreCaseSensitive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()

		_, err := s.Put(ctx, "characters", "Capitano_default", []byte(`{"owner":"upper"}`), NoExpiry)
		require.NoError(t, err)
		_, err = s.Put(ctx, "characters", "capitano_default", []byte(`{"owner":"lower"}`), NoExpiry)
		require.NoError(t, err)

		upper, err := s.Get(ctx, "characters", "Capitano_default")
		require.NoError(t, err)
		require.JSONEq(t, `{"owner":"upper"}`, string(upper.Value))

		lower, err := s.Get(ctx, "characters", "capitano_default")
		require.NoError(t, err)
		require.JSONEq(t, `{"owner":"lower"}`, string(lower.Value))

		keys, err := s.Keys(ctx, "characters")
		require.NoError(t, err)
		require.Equal(t, []string{"Capitano_default", "capitano_default"}, keys)
	})
}

// writeUnreadable stores bytes that no backend can decode under (namespace, key),
// timestamped at the fake clock. Memory records cannot be corrupt.
func writeUnreadable(t *testing.T, s Store, clock *fakeClock, namespace, key string) bool {
	t.Helper()
	garbage := []byte(`{"schema":"lvchat.record/v1","value":`)

	switch b := s.(type) {
	case *FileStore:
		dir := filepath.Join(b.Root(), namespace)
		require.NoError(t, os.MkdirAll(dir, dirPerm))
		path := filepath.Join(dir, fileName(key))
		require.NoError(t, os.WriteFile(path, garbage, 0o600))
		require.NoError(t, os.Chtimes(path, clock.Now(), clock.Now()))
	case *BoltStore:
		require.NoError(t, b.db.Update(func(tx *bolt.Tx) error {
			bucket, err := tx.CreateBucketIfNotExists([]byte(namespace))
			if err != nil {
				return err
			}
			return bucket.Put([]byte(key), garbage)
		}))
	case *DatabaseStore:
		require.NoError(t, b.db.Create(&models.StoreRecord{
			Namespace: models.CaseSensitiveString(namespace),
			Key:       models.CaseSensitiveString(key),
			Value:     models.Document(garbage),
			CreatedAt: clock.Now().Unix(),
			UpdatedAt: clock.Now().UTC(),
		}).Error)
	default:
		return false
	}
	return true
}

func TestStoreSweepHandlesCorruptAlongsideExpired(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		if !writeUnreadable(t, s, clock, "blobs", "broken") {
			t.Skip("backend cannot hold unreadable records")
		}

		_, err := s.Put(ctx, "blobs", "short", []byte(`{"v":1}`), time.Second)
		require.NoError(t, err)
		_, err = s.Put(ctx, "blobs", "long", []byte(`{"v":2}`), NoExpiry)
		require.NoError(t, err)

		_, err = s.Get(ctx, "blobs", "broken")
		require.ErrorIs(t, err, ErrNotFound)

		keys, err := s.Keys(ctx, "blobs")
		require.NoError(t, err)
		require.Equal(t, []string{"long", "short"}, keys)

		// The unreadable record neither aborts the sweep nor goes before it is stale.
		clock.Advance(2 * time.Second)
		require.Equal(t, 1, s.Sweep(ctx, "blobs", time.Hour))
		_, err = s.Get(ctx, "blobs", "short")
		require.ErrorIs(t, err, ErrNotFound)

		clock.Advance(2 * time.Hour)
		require.Zero(t, s.Sweep(ctx, "blobs", 0))
		require.Equal(t, 1, s.Sweep(ctx, "blobs", time.Hour))
		require.Zero(t, s.Sweep(ctx, "blobs", time.Hour))

		got, err := s.Get(ctx, "blobs", "long")
		require.NoError(t, err)
		require.JSONEq(t, `{"v":2}`, string(got.Value))
	})
}

func TestStoreConcurrentWritersAndReaders(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		_, err := s.Put(ctx, "blobs", "hot", []byte(`{"writer":-1}`), time.Hour)
		require.NoError(t, err)

		var g errgroup.Group
		for i := 0; i < 8; i++ {
			i := i
			g.Go(func() error {
				for j := 0; j < 20; j++ {
					if _, err := s.Put(ctx, "blobs", "hot", []byte(fmt.Sprintf(`{"writer":%d}`, i)), time.Hour); err != nil {
						return err
					}
				}
				return nil
			})
			g.Go(func() error {
				for j := 0; j < 20; j++ {
					rec, err := s.Get(ctx, "blobs", "hot")
					if err != nil {
						return err
					}
					if len(rec.Value) == 0 || rec.Value[0] != '{' {
						return fmt.Errorf("torn read: %q", rec.Value)
					}
				}
				return nil
			})
		}
		g.Go(func() error {
			s.Sweep(ctx, "blobs", time.Hour)
			return nil
		})
		require.NoError(t, g.Wait())
	})
}

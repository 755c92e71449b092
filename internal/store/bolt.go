package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// BoltStore keeps one bbolt bucket per namespace inside a single database
// file. Values are the same envelopes the file backend writes.
//
// Bolt keeps no per-entry modification time, so the store remembers when a
// sweep first found each unreadable entry and ages it from there. The memory
// resets on restart, which only delays reclaiming.
type BoltStore struct {
	db   *bolt.DB
	opts options

	mu          sync.Mutex
	corruptSeen map[string]map[string]time.Time
}

var (
	_ Store  = (*BoltStore)(nil)
	_ Pinger = (*BoltStore)(nil)
)

// OpenBolt opens (or creates) the database at path.
func OpenBolt(path string, opts ...Option) (*BoltStore, error) {
	if path == "" {
		return nil, errors.New("store: bolt path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, fmt.Errorf("store: create bolt directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open bolt: %w", err)
	}
	return &BoltStore{
		db:          db,
		opts:        buildOptions("bolt", opts),
		corruptSeen: make(map[string]map[string]time.Time),
	}, nil
}

func (s *BoltStore) Put(ctx context.Context, namespace, key string, value []byte, ttl time.Duration, opts ...PutOption) (Record, error) {
	if err := validateNamespace(namespace); err != nil {
		return Record{}, err
	}
	rec, err := newRecord(s.opts.now(), key, value, ttl, s.opts.embeddedExpiry(namespace), opts)
	if err != nil {
		return Record{}, err
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return Record{}, fmt.Errorf("store: encode %s/%s: %w", namespace, key, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return Record{}, s.wrap("write", namespace, key, err)
	}
	return rec, nil
}

func (s *BoltStore) Get(ctx context.Context, namespace, key string) (Record, error) {
	if err := validateNamespace(namespace); err != nil {
		return Record{}, err
	}
	if err := validateKey(key); err != nil {
		return Record{}, err
	}

	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(namespace)); b != nil {
			if v := b.Get([]byte(key)); v != nil {
				data = append([]byte(nil), v...)
			}
		}
		return nil
	})
	if err != nil {
		return Record{}, s.wrap("read", namespace, key, err)
	}
	if data == nil {
		return Record{}, ErrNotFound
	}

	rec, err := decodeRecord(data, key, time.Time{}, s.opts.embeddedExpiry(namespace))
	if err != nil {
		s.opts.log.Debug("unreadable record treated as absent",
			zap.String("namespace", namespace),
			zap.String("key", key),
			zap.Error(err),
		)
		return Record{}, ErrNotFound
	}

	if rec.Expired(s.opts.now()) {
		if err := s.deleteIfUnchanged(namespace, key, data); err != nil {
			s.opts.log.Debug("reclaim expired record",
				zap.String("namespace", namespace),
				zap.String("key", key),
				zap.Error(err),
			)
		}
		return Record{}, ErrExpired
	}
	return rec, nil
}

func (s *BoltStore) Delete(ctx context.Context, namespace, key string) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return s.wrap("delete", namespace, key, err)
	}
	return nil
}

func (s *BoltStore) Keys(ctx context.Context, namespace string) ([]string, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}

	now := s.opts.now()
	embedded := s.opts.embeddedExpiry(namespace)
	keys := []string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(v, string(k), time.Time{}, embedded)
			if err == nil && !rec.Expired(now) {
				keys = append(keys, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, s.wrap("list", namespace, "", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Sweep deletes expired entries, and unreadable entries once staleAfter has
// passed since a sweep first found them.
func (s *BoltStore) Sweep(ctx context.Context, namespace string, staleAfter time.Duration) int {
	log := s.opts.log.With(zap.String("namespace", namespace))
	if err := validateNamespace(namespace); err != nil {
		log.Warn("sweep skipped", zap.Error(err))
		return 0
	}

	now := s.opts.now()
	embedded := s.opts.embeddedExpiry(namespace)
	removed := 0
	var errs error
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			s.forgetCorrupt(namespace)
			return nil
		}

		var doomed [][]byte
		var corrupt []string
		err := b.ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(v, string(k), time.Time{}, embedded)
			switch {
			case err != nil:
				corrupt = append(corrupt, string(k))
			case rec.Expired(now):
				doomed = append(doomed, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range s.staleCorrupt(namespace, corrupt, now, staleAfter) {
			doomed = append(doomed, []byte(k))
		}

		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", k, err))
				continue
			}
			removed++
		}
		return nil
	})
	if err != nil {
		log.Warn("sweep transaction failed", zap.Error(err))
		return 0
	}
	if errs != nil {
		log.Debug("sweep skipped records", zap.Error(errs))
	}
	return removed
}

// staleCorrupt records first sightings of the unreadable keys found by a sweep
// and returns those first seen more than staleAfter ago. Keys that are no
// longer unreadable are forgotten.
func (s *BoltStore) staleCorrupt(namespace string, corrupt []string, now time.Time, staleAfter time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.corruptSeen[namespace]
	seen := make(map[string]time.Time, len(corrupt))
	var stale []string
	for _, key := range corrupt {
		first, ok := previous[key]
		if !ok {
			first = now
		}
		if staleAfter > 0 && now.Sub(first) > staleAfter {
			stale = append(stale, key)
			continue
		}
		seen[key] = first
	}

	if len(seen) == 0 {
		delete(s.corruptSeen, namespace)
	} else {
		s.corruptSeen[namespace] = seen
	}
	return stale
}

func (s *BoltStore) forgetCorrupt(namespace string) {
	s.mu.Lock()
	delete(s.corruptSeen, namespace)
	s.mu.Unlock()
}

func (s *BoltStore) Ping(context.Context) error {
	return s.db.View(func(*bolt.Tx) error { return nil })
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStore) deleteIfUnchanged(namespace, key string, observed []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		if current := b.Get([]byte(key)); current != nil && bytes.Equal(current, observed) {
			return b.Delete([]byte(key))
		}
		return nil
	})
}

func (s *BoltStore) wrap(op, namespace, key string, err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	if key == "" {
		return fmt.Errorf("store: %s %s: %w", op, namespace, err)
	}
	return fmt.Errorf("store: %s %s/%s: %w", op, namespace, key, err)
}

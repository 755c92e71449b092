package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. It serves tests and
// single-process deployments that accept losing data on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	spaces map[string]map[string]memoryEntry
	rev    uint64
	closed bool
	opts   options
}

type memoryEntry struct {
	rec Record
	rev uint64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		spaces: make(map[string]map[string]memoryEntry),
		opts:   buildOptions("memory", opts),
	}
}

func (s *MemoryStore) Put(_ context.Context, namespace, key string, value []byte, ttl time.Duration, opts ...PutOption) (Record, error) {
	if err := validateNamespace(namespace); err != nil {
		return Record{}, err
	}
	rec, err := newRecord(s.opts.now(), key, value, ttl, s.opts.embeddedExpiry(namespace), opts)
	if err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Record{}, ErrClosed
	}

	space, ok := s.spaces[namespace]
	if !ok {
		space = make(map[string]memoryEntry)
		s.spaces[namespace] = space
	}
	s.rev++
	space[key] = memoryEntry{rec: rec, rev: s.rev}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) Get(_ context.Context, namespace, key string) (Record, error) {
	if err := validateNamespace(namespace); err != nil {
		return Record{}, err
	}
	if err := validateKey(key); err != nil {
		return Record{}, err
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return Record{}, ErrClosed
	}
	entry, ok := s.spaces[namespace][key]
	s.mu.RUnlock()
	if !ok {
		return Record{}, ErrNotFound
	}

	if entry.rec.Expired(s.opts.now()) {
		s.mu.Lock()
		if current, ok := s.spaces[namespace][key]; ok && current.rev == entry.rev {
			delete(s.spaces[namespace], key)
		}
		s.mu.Unlock()
		return Record{}, ErrExpired
	}

	return cloneRecord(entry.rec), nil
}

func (s *MemoryStore) Delete(_ context.Context, namespace, key string) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.spaces[namespace], key)
	return nil
}

func (s *MemoryStore) Keys(_ context.Context, namespace string) ([]string, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}

	now := s.opts.now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	keys := make([]string, 0, len(s.spaces[namespace]))
	for key, entry := range s.spaces[namespace] {
		if !entry.rec.Expired(now) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Sweep drops expired entries. Memory records cannot be corrupt, so staleAfter
// is not consulted.
func (s *MemoryStore) Sweep(_ context.Context, namespace string, _ time.Duration) int {
	now := s.opts.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.spaces[namespace] {
		if entry.rec.Expired(now) {
			delete(s.spaces[namespace], key)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.spaces = make(map[string]map[string]memoryEntry)
	return nil
}

func cloneRecord(rec Record) Record {
	rec.Value = append([]byte(nil), rec.Value...)
	return rec
}

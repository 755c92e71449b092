// Package store implements the namespaced key-value store with time-to-live
// eviction that backs every lvchat endpoint.
//
// A record is observed expired once the wall clock (seconds resolution) is
// strictly after its expiry. Expired records are never returned: Get reports
// ErrExpired once and removes the record, and Sweep reclaims whatever readers
// never come back for.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lordvitaly/lvchat/pkg/logger"
)

var (
	// ErrNotFound is returned when no live record exists for the key. Corrupt
	// records are reported the same way.
	ErrNotFound = errors.New("store: not found")
	// ErrExpired is returned when a record existed but its TTL elapsed before the read.
	ErrExpired = errors.New("store: expired")
	// ErrInvalidKey rejects keys that cannot be stored safely.
	ErrInvalidKey = errors.New("store: invalid key")
	// ErrInvalidValue rejects values that are not a single JSON document.
	ErrInvalidValue = errors.New("store: invalid value")
	// ErrClosed is returned by backends after Close.
	ErrClosed = errors.New("store: closed")
)

// NoExpiry disables the envelope TTL on Put.
const NoExpiry time.Duration = 0

// Store is the contract every backend honours.
//
// Implementations must be safe for concurrent use: a Put is observed by a
// concurrent Get either fully or not at all, and deleting an absent record is
// not an error.
type Store interface {
	// Put writes value under (namespace, key), replacing any previous record.
	// The value bytes are stored as given. A ttl <= 0 stores the record without
	// an expiry unless the namespace was configured with WithEmbeddedExpiry, in
	// which case an expiry embedded in the value (expires_at or
	// meta.expires_at) is honoured instead.
	Put(ctx context.Context, namespace, key string, value []byte, ttl time.Duration, opts ...PutOption) (Record, error)
	// Get returns the live record, ErrExpired (and removes it) or ErrNotFound.
	Get(ctx context.Context, namespace, key string) (Record, error)
	// Delete removes the record if present.
	Delete(ctx context.Context, namespace, key string) error
	// Keys lists live keys in the namespace in lexical order.
	Keys(ctx context.Context, namespace string) ([]string, error)
	// Sweep removes every expired record and returns how many were removed.
	// Unreadable records are removed once older than staleAfter (never when
	// staleAfter <= 0). Sweep never fails; per-record problems are logged.
	Sweep(ctx context.Context, namespace string, staleAfter time.Duration) int
	// Close releases backend resources.
	Close() error
}

// Pinger is implemented by backends that can report liveness of their medium.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Record is a stored value together with its envelope metadata.
type Record struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	// ExpiresAt is the zero time for records that never expire.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the record is past its expiry at now.
func (r Record) Expired(now time.Time) bool {
	return expiredAt(r.ExpiresAt, now)
}

func expiredAt(expiresAt, now time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.Unix() > expiresAt.Unix()
}

// PutOption customises a single Put.
type PutOption func(*putOptions)

type putOptions struct {
	stamp bool
}

// WithStampedValue writes created_at and expires_at (unix seconds) into a JSON
// object value, using the same timestamps as the envelope.
func WithStampedValue() PutOption {
	return func(o *putOptions) {
		o.stamp = true
	}
}

// Option configures a backend.
type Option func(*options)

type options struct {
	now      func() time.Time
	log      *zap.Logger
	embedded map[string]struct{}
}

// embeddedExpiry reports whether namespace honours expiries carried in values.
func (o options) embeddedExpiry(namespace string) bool {
	_, ok := o.embedded[namespace]
	return ok
}

// WithClock overrides the wall clock, primarily for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger overrides the logger used for swallowed housekeeping failures.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithEmbeddedExpiry lets values in the named namespaces carry their own
// expiry (expires_at or meta.expires_at, unix seconds). It applies to puts
// without a ttl and to legacy documents. Other namespaces treat those fields
// as ordinary data.
func WithEmbeddedExpiry(namespaces ...string) Option {
	return func(o *options) {
		if o.embedded == nil {
			o.embedded = make(map[string]struct{}, len(namespaces))
		}
		for _, ns := range namespaces {
			o.embedded[ns] = struct{}{}
		}
	}
}

func buildOptions(backend string, opts []Option) options {
	o := options{
		now: time.Now,
		log: logger.WithModule("store").With(zap.String("backend", backend)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

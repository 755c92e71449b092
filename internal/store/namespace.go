package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lordvitaly/lvchat/pkg/logger"
	"github.com/lordvitaly/lvchat/pkg/metrics"
)

// Sweep triggers, used as metric labels.
const (
	TriggerCron  = "cron"
	TriggerWrite = "write"
)

// Policy describes how a namespace stores its records.
type Policy struct {
	Name string
	// TTL applied on Put; NoExpiry keeps records until deleted.
	TTL time.Duration
	// EmbeddedExpiry lets values carry their own expires_at when TTL is
	// NoExpiry, and lets legacy documents expire by it. The backend honours it
	// once opened with WithEmbeddedExpiry(EmbeddedExpiryNamespaces(...)...).
	EmbeddedExpiry bool
	// StampValue writes created_at/expires_at into stored objects.
	StampValue bool
	// SweepInterval enables an opportunistic background sweep before writes,
	// at most once per interval. Zero disables it.
	SweepInterval time.Duration
	// StaleAfter is the age after which unreadable records are reclaimed.
	// Defaults to TTL.
	StaleAfter time.Duration
}

// EmbeddedExpiryNamespaces names the policies that opt into embedded expiry.
func EmbeddedExpiryNamespaces(policies ...Policy) []string {
	var names []string
	for _, p := range policies {
		if p.EmbeddedExpiry {
			names = append(names, p.Name)
		}
	}
	return names
}

func (p Policy) staleAfter() time.Duration {
	if p.StaleAfter > 0 {
		return p.StaleAfter
	}
	return p.TTL
}

// Namespace binds a Store to one Policy.
type Namespace struct {
	store  Store
	policy Policy
	log    *zap.Logger

	sometimes *rate.Sometimes
	sweeping  atomic.Bool
	wg        sync.WaitGroup
}

// NewNamespace returns a handle for policy.Name on top of s.
func NewNamespace(s Store, policy Policy) (*Namespace, error) {
	if s == nil {
		return nil, errors.New("store: namespace requires a store")
	}
	if err := validateNamespace(policy.Name); err != nil {
		return nil, err
	}
	ns := &Namespace{
		store:  s,
		policy: policy,
		log:    logger.WithNamespace("store", policy.Name),
	}
	if policy.SweepInterval > 0 {
		ns.sometimes = &rate.Sometimes{Interval: policy.SweepInterval}
	}
	return ns, nil
}

func (n *Namespace) Name() string {
	return n.policy.Name
}

func (n *Namespace) Policy() Policy {
	return n.policy
}

// Put stores value under key with the namespace TTL.
func (n *Namespace) Put(ctx context.Context, key string, value []byte) (Record, error) {
	n.maybeSweep(ctx)

	var opts []PutOption
	if n.policy.StampValue {
		opts = append(opts, WithStampedValue())
	}
	rec, err := n.store.Put(ctx, n.policy.Name, key, value, n.policy.TTL, opts...)
	n.observe("put", err)
	return rec, err
}

func (n *Namespace) Get(ctx context.Context, key string) (Record, error) {
	rec, err := n.store.Get(ctx, n.policy.Name, key)
	n.observe("get", err)
	return rec, err
}

func (n *Namespace) Delete(ctx context.Context, key string) error {
	err := n.store.Delete(ctx, n.policy.Name, key)
	n.observe("delete", err)
	return err
}

func (n *Namespace) Keys(ctx context.Context) ([]string, error) {
	keys, err := n.store.Keys(ctx, n.policy.Name)
	n.observe("keys", err)
	return keys, err
}

// Sweep reclaims expired records now and reports how many were removed.
func (n *Namespace) Sweep(ctx context.Context, trigger string) int {
	start := time.Now()
	removed := n.store.Sweep(ctx, n.policy.Name, n.policy.staleAfter())
	metrics.SweepDuration.WithLabelValues(n.policy.Name).Observe(time.Since(start).Seconds())
	metrics.SweepRemoved.WithLabelValues(n.policy.Name, trigger).Add(float64(removed))
	if removed > 0 {
		n.log.Info("swept expired records",
			zap.String("trigger", trigger),
			zap.Int("removed", removed),
		)
	}
	return removed
}

// Wait blocks until background sweeps started by Put have finished.
func (n *Namespace) Wait() {
	n.wg.Wait()
}

func (n *Namespace) maybeSweep(ctx context.Context) {
	if n.sometimes == nil {
		return
	}
	n.sometimes.Do(func() {
		if !n.sweeping.CompareAndSwap(false, true) {
			return
		}
		sweepCtx := context.WithoutCancel(ensureContext(ctx))
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			defer n.sweeping.Store(false)
			n.Sweep(sweepCtx, TriggerWrite)
		}()
	})
}

func (n *Namespace) observe(op string, err error) {
	metrics.StoreOperations.WithLabelValues(n.policy.Name, op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalidKey), errors.Is(err, ErrInvalidValue):
		return "invalid"
	default:
		return "error"
	}
}

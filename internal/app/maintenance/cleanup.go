package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lordvitaly/lvchat/internal/store"
	"github.com/lordvitaly/lvchat/pkg/logger"
)

const defaultSweepSpec = "@every 10m"

// Cleaner periodically sweeps expired records out of every namespace.
type Cleaner struct {
	namespaces *store.Registry
	cron       *cron.Cron
	now        func() time.Time
	log        *zap.Logger
	schedule   string

	mu      sync.Mutex
	lastRun SweepStats
}

// SweepStats summarises one pass over all namespaces.
type SweepStats struct {
	StartedAt time.Time
	Removed   map[string]int
}

// Total returns the number of records removed across namespaces.
func (s SweepStats) Total() int {
	total := 0
	for _, n := range s.Removed {
		total += n
	}
	return total
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used to stamp sweep runs.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithSchedule overrides the cron specification. An empty spec disables the
// periodic job; RunOnce still works.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		cleaner.schedule = spec
	}
}

// NewCleaner constructs a Cleaner for the namespaces in reg.
func NewCleaner(reg *store.Registry, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		namespaces: reg,
		now:        time.Now,
		schedule:   defaultSweepSpec,
		log:        logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(
			cron.WithLogger(cron.DiscardLogger),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		)
	}

	return cleaner
}

// Start registers the sweep job and launches the scheduler.
func (c *Cleaner) Start() error {
	if c.namespaces == nil || c.schedule == "" {
		return nil
	}

	if _, err := c.cron.AddFunc(c.schedule, func() {
		stats, err := c.RunOnce(context.Background())
		if err != nil {
			c.log.Warn("namespace sweep incomplete", zap.Error(err))
		}
		if total := stats.Total(); total > 0 {
			c.log.Info("namespace sweep finished", zap.Int("removed", total))
		}
	}); err != nil {
		return fmt.Errorf("maintenance: schedule %q: %w", c.schedule, err)
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once a
// running sweep completes.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce sweeps every namespace sequentially. Namespaces skipped because ctx
// ended are reported in the returned error.
func (c *Cleaner) RunOnce(ctx context.Context) (SweepStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	stats := SweepStats{StartedAt: c.now(), Removed: map[string]int{}}
	if c.namespaces == nil {
		return stats, nil
	}

	var errs error
	for _, ns := range c.namespaces.All() {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sweep %s: %w", ns.Name(), err))
			continue
		}
		stats.Removed[ns.Name()] = ns.Sweep(ctx, store.TriggerCron)
	}

	c.mu.Lock()
	c.lastRun = stats
	c.mu.Unlock()

	return stats, errs
}

// LastRun reports the most recent completed pass.
func (c *Cleaner) LastRun() SweepStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun
}

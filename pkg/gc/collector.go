// Package gc reconciles storage backends with the metadata gateway.
//
// Objects can end up without a record pointing at them when:
//   - an upload's record failed and the compensating delete failed too
//   - the process died between writing an object and recording it
//   - a folder delete raced with an upload into that folder
//
// Each run first retries the orphans the orchestrator reported in the
// Ledger, then sweeps every backend that can list its objects and deletes
// the ones no record references. Objects younger than the grace period are
// skipped so that uploads still waiting for their record are not touched.
package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/marmos91/dittodrive/pkg/registry"
)

// Config contains configuration for the collector.
type Config struct {
	// Enabled controls whether the background worker runs (default: false)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval is how often to run (default: 24h)
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// GracePeriod protects objects younger than this (default: 1h)
	GracePeriod time.Duration `mapstructure:"grace_period" yaml:"grace_period"`

	// BatchSize is how many objects to delete per batch call (default: 1000).
	// S3 accepts at most 1000 keys per DeleteObjects call.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size" validate:"gte=0,lte=1000"`

	// Timeout bounds a single background run (default: 10m)
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// DryRun logs what would be deleted without deleting (default: false)
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// Metrics records collection runs. Nil disables collection.
type Metrics interface {
	ObserveRun(stats *Stats, err error)
	SetLedgerSize(n int)
}

// Collector performs periodic orphan collection.
//
// Thread Safety: Safe for concurrent use. Runs are serialized.
type Collector struct {
	gateway  metadata.Gateway
	backends *registry.Registry
	ledger   *Ledger
	config   Config
	metrics  Metrics
	now      func() time.Time

	runMu    sync.Mutex
	stopOnce sync.Once

	// lifeMu guards started and stopped.
	lifeMu  sync.Mutex
	started bool
	stopped bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCollector creates a collector. Call Start to run it in the background
// or RunNow for a single pass. ledger may be nil.
func NewCollector(gateway metadata.Gateway, backends *registry.Registry, ledger *Ledger, config Config, metrics Metrics) *Collector {
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	if config.GracePeriod <= 0 {
		config.GracePeriod = time.Hour
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}
	if ledger == nil {
		ledger = NewLedger()
	}

	return &Collector{
		gateway:  gateway,
		backends: backends,
		ledger:   ledger,
		config:   config,
		metrics:  metrics,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Ledger returns the orphan ledger the collector drains.
func (c *Collector) Ledger() *Ledger { return c.ledger }

// Start begins background collection. No-op when disabled, already
// started or stopped.
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Orphan collection disabled")
		return
	}

	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.started || c.stopped {
		return
	}

	logger.Info("Starting orphan collector: interval=%s grace=%s batch_size=%d dry_run=%v",
		c.config.Interval, c.config.GracePeriod, c.config.BatchSize, c.config.DryRun)

	c.started = true
	go c.worker()
}

// Stop stops the background worker and waits for an in-progress run, or
// until ctx expires. Safe to call multiple times.
func (c *Collector) Stop(ctx context.Context) error {
	c.lifeMu.Lock()
	c.stopped = true
	started := c.started
	c.lifeMu.Unlock()

	if !started {
		return nil
	}

	c.stopOnce.Do(func() { close(c.stopCh) })

	select {
	case <-c.doneCh:
		logger.Info("Orphan collector stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Orphan collector shutdown timeout")
		return ctx.Err()
	}
}

// RunNow performs one collection run and blocks until it completes.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("Running orphan collection (manual trigger)...")
	return c.collect(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Orphan collection failed: %v", err)
			} else {
				logger.Info("Orphan collection completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

// collect performs a single run:
//  1. Retry every ledger entry with a plain Delete
//  2. For each listable backend, compute listed - referenced, minus objects
//     inside the grace period
//  3. Batch delete the result
//
// A failure on one backend is logged and counted; the run moves on to the
// next backend.
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	stats := &Stats{StartTime: c.now(), DryRun: c.config.DryRun}
	err := c.run(ctx, stats)
	stats.EndTime = c.now()

	if c.metrics != nil {
		c.metrics.ObserveRun(stats, err)
		c.metrics.SetLedgerSize(c.ledger.Len())
	}
	return stats, err
}

func (c *Collector) run(ctx context.Context, stats *Stats) error {
	// ========================================================================
	// Phase 1: Ledger
	// ========================================================================

	for _, o := range c.ledger.Entries() {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.LedgerAttempted++

		if c.config.DryRun {
			logger.Info("GC: DRY RUN - would retry orphan %s:%s", o.StorageType, o.Path)
			continue
		}

		b, err := c.backends.Get(o.StorageType)
		if err == nil {
			hint := o.Hint
			err = b.Delete(ctx, o.Path, &hint)
		}
		if err != nil {
			c.ledger.failed(o.StorageType, o.Path, err)
			logger.Warn("GC: orphan %s:%s still not deleted (attempt %d): %v", o.StorageType, o.Path, o.Attempts+1, err)
			continue
		}

		c.ledger.resolve(o.StorageType, o.Path)
		stats.LedgerCleared++
		logger.Info("GC: deleted orphan %s:%s", o.StorageType, o.Path)
	}

	// ========================================================================
	// Phase 2+3: Sweep listable backends
	// ========================================================================

	for _, l := range c.backends.Listers() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.sweep(ctx, l, stats); err != nil {
			stats.BackendErrors++
			logger.Error("GC: sweep of %s failed: %v", l.Type(), err)
		}
	}
	return nil
}

func (c *Collector) sweep(ctx context.Context, l backend.Lister, stats *Stats) error {
	t := l.Type()

	referenced, err := c.gateway.ListStoredObjects(ctx, t)
	if err != nil {
		return fmt.Errorf("failed to list referenced objects: %w", err)
	}
	referencedSet := make(map[string]struct{}, len(referenced))
	for _, obj := range referenced {
		referencedSet[obj.StoragePath] = struct{}{}
	}
	stats.ReferencedCount += uint64(len(referenced))

	existing, err := l.ListObjects(ctx)
	if err != nil {
		return fmt.Errorf("failed to list objects: %w", err)
	}
	stats.ExistingCount += uint64(len(existing))

	cutoff := c.now().Add(-c.config.GracePeriod)
	var orphaned []string
	for _, obj := range existing {
		if _, ok := referencedSet[obj.Path]; ok {
			continue
		}
		if obj.CreatedAt.After(cutoff) {
			stats.SkippedRecent++
			continue
		}
		orphaned = append(orphaned, obj.Path)
	}
	stats.OrphanedCount += uint64(len(orphaned))

	logger.Debug("GC: %s referenced=%d existing=%d orphaned=%d", t, len(referenced), len(existing), len(orphaned))

	if len(orphaned) == 0 {
		return nil
	}

	if c.config.DryRun {
		logger.Info("GC: DRY RUN - would delete %d %s objects:", len(orphaned), t)
		for i, p := range orphaned {
			if i == 10 {
				logger.Info("  ... and %d more", len(orphaned)-10)
				break
			}
			logger.Info("  - %s", p)
		}
		return nil
	}

	for i := 0; i < len(orphaned); i += c.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := orphaned[i:min(i+c.config.BatchSize, len(orphaned))]

		failures, err := deleteBatch(ctx, l, batch)
		if err != nil {
			logger.Warn("GC: batch delete on %s failed: %v", t, err)
			stats.FailedCount += uint64(len(batch))
			continue
		}
		stats.DeletedCount += uint64(len(batch) - len(failures))
		stats.FailedCount += uint64(len(failures))
		for p, ferr := range failures {
			logger.Debug("GC: failed to delete %s:%s: %v", t, p, ferr)
		}
	}
	return nil
}

// deleteBatch uses the backend's bulk delete when it has one.
func deleteBatch(ctx context.Context, b backend.Backend, paths []string) (map[string]error, error) {
	if bd, ok := b.(backend.BatchDeleter); ok {
		return bd.DeleteBatch(ctx, paths)
	}

	failures := make(map[string]error)
	for _, p := range paths {
		if err := b.Delete(ctx, p, nil); err != nil {
			failures[p] = err
		}
	}
	return failures, nil
}

// Stats contains statistics from a collection run.
type Stats struct {
	StartTime       time.Time
	EndTime         time.Time
	DryRun          bool
	LedgerAttempted uint64 // Ledger entries retried
	LedgerCleared   uint64 // Ledger entries deleted and removed
	ReferencedCount uint64 // Paths referenced by metadata, across swept backends
	ExistingCount   uint64 // Objects listed, across swept backends
	SkippedRecent   uint64 // Unreferenced objects inside the grace period
	OrphanedCount   uint64 // Unreferenced objects eligible for deletion
	DeletedCount    uint64 // Orphans deleted
	FailedCount     uint64 // Orphans that failed to delete
	BackendErrors   uint64 // Backends whose sweep could not complete
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the run.
func (s *Stats) Summary() string {
	return fmt.Sprintf("ledger=%d/%d referenced=%d existing=%d recent=%d orphaned=%d deleted=%d failed=%d backend_errors=%d duration=%s",
		s.LedgerCleared, s.LedgerAttempted, s.ReferencedCount, s.ExistingCount, s.SkippedRecent,
		s.OrphanedCount, s.DeletedCount, s.FailedCount, s.BackendErrors, s.Duration())
}

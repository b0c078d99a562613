// Package orchestrator is the transactional core that keeps physical objects
// and their metadata records consistent.
//
// Every public operation is scoped to an owner ID supplied by the caller
// (identity is established upstream). The orchestrator holds no locks: the
// metadata gateway's owner-scoped row operations are the only serialization
// point.
//
// Consistency rules:
//   - Upload: the object is written first, then the record. If the record
//     cannot be written the object is deleted again (compensation).
//   - Delete: the object is deleted first, then the record. A record is never
//     removed while its object may still exist.
package orchestrator

import (
	"time"

	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/marmos91/dittodrive/pkg/registry"
	"github.com/marmos91/dittodrive/pkg/retry"
	"github.com/marmos91/dittodrive/pkg/selector"
)

// DefaultLocalQuota is the per-owner ceiling for the shared backends before
// uploads overflow to the personal drive.
const DefaultLocalQuota int64 = 500 * 1024 * 1024

// DefaultPageSize is used by GetItems when the caller asks for page N
// without a size.
const DefaultPageSize = 50

// DefaultCompensationTimeout bounds the delete that undoes an unrecorded
// upload.
const DefaultCompensationTimeout = 30 * time.Second

// Config contains the orchestrator's tunables.
type Config struct {
	// LocalQuota caps the bytes an owner may keep outside the personal drive.
	LocalQuota int64

	// Retry controls upload retries. MaxAttempts counts every call.
	Retry retry.Options

	// PageSize is the default GetItems page size.
	PageSize int

	// CompensationTimeout bounds the cleanup delete after a failed record
	// write. It is measured from the failure, not from the request.
	CompensationTimeout time.Duration
}

// DefaultConfig returns the production defaults: 500 MiB quota and three
// upload attempts waiting 1s then 2s.
func DefaultConfig() Config {
	return Config{
		LocalQuota:          DefaultLocalQuota,
		Retry:               retry.DefaultOptions(),
		PageSize:            DefaultPageSize,
		CompensationTimeout: DefaultCompensationTimeout,
	}
}

// OrphanRecorder keeps track of objects that could not be cleaned up, so
// a later reconciliation pass can retry the delete.
type OrphanRecorder interface {
	RecordOrphan(storageType backend.StorageType, path string, hint *backend.DeleteHint, cause error)
}

// Metrics records orchestrator activity. A nil Metrics disables collection.
type Metrics interface {
	ObserveUpload(storageType backend.StorageType, bytes int64, duration time.Duration, err error)
	ObserveDelete(storageType backend.StorageType, duration time.Duration, err error)
	RecordRetry(storageType backend.StorageType)
	RecordCompensation(storageType backend.StorageType, err error)
}

// Orchestrator coordinates the backends and the metadata gateway.
//
// Thread Safety: Safe for concurrent use.
type Orchestrator struct {
	gateway  metadata.Gateway
	backends *registry.Registry
	selector *selector.Selector
	config   Config
	orphans  OrphanRecorder
	metrics  Metrics
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithOrphanRecorder registers where unrecoverable orphans are reported.
func WithOrphanRecorder(r OrphanRecorder) Option {
	return func(o *Orchestrator) { o.orphans = r }
}

// WithMetrics enables metrics collection.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// New creates an orchestrator. Zero fields in cfg take their defaults.
func New(gateway metadata.Gateway, backends *registry.Registry, cfg Config, opts ...Option) *Orchestrator {
	defaults := DefaultConfig()
	if cfg.LocalQuota <= 0 {
		cfg.LocalQuota = defaults.LocalQuota
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if cfg.Retry.InitialDelay <= 0 {
		cfg.Retry.InitialDelay = defaults.Retry.InitialDelay
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = defaults.Retry.MaxDelay
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaults.PageSize
	}
	if cfg.CompensationTimeout <= 0 {
		cfg.CompensationTimeout = defaults.CompensationTimeout
	}

	o := &Orchestrator{
		gateway:  gateway,
		backends: backends,
		selector: selector.New(backends),
		config:   cfg,
		metrics:  noopMetrics{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Backends returns the registry the orchestrator routes to.
func (o *Orchestrator) Backends() *registry.Registry { return o.backends }

// Gateway returns the metadata gateway.
func (o *Orchestrator) Gateway() metadata.Gateway { return o.gateway }

type noopMetrics struct{}

func (noopMetrics) ObserveUpload(backend.StorageType, int64, time.Duration, error) {}
func (noopMetrics) ObserveDelete(backend.StorageType, time.Duration, error)        {}
func (noopMetrics) RecordRetry(backend.StorageType)                                {}
func (noopMetrics) RecordCompensation(backend.StorageType, error)                  {}

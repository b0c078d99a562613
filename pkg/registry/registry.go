// Package registry holds the set of storage backends the orchestrator can
// route to.
//
// The set is closed: there is exactly one slot per backend.StorageType, so a
// stored StorageType always resolves to a known adapter (or to "not
// configured") without a runtime lookup table that could drift from the
// enum.
//
// Example usage:
//
//	reg := &registry.Registry{
//	    CDN:   cdn.New(cdnCfg),
//	    S3:    s3Backend,
//	    Blob:  blobBackend,
//	    Drive: drive.New(driveCfg),
//	}
//	if err := reg.Validate(); err != nil { ... }
//
//	b, err := reg.Get(record.StorageType)
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/errdefs"
)

// Registry maps each StorageType to its adapter. A nil slot means the
// backend is not part of this deployment.
//
// Fields are set once at start-up and never mutated afterwards, so the
// registry is safe for concurrent reads without locking.
type Registry struct {
	CDN   backend.Backend
	S3    backend.Backend
	Blob  backend.Backend
	Drive backend.Backend
}

// Validate checks that every slot holds an adapter reporting the matching
// type and that the blob bucket, the store of last resort, is present.
func (r *Registry) Validate() error {
	if r.Blob == nil {
		return fmt.Errorf("registry: blob backend is required")
	}
	for _, t := range backend.AllStorageTypes {
		b := r.slot(t)
		if b == nil {
			continue
		}
		if b.Type() != t {
			return fmt.Errorf("registry: %s slot holds a %s backend", t, b.Type())
		}
	}
	return nil
}

// Get returns the adapter for t.
//
// Returns:
//   - errdefs.ErrNotConfigured (wrapped) if the slot is empty
//   - a plain error for an unknown storage type
func (r *Registry) Get(t backend.StorageType) (backend.Backend, error) {
	switch t {
	case backend.StorageTypeCDN, backend.StorageTypeS3, backend.StorageTypeBlob, backend.StorageTypeDrive:
	default:
		return nil, fmt.Errorf("unknown storage type %q", t)
	}

	b := r.slot(t)
	if b == nil {
		return nil, fmt.Errorf("%s: %w", t, errdefs.ErrNotConfigured)
	}
	return b, nil
}

// All returns the non-nil adapters in StorageType order.
func (r *Registry) All() []backend.Backend {
	out := make([]backend.Backend, 0, len(backend.AllStorageTypes))
	for _, t := range backend.AllStorageTypes {
		if b := r.slot(t); b != nil {
			out = append(out, b)
		}
	}
	return out
}

// Listers returns every configured adapter that can enumerate its objects.
func (r *Registry) Listers() []backend.Lister {
	var out []backend.Lister
	for _, b := range r.All() {
		if !b.IsConfigured() {
			continue
		}
		if l, ok := backend.AsLister(b); ok {
			out = append(out, l)
		}
	}
	return out
}

// Status reports, per storage type, whether the backend is configured and
// (for per-user backends) connected for ownerID.
func (r *Registry) Status(ctx context.Context, ownerID string) map[backend.StorageType]BackendStatus {
	out := make(map[backend.StorageType]BackendStatus, len(backend.AllStorageTypes))
	for _, t := range backend.AllStorageTypes {
		b := r.slot(t)
		st := BackendStatus{Configured: b != nil && b.IsConfigured()}
		if st.Configured {
			st.Connected = backend.IsConnected(ctx, b, ownerID)
		}
		out[t] = st
	}
	return out
}

// BackendStatus is one entry of Status.
type BackendStatus struct {
	Configured bool `json:"configured"`
	Connected  bool `json:"connected"`
}

// Close releases adapters that hold resources (the blob bucket's database).
// Errors are joined; every adapter is closed regardless.
func (r *Registry) Close() error {
	var errs []error
	for _, b := range r.All() {
		if c, ok := b.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s backend: %w", b.Type(), err))
			}
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) slot(t backend.StorageType) backend.Backend {
	switch t {
	case backend.StorageTypeCDN:
		return r.CDN
	case backend.StorageTypeS3:
		return r.S3
	case backend.StorageTypeBlob:
		return r.Blob
	case backend.StorageTypeDrive:
		return r.Drive
	}
	return nil
}

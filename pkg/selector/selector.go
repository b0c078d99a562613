// Package selector decides which backend takes an upload.
package selector

import (
	"context"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/errdefs"
	"github.com/marmos91/dittodrive/pkg/registry"
)

// Options carries the per-upload inputs to Select.
type Options struct {
	// CanUploadToLocal is true when the owner's local quota can absorb the
	// file.
	CanUploadToLocal bool

	// PreferDrive routes to the personal drive whenever it is connected.
	PreferDrive bool
}

// Selector picks a backend from a fixed registry.
type Selector struct {
	reg *registry.Registry
}

// New creates a selector over reg.
func New(reg *registry.Registry) *Selector {
	return &Selector{reg: reg}
}

// Select returns the backend for file. The first matching rule wins:
//
//  1. drive connected, and PreferDrive or no local quota left: drive
//  2. no local quota left and no drive: errdefs.ErrQuotaExceeded
//  3. image/* and the CDN configured: CDN
//  4. object storage configured: S3
//  5. the blob bucket
//
// Select has no side effects.
func (s *Selector) Select(ctx context.Context, file *backend.File, ownerID string, opts Options) (backend.Backend, error) {
	driveConnected := backend.IsConnected(ctx, s.reg.Drive, ownerID)

	if driveConnected && (opts.PreferDrive || !opts.CanUploadToLocal) {
		return s.chose(s.reg.Drive, file, "drive connected"), nil
	}

	if !opts.CanUploadToLocal {
		return nil, errdefs.ErrQuotaExceeded
	}

	if file.IsImage() && configured(s.reg.CDN) {
		return s.chose(s.reg.CDN, file, "image"), nil
	}

	if configured(s.reg.S3) {
		return s.chose(s.reg.S3, file, "object storage configured"), nil
	}

	return s.chose(s.reg.Blob, file, "fallback"), nil
}

func (s *Selector) chose(b backend.Backend, file *backend.File, reason string) backend.Backend {
	logger.Debug("Selector: %s (%s, %d bytes) -> %s (%s)", file.Name, file.MimeType, file.Size, b.Type(), reason)
	return b
}

func configured(b backend.Backend) bool {
	return b != nil && b.IsConfigured()
}

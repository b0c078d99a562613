package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/errdefs"
	"github.com/marmos91/dittodrive/pkg/filename"
	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/marmos91/dittodrive/pkg/retry"
	"github.com/marmos91/dittodrive/pkg/selector"
)

// UploadOptions are the optional inputs to UploadFile.
type UploadOptions struct {
	// Progress receives byte counts. Calls are sequential and never go
	// backwards, even when an attempt is retried from the start.
	Progress backend.ProgressFunc

	// FolderID places the file in a folder the owner holds. Nil means root.
	FolderID *string

	// PreferDrive routes to the owner's personal drive when it is connected.
	PreferDrive bool
}

// UploadFile stores file for ownerID and records it.
//
// The sequence is:
//  1. Sanitize and validate the name and size (no network call on failure)
//  2. Check the target folder belongs to the owner
//  3. Select a backend (ErrQuotaExceeded is returned unchanged)
//  4. Upload under retry
//  5. Persist the record; on failure delete the object again and return
//     *errdefs.FinalizationError
//
// Either the returned record points at a stored object, or an error is
// returned and no object is left behind. The one exception is a failed
// compensating delete: the object is then reported as an orphan (critical
// log, orphan recorder, FinalizationError.Orphan).
func (o *Orchestrator) UploadFile(ctx context.Context, ownerID string, file *backend.File, opts UploadOptions) (*metadata.FileRecord, error) {
	log := logger.With("owner", ownerID)

	// ========================================================================
	// Step 1: Validate input
	// ========================================================================

	name, err := filename.Clean(file.Name)
	if err != nil {
		return nil, err
	}
	if file.Size <= 0 {
		return nil, &errdefs.ValidationError{Field: "size", Value: fmt.Sprint(file.Size), Reason: "must be positive"}
	}
	if file.Content == nil {
		return nil, &errdefs.ValidationError{Field: "content", Reason: "is required"}
	}

	// ========================================================================
	// Step 2: Folder ownership
	// ========================================================================

	if opts.FolderID != nil {
		if err := o.requireFolder(ctx, *opts.FolderID, ownerID); err != nil {
			return nil, err
		}
	}

	// ========================================================================
	// Step 3: Select backend
	// ========================================================================

	canLocal, err := o.CanUploadToLocal(ctx, ownerID, file.Size)
	if err != nil {
		return nil, err
	}

	b, err := o.selector.Select(ctx, file, ownerID, selector.Options{
		CanUploadToLocal: canLocal,
		PreferDrive:      opts.PreferDrive,
	})
	if err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 4: Upload under retry
	// ========================================================================

	payload := *file
	payload.Name = name
	progress := backend.Monotonic(opts.Progress)

	retryOpts := o.config.Retry
	retryOpts.OnRetry = func(err error, attempt int) {
		log.Warn("Upload of %q to %s failed (attempt %d/%d): %v", name, b.Type(), attempt, retryOpts.MaxAttempts, err)
		o.metrics.RecordRetry(b.Type())
	}

	start := time.Now()
	result, err := retry.Do(ctx, retryOpts, func(ctx context.Context) (*backend.UploadResult, error) {
		return b.Upload(ctx, &payload, ownerID, progress)
	})
	o.metrics.ObserveUpload(b.Type(), file.Size, time.Since(start), err)
	if err != nil {
		log.Error("Upload of %q to %s failed: %v", name, b.Type(), err)
		return nil, err
	}

	// ========================================================================
	// Step 5: Persist, or compensate
	// ========================================================================

	record, err := o.gateway.CreateFile(ctx, &metadata.FileRecord{
		Name:        name,
		Size:        file.Size,
		MimeType:    file.MimeType,
		DownloadURL: result.URL,
		StoragePath: result.Path,
		StorageType: b.Type(),
		FolderID:    opts.FolderID,
		UserID:      ownerID,
	})
	if err != nil {
		hint := &backend.DeleteHint{OwnerID: ownerID, MimeType: file.MimeType, Name: name}
		return nil, o.compensate(ctx, b, result.Path, hint, err)
	}

	log.Info("Uploaded %q (%d bytes) to %s as %s", name, file.Size, b.Type(), record.ID)
	return record, nil
}

// compensate removes an object whose record could not be written and
// returns the FinalizationError describing the outcome.
//
// The delete runs even if ctx is already cancelled, bounded by
// Config.CompensationTimeout. A delete that times out is an orphan.
func (o *Orchestrator) compensate(ctx context.Context, b backend.Backend, path string, hint *backend.DeleteHint, cause error) error {
	ferr := &errdefs.FinalizationError{Backend: b.Type().String(), Path: path, Cause: cause}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.CompensationTimeout)
	defer cancel()

	err := b.Delete(cleanupCtx, path, hint)
	o.metrics.RecordCompensation(b.Type(), err)
	if err == nil {
		logger.Warn("Removed %s object %s after failing to record it: %v", b.Type(), path, cause)
		return ferr
	}

	ferr.Orphan = &errdefs.OrphanError{Backend: b.Type().String(), Path: path, Err: err}
	logger.With("owner", hint.OwnerID).
		With("backend", b.Type().String()).
		With("path", path).
		Critical("Orphaned object: record failed (%v) and cleanup failed (%v)", cause, err)
	if o.orphans != nil {
		o.orphans.RecordOrphan(b.Type(), path, hint, err)
	}
	return ferr
}

// requireFolder returns NotFoundError unless folderID is a folder of ownerID.
func (o *Orchestrator) requireFolder(ctx context.Context, folderID, ownerID string) error {
	folder, err := o.gateway.GetFolder(ctx, folderID, ownerID)
	if err != nil {
		return err
	}
	if folder == nil {
		return &errdefs.NotFoundError{Kind: "folder", ID: folderID}
	}
	return nil
}

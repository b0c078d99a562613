package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/errdefs"
	"github.com/marmos91/dittodrive/pkg/metadata"
)

// folderDeleteRounds bounds how often DeleteFolder lists the subtree again
// after files appeared in it.
const folderDeleteRounds = 3

// DeleteFile removes a file's object, then its record.
//
// Returns:
//   - *errdefs.NotFoundError if the file is absent or owned by someone else
//   - *errdefs.StorageDeleteError if the backend refused; the record is kept
//   - *errdefs.InconsistencyError if the object is gone but the record could
//     not be removed (logged at critical level)
func (o *Orchestrator) DeleteFile(ctx context.Context, id, ownerID string) error {
	record, err := o.gateway.GetFile(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if record == nil {
		return &errdefs.NotFoundError{Kind: "file", ID: id}
	}
	return o.deleteRecord(ctx, record)
}

func (o *Orchestrator) deleteRecord(ctx context.Context, record *metadata.FileRecord) error {
	b, err := o.backends.Get(record.StorageType)
	if err != nil {
		return &errdefs.StorageDeleteError{Backend: record.StorageType.String(), Path: record.StoragePath, Err: err}
	}

	hint := &backend.DeleteHint{OwnerID: record.UserID, MimeType: record.MimeType, Name: record.Name}

	start := time.Now()
	err = b.Delete(ctx, record.StoragePath, hint)
	o.metrics.ObserveDelete(b.Type(), time.Since(start), err)
	if err != nil {
		logger.Error("Failed to delete %s object %s for file %s: %v", b.Type(), record.StoragePath, record.ID, err)
		return &errdefs.StorageDeleteError{Backend: b.Type().String(), Path: record.StoragePath, Err: err}
	}

	// The object is gone; the record must follow even if the caller gave up.
	if err := o.gateway.DeleteFile(context.WithoutCancel(ctx), record.ID, record.UserID); err != nil {
		logger.With("owner", record.UserID).
			With("file", record.ID).
			Critical("Deleted %s object %s but failed to delete its record: %v", b.Type(), record.StoragePath, err)
		return &errdefs.InconsistencyError{
			FileID:  record.ID,
			Backend: b.Type().String(),
			Path:    record.StoragePath,
			Err:     err,
		}
	}

	logger.Info("Deleted file %s (%s object %s)", record.ID, b.Type(), record.StoragePath)
	return nil
}

// DeleteFolder removes a folder, every folder below it and every file inside
// any of them.
//
// Objects are deleted first through the same protocol as DeleteFile, so a
// failure stops the operation with the folder tree still in place and only
// already-deleted files gone. The folder rows are then removed by the
// gateway in one transaction, which refuses if a file landed in the subtree
// after it was listed. The subtree is listed again in that case, at most
// folderDeleteRounds times.
//
// Returns *errdefs.NotFoundError if the folder is absent or not owned, and
// *errdefs.FolderNotEmptyError if files kept arriving.
func (o *Orchestrator) DeleteFolder(ctx context.Context, id, ownerID string) error {
	deleted := 0
	for round := 1; ; round++ {
		files, err := o.gateway.ListSubtreeFiles(ctx, id, ownerID)
		if err != nil {
			return err
		}

		for _, f := range files {
			if err := o.deleteRecord(ctx, f); err != nil {
				return fmt.Errorf("delete folder %s: %w", id, err)
			}
		}
		deleted += len(files)

		err = o.gateway.DeleteEmptyFolder(ctx, id, ownerID)
		if err == nil {
			break
		}
		if !errors.Is(err, errdefs.ErrFolderNotEmpty) || round == folderDeleteRounds {
			return err
		}
		logger.Debug("Folder %s gained files while being deleted, listing again", id)
	}

	logger.Info("Deleted folder %s and %d file(s) for %s", id, deleted, ownerID)
	return nil
}

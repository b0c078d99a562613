package orchestrator

import (
	"context"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/backend/cdn"
	"github.com/marmos91/dittodrive/pkg/filename"
	"github.com/marmos91/dittodrive/pkg/metadata"
)

// GetFileMetadata returns the owner's file, or nil if it is absent or owned
// by someone else.
//
// Files on backends with expiring URLs get a freshly signed DownloadURL. A
// signing failure is logged and the stored URL returned.
func (o *Orchestrator) GetFileMetadata(ctx context.Context, id, ownerID string) (*metadata.FileRecord, error) {
	record, err := o.gateway.GetFile(ctx, id, ownerID)
	if err != nil || record == nil {
		return nil, err
	}
	o.refreshURL(ctx, record)
	return record, nil
}

// refreshURL replaces record.DownloadURL with a new signed URL when the
// backend issues them. Best effort.
func (o *Orchestrator) refreshURL(ctx context.Context, record *metadata.FileRecord) {
	b, err := o.backends.Get(record.StorageType)
	if err != nil {
		logger.Warn("Cannot refresh URL for file %s: %v", record.ID, err)
		return
	}
	signer, ok := backend.AsURLSigner(b)
	if !ok {
		return
	}

	url, err := signer.SignedURL(ctx, record.StoragePath)
	if err != nil {
		logger.Warn("Failed to refresh %s URL for file %s, returning stored URL: %v", b.Type(), record.ID, err)
		return
	}
	record.DownloadURL = url
}

// RenameFile gives a file a new name, sanitized like an upload name.
func (o *Orchestrator) RenameFile(ctx context.Context, id, ownerID, name string) error {
	clean, err := filename.Clean(name)
	if err != nil {
		return err
	}
	return o.gateway.UpdateFile(ctx, id, ownerID, metadata.FilePatch{Name: &clean})
}

// MoveFile puts a file into folderID, or at the root when folderID is nil.
// The target folder must belong to the owner.
func (o *Orchestrator) MoveFile(ctx context.Context, id, ownerID string, folderID *string) error {
	patch := metadata.FilePatch{FolderID: folderID}
	if folderID == nil {
		patch.MoveToRoot = true
	}
	return o.gateway.UpdateFile(ctx, id, ownerID, patch)
}

// ThumbnailURL returns a resized preview URL for CDN-hosted files and the
// download URL for everything else.
func (o *Orchestrator) ThumbnailURL(record *metadata.FileRecord, width, height int) string {
	if record.StorageType != backend.StorageTypeCDN {
		return record.DownloadURL
	}
	return cdn.ThumbnailURL(record.DownloadURL, width, height)
}

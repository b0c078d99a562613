package orchestrator

import (
	"context"

	"github.com/marmos91/dittodrive/pkg/filename"
	"github.com/marmos91/dittodrive/pkg/metadata"
)

// Items is one page of a folder listing.
type Items struct {
	Files []*metadata.FileRecord `json:"files"`

	// Folders is only filled on the first page (or an unpaged listing).
	Folders []*metadata.Folder `json:"folders"`
}

// GetItems lists the files (newest first) and sub-folders (by name) of
// folderID, or of the root when folderID is nil.
//
// A zero page.Size with a non-zero page.Number uses the configured page size.
// Signed download URLs are refreshed like GetFileMetadata does.
func (o *Orchestrator) GetItems(ctx context.Context, ownerID string, folderID *string, page metadata.Page) (*Items, error) {
	if folderID != nil {
		if err := o.requireFolder(ctx, *folderID, ownerID); err != nil {
			return nil, err
		}
	}
	if page.Number > 0 && page.Size <= 0 {
		page.Size = o.config.PageSize
	}

	files, err := o.gateway.ListFiles(ctx, ownerID, folderID, page)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		o.refreshURL(ctx, f)
	}

	items := &Items{Files: files}
	if page.Number == 0 {
		folders, err := o.gateway.ListFolders(ctx, ownerID, folderID)
		if err != nil {
			return nil, err
		}
		items.Folders = folders
	}
	if items.Files == nil {
		items.Files = []*metadata.FileRecord{}
	}
	if items.Folders == nil {
		items.Folders = []*metadata.Folder{}
	}
	return items, nil
}

// CreateFolder creates a folder under parentID (nil = root). The name is
// sanitized like an upload name and the parent must belong to the owner.
func (o *Orchestrator) CreateFolder(ctx context.Context, ownerID, name string, parentID *string) (*metadata.Folder, error) {
	clean, err := filename.Clean(name)
	if err != nil {
		return nil, err
	}
	return o.gateway.CreateFolder(ctx, &metadata.Folder{Name: clean, ParentID: parentID, UserID: ownerID})
}

// GetUserStorageSize returns the bytes held by ownerID across all backends.
func (o *Orchestrator) GetUserStorageSize(ctx context.Context, ownerID string) (int64, error) {
	return o.gateway.SumFileSizes(ctx, ownerID)
}

// CanUploadToLocal reports whether size more bytes fit in ownerID's local
// quota.
func (o *Orchestrator) CanUploadToLocal(ctx context.Context, ownerID string, size int64) (bool, error) {
	used, err := o.gateway.SumFileSizes(ctx, ownerID)
	if err != nil {
		return false, err
	}
	return used+size <= o.config.LocalQuota, nil
}

// LocalQuota returns the configured per-owner quota.
func (o *Orchestrator) LocalQuota() int64 { return o.config.LocalQuota }

// Package metadata defines the file and folder records and the Gateway that
// persists them.
//
// The relational store is the single source of truth mapping a user-facing
// file to the (StorageType, StoragePath) pair that locates its object. Every
// Gateway operation is scoped by user: a record owned by somebody else is
// indistinguishable from a missing one.
package metadata

import (
	"context"
	"time"

	"github.com/marmos91/dittodrive/pkg/backend"
)

// FileRecord is the metadata row for one stored object.
type FileRecord struct {
	// ID is generated by the gateway on insert and never changes.
	ID string `json:"id"`

	Name     string `json:"name" validate:"required,max=255,filename"`
	Size     int64  `json:"size" validate:"gt=0"`
	MimeType string `json:"mime_type"`

	// DownloadURL is refreshed on read for backends issuing signed URLs;
	// the stored value may be stale.
	DownloadURL string `json:"download_url" validate:"required"`

	// StoragePath is opaque outside the owning backend.
	StoragePath string              `json:"storage_path" validate:"required"`
	StorageType backend.StorageType `json:"storage_type" validate:"required,oneof=cdn s3 blob gdrive"`

	// FolderID is nil for files at the root.
	FolderID *string `json:"folder_id,omitempty" validate:"omitnil,uuid"`

	UserID    string    `json:"user_id" validate:"required"`
	CreatedAt time.Time `json:"created_at"`
}

// Folder is a node of a user's folder tree.
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name" validate:"required,max=255,filename"`

	// ParentID is nil for top-level folders.
	ParentID *string `json:"parent_id,omitempty" validate:"omitnil,uuid"`

	UserID    string    `json:"user_id" validate:"required"`
	CreatedAt time.Time `json:"created_at"`
}

// FilePatch lists the mutable fields of a FileRecord. Nil fields are left
// unchanged.
type FilePatch struct {
	Name *string

	// FolderID moves the file. Set MoveToRoot to move it to the root, since
	// a nil FolderID means "unchanged".
	FolderID   *string
	MoveToRoot bool
}

// IsEmpty reports whether the patch changes nothing.
func (p FilePatch) IsEmpty() bool {
	return p.Name == nil && p.FolderID == nil && !p.MoveToRoot
}

// Page selects a window of a listing. Number is zero-based; a Size of zero
// or less returns everything.
type Page struct {
	Number int
	Size   int
}

// Offset returns the index of the first row of the page.
func (p Page) Offset() int {
	if p.Size <= 0 || p.Number <= 0 {
		return 0
	}
	return p.Number * p.Size
}

// Paged reports whether the listing is windowed.
func (p Page) Paged() bool { return p.Size > 0 }

// StoredObject is a (backend, path) pair referenced by a FileRecord.
type StoredObject struct {
	StorageType backend.StorageType
	StoragePath string
}

// ============================================================================
// Gateway Interface
// ============================================================================

// Gateway is the ownership-scoped CRUD surface over file and folder
// records.
//
// Error Contract:
//   - Shape violations on create return *errdefs.ValidationError
//   - Update/delete of a row that is absent or owned by another user
//     returns *errdefs.NotFoundError
//   - GetFile/GetFolder return (nil, nil) for absent or foreign rows
//   - Anything else is a storage failure, wrapped with context
//
// Thread Safety:
// Implementations must be safe for concurrent use. The gateway is the only
// serialisation point between concurrent requests of the same user.
type Gateway interface {
	// ListFiles returns the files directly inside folderID (nil = root),
	// newest first.
	ListFiles(ctx context.Context, userID string, folderID *string, page Page) ([]*FileRecord, error)

	// ListFolders returns the folders directly inside parentID (nil = root),
	// ordered by name.
	ListFolders(ctx context.Context, userID string, parentID *string) ([]*Folder, error)

	// GetFile returns the file, or nil when it is absent or not owned.
	GetFile(ctx context.Context, id, userID string) (*FileRecord, error)

	// GetFolder returns the folder, or nil when it is absent or not owned.
	GetFolder(ctx context.Context, id, userID string) (*Folder, error)

	// CreateFolder validates and inserts folder, assigning ID and CreatedAt.
	CreateFolder(ctx context.Context, folder *Folder) (*Folder, error)

	// CreateFile validates and inserts record, assigning ID and CreatedAt.
	CreateFile(ctx context.Context, record *FileRecord) (*FileRecord, error)

	// UpdateFile applies patch to the owned file.
	UpdateFile(ctx context.Context, id, userID string, patch FilePatch) error

	// DeleteFile removes the owned file row.
	DeleteFile(ctx context.Context, id, userID string) error

	// DeleteFolder removes the owned folder, every descendant folder and
	// every file inside any of them, in a single transaction.
	DeleteFolder(ctx context.Context, id, userID string) error

	// DeleteEmptyFolder removes the owned folder and every descendant
	// folder in a single transaction, provided no file row remains in the
	// subtree. Otherwise it deletes nothing and returns
	// *errdefs.FolderNotEmptyError.
	DeleteEmptyFolder(ctx context.Context, id, userID string) error

	// ListSubtreeFiles returns every file inside the owned folder or any
	// descendant folder.
	ListSubtreeFiles(ctx context.Context, folderID, userID string) ([]*FileRecord, error)

	// SumFileSizes returns the total size of the user's files.
	SumFileSizes(ctx context.Context, userID string) (int64, error)

	// ListStoredObjects returns every object referenced by any record of
	// the given backend, across all users. Used by garbage collection.
	ListStoredObjects(ctx context.Context, storageType backend.StorageType) ([]StoredObject, error)

	// Healthcheck verifies the store is reachable.
	Healthcheck(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

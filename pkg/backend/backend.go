// Package backend defines the uniform contract every storage backend satisfies.
//
// The set of backends is closed (see StorageType). Optional behaviour is
// expressed through narrower capability interfaces rather than by probing
// for methods:
//
//   - Connector: backends that need a per-user grant (personal drive)
//   - URLSigner: backends whose download URLs expire and must be re-signed
//   - Lister:    backends that can enumerate their objects (orphan GC)
//   - BatchDeleter: backends with a bulk delete call
//
// Use the package helpers (IsConnected, AsURLSigner, AsLister) to query them.
package backend

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// StorageType tags which backend holds an object. Stored with every file record.
type StorageType string

const (
	StorageTypeCDN   StorageType = "cdn"
	StorageTypeS3    StorageType = "s3"
	StorageTypeBlob  StorageType = "blob"
	StorageTypeDrive StorageType = "gdrive"
)

// AllStorageTypes lists every known backend tag.
var AllStorageTypes = []StorageType{StorageTypeCDN, StorageTypeS3, StorageTypeBlob, StorageTypeDrive}

// ParseStorageType validates a stored tag.
func ParseStorageType(s string) (StorageType, error) {
	for _, t := range AllStorageTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown storage type %q", s)
}

func (t StorageType) String() string { return string(t) }

// File is an upload payload.
//
// Content is an io.ReaderAt so that each retry attempt can read the payload
// from the start through its own io.SectionReader.
type File struct {
	Name     string
	Size     int64
	MimeType string
	Content  io.ReaderAt
}

// Reader returns a fresh reader over the whole payload.
func (f *File) Reader() *io.SectionReader {
	return io.NewSectionReader(f.Content, 0, f.Size)
}

// IsImage reports whether the file has an image/* MIME type.
func (f *File) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(f.MimeType), "image/")
}

// UploadResult is what a backend reports after a successful upload.
type UploadResult struct {
	// URL is the download URL. May be a signed URL with an expiry.
	URL string

	// Path is the backend-specific locator later passed to Delete.
	Path string

	Type StorageType
}

// Progress reports bytes sent so far for one upload.
type Progress struct {
	BytesTransferred int64
	TotalBytes       int64
}

// Percent returns progress in the 0-100 range.
func (p Progress) Percent() float64 {
	if p.TotalBytes <= 0 {
		return 0
	}
	return float64(p.BytesTransferred) * 100 / float64(p.TotalBytes)
}

// ProgressFunc receives progress updates. Calls for one upload are
// sequential and BytesTransferred never decreases.
type ProgressFunc func(Progress)

// DeleteHint carries what is known about an object beyond its path.
// Backends that need a resource classification (the CDN) derive it from
// here; backends that act on behalf of a user (the drive) need OwnerID.
type DeleteHint struct {
	OwnerID  string
	MimeType string
	Name     string
}

// ObjectInfo describes an object found by a Lister.
type ObjectInfo struct {
	Path      string
	Size      int64
	CreatedAt time.Time
}

// Backend is the contract every storage backend implements.
type Backend interface {
	// Type returns the backend's storage tag.
	Type() StorageType

	// IsConfigured reports whether the backend has the settings it needs.
	// Pure check, performs no I/O.
	IsConfigured() bool

	// Upload stores file on behalf of ownerID. Failures are returned as
	// *errdefs.UploadError.
	Upload(ctx context.Context, file *File, ownerID string, progress ProgressFunc) (*UploadResult, error)

	// Delete removes the object at path. Deleting an absent object succeeds.
	Delete(ctx context.Context, path string, hint *DeleteHint) error
}

// Connector is implemented by backends that need a per-user grant.
type Connector interface {
	Backend
	IsConnected(ctx context.Context, ownerID string) bool
}

// URLSigner is implemented by backends whose download URLs expire.
type URLSigner interface {
	Backend
	SignedURL(ctx context.Context, path string) (string, error)
}

// Lister is implemented by backends that can enumerate stored objects.
type Lister interface {
	Backend
	ListObjects(ctx context.Context) ([]ObjectInfo, error)
}

// BatchDeleter is implemented by backends that can remove many objects in
// one round trip. Returns per-path failures.
type BatchDeleter interface {
	Backend
	DeleteBatch(ctx context.Context, paths []string) (map[string]error, error)
}

// IsConnected reports whether b can serve ownerID right now. Backends that
// are not Connectors are connected whenever they are configured.
func IsConnected(ctx context.Context, b Backend, ownerID string) bool {
	if b == nil || !b.IsConfigured() {
		return false
	}
	if c, ok := b.(Connector); ok {
		return c.IsConnected(ctx, ownerID)
	}
	return true
}

// AsURLSigner returns b's URLSigner capability, if it has one.
func AsURLSigner(b Backend) (URLSigner, bool) {
	s, ok := b.(URLSigner)
	return s, ok
}

// AsLister returns b's Lister capability, if it has one.
func AsLister(b Backend) (Lister, bool) {
	l, ok := b.(Lister)
	return l, ok
}

// Package errdefs defines the error taxonomy shared by every storage layer.
//
// Two forms are provided for each failure class:
//   - a sentinel (ErrNotFound, ErrValidation, ...) for errors.Is checks
//   - a typed error (*NotFoundError, *ValidationError, ...) carrying details,
//     retrievable with errors.As
//
// Every typed error reports its sentinel through an Is method, so callers
// can branch on the class without caring which concrete type was raised:
//
//	if errors.Is(err, errdefs.ErrNotFound) {
//	    return http.StatusNotFound
//	}
package errdefs

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinels
// ============================================================================

var (
	// ErrValidation indicates input rejected before any side effect.
	//
	// Raised for invalid file/folder names, non-positive sizes and records
	// that fail shape validation in the metadata gateway.
	//
	// HTTP Mapping: 400 Bad Request
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates the record is absent or not owned by the caller.
	// The two cases are deliberately indistinguishable.
	//
	// HTTP Mapping: 404 Not Found
	ErrNotFound = errors.New("not found")

	// ErrQuotaExceeded indicates the local quota is exhausted and no personal
	// drive is connected to absorb the upload.
	//
	// HTTP Mapping: 507 Insufficient Storage
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrUpload indicates a backend failed to accept an upload after retries.
	//
	// HTTP Mapping: 502 Bad Gateway
	ErrUpload = errors.New("upload failed")

	// ErrStorageDelete indicates a backend failed to delete an object.
	// The metadata row is left untouched when this is returned.
	//
	// HTTP Mapping: 502 Bad Gateway
	ErrStorageDelete = errors.New("storage delete failed")

	// ErrFinalization indicates the upload succeeded but the metadata could
	// not be persisted. The uploaded object has been (or was attempted to be)
	// removed.
	//
	// HTTP Mapping: 500 Internal Server Error
	ErrFinalization = errors.New("upload finalization failed")

	// ErrInconsistent indicates the physical object was deleted but the
	// metadata row could not be removed. Fatal class: needs manual repair.
	//
	// HTTP Mapping: 500 Internal Server Error
	ErrInconsistent = errors.New("metadata inconsistent with storage")

	// ErrOrphan indicates an object was left in a backend with no metadata
	// pointing at it, after the compensating delete also failed.
	ErrOrphan = errors.New("orphaned object")

	// ErrNotConfigured indicates a backend lacks the configuration needed to
	// operate. Never retried.
	ErrNotConfigured = errors.New("backend not configured")

	// ErrNotConnected indicates a backend requiring a user grant (personal
	// drive) has none for the caller. Never retried.
	ErrNotConnected = errors.New("backend not connected")

	// ErrFolderNotEmpty indicates a folder still holds files the caller did
	// not account for, so it was left in place.
	//
	// HTTP Mapping: 409 Conflict
	ErrFolderNotEmpty = errors.New("folder not empty")
)

// ============================================================================
// Typed errors
// ============================================================================

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InvalidNameError is the ValidationError raised for file and folder names.
type InvalidNameError struct {
	Name   string
	Reason string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid name %q: %s", e.Name, e.Reason)
}

func (e *InvalidNameError) Is(target error) bool { return target == ErrValidation }

// NotFoundError identifies the missing (or foreign) record.
type NotFoundError struct {
	Kind string // "file" or "folder"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// FolderNotEmptyError reports how many files kept the folder from being
// removed.
type FolderNotEmptyError struct {
	ID    string
	Files int
}

func (e *FolderNotEmptyError) Error() string {
	return fmt.Sprintf("folder %s still holds %d file(s)", e.ID, e.Files)
}

func (e *FolderNotEmptyError) Is(target error) bool { return target == ErrFolderNotEmpty }

// UploadError wraps a backend upload failure.
//
// Permanent marks failures that retrying cannot fix (rejected credentials,
// a 4xx from the backend other than throttling).
type UploadError struct {
	Backend   string
	Permanent bool
	Err       error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s upload: %v", e.Backend, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

func (e *UploadError) Is(target error) bool { return target == ErrUpload }

// StorageDeleteError wraps a backend delete failure.
type StorageDeleteError struct {
	Backend string
	Path    string
	Err     error
}

func (e *StorageDeleteError) Error() string {
	return fmt.Sprintf("%s delete %s: %v", e.Backend, e.Path, e.Err)
}

func (e *StorageDeleteError) Unwrap() error { return e.Err }

func (e *StorageDeleteError) Is(target error) bool { return target == ErrStorageDelete }

// OrphanError records an object that could not be cleaned up.
type OrphanError struct {
	Backend string
	Path    string
	Err     error
}

func (e *OrphanError) Error() string {
	return fmt.Sprintf("orphaned %s object %s: %v", e.Backend, e.Path, e.Err)
}

func (e *OrphanError) Unwrap() error { return e.Err }

func (e *OrphanError) Is(target error) bool { return target == ErrOrphan }

// FinalizationError is returned when metadata persistence fails after a
// successful upload.
//
// Cause is the persistence error and is what Unwrap returns, so errors.Is
// against the cause keeps working. Orphan is non-nil only when the
// compensating delete failed too.
type FinalizationError struct {
	Backend string
	Path    string
	Cause   error
	Orphan  *OrphanError
}

func (e *FinalizationError) Error() string {
	msg := fmt.Sprintf("finalize %s upload %s: %v", e.Backend, e.Path, e.Cause)
	if e.Orphan != nil {
		msg += " (cleanup failed: " + e.Orphan.Err.Error() + ")"
	}
	return msg
}

func (e *FinalizationError) Unwrap() error { return e.Cause }

func (e *FinalizationError) Is(target error) bool {
	if target == ErrFinalization {
		return true
	}
	return target == ErrOrphan && e.Orphan != nil
}

// InconsistencyError is returned when an object was deleted but its
// metadata row survived.
type InconsistencyError struct {
	FileID  string
	Backend string
	Path    string
	Err     error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("file %s: %s object %s deleted but metadata remains: %v",
		e.FileID, e.Backend, e.Path, e.Err)
}

func (e *InconsistencyError) Unwrap() error { return e.Err }

func (e *InconsistencyError) Is(target error) bool { return target == ErrInconsistent }

// ============================================================================
// Helpers
// ============================================================================

// IsNotFound reports whether err is in the not-found class.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err is in the validation class.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsPermanent reports whether retrying err is pointless.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrQuotaExceeded) {
		return true
	}
	var ue *UploadError
	if errors.As(err, &ue) && ue.Permanent {
		return true
	}
	return false
}

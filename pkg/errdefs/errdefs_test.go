package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"validation", &ValidationError{Field: "size", Reason: "must be positive"}, ErrValidation},
		{"invalid name", &InvalidNameError{Name: "CON", Reason: "reserved"}, ErrValidation},
		{"not found", &NotFoundError{Kind: "file", ID: "f1"}, ErrNotFound},
		{"upload", &UploadError{Backend: "s3", Err: errors.New("boom")}, ErrUpload},
		{"storage delete", &StorageDeleteError{Backend: "s3", Path: "k", Err: errors.New("boom")}, ErrStorageDelete},
		{"inconsistent", &InconsistencyError{FileID: "f1", Err: errors.New("boom")}, ErrInconsistent},
		{"orphan", &OrphanError{Backend: "s3", Path: "k", Err: errors.New("boom")}, ErrOrphan},
		{"folder not empty", &FolderNotEmptyError{ID: "d1", Files: 2}, ErrFolderNotEmpty},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("context: %w", tc.err)
			assert.ErrorIs(t, wrapped, tc.sentinel)
		})
	}
}

func TestFinalizationErrorKeepsCause(t *testing.T) {
	cause := errors.New("db unavailable")
	err := &FinalizationError{Backend: "cdn", Path: "p", Cause: cause}

	assert.ErrorIs(t, err, ErrFinalization)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrOrphan)

	err.Orphan = &OrphanError{Backend: "cdn", Path: "p", Err: errors.New("proxy down")}
	assert.ErrorIs(t, err, ErrOrphan)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "db unavailable")
	assert.Contains(t, err.Error(), "proxy down")
}

func TestIsPermanent(t *testing.T) {
	assert.False(t, IsPermanent(nil))
	assert.False(t, IsPermanent(errors.New("timeout")))
	assert.False(t, IsPermanent(&UploadError{Backend: "s3", Err: errors.New("503")}))

	assert.True(t, IsPermanent(&UploadError{Backend: "s3", Permanent: true, Err: errors.New("403")}))
	assert.True(t, IsPermanent(&InvalidNameError{Name: "a.", Reason: "trailing dot"}))
	assert.True(t, IsPermanent(fmt.Errorf("drive: %w", ErrNotConnected)))
	assert.True(t, IsPermanent(ErrNotConfigured))
}

func TestErrorsAs(t *testing.T) {
	err := fmt.Errorf("delete: %w", &StorageDeleteError{Backend: "blob", Path: "u/1_a", Err: errors.New("io")})

	var sde *StorageDeleteError
	require.ErrorAs(t, err, &sde)
	assert.Equal(t, "blob", sde.Backend)
	assert.Equal(t, "u/1_a", sde.Path)
}

package testing

import (
	"bytes"
	"context"
	"testing"

	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// BackendTestSuite checks the contract every storage backend must honour.
// It tests the interface, not implementation details, so it is reused by
// every backend package.
//
// Usage:
//
//	func TestMyBackend(t *testing.T) {
//	    suite := &testing.BackendTestSuite{
//	        NewBackend: func(t *testing.T) backend.Backend { return mybackend.New(...) },
//	        Exists:     func(b backend.Backend, path string) bool { ... },
//	    }
//	    suite.Run(t)
//	}
type BackendTestSuite struct {
	// NewBackend creates a fresh, configured backend for each test.
	NewBackend func(t *testing.T) backend.Backend

	// Exists reports whether path is stored in b. Optional: when nil the
	// storage checks are skipped and only the call contract is verified.
	Exists func(b backend.Backend, path string) bool

	// Owner is the owner ID used for uploads (default "user-1").
	Owner string
}

// Run executes all tests in the suite.
func (s *BackendTestSuite) Run(t *testing.T) {
	if s.Owner == "" {
		s.Owner = "user-1"
	}
	t.Run("UploadStoresObject", s.testUploadStoresObject)
	t.Run("UploadReportsProgress", s.testUploadReportsProgress)
	t.Run("DeleteIsIdempotent", s.testDeleteIsIdempotent)
	t.Run("DeleteAbsentSucceeds", s.testDeleteAbsentSucceeds)
	t.Run("DistinctPaths", s.testDistinctPaths)
	t.Run("CancelledContext", s.testCancelledContext)
}

// NewFile builds an upload payload from a string.
func NewFile(name, mimeType, content string) *backend.File {
	return &backend.File{
		Name:     name,
		Size:     int64(len(content)),
		MimeType: mimeType,
		Content:  bytes.NewReader([]byte(content)),
	}
}

func (s *BackendTestSuite) testUploadStoresObject(t *testing.T) {
	ctx := context.Background()
	b := s.NewBackend(t)
	require.True(t, b.IsConfigured())

	res, err := b.Upload(ctx, NewFile("notes.txt", "text/plain", "hello"), s.Owner, nil)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.NotEmpty(t, res.Path)
	assert.NotEmpty(t, res.URL)
	assert.Equal(t, b.Type(), res.Type)

	if s.Exists != nil {
		assert.True(t, s.Exists(b, res.Path))
	}
}

func (s *BackendTestSuite) testUploadReportsProgress(t *testing.T) {
	ctx := context.Background()
	b := s.NewBackend(t)

	content := string(bytes.Repeat([]byte("x"), 64*1024))
	var seen []backend.Progress
	_, err := b.Upload(ctx, NewFile("big.bin", "application/octet-stream", content), s.Owner,
		func(p backend.Progress) { seen = append(seen, p) })
	require.NoError(t, err)

	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].BytesTransferred, seen[i-1].BytesTransferred)
	}
	last := seen[len(seen)-1]
	assert.Equal(t, int64(len(content)), last.BytesTransferred)
	assert.Equal(t, int64(len(content)), last.TotalBytes)
}

func (s *BackendTestSuite) testDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := s.NewBackend(t)

	res, err := b.Upload(ctx, NewFile("photo.jpg", "image/jpeg", "jpeg-bytes"), s.Owner, nil)
	require.NoError(t, err)

	hint := &backend.DeleteHint{OwnerID: s.Owner, MimeType: "image/jpeg", Name: "photo.jpg"}
	require.NoError(t, b.Delete(ctx, res.Path, hint))
	require.NoError(t, b.Delete(ctx, res.Path, hint))

	if s.Exists != nil {
		assert.False(t, s.Exists(b, res.Path))
	}
}

func (s *BackendTestSuite) testDeleteAbsentSucceeds(t *testing.T) {
	b := s.NewBackend(t)
	assert.NoError(t, b.Delete(context.Background(), "does-not-exist", &backend.DeleteHint{OwnerID: s.Owner}))
}

func (s *BackendTestSuite) testDistinctPaths(t *testing.T) {
	ctx := context.Background()
	b := s.NewBackend(t)

	first, err := b.Upload(ctx, NewFile("same.txt", "text/plain", "one"), s.Owner, nil)
	require.NoError(t, err)
	second, err := b.Upload(ctx, NewFile("same.txt", "text/plain", "two"), s.Owner, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.Path, second.Path)
}

func (s *BackendTestSuite) testCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := s.NewBackend(t)
	_, err := b.Upload(ctx, NewFile("late.txt", "text/plain", "late"), s.Owner, nil)
	assert.Error(t, err)
}

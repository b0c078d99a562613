package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/backend"
	backendtesting "github.com/marmos91/dittodrive/pkg/backend/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend(t *testing.T) {
	suite := &backendtesting.BackendTestSuite{
		NewBackend: func(t *testing.T) backend.Backend { return New() },
		Exists:     func(b backend.Backend, path string) bool { return b.(*Backend).Exists(path) },
	}
	suite.Run(t)
}

func TestInjectedFailures(t *testing.T) {
	ctx := context.Background()
	b := New(WithType(backend.StorageTypeS3))
	boom := errors.New("boom")

	b.FailUploads(boom, nil)
	_, err := b.Upload(ctx, backendtesting.NewFile("a", "text/plain", "a"), "u1", nil)
	assert.Same(t, boom, err)

	res, err := b.Upload(ctx, backendtesting.NewFile("a", "text/plain", "a"), "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, backend.StorageTypeS3, res.Type)
	assert.Equal(t, 2, b.UploadCalls())

	b.FailDeletes(boom)
	assert.Same(t, boom, b.Delete(ctx, res.Path, nil))
	assert.True(t, b.Exists(res.Path))
	require.NoError(t, b.Delete(ctx, res.Path, nil))
	assert.False(t, b.Exists(res.Path))
	assert.Equal(t, []string{res.Path, res.Path}, b.DeleteCalls())
}

func TestHangingDelete(t *testing.T) {
	b := New()
	res, err := b.Upload(context.Background(), backendtesting.NewFile("a", "text/plain", "a"), "u1", nil)
	require.NoError(t, err)

	b.HangDeletes()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Delete(ctx, res.Path, nil), context.DeadlineExceeded)
	assert.True(t, b.Exists(res.Path))
}

func TestCapabilityViews(t *testing.T) {
	ctx := context.Background()
	b := New(WithType(backend.StorageTypeDrive))

	c := b.Connector()
	assert.False(t, c.IsConnected(ctx, "u1"))
	b.Connect("u1")
	assert.True(t, c.IsConnected(ctx, "u1"))
	assert.True(t, backend.IsConnected(ctx, c, "u1"))
	b.Disconnect("u1")
	assert.False(t, backend.IsConnected(ctx, c, "u1"))

	s := New(WithSignedURLs()).Signer()
	first, err := s.SignedURL(ctx, "p")
	require.NoError(t, err)
	second, err := s.SignedURL(ctx, "p")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	l := New().Lister()
	_, err = l.Upload(ctx, backendtesting.NewFile("x", "text/plain", "x"), "u1", nil)
	require.NoError(t, err)
	objs, err := l.ListObjects(ctx)
	require.NoError(t, err)
	assert.Len(t, objs, 1)
}

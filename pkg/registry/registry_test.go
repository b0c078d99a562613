package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/backend/memory"
	"github.com/marmos91/dittodrive/pkg/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closingBackend struct {
	*memory.Backend
	closed bool
	err    error
}

func (c *closingBackend) Close() error {
	c.closed = true
	return c.err
}

func TestValidate(t *testing.T) {
	t.Run("RequiresBlob", func(t *testing.T) {
		r := &Registry{S3: memory.New(memory.WithType(backend.StorageTypeS3))}
		assert.Error(t, r.Validate())
	})

	t.Run("RejectsMismatchedSlot", func(t *testing.T) {
		r := &Registry{
			Blob: memory.New(),
			CDN:  memory.New(memory.WithType(backend.StorageTypeS3)),
		}
		assert.ErrorContains(t, r.Validate(), "cdn slot holds a s3 backend")
	})

	t.Run("AcceptsPartialSet", func(t *testing.T) {
		r := &Registry{Blob: memory.New()}
		assert.NoError(t, r.Validate())
	})
}

func TestGet(t *testing.T) {
	blob := memory.New()
	r := &Registry{Blob: blob}

	got, err := r.Get(backend.StorageTypeBlob)
	require.NoError(t, err)
	assert.Same(t, blob, got)

	_, err = r.Get(backend.StorageTypeDrive)
	assert.ErrorIs(t, err, errdefs.ErrNotConfigured)

	_, err = r.Get("ftp")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, errdefs.ErrNotConfigured)
}

func TestListersSkipsUnconfiguredAndIncapable(t *testing.T) {
	s3 := memory.New(memory.WithType(backend.StorageTypeS3))
	cdn := memory.New(memory.WithType(backend.StorageTypeCDN), memory.Unconfigured())
	r := &Registry{
		Blob: memory.New().Lister(),
		S3:   s3.Lister(),
		CDN:  cdn.Lister(),
	}

	listers := r.Listers()

	require.Len(t, listers, 2)
	assert.Equal(t, backend.StorageTypeS3, listers[0].Type())
	assert.Equal(t, backend.StorageTypeBlob, listers[1].Type())
}

func TestStatus(t *testing.T) {
	drive := memory.New(memory.WithType(backend.StorageTypeDrive))
	drive.Connect("alice")
	r := &Registry{Blob: memory.New(), Drive: drive.Connector()}

	st := r.Status(context.Background(), "alice")

	assert.Equal(t, BackendStatus{Configured: true, Connected: true}, st[backend.StorageTypeDrive])
	assert.Equal(t, BackendStatus{Configured: true, Connected: true}, st[backend.StorageTypeBlob])
	assert.Equal(t, BackendStatus{}, st[backend.StorageTypeCDN])

	st = r.Status(context.Background(), "bob")
	assert.False(t, st[backend.StorageTypeDrive].Connected)
}

func TestCloseClosesEveryCloser(t *testing.T) {
	boom := errors.New("boom")
	blob := &closingBackend{Backend: memory.New(), err: boom}
	s3 := &closingBackend{Backend: memory.New(memory.WithType(backend.StorageTypeS3))}
	r := &Registry{Blob: blob, S3: s3}

	err := r.Close()

	assert.ErrorIs(t, err, boom)
	assert.True(t, blob.closed)
	assert.True(t, s3.closed)
}

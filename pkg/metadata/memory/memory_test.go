package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/metadata"
	metadatatesting "github.com/marmos91/dittodrive/pkg/metadata/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGateway(t *testing.T) {
	suite := &metadatatesting.GatewayTestSuite{
		NewGateway: func(t *testing.T) metadata.Gateway { return New() },
	}
	suite.Run(t)
}

func TestInjectedFailures(t *testing.T) {
	g := New()
	ctx := context.Background()
	boom := errors.New("boom")

	record := &metadata.FileRecord{
		Name:        "a.txt",
		Size:        1,
		DownloadURL: "u",
		StoragePath: "p",
		StorageType: backend.StorageTypeBlob,
		UserID:      "u1",
	}

	g.FailCreateFile(boom)
	_, err := g.CreateFile(ctx, record)
	require.ErrorIs(t, err, boom)

	created, err := g.CreateFile(ctx, record)
	require.NoError(t, err)

	g.FailDeleteFile(boom)
	assert.ErrorIs(t, g.DeleteFile(ctx, created.ID, "u1"), boom)
	assert.NoError(t, g.DeleteFile(ctx, created.ID, "u1"))
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	g := New()
	ctx := context.Background()

	created, err := g.CreateFile(ctx, &metadata.FileRecord{
		Name:        "a.txt",
		Size:        1,
		DownloadURL: "u",
		StoragePath: "p",
		StorageType: backend.StorageTypeBlob,
		UserID:      "u1",
	})
	require.NoError(t, err)

	created.Name = "mutated"
	got, err := g.GetFile(ctx, created.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", got.Name)
}

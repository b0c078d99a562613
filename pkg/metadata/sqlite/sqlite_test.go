package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/metadata"
	metadatatesting "github.com/marmos91/dittodrive/pkg/metadata/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()

	gw, err := New(context.Background(), Config{
		Path:        filepath.Join(t.TempDir(), "meta", "dittodrive.db"),
		AutoMigrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

func TestSQLiteGateway(t *testing.T) {
	suite := &metadatatesting.GatewayTestSuite{
		NewGateway: func(t *testing.T) metadata.Gateway { return newTestGateway(t) },
	}
	suite.Run(t)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dittodrive.db")

	gw, err := New(ctx, Config{Path: path, AutoMigrate: true})
	require.NoError(t, err)
	created, err := gw.CreateFile(ctx, &metadata.FileRecord{
		Name:        "a.txt",
		Size:        3,
		DownloadURL: "https://example.com/a.txt",
		StoragePath: "u1/a.txt",
		StorageType: backend.StorageTypeS3,
		UserID:      "u1",
	})
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	// Act
	reopened, err := New(ctx, Config{Path: path, AutoMigrate: true})
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.GetFile(ctx, created.ID, "u1")

	// Assert
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, backend.StorageTypeS3, got.StorageType)
}

func TestTimestampsRoundTripAtMicrosecondPrecision(t *testing.T) {
	gw := newTestGateway(t)
	gw.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 987654321, time.UTC) }

	created, err := gw.CreateFolder(context.Background(), &metadata.Folder{Name: "docs", UserID: "u1"})
	require.NoError(t, err)

	got, err := gw.GetFolder(context.Background(), created.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 987654000, got.CreatedAt.Nanosecond())
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
}

func TestPlaceholders(t *testing.T) {
	marks, args := placeholders([]string{"a", "b", "c"})

	assert.Equal(t, "?, ?, ?", marks)
	assert.Equal(t, []any{"a", "b", "c"}, args)
}

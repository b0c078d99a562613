// Package testing provides the contract suite every metadata.Gateway must
// pass.
package testing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// GatewayTestSuite is a comprehensive test suite for Gateway implementations.
// It tests the interface contract, not implementation details, making it
// reusable across the memory, SQLite and PostgreSQL gateways.
type GatewayTestSuite struct {
	// NewGateway creates a fresh, empty gateway for each test. This ensures
	// test isolation.
	NewGateway func(t *testing.T) metadata.Gateway
}

// Run executes all tests in the suite.
func (suite *GatewayTestSuite) Run(test *testing.T) {
	test.Run("Create", suite.RunCreateTests)
	test.Run("List", suite.RunListTests)
	test.Run("Ownership", suite.RunOwnershipTests)
	test.Run("Update", suite.RunUpdateTests)
	test.Run("Delete", suite.RunDeleteTests)
	test.Run("Aggregates", suite.RunAggregateTests)
	test.Run("Healthcheck", suite.TestHealthcheck)
}

// TestHealthcheck verifies a fresh gateway is healthy and that the check
// honours its context.
func (suite *GatewayTestSuite) TestHealthcheck(test *testing.T) {
	gw := suite.NewGateway(test)
	require.NoError(test, gw.Healthcheck(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(test, gw.Healthcheck(ctx), context.Canceled)
}

// ============================================================================
// Helpers
// ============================================================================

const (
	userA = "user-a"
	userB = "user-b"
)

// fileSeq keeps storage paths unique across a test.
var fileSeq int

// newFile builds a valid record for userID inside folderID (nil = root).
func newFile(userID, name string, size int64, folderID *string) *metadata.FileRecord {
	fileSeq++
	return &metadata.FileRecord{
		Name:        name,
		Size:        size,
		MimeType:    "text/plain",
		DownloadURL: "https://cdn.example.com/" + name,
		StoragePath: fmt.Sprintf("%s/%d_%s", userID, fileSeq, name),
		StorageType: backend.StorageTypeBlob,
		FolderID:    folderID,
		UserID:      userID,
	}
}

func mustCreateFile(t *testing.T, gw metadata.Gateway, record *metadata.FileRecord) *metadata.FileRecord {
	t.Helper()
	created, err := gw.CreateFile(context.Background(), record)
	require.NoError(t, err)
	return created
}

func mustCreateFolder(t *testing.T, gw metadata.Gateway, userID, name string, parentID *string) *metadata.Folder {
	t.Helper()
	created, err := gw.CreateFolder(context.Background(), &metadata.Folder{Name: name, ParentID: parentID, UserID: userID})
	require.NoError(t, err)
	return created
}

// pause separates creation timestamps so newest-first ordering is
// deterministic on every store.
func pause() {
	time.Sleep(5 * time.Millisecond)
}

func ptr(s string) *string { return &s }

func names(files []*metadata.FileRecord) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name
	}
	return out
}

func folderNames(folders []*metadata.Folder) []string {
	out := make([]string, len(folders))
	for i, f := range folders {
		out[i] = f.Name
	}
	return out
}

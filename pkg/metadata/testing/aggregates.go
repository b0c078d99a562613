package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *GatewayTestSuite) RunAggregateTests(test *testing.T) {
	test.Run("SumFileSizes", suite.TestSumFileSizes)
	test.Run("ListStoredObjects", suite.TestListStoredObjects)
}

// TestSumFileSizes verifies the total covers every folder of one user.
func (suite *GatewayTestSuite) TestSumFileSizes(test *testing.T) {
	gw := suite.NewGateway(test)
	ctx := context.Background()
	folder := mustCreateFolder(test, gw, userA, "docs", nil)

	mustCreateFile(test, gw, newFile(userA, "a.txt", 100, nil))
	mustCreateFile(test, gw, newFile(userA, "b.txt", 250, &folder.ID))
	mustCreateFile(test, gw, newFile(userB, "c.txt", 1000, nil))

	// Act
	totalA, err := gw.SumFileSizes(ctx, userA)
	require.NoError(test, err)
	totalNobody, err := gw.SumFileSizes(ctx, "nobody")
	require.NoError(test, err)

	// Assert
	assert.Equal(test, int64(350), totalA)
	assert.Zero(test, totalNobody)
}

// TestListStoredObjects verifies the per-backend reference list spans
// users.
func (suite *GatewayTestSuite) TestListStoredObjects(test *testing.T) {
	gw := suite.NewGateway(test)
	ctx := context.Background()

	blobA := mustCreateFile(test, gw, newFile(userA, "a.txt", 1, nil))
	blobB := mustCreateFile(test, gw, newFile(userB, "b.txt", 1, nil))
	s3File := newFile(userA, "c.txt", 1, nil)
	s3File.StorageType = backend.StorageTypeS3
	mustCreateFile(test, gw, s3File)

	// Act
	objects, err := gw.ListStoredObjects(ctx, backend.StorageTypeBlob)

	// Assert
	require.NoError(test, err)
	var paths []string
	for _, obj := range objects {
		assert.Equal(test, backend.StorageTypeBlob, obj.StorageType)
		paths = append(paths, obj.StoragePath)
	}
	assert.ElementsMatch(test, []string{blobA.StoragePath, blobB.StoragePath}, paths)
}

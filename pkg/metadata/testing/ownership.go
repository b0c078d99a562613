package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *GatewayTestSuite) RunOwnershipTests(test *testing.T) {
	test.Run("GetFile_ForeignIsNil", suite.TestGetFile_ForeignIsNil)
	test.Run("GetFile_AbsentIsNil", suite.TestGetFile_AbsentIsNil)
	test.Run("GetFolder_ForeignIsNil", suite.TestGetFolder_ForeignIsNil)
}

// TestGetFile_ForeignIsNil verifies another user's file looks absent.
func (suite *GatewayTestSuite) TestGetFile_ForeignIsNil(test *testing.T) {
	gw := suite.NewGateway(test)
	created := mustCreateFile(test, gw, newFile(userA, "mine.txt", 1, nil))

	// Act
	got, err := gw.GetFile(context.Background(), created.ID, userB)

	// Assert
	require.NoError(test, err)
	assert.Nil(test, got)
}

// TestGetFile_AbsentIsNil verifies missing and malformed IDs return nil
// rather than an error.
func (suite *GatewayTestSuite) TestGetFile_AbsentIsNil(test *testing.T) {
	gw := suite.NewGateway(test)
	ctx := context.Background()

	for _, id := range []string{metadata.NewID(), "not-a-uuid", ""} {
		got, err := gw.GetFile(ctx, id, userA)
		require.NoError(test, err, "id %q", id)
		assert.Nil(test, got, "id %q", id)
	}
}

// TestGetFolder_ForeignIsNil verifies another user's folder looks absent.
func (suite *GatewayTestSuite) TestGetFolder_ForeignIsNil(test *testing.T) {
	gw := suite.NewGateway(test)
	ctx := context.Background()
	folder := mustCreateFolder(test, gw, userA, "private", nil)

	// Act
	foreign, err := gw.GetFolder(ctx, folder.ID, userB)
	require.NoError(test, err)
	absent, err := gw.GetFolder(ctx, "not-a-uuid", userA)
	require.NoError(test, err)

	// Assert
	assert.Nil(test, foreign)
	assert.Nil(test, absent)
}

package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittodrive/pkg/errdefs"
	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *GatewayTestSuite) RunUpdateTests(test *testing.T) {
	test.Run("UpdateFile_Rename", suite.TestUpdateFile_Rename)
	test.Run("UpdateFile_Move", suite.TestUpdateFile_Move)
	test.Run("UpdateFile_NotOwned", suite.TestUpdateFile_NotOwned)
	test.Run("UpdateFile_InvalidName", suite.TestUpdateFile_InvalidName)
}

// TestUpdateFile_Rename verifies a name patch leaves other fields alone.
func (suite *GatewayTestSuite) TestUpdateFile_Rename(test *testing.T) {
	gw := suite.NewGateway(test)
	ctx := context.Background()
	created := mustCreateFile(test, gw, newFile(userA, "old.txt", 7, nil))

	// Act
	err := gw.UpdateFile(ctx, created.ID, userA, metadata.FilePatch{Name: ptr("new.txt")})

	// Assert
	require.NoError(test, err)
	got, err := gw.GetFile(ctx, created.ID, userA)
	require.NoError(test, err)
	require.NotNil(test, got)
	assert.Equal(test, "new.txt", got.Name)
	assert.Equal(test, int64(7), got.Size)
	assert.Equal(test, created.StoragePath, got.StoragePath)
}

// TestUpdateFile_Move verifies moving into a folder and back to the root.
func (suite *GatewayTestSuite) TestUpdateFile_Move(test *testing.T) {
	gw := suite.NewGateway(test)
	ctx := context.Background()
	folder := mustCreateFolder(test, gw, userA, "archive", nil)
	foreign := mustCreateFolder(test, gw, userB, "theirs", nil)
	created := mustCreateFile(test, gw, newFile(userA, "a.txt", 1, nil))

	// Act & Assert: into the folder
	require.NoError(test, gw.UpdateFile(ctx, created.ID, userA, metadata.FilePatch{FolderID: &folder.ID}))
	inside, err := gw.ListFiles(ctx, userA, &folder.ID, metadata.Page{})
	require.NoError(test, err)
	assert.Equal(test, []string{"a.txt"}, names(inside))

	// Act & Assert: into a foreign folder
	err = gw.UpdateFile(ctx, created.ID, userA, metadata.FilePatch{FolderID: &foreign.ID})
	assert.ErrorIs(test, err, errdefs.ErrNotFound)

	// Act & Assert: back to the root
	require.NoError(test, gw.UpdateFile(ctx, created.ID, userA, metadata.FilePatch{MoveToRoot: true}))
	root, err := gw.ListFiles(ctx, userA, nil, metadata.Page{})
	require.NoError(test, err)
	assert.Equal(test, []string{"a.txt"}, names(root))
}

// TestUpdateFile_NotOwned verifies foreign and absent rows are NotFound.
func (suite *GatewayTestSuite) TestUpdateFile_NotOwned(test *testing.T) {
	gw := suite.NewGateway(test)
	ctx := context.Background()
	created := mustCreateFile(test, gw, newFile(userA, "a.txt", 1, nil))

	// Act
	foreignErr := gw.UpdateFile(ctx, created.ID, userB, metadata.FilePatch{Name: ptr("stolen.txt")})
	absentErr := gw.UpdateFile(ctx, metadata.NewID(), userA, metadata.FilePatch{Name: ptr("x.txt")})

	// Assert
	var nf *errdefs.NotFoundError
	require.ErrorAs(test, foreignErr, &nf)
	assert.Equal(test, "file", nf.Kind)
	assert.ErrorIs(test, absentErr, errdefs.ErrNotFound)

	got, err := gw.GetFile(ctx, created.ID, userA)
	require.NoError(test, err)
	assert.Equal(test, "a.txt", got.Name, "foreign update must not apply")
}

// TestUpdateFile_InvalidName verifies renames are validated.
func (suite *GatewayTestSuite) TestUpdateFile_InvalidName(test *testing.T) {
	gw := suite.NewGateway(test)
	created := mustCreateFile(test, gw, newFile(userA, "a.txt", 1, nil))

	// Act
	err := gw.UpdateFile(context.Background(), created.ID, userA, metadata.FilePatch{Name: ptr("")})

	// Assert
	assert.ErrorIs(test, err, errdefs.ErrValidation)
}

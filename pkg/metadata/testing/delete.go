package testing

import (
	"context"
	"sort"
	"testing"

	"github.com/marmos91/dittodrive/pkg/errdefs"
	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *GatewayTestSuite) RunDeleteTests(test *testing.T) {
	test.Run("DeleteFile_Success", suite.TestDeleteFile_Success)
	test.Run("DeleteFile_NotOwned", suite.TestDeleteFile_NotOwned)
	test.Run("DeleteFolder_Recursive", suite.TestDeleteFolder_Recursive)
	test.Run("DeleteFolder_NotOwned", suite.TestDeleteFolder_NotOwned)
	test.Run("DeleteEmptyFolder_RefusesFiles", suite.TestDeleteEmptyFolder_RefusesFiles)
	test.Run("DeleteEmptyFolder_Success", suite.TestDeleteEmptyFolder_Success)
	test.Run("ListSubtreeFiles", suite.TestListSubtreeFiles)
}

// TestDeleteFile_Success verifies the row is gone and a second delete is
// NotFound.
func (suite *GatewayTestSuite) TestDeleteFile_Success(test *testing.T) {
	gw := suite.NewGateway(test)
	ctx := context.Background()
	created := mustCreateFile(test, gw, newFile(userA, "a.txt", 1, nil))

	// Act
	require.NoError(test, gw.DeleteFile(ctx, created.ID, userA))

	// Assert
	got, err := gw.GetFile(ctx, created.ID, userA)
	require.NoError(test, err)
	assert.Nil(test, got)
	assert.ErrorIs(test, gw.DeleteFile(ctx, created.ID, userA), errdefs.ErrNotFound)
}

// TestDeleteFile_NotOwned verifies another user cannot delete the row.
func (suite *GatewayTestSuite) TestDeleteFile_NotOwned(test *testing.T) {
	gw := suite.NewGateway(test)
	ctx := context.Background()
	created := mustCreateFile(test, gw, newFile(userA, "a.txt", 1, nil))

	// Act
	err := gw.DeleteFile(ctx, created.ID, userB)

	// Assert
	assert.ErrorIs(test, err, errdefs.ErrNotFound)
	got, err := gw.GetFile(ctx, created.ID, userA)
	require.NoError(test, err)
	assert.NotNil(test, got, "row must survive a foreign delete")
}

// buildTree creates:
//
//	root/              root.txt
//	root/child/        child.txt
//	root/child/leaf/   leaf-1.txt leaf-2.txt
//	sibling/           sibling.txt
//	<root level>       loose.txt
func buildTree(test *testing.T, gw metadata.Gateway) (root, sibling *metadata.Folder) {
	root = mustCreateFolder(test, gw, userA, "root", nil)
	child := mustCreateFolder(test, gw, userA, "child", &root.ID)
	leaf := mustCreateFolder(test, gw, userA, "leaf", &child.ID)
	sibling = mustCreateFolder(test, gw, userA, "sibling", nil)

	mustCreateFile(test, gw, newFile(userA, "root.txt", 1, &root.ID))
	mustCreateFile(test, gw, newFile(userA, "child.txt", 2, &child.ID))
	mustCreateFile(test, gw, newFile(userA, "leaf-1.txt", 4, &leaf.ID))
	mustCreateFile(test, gw, newFile(userA, "leaf-2.txt", 8, &leaf.ID))
	mustCreateFile(test, gw, newFile(userA, "sibling.txt", 16, &sibling.ID))
	mustCreateFile(test, gw, newFile(userA, "loose.txt", 32, nil))
	return root, sibling
}

// TestDeleteFolder_Recursive verifies every descendant folder and every
// file inside any of them is removed, and nothing else.
func (suite *GatewayTestSuite) TestDeleteFolder_Recursive(test *testing.T) {
	gw := suite.NewGateway(test)
	ctx := context.Background()
	root, sibling := buildTree(test, gw)
	other := mustCreateFile(test, gw, newFile(userB, "other.txt", 64, nil))

	// Act
	err := gw.DeleteFolder(ctx, root.ID, userA)

	// Assert
	require.NoError(test, err)

	folders, err := gw.ListFolders(ctx, userA, nil)
	require.NoError(test, err)
	assert.Equal(test, []string{"sibling"}, folderNames(folders))

	gone, err := gw.GetFolder(ctx, root.ID, userA)
	require.NoError(test, err)
	assert.Nil(test, gone)

	total, err := gw.SumFileSizes(ctx, userA)
	require.NoError(test, err)
	assert.Equal(test, int64(16+32), total, "only sibling.txt and loose.txt remain")

	kept, err := gw.ListFiles(ctx, userA, &sibling.ID, metadata.Page{})
	require.NoError(test, err)
	assert.Equal(test, []string{"sibling.txt"}, names(kept))

	got, err := gw.GetFile(ctx, other.ID, userB)
	require.NoError(test, err)
	assert.NotNil(test, got, "other users are untouched")
}

// TestDeleteFolder_NotOwned verifies a foreign root is NotFound and nothing
// is deleted.
func (suite *GatewayTestSuite) TestDeleteFolder_NotOwned(test *testing.T) {
	gw := suite.NewGateway(test)
	ctx := context.Background()
	root, _ := buildTree(test, gw)

	// Act
	err := gw.DeleteFolder(ctx, root.ID, userB)
	absentErr := gw.DeleteFolder(ctx, metadata.NewID(), userA)

	// Assert
	var nf *errdefs.NotFoundError
	require.ErrorAs(test, err, &nf)
	assert.Equal(test, "folder", nf.Kind)
	assert.ErrorIs(test, absentErr, errdefs.ErrNotFound)

	total, err := gw.SumFileSizes(ctx, userA)
	require.NoError(test, err)
	assert.Equal(test, int64(63), total)
}

// TestDeleteEmptyFolder_RefusesFiles verifies nothing is removed while any
// file remains in the subtree.
func (suite *GatewayTestSuite) TestDeleteEmptyFolder_RefusesFiles(test *testing.T) {
	gw := suite.NewGateway(test)
	ctx := context.Background()
	root, _ := buildTree(test, gw)

	// Act
	err := gw.DeleteEmptyFolder(ctx, root.ID, userA)

	// Assert
	var nerr *errdefs.FolderNotEmptyError
	require.ErrorAs(test, err, &nerr)
	assert.Equal(test, 4, nerr.Files)
	assert.ErrorIs(test, err, errdefs.ErrFolderNotEmpty)

	got, err := gw.GetFolder(ctx, root.ID, userA)
	require.NoError(test, err)
	assert.NotNil(test, got)

	total, err := gw.SumFileSizes(ctx, userA)
	require.NoError(test, err)
	assert.Equal(test, int64(63), total)

	assert.ErrorIs(test, gw.DeleteEmptyFolder(ctx, root.ID, userB), errdefs.ErrNotFound)
}

// TestDeleteEmptyFolder_Success verifies an emptied subtree is removed and
// siblings survive.
func (suite *GatewayTestSuite) TestDeleteEmptyFolder_Success(test *testing.T) {
	gw := suite.NewGateway(test)
	ctx := context.Background()
	root, sibling := buildTree(test, gw)

	files, err := gw.ListSubtreeFiles(ctx, root.ID, userA)
	require.NoError(test, err)
	for _, f := range files {
		require.NoError(test, gw.DeleteFile(ctx, f.ID, userA))
	}

	// Act
	err = gw.DeleteEmptyFolder(ctx, root.ID, userA)

	// Assert
	require.NoError(test, err)
	folders, err := gw.ListFolders(ctx, userA, nil)
	require.NoError(test, err)
	assert.Equal(test, []string{"sibling"}, folderNames(folders))

	kept, err := gw.ListFiles(ctx, userA, &sibling.ID, metadata.Page{})
	require.NoError(test, err)
	assert.Equal(test, []string{"sibling.txt"}, names(kept))
}

// TestListSubtreeFiles verifies every file below the folder is returned.
func (suite *GatewayTestSuite) TestListSubtreeFiles(test *testing.T) {
	gw := suite.NewGateway(test)
	ctx := context.Background()
	root, _ := buildTree(test, gw)

	// Act
	files, err := gw.ListSubtreeFiles(ctx, root.ID, userA)
	require.NoError(test, err)
	_, foreignErr := gw.ListSubtreeFiles(ctx, root.ID, userB)

	// Assert
	got := names(files)
	sort.Strings(got)
	assert.Equal(test, []string{"child.txt", "leaf-1.txt", "leaf-2.txt", "root.txt"}, got)
	assert.ErrorIs(test, foreignErr, errdefs.ErrNotFound)
}

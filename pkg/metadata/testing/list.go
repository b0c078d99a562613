package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *GatewayTestSuite) RunListTests(test *testing.T) {
	test.Run("ListFiles_RootOnly", suite.TestListFiles_RootOnly)
	test.Run("ListFiles_NewestFirst", suite.TestListFiles_NewestFirst)
	test.Run("ListFiles_Paging", suite.TestListFiles_Paging)
	test.Run("ListFolders_ByName", suite.TestListFolders_ByName)
}

// TestListFiles_RootOnly verifies a nil folder means the root, not every
// folder.
func (suite *GatewayTestSuite) TestListFiles_RootOnly(test *testing.T) {
	gw := suite.NewGateway(test)
	ctx := context.Background()
	folder := mustCreateFolder(test, gw, userA, "docs", nil)

	mustCreateFile(test, gw, newFile(userA, "root.txt", 1, nil))
	mustCreateFile(test, gw, newFile(userA, "nested.txt", 1, &folder.ID))
	mustCreateFile(test, gw, newFile(userB, "other-root.txt", 1, nil))

	// Act
	root, err := gw.ListFiles(ctx, userA, nil, metadata.Page{})
	require.NoError(test, err)
	inside, err := gw.ListFiles(ctx, userA, &folder.ID, metadata.Page{})
	require.NoError(test, err)

	// Assert
	assert.Equal(test, []string{"root.txt"}, names(root))
	assert.Equal(test, []string{"nested.txt"}, names(inside))
}

// TestListFiles_NewestFirst verifies listing order.
func (suite *GatewayTestSuite) TestListFiles_NewestFirst(test *testing.T) {
	gw := suite.NewGateway(test)

	for _, name := range []string{"first.txt", "second.txt", "third.txt"} {
		mustCreateFile(test, gw, newFile(userA, name, 1, nil))
		pause()
	}

	// Act
	files, err := gw.ListFiles(context.Background(), userA, nil, metadata.Page{})

	// Assert
	require.NoError(test, err)
	assert.Equal(test, []string{"third.txt", "second.txt", "first.txt"}, names(files))
}

// TestListFiles_Paging verifies zero-based pages over the newest-first
// order.
func (suite *GatewayTestSuite) TestListFiles_Paging(test *testing.T) {
	gw := suite.NewGateway(test)
	ctx := context.Background()

	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt"} {
		mustCreateFile(test, gw, newFile(userA, name, 1, nil))
		pause()
	}

	// Act
	first, err := gw.ListFiles(ctx, userA, nil, metadata.Page{Number: 0, Size: 2})
	require.NoError(test, err)
	last, err := gw.ListFiles(ctx, userA, nil, metadata.Page{Number: 2, Size: 2})
	require.NoError(test, err)
	beyond, err := gw.ListFiles(ctx, userA, nil, metadata.Page{Number: 5, Size: 2})
	require.NoError(test, err)

	// Assert
	assert.Equal(test, []string{"e.txt", "d.txt"}, names(first))
	assert.Equal(test, []string{"a.txt"}, names(last))
	assert.Empty(test, beyond)
}

// TestListFolders_ByName verifies folders are sorted by name and scoped to
// the parent and user.
func (suite *GatewayTestSuite) TestListFolders_ByName(test *testing.T) {
	gw := suite.NewGateway(test)
	ctx := context.Background()

	mustCreateFolder(test, gw, userA, "zeta", nil)
	alpha := mustCreateFolder(test, gw, userA, "alpha", nil)
	mustCreateFolder(test, gw, userA, "mu", nil)
	mustCreateFolder(test, gw, userA, "child", &alpha.ID)
	mustCreateFolder(test, gw, userB, "beta", nil)

	// Act
	root, err := gw.ListFolders(ctx, userA, nil)
	require.NoError(test, err)
	children, err := gw.ListFolders(ctx, userA, &alpha.ID)
	require.NoError(test, err)

	// Assert
	assert.Equal(test, []string{"alpha", "mu", "zeta"}, folderNames(root))
	assert.Equal(test, []string{"child"}, folderNames(children))
}

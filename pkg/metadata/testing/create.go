package testing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/errdefs"
	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *GatewayTestSuite) RunCreateTests(test *testing.T) {
	test.Run("CreateFile_AssignsIdentity", suite.TestCreateFile_AssignsIdentity)
	test.Run("CreateFile_RejectsBadShape", suite.TestCreateFile_RejectsBadShape)
	test.Run("CreateFile_ForeignFolder", suite.TestCreateFile_ForeignFolder)
	test.Run("CreateFolder_AssignsIdentity", suite.TestCreateFolder_AssignsIdentity)
	test.Run("CreateFolder_RejectsBadShape", suite.TestCreateFolder_RejectsBadShape)
	test.Run("CreateFolder_ForeignParent", suite.TestCreateFolder_ForeignParent)
}

// TestCreateFile_AssignsIdentity verifies the gateway generates ID and
// CreatedAt and round-trips every other field.
func (suite *GatewayTestSuite) TestCreateFile_AssignsIdentity(test *testing.T) {
	gw := suite.NewGateway(test)
	ctx := context.Background()
	folder := mustCreateFolder(test, gw, userA, "docs", nil)

	// Act
	before := time.Now().Add(-time.Second)
	created, err := gw.CreateFile(ctx, newFile(userA, "report.pdf", 42, &folder.ID))

	// Assert
	require.NoError(test, err)
	assert.True(test, metadata.IsValidID(created.ID), "ID should be a UUID, got %q", created.ID)
	assert.True(test, created.CreatedAt.After(before), "CreatedAt should be assigned")

	got, err := gw.GetFile(ctx, created.ID, userA)
	require.NoError(test, err)
	require.NotNil(test, got)
	assert.Equal(test, "report.pdf", got.Name)
	assert.Equal(test, int64(42), got.Size)
	assert.Equal(test, "text/plain", got.MimeType)
	assert.Equal(test, created.StoragePath, got.StoragePath)
	assert.Equal(test, backend.StorageTypeBlob, got.StorageType)
	require.NotNil(test, got.FolderID)
	assert.Equal(test, folder.ID, *got.FolderID)
	assert.Equal(test, userA, got.UserID)
	assert.WithinDuration(test, created.CreatedAt, got.CreatedAt, time.Millisecond)
}

// TestCreateFile_RejectsBadShape verifies shape violations surface as
// ValidationError and insert nothing.
func (suite *GatewayTestSuite) TestCreateFile_RejectsBadShape(test *testing.T) {
	cases := map[string]func(r *metadata.FileRecord){
		"EmptyName":       func(r *metadata.FileRecord) { r.Name = "" },
		"OversizedName":   func(r *metadata.FileRecord) { r.Name = strings.Repeat("a", 256) },
		"UnsanitisedName": func(r *metadata.FileRecord) { r.Name = "a?b.txt" },
		"ReservedName":    func(r *metadata.FileRecord) { r.Name = "CON.txt" },
		"ZeroSize":        func(r *metadata.FileRecord) { r.Size = 0 },
		"NegativeSize":    func(r *metadata.FileRecord) { r.Size = -1 },
		"MissingPath":     func(r *metadata.FileRecord) { r.StoragePath = "" },
		"MissingURL":      func(r *metadata.FileRecord) { r.DownloadURL = "" },
		"UnknownBackend":  func(r *metadata.FileRecord) { r.StorageType = "firebase" },
		"MissingUser":     func(r *metadata.FileRecord) { r.UserID = "" },
		"MalformedFolder": func(r *metadata.FileRecord) { r.FolderID = ptr("not-a-uuid") },
	}

	for name, mutate := range cases {
		test.Run(name, func(t *testing.T) {
			gw := suite.NewGateway(t)
			ctx := context.Background()

			record := newFile(userA, "ok.txt", 1, nil)
			mutate(record)

			// Act
			_, err := gw.CreateFile(ctx, record)

			// Assert
			require.Error(t, err)
			var verr *errdefs.ValidationError
			assert.ErrorAs(t, err, &verr)
			assert.ErrorIs(t, err, errdefs.ErrValidation)

			total, err := gw.SumFileSizes(ctx, userA)
			require.NoError(t, err)
			assert.Zero(t, total, "nothing should be inserted")
		})
	}

	test.Run("MaxLengthName", func(t *testing.T) {
		gw := suite.NewGateway(t)
		_, err := gw.CreateFile(context.Background(), newFile(userA, strings.Repeat("é", 255), 1, nil))
		assert.NoError(t, err, "255 characters is within the limit")
	})
}

// TestCreateFile_ForeignFolder verifies a file cannot be placed in another
// user's folder.
func (suite *GatewayTestSuite) TestCreateFile_ForeignFolder(test *testing.T) {
	gw := suite.NewGateway(test)
	foreign := mustCreateFolder(test, gw, userB, "theirs", nil)

	// Act
	_, err := gw.CreateFile(context.Background(), newFile(userA, "a.txt", 1, &foreign.ID))

	// Assert
	assert.ErrorIs(test, err, errdefs.ErrNotFound)
}

// TestCreateFolder_AssignsIdentity verifies nested folder creation.
func (suite *GatewayTestSuite) TestCreateFolder_AssignsIdentity(test *testing.T) {
	gw := suite.NewGateway(test)
	ctx := context.Background()

	// Act
	parent := mustCreateFolder(test, gw, userA, "photos", nil)
	child := mustCreateFolder(test, gw, userA, "2024", &parent.ID)

	// Assert
	assert.True(test, metadata.IsValidID(parent.ID))
	assert.NotEqual(test, parent.ID, child.ID)
	assert.Nil(test, parent.ParentID)
	require.NotNil(test, child.ParentID)
	assert.Equal(test, parent.ID, *child.ParentID)

	got, err := gw.GetFolder(ctx, child.ID, userA)
	require.NoError(test, err)
	require.NotNil(test, got)
	assert.Equal(test, "2024", got.Name)
	assert.Equal(test, userA, got.UserID)
}

// TestCreateFolder_RejectsBadShape verifies folder validation.
func (suite *GatewayTestSuite) TestCreateFolder_RejectsBadShape(test *testing.T) {
	gw := suite.NewGateway(test)
	ctx := context.Background()

	for _, folder := range []*metadata.Folder{
		{Name: "", UserID: userA},
		{Name: strings.Repeat("x", 256), UserID: userA},
		{Name: "trailing.", UserID: userA},
		{Name: "ok", UserID: ""},
	} {
		_, err := gw.CreateFolder(ctx, folder)
		assert.ErrorIs(test, err, errdefs.ErrValidation, "folder %q", folder.Name)
	}
}

// TestCreateFolder_ForeignParent verifies a folder cannot be nested under
// another user's folder.
func (suite *GatewayTestSuite) TestCreateFolder_ForeignParent(test *testing.T) {
	gw := suite.NewGateway(test)
	foreign := mustCreateFolder(test, gw, userB, "theirs", nil)

	// Act
	_, err := gw.CreateFolder(context.Background(), &metadata.Folder{Name: "mine", ParentID: &foreign.ID, UserID: userA})

	// Assert
	assert.ErrorIs(test, err, errdefs.ErrNotFound)
}

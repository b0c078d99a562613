package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/marmos91/dittodrive/internal/ratelimiter"
	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/backend/drive"
	"github.com/marmos91/dittodrive/pkg/backend/memory"
	"github.com/marmos91/dittodrive/pkg/errdefs"
	"github.com/marmos91/dittodrive/pkg/metadata"
	metamemory "github.com/marmos91/dittodrive/pkg/metadata/memory"
	"github.com/marmos91/dittodrive/pkg/orchestrator"
	"github.com/marmos91/dittodrive/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	server *httptest.Server
	blob   *memory.Backend
	orch   *orchestrator.Orchestrator
}

func newFixture(t *testing.T, authorizer *drive.Authorizer) *fixture {
	t.Helper()

	blob := memory.New(memory.WithType(backend.StorageTypeBlob))
	orch := orchestrator.New(metamemory.New(), &registry.Registry{Blob: blob}, orchestrator.DefaultConfig())

	server := httptest.NewServer(NewRouter(Config{Orchestrator: orch, Authorizer: authorizer}))
	t.Cleanup(server.Close)
	return &fixture{server: server, blob: blob, orch: orch}
}

func (f *fixture) do(t *testing.T, method, path, user string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *fixture) upload(t *testing.T, user, name, content string, fields map[string]string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/v1/files", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(UserHeader, user)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	return decode[errorBody](t, resp).Error.Code
}

func TestRequireUser(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/v1/items", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, CodeUnauthorized, errorCode(t, resp))
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFileLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.upload(t, "alice", "notes.txt", "hello world", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[metadata.FileRecord](t, resp)
	assert.Equal(t, "notes.txt", created.Name)
	assert.Equal(t, int64(11), created.Size)
	assert.Equal(t, backend.StorageTypeBlob, created.StorageType)
	assert.True(t, strings.HasPrefix(created.MimeType, "text/plain"))
	assert.Equal(t, 1, f.blob.Len())

	t.Run("Get", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/v1/files/"+created.ID, "alice", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, created.ID, decode[metadata.FileRecord](t, resp).ID)
	})

	t.Run("OtherUserGetsNotFound", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/v1/files/"+created.ID, "bob", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, CodeNotFound, errorCode(t, resp))
	})

	t.Run("OtherUserThumbnailNotFound", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/v1/files/"+created.ID+"/thumbnail", "bob", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, CodeNotFound, errorCode(t, resp))
	})

	t.Run("Rename", func(t *testing.T) {
		resp := f.do(t, http.MethodPatch, "/v1/files/"+created.ID, "alice", map[string]string{"name": " report?.txt"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEqual(t, "notes.txt", decode[metadata.FileRecord](t, resp).Name)
	})

	t.Run("EmptyPatch", func(t *testing.T) {
		resp := f.do(t, http.MethodPatch, "/v1/files/"+created.ID, "alice", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, CodeValidation, errorCode(t, resp))
	})

	t.Run("Thumbnail", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/v1/files/"+created.ID+"/thumbnail?w=64&h=64", "alice", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, created.DownloadURL, decode[map[string]string](t, resp)["url"])
	})

	t.Run("ThumbnailBadWidth", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/v1/files/"+created.ID+"/thumbnail?w=zero", "alice", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Storage", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/v1/storage", "alice", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		usage := decode[storageUsage](t, resp)
		assert.Equal(t, int64(11), usage.Used)
		assert.Equal(t, orchestrator.DefaultLocalQuota, usage.Quota)
		assert.Equal(t, orchestrator.DefaultLocalQuota-11, usage.Remaining)
	})

	t.Run("Delete", func(t *testing.T) {
		resp := f.do(t, http.MethodDelete, "/v1/files/"+created.ID, "alice", nil)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Zero(t, f.blob.Len())

		resp = f.do(t, http.MethodGet, "/v1/files/"+created.ID, "alice", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, CodeNotFound, errorCode(t, resp))

		resp = f.do(t, http.MethodGet, "/v1/files/"+created.ID+"/thumbnail", "alice", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestUploadRejectsReservedName(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.upload(t, "alice", "CON.txt", "x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeValidation, errorCode(t, resp))
	assert.Zero(t, f.blob.Len(), "nothing is uploaded for an invalid name")
}

func TestUploadWithoutFile(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/v1/files", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFolders(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/v1/folders", "alice", map[string]any{"name": "docs"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	folder := decode[metadata.Folder](t, resp)

	resp = f.upload(t, "alice", "a.txt", "abc", map[string]string{"folder_id": folder.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/v1/items", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	root := decode[orchestrator.Items](t, resp)
	assert.Empty(t, root.Files)
	require.Len(t, root.Folders, 1)
	assert.Equal(t, "docs", root.Folders[0].Name)

	resp = f.do(t, http.MethodGet, "/v1/items?folder_id="+folder.ID, "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[orchestrator.Items](t, resp).Files, 1)

	resp = f.do(t, http.MethodGet, "/v1/items?folder_id="+folder.ID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/v1/items?page=-1", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/v1/folders/"+folder.ID, "alice", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, f.blob.Len(), "folder delete removes the objects")

	resp = f.do(t, http.MethodDelete, "/v1/folders/"+folder.ID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	orch := orchestrator.New(metamemory.New(), &registry.Registry{}, orchestrator.DefaultConfig())
	server := httptest.NewServer(NewRouter(Config{
		Orchestrator: orch,
		RateLimiter:  ratelimiter.New(0.01, 2),
	}))
	t.Cleanup(server.Close)
	f := &fixture{server: server, orch: orch}

	for i := 0; i < 2; i++ {
		resp := f.do(t, http.MethodGet, "/v1/storage", "alice", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := f.do(t, http.MethodGet, "/v1/storage", "alice", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, CodeRateLimited, errorCode(t, resp))

	resp = f.do(t, http.MethodGet, "/v1/storage", "bob", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "limits are per user")

	resp = f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "unauthenticated routes are not limited")
}

func TestBackendStatus(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/v1/backends", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status := decode[map[backend.StorageType]registry.BackendStatus](t, resp)
	assert.True(t, status[backend.StorageTypeBlob].Configured)
	assert.False(t, status[backend.StorageTypeDrive].Configured)
}

func TestDriveRoutes(t *testing.T) {
	t.Run("NotConfigured", func(t *testing.T) {
		f := newFixture(t, nil)

		resp := f.do(t, http.MethodGet, "/v1/drive/authorize", "alice", nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, CodeNotConfigured, errorCode(t, resp))
	})

	authorizer, err := drive.NewAuthorizer(drive.AuthorizerConfig{
		OAuth:       drive.NewOAuthConfig("client", "secret", "http://localhost/v1/drive/callback"),
		Credentials: drive.NewMemoryCredentialStore(),
		StateSecret: []byte("0123456789abcdef0123456789abcdef"),
	})
	require.NoError(t, err)
	f := newFixture(t, authorizer)

	t.Run("Authorize", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/v1/drive/authorize", "alice", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, decode[map[string]string](t, resp)["url"], "state=")
	})

	t.Run("CallbackRejectsForgedState", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/v1/drive/callback?state=forged&code=abc", "", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, CodeInvalidState, errorCode(t, resp))
	})

	t.Run("CallbackDenied", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/v1/drive/callback?error=access_denied", "", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Disconnect", func(t *testing.T) {
		resp := f.do(t, http.MethodDelete, "/v1/drive", "alice", nil)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&errdefs.InvalidNameError{Name: "CON"}, http.StatusBadRequest, CodeValidation},
		{&errdefs.NotFoundError{Kind: "file", ID: "x"}, http.StatusNotFound, CodeNotFound},
		{fmt.Errorf("select: %w", errdefs.ErrQuotaExceeded), http.StatusInsufficientStorage, CodeQuotaExceeded},
		{&errdefs.UploadError{Backend: "s3", Err: fmt.Errorf("boom")}, http.StatusBadGateway, CodeUploadFailed},
		{&errdefs.StorageDeleteError{Backend: "s3", Path: "p", Err: fmt.Errorf("boom")}, http.StatusBadGateway, CodeDeleteFailed},
		{
			&errdefs.FinalizationError{Backend: "s3", Path: "p", Cause: &errdefs.UploadError{Backend: "s3", Err: fmt.Errorf("boom")}},
			http.StatusInternalServerError, CodeFinalization,
		},
		{&errdefs.InconsistencyError{FileID: "x", Err: fmt.Errorf("db down")}, http.StatusInternalServerError, CodeInconsistent},
		{errdefs.ErrNotConnected, http.StatusConflict, CodeNotConnected},
		{fmt.Errorf("delete empty folder: %w", &errdefs.FolderNotEmptyError{ID: "x", Files: 1}), http.StatusConflict, CodeFolderNotEmpty},
		{drive.ErrInvalidState, http.StatusBadRequest, CodeInvalidState},
		{context.Canceled, statusClientClosedRequest, CodeRequestCanceled},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge, CodeTooLarge},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

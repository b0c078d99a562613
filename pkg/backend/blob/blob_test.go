package blob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittodrive/pkg/backend"
	backendtesting "github.com/marmos91/dittodrive/pkg/backend/testing"
	"github.com/marmos91/dittodrive/pkg/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestBackend(t *testing.T, baseURL string, now func() time.Time) *Backend {
	t.Helper()

	signer, err := NewURLSigner(testSecret, baseURL, time.Hour, now)
	require.NoError(t, err)

	b, err := New(Config{InMemory: true, Signer: signer, MaxObjectSize: InMemoryMaxObjectSize, Now: now})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func exists(b backend.Backend, path string) bool {
	_, _, err := b.(*Backend).Open(context.Background(), path)
	return err == nil
}

func TestBlobBackend(t *testing.T) {
	suite := &backendtesting.BackendTestSuite{
		NewBackend: func(t *testing.T) backend.Backend {
			return newTestBackend(t, "https://files.example.com/blobs", nil)
		},
		Exists: exists,
	}
	suite.Run(t)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "my_report__v2_.pdf", SafeName("my report (v2).pdf"))
	assert.Equal(t, "caf_.txt", SafeName("café.txt"))
	assert.Equal(t, "plain.txt", SafeName("plain.txt"))
}

func TestUploadPathAndMetadata(t *testing.T) {
	now := func() time.Time { return time.UnixMilli(1700000000000) }
	b := newTestBackend(t, "https://files.example.com/blobs", now)
	ctx := context.Background()

	res, err := b.Upload(ctx, backendtesting.NewFile("a b.txt", "text/plain", "hello"), "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, "u1/1700000000000_a_b.txt", res.Path)
	assert.True(t, strings.HasPrefix(res.URL, "https://files.example.com/blobs/u1/1700000000000_a_b.txt?token="))

	r, meta, err := b.Open(ctx, res.Path)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, "text/plain", meta.MimeType)
	assert.Equal(t, int64(5), meta.Size)
	assert.Equal(t, "u1", meta.Owner)

	// Same millisecond, still a distinct key.
	res2, err := b.Upload(ctx, backendtesting.NewFile("a b.txt", "text/plain", "again"), "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, "u1/1700000000001_a_b.txt", res2.Path)
}

func TestUploadSizeLimit(t *testing.T) {
	b := newTestBackend(t, "http://localhost/blobs", nil)

	file := backendtesting.NewFile("big.bin", "application/octet-stream", strings.Repeat("x", 2<<20))
	_, err := b.Upload(context.Background(), file, "u1", nil)
	require.ErrorIs(t, err, errdefs.ErrUpload)
	assert.True(t, errdefs.IsPermanent(err))
}

func TestInMemoryObjectSizeIsClamped(t *testing.T) {
	signer, err := NewURLSigner(testSecret, "http://localhost/blobs", time.Hour, nil)
	require.NoError(t, err)
	b, err := New(Config{InMemory: true, Signer: signer, MaxObjectSize: DefaultMaxObjectSize})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	ctx := context.Background()
	payload := strings.Repeat("z", 2<<20)
	_, err = b.Upload(ctx, backendtesting.NewFile("big.bin", "application/octet-stream", payload), "u1", nil)
	require.ErrorIs(t, err, errdefs.ErrUpload)
	assert.True(t, errdefs.IsPermanent(err))
	assert.NotContains(t, err.Error(), strings.Repeat("z", 64))

	res, err := b.Upload(ctx, backendtesting.NewFile("edge.bin", "application/octet-stream", strings.Repeat("z", InMemoryMaxObjectSize)), "u1", nil)
	require.NoError(t, err)
	assert.True(t, exists(b, res.Path))
}

func TestStoreErrorOmitsValue(t *testing.T) {
	dump := "Value with size 2097152 exceeded 1048576 limit. Value:\n00000000  7a 7a 7a 7a  |zzzz|"
	err := storeError("blob", "u1/1_big.bin", errors.New(dump))
	assert.True(t, errdefs.IsPermanent(err))
	assert.NotContains(t, err.Error(), "7a 7a")
	assert.Contains(t, err.Error(), "exceeded 1048576 limit")

	err = storeError("blob", "u1/1_big.bin", badger.ErrTxnTooBig)
	assert.True(t, errdefs.IsPermanent(err))

	err = storeError("blob", "u1/1_a.txt", errors.New("disk unavailable"))
	require.ErrorIs(t, err, errdefs.ErrUpload)
	assert.False(t, errdefs.IsPermanent(err))
}

func TestOpenMissing(t *testing.T) {
	b := newTestBackend(t, "http://localhost/blobs", nil)
	_, _, err := b.Open(context.Background(), "u1/nothing")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestURLSigner(t *testing.T) {
	current := time.Unix(1700000000, 0)
	now := func() time.Time { return current }

	s, err := NewURLSigner(testSecret, "https://files.example.com/blobs/", time.Minute, now)
	require.NoError(t, err)

	t.Run("RoundTrip", func(t *testing.T) {
		token, err := s.Token("u1/1_a.txt")
		require.NoError(t, err)
		assert.NoError(t, s.Verify(token, "u1/1_a.txt"))
	})

	t.Run("WrongPath", func(t *testing.T) {
		token, err := s.Token("u1/1_a.txt")
		require.NoError(t, err)
		assert.ErrorIs(t, s.Verify(token, "u2/1_a.txt"), ErrInvalidToken)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		other, err := NewURLSigner([]byte("another-secret-of-32-bytes-long!"), "", time.Minute, now)
		require.NoError(t, err)
		token, err := other.Token("u1/1_a.txt")
		require.NoError(t, err)
		assert.ErrorIs(t, s.Verify(token, "u1/1_a.txt"), ErrInvalidToken)
	})

	t.Run("Expired", func(t *testing.T) {
		token, err := s.Token("u1/1_a.txt")
		require.NoError(t, err)
		current = current.Add(2 * time.Minute)
		defer func() { current = time.Unix(1700000000, 0) }()
		assert.ErrorIs(t, s.Verify(token, "u1/1_a.txt"), ErrInvalidToken)
	})

	t.Run("URLEscapesSegments", func(t *testing.T) {
		u, err := s.URL("u1/1_a b.txt")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(u, "https://files.example.com/blobs/u1/1_a%20b.txt?token="))
	})

	t.Run("ShortSecret", func(t *testing.T) {
		_, err := NewURLSigner([]byte("short"), "", 0, nil)
		assert.Error(t, err)
	})
}

func TestHandler(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	b := newTestBackend(t, srv.URL+"/blobs", nil)
	mux.Handle("/blobs/", http.StripPrefix("/blobs", NewHandler(b)))

	res, err := b.Upload(context.Background(), backendtesting.NewFile("notes.txt", "text/plain", "secret notes"), "u1", nil)
	require.NoError(t, err)

	t.Run("ValidToken", func(t *testing.T) {
		resp, err := http.Get(res.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "secret notes", string(body))
		assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	})

	t.Run("MissingToken", func(t *testing.T) {
		u, _ := url.Parse(res.URL)
		u.RawQuery = ""
		resp, err := http.Get(u.String())
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("TokenForOtherObject", func(t *testing.T) {
		token, err := b.signer.Token("u1/other")
		require.NoError(t, err)
		u, _ := url.Parse(res.URL)
		u.RawQuery = "token=" + url.QueryEscape(token)
		resp, err := http.Get(u.String())
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("DeletedObject", func(t *testing.T) {
		other, err := b.Upload(context.Background(), backendtesting.NewFile("gone.txt", "text/plain", "x"), "u1", nil)
		require.NoError(t, err)
		require.NoError(t, b.Delete(context.Background(), other.Path, nil))

		resp, err := http.Get(other.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("RejectsPost", func(t *testing.T) {
		resp, err := http.Post(res.URL, "text/plain", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestListAndDeleteBatch(t *testing.T) {
	b := newTestBackend(t, "http://localhost/blobs", nil)
	ctx := context.Background()

	var paths []string
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		res, err := b.Upload(ctx, backendtesting.NewFile(name, "text/plain", name), "u1", nil)
		require.NoError(t, err)
		paths = append(paths, res.Path)
	}

	objects, err := b.ListObjects(ctx)
	require.NoError(t, err)
	require.Len(t, objects, 3)
	for _, obj := range objects {
		assert.Contains(t, paths, obj.Path)
		assert.Equal(t, int64(5), obj.Size)
	}

	failures, err := b.DeleteBatch(ctx, paths[:2])
	require.NoError(t, err)
	assert.Empty(t, failures)

	objects, err = b.ListObjects(ctx)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, paths[2], objects[0].Path)
}

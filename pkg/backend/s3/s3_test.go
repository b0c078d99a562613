package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittodrive/pkg/backend"
	backendtesting "github.com/marmos91/dittodrive/pkg/backend/testing"
	"github.com/marmos91/dittodrive/pkg/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBucket = "test-bucket"

// fakeS3 implements the handful of S3 calls the backend makes, path-style.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	parts    map[string]map[int][]byte
	aborted  []string
	failPart bool

	// unavailable answers every PUT with 503 and counts the attempts.
	unavailable bool
	puts        int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), parts: make(map[string]map[int][]byte)}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/"+testBucket)
	key = strings.TrimPrefix(key, "/")
	q := r.URL.Query()

	switch {
	case r.Method == http.MethodGet && q.Get("list-type") == "2":
		keys := make([]string, 0, len(f.objects))
		for k := range f.objects {
			if strings.HasPrefix(k, q.Get("prefix")) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
		fmt.Fprintf(&b, "<Name>%s</Name><KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>", testBucket, len(keys))
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><LastModified>2024-01-01T00:00:00.000Z</LastModified><Size>%d</Size></Contents>", k, len(f.objects[k]))
		}
		b.WriteString("</ListBucketResult>")
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, b.String())

	case r.Method == http.MethodPost && q.Has("uploads"):
		f.parts["upload-1"] = make(map[int][]byte)
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><InitiateMultipartUploadResult><Bucket>%s</Bucket><Key>%s</Key><UploadId>upload-1</UploadId></InitiateMultipartUploadResult>`, testBucket, key)

	case r.Method == http.MethodPut && q.Has("partNumber"):
		if f.failPart {
			_, _ = io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
			return
		}
		n, _ := strconv.Atoi(q.Get("partNumber"))
		data, _ := io.ReadAll(r.Body)
		f.parts[q.Get("uploadId")][n] = data
		w.Header().Set("ETag", fmt.Sprintf(`"part-%d"`, n))

	case r.Method == http.MethodPost && q.Has("uploadId"):
		parts := f.parts[q.Get("uploadId")]
		nums := make([]int, 0, len(parts))
		for n := range parts {
			nums = append(nums, n)
		}
		sort.Ints(nums)
		var buf bytes.Buffer
		for _, n := range nums {
			buf.Write(parts[n])
		}
		f.objects[key] = buf.Bytes()
		delete(f.parts, q.Get("uploadId"))
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><CompleteMultipartUploadResult><Bucket>%s</Bucket><Key>%s</Key><ETag>"done"</ETag></CompleteMultipartUploadResult>`, testBucket, key)

	case r.Method == http.MethodDelete && q.Has("uploadId"):
		f.aborted = append(f.aborted, q.Get("uploadId"))
		delete(f.parts, q.Get("uploadId"))
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodPut && f.unavailable:
		f.puts++
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>SlowDown</Code><Message>slow down</Message></Error>`)

	case r.Method == http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		w.Header().Set("ETag", `"etag"`)

	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (f *fakeS3) get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	return b, ok
}

func newTestBackend(t *testing.T, fake *fakeS3, partSize int64) *Backend {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:                     "us-east-1",
		BaseEndpoint:               aws.String(srv.URL),
		UsePathStyle:               true,
		Credentials:                credentials.NewStaticCredentialsProvider("test", "test", ""),
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})

	b, err := New(Config{Client: client, Bucket: testBucket, PartSize: partSize})
	require.NoError(t, err)
	return b
}

func TestS3Backend(t *testing.T) {
	fake := newFakeS3()
	suite := &backendtesting.BackendTestSuite{
		NewBackend: func(t *testing.T) backend.Backend { return newTestBackend(t, fake, 0) },
		Exists: func(_ backend.Backend, path string) bool {
			_, ok := fake.get(path)
			return ok
		},
	}
	suite.Run(t)
}

func TestUploadKeyAndURL(t *testing.T) {
	fake := newFakeS3()
	b := newTestBackend(t, fake, 0)
	b.stamper = backend.NewStamper(func() time.Time { return time.UnixMilli(1700000000000) })

	res, err := b.Upload(context.Background(), backendtesting.NewFile("report.pdf", "application/pdf", "pdf"), "u1", nil)
	require.NoError(t, err)

	assert.Equal(t, "users/u1/1700000000000_report.pdf", res.Path)
	assert.Contains(t, res.URL, "/"+testBucket+"/users/u1/1700000000000_report.pdf")
	assert.Contains(t, res.URL, "X-Amz-Expires=3600")

	data, ok := fake.get(res.Path)
	require.True(t, ok)
	assert.Equal(t, "pdf", string(data))
}

func TestMultipartUpload(t *testing.T) {
	fake := newFakeS3()
	b := newTestBackend(t, fake, minPartSize)

	content := bytes.Repeat([]byte("0123456789"), minPartSize/10+1000)
	var last backend.Progress
	res, err := b.Upload(context.Background(), &backend.File{
		Name:     "video.bin",
		Size:     int64(len(content)),
		MimeType: "application/octet-stream",
		Content:  bytes.NewReader(content),
	}, "u1", func(p backend.Progress) { last = p })
	require.NoError(t, err)

	stored, ok := fake.get(res.Path)
	require.True(t, ok)
	assert.Equal(t, content, stored)
	assert.Equal(t, int64(len(content)), last.BytesTransferred)
}

func TestMultipartAbortsOnFailure(t *testing.T) {
	fake := newFakeS3()
	fake.failPart = true
	b := newTestBackend(t, fake, minPartSize)

	content := bytes.Repeat([]byte("x"), minPartSize+1)
	_, err := b.Upload(context.Background(), &backend.File{
		Name:    "big.bin",
		Size:    int64(len(content)),
		Content: bytes.NewReader(content),
	}, "u1", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrUpload)
	assert.True(t, errdefs.IsPermanent(err))
	assert.Equal(t, []string{"upload-1"}, fake.aborted)
}

func TestUploadMakesSingleSDKAttempt(t *testing.T) {
	fake := newFakeS3()
	fake.unavailable = true
	b := newTestBackend(t, fake, 0)

	_, err := b.Upload(context.Background(), backendtesting.NewFile("a.txt", "text/plain", "hello"), "u1", nil)
	require.ErrorIs(t, err, errdefs.ErrUpload)
	assert.False(t, errdefs.IsPermanent(err))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 1, fake.puts)
}

func TestListObjects(t *testing.T) {
	fake := newFakeS3()
	b := newTestBackend(t, fake, 0)
	ctx := context.Background()

	var paths []string
	for _, name := range []string{"a.txt", "b.txt"} {
		res, err := b.Upload(ctx, backendtesting.NewFile(name, "text/plain", name), "u1", nil)
		require.NoError(t, err)
		paths = append(paths, res.Path)
	}

	objs, err := b.ListObjects(ctx)
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.ElementsMatch(t, paths, []string{objs[0].Path, objs[1].Path})
}

func TestUnconfigured(t *testing.T) {
	b, err := New(Config{})
	require.NoError(t, err)
	assert.False(t, b.IsConfigured())

	_, err = b.Upload(context.Background(), backendtesting.NewFile("a", "text/plain", "a"), "u1", nil)
	assert.ErrorIs(t, err, errdefs.ErrNotConfigured)
	assert.True(t, errdefs.IsPermanent(err))
}

func TestPartSizeValidation(t *testing.T) {
	_, err := New(Config{PartSize: 1024})
	assert.Error(t, err)
	_, err = New(Config{PartSize: maxPartSize + 1})
	assert.Error(t, err)
}

package backend

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressReader(t *testing.T) {
	var seen []int64
	r := NewProgressReader(strings.NewReader("hello world"), 11, func(p Progress) {
		assert.Equal(t, int64(11), p.TotalBytes)
		seen = append(seen, p.BytesTransferred)
	})

	buf := make([]byte, 4)
	var out bytes.Buffer
	for {
		n, err := r.Read(buf)
		out.Write(buf[:n])
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	assert.Equal(t, "hello world", out.String())
	assert.Equal(t, []int64{4, 8, 11}, seen)
}

func TestProgressReaderNilCallback(t *testing.T) {
	src := strings.NewReader("x")
	assert.Same(t, src, NewProgressReader(src, 1, nil))
}

func TestMonotonic(t *testing.T) {
	var seen []int64
	fn := Monotonic(func(p Progress) { seen = append(seen, p.BytesTransferred) })

	for _, n := range []int64{10, 20, 5, 20, 30} {
		fn(Progress{BytesTransferred: n, TotalBytes: 30})
	}
	assert.Equal(t, []int64{10, 20, 30}, seen)
	assert.Nil(t, Monotonic(nil))
}

func TestFileReaderRestarts(t *testing.T) {
	f := &File{Name: "a.txt", Size: 3, MimeType: "text/plain", Content: strings.NewReader("abc")}

	for i := 0; i < 2; i++ {
		b, err := io.ReadAll(f.Reader())
		require.NoError(t, err)
		assert.Equal(t, "abc", string(b))
	}
}

func TestIsImage(t *testing.T) {
	assert.True(t, (&File{MimeType: "image/png"}).IsImage())
	assert.True(t, (&File{MimeType: "IMAGE/JPEG"}).IsImage())
	assert.False(t, (&File{MimeType: "application/pdf"}).IsImage())
}

func TestParseStorageType(t *testing.T) {
	for _, st := range AllStorageTypes {
		got, err := ParseStorageType(string(st))
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}
	_, err := ParseStorageType("firebase")
	assert.Error(t, err)
}

type plain struct{ configured bool }

func (p plain) Type() StorageType  { return StorageTypeBlob }
func (p plain) IsConfigured() bool { return p.configured }
func (p plain) Upload(context.Context, *File, string, ProgressFunc) (*UploadResult, error) {
	return nil, nil
}
func (p plain) Delete(context.Context, string, *DeleteHint) error { return nil }

type grant struct {
	plain
	owners map[string]bool
}

func (g grant) IsConnected(_ context.Context, owner string) bool { return g.owners[owner] }

func TestCapabilities(t *testing.T) {
	ctx := context.Background()

	assert.True(t, IsConnected(ctx, plain{configured: true}, "u1"))
	assert.False(t, IsConnected(ctx, plain{configured: false}, "u1"))
	assert.False(t, IsConnected(ctx, nil, "u1"))

	g := grant{plain: plain{configured: true}, owners: map[string]bool{"u1": true}}
	assert.True(t, IsConnected(ctx, g, "u1"))
	assert.False(t, IsConnected(ctx, g, "u2"))

	_, ok := AsURLSigner(plain{})
	assert.False(t, ok)
	_, ok = AsLister(plain{})
	assert.False(t, ok)
}

// Package memory provides an in-process storage backend.
//
// It backs the "memory" profile used for local development and is the test
// double for everything above the backend layer: failures can be injected
// per operation and every call is recorded.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/errdefs"
)

// Object is a stored payload.
type Object struct {
	Data      []byte
	MimeType  string
	Owner     string
	CreatedAt time.Time
}

// Backend is an in-memory storage backend.
//
// Thread Safety: Safe for concurrent use.
type Backend struct {
	mu sync.RWMutex

	kind       backend.StorageType
	configured bool
	signing    bool
	objects    map[string]*Object
	connected  map[string]bool
	seq        int

	uploadCalls int
	deleteCalls []string

	// Injected failures, consumed in order. A nil entry means success.
	uploadErrs []error
	deleteErrs []error
	signErr    error
	hangDelete bool

	now func() time.Time
}

// Option customises a Backend.
type Option func(*Backend)

// WithType makes the backend report t, so one memory backend can stand in
// for any of the real ones.
func WithType(t backend.StorageType) Option {
	return func(b *Backend) { b.kind = t }
}

// Unconfigured makes IsConfigured report false.
func Unconfigured() Option {
	return func(b *Backend) { b.configured = false }
}

// WithSignedURLs makes the backend a backend.URLSigner.
// Use New(...).Signer() to get the capability-typed value.
func WithSignedURLs() Option {
	return func(b *Backend) { b.signing = true }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// New creates an empty, configured backend reporting the blob storage type.
func New(opts ...Option) *Backend {
	b := &Backend{
		kind:       backend.StorageTypeBlob,
		configured: true,
		objects:    make(map[string]*Object),
		connected:  make(map[string]bool),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Type() backend.StorageType { return b.kind }

func (b *Backend) IsConfigured() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.configured
}

// SetConfigured toggles IsConfigured.
func (b *Backend) SetConfigured(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.configured = v
}

// FailUploads queues errors returned by the next Upload calls.
func (b *Backend) FailUploads(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploadErrs = append(b.uploadErrs, errs...)
}

// FailDeletes queues errors returned by the next Delete calls.
func (b *Backend) FailDeletes(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleteErrs = append(b.deleteErrs, errs...)
}

// HangDeletes makes Delete block until its context is done.
func (b *Backend) HangDeletes() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hangDelete = true
}

// FailSigning makes SignedURL return err until reset with nil.
func (b *Backend) FailSigning(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signErr = err
}

func (b *Backend) Upload(ctx context.Context, file *backend.File, ownerID string, progress backend.ProgressFunc) (*backend.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.uploadCalls++
	var injected error
	if len(b.uploadErrs) > 0 {
		injected, b.uploadErrs = b.uploadErrs[0], b.uploadErrs[1:]
	}
	b.mu.Unlock()

	if injected != nil {
		return nil, injected
	}

	data, err := io.ReadAll(backend.NewProgressReader(file.Reader(), file.Size, progress))
	if err != nil {
		return nil, &errdefs.UploadError{Backend: b.kind.String(), Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	path := fmt.Sprintf("%s/%d_%s", ownerID, b.seq, file.Name)
	b.objects[path] = &Object{Data: data, MimeType: file.MimeType, Owner: ownerID, CreatedAt: b.now()}

	return &backend.UploadResult{
		URL:  b.url(path, 0),
		Path: path,
		Type: b.kind,
	}, nil
}

func (b *Backend) Delete(ctx context.Context, path string, _ *backend.DeleteHint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	b.deleteCalls = append(b.deleteCalls, path)
	if b.hangDelete {
		b.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	defer b.mu.Unlock()

	if len(b.deleteErrs) > 0 {
		injected := b.deleteErrs[0]
		b.deleteErrs = b.deleteErrs[1:]
		if injected != nil {
			return injected
		}
	}

	delete(b.objects, path)
	return nil
}

// Connect grants ownerID access, for backends standing in for the drive.
func (b *Backend) Connect(ownerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected[ownerID] = true
}

// Disconnect revokes ownerID's access.
func (b *Backend) Disconnect(ownerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.connected, ownerID)
}

// Connector returns a view of b implementing backend.Connector.
func (b *Backend) Connector() backend.Connector { return &connector{b} }

// Signer returns a view of b implementing backend.URLSigner.
func (b *Backend) Signer() backend.URLSigner { return &signer{b} }

// Lister returns a view of b implementing backend.Lister.
func (b *Backend) Lister() backend.Lister { return &lister{b} }

// Exists reports whether an object is stored at path.
func (b *Backend) Exists(path string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.objects[path]
	return ok
}

// Get returns the object at path.
func (b *Backend) Get(path string) (*Object, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.objects[path]
	return o, ok
}

// Put stores an object directly, bypassing Upload.
func (b *Backend) Put(path string, obj *Object) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = b.now()
	}
	b.objects[path] = obj
}

// Len returns the number of stored objects.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

// UploadCalls returns how many times Upload was invoked.
func (b *Backend) UploadCalls() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.uploadCalls
}

// DeleteCalls returns the paths passed to Delete, in order.
func (b *Backend) DeleteCalls() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.deleteCalls...)
}

func (b *Backend) url(path string, gen int) string {
	if !b.signing {
		return "memory://" + string(b.kind) + "/" + path
	}
	return fmt.Sprintf("memory://%s/%s?sig=%d", b.kind, path, gen)
}

type connector struct{ *Backend }

func (c *connector) IsConnected(_ context.Context, ownerID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.configured && c.connected[ownerID]
}

type signer struct{ *Backend }

func (s *signer) SignedURL(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signErr != nil {
		return "", s.signErr
	}
	s.seq++
	return s.url(path, s.seq), nil
}

type lister struct{ *Backend }

func (l *lister) ListObjects(ctx context.Context) ([]backend.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]backend.ObjectInfo, 0, len(l.objects))
	for path, obj := range l.objects {
		out = append(out, backend.ObjectInfo{Path: path, Size: int64(len(obj.Data)), CreatedAt: obj.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Package blob implements the database-backed blob bucket on BadgerDB.
//
// The bucket is the store of last resort: it needs no third-party account,
// so it is always configured. Objects are private; downloads go through
// short-lived signed URLs served by Handler.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/errdefs"
)

const (
	dataPrefix = "o:"
	metaPrefix = "m:"

	// DefaultMaxObjectSize bounds a single upload.
	DefaultMaxObjectSize = 100 << 20

	// InMemoryMaxObjectSize is the largest value an in-memory Badger
	// database stores. Values must stay below its 1 MiB value threshold,
	// since there is no value log to point into.
	InMemoryMaxObjectSize = 1<<20 - 1
)

// ErrObjectNotFound is returned by Open for absent keys.
var ErrObjectNotFound = errors.New("blob: object not found")

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.]`)

// SafeName replaces every character outside [A-Za-z0-9.] with '_'.
func SafeName(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// ObjectMeta is stored alongside each object.
type ObjectMeta struct {
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}

// Config contains configuration for the blob backend.
type Config struct {
	// DB is an already opened database. When nil, one is opened at Path
	// (or in memory when InMemory is set) and closed by Close.
	DB       *badger.DB
	Path     string
	InMemory bool

	// Signer produces download URLs. Required.
	Signer *URLSigner

	// MaxObjectSize bounds uploads (default: 100MB). In-memory databases
	// are clamped to InMemoryMaxObjectSize.
	MaxObjectSize int64

	// Now overrides the clock used for keys and metadata.
	Now func() time.Time
}

// Backend stores objects in BadgerDB.
//
// Key Layout:
//
//	o:{ownerID}/{unixMillis}_{safeName}  object bytes
//	m:{ownerID}/{unixMillis}_{safeName}  ObjectMeta (JSON)
//
// The object path handed back to callers is the part after the prefix.
//
// Thread Safety: Safe for concurrent use.
type Backend struct {
	db      *badger.DB
	ownsDB  bool
	signer  *URLSigner
	maxSize int64
	stamper *backend.Stamper
	now     func() time.Time
}

// New creates the blob backend, opening the database if needed.
func New(cfg Config) (*Backend, error) {
	if cfg.Signer == nil {
		return nil, errors.New("blob: URL signer is required")
	}

	db := cfg.DB
	owns := false
	if db == nil {
		opts := badger.DefaultOptions(cfg.Path)
		if cfg.InMemory {
			opts = badger.DefaultOptions("").WithInMemory(true)
		} else if cfg.Path == "" {
			return nil, errors.New("blob: path is required unless in_memory is set")
		}
		opts = opts.WithLoggingLevel(badger.WARNING).WithCompression(options.None)

		var err error
		db, err = badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open blob store at %s: %w", cfg.Path, err)
		}
		owns = true
	}

	maxSize := cfg.MaxObjectSize
	if maxSize <= 0 {
		maxSize = DefaultMaxObjectSize
	}
	if db.Opts().InMemory && maxSize > InMemoryMaxObjectSize {
		logger.Warn("Blob: in-memory bucket limits objects to %d bytes (configured %d)", InMemoryMaxObjectSize, maxSize)
		maxSize = InMemoryMaxObjectSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Backend{
		db:      db,
		ownsDB:  owns,
		signer:  cfg.Signer,
		maxSize: maxSize,
		stamper: backend.NewStamper(now),
		now:     now,
	}, nil
}

// Close releases the database if the backend opened it.
func (b *Backend) Close() error {
	if b.ownsDB {
		return b.db.Close()
	}
	return nil
}

func (b *Backend) Type() backend.StorageType { return backend.StorageTypeBlob }

// IsConfigured is always true.
func (b *Backend) IsConfigured() bool { return true }

func (b *Backend) objectPath(ownerID, name string) string {
	return fmt.Sprintf("%s/%d_%s", ownerID, b.stamper.Next(), SafeName(name))
}

// Upload stores the file and returns a signed download URL.
func (b *Backend) Upload(ctx context.Context, file *backend.File, ownerID string, progress backend.ProgressFunc) (*backend.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if file.Size > b.maxSize {
		return nil, &errdefs.UploadError{
			Backend:   b.Type().String(),
			Permanent: true,
			Err:       fmt.Errorf("object of %d bytes exceeds limit of %d", file.Size, b.maxSize),
		}
	}

	var buf bytes.Buffer
	buf.Grow(int(file.Size))
	if _, err := io.Copy(&buf, backend.NewProgressReader(file.Reader(), file.Size, progress)); err != nil {
		return nil, &errdefs.UploadError{Backend: b.Type().String(), Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := b.objectPath(ownerID, file.Name)
	meta, err := json.Marshal(ObjectMeta{
		MimeType:  file.MimeType,
		Size:      int64(buf.Len()),
		Owner:     ownerID,
		CreatedAt: b.now().UTC(),
	})
	if err != nil {
		return nil, &errdefs.UploadError{Backend: b.Type().String(), Permanent: true, Err: err}
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(dataPrefix+path), buf.Bytes()); err != nil {
			return err
		}
		return txn.Set([]byte(metaPrefix+path), meta)
	})
	if err != nil {
		return nil, storeError(b.Type().String(), path, err)
	}

	url, err := b.SignedURL(ctx, path)
	if err != nil {
		_ = b.Delete(context.WithoutCancel(ctx), path, nil)
		return nil, &errdefs.UploadError{Backend: b.Type().String(), Err: fmt.Errorf("sign %s: %w", path, err)}
	}

	logger.Debug("Blob: stored %s (%d bytes)", path, buf.Len())

	return &backend.UploadResult{URL: url, Path: path, Type: backend.StorageTypeBlob}, nil
}

// storeError turns a failed write into an UploadError. Badger's size errors
// embed the rejected value, so only their first line is kept and they are
// marked permanent.
func storeError(backendName, path string, err error) error {
	msg, _, dumped := strings.Cut(err.Error(), "\n")
	permanent := dumped || errors.Is(err, badger.ErrTxnTooBig) || strings.Contains(msg, "exceeded")
	if errors.Is(err, badger.ErrTxnTooBig) {
		msg = "object too large for the store"
	}
	return &errdefs.UploadError{
		Backend:   backendName,
		Permanent: permanent,
		Err:       fmt.Errorf("store %s: %s", path, msg),
	}
}

// Delete removes the object. Absent keys are not an error.
func (b *Backend) Delete(ctx context.Context, path string, _ *backend.DeleteHint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(dataPrefix + path)); err != nil {
			return err
		}
		return txn.Delete([]byte(metaPrefix + path))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// SignedURL returns a fresh signed download URL for path.
func (b *Backend) SignedURL(_ context.Context, path string) (string, error) {
	return b.signer.URL(path)
}

// Open returns the object's bytes and metadata.
func (b *Backend) Open(ctx context.Context, path string) (io.ReadSeeker, *ObjectMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var (
		data []byte
		meta ObjectMeta
	)
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaPrefix + path))
		if err != nil {
			return err
		}
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &meta) }); err != nil {
			return err
		}

		item, err = txn.Get([]byte(dataPrefix + path))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	return bytes.NewReader(data), &meta, nil
}

// ListObjects returns every stored object.
func (b *Backend) ListObjects(ctx context.Context) ([]backend.ObjectInfo, error) {
	var objects []backend.ObjectInfo

	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, Prefix: []byte(metaPrefix)})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var meta ObjectMeta
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &meta) }); err != nil {
				return err
			}
			objects = append(objects, backend.ObjectInfo{
				Path:      string(item.Key()[len(metaPrefix):]),
				Size:      meta.Size,
				CreatedAt: meta.CreatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	return objects, nil
}

// DeleteBatch removes many objects with a single write batch.
func (b *Backend) DeleteBatch(ctx context.Context, paths []string) (map[string]error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	failures := make(map[string]error)
	for _, p := range paths {
		if err := wb.Delete([]byte(dataPrefix + p)); err != nil {
			failures[p] = err
			continue
		}
		if err := wb.Delete([]byte(metaPrefix + p)); err != nil {
			failures[p] = err
		}
	}
	if err := wb.Flush(); err != nil {
		for _, p := range paths {
			failures[p] = err
		}
	}
	return failures, nil
}

// Package s3 implements the object-storage backend on Amazon S3 or any
// S3-compatible service (Cloudflare R2, MinIO, Localstack).
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/errdefs"
)

const (
	minPartSize = 5 * 1024 * 1024
	maxPartSize = 5 * 1024 * 1024 * 1024

	// DefaultURLExpiry is how long presigned download URLs stay valid.
	DefaultURLExpiry = time.Hour
)

// Backend stores objects in an S3 bucket.
//
// Key Layout:
//
//	{keyPrefix}users/{ownerID}/{unixMillis}_{filename}
//
// Objects below PartSize are sent with a single PutObject; larger ones use a
// multipart upload that is aborted if any part fails.
//
// Download URLs are presigned GET URLs and expire after URLExpiry, so the
// backend implements backend.URLSigner and callers must re-sign on read.
//
// Thread Safety: Safe for concurrent use.
type Backend struct {
	client    *s3.Client
	presign   *s3.PresignClient
	bucket    string
	keyPrefix string
	partSize  int64
	expiry    time.Duration
	stamper   *backend.Stamper
}

// Config contains configuration for the S3 backend.
type Config struct {
	// Client is the configured S3 client. A nil client yields an
	// unconfigured backend.
	Client *s3.Client

	// Bucket is the bucket name. Must already exist.
	Bucket string

	// KeyPrefix is an optional prefix for all object keys.
	KeyPrefix string

	// PartSize is the multipart threshold and part size (default: 10MB).
	// Must be between 5MB and 5GB.
	PartSize int64

	// URLExpiry is the presigned URL lifetime (default: 1h).
	URLExpiry time.Duration

	// Now overrides the clock used for object keys.
	Now func() time.Time
}

// New creates an S3 backend. It performs no I/O; use Ping to verify bucket
// access.
func New(cfg Config) (*Backend, error) {
	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = 10 * 1024 * 1024
	}
	if partSize < minPartSize {
		return nil, fmt.Errorf("part size must be at least 5MB, got %d bytes", partSize)
	}
	if partSize > maxPartSize {
		return nil, fmt.Errorf("part size must be at most 5GB, got %d bytes", partSize)
	}

	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}

	b := &Backend{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		partSize:  partSize,
		expiry:    expiry,
		stamper:   backend.NewStamper(cfg.Now),
	}
	if cfg.Client != nil {
		b.presign = s3.NewPresignClient(cfg.Client)
	}
	return b, nil
}

func (b *Backend) Type() backend.StorageType { return backend.StorageTypeS3 }

func (b *Backend) IsConfigured() bool {
	return b.client != nil && b.bucket != ""
}

// Ping verifies the bucket is reachable with the configured credentials.
func (b *Backend) Ping(ctx context.Context) error {
	if !b.IsConfigured() {
		return errdefs.ErrNotConfigured
	}
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		return fmt.Errorf("failed to access bucket %q: %w", b.bucket, err)
	}
	return nil
}

// objectKey builds the key for a new upload.
func (b *Backend) objectKey(ownerID, name string) string {
	return fmt.Sprintf("%susers/%s/%d_%s", b.keyPrefix, ownerID, b.stamper.Next(), name)
}

// singleAttempt disables the SDK retryer for upload calls. Uploads are
// retried as a whole by the orchestrator.
func singleAttempt(o *s3.Options) { o.RetryMaxAttempts = 1 }

// Upload stores the file and returns a presigned download URL.
func (b *Backend) Upload(ctx context.Context, file *backend.File, ownerID string, progress backend.ProgressFunc) (*backend.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !b.IsConfigured() {
		return nil, &errdefs.UploadError{Backend: b.Type().String(), Permanent: true, Err: errdefs.ErrNotConfigured}
	}

	key := b.objectKey(ownerID, file.Name)
	body := newSeekableProgress(file.Reader(), file.Size, progress)

	var err error
	if file.Size > b.partSize {
		err = b.uploadMultipart(ctx, key, file, body)
	} else {
		_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(b.bucket),
			Key:           aws.String(key),
			Body:          body,
			ContentLength: aws.Int64(file.Size),
			ContentType:   aws.String(file.MimeType),
		}, singleAttempt)
	}
	if err != nil {
		return nil, b.uploadError(err)
	}

	url, err := b.SignedURL(ctx, key)
	if err != nil {
		if derr := b.Delete(context.WithoutCancel(ctx), key, nil); derr != nil {
			logger.Critical("S3: object %s left behind after presign failure: %v", key, derr)
		}
		return nil, &errdefs.UploadError{Backend: b.Type().String(), Err: fmt.Errorf("presign %s: %w", key, err)}
	}

	logger.Debug("S3: uploaded %s (%d bytes)", key, file.Size)

	return &backend.UploadResult{URL: url, Path: key, Type: backend.StorageTypeS3}, nil
}

// Delete removes the object. S3 reports success for absent keys; NoSuchKey
// from stricter implementations is treated the same way.
func (b *Backend) Delete(ctx context.Context, path string, _ *backend.DeleteHint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.IsConfigured() {
		return errdefs.ErrNotConfigured
	}

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete object %s: %w", path, err)
	}
	return nil
}

// SignedURL returns a presigned GET URL for path.
func (b *Backend) SignedURL(ctx context.Context, path string) (string, error) {
	if !b.IsConfigured() {
		return "", errdefs.ErrNotConfigured
	}
	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	}, s3.WithPresignExpires(b.expiry))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// uploadError classifies an SDK error. 4xx responses other than timeouts
// and throttling are permanent.
func (b *Backend) uploadError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	permanent := false
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		code := re.HTTPStatusCode()
		permanent = code >= 400 && code < 500 && code != 408 && code != 429
	}
	return &errdefs.UploadError{Backend: b.Type().String(), Permanent: permanent, Err: err}
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == 404
}

// seekableProgress reports progress while staying seekable, which the SDK
// needs to hash and re-send the body. Only reads past the high-water mark
// are reported, so a rewind never makes progress go backwards.
type seekableProgress struct {
	r     io.ReadSeeker
	total int64
	pos   int64
	high  int64
	fn    backend.ProgressFunc
}

func newSeekableProgress(r io.ReadSeeker, total int64, fn backend.ProgressFunc) *seekableProgress {
	return &seekableProgress{r: r, total: total, fn: fn}
}

func (p *seekableProgress) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.pos += int64(n)
	if p.pos > p.high {
		p.high = p.pos
		if p.fn != nil {
			p.fn(backend.Progress{BytesTransferred: p.high, TotalBytes: p.total})
		}
	}
	return n, err
}

func (p *seekableProgress) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.r.Seek(offset, whence)
	if err == nil {
		p.pos = pos
	}
	return pos, err
}

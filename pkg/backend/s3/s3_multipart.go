package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/backend"
)

// uploadMultipart sends body in PartSize chunks.
//
// Parts are uploaded sequentially so progress stays ordered. On any failure
// the multipart upload is aborted, leaving nothing behind in the bucket.
func (b *Backend) uploadMultipart(ctx context.Context, key string, file *backend.File, body io.ReadSeeker) (err error) {
	// ========================================================================
	// Step 1: Create the multipart upload
	// ========================================================================

	created, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(file.MimeType),
	}, singleAttempt)
	if err != nil {
		return fmt.Errorf("failed to create multipart upload: %w", err)
	}
	uploadID := aws.ToString(created.UploadId)

	defer func() {
		if err != nil {
			if aerr := b.abortMultipart(context.WithoutCancel(ctx), key, uploadID); aerr != nil {
				logger.Warn("S3: failed to abort multipart upload %s for %s: %v", uploadID, key, aerr)
			}
		}
	}()

	// ========================================================================
	// Step 2: Upload parts
	// ========================================================================

	var parts []types.CompletedPart
	for partNumber, offset := int32(1), int64(0); offset < file.Size; partNumber++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		size := b.partSize
		if remaining := file.Size - offset; remaining < size {
			size = remaining
		}

		section := io.NewSectionReader(readerAt{body}, offset, size)
		result, err := b.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(b.bucket),
			Key:           aws.String(key),
			UploadId:      aws.String(uploadID),
			PartNumber:    aws.Int32(partNumber),
			Body:          section,
			ContentLength: aws.Int64(size),
		}, singleAttempt)
		if err != nil {
			return fmt.Errorf("failed to upload part %d: %w", partNumber, err)
		}

		parts = append(parts, types.CompletedPart{
			ETag:       result.ETag,
			PartNumber: aws.Int32(partNumber),
		})
		offset += size
	}

	// ========================================================================
	// Step 3: Complete
	// ========================================================================

	sort.Slice(parts, func(i, j int) bool {
		return *parts[i].PartNumber < *parts[j].PartNumber
	})

	_, err = b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(b.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	}, singleAttempt)
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return nil
}

// abortMultipart cancels an in-progress upload. NoSuchUpload is ignored.
func (b *Backend) abortMultipart(ctx context.Context, key, uploadID string) error {
	_, err := b.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		var noSuchUpload *types.NoSuchUpload
		if !errors.As(err, &noSuchUpload) {
			return fmt.Errorf("failed to abort multipart upload: %w", err)
		}
	}
	return nil
}

// readerAt adapts the progress-reporting ReadSeeker to io.ReaderAt so each
// part gets an independent, seekable section. Parts are read one at a time,
// so sharing the underlying seeker is safe.
type readerAt struct {
	rs io.ReadSeeker
}

func (r readerAt) ReadAt(p []byte, off int64) (int, error) {
	if _, err := r.rs.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(r.rs, p)
}

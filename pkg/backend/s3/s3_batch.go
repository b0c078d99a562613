package s3

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/errdefs"
)

// ListObjects returns every object under the key prefix.
func (b *Backend) ListObjects(ctx context.Context) ([]backend.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !b.IsConfigured() {
		return nil, errdefs.ErrNotConfigured
	}

	var objects []backend.ObjectInfo

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.keyPrefix + "users/"),
	})

	for paginator.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			objects = append(objects, backend.ObjectInfo{
				Path:      *obj.Key,
				Size:      aws.ToInt64(obj.Size),
				CreatedAt: aws.ToTime(obj.LastModified),
			})
		}
	}

	return objects, nil
}

// DeleteBatch removes multiple objects, 1000 per request.
//
// Returns a map of per-key failures (empty when everything was deleted) and
// an error only for cancellation.
func (b *Backend) DeleteBatch(ctx context.Context, paths []string) (map[string]error, error) {
	failures := make(map[string]error)

	const maxBatchSize = 1000

	for i := 0; i < len(paths); i += maxBatchSize {
		if err := ctx.Err(); err != nil {
			for _, p := range paths[i:] {
				failures[p] = err
			}
			return failures, err
		}

		end := min(i+maxBatchSize, len(paths))
		batch := paths[i:end]

		objects := make([]types.ObjectIdentifier, len(batch))
		for j, p := range batch {
			objects[j] = types.ObjectIdentifier{Key: aws.String(p)}
		}

		result, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			for _, p := range batch {
				failures[p] = err
			}
			continue
		}

		for _, derr := range result.Errors {
			if derr.Key == nil {
				continue
			}
			failures[*derr.Key] = fmt.Errorf("%s: %s", aws.ToString(derr.Code), aws.ToString(derr.Message))
		}
	}

	return failures, nil
}

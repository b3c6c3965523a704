package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// Reader implements domain.BlobReader. The archiver reads back the current
// month's bundle through it before appending, and operators use the same
// surface to pull archives for dispute post-mortems.
type Reader struct {
	client *Client
}

func NewReader(c *Client) *Reader {
	return &Reader{client: c}
}

var _ domain.BlobReader = (*Reader)(nil)

// Get opens the object at path. The caller closes the returned body.
// A missing object maps to domain.ErrNotFound so callers can branch on the
// usual sentinel instead of SDK error types.
func (r *Reader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := r.client.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.client.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isObjectMissing(err) {
			return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	return out.Body, nil
}

// isObjectMissing recognises the shapes a missing object comes back as:
// NoSuchKey from GetObject, NotFound from HeadObject, and a bare 404 from
// providers such as MinIO that skip the typed error.
func isObjectMissing(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}
	var respErr interface{ HTTPStatusCode() int }
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404
}

package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// archivePartSize is the multipart chunk size for uploads. Monthly bundles
// are normally well under one part, in which case the manager falls back to
// a single PutObject.
const archivePartSize int64 = 8 * 1024 * 1024

// Writer implements domain.BlobWriter on top of the SDK upload manager, so
// a bundle that outgrows a single request still uploads without the caller
// caring.
type Writer struct {
	uploader *manager.Uploader
	bucket   string
}

func NewWriter(c *Client) *Writer {
	return &Writer{
		uploader: manager.NewUploader(c.s3, func(u *manager.Uploader) {
			u.PartSize = archivePartSize
		}),
		bucket: c.bucket,
	}
}

var _ domain.BlobWriter = (*Writer)(nil)

// Put uploads data to path, replacing any existing object.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

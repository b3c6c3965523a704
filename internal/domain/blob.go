package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves data from object storage. A missing object surfaces
// as ErrNotFound.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}

// Archiver exports settled orders and their telemetry evidence to cold
// storage. Deletion from the primary store is a separate explicit step after
// the archive has been verified.
type Archiver interface {
	ArchiveSettledOrders(ctx context.Context, before time.Time) (int64, error)
}

package storage

import (
	"context"
	"io"
	"time"
)

// ObjectStorage holds compressed test case backup archives.
type ObjectStorage interface {
	// GetObject opens an object for reading. Caller must close the reader.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error
	// ListObjects streams the objects under prefix. A failed listing yields an entry with Err set.
	ListObjects(ctx context.Context, bucket, prefix string) <-chan ObjectInfo
	PresignGetObject(ctx context.Context, bucket, objectKey string, ttl time.Duration) (string, error)
}

// ObjectInfo is one entry of a listing.
type ObjectInfo struct {
	Key          string
	SizeBytes    int64
	LastModified time.Time
	Err          error
}

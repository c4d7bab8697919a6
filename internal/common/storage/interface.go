package storage

import (
	"context"
	"io"
)

// ObjectStorage defines the object operations the pipeline needs.
type ObjectStorage interface {
	// PutObject uploads size bytes from reader under bucket/objectKey.
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error

	// GetObject opens a reader for an object.
	// Caller must close the returned reader.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)
}

package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo is one archived object as listed by the store. Path is relative
// to the configured key prefix.
type BlobInfo struct {
	Path         string
	Size         int64
	ETag         string
	LastModified time.Time
}

// BlobWriter stores archive files. PutMultipart is used once a file is
// larger than a single upload should carry.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads archive files back. Get on a missing path returns
// ErrNotFound.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies terminal journal rows older than a cutoff to object
// storage and reports how many were written.
type Archiver interface {
	ArchiveOperations(ctx context.Context, before time.Time) (int64, error)
}

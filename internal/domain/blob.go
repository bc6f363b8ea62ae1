package domain

import (
	"context"
	"io"
	"time"
)

// ArchiveKind names one class of history moved to cold storage. It is also
// the second path segment of every archive object.
type ArchiveKind string

const (
	ArchiveExecutions    ArchiveKind = "executions"
	ArchiveOpportunities ArchiveKind = "opportunities"
)

// BlobInfo describes a stored archive object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads archive objects. PutMultipart is used for objects
// larger than one part.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader inspects uploaded archive objects. The archiver only deletes
// rows after Stat confirms the upload landed whole.
type BlobReader interface {
	Stat(ctx context.Context, path string) (BlobInfo, error)
}

// Archiver moves settled execution history and expired opportunities out of
// the database. Each call returns the number of rows archived.
type Archiver interface {
	ArchiveExecutions(ctx context.Context, before time.Time) (int64, error)
	ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error)
}

package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	defaultBatch     = 50000
)

// ExecutionSource is the part of domain.ExecutionStore the archiver needs.
type ExecutionSource interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.ExecutionResult, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OpportunitySource is the part of domain.OpportunityStore the archiver
// needs.
type OpportunitySource interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Opportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver implements domain.Archiver. Each run uploads one JSONL object per
// kind, confirms its stored size matches, and only then deletes the archived
// rows.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	execs  ExecutionSource
	opps   OpportunitySource
	audit  domain.AuditStore
	prefix string
	batch  int
	logger *slog.Logger
}

// NewArchiver creates an Archiver writing under prefix (default "archive").
// audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	execs ExecutionSource,
	opps OpportunitySource,
	audit domain.AuditStore,
	prefix string,
	logger *slog.Logger,
) *Archiver {
	if prefix == "" {
		prefix = "archive"
	}
	return &Archiver{
		writer: writer,
		reader: reader,
		execs:  execs,
		opps:   opps,
		audit:  audit,
		prefix: prefix,
		batch:  defaultBatch,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveExecutions moves execution results finished before the cutoff to
// object storage.
func (a *Archiver) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.execs.ListBefore(ctx, before, a.batch)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	cutoff := before
	if len(rows) == a.batch {
		// A full batch may stop short of the cutoff; delete only up to the last row read.
		cutoff = rows[len(rows)-1].FinishedAt
	}
	return archive(ctx, a, domain.ArchiveExecutions, rows, before, cutoff, a.execs.DeleteBefore)
}

// ArchiveOpportunities moves opportunities detected before the cutoff to
// object storage.
func (a *Archiver) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.opps.ListBefore(ctx, before, a.batch)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	cutoff := before
	if len(rows) == a.batch {
		cutoff = rows[len(rows)-1].DetectedAt
	}
	return archive(ctx, a, domain.ArchiveOpportunities, rows, before, cutoff, a.opps.DeleteBefore)
}

func archive[T any](
	ctx context.Context,
	a *Archiver,
	kind domain.ArchiveKind,
	rows []T,
	before, cutoff time.Time,
	deleteBefore func(context.Context, time.Time) (int64, error),
) (int64, error) {
	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := a.path(kind, before)
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	info, err := a.reader.Stat(ctx, path)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return 0, fmt.Errorf("s3blob: archive %s verify: %s missing after upload", kind, path)
	case err != nil:
		return 0, fmt.Errorf("s3blob: archive %s verify: %w", kind, err)
	case info.Size != int64(len(buf)):
		return 0, fmt.Errorf("s3blob: archive %s verify: %s holds %d bytes, uploaded %d", kind, path, info.Size, len(buf))
	}

	deleted, err := deleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s delete: %w", kind, err)
	}

	count := int64(len(rows))
	a.logger.InfoContext(ctx, "archived history",
		slog.String("kind", string(kind)),
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Int64("deleted", deleted),
	)
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+string(kind), map[string]any{
			"path":    path,
			"count":   count,
			"deleted": deleted,
			"before":  before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return count, nil
}

// Run archives everything older than retention every interval until ctx is
// done. Failures are logged and retried on the next tick.
func (a *Archiver) Run(ctx context.Context, interval, retention time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			if _, err := a.ArchiveExecutions(ctx, cutoff); err != nil {
				a.logger.ErrorContext(ctx, "archive executions failed", slog.Any("error", err))
			}
			if _, err := a.ArchiveOpportunities(ctx, cutoff); err != nil {
				a.logger.ErrorContext(ctx, "archive opportunities failed", slog.Any("error", err))
			}
		}
	}
}

// path partitions archives by month and names them by cutoff:
//
//	archive/executions/2026-04/20260414T000000Z.jsonl
func (a *Archiver) path(kind domain.ArchiveKind, before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("%s/%s/%s/%s.jsonl", a.prefix, kind, before.Format("2006-01"), before.Format("20060102T150405Z"))
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)

package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type memBlobs struct {
	objects map[string][]byte
	types   map[string]string
	drop    bool
	short   int64
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if !m.drop {
		m.objects[path] = b
		m.types[path] = contentType
	}
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, jsonlContentType)
}

func (m *memBlobs) Stat(_ context.Context, path string) (domain.BlobInfo, error) {
	b, ok := m.objects[path]
	if !ok {
		return domain.BlobInfo{}, domain.ErrNotFound
	}
	return domain.BlobInfo{Path: path, Size: int64(len(b)) - m.short, ContentType: m.types[path]}, nil
}

type memExecs struct {
	rows    []domain.ExecutionResult
	deleted []time.Time
}

func (m *memExecs) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.ExecutionResult, error) {
	var out []domain.ExecutionResult
	for _, r := range m.rows {
		if r.FinishedAt.Before(before) && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memExecs) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	m.deleted = append(m.deleted, before)
	var keep []domain.ExecutionResult
	var n int64
	for _, r := range m.rows {
		if r.FinishedAt.Before(before) {
			n++
			continue
		}
		keep = append(keep, r)
	}
	m.rows = keep
	return n, nil
}

type noOpps struct{}

func (noOpps) ListBefore(context.Context, time.Time, int) ([]domain.Opportunity, error) {
	return nil, nil
}
func (noOpps) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func results(base time.Time, n int) []domain.ExecutionResult {
	out := make([]domain.ExecutionResult, n)
	for i := range out {
		out[i] = domain.ExecutionResult{
			ID:             "res-" + string(rune('a'+i)),
			Success:        true,
			RealizedProfit: decimal.NewFromInt(int64(i)),
			FinishedAt:     base.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

func TestArchiveExecutionsUploadsThenDeletes(t *testing.T) {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	blobs := newMemBlobs()
	execs := &memExecs{rows: results(base, 4)}
	a := NewArchiver(blobs, blobs, execs, noOpps{}, nil, "", discard)

	cutoff := base.Add(150 * time.Minute)
	n, err := a.ArchiveExecutions(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Len(t, execs.rows, 1)

	path := "archive/executions/2026-04/20260401T023000Z.jsonl"
	require.Contains(t, blobs.objects, path)
	assert.Equal(t, jsonlContentType, blobs.types[path])

	sc := bufio.NewScanner(bytes.NewReader(blobs.objects[path]))
	var lines int
	for sc.Scan() {
		var r domain.ExecutionResult
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		lines++
	}
	assert.Equal(t, 3, lines)

	n, err = a.ArchiveExecutions(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArchiveKeepsRowsWhenUploadMissing(t *testing.T) {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	blobs := newMemBlobs()
	blobs.drop = true
	execs := &memExecs{rows: results(base, 2)}
	a := NewArchiver(blobs, blobs, execs, noOpps{}, nil, "cold", discard)

	_, err := a.ArchiveExecutions(context.Background(), base.Add(24*time.Hour))
	require.Error(t, err)
	assert.Len(t, execs.rows, 2)
	assert.Empty(t, execs.deleted)
}

func TestArchiveKeepsRowsWhenUploadTruncated(t *testing.T) {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	blobs := newMemBlobs()
	blobs.short = 1
	execs := &memExecs{rows: results(base, 2)}
	a := NewArchiver(blobs, blobs, execs, noOpps{}, nil, "", discard)

	_, err := a.ArchiveExecutions(context.Background(), base.Add(24*time.Hour))
	require.ErrorContains(t, err, "bytes")
	assert.Len(t, execs.rows, 2)
}

func TestArchiveFullBatchDeletesOnlyWhatWasRead(t *testing.T) {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	blobs := newMemBlobs()
	execs := &memExecs{rows: results(base, 5)}
	a := NewArchiver(blobs, blobs, execs, noOpps{}, nil, "", discard)
	a.batch = 3

	n, err := a.ArchiveExecutions(context.Background(), base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.Len(t, execs.deleted, 1)
	assert.Equal(t, base.Add(2*time.Hour), execs.deleted[0])
	assert.Len(t, execs.rows, 3)
}

package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type stubSource struct {
	points map[domain.AssetID]domain.PricePoint
	err    error
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Fetch(_ context.Context, asset domain.AssetID) (domain.PricePoint, error) {
	if s.err != nil {
		return domain.PricePoint{}, s.err
	}
	p, ok := s.points[asset]
	if !ok {
		return domain.PricePoint{}, domain.DataError(domain.ErrUnsupportedAsset, nil, "asset %s", asset)
	}
	return p, nil
}

type memCache struct {
	mu     sync.Mutex
	points map[string]domain.PricePoint
}

func newMemCache() *memCache { return &memCache{points: map[string]domain.PricePoint{}} }

func (m *memCache) SetPrice(_ context.Context, source string, p domain.PricePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[source+":"+string(p.Asset)] = p
	return nil
}

func (m *memCache) GetPrice(_ context.Context, source string, asset domain.AssetID) (domain.PricePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.points[source+":"+string(asset)]
	if !ok {
		return domain.PricePoint{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memCache) GetPrices(ctx context.Context, source string, assets []domain.AssetID) (map[domain.AssetID]domain.PricePoint, error) {
	out := make(map[domain.AssetID]domain.PricePoint, len(assets))
	for _, a := range assets {
		if p, err := m.GetPrice(ctx, source, a); err == nil {
			out[a] = p
		}
	}
	return out, nil
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestClient(src Source, cache domain.PriceCache, now time.Time) *Client {
	return NewClient(src, cache, Options{
		Freshness:  60 * time.Second,
		WindowSize: 16,
		Now:        func() time.Time { return now },
	}, discardLogger())
}

func TestGetPriceWritesThrough(t *testing.T) {
	src := &stubSource{points: map[domain.AssetID]domain.PricePoint{"XLM": point("0.1200000", 0)}}
	cache := newMemCache()
	c := newTestClient(src, cache, t0.Add(5*time.Second))

	p, err := c.GetPrice(context.Background(), "XLM")
	require.NoError(t, err)
	assert.Equal(t, "0.12", p.Price.String())

	cached, err := cache.GetPrice(context.Background(), "stub", "XLM")
	require.NoError(t, err)
	assert.True(t, cached.Price.Equal(p.Price))

	twap, err := c.TWAP("XLM", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, twap.Samples)
}

func TestMarkPriceDoesNotRecord(t *testing.T) {
	src := &stubSource{points: map[domain.AssetID]domain.PricePoint{"XLM": point("0.1200000", 0)}}
	cache := newMemCache()
	c := newTestClient(src, cache, t0.Add(5*time.Second))

	p, err := c.MarkPrice(context.Background(), "XLM")
	require.NoError(t, err)
	assert.Equal(t, "0.12", p.Price.String())
	assert.Zero(t, c.window("XLM").Len())
	_, err = cache.GetPrice(context.Background(), "stub", "XLM")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	// A point the scanner already recorded is served from the cache.
	require.NoError(t, cache.SetPrice(context.Background(), "stub", point("0.13", 0)))
	p, err = c.MarkPrice(context.Background(), "XLM")
	require.NoError(t, err)
	assert.Equal(t, "0.13", p.Price.String())

	c = newTestClient(src, nil, t0.Add(61*time.Second))
	_, err = c.MarkPrice(context.Background(), "XLM")
	assert.True(t, errors.Is(err, domain.ErrStaleData))
}

func TestGetPriceStale(t *testing.T) {
	src := &stubSource{points: map[domain.AssetID]domain.PricePoint{"XLM": point("0.12", 0)}}
	c := newTestClient(src, nil, t0.Add(61*time.Second))

	_, err := c.GetPrice(context.Background(), "XLM")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrData))
	assert.True(t, errors.Is(err, domain.ErrStaleData))
	assert.Zero(t, c.window("XLM").Len(), "stale points are not recorded")
}

func TestGetPriceFallsBackToFreshCache(t *testing.T) {
	cache := newMemCache()
	require.NoError(t, cache.SetPrice(context.Background(), "stub", point("0.11", 0)))
	src := &stubSource{err: fmt.Errorf("dial tcp: connection refused")}

	c := newTestClient(src, cache, t0.Add(30*time.Second))
	p, err := c.GetPrice(context.Background(), "XLM")
	require.NoError(t, err)
	assert.Equal(t, "0.11", p.Price.String())

	c = newTestClient(src, cache, t0.Add(2*time.Minute))
	_, err = c.GetPrice(context.Background(), "XLM")
	assert.True(t, errors.Is(err, domain.ErrSourceUnavailable))
}

func TestGetPriceUnsupportedAsset(t *testing.T) {
	c := newTestClient(&stubSource{}, nil, t0)
	_, err := c.GetPrice(context.Background(), "DOGE")
	assert.True(t, errors.Is(err, domain.ErrUnsupportedAsset))
	assert.Equal(t, "UnsupportedAsset", domain.ReasonOf(err))
}

func TestValidateDeviation(t *testing.T) {
	ref := decimal.NewFromInt(1)
	cases := []struct {
		current string
		maxBps  int64
		want    bool
	}{
		{"1", 0, true},
		{"1.05", 500, true},
		{"0.95", 500, true},
		{"1.0501", 500, false},
		{"1.08", 500, false},
	}
	for _, tc := range cases {
		got := ValidateDeviation(decimal.RequireFromString(tc.current), ref, tc.maxBps)
		assert.Equal(t, tc.want, got, "current=%s max=%d", tc.current, tc.maxBps)
	}
	assert.False(t, ValidateDeviation(ref, decimal.Zero, 10_000))
	assert.False(t, ValidateDeviation(ref, decimal.NewFromInt(-1), 10_000))
}

func FuzzValidateDeviationMonotonic(f *testing.F) {
	f.Add(int64(10_000_000), int64(10_800_000), int64(500))
	f.Add(int64(1), int64(1), int64(0))
	f.Fuzz(func(t *testing.T, ref, cur, maxBps int64) {
		if ref <= 0 || cur <= 0 || maxBps < 0 || maxBps > 1_000_000 {
			t.Skip()
		}
		r, c := domain.FromFixed(ref), domain.FromFixed(cur)
		if !ValidateDeviation(r, r, maxBps) {
			t.Fatalf("identical prices rejected at %d bps", maxBps)
		}
		if !ValidateDeviation(c, r, maxBps) && ValidateDeviation(c, r, maxBps/2) {
			t.Fatalf("rejection not monotonic in threshold")
		}
	})
}

func TestHTTPSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/prices/XLM":
			fmt.Fprintf(w, `{"asset":"XLM","price":1234567,"timestamp":%d,"source":"reflector","confidence":88}`, t0.Unix())
		case "/prices/BAD":
			http.Error(w, "boom", http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL+"/", "reflector", time.Second, WithAPIKey("k"))
	p, err := src.Fetch(context.Background(), "XLM")
	require.NoError(t, err)
	assert.Equal(t, "0.1234567", p.Price.String())
	assert.Equal(t, t0, p.Timestamp)
	assert.Equal(t, 88.0, p.Confidence)

	_, err = src.Fetch(context.Background(), "NOPE")
	assert.True(t, errors.Is(err, domain.ErrUnsupportedAsset))

	_, err = src.Fetch(context.Background(), "BAD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }
func (denyLimiter) Wait(context.Context, string, int, time.Duration) error         { return nil }

func TestHTTPSourceRateLimitedSurfacesAsUnavailable(t *testing.T) {
	src := NewHTTPSource("http://127.0.0.1:0", "reflector", time.Second, WithRateLimit(denyLimiter{}, 1, time.Second))
	c := newTestClient(src, nil, t0)

	_, err := c.GetPrice(context.Background(), "XLM")
	assert.True(t, errors.Is(err, domain.ErrSourceUnavailable))
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
}

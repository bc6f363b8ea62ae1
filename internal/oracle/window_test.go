package oracle

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func point(price string, at time.Duration) domain.PricePoint {
	return domain.PricePoint{
		Asset:      "XLM",
		Price:      decimal.RequireFromString(price),
		Timestamp:  t0.Add(at),
		Source:     "test",
		Confidence: 100,
	}
}

func TestWindowTWAPWeightsByDuration(t *testing.T) {
	w := NewWindow("XLM", 10, 0)
	require.NoError(t, w.Append(point("1.00", 0)))
	require.NoError(t, w.Append(point("2.00", 30*time.Second)))

	// 1.00 held for 30s, 2.00 held for 10s until now.
	twap, err := w.TWAP(10, t0.Add(40*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "1.25", twap.Price.String())
	assert.Equal(t, 2, twap.Samples)
	assert.InDelta(t, 20.0, twap.Confidence, 1e-9, "2 of 10 requested points")
}

func TestWindowTWAPUsesLastRecords(t *testing.T) {
	w := NewWindow("XLM", 10, 0)
	require.NoError(t, w.Append(point("5.00", 0)))
	require.NoError(t, w.Append(point("1.00", time.Second)))
	require.NoError(t, w.Append(point("1.00", 2*time.Second)))

	twap, err := w.TWAP(2, t0.Add(3*time.Second))
	require.NoError(t, err)
	assert.True(t, twap.Price.Equal(decimal.NewFromInt(1)))
	assert.InDelta(t, 100.0, twap.Confidence, 1e-9)
}

func TestWindowZeroWeightFallsBackToMean(t *testing.T) {
	w := NewWindow("XLM", 10, 0)
	require.NoError(t, w.Append(point("3.00", 0)))

	twap, err := w.TWAP(1, t0)
	require.NoError(t, err)
	assert.Equal(t, "3", twap.Price.String())
}

func TestWindowRejectsBackdatedPoint(t *testing.T) {
	w := NewWindow("XLM", 10, 0)
	require.NoError(t, w.Append(point("1.00", time.Minute)))

	err := w.Append(point("1.10", 0))
	assert.True(t, errors.Is(err, domain.ErrOutOfOrder))
	assert.Equal(t, 1, w.Len())

	// Same timestamp replaces the newest point.
	require.NoError(t, w.Append(point("1.05", time.Minute)))
	last, ok := w.Latest()
	require.True(t, ok)
	assert.Equal(t, "1.05", last.Price.StringFixed(2))
	assert.Equal(t, 1, w.Len())
}

func TestWindowEvictsByCapacityAndAge(t *testing.T) {
	w := NewWindow("XLM", 3, 10*time.Minute)
	for i := 0; i < 5; i++ {
		require.NoError(t, w.Append(point("1.00", time.Duration(i)*time.Second)))
	}
	assert.Equal(t, 3, w.Len())

	require.NoError(t, w.Append(point("1.00", time.Hour)))
	assert.Equal(t, 1, w.Len())
}

func TestWindowEmpty(t *testing.T) {
	_, err := NewWindow("XLM", 3, 0).TWAP(3, t0)
	assert.True(t, errors.Is(err, domain.ErrData))
}

func FuzzTWAPWithinBounds(f *testing.F) {
	f.Add(int64(10_000_000), int64(10_200_000), int64(9_900_000), uint16(5), uint16(60), uint16(0))
	f.Add(int64(1), int64(1), int64(1), uint16(0), uint16(0), uint16(0))
	f.Add(int64(99_999_999_999), int64(1), int64(5_000), uint16(1), uint16(1000), uint16(7))

	f.Fuzz(func(t *testing.T, a, b, c int64, d1, d2, tail uint16) {
		if a <= 0 || b <= 0 || c <= 0 {
			t.Skip()
		}
		w := NewWindow("FZZ", 8, 0)
		at := t0
		for _, v := range []struct {
			price int64
			step  uint16
		}{{a, 0}, {b, d1}, {c, d2}} {
			at = at.Add(time.Duration(v.step) * time.Second)
			if err := w.Append(domain.PricePoint{Asset: "FZZ", Price: domain.FromFixed(v.price), Timestamp: at, Confidence: 90}); err != nil {
				t.Fatalf("append: %v", err)
			}
		}

		twap, err := w.TWAP(8, at.Add(time.Duration(tail)*time.Second))
		if err != nil {
			t.Fatalf("twap: %v", err)
		}
		lo, hi := domain.FromFixed(min(a, b, c)), domain.FromFixed(max(a, b, c))
		if twap.Price.LessThan(lo) || twap.Price.GreaterThan(hi) {
			t.Fatalf("twap %s outside [%s, %s]", twap.Price, lo, hi)
		}
		if twap.Confidence < 0 || twap.Confidence > 100 {
			t.Fatalf("confidence %f out of range", twap.Confidence)
		}
	})
}

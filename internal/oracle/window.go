package oracle

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Window is a bounded, time-ordered ring of price points for one asset.
// Points older than maxAge are dropped on append. A single goroutine appends;
// readers may call TWAP concurrently.
type Window struct {
	mu       sync.RWMutex
	asset    domain.AssetID
	capacity int
	maxAge   time.Duration
	points   []domain.PricePoint
}

// NewWindow creates a window holding at most capacity points. A zero maxAge
// disables age eviction.
func NewWindow(asset domain.AssetID, capacity int, maxAge time.Duration) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		asset:    asset,
		capacity: capacity,
		maxAge:   maxAge,
		points:   make([]domain.PricePoint, 0, capacity),
	}
}

// Append adds p to the window. A point with the same timestamp as the newest
// is treated as a repeat of the last fetch and replaces it; a back-dated point
// is rejected with domain.ErrOutOfOrder.
func (w *Window) Append(p domain.PricePoint) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := len(w.points); n > 0 {
		last := w.points[n-1]
		switch {
		case p.Timestamp.Before(last.Timestamp):
			return fmt.Errorf("oracle: append %s at %s before %s: %w",
				w.asset, p.Timestamp.Format(time.RFC3339), last.Timestamp.Format(time.RFC3339), domain.ErrOutOfOrder)
		case p.Timestamp.Equal(last.Timestamp):
			w.points[n-1] = p
			return nil
		}
	}

	w.points = append(w.points, p)
	if len(w.points) > w.capacity {
		w.points = append(w.points[:0], w.points[len(w.points)-w.capacity:]...)
	}
	if w.maxAge > 0 {
		cutoff := p.Timestamp.Add(-w.maxAge)
		i := 0
		for i < len(w.points)-1 && w.points[i].Timestamp.Before(cutoff) {
			i++
		}
		if i > 0 {
			w.points = append(w.points[:0], w.points[i:]...)
		}
	}
	return nil
}

// Len returns the number of points currently held.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.points)
}

// Latest returns the newest point.
func (w *Window) Latest() (domain.PricePoint, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.points) == 0 {
		return domain.PricePoint{}, false
	}
	return w.points[len(w.points)-1], true
}

// TWAP computes the time-weighted mean over the last records points. Each
// point is weighted by the time until the next point; the newest point runs
// until now. When every weight is zero the simple mean is used.
func (w *Window) TWAP(records int, now time.Time) (domain.TWAP, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.points) == 0 {
		return domain.TWAP{}, domain.DataError(domain.ErrSourceUnavailable, nil, "no price history for %s", w.asset)
	}
	if records < 1 {
		records = 1
	}
	pts := w.points
	if len(pts) > records {
		pts = pts[len(pts)-records:]
	}
	return computeTWAP(w.asset, pts, records, now), nil
}

func computeTWAP(asset domain.AssetID, pts []domain.PricePoint, requested int, now time.Time) domain.TWAP {
	lo, hi := pts[0].Price, pts[0].Price
	weighted := decimal.Zero
	total := decimal.Zero
	sum := decimal.Zero
	confSum := 0.0

	for i, p := range pts {
		if p.Price.LessThan(lo) {
			lo = p.Price
		}
		if p.Price.GreaterThan(hi) {
			hi = p.Price
		}
		sum = sum.Add(p.Price)
		confSum += p.Confidence

		end := now
		if i+1 < len(pts) {
			end = pts[i+1].Timestamp
		}
		dt := end.Sub(p.Timestamp)
		if dt < 0 {
			dt = 0
		}
		weight := decimal.NewFromInt(dt.Milliseconds())
		weighted = weighted.Add(p.Price.Mul(weight))
		total = total.Add(weight)
	}

	var price decimal.Decimal
	if total.IsZero() {
		price = sum.Div(decimal.NewFromInt(int64(len(pts))))
	} else {
		price = weighted.Div(total)
	}
	price = domain.Quantize(price)
	if price.LessThan(lo) {
		price = lo
	}
	if price.GreaterThan(hi) {
		price = hi
	}

	conf := confSum / float64(len(pts))
	if conf <= 0 {
		conf = 100
	}
	if len(pts) < requested {
		conf *= float64(len(pts)) / float64(requested)
	}

	return domain.TWAP{
		Asset:      asset,
		Price:      price,
		Samples:    len(pts),
		Requested:  requested,
		Confidence: conf,
		From:       pts[0].Timestamp,
		To:         pts[len(pts)-1].Timestamp,
	}
}

package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// StopLossWatcher marks open positions on every price update and issues a
// ForcedClose when a stop is breached. At most one close per asset is
// pending until Done is called for it.
type StopLossWatcher struct {
	book   *PositionBook
	out    chan domain.ForcedClose
	logger *slog.Logger

	mu      sync.Mutex
	pending map[domain.AssetID]struct{}
}

// NewStopLossWatcher creates a watcher whose close channel holds buffer
// instructions.
func NewStopLossWatcher(book *PositionBook, buffer int, logger *slog.Logger) *StopLossWatcher {
	return &StopLossWatcher{
		book:    book,
		out:     make(chan domain.ForcedClose, max(buffer, 1)),
		logger:  logger.With(slog.String("component", "stop_loss")),
		pending: make(map[domain.AssetID]struct{}),
	}
}

// Closes is consumed by the execution coordinator.
func (w *StopLossWatcher) Closes() <-chan domain.ForcedClose { return w.out }

// OnPrice handles one price update. It reports whether a close was issued.
func (w *StopLossWatcher) OnPrice(ctx context.Context, p domain.PricePoint) bool {
	pos, ok := w.book.Mark(p.Asset, p.Price)
	if !ok || pos.StopLoss == nil || pos.IsFlat() {
		return false
	}
	stop := *pos.StopLoss
	long := pos.NetExposure.IsPositive()
	if long && p.Price.GreaterThan(stop) || !long && p.Price.LessThan(stop) {
		return false
	}

	w.mu.Lock()
	if _, dup := w.pending[p.Asset]; dup {
		w.mu.Unlock()
		return false
	}
	w.pending[p.Asset] = struct{}{}
	w.mu.Unlock()

	fc := domain.ForcedClose{
		Asset:     p.Asset,
		Amount:    pos.NetExposure,
		MarkPrice: p.Price,
		StopLoss:  stop,
		Reason:    "StopLossTriggered",
		IssuedAt:  time.Now(),
	}
	select {
	case w.out <- fc:
		w.logger.WarnContext(ctx, "stop loss triggered",
			slog.String("asset", string(p.Asset)),
			slog.String("mark", p.Price.String()),
			slog.String("stop", stop.String()),
			slog.String("exposure", pos.NetExposure.String()),
		)
		return true
	default:
		w.Done(p.Asset)
		w.logger.ErrorContext(ctx, "stop loss queue full, close dropped",
			slog.String("asset", string(p.Asset)),
		)
		return false
	}
}

// Done clears the pending close for asset so a later breach can fire again.
func (w *StopLossWatcher) Done(asset domain.AssetID) {
	w.mu.Lock()
	delete(w.pending, asset)
	w.mu.Unlock()
}

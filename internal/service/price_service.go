package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/loan"
	"github.com/alanyoungcy/flasharb/internal/risk"
)

// PriceSource returns the current reference price without recording it.
// *oracle.Client satisfies it.
type PriceSource interface {
	MarkPrice(ctx context.Context, asset domain.AssetID) (domain.PricePoint, error)
}

// Closer flattens a residual position. *executor.Coordinator satisfies it.
type Closer interface {
	ForceClose(ctx context.Context, fc domain.ForcedClose, provider loan.Provider) domain.ExecutionResult
}

// PriceService marks open positions against the oracle and turns stop-loss
// breaches into forced closes.
type PriceService struct {
	prices   PriceSource
	book     *risk.PositionBook
	watcher  *risk.StopLossWatcher
	closer   Closer
	provider loan.Provider
	logger   *slog.Logger
}

// NewPriceService creates a PriceService with all required dependencies.
func NewPriceService(
	prices PriceSource,
	book *risk.PositionBook,
	watcher *risk.StopLossWatcher,
	closer Closer,
	provider loan.Provider,
	logger *slog.Logger,
) *PriceService {
	return &PriceService{
		prices:   prices,
		book:     book,
		watcher:  watcher,
		closer:   closer,
		provider: provider,
		logger:   logger.With(slog.String("component", "price_service")),
	}
}

// Run polls prices every interval and executes forced closes until ctx is
// cancelled.
func (s *PriceService) Run(ctx context.Context, interval time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			s.MarkAll(gctx)
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case fc := <-s.watcher.Closes():
				s.HandleClose(gctx, fc)
			}
		}
	})
	return g.Wait()
}

// MarkAll fetches a price for every open position and feeds it to the
// stop-loss watcher. It returns the number of closes issued.
func (s *PriceService) MarkAll(ctx context.Context) int {
	issued := 0
	for _, pos := range s.book.Positions() {
		p, err := s.prices.MarkPrice(ctx, pos.Asset)
		if err != nil {
			s.logger.WarnContext(ctx, "price_service: mark failed",
				slog.String("asset", string(pos.Asset)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if s.watcher.OnPrice(ctx, p) {
			issued++
		}
	}
	return issued
}

// HandleClose executes one forced close and clears it from the watcher so a
// later breach can fire again.
func (s *PriceService) HandleClose(ctx context.Context, fc domain.ForcedClose) domain.ExecutionResult {
	defer s.watcher.Done(fc.Asset)
	res := s.closer.ForceClose(ctx, fc, s.provider)
	if !res.Success {
		s.logger.ErrorContext(ctx, "price_service: forced close failed",
			slog.String("asset", string(fc.Asset)),
			slog.String("amount", fc.Amount.String()),
			slog.String("reason", res.FailureReason),
		)
		return res
	}
	s.logger.InfoContext(ctx, "price_service: forced close settled",
		slog.String("asset", string(fc.Asset)),
		slog.String("amount", fc.Amount.String()),
		slog.String("realized", res.RealizedProfit.String()),
	)
	return res
}

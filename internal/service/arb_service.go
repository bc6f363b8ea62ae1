// Package service wires the scanner, risk gate and execution coordinator into
// the running arbitrage loop.
package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/alanyoungcy/flasharb/internal/arbitrage"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/loan"
	"github.com/alanyoungcy/flasharb/internal/risk"
	"github.com/alanyoungcy/flasharb/internal/venue"
)

// Executor runs one approved opportunity. *executor.Coordinator satisfies it.
type Executor interface {
	Execute(ctx context.Context, opp domain.Opportunity, provider loan.Provider) domain.ExecutionResult
}

// EventSink receives structured records.
type EventSink interface {
	Emit(ctx context.Context, ev domain.Event)
}

// ArbConfig is the reloadable part of the loop.
type ArbConfig struct {
	Assets    []domain.AssetID
	Venues    []domain.VenueID // empty selects every registered venue
	MinProfit decimal.Decimal
	Limits    domain.RiskLimits
	Execute   bool // false emits OpportunityFound only
}

// ArbService runs scan cycles and dispatches approved candidates.
type ArbService struct {
	scanner  *arbitrage.Scanner
	gate     *risk.Gate
	book     *risk.PositionBook
	inflight *risk.InFlight
	exec     Executor
	provider loan.Provider
	venues   *venue.Registry
	sink     EventSink
	cfg      atomic.Pointer[ArbConfig]
	logger   *slog.Logger
	now      func() time.Time

	workers *semaphore.Weighted
	running atomic.Int64
	wg      sync.WaitGroup

	onResult func(domain.ExecutionResult)
}

// NewArbService creates an ArbService. workers caps the number of execution
// goroutines alive at once; the risk limits may lower the effective
// concurrency further at runtime.
func NewArbService(
	scanner *arbitrage.Scanner,
	gate *risk.Gate,
	book *risk.PositionBook,
	inflight *risk.InFlight,
	exec Executor,
	provider loan.Provider,
	venues *venue.Registry,
	sink EventSink,
	cfg ArbConfig,
	workers int,
	logger *slog.Logger,
) *ArbService {
	s := &ArbService{
		scanner:  scanner,
		gate:     gate,
		book:     book,
		inflight: inflight,
		exec:     exec,
		provider: provider,
		venues:   venues,
		sink:     sink,
		logger:   logger.With(slog.String("component", "arb_service")),
		now:      time.Now,
		workers:  semaphore.NewWeighted(int64(max(workers, 1))),
	}
	s.SetConfig(cfg)
	return s
}

// SetConfig swaps the configuration used from the next cycle on.
func (s *ArbService) SetConfig(cfg ArbConfig) {
	s.cfg.Store(&cfg)
}

// Config returns the active configuration.
func (s *ArbService) Config() ArbConfig { return *s.cfg.Load() }

// OnResult registers a hook called after every dispatched execution.
func (s *ArbService) OnResult(fn func(domain.ExecutionResult)) { s.onResult = fn }

// Running returns the number of dispatched executions not yet finished.
func (s *ArbService) Running() int { return int(s.running.Load()) }

func (s *ArbService) emit(ctx context.Context, ev domain.Event) {
	if s.sink != nil {
		s.sink.Emit(ctx, ev)
	}
}

func (s *ArbService) universe() ([]domain.AssetID, []venue.Adapter, decimal.Decimal) {
	cfg := s.cfg.Load()
	return cfg.Assets, s.venues.Restrict(cfg.Venues), cfg.MinProfit
}

// Run scans every interval until ctx is cancelled, then waits for
// dispatched executions to finish.
func (s *ArbService) Run(ctx context.Context, interval time.Duration) error {
	err := s.scanner.Run(ctx, interval, s.universe, func(ctx context.Context, opps []domain.Opportunity) {
		s.Handle(ctx, opps)
	})
	s.Wait()
	return err
}

// RunOnce scans a single cycle and handles the result. Dispatched executions
// may still be running when it returns.
func (s *ArbService) RunOnce(ctx context.Context) ([]domain.Opportunity, error) {
	assets, venues, minProfit := s.universe()
	opps, err := s.scanner.Scan(ctx, assets, venues, minProfit)
	if err != nil {
		return nil, err
	}
	s.Handle(ctx, opps)
	return opps, nil
}

// Wait blocks until every dispatched execution has finished.
func (s *ArbService) Wait() { s.wg.Wait() }

// Handle reports every opportunity and, when execution is enabled, assesses
// and dispatches them best first. At most one candidate per asset is
// dispatched per batch.
func (s *ArbService) Handle(ctx context.Context, opps []domain.Opportunity) {
	cfg := s.cfg.Load()
	now := s.now()
	for _, opp := range opps {
		s.emit(ctx, domain.NewOpportunityEvent(opp, now))
	}
	if !cfg.Execute {
		return
	}

	dispatched := make(map[domain.AssetID]bool)
	for _, opp := range opps {
		if dispatched[opp.Asset] || s.inflight.Busy(opp.Asset) {
			s.logger.DebugContext(ctx, "asset busy, candidate skipped",
				slog.String("opportunity_id", opp.ID),
				slog.String("asset", string(opp.Asset)),
			)
			continue
		}

		snap := s.book.Snapshot()
		snap.InFlight = max(s.inflight.Active(), s.Running())
		a := s.gate.Assess(opp, cfg.Limits, snap)
		if !a.Approved {
			s.emit(ctx, domain.NewRejectedEvent(opp, a, s.now()))
			continue
		}
		if !s.dispatch(ctx, opp) {
			continue
		}
		dispatched[opp.Asset] = true
	}
}

func (s *ArbService) dispatch(ctx context.Context, opp domain.Opportunity) bool {
	if !s.workers.TryAcquire(1) {
		s.logger.WarnContext(ctx, "no execution worker free, candidate skipped",
			slog.String("opportunity_id", opp.ID),
			slog.String("asset", string(opp.Asset)),
		)
		return false
	}
	s.running.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Add(-1)
		defer s.workers.Release(1)
		s.execute(ctx, opp)
	}()
	return true
}

func (s *ArbService) execute(ctx context.Context, opp domain.Opportunity) {
	res := s.exec.Execute(ctx, opp, s.provider)
	s.scanner.Feedback(res)

	attrs := []any{
		slog.String("opportunity_id", opp.ID),
		slog.String("unit_id", res.UnitID),
		slog.String("asset", string(opp.Asset)),
		slog.String("state", string(res.FinalState)),
		slog.String("estimated", res.EstimatedProfit.String()),
		slog.String("realized", res.RealizedProfit.String()),
	}
	if res.Success {
		s.logger.InfoContext(ctx, "execution settled", attrs...)
	} else {
		attrs = append(attrs, slog.String("reason", res.FailureReason), slog.String("leg", res.FailedLeg))
		s.logger.WarnContext(ctx, "execution failed", attrs...)
	}
	if s.onResult != nil {
		s.onResult(res)
	}
}

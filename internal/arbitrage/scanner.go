// Package arbitrage discovers cross-venue price discrepancies that survive
// fees, slippage and the flash-loan cost.
package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/oracle"
	"github.com/alanyoungcy/flasharb/internal/venue"
)

// PriceOracle is the reference price feed the scanner validates against.
type PriceOracle interface {
	GetPrice(ctx context.Context, asset domain.AssetID) (domain.PricePoint, error)
	TWAP(asset domain.AssetID, records int) (domain.TWAP, error)
}

// Params is the reloadable scanner configuration.
type Params struct {
	Quote                domain.AssetID
	TradeSize            decimal.Decimal
	MaxDeviationBps      int64
	BookDepth            int
	TWAPRecords          int
	Freshness            time.Duration
	TTL                  time.Duration
	MaxSettlementLatency time.Duration
	Concurrency          int
	Weights              ConfidenceWeights
	VenueFees            map[domain.VenueID]domain.FeeSchedule // overrides Adapter.Fees
	LoanFees             domain.FeeSchedule
}

// Rejection explains why a candidate pair was dropped.
type Rejection struct {
	Asset  domain.AssetID
	Venues domain.VenuePair
	Reason string
	Err    error
}

// Scanner evaluates every venue pair for every asset.
type Scanner struct {
	oracle    PriceOracle
	cooldowns *Cooldowns
	params    atomic.Pointer[Params]
	logger    *slog.Logger
	now       func() time.Time

	onReject func(Rejection)
}

// NewScanner creates a scanner.
func NewScanner(o PriceOracle, cooldowns *Cooldowns, params Params, logger *slog.Logger) *Scanner {
	s := &Scanner{
		oracle:    o,
		cooldowns: cooldowns,
		logger:    logger.With(slog.String("component", "scanner")),
		now:       time.Now,
	}
	s.SetParams(params)
	return s
}

// SetParams swaps the configuration used by subsequent scans.
func (s *Scanner) SetParams(p Params) {
	if p.Concurrency < 1 {
		p.Concurrency = 1
	}
	if p.BookDepth < 1 {
		p.BookDepth = 20
	}
	if p.TWAPRecords < 1 {
		p.TWAPRecords = 10
	}
	s.params.Store(&p)
}

// Params returns the active configuration.
func (s *Scanner) Params() Params { return *s.params.Load() }

// OnReject registers a hook called for every dropped candidate.
func (s *Scanner) OnReject(fn func(Rejection)) { s.onReject = fn }

// Cooldowns exposes the venue-pair breakers.
func (s *Scanner) Cooldowns() *Cooldowns { return s.cooldowns }

// Scan returns every opportunity with net profit of at least minProfit,
// sorted by net profit then confidence, both descending.
func (s *Scanner) Scan(ctx context.Context, assets []domain.AssetID, venues []venue.Adapter, minProfit decimal.Decimal) ([]domain.Opportunity, error) {
	p := s.params.Load()

	var (
		mu  sync.Mutex
		out []domain.Opportunity
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Concurrency)

	for _, asset := range assets {
		g.Go(func() error {
			opps := s.scanAsset(gctx, p, asset, venues, minProfit)
			mu.Lock()
			out = append(out, opps...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scanner: %w", err)
	}

	SortOpportunities(out)
	return out, nil
}

// SortOpportunities orders by net profit, then confidence, both descending.
func SortOpportunities(opps []domain.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		if c := opps[i].EstimatedProfit.Cmp(opps[j].EstimatedProfit); c != 0 {
			return c > 0
		}
		return opps[i].ConfidenceScore > opps[j].ConfidenceScore
	})
}

func (s *Scanner) reject(ctx context.Context, asset domain.AssetID, vp domain.VenuePair, err error) {
	reason := domain.ReasonOf(err)
	if reason == "" {
		reason = "Error"
	}
	s.logger.DebugContext(ctx, "candidate rejected",
		slog.String("asset", string(asset)),
		slog.String("venues", vp.String()),
		slog.String("reason", reason),
		slog.Any("error", err),
	)
	if s.onReject != nil {
		s.onReject(Rejection{Asset: asset, Venues: vp, Reason: reason, Err: err})
	}
}

func (s *Scanner) scanAsset(ctx context.Context, p *Params, asset domain.AssetID, venues []venue.Adapter, minProfit decimal.Decimal) []domain.Opportunity {
	ref, err := s.oracle.GetPrice(ctx, asset)
	if err != nil {
		s.reject(ctx, asset, domain.VenuePair{}, err)
		return nil
	}
	twap, err := s.oracle.TWAP(asset, p.TWAPRecords)
	if err != nil {
		s.reject(ctx, asset, domain.VenuePair{}, err)
		return nil
	}

	pair := domain.Pair{Base: asset, Quote: p.Quote}
	var out []domain.Opportunity
	for i := 0; i < len(venues); i++ {
		for j := i + 1; j < len(venues); j++ {
			if ctx.Err() != nil {
				return out
			}
			a, b := venues[i], venues[j]
			vp := domain.VenuePair{Buy: a.ID(), Sell: b.ID()}
			if s.cooldowns != nil && !s.cooldowns.Allow(vp) {
				continue
			}
			opp, err := s.evaluatePair(ctx, p, pair, ref, twap, a, b)
			if err != nil {
				s.reject(ctx, asset, vp, err)
				continue
			}
			if opp.EstimatedProfit.LessThan(minProfit) {
				s.reject(ctx, asset, opp.Venues(), domain.ValidationError(errBelowMinProfit, nil,
					"net %s below %s", opp.EstimatedProfit, minProfit))
				continue
			}
			out = append(out, opp)
		}
	}
	return out
}

var (
	errNoSpread       = errors.New("NoSpread")
	errBelowMinProfit = errors.New("BelowMinProfit")
	errLatency        = errors.New("SettlementLatency")
)

func (s *Scanner) fees(p *Params, a venue.Adapter) domain.FeeSchedule {
	if f, ok := p.VenueFees[a.ID()]; ok {
		return f
	}
	return a.Fees()
}

// evaluatePair prices one unordered venue pair. The cheaper venue is the
// buy side.
func (s *Scanner) evaluatePair(ctx context.Context, p *Params, pair domain.Pair, ref domain.PricePoint, twap domain.TWAP, a, b venue.Adapter) (domain.Opportunity, error) {
	qa, err := a.MarketPrice(ctx, pair)
	if err != nil {
		return domain.Opportunity{}, err
	}
	qb, err := b.MarketPrice(ctx, pair)
	if err != nil {
		return domain.Opportunity{}, err
	}

	buyV, sellV, buyQ, sellQ := a, b, qa, qb
	if qb.Price.LessThan(qa.Price) {
		buyV, sellV, buyQ, sellQ = b, a, qb, qa
	}
	if !sellQ.Price.Sub(buyQ.Price).IsPositive() {
		return domain.Opportunity{}, domain.ValidationError(errNoSpread, nil, "%s %s", buyQ.Price, sellQ.Price)
	}

	for _, q := range []domain.Quote{buyQ, sellQ} {
		if !oracle.ValidateDeviation(q.Price, twap.Price, p.MaxDeviationBps) {
			return domain.Opportunity{}, domain.DataError(domain.ErrPriceDeviation, nil,
				"%s %s deviates from twap %s by more than %d bps", q.Venue, q.Price, twap.Price, p.MaxDeviationBps)
		}
	}

	buyCaps, sellCaps := buyV.Capabilities(), sellV.Capabilities()
	latency := max(buyCaps.SettlementLatency, sellCaps.SettlementLatency)
	crossLedger := buyCaps.CrossLedger || sellCaps.CrossLedger
	var latencyRatio float64
	if crossLedger && p.MaxSettlementLatency > 0 {
		if latency > p.MaxSettlementLatency {
			return domain.Opportunity{}, domain.ValidationError(errLatency, nil,
				"settlement latency %s above %s", latency, p.MaxSettlementLatency)
		}
		latencyRatio = float64(latency) / float64(p.MaxSettlementLatency)
	}

	buyBook, err := buyV.OrderBook(ctx, pair, p.BookDepth)
	if err != nil {
		return domain.Opportunity{}, err
	}
	sellBook, err := sellV.OrderBook(ctx, pair, p.BookDepth)
	if err != nil {
		return domain.Opportunity{}, err
	}

	size := decimal.Min(p.TradeSize, domain.Depth(buyBook.Asks), domain.Depth(sellBook.Bids))
	if !size.IsPositive() {
		return domain.Opportunity{}, domain.LiquidityError(domain.ErrInsufficientLiquidity, nil,
			"no depth on %s asks or %s bids", buyV.ID(), sellV.ID())
	}

	buyLeg := Leg{Venue: buyV.ID(), Fees: s.fees(p, buyV), CrossLedger: buyCaps.CrossLedger, Walk: venue.Walk(buyBook.Asks, size)}
	sellLeg := Leg{Venue: sellV.ID(), Fees: s.fees(p, sellV), CrossLedger: sellCaps.CrossLedger, Walk: venue.Walk(sellBook.Bids, size)}
	if !buyLeg.Walk.VWAP.LessThan(sellLeg.Walk.VWAP) {
		return domain.Opportunity{}, domain.ValidationError(errNoSpread, nil,
			"spread closed after walking books: buy %s sell %s", buyLeg.Walk.VWAP, sellLeg.Walk.VWAP)
	}

	profit := ComputeProfit(size, buyLeg, sellLeg, p.LoanFees)
	liquidity := decimal.Min(notional(buyBook.Asks), notional(sellBook.Bids))

	now := s.now()
	freshness := 1.0
	if p.Freshness > 0 {
		freshness = 1 - float64(ref.Age(now))/float64(p.Freshness)
	}
	maxDev := decimal.Max(domain.DeviationBps(buyQ.Price, twap.Price), domain.DeviationBps(sellQ.Price, twap.Price))
	devRoom := 1 - maxDev.InexactFloat64()/float64(p.MaxDeviationBps)
	coverage := 1.0
	if need := profit.Principal.InexactFloat64() * p.Weights.LiquidityCoverage; need > 0 {
		coverage = liquidity.InexactFloat64() / need
	}
	score := p.Weights.Score(ConfidenceInputs{
		Freshness:      freshness,
		DeviationRoom:  devRoom,
		Coverage:       coverage,
		TWAPConfidence: twap.Confidence,
		LatencyRatio:   latencyRatio,
	})

	return domain.Opportunity{
		ID:                uuid.NewString(),
		Asset:             pair.Base,
		Pair:              pair,
		BuyVenue:          buyV.ID(),
		SellVenue:         sellV.ID(),
		BuyQuote:          buyQ.Price,
		SellQuote:         sellQ.Price,
		BuyPrice:          buyLeg.Walk.VWAP,
		SellPrice:         sellLeg.Walk.VWAP,
		BuyLimit:          buyLeg.Walk.Worst,
		SellLimit:         sellLeg.Walk.Worst,
		MaxSize:           size,
		GrossProfit:       profit.Gross,
		Fees:              profit.Fees,
		EstimatedProfit:   profit.Net,
		BuySlippageBps:    buyLeg.Walk.ImpactBps,
		SellSlippageBps:   sellLeg.Walk.ImpactBps,
		Liquidity:         domain.Quantize(liquidity),
		ConfidenceScore:   score,
		CrossLedger:       crossLedger,
		SettlementLatency: latency,
		DetectedAt:        now,
		Expiry:            now.Add(p.TTL),
	}, nil
}

func notional(levels []domain.BookLevel) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		total = total.Add(l.Notional())
	}
	return total
}

// Run scans on a fixed cadence until ctx is cancelled, passing each
// non-empty batch to handle. assets and venues are re-read every tick.
func (s *Scanner) Run(ctx context.Context, interval time.Duration, universe func() ([]domain.AssetID, []venue.Adapter, decimal.Decimal), handle func(context.Context, []domain.Opportunity)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "scanner started", slog.Duration("interval", interval))
	defer s.logger.Info("scanner stopped")

	for {
		assets, venues, minProfit := universe()
		started := time.Now()
		opps, err := s.Scan(ctx, assets, venues, minProfit)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.WarnContext(ctx, "scan failed", slog.Any("error", err))
		} else {
			s.logger.DebugContext(ctx, "scan complete",
				slog.Int("opportunities", len(opps)),
				slog.Duration("took", time.Since(started)),
			)
			if len(opps) > 0 {
				handle(ctx, opps)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Feedback updates the venue-pair breaker from an execution result. Only
// trade-leg failures count against a pair.
func (s *Scanner) Feedback(res domain.ExecutionResult) {
	if s.cooldowns == nil {
		return
	}
	vp := domain.VenuePair{Buy: res.BuyVenue, Sell: res.SellVenue}
	switch {
	case res.Success:
		s.cooldowns.RecordSuccess(vp)
	case res.FailureReason == domain.ErrTradeLegFailed.Error():
		s.cooldowns.RecordFailure(vp)
	}
}

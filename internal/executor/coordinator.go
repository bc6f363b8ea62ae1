// Package executor runs approved opportunities as atomic execution units:
// borrow, buy, sell, repay and settle, or abort everything.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/crypto"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/loan"
	"github.com/alanyoungcy/flasharb/internal/risk"
	"github.com/alanyoungcy/flasharb/internal/venue"
)

// EventSink receives every structured record the coordinator produces.
type EventSink interface {
	Emit(ctx context.Context, ev domain.Event)
}

// Venues resolves venue adapters by id. *venue.Registry satisfies it.
type Venues interface {
	Get(id domain.VenueID) (venue.Adapter, error)
	All() []venue.Adapter
}

// Config is the reloadable part of the coordinator.
type Config struct {
	MaxSlippageBps int64
	Quote          domain.AssetID
	BookDepth      int
	AbortTimeout   time.Duration
	// DedupTTL is the shortest time a candidate stays claimed, even when its
	// opportunity expires sooner.
	DedupTTL time.Duration
}

// dedupTTL is the time left to expiry, floored at DedupTTL.
func (c *Config) dedupTTL(opp domain.Opportunity, now time.Time) time.Duration {
	return max(opp.Expiry.Sub(now), c.DedupTTL)
}

// Coordinator drives the execution state machine.
type Coordinator struct {
	venues   Venues
	signer   *crypto.Signer
	intents  domain.IntentStore
	book     *risk.PositionBook
	inflight *risk.InFlight
	sink     EventSink
	dedup    *Dedup
	cfg      atomic.Pointer[Config]
	logger   *slog.Logger
	now      func() time.Time
}

// NewCoordinator creates a Coordinator with all required dependencies.
func NewCoordinator(
	venues Venues,
	signer *crypto.Signer,
	intents domain.IntentStore,
	book *risk.PositionBook,
	inflight *risk.InFlight,
	sink EventSink,
	cfg Config,
	logger *slog.Logger,
) *Coordinator {
	c := &Coordinator{
		venues:   venues,
		signer:   signer,
		intents:  intents,
		book:     book,
		inflight: inflight,
		sink:     sink,
		dedup:    NewDedup(),
		logger:   logger.With(slog.String("component", "coordinator")),
		now:      time.Now,
	}
	c.SetConfig(cfg)
	return c
}

// SetConfig swaps the configuration used by subsequent executions.
func (c *Coordinator) SetConfig(cfg Config) {
	if cfg.AbortTimeout <= 0 {
		cfg.AbortTimeout = 10 * time.Second
	}
	if cfg.BookDepth <= 0 {
		cfg.BookDepth = 20
	}
	c.cfg.Store(&cfg)
}

// Dedup exposes the candidate deduplicator for periodic cleanup.
func (c *Coordinator) Dedup() *Dedup { return c.dedup }

func (c *Coordinator) emit(ctx context.Context, ev domain.Event) {
	if c.sink != nil {
		c.sink.Emit(ctx, ev)
	}
}

// Execute runs opp as one unit hosted by provider. It never returns an
// error: every outcome, including refusals before borrowing, is reported in
// the result.
func (c *Coordinator) Execute(ctx context.Context, opp domain.Opportunity, provider loan.Provider) domain.ExecutionResult {
	cfg := c.cfg.Load()
	res := domain.ExecutionResult{
		ID:              uuid.NewString(),
		OpportunityID:   opp.ID,
		Asset:           opp.Asset,
		BuyVenue:        opp.BuyVenue,
		SellVenue:       opp.SellVenue,
		FinalState:      domain.StateValidated,
		EstimatedProfit: opp.EstimatedProfit,
		RealizedProfit:  decimal.Zero,
		Drift:           decimal.Zero,
		LoanPrincipal:   decimal.Zero,
		LoanFee:         decimal.Zero,
		StartedAt:       c.now(),
	}
	log := c.logger.With(
		slog.String("opportunity_id", opp.ID),
		slog.String("asset", string(opp.Asset)),
		slog.String("venues", opp.Venues().String()),
	)

	buyV, sellV, release, err := c.preflight(ctx, cfg, opp)
	if err != nil {
		return c.refuse(ctx, res, err, log)
	}
	defer release()

	u := &unit{
		c:        c,
		cfg:      cfg,
		opp:      opp,
		provider: provider,
		buyV:     buyV,
		sellV:    sellV,
		res:      res,
		log:      log,
	}
	return u.run(ctx)
}

// preflight runs every check that may still refuse an opportunity without
// opening a unit. It is the only place caller cancellation is honored.
func (c *Coordinator) preflight(ctx context.Context, cfg *Config, opp domain.Opportunity) (buyV, sellV venue.Adapter, release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, domain.ValidationError(domain.ErrCancelled, err, "cancelled before borrowing")
	}
	now := c.now()
	if opp.Expired(now) {
		return nil, nil, nil, domain.ValidationError(domain.ErrExpiredOpportunity, nil,
			"expired at %s", opp.Expiry.Format(time.RFC3339Nano))
	}
	key := opp.DedupKey()
	if c.dedup.IsDuplicate(key, cfg.dedupTTL(opp, now)) {
		return nil, nil, nil, domain.ValidationError(domain.ErrDuplicate, nil, "%s executed within its ttl", key)
	}

	fail := func(err error) (venue.Adapter, venue.Adapter, func(), error) {
		c.dedup.Forget(key)
		return nil, nil, nil, err
	}

	if buyV, err = c.venues.Get(opp.BuyVenue); err != nil {
		return fail(domain.ValidationError(domain.ErrInvalidOrder, err, "buy venue %s", opp.BuyVenue))
	}
	if sellV, err = c.venues.Get(opp.SellVenue); err != nil {
		return fail(domain.ValidationError(domain.ErrInvalidOrder, err, "sell venue %s", opp.SellVenue))
	}
	if err := c.reprice(ctx, cfg, opp, buyV, opp.BuyQuote); err != nil {
		return fail(err)
	}
	if err := c.reprice(ctx, cfg, opp, sellV, opp.SellQuote); err != nil {
		return fail(err)
	}

	release, err = c.inflight.Acquire(ctx, opp.Asset)
	if err != nil {
		return fail(err)
	}
	return buyV, sellV, release, nil
}

func (c *Coordinator) reprice(ctx context.Context, cfg *Config, opp domain.Opportunity, v venue.Adapter, scored decimal.Decimal) error {
	q, err := v.MarketPrice(ctx, opp.Pair)
	if err != nil {
		return err
	}
	if !scored.IsPositive() {
		return nil
	}
	moved := domain.DeviationBps(q.Price, scored)
	if moved.GreaterThan(decimal.NewFromInt(cfg.MaxSlippageBps)) {
		return domain.ValidationError(domain.ErrPriceMoved, nil,
			"%s moved %s bps from %s to %s", v.ID(), moved.Round(2), scored, q.Price)
	}
	return nil
}

func (c *Coordinator) refuse(ctx context.Context, res domain.ExecutionResult, err error, log *slog.Logger) domain.ExecutionResult {
	res.FinalState = domain.StateAborted
	res.FailureReason = reasonOf(err)
	res.Detail = err.Error()
	res.FinishedAt = c.now()
	log.InfoContext(ctx, "execution refused",
		slog.String("reason", res.FailureReason),
		slog.String("detail", res.Detail),
	)
	c.emit(ctx, domain.NewResultEvent(res, res.FinishedAt))
	return res
}

func reasonOf(err error) string {
	if r := domain.ReasonOf(err); r != "" {
		return r
	}
	return err.Error()
}

// unit is one in-flight execution.
type unit struct {
	c        *Coordinator
	cfg      *Config
	opp      domain.Opportunity
	provider loan.Provider
	buyV     venue.Adapter
	sellV    venue.Adapter
	res      domain.ExecutionResult
	log      *slog.Logger

	state  domain.ExecutionState
	logged bool // intent row exists
	loan   loan.Loan
	opened bool
}

func (u *unit) run(ctx context.Context) domain.ExecutionResult {
	c, opp := u.c, u.opp
	u.state = domain.StateValidated
	u.res.UnitID = uuid.NewString()
	u.log = u.log.With(slog.String("unit_id", u.res.UnitID))

	principal := opp.Principal()
	loanFee := domain.Quantize(u.provider.Fees().LoanFee(principal))
	repayment := principal.Add(loanFee)
	latency := max(u.buyV.Capabilities().SettlementLatency, u.sellV.Capabilities().SettlementLatency)
	deadline := opp.Expiry.Add(latency)

	payload := crypto.UnitPayload{
		UnitID:        u.res.UnitID,
		OpportunityID: opp.ID,
		Asset:         string(opp.Pair.Quote),
		Provider:      u.provider.Name(),
		BuyVenue:      string(opp.BuyVenue),
		SellVenue:     string(opp.SellVenue),
		Principal:     domain.ToFixed(principal),
		Repayment:     domain.ToFixed(repayment),
		Deadline:      deadline.Unix(),
	}
	sig, err := c.signer.SignUnit(payload)
	if err != nil {
		return u.fail(ctx, domain.ExecutionError(domain.ErrLoanFailed, err, "sign unit"), domain.LegLoan, "")
	}

	now := c.now()
	intent := domain.Intent{
		UnitID:        u.res.UnitID,
		OpportunityID: opp.ID,
		Asset:         opp.Asset,
		Provider:      u.provider.Name(),
		State:         domain.StateValidated,
		Principal:     principal,
		Repayment:     repayment,
		Signature:     sig,
		Opportunity:   opp,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.intents.Create(ctx, intent); err != nil {
		return u.fail(ctx, domain.ExecutionError(domain.ErrLoanFailed, err, "write intent"), domain.LegLoan, "")
	}
	u.logged = true
	c.emit(ctx, domain.NewStartedEvent(opp, u.res.UnitID, now))
	u.log.InfoContext(ctx, "execution started",
		slog.String("principal", principal.String()),
		slog.String("repayment", repayment.String()),
		slog.Time("deadline", deadline),
	)

	// From here on the unit ignores caller cancellation and is bounded
	// only by its own deadline.
	uctx, cancel := context.WithDeadline(context.WithoutCancel(ctx), deadline)
	defer cancel()

	// Borrow.
	if err := u.advance(uctx, domain.StateLoanRequested); err != nil {
		return u.fail(uctx, domain.ExecutionError(domain.ErrLoanFailed, err, "intent log"), domain.LegLoan, "")
	}
	u.loan, err = u.provider.Open(uctx, loan.Request{
		UnitID:    u.res.UnitID,
		Asset:     opp.Pair.Quote,
		Amount:    principal,
		Unit:      payload,
		Signature: sig,
	})
	if err != nil {
		return u.fail(uctx, domain.ExecutionError(domain.ErrLoanFailed, err, "open loan on %s", u.provider.Name()), domain.LegLoan, "")
	}
	u.opened = true
	u.res.LoanPrincipal = u.loan.Principal
	u.res.LoanFee = u.loan.Fee
	if !u.loan.Owed().Equal(repayment) {
		// The provider is authoritative for the amount owed.
		repayment = u.loan.Owed()
	}

	// Buy leg.
	if err := u.advance(uctx, domain.StateBuyLegSubmitted); err != nil {
		return u.fail(uctx, domain.ExecutionError(domain.ErrTradeLegFailed, err, "intent log"), domain.LegBuy, opp.BuyVenue)
	}
	buyFill, err := u.buyV.Submit(uctx, domain.Order{
		ID:         uuid.NewString(),
		UnitID:     u.res.UnitID,
		Venue:      opp.BuyVenue,
		Pair:       opp.Pair,
		Side:       domain.OrderSideBuy,
		Amount:     opp.MaxSize,
		LimitPrice: opp.BuyLimit,
		CreatedAt:  c.now(),
	})
	if err != nil {
		return u.fail(uctx, legError(domain.LegBuy, opp.BuyVenue, err), domain.LegBuy, opp.BuyVenue)
	}
	u.record(domain.LegBuy, opp.BuyPrice, buyFill)

	// Sell leg, for exactly what was bought.
	if err := u.advance(uctx, domain.StateSellLegSubmitted); err != nil {
		return u.fail(uctx, domain.ExecutionError(domain.ErrTradeLegFailed, err, "intent log"), domain.LegSell, opp.SellVenue)
	}
	sellFill, err := u.sellV.Submit(uctx, domain.Order{
		ID:         uuid.NewString(),
		UnitID:     u.res.UnitID,
		Venue:      opp.SellVenue,
		Pair:       opp.Pair,
		Side:       domain.OrderSideSell,
		Amount:     buyFill.Amount,
		LimitPrice: opp.SellLimit,
		CreatedAt:  c.now(),
	})
	if err != nil {
		return u.fail(uctx, legError(domain.LegSell, opp.SellVenue, err), domain.LegSell, opp.SellVenue)
	}
	u.record(domain.LegSell, opp.SellPrice, sellFill)

	// Repay.
	if err := u.provider.Repay(uctx, u.loan, repayment); err != nil {
		return u.fail(uctx, domain.ExecutionError(domain.ErrRepaymentFailed, err, "repay %s", repayment), domain.LegRepay, "")
	}
	if err := u.advance(uctx, domain.StateLoanRepaid); err != nil {
		return u.fail(uctx, domain.ExecutionError(domain.ErrRepaymentFailed, err, "intent log"), domain.LegRepay, "")
	}

	// Settle.
	settlement, err := u.provider.Settle(uctx, u.res.UnitID)
	if err != nil {
		return u.fail(uctx, domain.ExecutionError(domain.ErrSettlementFailed, err, "settle"), domain.LegSettle, "")
	}
	u.res.GasUsed = settlement.GasUsed
	if err := u.advance(uctx, domain.StateSettled); err != nil {
		// The provider committed the unit; only the log is behind.
		u.log.ErrorContext(uctx, "intent log behind settled unit", slog.String("error", err.Error()))
		u.state = domain.StateSettled
	}

	fixed := opp.Fees.Gas.Add(opp.Fees.Withdrawal).Add(opp.Fees.CrossLedger)
	u.res.RealizedProfit = domain.Quantize(sellFill.Notional().Sub(sellFill.Fee).
		Sub(buyFill.Notional()).Sub(buyFill.Fee).
		Sub(u.loan.Fee).Sub(fixed))
	u.res.Drift = u.res.RealizedProfit.Sub(opp.EstimatedProfit)
	u.res.Success = true
	u.res.FinalState = domain.StateSettled
	u.res.FinishedAt = c.now()

	if err := c.book.Apply(uctx, u.res); err != nil {
		u.log.ErrorContext(uctx, "apply settled result", slog.String("error", err.Error()))
	}
	u.log.InfoContext(uctx, "execution settled",
		slog.String("realized", u.res.RealizedProfit.String()),
		slog.String("estimated", opp.EstimatedProfit.String()),
		slog.String("drift", u.res.Drift.String()),
		slog.Int64("gas_used", u.res.GasUsed),
		slog.Duration("took", u.res.FinishedAt.Sub(u.res.StartedAt)),
	)
	c.emit(uctx, domain.NewResultEvent(u.res, u.res.FinishedAt))
	return u.res
}

func legError(leg string, v domain.VenueID, err error) error {
	return domain.ExecutionError(domain.ErrTradeLegFailed, err, "%s leg on %s", leg, v)
}

func (u *unit) record(leg string, expected decimal.Decimal, f domain.Fill) {
	slip := decimal.Zero
	if expected.IsPositive() {
		slip = domain.Quantize(domain.DeviationBps(f.Price, expected))
	}
	u.res.Legs = append(u.res.Legs, domain.LegFill{
		Leg:           leg,
		Venue:         f.Venue,
		Side:          f.Side,
		ExpectedPrice: expected,
		FilledPrice:   f.Price,
		Amount:        f.Amount,
		Fee:           f.Fee,
		SlippageBps:   slip,
	})
}

// advance moves the unit one edge forward, logging it durably before the
// event is emitted.
func (u *unit) advance(ctx context.Context, to domain.ExecutionState) error {
	from := u.state
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("executor: illegal transition %s -> %s", from, to)
	}
	if err := u.c.intents.Transition(ctx, u.res.UnitID, from, to); err != nil {
		return fmt.Errorf("executor: log transition %s -> %s: %w", from, to, err)
	}
	u.state = to
	u.res.FinalState = to
	u.c.emit(ctx, domain.NewTransitionEvent(u.opp.ID, u.res.UnitID, u.opp.Asset,
		domain.Transition{From: from, To: to}, u.c.now()))
	return nil
}

// fail aborts the unit at the provider and reports the failure. Positions
// are never touched on this path.
func (u *unit) fail(ctx context.Context, err error, leg string, v domain.VenueID) domain.ExecutionResult {
	c := u.c
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = domain.ExecutionError(domain.ErrExecutionTimeout, err, "deadline passed during %s", leg)
	}
	reason := reasonOf(err)

	// Aborting runs on a fresh context since the unit deadline may be gone.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.cfg.AbortTimeout)
	defer cancel()

	aborted := true
	if u.opened || u.state != domain.StateValidated {
		if abortErr := u.provider.Abort(actx, u.res.UnitID); abortErr != nil {
			aborted = false
			u.log.ErrorContext(actx, "abort failed, unit left for recovery",
				slog.String("error", abortErr.Error()),
			)
		}
	}
	if aborted && u.logged {
		from := u.state
		if logErr := c.intents.Transition(actx, u.res.UnitID, from, domain.StateAborted); logErr != nil {
			u.log.ErrorContext(actx, "log abort", slog.String("error", logErr.Error()))
		}
		c.emit(actx, domain.NewTransitionEvent(u.opp.ID, u.res.UnitID, u.opp.Asset,
			domain.Transition{From: from, To: domain.StateAborted, Reason: reason}, c.now()))
	}

	u.state = domain.StateAborted
	u.res.Success = false
	u.res.FinalState = domain.StateAborted
	u.res.FailureReason = reason
	u.res.FailedLeg = leg
	u.res.FailedVenue = v
	u.res.Detail = err.Error()
	if !aborted {
		u.res.Detail += "; abort pending recovery"
	}
	u.res.FinishedAt = c.now()

	u.log.WarnContext(actx, "execution aborted",
		slog.String("reason", reason),
		slog.String("leg", leg),
		slog.String("venue", string(v)),
		slog.String("error", err.Error()),
	)
	c.emit(actx, domain.NewResultEvent(u.res, u.res.FinishedAt))
	return u.res
}

package executor

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/loan"
	"github.com/alanyoungcy/flasharb/internal/venue"
)

// target is the venue chosen to unwind a position.
type target struct {
	adapter venue.Adapter
	walk    venue.WalkResult
}

// ForceClose flattens the residual exposure named by fc on the venue with
// the best executable price. It runs as a loan-free unit, outside the intent
// state machine, and updates the book only after settlement. It holds the
// asset's execution slot throughout; a busy asset fails with AssetBusy and is
// left for the next stop-loss pass.
func (c *Coordinator) ForceClose(ctx context.Context, fc domain.ForcedClose, provider loan.Provider) domain.ExecutionResult {
	cfg := c.cfg.Load()
	amount := fc.Amount.Abs()
	side := domain.OrderSideSell
	if fc.Amount.IsNegative() {
		side = domain.OrderSideBuy
	}
	pair := domain.Pair{Base: fc.Asset, Quote: cfg.Quote}

	res := domain.ExecutionResult{
		ID:              uuid.NewString(),
		UnitID:          uuid.NewString(),
		Asset:           fc.Asset,
		FinalState:      domain.StateValidated,
		RealizedProfit:  decimal.Zero,
		EstimatedProfit: decimal.Zero,
		Drift:           decimal.Zero,
		LoanPrincipal:   decimal.Zero,
		LoanFee:         decimal.Zero,
		ForcedClose:     true,
		StartedAt:       c.now(),
	}
	log := c.logger.With(
		slog.String("unit_id", res.UnitID),
		slog.String("asset", string(fc.Asset)),
		slog.String("side", string(side)),
		slog.String("amount", amount.String()),
	)
	c.emit(ctx, domain.NewForcedCloseEvent(fc, res.StartedAt))

	if !amount.IsPositive() {
		return c.closeFailed(ctx, res, domain.ValidationError(domain.ErrInvalidOrder, nil, "nothing to close"), "", provider, false, log)
	}

	release, err := c.inflight.Acquire(ctx, fc.Asset)
	if err != nil {
		return c.closeFailed(ctx, res, err, "", provider, false, log)
	}
	defer release()

	best, err := c.bestVenue(ctx, pair, side, amount, cfg.BookDepth)
	if err != nil {
		return c.closeFailed(ctx, res, err, "", provider, false, log)
	}
	v := best.adapter.ID()
	if side == domain.OrderSideSell {
		res.SellVenue = v
	} else {
		res.BuyVenue = v
	}

	if _, err := provider.Open(ctx, loan.Request{UnitID: res.UnitID, Asset: cfg.Quote, Amount: decimal.Zero}); err != nil {
		return c.closeFailed(ctx, res, domain.ExecutionError(domain.ErrLoanFailed, err, "open unit"), v, provider, true, log)
	}
	fill, err := best.adapter.Submit(ctx, domain.Order{
		ID:         uuid.NewString(),
		UnitID:     res.UnitID,
		Venue:      v,
		Pair:       pair,
		Side:       side,
		Amount:     amount,
		LimitPrice: best.walk.Worst,
		CreatedAt:  c.now(),
	})
	if err != nil {
		return c.closeFailed(ctx, res, legError(legOf(side), v, err), v, provider, true, log)
	}
	leg := domain.LegFill{
		Leg:           legOf(side),
		Venue:         v,
		Side:          side,
		ExpectedPrice: best.walk.VWAP,
		FilledPrice:   fill.Price,
		Amount:        fill.Amount,
		Fee:           fill.Fee,
		SlippageBps:   domain.Quantize(domain.DeviationBps(fill.Price, best.walk.VWAP)),
	}
	res.Legs = append(res.Legs, leg)

	settlement, err := provider.Settle(ctx, res.UnitID)
	if err != nil {
		return c.closeFailed(ctx, res, domain.ExecutionError(domain.ErrSettlementFailed, err, "settle"), v, provider, true, log)
	}
	res.GasUsed = settlement.GasUsed

	entry := c.book.Snapshot().Position(fc.Asset).EntryPrice
	pnl := fill.Price.Sub(entry).Mul(fill.Amount)
	if side == domain.OrderSideBuy {
		pnl = pnl.Neg()
	}
	res.RealizedProfit = domain.Quantize(pnl.Sub(fill.Fee))
	res.Success = true
	res.FinalState = domain.StateSettled
	res.FinishedAt = c.now()

	if err := c.book.Apply(ctx, res); err != nil {
		log.ErrorContext(ctx, "apply forced close", slog.String("error", err.Error()))
	}
	log.WarnContext(ctx, "position force closed",
		slog.String("venue", string(v)),
		slog.String("price", fill.Price.String()),
		slog.String("realized", res.RealizedProfit.String()),
	)
	c.emit(ctx, domain.NewResultEvent(res, res.FinishedAt))
	return res
}

func legOf(side domain.OrderSide) string {
	if side == domain.OrderSideBuy {
		return domain.LegBuy
	}
	return domain.LegSell
}

// bestVenue walks every venue's book and picks the complete fill with the
// best VWAP: highest for a sell, lowest for a buy.
func (c *Coordinator) bestVenue(ctx context.Context, pair domain.Pair, side domain.OrderSide, amount decimal.Decimal, depth int) (target, error) {
	var best *target
	for _, a := range c.venues.All() {
		book, err := a.OrderBook(ctx, pair, depth)
		if err != nil {
			c.logger.DebugContext(ctx, "skip venue for close",
				slog.String("venue", string(a.ID())),
				slog.String("error", err.Error()),
			)
			continue
		}
		levels := book.Bids
		if side == domain.OrderSideBuy {
			levels = book.Asks
		}
		w := venue.Walk(levels, amount)
		if !w.Complete(amount) {
			continue
		}
		if best == nil ||
			side == domain.OrderSideSell && w.VWAP.GreaterThan(best.walk.VWAP) ||
			side == domain.OrderSideBuy && w.VWAP.LessThan(best.walk.VWAP) {
			best = &target{adapter: a, walk: w}
		}
	}
	if best == nil {
		return target{}, domain.LiquidityError(domain.ErrInsufficientLiquidity, nil,
			"no venue can %s %s %s", side, amount, pair)
	}
	return *best, nil
}

func (c *Coordinator) closeFailed(ctx context.Context, res domain.ExecutionResult, err error, v domain.VenueID, provider loan.Provider, opened bool, log *slog.Logger) domain.ExecutionResult {
	if opened {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Load().AbortTimeout)
		defer cancel()
		if abortErr := provider.Abort(actx, res.UnitID); abortErr != nil {
			log.ErrorContext(actx, "abort forced close", slog.String("error", abortErr.Error()))
		}
	}
	res.Success = false
	res.FinalState = domain.StateAborted
	res.FailureReason = reasonOf(err)
	res.FailedVenue = v
	res.Detail = err.Error()
	res.FinishedAt = c.now()
	log.ErrorContext(ctx, "forced close failed",
		slog.String("reason", res.FailureReason),
		slog.String("error", err.Error()),
	)
	c.emit(ctx, domain.NewResultEvent(res, res.FinishedAt))
	return res
}

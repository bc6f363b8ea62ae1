package venue

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// WalkResult summarises consuming a book side up to a target size.
type WalkResult struct {
	Filled    decimal.Decimal // amount available up to size
	VWAP      decimal.Decimal // volume-weighted price of Filled
	Worst     decimal.Decimal // price of the deepest level touched
	ImpactBps decimal.Decimal // |VWAP - best| / best * 10000
}

// Complete reports whether the walk filled the full requested size.
func (w WalkResult) Complete(size decimal.Decimal) bool {
	return w.Filled.GreaterThanOrEqual(size)
}

// Walk consumes levels best-first until size is filled or the side runs out.
func Walk(levels []domain.BookLevel, size decimal.Decimal) WalkResult {
	if len(levels) == 0 || !size.IsPositive() {
		return WalkResult{Filled: decimal.Zero, VWAP: decimal.Zero, Worst: decimal.Zero, ImpactBps: decimal.Zero}
	}

	best := levels[0].Price
	remaining := size
	filled := decimal.Zero
	notional := decimal.Zero
	worst := best

	for _, l := range levels {
		if !remaining.IsPositive() {
			break
		}
		if !l.Amount.IsPositive() {
			continue
		}
		take := decimal.Min(remaining, l.Amount)
		filled = filled.Add(take)
		notional = notional.Add(take.Mul(l.Price))
		remaining = remaining.Sub(take)
		worst = l.Price
	}

	if filled.IsZero() {
		return WalkResult{Filled: decimal.Zero, VWAP: decimal.Zero, Worst: best, ImpactBps: decimal.Zero}
	}
	vwap := domain.Quantize(notional.Div(filled))
	impact := decimal.Zero
	if best.IsPositive() {
		impact = domain.DeviationBps(vwap, best)
	}
	return WalkResult{Filled: filled, VWAP: vwap, Worst: worst, ImpactBps: impact}
}

package arbitrage

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/venue"
)

// Leg is one side of a candidate after walking its book.
type Leg struct {
	Venue       domain.VenueID
	Fees        domain.FeeSchedule
	CrossLedger bool
	Walk        venue.WalkResult
}

// Profit is the itemised economics of a candidate at a given size.
type Profit struct {
	Size      decimal.Decimal
	Principal decimal.Decimal
	Gross     decimal.Decimal
	Fees      domain.FeeBreakdown
	Net       decimal.Decimal
}

// ComputeProfit prices buying size on buy and selling it on sell, funded by
// a flash loan of size*buy.Worst. Every component is quantized so the net
// reconstructs exactly from the breakdown.
func ComputeProfit(size decimal.Decimal, buy, sell Leg, loanFees domain.FeeSchedule) Profit {
	q := domain.Quantize

	gross := q(sell.Walk.VWAP.Sub(buy.Walk.VWAP).Mul(size))
	principal := q(size.Mul(buy.Walk.Worst))

	var fees domain.FeeBreakdown
	fees.Maker, fees.Taker = decimal.Zero, decimal.Zero
	for _, leg := range []Leg{buy, sell} {
		fee, maker := leg.Fees.LegFee(leg.Walk.VWAP.Mul(size))
		if maker {
			fees.Maker = fees.Maker.Add(q(fee))
		} else {
			fees.Taker = fees.Taker.Add(q(fee))
		}
	}
	fees.FlashLoan = q(loanFees.LoanFee(principal))
	fees.Gas = q(buy.Fees.GasEstimate.Add(sell.Fees.GasEstimate).Add(loanFees.GasEstimate))
	fees.Withdrawal = q(buy.Fees.WithdrawalFee.Add(sell.Fees.WithdrawalFee))
	fees.CrossLedger = decimal.Zero
	for _, leg := range []Leg{buy, sell} {
		if leg.CrossLedger {
			fees.CrossLedger = fees.CrossLedger.Add(q(leg.Fees.CrossLedgerFee))
		}
	}

	return Profit{
		Size:      size,
		Principal: principal,
		Gross:     gross,
		Fees:      fees,
		Net:       gross.Sub(fees.Total()),
	}
}

// ConfidenceWeights weights the components of the confidence score.
type ConfidenceWeights struct {
	Freshness         float64
	Deviation         float64
	Liquidity         float64
	LiquidityCoverage float64 // depth/notional ratio that scores full marks
}

// ConfidenceInputs are the observations a score is computed from, each
// already normalised to [0,1] except the TWAP confidence (0-100).
type ConfidenceInputs struct {
	Freshness      float64
	DeviationRoom  float64
	Coverage       float64
	TWAPConfidence float64
	LatencyRatio   float64 // settlement latency / max; zero for same-ledger pairs
}

// Score returns the 0-100 confidence for the inputs.
func (w ConfidenceWeights) Score(in ConfidenceInputs) float64 {
	total := w.Freshness + w.Deviation + w.Liquidity
	if total <= 0 {
		return 0
	}
	blend := (w.Freshness*clamp01(in.Freshness) +
		w.Deviation*clamp01(in.DeviationRoom) +
		w.Liquidity*clamp01(in.Coverage)) / total
	score := 100 * blend * clamp01(in.TWAPConfidence/100)
	score *= 1 - clamp01(in.LatencyRatio)
	return score
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

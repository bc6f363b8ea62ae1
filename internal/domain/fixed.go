package domain

import "github.com/shopspring/decimal"

// PriceScale is the number of decimal places carried by every price and
// amount on the wire and in storage (fixed-point scale 10^7).
const PriceScale = 7

var (
	bpsDenominator = decimal.NewFromInt(10_000)
	hundred        = decimal.NewFromInt(100)
)

// Quantize rounds d to PriceScale decimal places.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(PriceScale)
}

// FromFixed converts a scaled int64 (value * 10^7) to a decimal.
func FromFixed(v int64) decimal.Decimal {
	return decimal.New(v, -PriceScale)
}

// ToFixed converts d to its scaled int64 representation, rounding half away
// from zero to PriceScale places.
func ToFixed(d decimal.Decimal) int64 {
	return d.Shift(PriceScale).Round(0).IntPart()
}

// ApplyBps returns amount * bps / 10000.
func ApplyBps(amount decimal.Decimal, bps int64) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(bps)).Div(bpsDenominator)
}

// DeviationBps returns |current-reference| / reference * 10000. The caller
// must ensure reference is positive.
func DeviationBps(current, reference decimal.Decimal) decimal.Decimal {
	return current.Sub(reference).Abs().Mul(bpsDenominator).Div(reference)
}

// RatioBps returns part / whole * 10000, or zero when whole is zero.
func RatioBps(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Mul(bpsDenominator).Div(whole)
}

// Percent returns d * 100, used for 0-100 score scales.
func Percent(d decimal.Decimal) decimal.Decimal {
	return d.Mul(hundred)
}

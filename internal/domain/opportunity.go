package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Opportunity is a scored cross-venue arbitrage candidate. It is immutable and
// must never be executed after Expiry.
type Opportunity struct {
	ID                string          `json:"id"`
	Asset             AssetID         `json:"asset"`
	Pair              Pair            `json:"pair"`
	BuyVenue          VenueID         `json:"venue_buy"`
	SellVenue         VenueID         `json:"venue_sell"`
	BuyQuote          decimal.Decimal `json:"buy_quote"`
	SellQuote         decimal.Decimal `json:"sell_quote"`
	BuyPrice          decimal.Decimal `json:"buy_price"`  // VWAP over the walked asks
	SellPrice         decimal.Decimal `json:"sell_price"` // VWAP over the walked bids
	BuyLimit          decimal.Decimal `json:"buy_limit"`
	SellLimit         decimal.Decimal `json:"sell_limit"`
	MaxSize           decimal.Decimal `json:"max_size"`
	GrossProfit       decimal.Decimal `json:"gross_profit"`
	Fees              FeeBreakdown    `json:"fees"`
	EstimatedProfit   decimal.Decimal `json:"estimated_profit"`
	BuySlippageBps    decimal.Decimal `json:"buy_slippage_bps"`
	SellSlippageBps   decimal.Decimal `json:"sell_slippage_bps"`
	Liquidity         decimal.Decimal `json:"liquidity"`
	ConfidenceScore   float64         `json:"confidence_score"`
	CrossLedger       bool            `json:"cross_ledger"`
	SettlementLatency time.Duration   `json:"settlement_latency"`
	DetectedAt        time.Time       `json:"detected_at"`
	Expiry            time.Time       `json:"expiry"`
}

// Expired reports whether the opportunity can no longer be executed.
func (o Opportunity) Expired(now time.Time) bool {
	return !now.Before(o.Expiry)
}

// Venues returns the buy/sell venue pair.
func (o Opportunity) Venues() VenuePair {
	return VenuePair{Buy: o.BuyVenue, Sell: o.SellVenue}
}

// Principal is the loan amount needed to fund the buy leg at its limit.
func (o Opportunity) Principal() decimal.Decimal {
	return Quantize(o.MaxSize.Mul(o.BuyLimit))
}

// MaxSlippageBps is the larger of the two legs' price impact.
func (o Opportunity) MaxSlippageBps() decimal.Decimal {
	return decimal.Max(o.BuySlippageBps, o.SellSlippageBps)
}

// DedupKey identifies the same candidate across scan cycles.
func (o Opportunity) DedupKey() string {
	return string(o.Asset) + "|" + string(o.BuyVenue) + "|" + string(o.SellVenue)
}

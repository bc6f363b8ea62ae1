package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one observed price for an asset. It is never mutated; newer
// points supersede older ones.
type PricePoint struct {
	Asset      AssetID         `json:"asset"`
	Price      decimal.Decimal `json:"price"`
	Timestamp  time.Time       `json:"timestamp"`
	Source     string          `json:"source"`
	Confidence float64         `json:"confidence"` // 0-100
}

// Age returns how old the point is relative to now.
func (p PricePoint) Age(now time.Time) time.Duration {
	return now.Sub(p.Timestamp)
}

// Quote is a venue's current market price for a pair.
type Quote struct {
	Venue     VenueID         `json:"venue"`
	Pair      Pair            `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// TWAP is a time-weighted reference price over a window of points.
type TWAP struct {
	Asset      AssetID         `json:"asset"`
	Price      decimal.Decimal `json:"price"`
	Samples    int             `json:"samples"`
	Requested  int             `json:"requested"`
	Confidence float64         `json:"confidence"` // 0-100
	From       time.Time       `json:"from"`
	To         time.Time       `json:"to"`
}

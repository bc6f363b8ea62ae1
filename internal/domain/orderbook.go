package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookLevel is a single (price, amount) entry in an order book.
type BookLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// Notional returns price * amount.
func (l BookLevel) Notional() decimal.Decimal {
	return l.Price.Mul(l.Amount)
}

// OrderBook holds bids (highest first) and asks (lowest first) for a pair on
// one venue.
type OrderBook struct {
	Venue     VenueID     `json:"venue"`
	Pair      Pair        `json:"pair"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp time.Time   `json:"timestamp"`
}

// BestBid returns the top bid, or false when there are no bids.
func (b OrderBook) BestBid() (BookLevel, bool) {
	if len(b.Bids) == 0 {
		return BookLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask, or false when there are no asks.
func (b OrderBook) BestAsk() (BookLevel, bool) {
	if len(b.Asks) == 0 {
		return BookLevel{}, false
	}
	return b.Asks[0], true
}

// Mid returns the midpoint of the best bid and ask.
func (b OrderBook) Mid() (decimal.Decimal, bool) {
	bid, okb := b.BestBid()
	ask, oka := b.BestAsk()
	if !okb || !oka {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// Depth returns the total amount available on one side.
func Depth(levels []BookLevel) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		total = total.Add(l.Amount)
	}
	return total
}

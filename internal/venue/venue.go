// Package venue defines the trading venue adapter contract and its REST and
// websocket implementations.
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Capabilities describes how a venue settles.
type Capabilities struct {
	CrossLedger       bool          `json:"cross_ledger"`
	Ledger            string        `json:"ledger"`
	SettlementLatency time.Duration `json:"settlement_latency"`
}

// Adapter is the uniform interface over a trading venue.
type Adapter interface {
	ID() domain.VenueID
	Capabilities() Capabilities
	Fees() domain.FeeSchedule

	// MarketPrice returns the mid price, or a LiquidityError when the best
	// level on either side is below the venue's minimum notional.
	MarketPrice(ctx context.Context, pair domain.Pair) (domain.Quote, error)

	// OrderBook returns up to depth levels per side, best first.
	OrderBook(ctx context.Context, pair domain.Pair, depth int) (domain.OrderBook, error)

	// Submit places a limit order bound to its execution unit.
	Submit(ctx context.Context, order domain.Order) (domain.Fill, error)
}

// QuoteFromBook derives a mid-price quote from the top of book.
func QuoteFromBook(book domain.OrderBook, minNotional decimal.Decimal) (domain.Quote, error) {
	bid, okb := book.BestBid()
	ask, oka := book.BestAsk()
	if !okb || !oka {
		return domain.Quote{}, domain.LiquidityError(domain.ErrInsufficientLiquidity, nil,
			"%s %s: empty book side", book.Venue, book.Pair)
	}
	if bid.Notional().LessThan(minNotional) || ask.Notional().LessThan(minNotional) {
		return domain.Quote{}, domain.LiquidityError(domain.ErrInsufficientLiquidity, nil,
			"%s %s: top of book below %s", book.Venue, book.Pair, minNotional)
	}
	mid, _ := book.Mid()
	return domain.Quote{
		Venue:     book.Venue,
		Pair:      book.Pair,
		Price:     domain.Quantize(mid),
		Timestamp: book.Timestamp,
	}, nil
}

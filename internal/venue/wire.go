package venue

import (
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Wire types shared by the REST adapter, the websocket feed and the venue
// simulator. Prices and amounts are fixed-point at scale 10^7.

type wireLevel struct {
	Price  int64 `json:"price"`
	Amount int64 `json:"amount"`
}

// BookMessage is a full order book as sent over REST and websocket.
type BookMessage struct {
	Type      string      `json:"type,omitempty"` // "snapshot" or "update" on the stream
	Pair      string      `json:"pair"`
	Bids      []wireLevel `json:"bids"`
	Asks      []wireLevel `json:"asks"`
	Side      string      `json:"side,omitempty"` // update only
	Price     int64       `json:"price,omitempty"`
	Amount    int64       `json:"amount,omitempty"`
	Timestamp int64       `json:"timestamp"` // unix ms
}

// OrderRequest is the body of POST /orders.
type OrderRequest struct {
	ID         string `json:"id"`
	UnitID     string `json:"unit_id"`
	Pair       string `json:"pair"`
	Side       string `json:"side"`
	Amount     int64  `json:"amount"`
	LimitPrice int64  `json:"limit_price"`
}

// FillResponse is the success body of POST /orders.
type FillResponse struct {
	OrderID  string `json:"order_id"`
	Price    int64  `json:"price"`
	Amount   int64  `json:"amount"`
	Fee      int64  `json:"fee"`
	FilledAt int64  `json:"filled_at"` // unix ms
}

// ErrorResponse is the failure body returned by venue endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Venue error codes.
const (
	CodeInsufficientLiquidity = "insufficient_liquidity"
	CodeLimitViolated         = "limit_violated"
	CodeUnitRejected          = "unit_rejected"
)

func levelsToDomain(in []wireLevel) []domain.BookLevel {
	out := make([]domain.BookLevel, 0, len(in))
	for _, l := range in {
		out = append(out, domain.BookLevel{Price: domain.FromFixed(l.Price), Amount: domain.FromFixed(l.Amount)})
	}
	return out
}

func levelsToWire(in []domain.BookLevel) []wireLevel {
	out := make([]wireLevel, 0, len(in))
	for _, l := range in {
		out = append(out, wireLevel{Price: domain.ToFixed(l.Price), Amount: domain.ToFixed(l.Amount)})
	}
	return out
}

// ToDomain converts a book message for venue.
func (m BookMessage) ToDomain(venue domain.VenueID) (domain.OrderBook, error) {
	pair, err := domain.ParsePair(m.Pair)
	if err != nil {
		return domain.OrderBook{}, err
	}
	ts := time.Now()
	if m.Timestamp > 0 {
		ts = time.UnixMilli(m.Timestamp)
	}
	return domain.OrderBook{
		Venue:     venue,
		Pair:      pair,
		Bids:      levelsToDomain(m.Bids),
		Asks:      levelsToDomain(m.Asks),
		Timestamp: ts,
	}, nil
}

// BookToWire converts a domain book for transmission.
func BookToWire(b domain.OrderBook) BookMessage {
	return BookMessage{
		Type:      "snapshot",
		Pair:      b.Pair.String(),
		Bids:      levelsToWire(b.Bids),
		Asks:      levelsToWire(b.Asks),
		Timestamp: b.Timestamp.UnixMilli(),
	}
}

// OrderToWire converts an order for POST /orders.
func OrderToWire(o domain.Order) OrderRequest {
	return OrderRequest{
		ID:         o.ID,
		UnitID:     o.UnitID,
		Pair:       o.Pair.String(),
		Side:       string(o.Side),
		Amount:     domain.ToFixed(o.Amount),
		LimitPrice: domain.ToFixed(o.LimitPrice),
	}
}

// ToDomain converts a fill response for order.
func (f FillResponse) ToDomain(order domain.Order) domain.Fill {
	at := time.Now()
	if f.FilledAt > 0 {
		at = time.UnixMilli(f.FilledAt)
	}
	id := f.OrderID
	if id == "" {
		id = order.ID
	}
	return domain.Fill{
		OrderID:  id,
		Venue:    order.Venue,
		Side:     order.Side,
		Price:    domain.FromFixed(f.Price),
		Amount:   domain.FromFixed(f.Amount),
		Fee:      domain.FromFixed(f.Fee),
		FilledAt: at,
	}
}

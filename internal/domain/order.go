package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Order is a price-constrained leg submitted to a venue inside an execution
// unit. LimitPrice is the maximum price for a buy and the minimum for a sell.
type Order struct {
	ID         string          `json:"id"`
	UnitID     string          `json:"unit_id"`
	Venue      VenueID         `json:"venue"`
	Pair       Pair            `json:"pair"`
	Side       OrderSide       `json:"side"`
	Amount     decimal.Decimal `json:"amount"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Fill is a venue's report of an executed order.
type Fill struct {
	OrderID  string          `json:"order_id"`
	Venue    VenueID         `json:"venue"`
	Side     OrderSide       `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Amount   decimal.Decimal `json:"amount"`
	Fee      decimal.Decimal `json:"fee"`
	FilledAt time.Time       `json:"filled_at"`
}

// Notional returns price * amount.
func (f Fill) Notional() decimal.Decimal {
	return f.Price.Mul(f.Amount)
}

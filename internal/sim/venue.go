package sim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/venue"
)

// VenueConfig describes a simulated venue.
type VenueConfig struct {
	ID           domain.VenueID
	Fees         domain.FeeSchedule
	Capabilities venue.Capabilities
	MinNotional  decimal.Decimal
}

// Venue fills orders against static books and stages the resulting balance
// changes on the ledger under the order's unit. Books are not depleted by
// fills.
type Venue struct {
	mu       sync.RWMutex
	cfg      VenueConfig
	ledger   *Ledger
	books    map[domain.Pair]domain.OrderBook
	failures map[domain.OrderSide]error
	orders   int
}

// NewVenue creates a venue settling on ledger.
func NewVenue(cfg VenueConfig, ledger *Ledger) *Venue {
	return &Venue{
		cfg:      cfg,
		ledger:   ledger,
		books:    make(map[domain.Pair]domain.OrderBook),
		failures: make(map[domain.OrderSide]error),
	}
}

func (v *Venue) ID() domain.VenueID               { return v.cfg.ID }
func (v *Venue) Capabilities() venue.Capabilities { return v.cfg.Capabilities }
func (v *Venue) Fees() domain.FeeSchedule         { return v.cfg.Fees }

// SetBook replaces the book for its pair.
func (v *Venue) SetBook(book domain.OrderBook) {
	v.mu.Lock()
	defer v.mu.Unlock()
	book.Venue = v.cfg.ID
	if book.Timestamp.IsZero() {
		book.Timestamp = time.Now()
	}
	v.books[book.Pair] = book
}

// SeedBook builds a symmetric book of levels around mid, each level holding
// amount and stepping spreadBps further out.
func (v *Venue) SeedBook(pair domain.Pair, mid decimal.Decimal, spreadBps int64, amount decimal.Decimal, levels int) {
	v.SetBook(SymmetricBook(pair, mid, spreadBps, amount, levels))
}

// SymmetricBook builds a book with levels on each side around mid.
func SymmetricBook(pair domain.Pair, mid decimal.Decimal, spreadBps int64, amount decimal.Decimal, levels int) domain.OrderBook {
	if levels < 1 {
		levels = 1
	}
	book := domain.OrderBook{Pair: pair, Timestamp: time.Now()}
	for i := 1; i <= levels; i++ {
		off := domain.ApplyBps(mid, spreadBps*int64(i))
		book.Bids = append(book.Bids, domain.BookLevel{Price: domain.Quantize(mid.Sub(off)), Amount: amount})
		book.Asks = append(book.Asks, domain.BookLevel{Price: domain.Quantize(mid.Add(off)), Amount: amount})
	}
	return book
}

// FailNext makes the next order on side fail with err.
func (v *Venue) FailNext(side domain.OrderSide, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures[side] = err
}

// Orders returns the number of orders filled.
func (v *Venue) Orders() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.orders
}

// Perturb moves every book by a uniform random shift within maxBps.
func (v *Venue) Perturb(rnd *rand.Rand, maxBps int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if maxBps <= 0 {
		return
	}
	for pair, book := range v.books {
		shift := rnd.Int64N(2*maxBps+1) - maxBps
		factor := decimal.NewFromInt(10_000 + shift).Div(decimal.NewFromInt(10_000))
		book.Bids = scaleLevels(book.Bids, factor)
		book.Asks = scaleLevels(book.Asks, factor)
		book.Timestamp = time.Now()
		v.books[pair] = book
	}
}

func scaleLevels(in []domain.BookLevel, factor decimal.Decimal) []domain.BookLevel {
	out := make([]domain.BookLevel, len(in))
	for i, l := range in {
		out[i] = domain.BookLevel{Price: domain.Quantize(l.Price.Mul(factor)), Amount: l.Amount}
	}
	return out
}

// MarketPrice returns the top-of-book mid.
func (v *Venue) MarketPrice(ctx context.Context, pair domain.Pair) (domain.Quote, error) {
	book, err := v.OrderBook(ctx, pair, 1)
	if err != nil {
		return domain.Quote{}, err
	}
	return venue.QuoteFromBook(book, v.cfg.MinNotional)
}

// OrderBook returns up to depth levels per side.
func (v *Venue) OrderBook(_ context.Context, pair domain.Pair, depth int) (domain.OrderBook, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	book, ok := v.books[pair]
	if !ok {
		return domain.OrderBook{}, fmt.Errorf("sim/%s: book %s: %w", v.cfg.ID, pair, domain.ErrNotFound)
	}
	out := book
	out.Bids = truncate(book.Bids, depth)
	out.Asks = truncate(book.Asks, depth)
	return out, nil
}

func truncate(levels []domain.BookLevel, depth int) []domain.BookLevel {
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	out := make([]domain.BookLevel, len(levels))
	copy(out, levels)
	return out
}

// Submit fills order against the book within its limit price.
func (v *Venue) Submit(_ context.Context, order domain.Order) (domain.Fill, error) {
	v.mu.Lock()
	if err, ok := v.failures[order.Side]; ok {
		delete(v.failures, order.Side)
		v.mu.Unlock()
		return domain.Fill{}, err
	}
	book, ok := v.books[order.Pair]
	v.mu.Unlock()

	if !ok {
		return domain.Fill{}, fmt.Errorf("sim/%s: book %s: %w", v.cfg.ID, order.Pair, domain.ErrNotFound)
	}
	if order.UnitID == "" || !order.Amount.IsPositive() {
		return domain.Fill{}, fmt.Errorf("sim/%s: %w", v.cfg.ID, domain.ErrInvalidOrder)
	}

	levels := book.Asks
	if order.Side == domain.OrderSideSell {
		levels = book.Bids
	}
	walk := venue.Walk(levels, order.Amount)
	if !walk.Complete(order.Amount) {
		return domain.Fill{}, domain.LiquidityError(domain.ErrInsufficientLiquidity, nil,
			"%s: %s of %s available", v.cfg.ID, walk.Filled, order.Amount)
	}
	if order.Side == domain.OrderSideBuy && walk.VWAP.GreaterThan(order.LimitPrice) ||
		order.Side == domain.OrderSideSell && walk.VWAP.LessThan(order.LimitPrice) {
		return domain.Fill{}, domain.ValidationError(domain.ErrPriceMoved, nil,
			"%s: %s fill %s beyond limit %s", v.cfg.ID, order.Side, walk.VWAP, order.LimitPrice)
	}

	notional := domain.Quantize(walk.VWAP.Mul(order.Amount))
	fee, _ := v.cfg.Fees.LegFee(notional)
	fee = domain.Quantize(fee)

	deltas := map[domain.AssetID]decimal.Decimal{}
	if order.Side == domain.OrderSideBuy {
		deltas[order.Pair.Base] = order.Amount
		deltas[order.Pair.Quote] = notional.Add(fee).Neg()
	} else {
		deltas[order.Pair.Base] = order.Amount.Neg()
		deltas[order.Pair.Quote] = notional.Sub(fee)
	}
	if err := v.ledger.Stage(order.UnitID, deltas); err != nil {
		return domain.Fill{}, err
	}

	v.mu.Lock()
	v.orders++
	v.mu.Unlock()

	return domain.Fill{
		OrderID:  order.ID,
		Venue:    v.cfg.ID,
		Side:     order.Side,
		Price:    walk.VWAP,
		Amount:   order.Amount,
		Fee:      fee,
		FilledAt: time.Now(),
	}, nil
}

var _ venue.Adapter = (*Venue)(nil)

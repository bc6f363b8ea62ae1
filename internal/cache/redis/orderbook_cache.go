package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

//go:embed scripts/orderbook_update.lua
var orderbookUpdateLua string

// OrderbookCache implements domain.OrderbookCache with a sorted set of price
// levels and an amount hash per book side.
//
// Key schema, with {id} = "{venue}:{base}/{quote}":
//
//	book:{id}:bids      sorted set of bid prices (score = price)
//	book:{id}:asks      sorted set of ask prices (score = price)
//	book:{id}:bid:amt   hash price -> amount for bids
//	book:{id}:ask:amt   hash price -> amount for asks
//	book:{id}:meta      hash with the "ts" of the last write
//
// Prices are stored as exact decimal strings; the score is only used for
// ordering.
type OrderbookCache struct {
	rdb    *redis.Client
	update *redis.Script
}

// NewOrderbookCache creates an OrderbookCache backed by c.
func NewOrderbookCache(c *Client) *OrderbookCache {
	return &OrderbookCache{
		rdb:    c.Underlying(),
		update: redis.NewScript(orderbookUpdateLua),
	}
}

type bookKeys struct {
	bids, asks, bidAmt, askAmt, meta string
}

func keysFor(venue domain.VenueID, pair domain.Pair) bookKeys {
	id := "book:" + string(venue) + ":" + pair.String()
	return bookKeys{
		bids:   id + ":bids",
		asks:   id + ":asks",
		bidAmt: id + ":bid:amt",
		askAmt: id + ":ask:amt",
		meta:   id + ":meta",
	}
}

func score(p decimal.Decimal) float64 {
	f, _ := p.Float64()
	return f
}

// SetBook atomically replaces the stored book for (book.Venue, book.Pair).
func (oc *OrderbookCache) SetBook(ctx context.Context, book domain.OrderBook) error {
	k := keysFor(book.Venue, book.Pair)
	pipe := oc.rdb.TxPipeline()
	pipe.Del(ctx, k.bids, k.asks, k.bidAmt, k.askAmt, k.meta)

	for _, lvl := range book.Bids {
		px := lvl.Price.String()
		pipe.ZAdd(ctx, k.bids, redis.Z{Score: score(lvl.Price), Member: px})
		pipe.HSet(ctx, k.bidAmt, px, lvl.Amount.String())
	}
	for _, lvl := range book.Asks {
		px := lvl.Price.String()
		pipe.ZAdd(ctx, k.asks, redis.Z{Score: score(lvl.Price), Member: px})
		pipe.HSet(ctx, k.askAmt, px, lvl.Amount.String())
	}
	ts := book.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	pipe.HSet(ctx, k.meta, "ts", strconv.FormatInt(ts.UnixNano(), 10))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s %s: %w", book.Venue, book.Pair, err)
	}
	return nil
}

// GetBook returns up to depth levels per side, best first. depth <= 0 reads
// the whole book. It returns domain.ErrNotFound when nothing was stored.
func (oc *OrderbookCache) GetBook(ctx context.Context, venue domain.VenueID, pair domain.Pair, depth int) (domain.OrderBook, error) {
	k := keysFor(venue, pair)
	stop := int64(-1)
	if depth > 0 {
		stop = int64(depth - 1)
	}

	pipe := oc.rdb.Pipeline()
	bidsCmd := pipe.ZRevRange(ctx, k.bids, 0, stop)
	asksCmd := pipe.ZRange(ctx, k.asks, 0, stop)
	bidAmtCmd := pipe.HGetAll(ctx, k.bidAmt)
	askAmtCmd := pipe.HGetAll(ctx, k.askAmt)
	metaCmd := pipe.HGetAll(ctx, k.meta)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.OrderBook{}, fmt.Errorf("redis: get book %s %s: %w", venue, pair, err)
	}

	meta, _ := metaCmd.Result()
	if len(meta) == 0 {
		return domain.OrderBook{}, domain.ErrNotFound
	}
	book := domain.OrderBook{Venue: venue, Pair: pair}
	if ns, err := strconv.ParseInt(meta["ts"], 10, 64); err == nil {
		book.Timestamp = time.Unix(0, ns).UTC()
	}

	bidPx, _ := bidsCmd.Result()
	bidAmt, _ := bidAmtCmd.Result()
	book.Bids = levels(bidPx, bidAmt)
	askPx, _ := asksCmd.Result()
	askAmt, _ := askAmtCmd.Result()
	book.Asks = levels(askPx, askAmt)
	return book, nil
}

func levels(prices []string, amounts map[string]string) []domain.BookLevel {
	out := make([]domain.BookLevel, 0, len(prices))
	for _, px := range prices {
		price, err := decimal.NewFromString(px)
		if err != nil {
			continue
		}
		amt, err := decimal.NewFromString(amounts[px])
		if err != nil || !amt.IsPositive() {
			continue
		}
		out = append(out, domain.BookLevel{Price: price, Amount: amt})
	}
	return out
}

// UpdateLevel applies one incremental level change with a Lua script. A zero
// amount removes the level.
func (oc *OrderbookCache) UpdateLevel(ctx context.Context, venue domain.VenueID, pair domain.Pair, side domain.OrderSide, level domain.BookLevel) error {
	k := keysFor(venue, pair)
	var zKey, hKey string
	switch side {
	case domain.OrderSideBuy:
		zKey, hKey = k.bids, k.bidAmt
	case domain.OrderSideSell:
		zKey, hKey = k.asks, k.askAmt
	default:
		return fmt.Errorf("redis: update level: unknown side %q", side)
	}
	if level.Amount.IsNegative() {
		return fmt.Errorf("redis: update level: negative amount %s", level.Amount)
	}

	px := level.Price.String()
	args := []any{px, level.Amount.String(), strconv.FormatInt(time.Now().UnixNano(), 10)}
	if err := oc.update.Run(ctx, oc.rdb, []string{zKey, hKey, k.meta}, args...).Err(); err != nil {
		return fmt.Errorf("redis: update level %s %s %s@%s: %w", venue, pair, side, px, err)
	}
	return nil
}

var _ domain.OrderbookCache = (*OrderbookCache)(nil)

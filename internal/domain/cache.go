package domain

import (
	"context"
	"time"
)

// PriceCache keeps the latest price point per (source, asset).
type PriceCache interface {
	SetPrice(ctx context.Context, source string, p PricePoint) error
	GetPrice(ctx context.Context, source string, asset AssetID) (PricePoint, error)
	GetPrices(ctx context.Context, source string, assets []AssetID) (map[AssetID]PricePoint, error)
}

// OrderbookCache stores live order books per (venue, pair).
type OrderbookCache interface {
	SetBook(ctx context.Context, book OrderBook) error
	GetBook(ctx context.Context, venue VenueID, pair Pair, depth int) (OrderBook, error)
	UpdateLevel(ctx context.Context, venue VenueID, pair Pair, side OrderSide, level BookLevel) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one entry of the durable event log.
type StreamMessage struct {
	ID      string `json:"id"`
	Payload []byte `json:"payload"`
}

// SignalBus fans events out live and keeps a replayable log of them.
type SignalBus interface {
	// Broadcast publishes payload on channel and appends it to stream in one
	// round trip. An empty channel or stream skips that target.
	Broadcast(ctx context.Context, channel, stream string, payload []byte) error
	// Replay returns up to count log entries after afterID, oldest first.
	Replay(ctx context.Context, stream, afterID string, count int) ([]StreamMessage, error)
}

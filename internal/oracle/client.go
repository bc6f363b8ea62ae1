// Package oracle reads reference prices, keeps a per-asset TWAP window and
// validates venue prices against it.
package oracle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Options configures a Client.
type Options struct {
	Freshness    time.Duration
	WindowSize   int
	WindowMaxAge time.Duration
	Now          func() time.Time
}

// Client combines a price source, the shared price cache and per-asset TWAP
// windows.
type Client struct {
	source Source
	cache  domain.PriceCache
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	windows map[domain.AssetID]*Window
}

// NewClient creates a Client. cache may be nil.
func NewClient(source Source, cache domain.PriceCache, opts Options, logger *slog.Logger) *Client {
	if opts.Freshness <= 0 {
		opts.Freshness = 60 * time.Second
	}
	if opts.WindowSize < 1 {
		opts.WindowSize = 64
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{
		source:  source,
		cache:   cache,
		opts:    opts,
		logger:  logger.With(slog.String("component", "oracle"), slog.String("source", source.Name())),
		windows: make(map[domain.AssetID]*Window),
	}
}

// GetPrice fetches the current price for asset, records it in the TWAP
// window and the cache, and checks it against the freshness bound. When the
// source is down a fresh cached point is served instead. The scanner's
// per-asset task is the only caller that should record.
func (c *Client) GetPrice(ctx context.Context, asset domain.AssetID) (domain.PricePoint, error) {
	p, cached, err := c.fetch(ctx, asset)
	if err != nil || cached {
		return p, err
	}
	if err := c.window(asset).Append(p); err != nil {
		c.logger.DebugContext(ctx, "dropping out-of-order price", slog.String("asset", string(asset)), slog.Any("error", err))
	}
	if c.cache != nil {
		if err := c.cache.SetPrice(ctx, c.source.Name(), p); err != nil {
			c.logger.WarnContext(ctx, "price cache write failed", slog.String("asset", string(asset)), slog.Any("error", err))
		}
	}
	return p, nil
}

// MarkPrice returns a fresh price for asset without touching the TWAP window
// or the cache. A fresh cached point is preferred over a source round trip.
func (c *Client) MarkPrice(ctx context.Context, asset domain.AssetID) (domain.PricePoint, error) {
	if p, ok := c.cachedFresh(ctx, asset, c.opts.Now()); ok {
		return p, nil
	}
	p, _, err := c.fetch(ctx, asset)
	return p, err
}

// fetch reads asset from the source and applies the freshness bound. cached
// reports that the point came from the cache fallback.
func (c *Client) fetch(ctx context.Context, asset domain.AssetID) (domain.PricePoint, bool, error) {
	now := c.opts.Now()

	p, err := c.source.Fetch(ctx, asset)
	if err != nil {
		if errors.Is(err, domain.ErrUnsupportedAsset) {
			return domain.PricePoint{}, false, err
		}
		if cached, ok := c.cachedFresh(ctx, asset, now); ok {
			c.logger.WarnContext(ctx, "oracle source failed, serving cached price",
				slog.String("asset", string(asset)),
				slog.Any("error", err),
			)
			return cached, true, nil
		}
		return domain.PricePoint{}, false, domain.DataError(domain.ErrSourceUnavailable, err, "fetch %s", asset)
	}

	if age := p.Age(now); age > c.opts.Freshness {
		return domain.PricePoint{}, false, domain.DataError(domain.ErrStaleData, nil,
			"%s price is %s old (max %s)", asset, age.Truncate(time.Second), c.opts.Freshness)
	}
	return p, false, nil
}

// TWAP returns the time-weighted average over the last records points.
func (c *Client) TWAP(asset domain.AssetID, records int) (domain.TWAP, error) {
	return c.window(asset).TWAP(records, c.opts.Now())
}

// Freshness returns the configured maximum age of a usable price.
func (c *Client) Freshness() time.Duration { return c.opts.Freshness }

func (c *Client) cachedFresh(ctx context.Context, asset domain.AssetID, now time.Time) (domain.PricePoint, bool) {
	if c.cache == nil {
		return domain.PricePoint{}, false
	}
	p, err := c.cache.GetPrice(ctx, c.source.Name(), asset)
	if err != nil || p.Age(now) > c.opts.Freshness {
		return domain.PricePoint{}, false
	}
	return p, true
}

func (c *Client) window(asset domain.AssetID) *Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.windows[asset]
	if !ok {
		w = NewWindow(asset, c.opts.WindowSize, c.opts.WindowMaxAge)
		c.windows[asset] = w
	}
	return w
}

// ValidateDeviation reports whether current is within maxBps of reference.
// A non-positive reference never validates.
func ValidateDeviation(current, reference decimal.Decimal, maxBps int64) bool {
	if !reference.IsPositive() {
		return false
	}
	return domain.DeviationBps(current, reference).LessThanOrEqual(decimal.NewFromInt(maxBps))
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// PriceCache implements domain.PriceCache using one Redis hash per
// (source, asset) at "price:{source}:{asset}" with fields "price", "ts"
// (Unix nanoseconds) and "confidence". Entries expire after ttl.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A zero ttl keeps entries forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(source string, asset domain.AssetID) string {
	return "price:" + source + ":" + string(asset)
}

// SetPrice stores p as the latest point for (source, p.Asset).
func (pc *PriceCache) SetPrice(ctx context.Context, source string, p domain.PricePoint) error {
	key := priceKey(source, p.Asset)
	fields := map[string]any{
		"price":      p.Price.String(),
		"ts":         strconv.FormatInt(p.Timestamp.UnixNano(), 10),
		"confidence": strconv.FormatFloat(p.Confidence, 'f', -1, 64),
	}
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s/%s: %w", source, p.Asset, err)
	}
	return nil
}

// GetPrice returns the latest point for (source, asset), or
// domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, source string, asset domain.AssetID) (domain.PricePoint, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(source, asset)).Result()
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: get price %s/%s: %w", source, asset, err)
	}
	p, err := parsePricePoint(source, asset, vals)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: get price %s/%s: %w", source, asset, err)
	}
	return p, nil
}

// GetPrices pipelines GetPrice for several assets. Missing or malformed
// entries are omitted from the result.
func (pc *PriceCache) GetPrices(ctx context.Context, source string, assets []domain.AssetID) (map[domain.AssetID]domain.PricePoint, error) {
	result := make(map[domain.AssetID]domain.PricePoint, len(assets))
	if len(assets) == 0 {
		return result, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[domain.AssetID]*redis.MapStringStringCmd, len(assets))
	for _, a := range assets {
		cmds[a] = pipe.HGetAll(ctx, priceKey(source, a))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	for a, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		p, err := parsePricePoint(source, a, vals)
		if err != nil {
			continue
		}
		result[a] = p
	}
	return result, nil
}

func parsePricePoint(source string, asset domain.AssetID, vals map[string]string) (domain.PricePoint, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return domain.PricePoint{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("parse price: %w", err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("parse ts: %w", err)
	}
	conf, _ := strconv.ParseFloat(vals["confidence"], 64)
	return domain.PricePoint{
		Asset:      asset,
		Price:      price,
		Timestamp:  time.Unix(0, tsNano).UTC(),
		Source:     source,
		Confidence: conf,
	}, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)

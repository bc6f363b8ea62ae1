package sim

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// OracleSource prices an asset at the mean mid of the simulated venues.
type OracleSource struct {
	quote  domain.AssetID
	venues []*Venue
}

// NewOracleSource creates a source over venues quoting against quote.
func NewOracleSource(quote domain.AssetID, venues ...*Venue) *OracleSource {
	return &OracleSource{quote: quote, venues: venues}
}

func (s *OracleSource) Name() string { return "sim" }

// Fetch returns the mean mid across venues listing the asset.
func (s *OracleSource) Fetch(ctx context.Context, asset domain.AssetID) (domain.PricePoint, error) {
	pair := domain.Pair{Base: asset, Quote: s.quote}
	sum := decimal.Zero
	n := 0
	for _, v := range s.venues {
		book, err := v.OrderBook(ctx, pair, 1)
		if err != nil {
			continue
		}
		if mid, ok := book.Mid(); ok {
			sum = sum.Add(mid)
			n++
		}
	}
	if n == 0 {
		return domain.PricePoint{}, domain.DataError(domain.ErrUnsupportedAsset, nil, "no simulated book for %s", pair)
	}
	return domain.PricePoint{
		Asset:      asset,
		Price:      domain.Quantize(sum.Div(decimal.NewFromInt(int64(n)))),
		Timestamp:  time.Now(),
		Source:     "sim",
		Confidence: 100,
	}, nil
}

// Drift perturbs every venue's books on a fixed interval so paper mode sees
// spreads open and close.
func Drift(ctx context.Context, interval time.Duration, maxBps int64, venues ...*Venue) {
	rnd := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, v := range venues {
				v.Perturb(rnd, maxBps)
			}
		}
	}
}

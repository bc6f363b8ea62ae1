package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Source fetches the latest price point for an asset from one feed.
type Source interface {
	Name() string
	Fetch(ctx context.Context, asset domain.AssetID) (domain.PricePoint, error)
}

// HTTPSource reads prices from a JSON oracle service.
//
// GET {base}/prices/{asset} returns
//
//	{"asset":"XLM","price":1234567,"timestamp":1700000000,"source":"reflector","confidence":95}
//
// where price is fixed-point at scale 10^7 and timestamp is Unix seconds.
type HTTPSource struct {
	baseURL    string
	apiKey     string
	name       string
	httpClient *http.Client

	limiter domain.RateLimiter
	limit   int
	window  time.Duration
}

// HTTPSourceOption customises an HTTPSource.
type HTTPSourceOption func(*HTTPSource)

// WithRateLimit throttles requests through a shared limiter.
func WithRateLimit(limiter domain.RateLimiter, limit int, window time.Duration) HTTPSourceOption {
	return func(s *HTTPSource) {
		s.limiter = limiter
		s.limit = limit
		s.window = window
	}
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) HTTPSourceOption {
	return func(s *HTTPSource) { s.apiKey = key }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPSourceOption {
	return func(s *HTTPSource) { s.httpClient = c }
}

// NewHTTPSource creates a source named name rooted at baseURL.
func NewHTTPSource(baseURL, name string, timeout time.Duration, opts ...HTTPSourceOption) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &HTTPSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		name:       name,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the feed name used as the cache namespace.
func (s *HTTPSource) Name() string { return s.name }

type priceResponse struct {
	Asset      string  `json:"asset"`
	Price      int64   `json:"price"`
	Timestamp  int64   `json:"timestamp"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// Fetch retrieves the current price for asset.
func (s *HTTPSource) Fetch(ctx context.Context, asset domain.AssetID) (domain.PricePoint, error) {
	if s.limiter != nil && s.limit > 0 {
		ok, err := s.limiter.Allow(ctx, "oracle:"+s.name, s.limit, s.window)
		if err != nil {
			return domain.PricePoint{}, fmt.Errorf("oracle: rate limiter: %w", err)
		}
		if !ok {
			return domain.PricePoint{}, fmt.Errorf("oracle: fetch %s: %w", asset, domain.ErrRateLimited)
		}
	}

	endpoint := s.baseURL + "/prices/" + url.PathEscape(string(asset))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("oracle: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("oracle: fetch %s: %w", asset, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("oracle: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.PricePoint{}, domain.DataError(domain.ErrUnsupportedAsset, nil, "asset %s", asset)
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.PricePoint{}, fmt.Errorf("oracle: fetch %s: %w", asset, domain.ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return domain.PricePoint{}, fmt.Errorf("oracle: fetch %s: status %d: %s", asset, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var pr priceResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return domain.PricePoint{}, fmt.Errorf("oracle: decode price: %w", err)
	}
	if pr.Price <= 0 {
		return domain.PricePoint{}, fmt.Errorf("oracle: non-positive price %d for %s", pr.Price, asset)
	}

	source := pr.Source
	if source == "" {
		source = s.name
	}
	conf := pr.Confidence
	if conf <= 0 || conf > 100 {
		conf = 100
	}
	return domain.PricePoint{
		Asset:      asset,
		Price:      domain.FromFixed(pr.Price),
		Timestamp:  time.Unix(pr.Timestamp, 0).UTC(),
		Source:     source,
		Confidence: conf,
	}, nil
}

var _ Source = (*HTTPSource)(nil)

package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/crypto"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

// HTTPConfig configures an HTTPAdapter.
type HTTPConfig struct {
	ID           domain.VenueID
	BaseURL      string
	Auth         crypto.HMACAuth
	Capabilities Capabilities
	Fees         domain.FeeSchedule
	MinNotional  decimal.Decimal
	Timeout      time.Duration
	RequestLimit int           // requests per RequestWindow, 0 disables
	BookMaxAge   time.Duration // cached books older than this are refetched
	BookDepth    int           // scan depth; shallower fetches are not cached
}

// HTTPAdapter is the REST client for a venue. Books are read from the shared
// order book cache when a websocket feed keeps it warm.
type HTTPAdapter struct {
	cfg        HTTPConfig
	httpClient *http.Client
	limiter    domain.RateLimiter
	books      domain.OrderbookCache
	logger     *slog.Logger
}

// NewHTTPAdapter creates a venue client. limiter and books may be nil.
func NewHTTPAdapter(cfg HTTPConfig, limiter domain.RateLimiter, books domain.OrderbookCache, logger *slog.Logger) *HTTPAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BookMaxAge <= 0 {
		cfg.BookMaxAge = 2 * time.Second
	}
	if cfg.BookDepth < 1 {
		cfg.BookDepth = 20
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPAdapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		books:      books,
		logger:     logger.With(slog.String("component", "venue"), slog.String("venue", string(cfg.ID))),
	}
}

func (a *HTTPAdapter) ID() domain.VenueID         { return a.cfg.ID }
func (a *HTTPAdapter) Capabilities() Capabilities { return a.cfg.Capabilities }
func (a *HTTPAdapter) Fees() domain.FeeSchedule   { return a.cfg.Fees }

// MarketPrice returns the top-of-book mid. The book is read at scan depth so a
// quote never leaves a truncated book in the shared cache.
func (a *HTTPAdapter) MarketPrice(ctx context.Context, pair domain.Pair) (domain.Quote, error) {
	book, err := a.OrderBook(ctx, pair, a.cfg.BookDepth)
	if err != nil {
		return domain.Quote{}, err
	}
	return QuoteFromBook(book, a.cfg.MinNotional)
}

// OrderBook returns the cached book when fresh, else fetches GET /book.
func (a *HTTPAdapter) OrderBook(ctx context.Context, pair domain.Pair, depth int) (domain.OrderBook, error) {
	if a.books != nil {
		book, err := a.books.GetBook(ctx, a.cfg.ID, pair, depth)
		if err == nil && time.Since(book.Timestamp) <= a.cfg.BookMaxAge {
			return book, nil
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			a.logger.WarnContext(ctx, "book cache read failed", slog.String("pair", pair.String()), slog.Any("error", err))
		}
	}

	q := url.Values{}
	q.Set("pair", pair.String())
	q.Set("depth", strconv.Itoa(depth))
	path := "/book?" + q.Encode()

	body, err := a.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("venue/%s: get book %s: %w", a.cfg.ID, pair, err)
	}

	var msg BookMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return domain.OrderBook{}, fmt.Errorf("venue/%s: decode book: %w", a.cfg.ID, err)
	}
	if msg.Pair == "" {
		msg.Pair = pair.String()
	}
	book, err := msg.ToDomain(a.cfg.ID)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("venue/%s: %w", a.cfg.ID, err)
	}
	if a.books != nil && depth >= a.cfg.BookDepth {
		if err := a.books.SetBook(ctx, book); err != nil {
			a.logger.WarnContext(ctx, "book cache write failed", slog.Any("error", err))
		}
	}
	return book, nil
}

// Submit places a signed limit order.
func (a *HTTPAdapter) Submit(ctx context.Context, order domain.Order) (domain.Fill, error) {
	if order.UnitID == "" || !order.Amount.IsPositive() || !order.LimitPrice.IsPositive() {
		return domain.Fill{}, fmt.Errorf("venue/%s: submit: %w", a.cfg.ID, domain.ErrInvalidOrder)
	}

	body, err := a.do(ctx, http.MethodPost, "/orders", order.UnitID, OrderToWire(order))
	if err != nil {
		return domain.Fill{}, fmt.Errorf("venue/%s: submit %s: %w", a.cfg.ID, order.Side, err)
	}

	var fr FillResponse
	if err := json.Unmarshal(body, &fr); err != nil {
		return domain.Fill{}, fmt.Errorf("venue/%s: decode fill: %w", a.cfg.ID, err)
	}
	fill := fr.ToDomain(order)
	a.logger.InfoContext(ctx, "order filled",
		slog.String("unit_id", order.UnitID),
		slog.String("side", string(order.Side)),
		slog.String("price", fill.Price.String()),
		slog.String("amount", fill.Amount.String()),
	)
	return fill, nil
}

// do sends a signed request and returns the body of a 2xx response.
func (a *HTTPAdapter) do(ctx context.Context, method, path, unit string, reqBody any) ([]byte, error) {
	if a.limiter != nil && a.cfg.RequestLimit > 0 {
		if err := a.limiter.Wait(ctx, "venue:"+string(a.cfg.ID), a.cfg.RequestLimit, time.Second); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	var raw []byte
	if reqBody != nil {
		var err error
		raw, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.cfg.Auth.Key != "" {
		for k, v := range a.cfg.Auth.Headers(method, path, unit, string(raw)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, a.statusError(resp.StatusCode, body)
}

// statusError maps a non-2xx response to a classified error.
func (a *HTTPAdapter) statusError(status int, body []byte) error {
	var er ErrorResponse
	_ = json.Unmarshal(body, &er)
	msg := er.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	switch {
	case er.Error == CodeInsufficientLiquidity:
		return domain.LiquidityError(domain.ErrInsufficientLiquidity, nil, "%s: %s", a.cfg.ID, msg)
	case er.Error == CodeLimitViolated:
		return domain.ValidationError(domain.ErrPriceMoved, nil, "%s: %s", a.cfg.ID, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("status %d: %s: %w", status, msg, domain.ErrUnauthorized)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("status %d: %w", status, domain.ErrRateLimited)
	case status == http.StatusNotFound:
		return fmt.Errorf("status %d: %s: %w", status, msg, domain.ErrNotFound)
	default:
		return fmt.Errorf("status %d: %s", status, msg)
	}
}

var _ Adapter = (*HTTPAdapter)(nil)

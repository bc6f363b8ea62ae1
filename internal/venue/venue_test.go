package venue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/crypto"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

var xlm = domain.Pair{Base: "XLM", Quote: "USDC"}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func lvl(price, amount string) domain.BookLevel {
	return domain.BookLevel{Price: d(price), Amount: d(amount)}
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestWalk(t *testing.T) {
	asks := []domain.BookLevel{lvl("1.00", "100"), lvl("1.10", "100"), lvl("1.20", "1000")}

	w := Walk(asks, d("150"))
	assert.True(t, w.Complete(d("150")))
	assert.Equal(t, "150", w.Filled.String())
	// (100*1.00 + 50*1.10) / 150
	assert.Equal(t, "1.0333333", w.VWAP.String())
	assert.Equal(t, "1.1", w.Worst.String())
	assert.True(t, w.ImpactBps.GreaterThan(d("333")) && w.ImpactBps.LessThan(d("334")))

	thin := Walk(asks[:1], d("150"))
	assert.False(t, thin.Complete(d("150")))
	assert.Equal(t, "100", thin.Filled.String())
	assert.True(t, thin.ImpactBps.IsZero())

	empty := Walk(nil, d("1"))
	assert.True(t, empty.Filled.IsZero())
}

func TestQuoteFromBook(t *testing.T) {
	book := domain.OrderBook{
		Venue: "a", Pair: xlm,
		Bids: []domain.BookLevel{lvl("0.99", "1000")},
		Asks: []domain.BookLevel{lvl("1.01", "1000")},
	}
	q, err := QuoteFromBook(book, d("500"))
	require.NoError(t, err)
	assert.Equal(t, "1", q.Price.String())

	_, err = QuoteFromBook(book, d("5000"))
	assert.True(t, errors.Is(err, domain.ErrInsufficientLiquidity))
	assert.True(t, errors.Is(err, domain.ErrLiquidity))

	book.Asks = nil
	_, err = QuoteFromBook(book, decimal.Zero)
	assert.True(t, errors.Is(err, domain.ErrInsufficientLiquidity))
}

func TestPairs(t *testing.T) {
	reg := NewRegistry(
		NewHTTPAdapter(HTTPConfig{ID: "b"}, nil, nil, discardLogger()),
		NewHTTPAdapter(HTTPConfig{ID: "a"}, nil, nil, discardLogger()),
	)
	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, domain.VenueID("a"), all[0].ID())

	pairs := Pairs(all)
	assert.Equal(t, []domain.VenuePair{{Buy: "a", Sell: "b"}, {Buy: "b", Sell: "a"}}, pairs)

	_, err := reg.Get("zzz")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

type memBooks struct {
	mu    sync.Mutex
	books map[string]domain.OrderBook
	sets  int
}

func newMemBooks() *memBooks { return &memBooks{books: map[string]domain.OrderBook{}} }

func (m *memBooks) key(v domain.VenueID, p domain.Pair) string { return string(v) + ":" + p.String() }

func (m *memBooks) SetBook(_ context.Context, b domain.OrderBook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[m.key(b.Venue, b.Pair)] = b
	m.sets++
	return nil
}

func (m *memBooks) GetBook(_ context.Context, v domain.VenueID, p domain.Pair, _ int) (domain.OrderBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[m.key(v, p)]
	if !ok {
		return domain.OrderBook{}, domain.ErrNotFound
	}
	return b, nil
}

func (m *memBooks) UpdateLevel(_ context.Context, v domain.VenueID, p domain.Pair, side domain.OrderSide, l domain.BookLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.books[m.key(v, p)]
	b.Venue, b.Pair = v, p
	if side == domain.OrderSideBuy {
		b.Bids = append([]domain.BookLevel{l}, b.Bids...)
	} else {
		b.Asks = append([]domain.BookLevel{l}, b.Asks...)
	}
	m.books[m.key(v, p)] = b
	return nil
}

func venueServer(t *testing.T, auth crypto.HMACAuth) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /book", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "XLM/USDC", r.URL.Query().Get("pair"))
		_ = json.NewEncoder(w).Encode(BookMessage{
			Pair:      "XLM/USDC",
			Bids:      []wireLevel{{Price: 9_900_000, Amount: 10_000_0000000}},
			Asks:      []wireLevel{{Price: 10_100_000, Amount: 10_000_0000000}},
			Timestamp: time.Now().UnixMilli(),
		})
	})
	mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		ok := auth.Verify(r.Method, "/orders", r.Header.Get(crypto.HeaderUnit), string(raw),
			r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature))
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req OrderRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		if req.Amount > 50_000_0000000 {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: CodeInsufficientLiquidity, Message: "book too thin"})
			return
		}
		_ = json.NewEncoder(w).Encode(FillResponse{
			OrderID: req.ID, Price: 10_100_000, Amount: req.Amount, Fee: 10_000_000,
			FilledAt: time.Now().UnixMilli(),
		})
	})
	return httptest.NewServer(mux)
}

func TestHTTPAdapterBookAndSubmit(t *testing.T) {
	auth := crypto.HMACAuth{Key: "k", Secret: "s"}
	srv := venueServer(t, auth)
	defer srv.Close()

	books := newMemBooks()
	a := NewHTTPAdapter(HTTPConfig{ID: "sdex", BaseURL: srv.URL, Auth: auth, MinNotional: d("100")}, nil, books, discardLogger())

	q, err := a.MarketPrice(context.Background(), xlm)
	require.NoError(t, err)
	assert.Equal(t, "1", q.Price.String())
	assert.Equal(t, 1, books.sets, "REST book written through")

	// Second read is served from the warm cache.
	_, err = a.OrderBook(context.Background(), xlm, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, books.sets)

	order := domain.Order{ID: "o1", UnitID: "u1", Venue: "sdex", Pair: xlm, Side: domain.OrderSideBuy, Amount: d("1000"), LimitPrice: d("1.02")}
	fill, err := a.Submit(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, "1.01", fill.Price.String())
	assert.Equal(t, "1000", fill.Amount.String())
	assert.Equal(t, "1", fill.Fee.String())

	order.Amount = d("60000")
	_, err = a.Submit(context.Background(), order)
	assert.True(t, errors.Is(err, domain.ErrInsufficientLiquidity))

	bad := NewHTTPAdapter(HTTPConfig{ID: "sdex", BaseURL: srv.URL, Auth: crypto.HMACAuth{Key: "k", Secret: "wrong"}}, nil, nil, discardLogger())
	order.Amount = d("1")
	_, err = bad.Submit(context.Background(), order)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))

	order.UnitID = ""
	_, err = a.Submit(context.Background(), order)
	assert.True(t, errors.Is(err, domain.ErrInvalidOrder))
}

func deepBookServer(t *testing.T, levels int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		depth, err := strconv.Atoi(r.URL.Query().Get("depth"))
		require.NoError(t, err)
		n := min(depth, levels)
		msg := BookMessage{Pair: "XLM/USDC", Timestamp: time.Now().UnixMilli()}
		for i := range n {
			step := int64(i) * 10_000
			msg.Bids = append(msg.Bids, wireLevel{Price: 9_900_000 - step, Amount: 1000_0000000})
			msg.Asks = append(msg.Asks, wireLevel{Price: 10_100_000 + step, Amount: 1000_0000000})
		}
		_ = json.NewEncoder(w).Encode(msg)
	}))
}

func TestHTTPAdapterKeepsScanDepthInCache(t *testing.T) {
	srv := deepBookServer(t, 5)
	defer srv.Close()

	books := newMemBooks()
	a := NewHTTPAdapter(HTTPConfig{ID: "sdex", BaseURL: srv.URL, BookDepth: 20, BookMaxAge: time.Minute}, nil, books, discardLogger())
	ctx := context.Background()

	_, err := a.MarketPrice(ctx, xlm)
	require.NoError(t, err)
	book, err := a.OrderBook(ctx, xlm, 20)
	require.NoError(t, err)
	assert.Len(t, book.Asks, 5)
	assert.Len(t, book.Bids, 5)

	// A shallow read is served but never replaces the cached book.
	fresh := newMemBooks()
	shallow := NewHTTPAdapter(HTTPConfig{ID: "sdex", BaseURL: srv.URL, BookDepth: 20}, nil, fresh, discardLogger())
	top, err := shallow.OrderBook(ctx, xlm, 1)
	require.NoError(t, err)
	assert.Len(t, top.Asks, 1)
	assert.Zero(t, fresh.sets)
}

func TestWSFeedAppliesSnapshotsAndUpdates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var sub subscribeCommand
		require.NoError(t, conn.ReadJSON(&sub))
		assert.Equal(t, []string{"XLM/USDC"}, sub.Pairs)

		_ = conn.WriteJSON(BookMessage{Type: "snapshot", Pair: "XLM/USDC",
			Bids: []wireLevel{{Price: 9_900_000, Amount: 1}}, Asks: []wireLevel{{Price: 10_100_000, Amount: 1}}})
		_ = conn.WriteJSON(BookMessage{Type: "update", Pair: "XLM/USDC", Side: "bid", Price: 9_950_000, Amount: 5})
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	books := newMemBooks()
	feed := NewWSFeed("sdex", "ws"+strings.TrimPrefix(srv.URL, "http"), []domain.Pair{xlm}, books, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	require.Eventually(t, func() bool { return feed.Updates() >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	book, err := books.GetBook(context.Background(), "sdex", xlm, 10)
	require.NoError(t, err)
	best, ok := book.BestBid()
	require.True(t, ok)
	assert.Equal(t, "0.995", best.Price.String())
}

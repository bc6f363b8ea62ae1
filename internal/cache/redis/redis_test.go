package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/flasharb/internal/config"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("redis container tests skipped in -short mode")
	}
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := ctr.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	addr, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)

	c, err := New(ctx, config.RedisConfig{Addr: addr, PoolSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRedisCaches(t *testing.T) {
	c := startRedis(t)
	ctx := context.Background()

	t.Run("price cache keeps points per source", func(t *testing.T) {
		pc := NewPriceCache(c, time.Minute)
		ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, pc.SetPrice(ctx, "feed", domain.PricePoint{Asset: "XLM", Price: d("0.1234567"), Timestamp: ts, Confidence: 95}))
		require.NoError(t, pc.SetPrice(ctx, "feed", domain.PricePoint{Asset: "BTC", Price: d("64000"), Timestamp: ts}))

		got, err := pc.GetPrice(ctx, "feed", "XLM")
		require.NoError(t, err)
		assert.True(t, got.Price.Equal(d("0.1234567")))
		assert.Equal(t, ts, got.Timestamp)
		assert.Equal(t, 95.0, got.Confidence)
		assert.Equal(t, "feed", got.Source)

		_, err = pc.GetPrice(ctx, "other", "XLM")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		all, err := pc.GetPrices(ctx, "feed", []domain.AssetID{"XLM", "BTC", "ETH"})
		require.NoError(t, err)
		assert.Len(t, all, 2)
		assert.True(t, all["BTC"].Price.Equal(d("64000")))
	})

	t.Run("order book round trip and level updates", func(t *testing.T) {
		oc := NewOrderbookCache(c)
		pair := domain.Pair{Base: "XLM", Quote: "USDC"}
		book := domain.OrderBook{
			Venue: "a",
			Pair:  pair,
			Bids:  []domain.BookLevel{{Price: d("0.99"), Amount: d("100")}, {Price: d("0.98"), Amount: d("200")}},
			Asks:  []domain.BookLevel{{Price: d("1.00"), Amount: d("150")}, {Price: d("1.01"), Amount: d("50")}},
		}
		require.NoError(t, oc.SetBook(ctx, book))

		got, err := oc.GetBook(ctx, "a", pair, 1)
		require.NoError(t, err)
		require.Len(t, got.Bids, 1)
		require.Len(t, got.Asks, 1)
		assert.True(t, got.Bids[0].Price.Equal(d("0.99")))
		assert.True(t, got.Asks[0].Amount.Equal(d("150")))

		require.NoError(t, oc.UpdateLevel(ctx, "a", pair, domain.OrderSideBuy, domain.BookLevel{Price: d("0.995"), Amount: d("10")}))
		require.NoError(t, oc.UpdateLevel(ctx, "a", pair, domain.OrderSideSell, domain.BookLevel{Price: d("1.00"), Amount: decimal.Zero}))

		got, err = oc.GetBook(ctx, "a", pair, 0)
		require.NoError(t, err)
		require.Len(t, got.Bids, 3)
		assert.True(t, got.Bids[0].Price.Equal(d("0.995")))
		require.Len(t, got.Asks, 1)
		assert.True(t, got.Asks[0].Price.Equal(d("1.01")))

		_, err = oc.GetBook(ctx, "b", pair, 5)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("lock excludes a second holder until released", func(t *testing.T) {
		lm := NewLockManager(c)
		unlock, err := lm.Acquire(ctx, "flasharb:asset:XLM", time.Minute)
		require.NoError(t, err)

		_, err = lm.Acquire(ctx, "flasharb:asset:XLM", time.Minute)
		assert.True(t, errors.Is(err, domain.ErrLockHeld))

		unlock()
		unlock()
		again, err := lm.Acquire(ctx, "flasharb:asset:XLM", time.Minute)
		require.NoError(t, err)
		again()
	})

	t.Run("sliding window limits requests", func(t *testing.T) {
		rl := NewRateLimiter(c)
		for i := 0; i < 3; i++ {
			ok, err := rl.Allow(ctx, "venue:a", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
		}
		ok, err := rl.Allow(ctx, "venue:a", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		wctx, cancel := context.WithTimeout(ctx, 120*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, rl.Wait(wctx, "venue:a", 3, time.Minute), context.DeadlineExceeded)
	})

	t.Run("signal bus broadcasts and replays", func(t *testing.T) {
		sb := NewSignalBus(c, 100)
		sub := c.Underlying().Subscribe(ctx, "flasharb:events")
		defer sub.Close()
		_, err := sub.Receive(ctx)
		require.NoError(t, err)

		require.NoError(t, sb.Broadcast(ctx, "flasharb:events", "flasharb:log", []byte(`{"type":"x"}`)))
		select {
		case msg := <-sub.Channel():
			assert.JSONEq(t, `{"type":"x"}`, msg.Payload)
		case <-time.After(5 * time.Second):
			t.Fatal("no pubsub message")
		}

		require.NoError(t, sb.Broadcast(ctx, "", "flasharb:log", []byte("two")))
		msgs, err := sb.Replay(ctx, "flasharb:log", "", 10)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "two", string(msgs[1].Payload))

		after, err := sb.Replay(ctx, "flasharb:log", msgs[0].ID, 10)
		require.NoError(t, err)
		require.Len(t, after, 1)
		assert.Equal(t, msgs[1].ID, after[0].ID)

		none, err := sb.Replay(ctx, "flasharb:missing", "", 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (m *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	return func() {
		m.mu.Lock()
		delete(m.held, key)
		m.mu.Unlock()
	}, nil
}

func TestInFlightSerializesPerAsset(t *testing.T) {
	f := NewInFlight(2, nil, 0)
	ctx := context.Background()

	release, err := f.Acquire(ctx, "XLM")
	require.NoError(t, err)
	assert.True(t, f.Busy("XLM"))

	_, err = f.Acquire(ctx, "XLM")
	assert.ErrorIs(t, err, domain.ErrAssetBusy)

	releaseETH, err := f.Acquire(ctx, "ETH")
	require.NoError(t, err)

	_, err = f.Acquire(ctx, "BTC")
	assert.ErrorIs(t, err, domain.ErrCapacityExhausted)
	assert.Equal(t, 2, f.Active())

	release()
	release()
	assert.Equal(t, 1, f.Active())
	releaseETH()
	assert.Zero(t, f.Active())
}

func TestInFlightDistributedLock(t *testing.T) {
	locks := &memLocks{held: map[string]bool{"flasharb:asset:XLM": true}}
	f := NewInFlight(4, locks, time.Second)

	_, err := f.Acquire(context.Background(), "XLM")
	require.ErrorIs(t, err, domain.ErrAssetBusy)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Zero(t, f.Active(), "local slot is released when the lock is held elsewhere")

	release, err := f.Acquire(context.Background(), "ETH")
	require.NoError(t, err)
	assert.True(t, locks.held["flasharb:asset:ETH"])
	release()
	assert.False(t, locks.held["flasharb:asset:ETH"])
}

func TestStopLossWatcherIssuesOneClose(t *testing.T) {
	book := NewPositionBook(nil, discardLogger())
	require.NoError(t, book.Apply(context.Background(), settled("XLM", "0", buyLeg("100", "1"))))
	require.NoError(t, book.SetStopLoss("XLM", d("0.95")))

	w := NewStopLossWatcher(book, 4, discardLogger())
	ctx := context.Background()
	point := func(p string) domain.PricePoint {
		return domain.PricePoint{Asset: "XLM", Price: d(p), Timestamp: time.Now()}
	}

	assert.False(t, w.OnPrice(ctx, point("0.96")))
	assert.Equal(t, "0.96", book.Snapshot().Position("XLM").MarkPrice.String())

	assert.True(t, w.OnPrice(ctx, point("0.95")))
	assert.False(t, w.OnPrice(ctx, point("0.90")), "one pending close per asset")

	fc := <-w.Closes()
	assert.Equal(t, domain.AssetID("XLM"), fc.Asset)
	assert.Equal(t, "100", fc.Amount.String())
	assert.True(t, fc.StopLoss.Equal(decimal.RequireFromString("0.95")))

	w.Done("XLM")
	assert.True(t, w.OnPrice(ctx, point("0.90")))
}

func TestStopLossWatcherShort(t *testing.T) {
	book := NewPositionBook(nil, discardLogger())
	book.SetStopLossBps(500)
	require.NoError(t, book.Apply(context.Background(), settled("XLM", "0", sellLeg("10", "2"))))

	w := NewStopLossWatcher(book, 1, discardLogger())
	ctx := context.Background()
	assert.False(t, w.OnPrice(ctx, domain.PricePoint{Asset: "XLM", Price: d("2.09")}))
	assert.True(t, w.OnPrice(ctx, domain.PricePoint{Asset: "XLM", Price: d("2.1")}))
	assert.False(t, w.OnPrice(ctx, domain.PricePoint{Asset: "ETH", Price: d("2.1")}))
}

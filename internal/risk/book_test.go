package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type memPositions struct {
	mu   sync.Mutex
	rows map[domain.AssetID]domain.Position
}

func newMemPositions() *memPositions {
	return &memPositions{rows: make(map[domain.AssetID]domain.Position)}
}

func (m *memPositions) Upsert(_ context.Context, p domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[p.Asset] = p
	return nil
}

func (m *memPositions) Delete(_ context.Context, asset domain.AssetID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, asset)
	return nil
}

func (m *memPositions) LoadAll(context.Context) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Position, 0, len(m.rows))
	for _, p := range m.rows {
		out = append(out, p)
	}
	return out, nil
}

func settled(asset domain.AssetID, profit string, legs ...domain.LegFill) domain.ExecutionResult {
	return domain.ExecutionResult{
		ID:             "res-" + string(asset),
		Asset:          asset,
		Success:        true,
		FinalState:     domain.StateSettled,
		RealizedProfit: d(profit),
		Legs:           legs,
		FinishedAt:     time.Now(),
	}
}

func buyLeg(amount, price string) domain.LegFill {
	return domain.LegFill{Leg: domain.LegBuy, Side: domain.OrderSideBuy, Amount: d(amount), FilledPrice: d(price)}
}

func sellLeg(amount, price string) domain.LegFill {
	return domain.LegFill{Leg: domain.LegSell, Side: domain.OrderSideSell, Amount: d(amount), FilledPrice: d(price)}
}

func TestApplyRefusesUnsettled(t *testing.T) {
	book := NewPositionBook(nil, discardLogger())
	res := settled("XLM", "-5", buyLeg("100", "1"))
	res.FinalState = domain.StateAborted
	res.Success = false

	err := book.Apply(context.Background(), res)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, book.Version())
	assert.Empty(t, book.Positions())
	assert.True(t, book.Snapshot().DailyPnL.IsZero())
}

func TestApplyBalancedUnitLeavesNoPosition(t *testing.T) {
	store := newMemPositions()
	book := NewPositionBook(store, discardLogger())
	ctx := context.Background()

	require.NoError(t, book.Apply(ctx, settled("XLM", "150", buyLeg("10000", "1.00"), sellLeg("10000", "1.02"))))
	assert.Empty(t, book.Positions())
	assert.Empty(t, store.rows)

	rep := book.ExposureReport(0)
	assert.Equal(t, "150", rep.TotalPnL.String())
	assert.Equal(t, "150", rep.DailyPnL.String())
	assert.Equal(t, uint64(1), rep.Version)
}

func TestApplyTracksResidualAndStops(t *testing.T) {
	store := newMemPositions()
	book := NewPositionBook(store, discardLogger())
	book.SetStopLossBps(500)
	ctx := context.Background()

	require.NoError(t, book.Apply(ctx, settled("XLM", "0", buyLeg("100", "2"))))
	require.NoError(t, book.Apply(ctx, settled("XLM", "0", buyLeg("100", "4"))))

	snap := book.Snapshot()
	pos := snap.Position("XLM")
	assert.Equal(t, "200", pos.NetExposure.String())
	assert.Equal(t, "3", pos.EntryPrice.String())
	require.NotNil(t, pos.StopLoss)
	assert.Equal(t, "1.9", pos.StopLoss.String())
	assert.Equal(t, "200", pos.UnrealizedPnL.String())
	assert.Contains(t, store.rows, domain.AssetID("XLM"))

	// Snapshots are deep copies.
	*pos.StopLoss = d("99")
	again := book.Snapshot().Position("XLM")
	assert.Equal(t, "1.9", again.StopLoss.String())

	require.NoError(t, book.Apply(ctx, settled("XLM", "-12", sellLeg("200", "2.5"))))
	assert.Empty(t, book.Positions())
	assert.NotContains(t, store.rows, domain.AssetID("XLM"))
	assert.False(t, book.Snapshot().LastLossAt.IsZero())
}

func TestShortPositionGetsStopAbove(t *testing.T) {
	book := NewPositionBook(nil, discardLogger())
	book.SetStopLossBps(1000)
	require.NoError(t, book.Apply(context.Background(), settled("XLM", "0", sellLeg("50", "2"))))
	pos := book.Snapshot().Position("XLM")
	assert.Equal(t, "-50", pos.NetExposure.String())
	require.NotNil(t, pos.StopLoss)
	assert.Equal(t, "2.2", pos.StopLoss.String())
}

func TestExposureReport(t *testing.T) {
	book := NewPositionBook(nil, discardLogger())
	ctx := context.Background()
	require.NoError(t, book.Apply(ctx, settled("XLM", "10", buyLeg("100", "2"))))
	require.NoError(t, book.Apply(ctx, settled("ETH", "0", sellLeg("1", "100"))))
	book.Mark("XLM", d("1.8"))
	book.Mark("ETH", d("103"))

	rep := book.ExposureReport(2)
	assert.Equal(t, 2, rep.PositionCount)
	assert.Equal(t, 2, rep.InFlight)
	assert.Equal(t, "283", rep.TotalExposure.String())
	// 10 realized, -20 on XLM, -3 on ETH.
	assert.Equal(t, "-13", rep.TotalPnL.String())
	assert.Equal(t, "1000", rep.MaxDrawdownBps.String())
}

func TestSetStopLossValidates(t *testing.T) {
	book := NewPositionBook(nil, discardLogger())
	assert.ErrorIs(t, book.SetStopLoss("XLM", d("1")), domain.ErrNotFound)

	require.NoError(t, book.Apply(context.Background(), settled("XLM", "0", buyLeg("10", "1"))))
	assert.ErrorIs(t, book.SetStopLoss("XLM", d("0")), domain.ErrValidation)
	assert.ErrorIs(t, book.SetStopLoss("XLM", d("-1")), domain.ErrInvalidOrder)
	require.NoError(t, book.SetStopLoss("XLM", d("0.9")))
	assert.Equal(t, "0.9", book.Snapshot().Position("XLM").StopLoss.String())
}

func TestRestoreLoadsOpenPositions(t *testing.T) {
	store := newMemPositions()
	store.rows["XLM"] = domain.Position{Asset: "XLM", NetExposure: d("5"), EntryPrice: d("1")}
	store.rows["FLAT"] = domain.Position{Asset: "FLAT", NetExposure: d("0")}

	book := NewPositionBook(store, discardLogger())
	require.NoError(t, book.Restore(context.Background()))
	snap := book.Snapshot()
	assert.Len(t, snap.Positions, 1)
	assert.Equal(t, "5", snap.Position("XLM").NetExposure.String())
	assert.True(t, snap.Position("BTC").IsFlat())
}

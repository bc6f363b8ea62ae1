// Package risk gates opportunities against portfolio limits and tracks the
// residual positions left by executions.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Snapshot is an immutable copy of the position book taken for one
// assessment.
type Snapshot struct {
	Positions  map[domain.AssetID]domain.Position
	Version    uint64
	InFlight   int
	DailyPnL   decimal.Decimal
	LastLossAt time.Time
	TakenAt    time.Time
}

// Exposure returns the summed notional of every position.
func (s Snapshot) Exposure() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.Positions {
		total = total.Add(p.Notional())
	}
	return total
}

// Position returns the position for asset, or a flat one.
func (s Snapshot) Position(asset domain.AssetID) domain.Position {
	if p, ok := s.Positions[asset]; ok {
		return p
	}
	return domain.Position{Asset: asset, NetExposure: decimal.Zero}
}

// PositionBook is the single shared mutable view of residual inventory.
// Apply is its only trade-driven mutation path.
type PositionBook struct {
	mu          sync.RWMutex
	positions   map[domain.AssetID]domain.Position
	version     uint64
	realized    decimal.Decimal
	daily       decimal.Decimal
	day         time.Time
	lastLoss    time.Time
	stopLossBps int64

	store  domain.PositionStore
	logger *slog.Logger
	now    func() time.Time
}

// NewPositionBook creates an empty book. store may be nil.
func NewPositionBook(store domain.PositionStore, logger *slog.Logger) *PositionBook {
	return &PositionBook{
		positions: make(map[domain.AssetID]domain.Position),
		realized:  decimal.Zero,
		daily:     decimal.Zero,
		store:     store,
		logger:    logger.With(slog.String("component", "position_book")),
		now:       time.Now,
	}
}

// SetStopLossBps sets the distance from entry at which new positions get an
// automatic stop. Zero disables automatic stops.
func (b *PositionBook) SetStopLossBps(bps int64) {
	b.mu.Lock()
	b.stopLossBps = bps
	b.mu.Unlock()
}

// Restore loads persisted positions, replacing the in-memory state.
func (b *PositionBook) Restore(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	loaded, err := b.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("risk: restore positions: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = make(map[domain.AssetID]domain.Position, len(loaded))
	for _, p := range loaded {
		if p.IsFlat() {
			continue
		}
		b.positions[p.Asset] = p
	}
	b.version++
	b.logger.InfoContext(ctx, "positions restored", slog.Int("count", len(b.positions)))
	return nil
}

// Snapshot returns a deep copy of the book stamped with its version.
func (b *PositionBook) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	positions := make(map[domain.AssetID]domain.Position, len(b.positions))
	for k, p := range b.positions {
		if p.StopLoss != nil {
			stop := *p.StopLoss
			p.StopLoss = &stop
		}
		positions[k] = p
	}
	return Snapshot{
		Positions:  positions,
		Version:    b.version,
		DailyPnL:   b.dailyLocked(b.now()),
		LastLossAt: b.lastLoss,
		TakenAt:    b.now(),
	}
}

// Version returns the current book version.
func (b *PositionBook) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

func (b *PositionBook) dailyLocked(now time.Time) decimal.Decimal {
	if !sameDay(b.day, now) {
		return decimal.Zero
	}
	return b.daily
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// Apply folds a settled execution into the book. Results that did not reach
// Settled are refused and leave the book untouched.
func (b *PositionBook) Apply(ctx context.Context, res domain.ExecutionResult) error {
	if res.FinalState != domain.StateSettled {
		return domain.ValidationError(domain.ErrSettlementFailed, nil,
			"result %s ended in %s", res.ID, res.FinalState)
	}

	b.mu.Lock()
	now := b.now()
	at := res.FinishedAt
	if at.IsZero() {
		at = now
	}

	if !sameDay(b.day, now) {
		b.day = now
		b.daily = decimal.Zero
	}
	b.daily = b.daily.Add(res.RealizedProfit)
	b.realized = b.realized.Add(res.RealizedProfit)
	if res.RealizedProfit.IsNegative() {
		b.lastLoss = at
	}

	pos, existed := b.positions[res.Asset]
	if !existed {
		pos = domain.Position{Asset: res.Asset, NetExposure: decimal.Zero, EntryPrice: decimal.Zero,
			UnrealizedPnL: decimal.Zero, RealizedPnL: decimal.Zero, OpenedAt: at}
	}
	mark := pos.MarkPrice
	if n := len(res.Legs); n > 0 && res.Legs[n-1].FilledPrice.IsPositive() {
		mark = res.Legs[n-1].FilledPrice
	}

	delta := res.ExposureDelta()
	next := pos.NetExposure.Add(delta)
	switch {
	case pos.IsFlat() || pos.NetExposure.Sign() != next.Sign() && !next.IsZero():
		pos.EntryPrice = mark
		pos.OpenedAt = at
		pos.StopLoss = b.autoStop(next, mark)
	case next.Abs().GreaterThan(pos.NetExposure.Abs()):
		// Growing in the same direction: volume-weighted entry.
		pos.EntryPrice = domain.Quantize(pos.EntryPrice.Mul(pos.NetExposure.Abs()).
			Add(mark.Mul(delta.Abs())).Div(next.Abs()))
	}
	pos.NetExposure = next
	pos.MarkPrice = mark
	pos.RealizedPnL = pos.RealizedPnL.Add(res.RealizedProfit)
	pos.UnrealizedPnL = unrealized(pos)
	pos.UpdatedAt = at

	flat := pos.IsFlat()
	if flat {
		delete(b.positions, res.Asset)
	} else {
		b.positions[res.Asset] = pos
	}
	b.version++
	version := b.version
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "position updated",
		slog.String("asset", string(res.Asset)),
		slog.String("net_exposure", pos.NetExposure.String()),
		slog.String("realized", res.RealizedProfit.String()),
		slog.Uint64("version", version),
	)
	b.persist(ctx, pos, flat)
	return nil
}

func (b *PositionBook) autoStop(exposure, entry decimal.Decimal) *decimal.Decimal {
	if b.stopLossBps <= 0 || exposure.IsZero() || !entry.IsPositive() {
		return nil
	}
	offset := domain.ApplyBps(entry, b.stopLossBps)
	stop := entry.Sub(offset)
	if exposure.IsNegative() {
		stop = entry.Add(offset)
	}
	stop = domain.Quantize(stop)
	return &stop
}

func unrealized(p domain.Position) decimal.Decimal {
	if p.EntryPrice.IsZero() || p.MarkPrice.IsZero() {
		return decimal.Zero
	}
	return domain.Quantize(p.MarkPrice.Sub(p.EntryPrice).Mul(p.NetExposure))
}

func (b *PositionBook) persist(ctx context.Context, pos domain.Position, flat bool) {
	if b.store == nil {
		return
	}
	var err error
	if flat {
		err = b.store.Delete(ctx, pos.Asset)
	} else {
		err = b.store.Upsert(ctx, pos)
	}
	if err != nil {
		b.logger.WarnContext(ctx, "persist position failed",
			slog.String("asset", string(pos.Asset)),
			slog.String("error", err.Error()),
		)
	}
}

// Mark records an observed price for an open position and returns the
// updated position. ok is false when the asset has no position.
func (b *PositionBook) Mark(asset domain.AssetID, price decimal.Decimal) (domain.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[asset]
	if !ok || !price.IsPositive() {
		return domain.Position{}, false
	}
	pos.MarkPrice = price
	pos.UnrealizedPnL = unrealized(pos)
	pos.UpdatedAt = b.now()
	b.positions[asset] = pos
	b.version++
	return pos, true
}

// SetStopLoss installs a stop on the open position in asset.
func (b *PositionBook) SetStopLoss(asset domain.AssetID, price decimal.Decimal) error {
	if !price.IsPositive() {
		return domain.ValidationError(domain.ErrInvalidOrder, nil, "stop price %s must be positive", price)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[asset]
	if !ok || pos.IsFlat() {
		return domain.ValidationError(domain.ErrInvalidOrder, domain.ErrNotFound, "no open position in %s", asset)
	}
	stop := price
	pos.StopLoss = &stop
	b.positions[asset] = pos
	b.version++
	return nil
}

// Positions returns the open positions sorted by asset.
func (b *PositionBook) Positions() []domain.Position {
	snap := b.Snapshot()
	out := make([]domain.Position, 0, len(snap.Positions))
	for _, k := range slices.Sorted(maps.Keys(snap.Positions)) {
		out = append(out, snap.Positions[k])
	}
	return out
}

// ExposureReport summarises the book. MaxDrawdownBps is the worst adverse
// move from entry across open positions.
func (b *PositionBook) ExposureReport(inFlight int) domain.ExposureReport {
	snap := b.Snapshot()
	b.mu.RLock()
	realized := b.realized
	b.mu.RUnlock()

	report := domain.ExposureReport{
		TotalExposure:  decimal.Zero,
		TotalPnL:       realized,
		MaxDrawdownBps: decimal.Zero,
		PositionCount:  len(snap.Positions),
		DailyPnL:       snap.DailyPnL,
		InFlight:       inFlight,
		Version:        snap.Version,
	}
	for _, p := range snap.Positions {
		report.TotalExposure = report.TotalExposure.Add(p.Notional())
		report.TotalPnL = report.TotalPnL.Add(p.UnrealizedPnL)
		if !p.EntryPrice.IsPositive() || p.MarkPrice.IsZero() {
			continue
		}
		adverse := p.EntryPrice.Sub(p.MarkPrice)
		if p.NetExposure.IsNegative() {
			adverse = adverse.Neg()
		}
		if dd := domain.RatioBps(adverse, p.EntryPrice); dd.GreaterThan(report.MaxDrawdownBps) {
			report.MaxDrawdownBps = dd
		}
	}
	report.TotalExposure = domain.Quantize(report.TotalExposure)
	report.MaxDrawdownBps = report.MaxDrawdownBps.Round(2)
	return report
}

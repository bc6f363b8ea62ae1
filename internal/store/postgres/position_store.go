package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// PositionStore implements domain.PositionStore, one row per asset.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Upsert writes p, replacing any previous row for p.Asset.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	var stop decimal.NullDecimal
	if p.StopLoss != nil {
		stop = decimal.NewNullDecimal(*p.StopLoss)
	}
	const query = `
		INSERT INTO positions (asset, net_exposure, entry_price, mark_price, unrealized_pnl, realized_pnl, stop_loss, opened_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (asset) DO UPDATE SET
			net_exposure = EXCLUDED.net_exposure,
			entry_price = EXCLUDED.entry_price,
			mark_price = EXCLUDED.mark_price,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			realized_pnl = EXCLUDED.realized_pnl,
			stop_loss = EXCLUDED.stop_loss,
			opened_at = EXCLUDED.opened_at,
			updated_at = EXCLUDED.updated_at`
	_, err := s.pool.Exec(ctx, query,
		string(p.Asset), p.NetExposure, p.EntryPrice, p.MarkPrice,
		p.UnrealizedPnL, p.RealizedPnL, stop, p.OpenedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.Asset, err)
	}
	return nil
}

// Delete removes the row for asset. A missing row is not an error.
func (s *PositionStore) Delete(ctx context.Context, asset domain.AssetID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE asset = $1`, string(asset)); err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", asset, err)
	}
	return nil
}

// LoadAll returns every stored position ordered by asset.
func (s *PositionStore) LoadAll(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT asset, net_exposure, entry_price, mark_price, unrealized_pnl, realized_pnl, stop_loss, opened_at, updated_at
		FROM positions ORDER BY asset`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var asset string
		var stop decimal.NullDecimal
		if err := rows.Scan(&asset, &p.NetExposure, &p.EntryPrice, &p.MarkPrice,
			&p.UnrealizedPnL, &p.RealizedPnL, &stop, &p.OpenedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.Asset = domain.AssetID(asset)
		if stop.Valid {
			v := stop.Decimal
			p.StopLoss = &v
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

var _ domain.PositionStore = (*PositionStore)(nil)

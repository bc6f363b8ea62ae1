package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore. The full opportunity
// is kept as a JSONB payload next to the columns used for filtering.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// Insert stores opp. Re-inserting the same id is a no-op.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	payload, err := json.Marshal(opp)
	if err != nil {
		return fmt.Errorf("postgres: marshal opportunity: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO opportunities (id, asset, venue_buy, venue_sell, estimated_profit, confidence_score, payload, detected_at, expiry)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		opp.ID, string(opp.Asset), string(opp.BuyVenue), string(opp.SellVenue),
		opp.EstimatedProfit, opp.ConfidenceScore, payload, opp.DetectedAt, opp.Expiry,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// MarkExecuted links an opportunity to the result that settled it.
func (s *OpportunityStore) MarkExecuted(ctx context.Context, id string, resultID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE opportunities SET result_id = $2 WHERE id = $1`, id, resultID)
	if err != nil {
		return fmt.Errorf("postgres: mark opportunity %s executed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns the newest opportunities.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT payload FROM opportunities ORDER BY detected_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	return scanOpportunities(rows)
}

// ListBefore returns up to limit opportunities detected before the cutoff,
// oldest first.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Opportunity, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT payload FROM opportunities WHERE detected_at < $1
		ORDER BY detected_at LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before: %w", err)
	}
	return scanOpportunities(rows)
}

// DeleteBefore removes opportunities detected before the cutoff.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM opportunities WHERE detected_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanOpportunities(rows pgx.Rows) ([]domain.Opportunity, error) {
	defer rows.Close()
	var out []domain.Opportunity
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		var opp domain.Opportunity
		if err := json.Unmarshal(payload, &opp); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal opportunity: %w", err)
		}
		out = append(out, opp)
	}
	return out, rows.Err()
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)

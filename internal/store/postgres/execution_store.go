package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore. Rows are only ever
// inserted or deleted by the archiver, never updated.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionSelectCols = `id, opportunity_id, unit_id, asset, venue_buy, venue_sell,
	success, final_state, realized_profit, estimated_profit, drift,
	loan_principal, loan_fee, gas_used, failure_reason, failed_leg, failed_venue,
	detail, legs, forced_close, started_at, finished_at`

func scanExecution(row pgx.Row) (domain.ExecutionResult, error) {
	var r domain.ExecutionResult
	var asset, buy, sell, state, failedVenue string
	var legs []byte
	if err := row.Scan(
		&r.ID, &r.OpportunityID, &r.UnitID, &asset, &buy, &sell,
		&r.Success, &state, &r.RealizedProfit, &r.EstimatedProfit, &r.Drift,
		&r.LoanPrincipal, &r.LoanFee, &r.GasUsed, &r.FailureReason, &r.FailedLeg, &failedVenue,
		&r.Detail, &legs, &r.ForcedClose, &r.StartedAt, &r.FinishedAt,
	); err != nil {
		return domain.ExecutionResult{}, err
	}
	r.Asset = domain.AssetID(asset)
	r.BuyVenue = domain.VenueID(buy)
	r.SellVenue = domain.VenueID(sell)
	r.FinalState = domain.ExecutionState(state)
	r.FailedVenue = domain.VenueID(failedVenue)
	if len(legs) > 0 {
		if err := json.Unmarshal(legs, &r.Legs); err != nil {
			return domain.ExecutionResult{}, fmt.Errorf("unmarshal legs: %w", err)
		}
	}
	return r, nil
}

func scanExecutions(rows pgx.Rows) ([]domain.ExecutionResult, error) {
	defer rows.Close()
	var out []domain.ExecutionResult
	for rows.Next() {
		r, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Append inserts a result. Appending the same id twice is a no-op.
func (s *ExecutionStore) Append(ctx context.Context, r domain.ExecutionResult) error {
	legs, err := json.Marshal(r.Legs)
	if err != nil {
		return fmt.Errorf("postgres: marshal legs: %w", err)
	}
	if r.Legs == nil {
		legs = []byte("[]")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO executions (`+executionSelectCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (id) DO NOTHING`,
		r.ID, r.OpportunityID, r.UnitID, string(r.Asset), string(r.BuyVenue), string(r.SellVenue),
		r.Success, string(r.FinalState), r.RealizedProfit, r.EstimatedProfit, r.Drift,
		r.LoanPrincipal, r.LoanFee, r.GasUsed, r.FailureReason, r.FailedLeg, string(r.FailedVenue),
		r.Detail, legs, r.ForcedClose, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", r.ID, err)
	}
	return nil
}

// GetByID returns one result or domain.ErrNotFound.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.ExecutionResult, error) {
	r, err := scanExecution(s.pool.QueryRow(ctx, `SELECT `+executionSelectCols+` FROM executions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionResult{}, domain.ErrNotFound
		}
		return domain.ExecutionResult{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}
	return r, nil
}

// ListRecent returns results newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ExecutionResult, error) {
	query, args := window{col: "finished_at", defaultLimit: 50}.apply(
		`SELECT `+executionSelectCols+` FROM executions WHERE TRUE`, nil, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	return scanExecutions(rows)
}

// SumRealized totals realized profit of successful results finished since.
func (s *ExecutionStore) SumRealized(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(realized_profit), 0) FROM executions
		WHERE success AND finished_at >= $1`, since).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: sum realized: %w", err)
	}
	return sum, nil
}

// ListBefore returns up to limit results finished before the cutoff, oldest
// first.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.ExecutionResult, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+executionSelectCols+` FROM executions
		WHERE finished_at < $1 ORDER BY finished_at LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before: %w", err)
	}
	return scanExecutions(rows)
}

// DeleteBefore removes results finished before the cutoff.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE finished_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions before: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)

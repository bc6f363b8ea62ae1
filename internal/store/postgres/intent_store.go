package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// IntentStore implements domain.IntentStore. Every transition is a
// compare-and-set on the unit's state plus a row in execution_transitions,
// committed together.
type IntentStore struct {
	pool *pgxpool.Pool
}

// NewIntentStore creates a new IntentStore backed by the given pool.
func NewIntentStore(pool *pgxpool.Pool) *IntentStore {
	return &IntentStore{pool: pool}
}

const intentSelectCols = `unit_id, opportunity_id, asset, provider, state,
	principal, repayment, signature, opportunity, created_at, updated_at`

func scanIntent(row pgx.Row) (domain.Intent, error) {
	var in domain.Intent
	var asset, state string
	var oppJSON []byte
	if err := row.Scan(
		&in.UnitID, &in.OpportunityID, &asset, &in.Provider, &state,
		&in.Principal, &in.Repayment, &in.Signature, &oppJSON,
		&in.CreatedAt, &in.UpdatedAt,
	); err != nil {
		return domain.Intent{}, err
	}
	in.Asset = domain.AssetID(asset)
	in.State = domain.ExecutionState(state)
	if err := json.Unmarshal(oppJSON, &in.Opportunity); err != nil {
		return domain.Intent{}, fmt.Errorf("unmarshal opportunity: %w", err)
	}
	return in, nil
}

// Create inserts a new intent. A duplicate unit id yields
// domain.ErrAlreadyExists.
func (s *IntentStore) Create(ctx context.Context, in domain.Intent) error {
	oppJSON, err := json.Marshal(in.Opportunity)
	if err != nil {
		return fmt.Errorf("postgres: marshal intent opportunity: %w", err)
	}
	now := time.Now().UTC()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	if in.UpdatedAt.IsZero() {
		in.UpdatedAt = in.CreatedAt
	}

	const query = `
		INSERT INTO execution_intents (` + intentSelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = s.pool.Exec(ctx, query,
		in.UnitID, in.OpportunityID, string(in.Asset), in.Provider, string(in.State),
		in.Principal, in.Repayment, in.Signature, oppJSON, in.CreatedAt, in.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: create intent %s: %w", in.UnitID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create intent %s: %w", in.UnitID, err)
	}
	return nil
}

// Transition moves unitID from -> to. It fails when the stored state is not
// from.
func (s *IntentStore) Transition(ctx context.Context, unitID string, from, to domain.ExecutionState) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE execution_intents SET state = $3, updated_at = NOW()
		WHERE unit_id = $1 AND state = $2`,
		unitID, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("postgres: transition intent %s: %w", unitID, err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := tx.QueryRow(ctx, `SELECT state FROM execution_intents WHERE unit_id = $1`, unitID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: transition intent %s: %w", unitID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("postgres: transition intent %s: %w", unitID, err)
		}
		return fmt.Errorf("postgres: transition intent %s: state is %s, not %s", unitID, current, from)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO execution_transitions (unit_id, from_state, to_state) VALUES ($1, $2, $3)`,
		unitID, string(from), string(to),
	); err != nil {
		return fmt.Errorf("postgres: record transition %s: %w", unitID, err)
	}
	return tx.Commit(ctx)
}

// Get returns one intent or domain.ErrNotFound.
func (s *IntentStore) Get(ctx context.Context, unitID string) (domain.Intent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+intentSelectCols+` FROM execution_intents WHERE unit_id = $1`, unitID)
	in, err := scanIntent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Intent{}, domain.ErrNotFound
		}
		return domain.Intent{}, fmt.Errorf("postgres: get intent %s: %w", unitID, err)
	}
	return in, nil
}

// ListOpen returns every non-terminal intent, oldest first.
func (s *IntentStore) ListOpen(ctx context.Context) ([]domain.Intent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+intentSelectCols+` FROM execution_intents
		WHERE state NOT IN ('Settled', 'Aborted')
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open intents: %w", err)
	}
	defer rows.Close()

	var out []domain.Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan intent: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// Transitions returns the recorded edges for unitID in order.
func (s *IntentStore) Transitions(ctx context.Context, unitID string) ([]domain.Transition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT from_state, to_state FROM execution_transitions
		WHERE unit_id = $1 ORDER BY id`, unitID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transitions %s: %w", unitID, err)
	}
	defer rows.Close()

	var out []domain.Transition
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("postgres: scan transition: %w", err)
		}
		out = append(out, domain.Transition{From: domain.ExecutionState(from), To: domain.ExecutionState(to)})
	}
	return out, rows.Err()
}

var _ domain.IntentStore = (*IntentStore)(nil)

package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// IntentStore is the durable write-ahead log for execution units.
type IntentStore interface {
	Create(ctx context.Context, in Intent) error
	Transition(ctx context.Context, unitID string, from, to ExecutionState) error
	Get(ctx context.Context, unitID string) (Intent, error)
	ListOpen(ctx context.Context) ([]Intent, error)
}

// ExecutionStore is the append-only execution log.
type ExecutionStore interface {
	Append(ctx context.Context, r ExecutionResult) error
	GetByID(ctx context.Context, id string) (ExecutionResult, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]ExecutionResult, error)
	SumRealized(ctx context.Context, since time.Time) (decimal.Decimal, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]ExecutionResult, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OpportunityStore persists scanned opportunities.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	MarkExecuted(ctx context.Context, id string, resultID string) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Opportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PositionStore persists the risk position book between restarts.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	Delete(ctx context.Context, asset AssetID) error
	LoadAll(ctx context.Context) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

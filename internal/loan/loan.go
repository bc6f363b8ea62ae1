// Package loan defines the flash-loan provider contract that hosts execution
// units, plus its REST implementation.
package loan

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/crypto"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

// UnitStatus is the provider-side state of an execution unit.
type UnitStatus string

const (
	StatusUnknown UnitStatus = "unknown"
	StatusOpen    UnitStatus = "open"
	StatusRepaid  UnitStatus = "repaid"
	StatusSettled UnitStatus = "settled"
	StatusAborted UnitStatus = "aborted"
)

// Request opens an execution unit. A zero Amount opens a loan-free unit
// whose legs still settle or revert together.
type Request struct {
	UnitID    string
	Asset     domain.AssetID
	Amount    decimal.Decimal
	Unit      crypto.UnitPayload
	Signature string
}

// Loan is an open flash loan inside a unit.
type Loan struct {
	ID        string          `json:"id"`
	UnitID    string          `json:"unit_id"`
	Asset     domain.AssetID  `json:"asset"`
	Principal decimal.Decimal `json:"principal"`
	Fee       decimal.Decimal `json:"fee"`
	OpenedAt  time.Time       `json:"opened_at"`
}

// Owed returns principal plus fee.
func (l Loan) Owed() decimal.Decimal {
	return l.Principal.Add(l.Fee)
}

// Settlement is the provider's receipt for a committed unit.
type Settlement struct {
	GasUsed   int64     `json:"gas_used"`
	TxRef     string    `json:"tx_ref"`
	SettledAt time.Time `json:"settled_at"`
}

// Provider hosts atomic execution units. Everything staged inside a unit
// (the loan, venue legs and the repayment) either settles together or is
// discarded by Abort.
type Provider interface {
	Name() string
	Fees() domain.FeeSchedule
	Open(ctx context.Context, req Request) (Loan, error)
	Repay(ctx context.Context, loan Loan, amount decimal.Decimal) error
	Settle(ctx context.Context, unitID string) (Settlement, error)
	Abort(ctx context.Context, unitID string) error
	Status(ctx context.Context, unitID string) (UnitStatus, error)
}

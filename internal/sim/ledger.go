// Package sim provides an in-process execution environment: a ledger that
// stages every leg of a unit and settles or discards it as a whole, venues
// that fill against static books, and an oracle derived from those books.
// Paper mode and the package tests run against it.
package sim

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/crypto"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/loan"
)

// Ledger operations that accept injected failures.
const (
	OpOpen   = "open"
	OpRepay  = "repay"
	OpSettle = "settle"
	OpAbort  = "abort"
)

type unit struct {
	status  loan.UnitStatus
	loan    *loan.Loan
	staged  map[domain.AssetID]decimal.Decimal
	openedAt time.Time
}

// Ledger is a simulated settlement layer and flash-loan provider.
type Ledger struct {
	mu       sync.Mutex
	name     string
	fees     domain.FeeSchedule
	gasUsed  int64
	balances map[domain.AssetID]decimal.Decimal
	units    map[string]*unit
	failures map[string]error
	seq      int

	domainSep []byte
	signer    common.Address
	verify    bool
}

// LedgerOption customises a Ledger.
type LedgerOption func(*Ledger)

// WithSignatureCheck requires every loan-bearing unit to be signed by addr.
func WithSignatureCheck(chainID int, addr common.Address) LedgerOption {
	return func(l *Ledger) {
		l.domainSep = crypto.DomainSeparator(chainID)
		l.signer = addr
		l.verify = true
	}
}

// WithGasPerUnit sets the gas reported by Settle.
func WithGasPerUnit(gas int64) LedgerOption {
	return func(l *Ledger) { l.gasUsed = gas }
}

// NewLedger creates an empty ledger acting as the provider name.
func NewLedger(name string, fees domain.FeeSchedule, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		name:     name,
		fees:     fees,
		gasUsed:  21_000,
		balances: make(map[domain.AssetID]decimal.Decimal),
		units:    make(map[string]*unit),
		failures: make(map[string]error),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Name() string             { return l.name }
func (l *Ledger) Fees() domain.FeeSchedule { return l.fees }

// FailNext makes the next call to op return err.
func (l *Ledger) FailNext(op string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[op] = err
}

func (l *Ledger) injected(op string) error {
	if err, ok := l.failures[op]; ok {
		delete(l.failures, op)
		return err
	}
	return nil
}

// Open starts a unit and, when req.Amount is positive, credits the loan to
// the unit's staged balances.
func (l *Ledger) Open(_ context.Context, req loan.Request) (loan.Loan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.injected(OpOpen); err != nil {
		return loan.Loan{}, err
	}
	if _, ok := l.units[req.UnitID]; ok {
		return loan.Loan{}, fmt.Errorf("sim: unit %s: %w", req.UnitID, domain.ErrAlreadyExists)
	}
	borrowing := req.Amount.IsPositive()
	if borrowing && l.verify && !crypto.VerifyUnit(l.domainSep, req.Unit, req.Signature, l.signer) {
		return loan.Loan{}, fmt.Errorf("sim: unit %s: %w", req.UnitID, domain.ErrSigningFailed)
	}

	u := &unit{status: loan.StatusOpen, staged: make(map[domain.AssetID]decimal.Decimal), openedAt: time.Now()}
	l.units[req.UnitID] = u

	if !borrowing {
		return loan.Loan{UnitID: req.UnitID, Asset: req.Asset, Principal: decimal.Zero, Fee: decimal.Zero, OpenedAt: u.openedAt}, nil
	}

	l.seq++
	ln := loan.Loan{
		ID:        "loan-" + strconv.Itoa(l.seq),
		UnitID:    req.UnitID,
		Asset:     req.Asset,
		Principal: req.Amount,
		Fee:       domain.Quantize(l.fees.LoanFee(req.Amount)),
		OpenedAt:  u.openedAt,
	}
	u.loan = &ln
	u.staged[req.Asset] = req.Amount
	return ln, nil
}

// Stage records balance deltas for an open unit.
func (l *Ledger) Stage(unitID string, deltas map[domain.AssetID]decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.units[unitID]
	if !ok {
		return fmt.Errorf("sim: stage on unit %s: %w", unitID, domain.ErrNotFound)
	}
	if u.status != loan.StatusOpen {
		return fmt.Errorf("sim: stage on unit %s in state %s", unitID, u.status)
	}
	for asset, delta := range deltas {
		u.staged[asset] = u.staged[asset].Add(delta)
	}
	return nil
}

// Repay debits amount from the unit. Anything short of principal plus fee
// is rejected.
func (l *Ledger) Repay(_ context.Context, ln loan.Loan, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.injected(OpRepay); err != nil {
		return err
	}
	u, ok := l.units[ln.UnitID]
	if !ok || u.loan == nil {
		return fmt.Errorf("sim: repay unit %s: %w", ln.UnitID, domain.ErrNotFound)
	}
	if u.status != loan.StatusOpen {
		return fmt.Errorf("sim: repay unit %s in state %s", ln.UnitID, u.status)
	}
	if amount.LessThan(u.loan.Owed()) {
		return fmt.Errorf("sim: repay unit %s: %s is short of %s", ln.UnitID, amount, u.loan.Owed())
	}
	u.staged[u.loan.Asset] = u.staged[u.loan.Asset].Sub(amount)
	u.status = loan.StatusRepaid
	return nil
}

// Settle commits the unit's staged balances. A unit holding an unrepaid
// loan cannot settle.
func (l *Ledger) Settle(_ context.Context, unitID string) (loan.Settlement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.injected(OpSettle); err != nil {
		return loan.Settlement{}, err
	}
	u, ok := l.units[unitID]
	if !ok {
		return loan.Settlement{}, fmt.Errorf("sim: settle unit %s: %w", unitID, domain.ErrNotFound)
	}
	switch {
	case u.status == loan.StatusSettled:
		return loan.Settlement{}, fmt.Errorf("sim: unit %s already settled: %w", unitID, domain.ErrAlreadyExists)
	case u.status == loan.StatusAborted:
		return loan.Settlement{}, fmt.Errorf("sim: unit %s was aborted", unitID)
	case u.loan != nil && u.status != loan.StatusRepaid:
		return loan.Settlement{}, fmt.Errorf("sim: unit %s has an unrepaid loan", unitID)
	}

	for asset, delta := range u.staged {
		l.balances[asset] = l.balances[asset].Add(delta)
	}
	u.status = loan.StatusSettled
	return loan.Settlement{GasUsed: l.gasUsed, TxRef: "sim-" + unitID, SettledAt: time.Now()}, nil
}

// Abort discards everything staged in the unit. Aborting an unknown or
// already aborted unit is a no-op.
func (l *Ledger) Abort(_ context.Context, unitID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.injected(OpAbort); err != nil {
		return err
	}
	u, ok := l.units[unitID]
	if !ok {
		return nil
	}
	if u.status == loan.StatusSettled {
		return fmt.Errorf("sim: unit %s already settled", unitID)
	}
	u.status = loan.StatusAborted
	u.staged = map[domain.AssetID]decimal.Decimal{}
	return nil
}

// Status reports the unit's state.
func (l *Ledger) Status(_ context.Context, unitID string) (loan.UnitStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.units[unitID]
	if !ok {
		return loan.StatusUnknown, nil
	}
	return u.status, nil
}

// Balance returns the settled balance of asset.
func (l *Ledger) Balance(asset domain.AssetID) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[asset]
}

// Balances returns a copy of every settled balance.
func (l *Ledger) Balances() map[domain.AssetID]decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[domain.AssetID]decimal.Decimal, len(l.balances))
	for k, v := range l.balances {
		out[k] = v
	}
	return out
}

var _ loan.Provider = (*Ledger)(nil)

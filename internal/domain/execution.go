package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionState is a step of the atomic borrow/buy/sell/repay sequence.
type ExecutionState string

const (
	StateValidated        ExecutionState = "Validated"
	StateLoanRequested    ExecutionState = "LoanRequested"
	StateBuyLegSubmitted  ExecutionState = "BuyLegSubmitted"
	StateSellLegSubmitted ExecutionState = "SellLegSubmitted"
	StateLoanRepaid       ExecutionState = "LoanRepaid"
	StateSettled          ExecutionState = "Settled"
	StateAborted          ExecutionState = "Aborted"
)

// Terminal reports whether no further transition is possible.
func (s ExecutionState) Terminal() bool {
	return s == StateSettled || s == StateAborted
}

var nextState = map[ExecutionState]ExecutionState{
	StateValidated:        StateLoanRequested,
	StateLoanRequested:    StateBuyLegSubmitted,
	StateBuyLegSubmitted:  StateSellLegSubmitted,
	StateSellLegSubmitted: StateLoanRepaid,
	StateLoanRepaid:       StateSettled,
}

// CanTransition reports whether from -> to is a legal edge. Aborted is
// reachable from every non-terminal state.
func CanTransition(from, to ExecutionState) bool {
	if from.Terminal() {
		return false
	}
	if to == StateAborted {
		return true
	}
	return nextState[from] == to
}

// Leg names used in failure reports.
const (
	LegLoan   = "loan"
	LegBuy    = "buy"
	LegSell   = "sell"
	LegRepay  = "repay"
	LegSettle = "settle"
)

// LegFill records one executed leg for the execution log.
type LegFill struct {
	Leg           string          `json:"leg"`
	Venue         VenueID         `json:"venue"`
	Side          OrderSide       `json:"side"`
	ExpectedPrice decimal.Decimal `json:"expected_price"`
	FilledPrice   decimal.Decimal `json:"filled_price"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	SlippageBps   decimal.Decimal `json:"slippage_bps"`
}

// ExecutionResult is the immutable outcome of one execution attempt.
type ExecutionResult struct {
	ID              string          `json:"id"`
	OpportunityID   string          `json:"opportunity_id"`
	UnitID          string          `json:"unit_id"`
	Asset           AssetID         `json:"asset"`
	BuyVenue        VenueID         `json:"venue_buy"`
	SellVenue       VenueID         `json:"venue_sell"`
	Success         bool            `json:"success"`
	FinalState      ExecutionState  `json:"final_state"`
	RealizedProfit  decimal.Decimal `json:"realized_profit"`
	EstimatedProfit decimal.Decimal `json:"estimated_profit"`
	Drift           decimal.Decimal `json:"drift"`
	LoanPrincipal   decimal.Decimal `json:"loan_principal"`
	LoanFee         decimal.Decimal `json:"loan_fee"`
	GasUsed         int64           `json:"gas_used"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	FailedLeg       string          `json:"failed_leg,omitempty"`
	FailedVenue     VenueID         `json:"failed_venue,omitempty"`
	Detail          string          `json:"detail,omitempty"`
	Legs            []LegFill       `json:"legs,omitempty"`
	ForcedClose     bool            `json:"forced_close,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
}

// ExposureDelta is the net inventory change implied by the filled legs:
// bought amount minus sold amount.
func (r ExecutionResult) ExposureDelta() decimal.Decimal {
	delta := decimal.Zero
	for _, l := range r.Legs {
		switch l.Side {
		case OrderSideBuy:
			delta = delta.Add(l.Amount)
		case OrderSideSell:
			delta = delta.Sub(l.Amount)
		}
	}
	return delta
}

// Intent is the durable record of an in-progress execution unit.
type Intent struct {
	UnitID        string          `json:"unit_id"`
	OpportunityID string          `json:"opportunity_id"`
	Asset         AssetID         `json:"asset"`
	Provider      string          `json:"provider"`
	State         ExecutionState  `json:"state"`
	Principal     decimal.Decimal `json:"principal"`
	Repayment     decimal.Decimal `json:"repayment"`
	Signature     string          `json:"signature"`
	Opportunity   Opportunity     `json:"opportunity"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

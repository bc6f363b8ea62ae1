package domain

import "time"

// EventType names a structured record emitted to the metrics sink.
type EventType string

const (
	EventOpportunityFound EventType = "OpportunityFound"
	EventRiskRejected     EventType = "RiskRejected"
	EventExecutionStarted EventType = "ExecutionStarted"
	EventStateChanged     EventType = "ExecutionStateChanged"
	EventExecutionResult  EventType = "ExecutionResult"
	EventForcedClose      EventType = "ForcedClose"
)

// Transition is one edge of the execution state machine.
type Transition struct {
	From   ExecutionState `json:"from"`
	To     ExecutionState `json:"to"`
	Reason string         `json:"reason,omitempty"`
}

// Event is a timestamped typed record. Exactly one payload field is set,
// matching Type.
type Event struct {
	Type          EventType        `json:"type"`
	Timestamp     time.Time        `json:"timestamp"`
	OpportunityID string           `json:"opportunity_id,omitempty"`
	UnitID        string           `json:"unit_id,omitempty"`
	Asset         AssetID          `json:"asset,omitempty"`
	Opportunity   *Opportunity     `json:"opportunity,omitempty"`
	Assessment    *Assessment      `json:"assessment,omitempty"`
	Transition    *Transition      `json:"transition,omitempty"`
	Result        *ExecutionResult `json:"result,omitempty"`
	ForcedClose   *ForcedClose     `json:"forced_close,omitempty"`
}

// NewOpportunityEvent builds an OpportunityFound record.
func NewOpportunityEvent(opp Opportunity, ts time.Time) Event {
	return Event{Type: EventOpportunityFound, Timestamp: ts, OpportunityID: opp.ID, Asset: opp.Asset, Opportunity: &opp}
}

// NewRejectedEvent builds a RiskRejected record.
func NewRejectedEvent(opp Opportunity, a Assessment, ts time.Time) Event {
	return Event{Type: EventRiskRejected, Timestamp: ts, OpportunityID: opp.ID, Asset: opp.Asset, Assessment: &a}
}

// NewStartedEvent builds an ExecutionStarted record.
func NewStartedEvent(opp Opportunity, unitID string, ts time.Time) Event {
	return Event{Type: EventExecutionStarted, Timestamp: ts, OpportunityID: opp.ID, UnitID: unitID, Asset: opp.Asset, Opportunity: &opp}
}

// NewTransitionEvent builds an ExecutionStateChanged record.
func NewTransitionEvent(oppID, unitID string, asset AssetID, t Transition, ts time.Time) Event {
	return Event{Type: EventStateChanged, Timestamp: ts, OpportunityID: oppID, UnitID: unitID, Asset: asset, Transition: &t}
}

// NewResultEvent builds an ExecutionResult record.
func NewResultEvent(r ExecutionResult, ts time.Time) Event {
	return Event{Type: EventExecutionResult, Timestamp: ts, OpportunityID: r.OpportunityID, UnitID: r.UnitID, Asset: r.Asset, Result: &r}
}

// NewForcedCloseEvent builds a ForcedClose record.
func NewForcedCloseEvent(fc ForcedClose, ts time.Time) Event {
	return Event{Type: EventForcedClose, Timestamp: ts, Asset: fc.Asset, ForcedClose: &fc}
}

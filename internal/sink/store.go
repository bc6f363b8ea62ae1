package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Store persists events: opportunities to the opportunity table, results to
// the append-only execution log, and rejections, forced closes and failed
// results to the audit log. Any of the stores may be nil.
type Store struct {
	opportunities domain.OpportunityStore
	executions    domain.ExecutionStore
	audit         domain.AuditStore
}

// NewStore creates a Store backend.
func NewStore(opps domain.OpportunityStore, execs domain.ExecutionStore, audit domain.AuditStore) *Store {
	return &Store{opportunities: opps, executions: execs, audit: audit}
}

func (s *Store) Name() string { return "store" }

func (s *Store) Write(ctx context.Context, ev domain.Event) error {
	switch ev.Type {
	case domain.EventOpportunityFound:
		if s.opportunities == nil || ev.Opportunity == nil {
			return nil
		}
		if err := s.opportunities.Insert(ctx, *ev.Opportunity); err != nil {
			return fmt.Errorf("sink: insert opportunity %s: %w", ev.OpportunityID, err)
		}
	case domain.EventRiskRejected:
		if ev.Assessment == nil {
			return nil
		}
		a := ev.Assessment
		return s.log(ctx, "risk_rejected", map[string]any{
			"opportunity_id": ev.OpportunityID,
			"asset":          string(ev.Asset),
			"reason":         a.Reason,
			"risk_score":     a.RiskScore,
			"factors":        a.Factors,
		})
	case domain.EventExecutionResult:
		if ev.Result == nil {
			return nil
		}
		return s.writeResult(ctx, *ev.Result)
	case domain.EventForcedClose:
		if ev.ForcedClose == nil {
			return nil
		}
		fc := ev.ForcedClose
		return s.log(ctx, "forced_close", map[string]any{
			"asset":      string(fc.Asset),
			"amount":     fc.Amount.String(),
			"mark_price": fc.MarkPrice.String(),
			"stop_loss":  fc.StopLoss.String(),
			"reason":     fc.Reason,
		})
	}
	return nil
}

func (s *Store) writeResult(ctx context.Context, r domain.ExecutionResult) error {
	var errs []error
	if s.executions != nil {
		if err := s.executions.Append(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("sink: append execution %s: %w", r.ID, err))
		}
	}
	if s.opportunities != nil && r.Success && r.OpportunityID != "" {
		err := s.opportunities.MarkExecuted(ctx, r.OpportunityID, r.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			errs = append(errs, fmt.Errorf("sink: mark opportunity %s: %w", r.OpportunityID, err))
		}
	}
	if !r.Success {
		if err := s.log(ctx, "execution_failed", map[string]any{
			"result_id":      r.ID,
			"opportunity_id": r.OpportunityID,
			"unit_id":        r.UnitID,
			"asset":          string(r.Asset),
			"reason":         r.FailureReason,
			"leg":            r.FailedLeg,
			"venue":          string(r.FailedVenue),
			"detail":         r.Detail,
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) log(ctx context.Context, event string, detail map[string]any) error {
	if s.audit == nil {
		return nil
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		return fmt.Errorf("sink: audit %s: %w", event, err)
	}
	return nil
}

var _ Backend = (*Store)(nil)

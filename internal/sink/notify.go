package sink

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Notifier is the subset of notify.Notifier used here.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Notify forwards results, rejections and forced closes to webhook
// notifiers. The event type is the notifier's filter key.
type Notify struct {
	n Notifier
}

// NewNotify creates a Notify backend.
func NewNotify(n Notifier) *Notify {
	return &Notify{n: n}
}

func (n *Notify) Name() string { return "notify" }

func (n *Notify) Write(ctx context.Context, ev domain.Event) error {
	title, msg, ok := render(ev)
	if !ok {
		return nil
	}
	return n.n.Notify(ctx, string(ev.Type), title, msg)
}

func render(ev domain.Event) (title, msg string, ok bool) {
	switch ev.Type {
	case domain.EventOpportunityFound:
		o := ev.Opportunity
		if o == nil {
			return "", "", false
		}
		return "Opportunity " + string(o.Asset),
			fmt.Sprintf("%s size %s est. profit %s confidence %.0f", o.Venues(), o.MaxSize, o.EstimatedProfit, o.ConfidenceScore), true
	case domain.EventRiskRejected:
		a := ev.Assessment
		if a == nil {
			return "", "", false
		}
		return "Rejected " + string(ev.Asset),
			fmt.Sprintf("%s score %.0f (%s)", a.Reason, a.RiskScore, a.Level), true
	case domain.EventExecutionResult:
		r := ev.Result
		if r == nil {
			return "", "", false
		}
		if r.Success {
			return "Settled " + string(r.Asset),
				fmt.Sprintf("%s->%s realized %s (drift %s) gas %d", r.BuyVenue, r.SellVenue, r.RealizedProfit, r.Drift, r.GasUsed), true
		}
		return "Failed " + string(r.Asset),
			fmt.Sprintf("%s leg=%s venue=%s %s", r.FailureReason, r.FailedLeg, r.FailedVenue, r.Detail), true
	case domain.EventForcedClose:
		fc := ev.ForcedClose
		if fc == nil {
			return "", "", false
		}
		return "Forced close " + string(fc.Asset),
			fmt.Sprintf("%s amount %s mark %s stop %s", fc.Reason, fc.Amount, fc.MarkPrice, fc.StopLoss), true
	}
	return "", "", false
}

var _ Backend = (*Notify)(nil)

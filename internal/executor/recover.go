package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/loan"
)

// RecoveryReport counts what Recover did.
type RecoveryReport struct {
	Settled int
	Aborted int
	Skipped int
}

// Recover resolves every intent left non-terminal by a previous process.
// Units the provider reports as settled are marked Settled; all others are
// aborted and marked Aborted. Positions are not changed since the fills of
// an interrupted unit are not known.
func (c *Coordinator) Recover(ctx context.Context, providers ...loan.Provider) (RecoveryReport, error) {
	var report RecoveryReport
	open, err := c.intents.ListOpen(ctx)
	if err != nil {
		return report, fmt.Errorf("executor: recover: %w", err)
	}
	if len(open) == 0 {
		return report, nil
	}

	byName := make(map[string]loan.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}

	for _, in := range open {
		log := c.logger.With(
			slog.String("unit_id", in.UnitID),
			slog.String("state", string(in.State)),
			slog.String("provider", in.Provider),
		)
		p, ok := byName[in.Provider]
		if !ok {
			log.WarnContext(ctx, "no provider for open intent")
			report.Skipped++
			continue
		}

		status, err := p.Status(ctx, in.UnitID)
		if err != nil {
			log.WarnContext(ctx, "unit status", slog.String("error", err.Error()))
			report.Skipped++
			continue
		}

		res := domain.ExecutionResult{
			ID:              uuid.NewString(),
			OpportunityID:   in.OpportunityID,
			UnitID:          in.UnitID,
			Asset:           in.Asset,
			BuyVenue:        in.Opportunity.BuyVenue,
			SellVenue:       in.Opportunity.SellVenue,
			EstimatedProfit: in.Opportunity.EstimatedProfit,
			RealizedProfit:  decimal.Zero,
			Drift:           decimal.Zero,
			LoanPrincipal:   in.Principal,
			LoanFee:         in.Repayment.Sub(in.Principal),
			StartedAt:       in.CreatedAt,
		}

		to := domain.StateAborted
		if status == loan.StatusSettled {
			to = domain.StateSettled
			res.Success = true
			res.Detail = "recovered: settled by provider, fills unknown"
		} else {
			if err := p.Abort(ctx, in.UnitID); err != nil {
				log.ErrorContext(ctx, "abort during recovery", slog.String("error", err.Error()))
				report.Skipped++
				continue
			}
			res.FailureReason = domain.ErrExecutionTimeout.Error()
			res.Detail = fmt.Sprintf("recovered: unit was %s at provider, aborted", status)
		}

		if err := c.intents.Transition(ctx, in.UnitID, in.State, to); err != nil {
			log.ErrorContext(ctx, "log recovery transition", slog.String("error", err.Error()))
			report.Skipped++
			continue
		}
		res.FinalState = to
		res.FinishedAt = c.now()
		c.emit(ctx, domain.NewTransitionEvent(in.OpportunityID, in.UnitID, in.Asset,
			domain.Transition{From: in.State, To: to, Reason: "Recovered"}, res.FinishedAt))
		c.emit(ctx, domain.NewResultEvent(res, res.FinishedAt))

		if to == domain.StateSettled {
			report.Settled++
		} else {
			report.Aborted++
		}
		log.InfoContext(ctx, "intent recovered", slog.String("to", string(to)))
	}
	return report, nil
}

package risk

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Factor weights added to the risk score when a check fails. Advisory
// factors raise the score without rejecting.
const (
	weightPosition    = 30
	weightExposure    = 30
	weightConfidence  = 25
	weightLiquidity   = 20
	weightSlippage    = 15
	weightConcurrency = 10
	weightDailyLoss   = 40
	weightCooldown    = 20
	weightExpired     = 40

	weightNearLimit   = 10
	weightCrossLedger = 10
)

// nearLimit is the fraction of a limit beyond which an advisory factor is
// recorded.
var nearLimit = decimal.NewFromFloat(0.8)

// Gate is the pure pre-trade check. It holds no state of its own.
type Gate struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewGate creates a risk gate.
func NewGate(logger *slog.Logger) *Gate {
	return &Gate{
		logger: logger.With(slog.String("component", "risk_gate")),
		now:    time.Now,
	}
}

type assessment struct {
	reason  string
	score   int
	factors []string
}

func (a *assessment) fail(reason string, weight int) {
	if a.reason == "" {
		a.reason = reason
	}
	a.score += weight
	a.factors = append(a.factors, reason)
}

func (a *assessment) advise(factor string, weight int) {
	a.score += weight
	a.factors = append(a.factors, factor)
}

// Assess checks opp against limits using the given book snapshot. Every
// check runs so the factors list is complete; the reason is the first
// failed check.
func (g *Gate) Assess(opp domain.Opportunity, limits domain.RiskLimits, snap Snapshot) domain.Assessment {
	now := g.now()
	var a assessment

	if !limits.PortfolioValue.IsPositive() {
		a.fail(domain.RejectInvalidSnapshot, 100)
	}
	if opp.Expired(now) {
		a.fail(domain.RejectExpired, weightExpired)
	}

	if opp.MaxSize.GreaterThan(limits.MaxPositionSize) {
		a.fail(domain.RejectPositionLimit, weightPosition)
	} else if limits.MaxPositionSize.IsPositive() && opp.MaxSize.GreaterThan(limits.MaxPositionSize.Mul(nearLimit)) {
		a.advise("NearPositionLimit", weightNearLimit)
	}

	if limits.PortfolioValue.IsPositive() {
		projected := snap.Position(opp.Asset).Notional().Add(opp.MaxSize.Mul(opp.BuyLimit))
		bps := domain.RatioBps(projected, limits.PortfolioValue)
		if bps.GreaterThan(decimal.NewFromInt(limits.MaxDrawdownBps)) {
			a.fail(domain.RejectExposureLimit, weightExposure)
		}
	}

	if opp.ConfidenceScore < limits.MinConfidence {
		a.fail(domain.RejectLowConfidence, weightConfidence)
	}
	if opp.Liquidity.LessThan(limits.MinLiquidity) {
		a.fail(domain.RejectLowLiquidity, weightLiquidity)
	}
	if snap.InFlight >= limits.MaxConcurrentTrades {
		a.fail(domain.RejectConcurrency, weightConcurrency)
	}
	if limits.MaxSlippageBps > 0 && opp.MaxSlippageBps().GreaterThan(decimal.NewFromInt(limits.MaxSlippageBps)) {
		a.fail(domain.RejectSlippage, weightSlippage)
	}
	if limits.MaxDailyLoss.IsPositive() && snap.DailyPnL.Neg().GreaterThanOrEqual(limits.MaxDailyLoss) {
		a.fail(domain.RejectDailyLoss, weightDailyLoss)
	}
	if limits.LossCooldown > 0 && !snap.LastLossAt.IsZero() && now.Sub(snap.LastLossAt) < limits.LossCooldown {
		a.fail(domain.RejectLossCooldown, weightCooldown)
	}
	if opp.CrossLedger {
		a.advise("CrossLedger", weightCrossLedger)
	}

	score := min(a.score, 100)
	out := domain.Assessment{
		OpportunityID: opp.ID,
		Approved:      a.reason == "",
		Reason:        a.reason,
		RiskScore:     float64(score),
		Level:         Level(float64(score)),
		Factors:       a.factors,
		Version:       snap.Version,
		AssessedAt:    now,
	}
	if !out.Approved {
		g.logger.Debug("opportunity rejected",
			slog.String("opportunity_id", opp.ID),
			slog.String("reason", out.Reason),
			slog.Any("factors", out.Factors),
		)
	}
	return out
}

// Level buckets a 0-100 risk score.
func Level(score float64) domain.RiskLevel {
	switch {
	case score >= 80:
		return domain.RiskCritical
	case score >= 60:
		return domain.RiskHigh
	case score >= 30:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

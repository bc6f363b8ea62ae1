package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLimits is the process-wide risk configuration. A snapshot is taken per
// evaluation and is never mutated mid-assessment.
type RiskLimits struct {
	MaxPositionSize     decimal.Decimal `json:"max_position_size"`
	MaxDrawdownBps      int64           `json:"max_drawdown_bps"`
	MaxSlippageBps      int64           `json:"max_slippage_bps"`
	MinLiquidity        decimal.Decimal `json:"min_liquidity"`
	MinConfidence       float64         `json:"min_confidence"`
	MaxConcurrentTrades int             `json:"max_concurrent_trades"`
	PortfolioValue      decimal.Decimal `json:"portfolio_value"`
	MaxDailyLoss        decimal.Decimal `json:"max_daily_loss"`
	LossCooldown        time.Duration   `json:"loss_cooldown"`
	StopLossBps         int64           `json:"stop_loss_bps"`
}

// RiskLevel buckets a risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rejection reasons reported by the risk gate.
const (
	RejectPositionLimit   = "PositionLimitExceeded"
	RejectExposureLimit   = "ExposureLimitExceeded"
	RejectLowConfidence   = "InsufficientConfidence"
	RejectLowLiquidity    = "InsufficientLiquidity"
	RejectConcurrency     = "MaxConcurrentTrades"
	RejectSlippage        = "SlippageTooHigh"
	RejectDailyLoss       = "DailyLossLimit"
	RejectLossCooldown    = "LossCooldown"
	RejectExpired         = "ExpiredOpportunity"
	RejectInvalidSnapshot = "InvalidPortfolio"
)

// Assessment is the risk gate's verdict on one opportunity.
type Assessment struct {
	OpportunityID string    `json:"opportunity_id"`
	Approved      bool      `json:"approved"`
	Reason        string    `json:"reason,omitempty"`
	RiskScore     float64   `json:"risk_score"`
	Level         RiskLevel `json:"level"`
	Factors       []string  `json:"factors,omitempty"`
	Version       uint64    `json:"snapshot_version"`
	AssessedAt    time.Time `json:"assessed_at"`
}

// ExposureReport summarises the current position book.
type ExposureReport struct {
	TotalExposure  decimal.Decimal `json:"total_exposure"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	MaxDrawdownBps decimal.Decimal `json:"max_drawdown_bps"`
	PositionCount  int             `json:"position_count"`
	DailyPnL       decimal.Decimal `json:"daily_pnl"`
	InFlight       int             `json:"in_flight"`
	Version        uint64          `json:"version"`
}

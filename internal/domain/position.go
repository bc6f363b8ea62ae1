package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the risk-tracking view of residual inventory in one asset.
// NetExposure is positive for long inventory and negative for short.
type Position struct {
	Asset         AssetID          `json:"asset"`
	NetExposure   decimal.Decimal  `json:"net_exposure"`
	EntryPrice    decimal.Decimal  `json:"entry_price"`
	MarkPrice     decimal.Decimal  `json:"mark_price"`
	UnrealizedPnL decimal.Decimal  `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal  `json:"realized_pnl"`
	StopLoss      *decimal.Decimal `json:"stop_loss,omitempty"`
	OpenedAt      time.Time        `json:"opened_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// IsFlat reports whether the position carries no inventory.
func (p Position) IsFlat() bool {
	return p.NetExposure.IsZero()
}

// Notional returns |NetExposure| * MarkPrice, falling back to EntryPrice when
// no mark has been observed.
func (p Position) Notional() decimal.Decimal {
	mark := p.MarkPrice
	if mark.IsZero() {
		mark = p.EntryPrice
	}
	return p.NetExposure.Abs().Mul(mark)
}

// ForcedClose instructs the coordinator to flatten a position whose stop-loss
// was breached.
type ForcedClose struct {
	Asset     AssetID         `json:"asset"`
	Amount    decimal.Decimal `json:"amount"` // signed exposure to unwind
	MarkPrice decimal.Decimal `json:"mark_price"`
	StopLoss  decimal.Decimal `json:"stop_loss"`
	Reason    string          `json:"reason"`
	IssuedAt  time.Time       `json:"issued_at"`
}

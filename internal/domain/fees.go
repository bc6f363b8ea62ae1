package domain

import "github.com/shopspring/decimal"

// FillStyle selects which fee rate a venue charges for our legs.
type FillStyle string

const (
	FillTaker FillStyle = "taker"
	FillMaker FillStyle = "maker"
)

// FeeSchedule is the fee configuration of one venue or loan provider. It is
// read-only for the duration of a scan or execution cycle.
type FeeSchedule struct {
	MakerBps        int64           `json:"maker_bps"`
	TakerBps        int64           `json:"taker_bps"`
	WithdrawalFee   decimal.Decimal `json:"withdrawal_fee"`
	FlashLoanFeeBps int64           `json:"flash_loan_fee_bps"`
	GasEstimate     decimal.Decimal `json:"gas_estimate"`
	CrossLedgerFee  decimal.Decimal `json:"cross_ledger_fee"`
	FillStyle       FillStyle       `json:"fill_style"`
}

// LegFee returns the fee charged on a leg of the given notional along with
// whether it counts as a maker fee.
func (f FeeSchedule) LegFee(notional decimal.Decimal) (fee decimal.Decimal, maker bool) {
	if f.FillStyle == FillMaker {
		return ApplyBps(notional, f.MakerBps), true
	}
	return ApplyBps(notional, f.TakerBps), false
}

// LoanFee returns principal * FlashLoanFeeBps / 10000.
func (f FeeSchedule) LoanFee(principal decimal.Decimal) decimal.Decimal {
	return ApplyBps(principal, f.FlashLoanFeeBps)
}

// FeeBreakdown itemises every cost deducted from an opportunity's gross
// profit.
type FeeBreakdown struct {
	Maker       decimal.Decimal `json:"maker"`
	Taker       decimal.Decimal `json:"taker"`
	FlashLoan   decimal.Decimal `json:"flash_loan"`
	Gas         decimal.Decimal `json:"gas"`
	Withdrawal  decimal.Decimal `json:"withdrawal"`
	CrossLedger decimal.Decimal `json:"cross_ledger"`
}

// Total sums all fee components.
func (f FeeBreakdown) Total() decimal.Decimal {
	return f.Maker.Add(f.Taker).Add(f.FlashLoan).Add(f.Gas).Add(f.Withdrawal).Add(f.CrossLedger)
}

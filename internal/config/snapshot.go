package config

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

func amount(f float64) decimal.Decimal {
	return domain.Quantize(decimal.NewFromFloat(f))
}

// RiskLimits converts the risk section into the domain snapshot.
func (c *Config) RiskLimits() domain.RiskLimits {
	r := c.Risk
	return domain.RiskLimits{
		MaxPositionSize:     amount(r.MaxPositionSize),
		MaxDrawdownBps:      r.MaxDrawdownBps,
		MaxSlippageBps:      r.MaxSlippageBps,
		MinLiquidity:        amount(r.MinLiquidity),
		MinConfidence:       r.MinConfidence,
		MaxConcurrentTrades: r.MaxConcurrentTrades,
		PortfolioValue:      amount(r.PortfolioValue),
		MaxDailyLoss:        amount(r.MaxDailyLoss),
		LossCooldown:        r.LossCooldown.Duration,
		StopLossBps:         r.StopLossBps,
	}
}

// FeeSchedule returns the venue's fee configuration.
func (v VenueConfig) FeeSchedule() domain.FeeSchedule {
	style := domain.FillTaker
	if v.FillStyle == string(domain.FillMaker) {
		style = domain.FillMaker
	}
	return domain.FeeSchedule{
		MakerBps:       v.MakerBps,
		TakerBps:       v.TakerBps,
		WithdrawalFee:  amount(v.WithdrawalFee),
		GasEstimate:    amount(v.GasEstimate),
		CrossLedgerFee: amount(v.CrossLedgerFee),
		FillStyle:      style,
	}
}

// FeeSchedule returns the loan provider's fee configuration.
func (l LoanConfig) FeeSchedule() domain.FeeSchedule {
	return domain.FeeSchedule{
		FlashLoanFeeBps: l.FeeBps,
		GasEstimate:     amount(l.GasEstimate),
	}
}

// VenueFees maps every enabled venue to its fee schedule.
func (c *Config) VenueFees() map[domain.VenueID]domain.FeeSchedule {
	out := make(map[domain.VenueID]domain.FeeSchedule, len(c.Venues))
	for _, v := range c.Venues {
		if v.Enabled {
			out[domain.VenueID(v.Name)] = v.FeeSchedule()
		}
	}
	return out
}

// EnabledVenues returns the names of enabled venues in config order.
func (c *Config) EnabledVenues() []domain.VenueID {
	out := make([]domain.VenueID, 0, len(c.Venues))
	for _, v := range c.Venues {
		if v.Enabled {
			out = append(out, domain.VenueID(v.Name))
		}
	}
	return out
}

// Assets returns the scanned asset universe.
func (c *Config) Assets() []domain.AssetID {
	out := make([]domain.AssetID, 0, len(c.Scanner.Assets))
	for _, a := range c.Scanner.Assets {
		out = append(out, domain.AssetID(a))
	}
	return out
}

// PairFor returns the trading pair for asset against the configured quote.
func (c *Config) PairFor(asset domain.AssetID) domain.Pair {
	return domain.Pair{Base: asset, Quote: domain.AssetID(c.Scanner.Quote)}
}

// MinProfit returns the scanner's minimum net profit.
func (c *Config) MinProfit() decimal.Decimal {
	return amount(c.Scanner.MinProfit)
}

// TradeSize returns the scanner's candidate trade size.
func (c *Config) TradeSize() decimal.Decimal {
	return amount(c.Scanner.TradeSize)
}

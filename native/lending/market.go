package lending

import "github.com/shopspring/decimal"

// Utilisation computes U = totalBorrowed / totalSupplied for a liquidity
// pool. When no liquidity exists the utilisation is defined as zero, and it
// never exceeds one.
func Utilisation(totalBorrowed, totalSupplied decimal.Decimal) decimal.Decimal {
	if totalBorrowed.Sign() <= 0 || totalSupplied.Sign() <= 0 {
		return decimal.Zero
	}
	return minDecimal(totalBorrowed.Div(totalSupplied), one)
}

// MarketStateFromPool builds the quoting snapshot from pool totals and an
// externally observed volatility factor.
func MarketStateFromPool(totalBorrowed, totalSupplied, volatility decimal.Decimal) MarketState {
	if volatility.Sign() < 0 {
		volatility = decimal.Zero
	}
	return MarketState{
		UtilizationRate:  RoundRatio(Utilisation(totalBorrowed, totalSupplied)),
		VolatilityFactor: volatility,
	}
}

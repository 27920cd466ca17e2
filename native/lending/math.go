package lending

import (
	"fmt"
	"math"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const (
	// RatePrecision is the number of decimal places used for reported rates.
	RatePrecision int32 = 2
	// RatioPrecision is the number of decimal places used for reported ratios,
	// one basis point of a unit ratio.
	RatioPrecision int32 = 4
	// TokenPrecision is the number of decimal places carried by token amounts.
	TokenPrecision int32 = 18

	secondsPerYear = 31_536_000
	secondsPerDay  = 86_400
)

var (
	hundred       = decimal.NewFromInt(100)
	basisPerRatio = decimal.NewFromInt(10_000)
	one           = decimal.NewFromInt(1)
	half          = decimal.NewFromFloat(0.5)
	weiPerToken   = decimal.New(1, TokenPrecision)
	maxWei        = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// RoundRate rounds a percentage to the reporting precision.
func RoundRate(pct decimal.Decimal) decimal.Decimal {
	return pct.Round(RatePrecision)
}

// RoundRatio rounds a unit ratio to basis-point precision.
func RoundRatio(ratio decimal.Decimal) decimal.Decimal {
	return ratio.Round(RatioPrecision)
}

// RoundAmount rounds a token amount to 18 decimal places.
func RoundAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(TokenPrecision)
}

// CheckAmount rejects token amounts that are not positive or that carry more
// than TokenPrecision decimal places.
func CheckAmount(field string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return invalid(field, "%s must be positive", amount)
	}
	if !amount.Equal(RoundAmount(amount)) {
		return invalid(field, "%s has more than %d decimal places", amount, TokenPrecision)
	}
	return nil
}

// ToBasisPoints converts a percentage into integer basis points, rounding to
// the nearest integer. 11.14 becomes 1114.
func ToBasisPoints(pct decimal.Decimal) int64 {
	return pct.Mul(hundred).Round(0).IntPart()
}

// FromBasisPoints converts basis points back into a percentage.
func FromBasisPoints(bps int64) decimal.Decimal {
	return decimal.New(bps, -2)
}

// RatioBasisPoints converts a unit ratio into basis points. A ratio of 2.0
// (200% coverage) becomes 20000.
func RatioBasisPoints(ratio decimal.Decimal) int64 {
	return ratio.Mul(basisPerRatio).Round(0).IntPart()
}

// PercentToFraction turns 5 (percent) into 0.05.
func PercentToFraction(pct decimal.Decimal) decimal.Decimal {
	return pct.Div(hundred)
}

// ToWei encodes a token amount with 18 decimals as an unsigned 256-bit integer
// for settlement. Fractions below one wei are truncated.
func ToWei(amount decimal.Decimal) (*uint256.Int, error) {
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("lending: negative amount %s cannot be encoded", amount)
	}
	scaled := amount.Mul(weiPerToken).Truncate(0).BigInt()
	if scaled.Cmp(maxWei) > 0 {
		return nil, fmt.Errorf("lending: amount %s overflows 256 bits", amount)
	}
	out, overflow := uint256.FromBig(scaled)
	if overflow {
		return nil, fmt.Errorf("lending: amount %s overflows 256 bits", amount)
	}
	return out, nil
}

// FromWei decodes a settlement integer back into a token amount.
func FromWei(wei *uint256.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei.ToBig(), -TokenPrecision)
}

// ln1p returns ln(1+x) through float64. Callers only use it for components
// that are rounded before being reported.
func ln1p(x decimal.Decimal) decimal.Decimal {
	f, _ := x.Float64()
	return decimal.NewFromFloat(math.Log1p(f))
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func clampDecimal(v, lo, hi decimal.Decimal) decimal.Decimal {
	return minDecimal(maxDecimal(v, lo), hi)
}

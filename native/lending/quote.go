package lending

import (
	"math"

	"github.com/shopspring/decimal"
)

var twelve = decimal.NewFromInt(12)

// ValidateTerms checks that terms can be priced under cfg.
func ValidateTerms(cfg *Config, terms LoanTerms) error {
	if terms.CreditScore < 0 || terms.CreditScore > 100 {
		return invalid("creditScore", "%d outside [0,100]", terms.CreditScore)
	}
	if err := CheckAmount("principal", terms.Principal); err != nil {
		return err
	}
	if terms.TermMonths <= 0 {
		return invalid("termMonths", "%d must be positive", terms.TermMonths)
	}
	if terms.CollateralRatio.Sign() <= 0 {
		return invalid("collateralRatio", "%s must be positive", terms.CollateralRatio)
	}
	if _, ok := cfg.ClassParams(terms.AssetClass); !ok {
		return invalid("assetClass", "unrecognized asset class %q", terms.AssetClass)
	}
	return nil
}

// ValidateMarket checks the market snapshot.
func ValidateMarket(market MarketState) error {
	if market.UtilizationRate.Sign() < 0 || market.UtilizationRate.GreaterThan(one) {
		return invalid("utilizationRate", "%s outside [0,1]", market.UtilizationRate)
	}
	if market.VolatilityFactor.Sign() < 0 {
		return invalid("volatilityFactor", "%s must be non-negative", market.VolatilityFactor)
	}
	return nil
}

// Quote prices terms under cfg for the given market snapshot. jitter is the
// market perturbation sample in [-1, 1]; it is scaled by the volatility
// factor and MaxPerturbation. Quote is pure: identical inputs give identical
// quotes.
func Quote(cfg *Config, terms LoanTerms, market MarketState, jitter float64) (RateQuote, error) {
	if cfg == nil {
		return RateQuote{}, errNilConfig
	}
	if err := ValidateTerms(cfg, terms); err != nil {
		return RateQuote{}, err
	}
	if err := ValidateMarket(market); err != nil {
		return RateQuote{}, err
	}
	if math.IsNaN(jitter) || math.IsInf(jitter, 0) {
		return RateQuote{}, invalid("jitter", "must be finite")
	}
	q := cfg.Quote

	normalized := minDecimal(decimal.NewFromInt(int64(terms.CreditScore)).Div(hundred), one)
	creditRisk := q.CreditCoefficient.Mul(one.Sub(normalized))
	termRisk := q.TermCoefficient.Mul(ln1p(decimal.NewFromInt(int64(terms.TermMonths)).Div(twelve)))
	marketComponent := q.MarketCoefficient.Mul(market.UtilizationRate)
	discount, err := CollateralDiscount(cfg, terms.CollateralRatio, terms.AssetClass)
	if err != nil {
		return RateQuote{}, err
	}
	size := SizeAdjustment(cfg, terms.Principal)

	raw := q.BaseRate.Add(creditRisk).Add(termRisk).Add(marketComponent).Sub(discount).Add(size)

	sample := clampDecimal(decimal.NewFromFloat(jitter), one.Neg(), one)
	perturbation := sample.Mul(market.VolatilityFactor).Mul(q.MaxPerturbation)

	final := RoundRate(clampDecimal(raw.Add(perturbation), q.MinRate, q.MaxRate))

	return RateQuote{
		BaseRate:           q.BaseRate,
		CreditRisk:         creditRisk,
		TermRisk:           termRisk,
		MarketComponent:    marketComponent,
		CollateralDiscount: discount,
		SizeAdjustment:     size,
		RawRate:            raw,
		Perturbation:       perturbation,
		FinalRate:          final,
		FinalRateBps:       ToBasisPoints(final),
	}, nil
}

// CollateralDiscount returns the tiered discount for a declared ratio. It is
// zero below MinCollateralRatio and non-decreasing above it.
func CollateralDiscount(cfg *Config, ratio decimal.Decimal, class AssetClass) (decimal.Decimal, error) {
	params, ok := cfg.ClassParams(class)
	if !ok {
		return decimal.Zero, invalid("assetClass", "unrecognized asset class %q", class)
	}
	q := cfg.Quote
	if ratio.LessThan(q.MinCollateralRatio) {
		return decimal.Zero, nil
	}
	base := q.CollateralCoefficient.Mul(half)
	excess := ratio.Sub(q.MinCollateralRatio)
	additional := minDecimal(q.CapAdditional, excess.Mul(q.ExcessMultiplier))
	riskFactor := maxDecimal(params.RiskFactor, q.MinRiskFactor)
	return base.Add(additional).Div(riskFactor), nil
}

// SizeAdjustment returns the adjustment of the largest tier whose MinAmount
// does not exceed principal.
func SizeAdjustment(cfg *Config, principal decimal.Decimal) decimal.Decimal {
	adjustment := decimal.Zero
	for _, tier := range cfg.Quote.SizeTiers {
		if principal.LessThan(tier.MinAmount) {
			break
		}
		adjustment = tier.Adjustment
	}
	return adjustment
}

// Reconcile recomputes the raw rate from the breakdown components.
func (q RateQuote) Reconcile() decimal.Decimal {
	return q.BaseRate.Add(q.CreditRisk).Add(q.TermRisk).Add(q.MarketComponent).Sub(q.CollateralDiscount).Add(q.SizeAdjustment)
}

// Quoter binds a rate regime to a jitter source for use at service
// boundaries.
type Quoter struct {
	cfg    *Config
	jitter JitterSource
}

// NewQuoter constructs a Quoter. A nil source disables perturbation.
func NewQuoter(cfg *Config, source JitterSource) *Quoter {
	if source == nil {
		source = ZeroJitter{}
	}
	return &Quoter{cfg: cfg, jitter: source}
}

// Quote prices terms drawing one jitter sample. Zero volatility never draws.
func (q *Quoter) Quote(terms LoanTerms, market MarketState) (RateQuote, error) {
	sample := 0.0
	if market.VolatilityFactor.Sign() > 0 {
		sample = q.jitter.Jitter()
	}
	return Quote(q.cfg, terms, market, sample)
}

// Config returns the regime the quoter prices with.
func (q *Quoter) Config() *Config { return q.cfg }

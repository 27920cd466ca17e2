package lending

import (
	"errors"

	"github.com/shopspring/decimal"
)

// HealthStatus classifies a health factor into display bands.
type HealthStatus string

const (
	HealthExcellent HealthStatus = "excellent"
	HealthGood      HealthStatus = "good"
	HealthWarning   HealthStatus = "warning"
	HealthDanger    HealthStatus = "danger"
)

// AssetValuation is the contribution of one aggregated asset.
type AssetValuation struct {
	AssetID   string          `json:"assetId"`
	Class     AssetClass      `json:"assetClass"`
	Amount    decimal.Decimal `json:"amount"`
	UnitPrice decimal.Decimal `json:"unitPriceUsd"`
	ValueUSD  decimal.Decimal `json:"valueUsd"`
	// Priced is false when the lookup failed and the value was zeroed.
	Priced bool   `json:"priced"`
	Reason string `json:"reason,omitempty"`
}

// HealthReport is the result of evaluating a collateral position.
type HealthReport struct {
	CollateralValueUSD   decimal.Decimal  `json:"collateralValueUsd"`
	LoanValueUSD         decimal.Decimal  `json:"loanValueUsd"`
	Ratio                decimal.Decimal  `json:"ratio"`
	RatioBps             int64            `json:"ratioBps"`
	LiquidationThreshold decimal.Decimal  `json:"liquidationThreshold"`
	HealthFactor         decimal.Decimal  `json:"healthFactor"`
	HealthFactorBps      int64            `json:"healthFactorBps"`
	Status               HealthStatus     `json:"status"`
	Liquidatable         bool             `json:"liquidatable"`
	Partial              bool             `json:"partial"`
	MissingAssets        []string         `json:"missingAssets,omitempty"`
	Assets               []AssetValuation `json:"assets"`
}

// Evaluate values the position at the prices returned by lookup and derives
// its collateral ratio and health. Assets whose price cannot be resolved
// contribute zero and mark the report partial; Evaluate only fails when the
// loan has no positive value.
func Evaluate(cfg *Config, position *CollateralPosition, loanValueUSD decimal.Decimal, prices PriceLookup) (HealthReport, error) {
	if cfg == nil {
		return HealthReport{}, errNilConfig
	}
	if loanValueUSD.Sign() <= 0 {
		return HealthReport{}, stateErr("evaluate", ErrDivisionByZero, "loan value %s must be positive", loanValueUSD)
	}

	report := HealthReport{LoanValueUSD: loanValueUSD}
	total := decimal.Zero
	weighted := decimal.Zero
	fallbackThreshold := decimal.Zero

	for _, holding := range position.Holdings() {
		valuation := AssetValuation{AssetID: holding.AssetID, Class: holding.Class, Amount: holding.Amount}
		threshold := classThreshold(cfg, holding.Class)
		fallbackThreshold = maxDecimal(fallbackThreshold, threshold)

		price, err := lookupPrice(prices, holding.AssetID)
		if err != nil {
			valuation.Reason = err.Error()
			report.Partial = true
			report.MissingAssets = append(report.MissingAssets, holding.AssetID)
			report.Assets = append(report.Assets, valuation)
			continue
		}
		valuation.UnitPrice = price
		valuation.ValueUSD = holding.Amount.Mul(price)
		valuation.Priced = true
		report.Assets = append(report.Assets, valuation)

		total = total.Add(valuation.ValueUSD)
		weighted = weighted.Add(valuation.ValueUSD.Mul(threshold))
	}

	threshold := fallbackThreshold
	if total.Sign() > 0 {
		threshold = weighted.Div(total)
	}
	if threshold.Sign() <= 0 {
		threshold = maxConfiguredThreshold(cfg)
	}

	ratio := total.Div(loanValueUSD)
	healthFactor := ratio.Div(threshold)

	report.CollateralValueUSD = RoundAmount(total)
	report.Ratio = RoundRatio(ratio)
	report.RatioBps = RatioBasisPoints(ratio)
	report.LiquidationThreshold = RoundRatio(threshold)
	report.HealthFactor = RoundRatio(healthFactor)
	report.HealthFactorBps = RatioBasisPoints(healthFactor)
	report.Status = Classify(cfg, report.HealthFactor)
	report.Liquidatable = report.HealthFactor.LessThan(one)
	return report, nil
}

// Classify maps a health factor onto the configured bands.
func Classify(cfg *Config, healthFactor decimal.Decimal) HealthStatus {
	h := cfg.Health
	switch {
	case healthFactor.GreaterThanOrEqual(h.ExcellentAt):
		return HealthExcellent
	case healthFactor.GreaterThanOrEqual(h.GoodAt):
		return HealthGood
	case healthFactor.GreaterThanOrEqual(h.WarningAt):
		return HealthWarning
	default:
		return HealthDanger
	}
}

func lookupPrice(prices PriceLookup, assetID string) (decimal.Decimal, error) {
	if prices == nil {
		return decimal.Zero, ErrPriceUnavailable
	}
	price, err := prices.UnitPriceUSD(assetID)
	if err != nil {
		return decimal.Zero, err
	}
	if price.Sign() <= 0 {
		return decimal.Zero, errors.Join(ErrPriceUnavailable, invalid("price", "%s for %s must be positive", price, assetID))
	}
	return price, nil
}

// classThreshold returns the class threshold, or the most conservative
// configured threshold for classes the regime does not know.
func classThreshold(cfg *Config, class AssetClass) decimal.Decimal {
	if params, ok := cfg.ClassParams(class); ok {
		return params.LiquidationThreshold
	}
	return maxConfiguredThreshold(cfg)
}

func maxConfiguredThreshold(cfg *Config) decimal.Decimal {
	threshold := decimal.Zero
	for _, params := range cfg.AssetClasses {
		threshold = maxDecimal(threshold, params.LiquidationThreshold)
	}
	if threshold.Sign() <= 0 {
		return one
	}
	return threshold
}

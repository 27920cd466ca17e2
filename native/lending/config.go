package lending

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

// AssetClass identifies a collateral risk tier.
type AssetClass string

const (
	AssetClassNative   AssetClass = "native"
	AssetClassStable   AssetClass = "stable"
	AssetClassWrapped  AssetClass = "wrapped"
	AssetClassVolatile AssetClass = "volatile"
)

// Config captures one rate regime. It is built once at startup and passed by
// pointer into every engine call; engines never mutate it.
type Config struct {
	Quote        QuoteConfig                     `toml:"quote"`
	Health       HealthConfig                    `toml:"health"`
	Repayment    RepaymentConfig                 `toml:"repayment"`
	AssetClasses map[AssetClass]AssetClassParams `toml:"asset_classes"`
}

// QuoteConfig holds the coefficients of the rate formula. Rates are expressed
// in percent (8 means 8% APR).
type QuoteConfig struct {
	BaseRate              decimal.Decimal `toml:"BaseRate"`
	CreditCoefficient     decimal.Decimal `toml:"CreditCoefficient"`
	TermCoefficient       decimal.Decimal `toml:"TermCoefficient"`
	MarketCoefficient     decimal.Decimal `toml:"MarketCoefficient"`
	CollateralCoefficient decimal.Decimal `toml:"CollateralCoefficient"`
	MinRate               decimal.Decimal `toml:"MinRate"`
	MaxRate               decimal.Decimal `toml:"MaxRate"`
	// MinCollateralRatio is the declared ratio below which no discount applies.
	MinCollateralRatio decimal.Decimal `toml:"MinCollateralRatio"`
	ExcessMultiplier   decimal.Decimal `toml:"ExcessMultiplier"`
	CapAdditional      decimal.Decimal `toml:"CapAdditional"`
	// MaxPerturbation bounds the volatility jitter, in percent per unit of
	// volatility factor.
	MaxPerturbation decimal.Decimal `toml:"MaxPerturbation"`
	MinRiskFactor   decimal.Decimal `toml:"MinRiskFactor"`
	SizeTiers       []SizeTier      `toml:"size_tiers"`
}

// SizeTier adjusts the rate for principals at or above MinAmount.
type SizeTier struct {
	MinAmount  decimal.Decimal `toml:"MinAmount"`
	Adjustment decimal.Decimal `toml:"Adjustment"`
}

// AssetClassParams are the per-class risk parameters.
type AssetClassParams struct {
	// RiskFactor divides the collateral discount; below 1 enlarges it.
	RiskFactor decimal.Decimal `toml:"RiskFactor"`
	// LiquidationThreshold divides the collateral ratio to obtain the health
	// factor.
	LiquidationThreshold decimal.Decimal `toml:"LiquidationThreshold"`
}

// HealthConfig holds the classification bands for health factors.
type HealthConfig struct {
	ExcellentAt decimal.Decimal `toml:"ExcellentAt"`
	GoodAt      decimal.Decimal `toml:"GoodAt"`
	WarningAt   decimal.Decimal `toml:"WarningAt"`
	// WithdrawFloor is the minimum health factor a collateral withdrawal may
	// leave behind.
	WithdrawFloor decimal.Decimal `toml:"WithdrawFloor"`
}

// RepaymentConfig holds the schedule and payment parameters.
type RepaymentConfig struct {
	EarlyDiscountRate        decimal.Decimal `toml:"EarlyDiscountRate"`
	MinimumPrincipalFraction decimal.Decimal `toml:"MinimumPrincipalFraction"`
	PaymentIntervalDays      int             `toml:"PaymentIntervalDays"`
	MaxOverdueDays           int             `toml:"MaxOverdueDays"`
}

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

// DefaultConfig returns the canonical rate regime.
func DefaultConfig() *Config {
	return &Config{
		Quote: QuoteConfig{
			BaseRate:              d("8"),
			CreditCoefficient:     d("15"),
			TermCoefficient:       d("2"),
			MarketCoefficient:     d("5"),
			CollateralCoefficient: d("3"),
			MinRate:               d("2"),
			MaxRate:               d("50"),
			MinCollateralRatio:    d("1.5"),
			ExcessMultiplier:      d("6"),
			CapAdditional:         d("3"),
			MaxPerturbation:       d("0.5"),
			MinRiskFactor:         d("0.5"),
			SizeTiers: []SizeTier{
				{MinAmount: d("0"), Adjustment: d("0.5")},
				{MinAmount: d("1000"), Adjustment: d("0")},
				{MinAmount: d("5000"), Adjustment: d("-0.25")},
				{MinAmount: d("10000"), Adjustment: d("-0.5")},
			},
		},
		Health: HealthConfig{
			ExcellentAt:   d("2.0"),
			GoodAt:        d("1.5"),
			WarningAt:     d("1.2"),
			WithdrawFloor: d("1.2"),
		},
		Repayment: RepaymentConfig{
			EarlyDiscountRate:        d("0.05"),
			MinimumPrincipalFraction: d("0.10"),
			PaymentIntervalDays:      30,
			MaxOverdueDays:           90,
		},
		AssetClasses: map[AssetClass]AssetClassParams{
			AssetClassNative:   {RiskFactor: d("1.0"), LiquidationThreshold: d("0.8")},
			AssetClassStable:   {RiskFactor: d("0.8"), LiquidationThreshold: d("0.9")},
			AssetClassWrapped:  {RiskFactor: d("1.1"), LiquidationThreshold: d("0.8")},
			AssetClassVolatile: {RiskFactor: d("1.25"), LiquidationThreshold: d("0.7")},
		},
	}
}

// LoadConfig decodes a TOML rate regime. Keys missing from the file keep the
// values of DefaultConfig; asset classes and size tiers, when present,
// replace the defaults wholesale.
func LoadConfig(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("lending: config path required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lending: read config: %w", err)
	}
	return ParseConfig(string(raw))
}

// ParseConfig decodes a TOML document into a validated Config.
func ParseConfig(doc string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Quote.SizeTiers = nil
	cfg.AssetClasses = nil
	meta, err := toml.Decode(doc, cfg)
	if err != nil {
		return nil, fmt.Errorf("lending: decode config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("lending: unknown config key %q", undecoded[0].String())
	}
	defaults := DefaultConfig()
	if len(cfg.Quote.SizeTiers) == 0 {
		cfg.Quote.SizeTiers = defaults.Quote.SizeTiers
	}
	if len(cfg.AssetClasses) == 0 {
		cfg.AssetClasses = defaults.AssetClasses
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	sort.SliceStable(c.Quote.SizeTiers, func(i, j int) bool {
		return c.Quote.SizeTiers[i].MinAmount.LessThan(c.Quote.SizeTiers[j].MinAmount)
	})
	if len(c.AssetClasses) == 0 {
		return
	}
	normalized := make(map[AssetClass]AssetClassParams, len(c.AssetClasses))
	for class, params := range c.AssetClasses {
		normalized[AssetClass(strings.ToLower(strings.TrimSpace(string(class))))] = params
	}
	c.AssetClasses = normalized
}

// Validate checks the internal consistency of the regime.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("lending: config missing")
	}
	q := c.Quote
	for name, v := range map[string]decimal.Decimal{
		"BaseRate":              q.BaseRate,
		"CreditCoefficient":     q.CreditCoefficient,
		"TermCoefficient":       q.TermCoefficient,
		"MarketCoefficient":     q.MarketCoefficient,
		"CollateralCoefficient": q.CollateralCoefficient,
		"ExcessMultiplier":      q.ExcessMultiplier,
		"CapAdditional":         q.CapAdditional,
		"MaxPerturbation":       q.MaxPerturbation,
		"MinRate":               q.MinRate,
	} {
		if v.Sign() < 0 {
			return fmt.Errorf("lending: quote.%s must be non-negative, got %s", name, v)
		}
	}
	if !q.MaxRate.GreaterThan(q.MinRate) {
		return fmt.Errorf("lending: quote.MaxRate %s must exceed MinRate %s", q.MaxRate, q.MinRate)
	}
	if q.MinCollateralRatio.Sign() <= 0 {
		return fmt.Errorf("lending: quote.MinCollateralRatio must be positive")
	}
	if q.MinRiskFactor.Sign() <= 0 {
		return fmt.Errorf("lending: quote.MinRiskFactor must be positive")
	}
	if len(q.SizeTiers) == 0 || q.SizeTiers[0].MinAmount.Sign() != 0 {
		return fmt.Errorf("lending: quote.size_tiers must start at MinAmount 0")
	}
	for i := 1; i < len(q.SizeTiers); i++ {
		if q.SizeTiers[i].MinAmount.Equal(q.SizeTiers[i-1].MinAmount) {
			return fmt.Errorf("lending: duplicate size tier at %s", q.SizeTiers[i].MinAmount)
		}
	}
	if len(c.AssetClasses) == 0 {
		return fmt.Errorf("lending: at least one asset class required")
	}
	for class, params := range c.AssetClasses {
		if class == "" {
			return fmt.Errorf("lending: asset class name required")
		}
		if params.RiskFactor.LessThan(q.MinRiskFactor) {
			return fmt.Errorf("lending: asset class %s risk factor %s below minimum %s", class, params.RiskFactor, q.MinRiskFactor)
		}
		if params.LiquidationThreshold.Sign() <= 0 || params.LiquidationThreshold.GreaterThan(one) {
			return fmt.Errorf("lending: asset class %s liquidation threshold %s outside (0,1]", class, params.LiquidationThreshold)
		}
	}
	h := c.Health
	if !(h.ExcellentAt.GreaterThan(h.GoodAt) && h.GoodAt.GreaterThan(h.WarningAt) && h.WarningAt.Sign() > 0) {
		return fmt.Errorf("lending: health bands must be strictly descending and positive")
	}
	if h.WithdrawFloor.Sign() <= 0 {
		return fmt.Errorf("lending: health.WithdrawFloor must be positive")
	}
	r := c.Repayment
	if r.EarlyDiscountRate.Sign() < 0 || !r.EarlyDiscountRate.LessThan(one) {
		return fmt.Errorf("lending: repayment.EarlyDiscountRate must be in [0,1)")
	}
	if r.MinimumPrincipalFraction.Sign() < 0 || r.MinimumPrincipalFraction.GreaterThan(one) {
		return fmt.Errorf("lending: repayment.MinimumPrincipalFraction must be in [0,1]")
	}
	if r.PaymentIntervalDays <= 0 {
		return fmt.Errorf("lending: repayment.PaymentIntervalDays must be positive")
	}
	if r.MaxOverdueDays <= 0 {
		return fmt.Errorf("lending: repayment.MaxOverdueDays must be positive")
	}
	return nil
}

// ClassParams looks up the parameters of an asset class.
func (c *Config) ClassParams(class AssetClass) (AssetClassParams, bool) {
	if c == nil {
		return AssetClassParams{}, false
	}
	params, ok := c.AssetClasses[class]
	return params, ok
}

// Classes returns the configured asset classes in sorted order.
func (c *Config) Classes() []AssetClass {
	out := make([]AssetClass, 0, len(c.AssetClasses))
	for class := range c.AssetClasses {
		out = append(out, class)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

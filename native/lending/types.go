package lending

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LoanTerms are the borrower's proposed terms. They are immutable once a
// quote has been accepted.
type LoanTerms struct {
	// CreditScore is the borrower credit score in [0,100].
	CreditScore int `json:"creditScore"`
	// Principal is the requested amount denominated in the loan token.
	Principal decimal.Decimal `json:"principal"`
	// TermMonths is the loan duration.
	TermMonths int `json:"termMonths"`
	// CollateralRatio is the declared collateral value divided by loan value.
	CollateralRatio decimal.Decimal `json:"collateralRatio"`
	// AssetClass is the risk tier of the pledged collateral.
	AssetClass AssetClass `json:"assetClass"`
}

// MarketState is the caller supplied market snapshot used when quoting.
type MarketState struct {
	UtilizationRate  decimal.Decimal `json:"utilizationRate"`
	VolatilityFactor decimal.Decimal `json:"volatilityFactor"`
}

// RateQuote is the result of pricing a set of terms. All rate components are
// expressed in percent.
type RateQuote struct {
	BaseRate           decimal.Decimal `json:"baseRate"`
	CreditRisk         decimal.Decimal `json:"creditRisk"`
	TermRisk           decimal.Decimal `json:"termRisk"`
	MarketComponent    decimal.Decimal `json:"marketComponent"`
	CollateralDiscount decimal.Decimal `json:"collateralDiscount"`
	SizeAdjustment     decimal.Decimal `json:"sizeAdjustment"`
	// RawRate is the component sum before perturbation and bounding.
	RawRate      decimal.Decimal `json:"rawRate"`
	Perturbation decimal.Decimal `json:"perturbation"`
	FinalRate    decimal.Decimal `json:"finalRate"`
	FinalRateBps int64           `json:"finalRateBps"`
}

// Deposit is a single collateral deposit. The same asset may be deposited
// several times.
type Deposit struct {
	AssetID string          `json:"assetId"`
	Class   AssetClass      `json:"assetClass"`
	Amount  decimal.Decimal `json:"amount"`
}

// CollateralPosition is the multiset of deposits securing a funded loan.
type CollateralPosition struct {
	LoanID   string    `json:"loanId"`
	Deposits []Deposit `json:"deposits"`
}

// AssetHolding is the aggregated amount held for one asset.
type AssetHolding struct {
	AssetID string
	Class   AssetClass
	Amount  decimal.Decimal
}

// Clone returns a deep copy of the position.
func (p *CollateralPosition) Clone() *CollateralPosition {
	if p == nil {
		return nil
	}
	clone := &CollateralPosition{LoanID: p.LoanID}
	if p.Deposits != nil {
		clone.Deposits = append([]Deposit(nil), p.Deposits...)
	}
	return clone
}

// NormalizeAssetID returns the canonical spelling of an asset identifier:
// trimmed and upper case.
func NormalizeAssetID(assetID string) string {
	return strings.ToUpper(strings.TrimSpace(assetID))
}

// Holdings aggregates deposits by canonical asset identifier. Repeated deposits add up;
// the result is sorted by asset identifier so evaluation is independent of
// deposit order. The class of the first deposit of an asset wins.
func (p *CollateralPosition) Holdings() []AssetHolding {
	if p == nil {
		return nil
	}
	index := make(map[string]int, len(p.Deposits))
	holdings := make([]AssetHolding, 0, len(p.Deposits))
	for _, dep := range p.Deposits {
		id := NormalizeAssetID(dep.AssetID)
		if i, ok := index[id]; ok {
			holdings[i].Amount = holdings[i].Amount.Add(dep.Amount)
			continue
		}
		index[id] = len(holdings)
		holdings = append(holdings, AssetHolding{AssetID: id, Class: dep.Class, Amount: dep.Amount})
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].AssetID < holdings[j].AssetID })
	return holdings
}

// AccountStatus is the lifecycle state of a repayment account.
type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusPaidOff   AccountStatus = "paid_off"
	StatusDefaulted AccountStatus = "defaulted"
)

// Terminal reports whether no further transitions are possible.
func (s AccountStatus) Terminal() bool {
	return s == StatusPaidOff || s == StatusDefaulted
}

// RepaymentAccount tracks what a borrower owes on a funded loan.
type RepaymentAccount struct {
	LoanID             string          `json:"loanId"`
	PrincipalRemaining decimal.Decimal `json:"principalRemaining"`
	// InterestAccrued is the interest accrued up to LastPaymentAt.
	InterestAccrued decimal.Decimal `json:"interestAccrued"`
	// RateBps is the fixed annual rate quoted at funding.
	RateBps         int64         `json:"rateBps"`
	FundedAt        time.Time     `json:"fundedAt"`
	LastPaymentAt   time.Time     `json:"lastPaymentAt"`
	NextDueAt       time.Time     `json:"nextDueAt"`
	MaturityAt      time.Time     `json:"maturityAt"`
	PaymentInterval time.Duration `json:"paymentInterval"`
	Status          AccountStatus `json:"status"`
	// DiscountForgiven records the early settlement discount, if any.
	DiscountForgiven decimal.Decimal `json:"discountForgiven"`
	DefaultedAt      time.Time       `json:"defaultedAt,omitempty"`
}

// Clone returns a copy of the account. decimal.Decimal values are immutable
// so a shallow copy is sufficient.
func (a *RepaymentAccount) Clone() *RepaymentAccount {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// PriceLookup resolves the current USD price of one unit of an asset. Stale
// or missing quotes are reported as errors.
type PriceLookup interface {
	UnitPriceUSD(assetID string) (decimal.Decimal, error)
}

// PriceTable is a fixed set of prices, typically a snapshot taken once for a
// batch of evaluations.
type PriceTable map[string]decimal.Decimal

// UnitPriceUSD implements PriceLookup.
func (t PriceTable) UnitPriceUSD(assetID string) (decimal.Decimal, error) {
	if price, ok := t[assetID]; ok {
		return price, nil
	}
	if price, ok := t[NormalizeAssetID(assetID)]; ok {
		return price, nil
	}
	return decimal.Zero, ErrPriceUnavailable
}

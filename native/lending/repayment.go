package lending

import (
	"time"

	"github.com/shopspring/decimal"
)

var yearSeconds = decimal.NewFromInt(secondsPerYear)

// Owed is a read-time projection of an account's debt.
type Owed struct {
	PrincipalRemaining decimal.Decimal `json:"principalRemaining"`
	InterestAccrued    decimal.Decimal `json:"interestAccrued"`
	TotalOwed          decimal.Decimal `json:"totalOwed"`
}

// RepaymentPlan lists the payment amounts available at a point in time.
type RepaymentPlan struct {
	TotalOwed      decimal.Decimal `json:"totalOwed"`
	FullAmount     decimal.Decimal `json:"fullAmount"`
	MinimumPayment decimal.Decimal `json:"minimumPayment"`
	EarlyDiscount  decimal.Decimal `json:"earlyDiscount"`
	// EarlyEligible is true when FullAmount carries the early discount.
	EarlyEligible bool `json:"earlyEligible"`
}

// OverdueStatus reports whether the next due date has passed.
type OverdueStatus struct {
	Overdue     bool `json:"overdue"`
	DaysOverdue int  `json:"daysOverdue"`
}

// PaymentResult is the outcome of ApplyPayment.
type PaymentResult struct {
	Account          *RepaymentAccount
	InterestPortion  decimal.Decimal
	PrincipalPortion decimal.Decimal
	// MetMinimum is true when the payment covered the minimum payment due and
	// therefore advanced the due date.
	MetMinimum bool
}

// NewAccount opens the repayment account of a freshly funded loan.
func NewAccount(cfg *Config, loanID string, principal decimal.Decimal, rateBps int64, termMonths int, fundedAt time.Time) (*RepaymentAccount, error) {
	if cfg == nil {
		return nil, errNilConfig
	}
	if loanID == "" {
		return nil, invalid("loanId", "required")
	}
	if err := CheckAmount("principal", principal); err != nil {
		return nil, err
	}
	if rateBps < 0 {
		return nil, invalid("rateBps", "%d must be non-negative", rateBps)
	}
	if termMonths <= 0 {
		return nil, invalid("termMonths", "%d must be positive", termMonths)
	}
	fundedAt = fundedAt.UTC()
	interval := paymentInterval(cfg)
	maturity := fundedAt.AddDate(0, termMonths, 0)
	nextDue := fundedAt.Add(interval)
	if nextDue.After(maturity) {
		nextDue = maturity
	}
	return &RepaymentAccount{
		LoanID:             loanID,
		PrincipalRemaining: RoundAmount(principal),
		InterestAccrued:    decimal.Zero,
		RateBps:            rateBps,
		FundedAt:           fundedAt,
		LastPaymentAt:      fundedAt,
		NextDueAt:          nextDue,
		MaturityAt:         maturity,
		PaymentInterval:    interval,
		Status:             StatusActive,
		DiscountForgiven:   decimal.Zero,
	}, nil
}

// ProjectOwed accrues simple interest on the remaining principal from the
// last payment to now. It never mutates the account. Accrual stops at the
// default time of a defaulted account.
func ProjectOwed(account *RepaymentAccount, now time.Time) Owed {
	if account == nil {
		return Owed{}
	}
	end := now
	if account.Status == StatusDefaulted && !account.DefaultedAt.IsZero() && account.DefaultedAt.Before(end) {
		end = account.DefaultedAt
	}
	interest := account.InterestAccrued
	elapsed := int64(end.Sub(account.LastPaymentAt) / time.Second)
	if elapsed > 0 && account.PrincipalRemaining.Sign() > 0 && account.RateBps > 0 {
		rate := PercentToFraction(FromBasisPoints(account.RateBps))
		accrued := account.PrincipalRemaining.Mul(rate).Mul(decimal.NewFromInt(elapsed)).Div(yearSeconds)
		interest = interest.Add(accrued)
	}
	interest = RoundAmount(interest)
	return Owed{
		PrincipalRemaining: account.PrincipalRemaining,
		InterestAccrued:    interest,
		TotalOwed:          account.PrincipalRemaining.Add(interest),
	}
}

// IsOverdue reports whether now is past the next due date, with the number
// of whole days elapsed since it.
func IsOverdue(account *RepaymentAccount, now time.Time) OverdueStatus {
	if account == nil || account.Status == StatusPaidOff {
		return OverdueStatus{}
	}
	if !now.After(account.NextDueAt) {
		return OverdueStatus{}
	}
	seconds := int64(now.Sub(account.NextDueAt) / time.Second)
	return OverdueStatus{Overdue: true, DaysOverdue: int(seconds / secondsPerDay)}
}

// ComputeRepaymentPlan derives the full, minimum and early-discounted amounts.
func ComputeRepaymentPlan(cfg *Config, account *RepaymentAccount, now time.Time) RepaymentPlan {
	owed := ProjectOwed(account, now)
	plan := RepaymentPlan{
		TotalOwed:     owed.TotalOwed,
		FullAmount:    owed.TotalOwed,
		EarlyDiscount: decimal.Zero,
	}
	if account == nil || cfg == nil {
		plan.MinimumPayment = owed.TotalOwed
		return plan
	}
	r := cfg.Repayment
	if account.Status == StatusActive && now.Before(account.MaturityAt) && !IsOverdue(account, now).Overdue {
		plan.EarlyDiscount = RoundAmount(owed.TotalOwed.Mul(r.EarlyDiscountRate))
		plan.FullAmount = owed.TotalOwed.Sub(plan.EarlyDiscount)
		plan.EarlyEligible = plan.EarlyDiscount.Sign() > 0
	}
	minimum := RoundAmount(owed.InterestAccrued.Add(owed.PrincipalRemaining.Mul(r.MinimumPrincipalFraction)))
	plan.MinimumPayment = minDecimal(minimum, owed.TotalOwed)
	return plan
}

// ApplyPayment applies amount to the account at now, interest first. It
// returns an updated copy; the input account is not modified.
func ApplyPayment(cfg *Config, account *RepaymentAccount, amount decimal.Decimal, now time.Time) (PaymentResult, error) {
	if cfg == nil {
		return PaymentResult{}, errNilConfig
	}
	if account == nil {
		return PaymentResult{}, invalid("account", "required")
	}
	if err := CheckAmount("amount", amount); err != nil {
		return PaymentResult{}, err
	}
	if account.Status.Terminal() {
		return PaymentResult{}, stateErr("payment", ErrTerminalAccount, "account %s is %s", account.LoanID, account.Status)
	}
	if now.Before(account.LastPaymentAt) {
		return PaymentResult{}, invalid("timestamp", "%s precedes last payment %s", now.UTC().Format(time.RFC3339), account.LastPaymentAt.UTC().Format(time.RFC3339))
	}

	plan := ComputeRepaymentPlan(cfg, account, now)
	owed := ProjectOwed(account, now)
	if amount.GreaterThan(owed.TotalOwed) {
		return PaymentResult{}, stateErr("payment", ErrOverpayment, "amount %s exceeds total owed %s by %s", amount, owed.TotalOwed, amount.Sub(owed.TotalOwed))
	}

	interestPortion := minDecimal(amount, owed.InterestAccrued)
	principalPortion := amount.Sub(interestPortion)

	next := account.Clone()
	next.InterestAccrued = owed.InterestAccrued.Sub(interestPortion)
	next.PrincipalRemaining = owed.PrincipalRemaining.Sub(principalPortion)
	next.LastPaymentAt = now.UTC()

	metMinimum := amount.GreaterThanOrEqual(plan.MinimumPayment)
	if metMinimum {
		next.NextDueAt = advanceDue(next, now)
	}
	if next.PrincipalRemaining.Sign() == 0 {
		next.Status = StatusPaidOff
	}
	return PaymentResult{
		Account:          next,
		InterestPortion:  interestPortion,
		PrincipalPortion: principalPortion,
		MetMinimum:       metMinimum,
	}, nil
}

// SettleEarly pays off an account with the early-discounted full amount. The
// amount must match the plan exactly; the discount is recorded as forgiven.
func SettleEarly(cfg *Config, account *RepaymentAccount, amount decimal.Decimal, now time.Time) (*RepaymentAccount, error) {
	if cfg == nil {
		return nil, errNilConfig
	}
	if account == nil {
		return nil, invalid("account", "required")
	}
	if err := CheckAmount("amount", amount); err != nil {
		return nil, err
	}
	if account.Status.Terminal() {
		return nil, stateErr("settlement", ErrTerminalAccount, "account %s is %s", account.LoanID, account.Status)
	}
	if now.Before(account.LastPaymentAt) {
		return nil, invalid("timestamp", "%s precedes last payment", now.UTC().Format(time.RFC3339))
	}
	plan := ComputeRepaymentPlan(cfg, account, now)
	if !plan.EarlyEligible {
		return nil, stateErr("settlement", nil, "early discount requires an account that is neither overdue nor past maturity")
	}
	if !amount.Equal(plan.FullAmount) {
		return nil, stateErr("settlement", nil, "amount %s differs from discounted payoff %s", amount, plan.FullAmount)
	}
	next := account.Clone()
	next.PrincipalRemaining = decimal.Zero
	next.InterestAccrued = decimal.Zero
	next.DiscountForgiven = plan.EarlyDiscount
	next.LastPaymentAt = now.UTC()
	next.Status = StatusPaidOff
	return next, nil
}

// MarkDefaulted transitions an active account to Defaulted. The account must
// be overdue by more than MaxOverdueDays and the caller must confirm that the
// position is eligible for liquidation.
func MarkDefaulted(cfg *Config, account *RepaymentAccount, now time.Time, liquidationEligible bool) (*RepaymentAccount, error) {
	if cfg == nil {
		return nil, errNilConfig
	}
	if account == nil {
		return nil, invalid("account", "required")
	}
	if account.Status.Terminal() {
		return nil, stateErr("default", ErrTerminalAccount, "account %s is %s", account.LoanID, account.Status)
	}
	overdue := IsOverdue(account, now)
	if overdue.DaysOverdue <= cfg.Repayment.MaxOverdueDays {
		return nil, stateErr("default", nil, "account %s is %d days overdue, threshold is more than %d", account.LoanID, overdue.DaysOverdue, cfg.Repayment.MaxOverdueDays)
	}
	if !liquidationEligible {
		return nil, stateErr("default", nil, "account %s is not eligible for liquidation", account.LoanID)
	}
	next := account.Clone()
	next.Status = StatusDefaulted
	next.DefaultedAt = now.UTC()
	return next, nil
}

func advanceDue(account *RepaymentAccount, now time.Time) time.Time {
	interval := account.PaymentInterval
	if interval <= 0 {
		interval = 30 * 24 * time.Hour
	}
	next := now.UTC().Add(interval)
	if account.MaturityAt.After(now) && next.After(account.MaturityAt) {
		next = account.MaturityAt
	}
	return next
}

func paymentInterval(cfg *Config) time.Duration {
	return time.Duration(cfg.Repayment.PaymentIntervalDays) * 24 * time.Hour
}

package engine

import (
	"time"

	"lendrisk/native/lending"
)

// LoanStatus is the orchestration lifecycle of a loan.
type LoanStatus string

const (
	LoanQuoted    LoanStatus = "quoted"
	LoanFunded    LoanStatus = "funded"
	LoanPaidOff   LoanStatus = "paid_off"
	LoanDefaulted LoanStatus = "defaulted"
	LoanArchived  LoanStatus = "archived"
)

// Terminal reports whether the loan can no longer change except by archiving.
func (s LoanStatus) Terminal() bool {
	return s == LoanPaidOff || s == LoanDefaulted || s == LoanArchived
}

// Loan is the orchestration record tying a borrower to accepted terms and the
// quote they were priced at.
type Loan struct {
	ID        string              `json:"id"`
	Borrower  string              `json:"borrower"`
	Terms     lending.LoanTerms   `json:"terms"`
	Market    lending.MarketState `json:"market"`
	Quote     lending.RateQuote   `json:"quote"`
	Status    LoanStatus          `json:"status"`
	CreatedAt time.Time           `json:"createdAt"`
	FundedAt  time.Time           `json:"fundedAt,omitempty"`
	ClosedAt  time.Time           `json:"closedAt,omitempty"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// Clone returns a copy of the loan record.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	return &clone
}

// LoanState groups every record keyed by a loan id. Account and Position are
// nil until the loan is funded and again after it is archived.
type LoanState struct {
	Loan     *Loan                       `json:"loan"`
	Account  *lending.RepaymentAccount   `json:"account,omitempty"`
	Position *lending.CollateralPosition `json:"position,omitempty"`
}

// Clone returns a deep copy of the state.
func (s *LoanState) Clone() *LoanState {
	if s == nil {
		return nil
	}
	return &LoanState{
		Loan:     s.Loan.Clone(),
		Account:  s.Account.Clone(),
		Position: s.Position.Clone(),
	}
}

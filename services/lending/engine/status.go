package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"lendrisk/native/lending"
)

// StatusView is the read model of a loan at a point in time. Debt figures
// are projections; nothing is written when a status is read.
type StatusView struct {
	Loan        *Loan                       `json:"loan"`
	AsOf        time.Time                   `json:"asOf"`
	RateBps     int64                       `json:"rateBps"`
	Account     *lending.RepaymentAccount   `json:"account,omitempty"`
	Position    *lending.CollateralPosition `json:"position,omitempty"`
	Owed        *lending.Owed               `json:"owed,omitempty"`
	Plan        *lending.RepaymentPlan      `json:"plan,omitempty"`
	Overdue     *lending.OverdueStatus      `json:"overdue,omitempty"`
	Health      *lending.HealthReport       `json:"health,omitempty"`
	HealthError string                      `json:"healthError,omitempty"`
	Settlement  *SettlementView             `json:"settlement,omitempty"`
}

// SettlementView encodes the payable amounts as 18-decimal integers for
// on-chain settlement.
type SettlementView struct {
	PrincipalWei      string `json:"principalWei"`
	InterestWei       string `json:"interestWei"`
	TotalOwedWei      string `json:"totalOwedWei"`
	FullAmountWei     string `json:"fullAmountWei"`
	MinimumPaymentWei string `json:"minimumPaymentWei"`
}

// Status assembles the read model of a loan. Collateral health is evaluated
// only while the account is active; pricing gaps are reported on the view
// rather than failing the read.
func (s *Service) Status(ctx context.Context, loanID string) (*StatusView, error) {
	loanID, err := loanKey(loanID)
	if err != nil {
		return nil, err
	}
	state, err := s.store.Load(ctx, loanID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	view := &StatusView{
		Loan:     state.Loan,
		AsOf:     now,
		RateBps:  state.Loan.Quote.FinalRateBps,
		Account:  state.Account,
		Position: state.Position,
	}
	if state.Account == nil {
		return view, nil
	}
	owed := lending.ProjectOwed(state.Account, now)
	plan := lending.ComputeRepaymentPlan(s.cfg, state.Account, now)
	overdue := lending.IsOverdue(state.Account, now)
	view.Owed = &owed
	view.Plan = &plan
	view.Overdue = &overdue

	settlement, err := settlementView(owed, plan)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	view.Settlement = settlement

	if state.Account.Status == lending.StatusActive && state.Position != nil {
		report, err := s.evaluate(state, now, s.prices.Snapshot(now))
		if err != nil {
			view.HealthError = err.Error()
		} else {
			view.Health = &report
		}
	}
	return view, nil
}

func settlementView(owed lending.Owed, plan lending.RepaymentPlan) (*SettlementView, error) {
	amounts := []decimal.Decimal{owed.PrincipalRemaining, owed.InterestAccrued, owed.TotalOwed, plan.FullAmount, plan.MinimumPayment}
	encoded := make([]string, len(amounts))
	for i, amount := range amounts {
		wei, err := lending.ToWei(amount)
		if err != nil {
			return nil, err
		}
		encoded[i] = wei.Dec()
	}
	return &SettlementView{
		PrincipalWei:      encoded[0],
		InterestWei:       encoded[1],
		TotalOwedWei:      encoded[2],
		FullAmountWei:     encoded[3],
		MinimumPaymentWei: encoded[4],
	}, nil
}

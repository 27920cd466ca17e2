package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"lendrisk/native/lending"
)

// PaymentReceipt describes an applied payment.
type PaymentReceipt struct {
	LoanID           string                    `json:"loanId"`
	Amount           decimal.Decimal           `json:"amount"`
	InterestPortion  decimal.Decimal           `json:"interestPortion"`
	PrincipalPortion decimal.Decimal           `json:"principalPortion"`
	MetMinimum       bool                      `json:"metMinimum"`
	LoanStatus       LoanStatus                `json:"loanStatus"`
	Account          *lending.RepaymentAccount `json:"account"`
}

// ApplyPayment applies amount to the loan's repayment account at the current
// time. Paying the account off closes the loan.
func (s *Service) ApplyPayment(ctx context.Context, loanID string, amount decimal.Decimal) (PaymentReceipt, error) {
	var receipt PaymentReceipt
	_, err := s.mutate(ctx, loanID, func(state *LoanState, now time.Time) error {
		if err := requireAccount(state); err != nil {
			return err
		}
		result, err := lending.ApplyPayment(s.cfg, state.Account, amount, now)
		if err != nil {
			s.metrics.ObservePayment("rejected")
			return err
		}
		state.Account = result.Account
		outcome := "partial"
		if result.MetMinimum {
			outcome = "minimum_met"
		}
		if result.Account.Status == lending.StatusPaidOff {
			outcome = "paid_off"
			s.close(state, LoanPaidOff, now)
		}
		s.metrics.ObservePayment(outcome)
		receipt = PaymentReceipt{
			LoanID:           state.Loan.ID,
			Amount:           amount,
			InterestPortion:  result.InterestPortion,
			PrincipalPortion: result.PrincipalPortion,
			MetMinimum:       result.MetMinimum,
			LoanStatus:       state.Loan.Status,
			Account:          result.Account.Clone(),
		}
		s.logger.Info("payment applied",
			slog.String("loan_id", state.Loan.ID),
			slog.String("amount", amount.String()),
			slog.String("outcome", outcome),
			slog.String("principal_remaining", result.Account.PrincipalRemaining.String()))
		return nil
	})
	if err != nil {
		return PaymentReceipt{}, err
	}
	return receipt, nil
}

// SettleEarly pays the loan off at the early-discounted amount.
func (s *Service) SettleEarly(ctx context.Context, loanID string, amount decimal.Decimal) (*LoanState, error) {
	return s.mutate(ctx, loanID, func(state *LoanState, now time.Time) error {
		if err := requireAccount(state); err != nil {
			return err
		}
		next, err := lending.SettleEarly(s.cfg, state.Account, amount, now)
		if err != nil {
			s.metrics.ObservePayment("rejected")
			return err
		}
		state.Account = next
		s.close(state, LoanPaidOff, now)
		s.metrics.ObservePayment("settled_early")
		s.logger.Info("loan settled early",
			slog.String("loan_id", state.Loan.ID),
			slog.String("amount", amount.String()),
			slog.String("discount_forgiven", next.DiscountForgiven.String()))
		return nil
	})
}

// MarkDefaulted defaults a loan that is overdue beyond the configured limit
// and whose collateral no longer covers the liquidation threshold.
func (s *Service) MarkDefaulted(ctx context.Context, loanID string) (*LoanState, error) {
	return s.mutate(ctx, loanID, func(state *LoanState, now time.Time) error {
		if err := requireAccount(state); err != nil {
			return err
		}
		_, err := s.defaultIfEligible(state, now, s.prices.Snapshot(now))
		return err
	})
}

// defaultIfEligible evaluates the position and transitions the account to
// defaulted. It returns the health report used for the decision.
func (s *Service) defaultIfEligible(state *LoanState, now time.Time, prices lending.PriceLookup) (lending.HealthReport, error) {
	report, evalErr := s.evaluate(state, now, prices)
	gap := pricingGap(report, evalErr)
	if evalErr != nil && gap == nil {
		return report, evalErr
	}
	account := state.Account
	overdue := lending.IsOverdue(account, now)
	if gap != nil && !account.Status.Terminal() && overdue.DaysOverdue > s.cfg.Repayment.MaxOverdueDays {
		return report, fmt.Errorf("cannot confirm liquidation eligibility of %s: %w", state.Loan.ID, gap)
	}
	eligible := gap == nil && report.Liquidatable
	next, err := lending.MarkDefaulted(s.cfg, account, now, eligible)
	if err != nil {
		return report, err
	}
	state.Account = next
	s.close(state, LoanDefaulted, now)
	s.logger.Warn("loan defaulted",
		slog.String("loan_id", state.Loan.ID),
		slog.Int("days_overdue", overdue.DaysOverdue),
		slog.String("health_factor", report.HealthFactor.String()))
	return report, nil
}

// ArchiveLoan retires a terminal loan, or a quote that was never funded, and
// deletes its repayment account and collateral position.
func (s *Service) ArchiveLoan(ctx context.Context, loanID string) (*Loan, error) {
	loanID, err := loanKey(loanID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(loanID)
	defer unlock()

	state, err := s.store.Load(ctx, loanID)
	if err != nil {
		return nil, err
	}
	loan := state.Loan
	switch loan.Status {
	case LoanPaidOff, LoanDefaulted, LoanQuoted:
	default:
		return nil, fmt.Errorf("%w: loan %s is %s and cannot be archived", ErrConflict, loan.ID, loan.Status)
	}
	now := s.now()
	if loan.ClosedAt.IsZero() {
		loan.ClosedAt = now
	}
	loan.Status = LoanArchived
	loan.UpdatedAt = now
	if err := s.store.Archive(ctx, loan); err != nil {
		return nil, fmt.Errorf("lending: archive loan %s: %w", loan.ID, err)
	}
	s.metrics.ObserveTransition(string(LoanArchived))
	s.logger.Info("loan archived", slog.String("loan_id", loan.ID))
	return loan.Clone(), nil
}

func (s *Service) close(state *LoanState, status LoanStatus, now time.Time) {
	state.Loan.Status = status
	state.Loan.ClosedAt = now
	s.metrics.ObserveTransition(string(status))
}

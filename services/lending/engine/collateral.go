package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"lendrisk/native/lending"
)

// DepositCollateral adds a deposit to the position of an active loan.
func (s *Service) DepositCollateral(ctx context.Context, loanID string, deposit lending.Deposit) (*LoanState, error) {
	clean, err := s.validateDeposit(deposit)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, loanID, func(state *LoanState, now time.Time) error {
		if err := requireFunded(state); err != nil {
			return err
		}
		state.Position.Deposits = append(state.Position.Deposits, clean)
		s.logger.Info("collateral deposited",
			slog.String("loan_id", state.Loan.ID),
			slog.String("asset", clean.AssetID),
			slog.String("amount", clean.Amount.String()))
		return nil
	})
}

// WithdrawCollateral removes amount of assetID from the position of an active
// loan. The withdrawal is refused when any asset cannot be priced or when the
// resulting health factor falls below the configured withdraw floor.
func (s *Service) WithdrawCollateral(ctx context.Context, loanID, assetID string, amount decimal.Decimal) (*LoanState, error) {
	assetID = lending.NormalizeAssetID(assetID)
	if assetID == "" {
		return nil, &lending.ValidationError{Field: "assetId", Reason: "required"}
	}
	if err := lending.CheckAmount("amount", amount); err != nil {
		return nil, err
	}
	return s.mutate(ctx, loanID, func(state *LoanState, now time.Time) error {
		if err := requireFunded(state); err != nil {
			return err
		}
		next, err := withdrawFrom(state.Position, assetID, amount)
		if err != nil {
			return err
		}
		candidate := &LoanState{Loan: state.Loan, Account: state.Account, Position: next}
		report, err := s.evaluate(candidate, now, s.prices.Snapshot(now))
		if gap := pricingGap(report, err); gap != nil {
			return gap
		}
		if err != nil {
			return err
		}
		floor := s.cfg.Health.WithdrawFloor
		if report.HealthFactor.LessThan(floor) {
			return fmt.Errorf("%w: withdrawal leaves health factor %s below floor %s", ErrInsufficientCollateral, report.HealthFactor, floor)
		}
		state.Position = next
		s.logger.Info("collateral withdrawn",
			slog.String("loan_id", state.Loan.ID),
			slog.String("asset", assetID),
			slog.String("amount", amount.String()),
			slog.String("health_factor", report.HealthFactor.String()))
		return nil
	})
}

// withdrawFrom rebuilds the deposits from aggregated holdings with amount
// removed from assetID. Holdings that reach zero are dropped.
func withdrawFrom(position *lending.CollateralPosition, assetID string, amount decimal.Decimal) (*lending.CollateralPosition, error) {
	holdings := position.Holdings()
	next := &lending.CollateralPosition{LoanID: position.LoanID, Deposits: make([]lending.Deposit, 0, len(holdings))}
	found := false
	for _, holding := range holdings {
		remaining := holding.Amount
		if holding.AssetID == assetID {
			found = true
			if amount.GreaterThan(holding.Amount) {
				return nil, fmt.Errorf("%w: %s holds %s of %s, requested %s", ErrInsufficientCollateral, position.LoanID, holding.Amount, assetID, amount)
			}
			remaining = holding.Amount.Sub(amount)
		}
		if remaining.Sign() == 0 {
			continue
		}
		next.Deposits = append(next.Deposits, lending.Deposit{AssetID: holding.AssetID, Class: holding.Class, Amount: remaining})
	}
	if !found {
		return nil, fmt.Errorf("%w: %s holds no %s", ErrInsufficientCollateral, position.LoanID, assetID)
	}
	return next, nil
}

package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"lendrisk/native/lending"
)

// SweepReport summarises one overdue sweep.
type SweepReport struct {
	Scanned   int      `json:"scanned"`
	Active    int      `json:"active"`
	Overdue   int      `json:"overdue"`
	Defaulted []string `json:"defaulted,omitempty"`
	// Unpriced lists loans past the overdue limit whose eligibility could not
	// be confirmed because of missing prices.
	Unpriced []string `json:"unpriced,omitempty"`
	Failed   int      `json:"failed"`
}

// Sweep classifies every funded loan against a single price snapshot and
// defaults those overdue beyond the limit whose positions are liquidatable.
// Failures on individual loans are logged and counted; the sweep continues.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	started := time.Now()
	var report SweepReport
	ids, err := s.store.ListFunded(ctx)
	if err != nil {
		return report, err
	}
	now := s.now()
	prices := s.prices.Snapshot(now)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		if err := s.sweepOne(ctx, id, now, prices, &report); err != nil {
			report.Failed++
			s.logger.Error("sweep loan failed", slog.String("loan_id", id), slog.Any("error", err))
		}
	}
	s.metrics.ObserveSweep(report.Active, report.Overdue, len(report.Defaulted), time.Since(started))
	s.logger.Info("overdue sweep complete",
		slog.Int("scanned", report.Scanned),
		slog.Int("overdue", report.Overdue),
		slog.Int("defaulted", len(report.Defaulted)),
		slog.Int("unpriced", len(report.Unpriced)),
		slog.Int("failed", report.Failed))
	return report, nil
}

func (s *Service) sweepOne(ctx context.Context, loanID string, now time.Time, prices lending.PriceLookup, report *SweepReport) error {
	unlock := s.locks.Lock(loanID)
	defer unlock()

	state, err := s.store.Load(ctx, loanID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if requireFunded(state) != nil || state.Account.Status != lending.StatusActive {
		return nil
	}
	report.Active++
	overdue := lending.IsOverdue(state.Account, now)
	if !overdue.Overdue {
		return nil
	}
	report.Overdue++
	if overdue.DaysOverdue <= s.cfg.Repayment.MaxOverdueDays {
		return nil
	}
	health, err := s.defaultIfEligible(state, now, prices)
	switch {
	case errors.Is(err, ErrPartialPricing):
		report.Unpriced = append(report.Unpriced, loanID)
		return nil
	case lending.IsState(err):
		s.logger.Info("overdue loan not liquidatable",
			slog.String("loan_id", loanID),
			slog.Int("days_overdue", overdue.DaysOverdue),
			slog.String("health_factor", health.HealthFactor.String()))
		return nil
	case err != nil:
		return err
	}
	state.Loan.UpdatedAt = now
	if err := s.store.Save(ctx, state); err != nil {
		return err
	}
	report.Defaulted = append(report.Defaulted, loanID)
	return nil
}

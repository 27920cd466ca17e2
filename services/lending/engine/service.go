package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"lendrisk/native/lending"
	"lendrisk/observability/logging"
	"lendrisk/observability/metrics"
)

// PriceSource hands out point-in-time price views. Every evaluation uses a
// single snapshot so all assets are valued at the same instant.
type PriceSource interface {
	Snapshot(now time.Time) lending.PriceLookup
}

// StaticPrices is a PriceSource that always returns the same table.
type StaticPrices lending.PriceTable

// Snapshot implements PriceSource.
func (p StaticPrices) Snapshot(time.Time) lending.PriceLookup {
	return lending.PriceTable(p)
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Clock   func() time.Time
	Logger  *slog.Logger
	Jitter  lending.JitterSource
	Metrics *metrics.LendingMetrics
	NewID   func() string
	// LoanAsset is the asset identifier used to price the loan token. Empty
	// means loans are denominated in USD.
	LoanAsset string
}

// CreateLoanRequest carries the inputs of CreateLoan.
type CreateLoanRequest struct {
	Borrower string              `json:"borrower"`
	Terms    lending.LoanTerms   `json:"terms"`
	Market   lending.MarketState `json:"market"`
}

// Service orchestrates quoting, funding, collateral and repayment for loans.
// Mutations of one loan are serialised; different loans proceed in parallel.
type Service struct {
	cfg       *lending.Config
	quoter    *lending.Quoter
	store     Store
	prices    PriceSource
	locks     *keyedMutex
	clock     func() time.Time
	logger    *slog.Logger
	metrics   *metrics.LendingMetrics
	newID     func() string
	loanAsset string
}

// New constructs a Service. cfg and store are required; a nil price source
// values every asset as unavailable.
func New(cfg *lending.Config, store Store, prices PriceSource, opts Options) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("lending: rate regime required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("lending: store required")
	}
	if prices == nil {
		prices = StaticPrices{}
	}
	svc := &Service{
		cfg:       cfg,
		quoter:    lending.NewQuoter(cfg, opts.Jitter),
		store:     store,
		prices:    prices,
		locks:     newKeyedMutex(),
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		newID:     opts.NewID,
		loanAsset: lending.NormalizeAssetID(opts.LoanAsset),
	}
	if svc.clock == nil {
		svc.clock = time.Now
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.newID == nil {
		svc.newID = uuid.NewString
	}
	return svc, nil
}

// Config returns the rate regime the service was built with.
func (s *Service) Config() *lending.Config { return s.cfg }

func (s *Service) now() time.Time { return s.clock().UTC() }

// Quote prices terms without creating a loan.
func (s *Service) Quote(ctx context.Context, terms lending.LoanTerms, market lending.MarketState) (lending.RateQuote, error) {
	if err := ctx.Err(); err != nil {
		return lending.RateQuote{}, err
	}
	quote, err := s.quoter.Quote(terms, market)
	rate, _ := quote.FinalRate.Float64()
	s.metrics.ObserveQuote(string(terms.AssetClass), rate, err)
	if err != nil {
		return lending.RateQuote{}, err
	}
	return quote, nil
}

// CreateLoan quotes the requested terms and records the loan in the quoted
// state. The quote is fixed from this point on.
func (s *Service) CreateLoan(ctx context.Context, req CreateLoanRequest) (*Loan, error) {
	borrower, err := normalizeBorrower(req.Borrower)
	if err != nil {
		return nil, err
	}
	quote, err := s.Quote(ctx, req.Terms, req.Market)
	if err != nil {
		return nil, err
	}
	now := s.now()
	loan := &Loan{
		ID:        s.newID(),
		Borrower:  borrower,
		Terms:     req.Terms,
		Market:    req.Market,
		Quote:     quote,
		Status:    LoanQuoted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	unlock := s.locks.Lock(loan.ID)
	defer unlock()
	if err := s.store.Save(ctx, &LoanState{Loan: loan}); err != nil {
		return nil, fmt.Errorf("lending: save loan %s: %w", loan.ID, err)
	}
	s.metrics.ObserveTransition(string(LoanQuoted))
	s.logger.Info("loan quoted",
		slog.String("loan_id", loan.ID),
		logging.MaskField("borrower", loan.Borrower),
		slog.String("rate", quote.FinalRate.String()),
		slog.Int64("rate_bps", quote.FinalRateBps))
	return loan.Clone(), nil
}

// FundLoan opens the repayment account at the quoted rate and records the
// initial collateral position.
func (s *Service) FundLoan(ctx context.Context, loanID string, deposits []lending.Deposit) (*LoanState, error) {
	if len(deposits) == 0 {
		return nil, &lending.ValidationError{Field: "collateral", Reason: "at least one deposit required"}
	}
	normalized := make([]lending.Deposit, 0, len(deposits))
	for _, dep := range deposits {
		clean, err := s.validateDeposit(dep)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, clean)
	}
	return s.mutate(ctx, loanID, func(state *LoanState, now time.Time) error {
		loan := state.Loan
		if loan.Status != LoanQuoted {
			return fmt.Errorf("%w: loan %s is %s, funding requires %s", ErrConflict, loan.ID, loan.Status, LoanQuoted)
		}
		account, err := lending.NewAccount(s.cfg, loan.ID, loan.Terms.Principal, loan.Quote.FinalRateBps, loan.Terms.TermMonths, now)
		if err != nil {
			return err
		}
		state.Account = account
		state.Position = &lending.CollateralPosition{LoanID: loan.ID, Deposits: normalized}
		loan.Status = LoanFunded
		loan.FundedAt = now
		s.metrics.ObserveTransition(string(LoanFunded))
		s.logger.Info("loan funded",
			slog.String("loan_id", loan.ID),
			slog.Int("deposits", len(normalized)),
			slog.Time("maturity", account.MaturityAt))
		return nil
	})
}

// mutate loads the state of a loan under its lock, applies fn and persists
// the result.
func (s *Service) mutate(ctx context.Context, loanID string, fn func(state *LoanState, now time.Time) error) (*LoanState, error) {
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
	now := s.now()
	if err := fn(state, now); err != nil {
		return nil, err
	}
	state.Loan.UpdatedAt = now
	if err := s.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("lending: save loan %s: %w", loanID, err)
	}
	return state.Clone(), nil
}

// loanKey trims a loan identifier and rejects an empty one.
func loanKey(loanID string) (string, error) {
	loanID = strings.TrimSpace(loanID)
	if loanID == "" {
		return "", &lending.ValidationError{Field: "loanId", Reason: "required"}
	}
	return loanID, nil
}

func (s *Service) validateDeposit(dep lending.Deposit) (lending.Deposit, error) {
	dep.AssetID = lending.NormalizeAssetID(dep.AssetID)
	dep.Class = lending.AssetClass(strings.ToLower(strings.TrimSpace(string(dep.Class))))
	if dep.AssetID == "" {
		return dep, &lending.ValidationError{Field: "assetId", Reason: "required"}
	}
	if err := lending.CheckAmount("amount", dep.Amount); err != nil {
		return dep, err
	}
	if _, ok := s.cfg.ClassParams(dep.Class); !ok {
		return dep, &lending.ValidationError{Field: "assetClass", Reason: fmt.Sprintf("unrecognized asset class %q", dep.Class)}
	}
	return dep, nil
}

func normalizeBorrower(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return "", fmt.Errorf("%w: %q is not a 20-byte hex address", ErrInvalidBorrower, raw)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return "", fmt.Errorf("%w: zero address", ErrInvalidBorrower)
	}
	return addr.Hex(), nil
}

func requireFunded(state *LoanState) error {
	if state.Loan.Status != LoanFunded || state.Account == nil || state.Position == nil {
		return fmt.Errorf("%w: loan %s is %s, operation requires %s", ErrConflict, state.Loan.ID, state.Loan.Status, LoanFunded)
	}
	return nil
}

func requireAccount(state *LoanState) error {
	if state.Account == nil {
		return fmt.Errorf("%w: loan %s is %s and has no repayment account", ErrConflict, state.Loan.ID, state.Loan.Status)
	}
	return nil
}

// evaluate values the position against the debt projected to now, using a
// single price snapshot. Unpriced collateral yields a partial report; an
// unpriced loan asset yields ErrPartialPricing.
func (s *Service) evaluate(state *LoanState, now time.Time, prices lending.PriceLookup) (lending.HealthReport, error) {
	owed := lending.ProjectOwed(state.Account, now)
	loanValue, err := s.loanValueUSD(owed.TotalOwed, prices)
	if err != nil {
		return lending.HealthReport{}, err
	}
	report, err := lending.Evaluate(s.cfg, state.Position, loanValue, prices)
	if err != nil {
		return lending.HealthReport{}, err
	}
	s.metrics.ObserveHealth(string(report.Status), report.Partial)
	return report, nil
}

func (s *Service) loanValueUSD(owed decimal.Decimal, prices lending.PriceLookup) (decimal.Decimal, error) {
	if s.loanAsset == "" {
		return owed, nil
	}
	price, err := prices.UnitPriceUSD(s.loanAsset)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: loan asset %s: %v", ErrPartialPricing, s.loanAsset, err)
	}
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: loan asset %s priced at %s", ErrPartialPricing, s.loanAsset, price)
	}
	return owed.Mul(price), nil
}

// pricingGap converts an incomplete valuation into ErrPartialPricing.
func pricingGap(report lending.HealthReport, err error) error {
	if err != nil {
		if errors.Is(err, ErrPartialPricing) {
			return err
		}
		return nil
	}
	if report.Partial {
		return fmt.Errorf("%w: unpriced assets %s", ErrPartialPricing, strings.Join(report.MissingAssets, ","))
	}
	return nil
}

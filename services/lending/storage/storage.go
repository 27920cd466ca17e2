package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"

	"lendrisk/native/lending"
	"lendrisk/services/lending/engine"
)

// Storage is the SQLite implementation of engine.Store.
type Storage struct {
	db *sql.DB
}

var _ engine.Store = (*Storage)(nil)

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("lending storage path must be configured")

// Open initialises the backing store using a sqlite-compatible DSN and
// applies the schema.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the loan record together with its account and position.
func (s *Storage) Load(ctx context.Context, loanID string) (*engine.LoanState, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	loan, err := s.loadLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	state := &engine.LoanState{Loan: loan}
	if state.Account, err = s.loadAccount(ctx, loanID); err != nil {
		return nil, err
	}
	if state.Position, err = s.loadPosition(ctx, loanID); err != nil {
		return nil, err
	}
	return state, nil
}

// Save upserts the loan and every non-nil part of its state in a single
// transaction. A non-nil position replaces the stored deposits.
func (s *Storage) Save(ctx context.Context, state *engine.LoanState) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if state == nil || state.Loan == nil {
		return fmt.Errorf("loan state required")
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertLoan(ctx, tx, state.Loan); err != nil {
			return err
		}
		if state.Account != nil {
			if err := upsertAccount(ctx, tx, state.Account); err != nil {
				return err
			}
		}
		if state.Position != nil {
			if err := replacePosition(ctx, tx, state.Loan.ID, state.Position); err != nil {
				return err
			}
		}
		return nil
	})
}

// Archive stores the archived loan record and deletes its account and
// deposits.
func (s *Storage) Archive(ctx context.Context, loan *engine.Loan) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if loan == nil {
		return fmt.Errorf("loan required")
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM loans WHERE id = ?`, loan.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: loan %s", engine.ErrNotFound, loan.ID)
		}
		if err != nil {
			return fmt.Errorf("query loan: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM collateral_deposits WHERE loan_id = ?`, loan.ID); err != nil {
			return fmt.Errorf("delete deposits: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM repayment_accounts WHERE loan_id = ?`, loan.ID); err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
		return upsertLoan(ctx, tx, loan)
	})
}

// ListFunded returns the identifiers of funded loans in ascending order.
func (s *Storage) ListFunded(ctx context.Context) ([]string, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM loans WHERE status = ? ORDER BY id`, string(engine.LoanFunded))
	if err != nil {
		return nil, fmt.Errorf("query funded loans: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan loan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func upsertLoan(ctx context.Context, tx *sql.Tx, loan *engine.Loan) error {
	terms, err := json.Marshal(loan.Terms)
	if err != nil {
		return fmt.Errorf("encode terms: %w", err)
	}
	market, err := json.Marshal(loan.Market)
	if err != nil {
		return fmt.Errorf("encode market: %w", err)
	}
	quote, err := json.Marshal(loan.Quote)
	if err != nil {
		return fmt.Errorf("encode quote: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO loans(id, borrower, status, terms, market, quote, created_at, funded_at, closed_at, updated_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            borrower = excluded.borrower,
            status = excluded.status,
            terms = excluded.terms,
            market = excluded.market,
            quote = excluded.quote,
            funded_at = excluded.funded_at,
            closed_at = excluded.closed_at,
            updated_at = excluded.updated_at
    `, loan.ID, loan.Borrower, string(loan.Status), string(terms), string(market), string(quote),
		unixNano(loan.CreatedAt), unixNano(loan.FundedAt), unixNano(loan.ClosedAt), unixNano(loan.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert loan: %w", err)
	}
	return nil
}

func upsertAccount(ctx context.Context, tx *sql.Tx, account *lending.RepaymentAccount) error {
	_, err := tx.ExecContext(ctx, `
        INSERT INTO repayment_accounts(loan_id, principal_remaining, interest_accrued, rate_bps, funded_at,
            last_payment_at, next_due_at, maturity_at, payment_interval_seconds, status, discount_forgiven, defaulted_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(loan_id) DO UPDATE SET
            principal_remaining = excluded.principal_remaining,
            interest_accrued = excluded.interest_accrued,
            rate_bps = excluded.rate_bps,
            last_payment_at = excluded.last_payment_at,
            next_due_at = excluded.next_due_at,
            maturity_at = excluded.maturity_at,
            payment_interval_seconds = excluded.payment_interval_seconds,
            status = excluded.status,
            discount_forgiven = excluded.discount_forgiven,
            defaulted_at = excluded.defaulted_at
    `, account.LoanID, account.PrincipalRemaining.String(), account.InterestAccrued.String(), account.RateBps,
		unixNano(account.FundedAt), unixNano(account.LastPaymentAt), unixNano(account.NextDueAt), unixNano(account.MaturityAt),
		int64(account.PaymentInterval/time.Second), string(account.Status), account.DiscountForgiven.String(), unixNano(account.DefaultedAt))
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func replacePosition(ctx context.Context, tx *sql.Tx, loanID string, position *lending.CollateralPosition) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM collateral_deposits WHERE loan_id = ?`, loanID); err != nil {
		return fmt.Errorf("clear deposits: %w", err)
	}
	for i, dep := range position.Deposits {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO collateral_deposits(loan_id, seq, asset_id, asset_class, amount)
            VALUES(?, ?, ?, ?, ?)
        `, loanID, i, dep.AssetID, string(dep.Class), dep.Amount.String())
		if err != nil {
			return fmt.Errorf("insert deposit: %w", err)
		}
	}
	return nil
}

func (s *Storage) loadLoan(ctx context.Context, loanID string) (*engine.Loan, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, borrower, status, terms, market, quote, created_at, funded_at, closed_at, updated_at
        FROM loans WHERE id = ?
    `, loanID)
	var (
		loan                                 engine.Loan
		status, terms, market, quote         string
		createdAt, fundedAt, closedAt, updAt int64
	)
	if err := row.Scan(&loan.ID, &loan.Borrower, &status, &terms, &market, &quote, &createdAt, &fundedAt, &closedAt, &updAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: loan %s", engine.ErrNotFound, loanID)
		}
		return nil, fmt.Errorf("query loan: %w", err)
	}
	loan.Status = engine.LoanStatus(status)
	if err := json.Unmarshal([]byte(terms), &loan.Terms); err != nil {
		return nil, fmt.Errorf("decode terms: %w", err)
	}
	if err := json.Unmarshal([]byte(market), &loan.Market); err != nil {
		return nil, fmt.Errorf("decode market: %w", err)
	}
	if err := json.Unmarshal([]byte(quote), &loan.Quote); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	loan.CreatedAt = fromUnixNano(createdAt)
	loan.FundedAt = fromUnixNano(fundedAt)
	loan.ClosedAt = fromUnixNano(closedAt)
	loan.UpdatedAt = fromUnixNano(updAt)
	return &loan, nil
}

func (s *Storage) loadAccount(ctx context.Context, loanID string) (*lending.RepaymentAccount, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT loan_id, principal_remaining, interest_accrued, rate_bps, funded_at, last_payment_at,
            next_due_at, maturity_at, payment_interval_seconds, status, discount_forgiven, defaulted_at
        FROM repayment_accounts WHERE loan_id = ?
    `, loanID)
	var (
		account                                 lending.RepaymentAccount
		principal, interest, forgiven, status   string
		funded, lastPaid, nextDue, maturity, dd int64
		intervalSeconds                         int64
	)
	err := row.Scan(&account.LoanID, &principal, &interest, &account.RateBps, &funded, &lastPaid,
		&nextDue, &maturity, &intervalSeconds, &status, &forgiven, &dd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	if account.PrincipalRemaining, err = decimal.NewFromString(principal); err != nil {
		return nil, fmt.Errorf("decode principal: %w", err)
	}
	if account.InterestAccrued, err = decimal.NewFromString(interest); err != nil {
		return nil, fmt.Errorf("decode interest: %w", err)
	}
	if account.DiscountForgiven, err = decimal.NewFromString(forgiven); err != nil {
		return nil, fmt.Errorf("decode discount: %w", err)
	}
	account.FundedAt = fromUnixNano(funded)
	account.LastPaymentAt = fromUnixNano(lastPaid)
	account.NextDueAt = fromUnixNano(nextDue)
	account.MaturityAt = fromUnixNano(maturity)
	account.DefaultedAt = fromUnixNano(dd)
	account.PaymentInterval = time.Duration(intervalSeconds) * time.Second
	account.Status = lending.AccountStatus(status)
	return &account, nil
}

func (s *Storage) loadPosition(ctx context.Context, loanID string) (*lending.CollateralPosition, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT asset_id, asset_class, amount FROM collateral_deposits
        WHERE loan_id = ? ORDER BY seq
    `, loanID)
	if err != nil {
		return nil, fmt.Errorf("query deposits: %w", err)
	}
	defer rows.Close()
	var deposits []lending.Deposit
	for rows.Next() {
		var assetID, class, amount string
		if err := rows.Scan(&assetID, &class, &amount); err != nil {
			return nil, fmt.Errorf("scan deposit: %w", err)
		}
		value, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("decode deposit amount: %w", err)
		}
		deposits = append(deposits, lending.Deposit{AssetID: assetID, Class: lending.AssetClass(class), Amount: value})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(deposits) == 0 {
		return nil, nil
	}
	return &lending.CollateralPosition{LoanID: loanID, Deposits: deposits}, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

const schema = `
CREATE TABLE IF NOT EXISTS loans (
    id TEXT PRIMARY KEY,
    borrower TEXT NOT NULL,
    status TEXT NOT NULL,
    terms TEXT NOT NULL,
    market TEXT NOT NULL,
    quote TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    funded_at INTEGER NOT NULL DEFAULT 0,
    closed_at INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_loans_status ON loans(status);

CREATE TABLE IF NOT EXISTS repayment_accounts (
    loan_id TEXT PRIMARY KEY REFERENCES loans(id),
    principal_remaining TEXT NOT NULL,
    interest_accrued TEXT NOT NULL,
    rate_bps INTEGER NOT NULL,
    funded_at INTEGER NOT NULL,
    last_payment_at INTEGER NOT NULL,
    next_due_at INTEGER NOT NULL,
    maturity_at INTEGER NOT NULL,
    payment_interval_seconds INTEGER NOT NULL,
    status TEXT NOT NULL,
    discount_forgiven TEXT NOT NULL,
    defaulted_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS collateral_deposits (
    loan_id TEXT NOT NULL REFERENCES loans(id),
    seq INTEGER NOT NULL,
    asset_id TEXT NOT NULL,
    asset_class TEXT NOT NULL,
    amount TEXT NOT NULL,
    PRIMARY KEY (loan_id, seq)
);
`

package kvstore

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"lendrisk/native/lending"
	"lendrisk/services/lending/engine"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func openMiniredis(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	store, err := Dial(context.Background(), Options{Addr: server.Addr(), Prefix: "test"})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, server
}

func fundedState(t *testing.T, id string, now time.Time) *engine.LoanState {
	t.Helper()
	account, err := lending.NewAccount(lending.DefaultConfig(), id, dec("1000"), 1114, 12, now)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	return &engine.LoanState{
		Loan:    &engine.Loan{ID: id, Status: engine.LoanFunded, CreatedAt: now, UpdatedAt: now, FundedAt: now},
		Account: account,
		Position: &lending.CollateralPosition{LoanID: id, Deposits: []lending.Deposit{
			{AssetID: "ETH", Class: lending.AssetClassNative, Amount: dec("1")},
			{AssetID: "USDC", Class: lending.AssetClassStable, Amount: dec("250.5")},
		}},
	}
}

func TestKeysUsePrefix(t *testing.T) {
	store := New(nil, "  ")
	if got := store.loanKey("abc"); got != "lendrisk:loan:abc" {
		t.Fatalf("unexpected loan key: %s", got)
	}
	custom := New(nil, "staging")
	if got := custom.fundedKey(); got != "staging:funded" {
		t.Fatalf("unexpected funded key: %s", got)
	}
}

func TestDialRequiresReachableServer(t *testing.T) {
	if _, err := Dial(context.Background(), Options{}); err == nil {
		t.Fatalf("expected error without an address")
	}
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()
	if _, err := Dial(context.Background(), Options{Addr: addr}); err == nil {
		t.Fatalf("expected ping failure against a stopped server")
	}
}

func TestLoadQuotedLoanWithoutAccount(t *testing.T) {
	store, server := openMiniredis(t)
	ctx := context.Background()
	now := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)

	quoted := &engine.LoanState{Loan: &engine.Loan{ID: "loan-q", Status: engine.LoanQuoted, CreatedAt: now, UpdatedAt: now}}
	if err := store.Save(ctx, quoted); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.Load(ctx, "loan-q")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Loan.Status != engine.LoanQuoted || loaded.Account != nil || loaded.Position != nil {
		t.Fatalf("unexpected quoted state: %+v", loaded)
	}
	if server.Exists("test:account:loan-q") || server.Exists("test:position:loan-q") {
		t.Fatalf("quoted loan wrote account or position keys")
	}
	if _, err := store.Load(ctx, "ghost"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Archive(ctx, &engine.Loan{ID: "ghost"}); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found on archive, got %v", err)
	}
}

func TestSaveTracksFundedSet(t *testing.T) {
	store, server := openMiniredis(t)
	ctx := context.Background()
	now := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)

	for _, id := range []string{"loan-b", "loan-a"} {
		if err := store.Save(ctx, fundedState(t, id, now)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	ids, err := store.ListFunded(ctx)
	if err != nil || len(ids) != 2 || ids[0] != "loan-a" || ids[1] != "loan-b" {
		t.Fatalf("unexpected funded ids: %v (%v)", ids, err)
	}

	paid := fundedState(t, "loan-a", now)
	paid.Loan.Status = engine.LoanPaidOff
	paid.Account.Status = lending.StatusPaidOff
	paid.Account.PrincipalRemaining = decimal.Zero
	if err := store.Save(ctx, paid); err != nil {
		t.Fatalf("save paid off: %v", err)
	}
	members, err := server.Members("test:funded")
	if err != nil || len(members) != 1 || members[0] != "loan-b" {
		t.Fatalf("paid off loan still in funded set: %v (%v)", members, err)
	}

	loaded, err := store.Load(ctx, "loan-b")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.Account.PrincipalRemaining.Equal(dec("1000")) || loaded.Account.RateBps != 1114 {
		t.Fatalf("unexpected account: %+v", loaded.Account)
	}
	holdings := loaded.Position.Holdings()
	if len(holdings) != 2 || !holdings[1].Amount.Equal(dec("250.5")) {
		t.Fatalf("unexpected holdings: %+v", holdings)
	}
	if !loaded.Loan.FundedAt.Equal(now) {
		t.Fatalf("funded time lost: %s", loaded.Loan.FundedAt)
	}
}

func TestArchiveDropsAccountAndPosition(t *testing.T) {
	store, server := openMiniredis(t)
	ctx := context.Background()
	now := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	state := fundedState(t, "loan-1", now)
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}

	archived := state.Loan.Clone()
	archived.Status = engine.LoanArchived
	archived.ClosedAt = now
	if err := store.Archive(ctx, archived); err != nil {
		t.Fatalf("archive: %v", err)
	}
	loaded, err := store.Load(ctx, "loan-1")
	if err != nil {
		t.Fatalf("load archived: %v", err)
	}
	if loaded.Loan.Status != engine.LoanArchived || loaded.Account != nil || loaded.Position != nil {
		t.Fatalf("archive left account or position behind: %+v", loaded)
	}
	if server.Exists("test:account:loan-1") || server.Exists("test:position:loan-1") {
		t.Fatalf("archive left keys behind: %v", server.Keys())
	}
	if ids, _ := store.ListFunded(ctx); len(ids) != 0 {
		t.Fatalf("archived loan still funded: %v", ids)
	}
}

func TestServiceOnRedis(t *testing.T) {
	store, _ := openMiniredis(t)
	ctx := context.Background()
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	svc, err := engine.New(lending.DefaultConfig(), store, engine.StaticPrices{"ETH": dec("2000")}, engine.Options{
		Clock: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	loan, err := svc.CreateLoan(ctx, engine.CreateLoanRequest{
		Borrower: "0x8617E340B3D01FA5F11F306F4090FD50E238070D",
		Terms:    lending.LoanTerms{CreditScore: 70, Principal: dec("500"), TermMonths: 6, CollateralRatio: dec("4"), AssetClass: lending.AssetClassNative},
	})
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	if _, err := svc.FundLoan(ctx, loan.ID, []lending.Deposit{{AssetID: "ETH", Class: lending.AssetClassNative, Amount: dec("1")}}); err != nil {
		t.Fatalf("fund loan: %v", err)
	}
	receipt, err := svc.ApplyPayment(ctx, loan.ID, dec("500"))
	if err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	if receipt.Account.Status != lending.StatusPaidOff {
		t.Fatalf("expected paid off, got %s", receipt.Account.Status)
	}
	if ids, _ := store.ListFunded(ctx); len(ids) != 0 {
		t.Fatalf("paid off loan still funded: %v", ids)
	}
	if _, err := svc.ArchiveLoan(ctx, loan.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	view, err := svc.Status(ctx, loan.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Loan.Status != engine.LoanArchived || view.Account != nil {
		t.Fatalf("unexpected archived view: %+v", view)
	}
}

// TestLiveRedisRoundTrip repeats the round trip against a real server when
// LENDRISK_TEST_REDIS names its address.
func TestLiveRedisRoundTrip(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("LENDRISK_TEST_REDIS"))
	if addr == "" {
		t.Skip("LENDRISK_TEST_REDIS not set")
	}
	ctx := context.Background()
	store, err := Dial(ctx, Options{Addr: addr, Prefix: "lendrisk-test-" + uuid.NewString()})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	now := time.Now().UTC().Truncate(time.Second)
	state := fundedState(t, "loan-1", now)
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.Load(ctx, "loan-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.Account.PrincipalRemaining.Equal(dec("1000")) || len(loaded.Position.Deposits) != 2 {
		t.Fatalf("unexpected state: %+v", loaded)
	}
	archived := state.Loan.Clone()
	archived.Status = engine.LoanArchived
	if err := store.Archive(ctx, archived); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if ids, _ := store.ListFunded(ctx); len(ids) != 0 {
		t.Fatalf("archived loan still funded: %v", ids)
	}
}

package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"lendrisk/native/lending"
	"lendrisk/services/lending/engine"
	"lendrisk/services/lending/pricing"
	"lendrisk/services/lending/server"
)

var epoch = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newAPI(t *testing.T, secret string) *httptest.Server {
	t.Helper()
	clock := func() time.Time { return epoch }
	feed := pricing.NewFeed(pricing.Config{})
	svc, err := engine.New(lending.DefaultConfig(), engine.NewMemoryStore(), feed, engine.Options{Clock: clock})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	srv, err := server.New(svc, feed, server.Config{Auth: server.AuthConfig{HMACSecret: secret}}, nil, server.WithClock(clock))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	api := httptest.NewServer(srv.Handler())
	t.Cleanup(api.Close)
	return api
}

func referenceRequest() engine.CreateLoanRequest {
	return engine.CreateLoanRequest{
		Borrower: "0x52908400098527886e0f7030069857d2e4169ee7",
		Terms: lending.LoanTerms{
			CreditScore:     80,
			Principal:       dec("1000"),
			TermMonths:      12,
			CollateralRatio: dec("2"),
			AssetClass:      lending.AssetClassNative,
		},
		Market: lending.MarketState{UtilizationRate: dec("0.65")},
	}
}

func TestClientLoanFlow(t *testing.T) {
	api := newAPI(t, "")
	c, err := New(api.URL + "/")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	quotes, err := c.PushPrices(ctx, []pricing.Observation{{AssetID: "ETH", PriceUSD: dec("2000")}})
	if err != nil || len(quotes) != 1 || !quotes[0].ObservedAt.Equal(epoch) {
		t.Fatalf("push prices: %+v %v", quotes, err)
	}

	req := referenceRequest()
	quote, err := c.Quote(ctx, req.Terms, req.Market)
	if err != nil || quote.FinalRateBps != 1114 {
		t.Fatalf("quote: %+v %v", quote, err)
	}

	loan, err := c.CreateLoan(ctx, req)
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	state, err := c.FundLoan(ctx, loan.ID, []lending.Deposit{{AssetID: "ETH", Class: lending.AssetClassNative, Amount: dec("1")}})
	if err != nil || state.Loan.Status != engine.LoanFunded {
		t.Fatalf("fund loan: %+v %v", state, err)
	}
	if _, err := c.DepositCollateral(ctx, loan.ID, lending.Deposit{AssetID: "ETH", Class: lending.AssetClassNative, Amount: dec("0.5")}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := c.WithdrawCollateral(ctx, loan.ID, "ETH", dec("0.25")); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	view, err := c.Status(ctx, loan.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Health == nil || view.Health.Partial || view.RateBps != 1114 {
		t.Fatalf("unexpected status view: %+v", view)
	}

	_, err = c.ApplyPayment(ctx, loan.ID, dec("1200"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict || apiErr.Kind != "state" {
		t.Fatalf("expected state conflict, got %v", err)
	}

	receipt, err := c.ApplyPayment(ctx, loan.ID, dec("1000"))
	if err != nil || receipt.LoanStatus != engine.LoanPaidOff {
		t.Fatalf("payoff: %+v %v", receipt, err)
	}
	archived, err := c.ArchiveLoan(ctx, loan.ID)
	if err != nil || archived.Status != engine.LoanArchived {
		t.Fatalf("archive: %+v %v", archived, err)
	}

	if _, err := c.Status(ctx, "missing"); !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClientSendsBearerToken(t *testing.T) {
	api := newAPI(t, "s3cret")
	anonymous, err := New(api.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = anonymous.CreateLoan(context.Background(), referenceRequest())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	authed, err := New(api.URL, WithToken(token), WithHTTPClient(api.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	loan, err := authed.CreateLoan(context.Background(), referenceRequest())
	if err != nil || loan.Status != engine.LoanQuoted {
		t.Fatalf("create loan: %+v %v", loan, err)
	}
	if _, err := authed.MarkDefaulted(context.Background(), loan.ID); !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Fatalf("defaulting a quoted loan should conflict, got %v", err)
	}
	if _, err := authed.SettleEarly(context.Background(), loan.ID, dec("1")); !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Fatalf("settling a quoted loan should conflict, got %v", err)
	}
}

func TestNewRejectsRelativeURL(t *testing.T) {
	if _, err := New("localhost:8480"); err == nil {
		t.Fatalf("expected error for url without scheme")
	}
	if _, err := New("/v1"); err == nil {
		t.Fatalf("expected error for relative url")
	}
}

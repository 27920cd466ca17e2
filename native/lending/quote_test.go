package lending

import (
	"testing"

	"github.com/shopspring/decimal"
)

func referenceTerms() LoanTerms {
	return LoanTerms{
		CreditScore:     80,
		Principal:       decimal.NewFromInt(1000),
		TermMonths:      12,
		CollateralRatio: decimal.RequireFromString("2.0"),
		AssetClass:      AssetClassNative,
	}
}

func TestQuoteReferenceScenario(t *testing.T) {
	cfg := DefaultConfig()
	market := MarketState{UtilizationRate: decimal.RequireFromString("0.65"), VolatilityFactor: decimal.Zero}

	quote, err := Quote(cfg, referenceTerms(), market, 0)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	expectations := map[string]struct {
		got  decimal.Decimal
		want string
	}{
		"base":       {quote.BaseRate, "8"},
		"credit":     {quote.CreditRisk, "3"},
		"market":     {quote.MarketComponent, "3.25"},
		"collateral": {quote.CollateralDiscount, "4.5"},
		"size":       {quote.SizeAdjustment, "0"},
		"final":      {quote.FinalRate, "11.14"},
	}
	for name, exp := range expectations {
		if !exp.got.Equal(decimal.RequireFromString(exp.want)) {
			t.Fatalf("%s component: got %s want %s", name, exp.got, exp.want)
		}
	}
	if got := quote.TermRisk.Round(3).String(); got != "1.386" {
		t.Fatalf("unexpected term risk: %s", got)
	}
	if quote.FinalRateBps != 1114 {
		t.Fatalf("unexpected basis points: %d", quote.FinalRateBps)
	}
	if !quote.Perturbation.IsZero() {
		t.Fatalf("expected no perturbation at zero volatility, got %s", quote.Perturbation)
	}
}

func TestQuoteBreakdownReconciles(t *testing.T) {
	cfg := DefaultConfig()
	for _, score := range []int{0, 35, 80, 100} {
		for _, months := range []int{1, 6, 24, 120} {
			for _, ratio := range []string{"0.8", "1.5", "1.7", "4"} {
				terms := LoanTerms{
					CreditScore:     score,
					Principal:       decimal.NewFromInt(2500),
					TermMonths:      months,
					CollateralRatio: decimal.RequireFromString(ratio),
					AssetClass:      AssetClassStable,
				}
				market := MarketState{UtilizationRate: decimal.RequireFromString("0.4"), VolatilityFactor: decimal.NewFromInt(2)}
				quote, err := Quote(cfg, terms, market, 0.75)
				if err != nil {
					t.Fatalf("quote %+v: %v", terms, err)
				}
				if !quote.Reconcile().Equal(quote.RawRate) {
					t.Fatalf("breakdown %s does not reconcile with raw %s", quote.Reconcile(), quote.RawRate)
				}
			}
		}
	}
}

func TestQuoteAlwaysBounded(t *testing.T) {
	cfg := DefaultConfig()
	cases := []struct {
		name   string
		terms  LoanTerms
		jitter float64
	}{
		{
			name:   "worst borrower pushed up",
			terms:  LoanTerms{CreditScore: 0, Principal: decimal.NewFromInt(10), TermMonths: 360, CollateralRatio: decimal.RequireFromString("0.5"), AssetClass: AssetClassVolatile},
			jitter: 1,
		},
		{
			name:   "best borrower pushed down",
			terms:  LoanTerms{CreditScore: 100, Principal: decimal.NewFromInt(20000), TermMonths: 1, CollateralRatio: decimal.NewFromInt(10), AssetClass: AssetClassStable},
			jitter: -1,
		},
		{
			name:   "out of range jitter is clamped",
			terms:  referenceTerms(),
			jitter: 40,
		},
	}
	for _, tc := range cases {
		market := MarketState{UtilizationRate: decimal.NewFromInt(1), VolatilityFactor: decimal.NewFromInt(100)}
		quote, err := Quote(cfg, tc.terms, market, tc.jitter)
		if err != nil {
			t.Fatalf("%s: quote: %v", tc.name, err)
		}
		if quote.FinalRate.LessThan(cfg.Quote.MinRate) || quote.FinalRate.GreaterThan(cfg.Quote.MaxRate) {
			t.Fatalf("%s: final rate %s outside bounds", tc.name, quote.FinalRate)
		}
		if want := quote.FinalRate.Mul(decimal.NewFromInt(100)).Round(0).IntPart(); quote.FinalRateBps != want {
			t.Fatalf("%s: bps %d want %d", tc.name, quote.FinalRateBps, want)
		}
		limit := market.VolatilityFactor.Mul(cfg.Quote.MaxPerturbation)
		if quote.Perturbation.Abs().GreaterThan(limit) {
			t.Fatalf("%s: perturbation %s exceeds %s", tc.name, quote.Perturbation, limit)
		}
	}
}

func TestCollateralDiscountTiers(t *testing.T) {
	cfg := DefaultConfig()
	previous := decimal.Zero
	for ratio := decimal.RequireFromString("0.5"); ratio.LessThanOrEqual(decimal.NewFromInt(5)); ratio = ratio.Add(decimal.RequireFromString("0.05")) {
		discount, err := CollateralDiscount(cfg, ratio, AssetClassNative)
		if err != nil {
			t.Fatalf("discount at %s: %v", ratio, err)
		}
		if ratio.LessThan(cfg.Quote.MinCollateralRatio) {
			if !discount.IsZero() {
				t.Fatalf("expected zero discount below minimum ratio, got %s at %s", discount, ratio)
			}
			continue
		}
		if discount.LessThan(previous) {
			t.Fatalf("discount decreased from %s to %s at ratio %s", previous, discount, ratio)
		}
		previous = discount
	}
	if !previous.Equal(decimal.RequireFromString("4.5")) {
		t.Fatalf("expected capped discount 4.5, got %s", previous)
	}

	native, _ := CollateralDiscount(cfg, decimal.NewFromInt(2), AssetClassNative)
	stable, _ := CollateralDiscount(cfg, decimal.NewFromInt(2), AssetClassStable)
	if !stable.GreaterThan(native) {
		t.Fatalf("expected stable collateral discount %s to exceed native %s", stable, native)
	}
}

func TestSizeAdjustmentTiers(t *testing.T) {
	cfg := DefaultConfig()
	cases := map[string]string{
		"1":     "0.5",
		"999":   "0.5",
		"1000":  "0",
		"4999":  "0",
		"5000":  "-0.25",
		"10000": "-0.5",
		"1e6":   "-0.5",
	}
	for amount, want := range cases {
		got := SizeAdjustment(cfg, decimal.RequireFromString(amount))
		if !got.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("size adjustment for %s: got %s want %s", amount, got, want)
		}
	}
}

func TestQuoteRejectsMalformedTerms(t *testing.T) {
	cfg := DefaultConfig()
	market := MarketState{UtilizationRate: decimal.RequireFromString("0.5")}
	mutate := map[string]func(*LoanTerms){
		"score above range": func(l *LoanTerms) { l.CreditScore = 101 },
		"negative score":    func(l *LoanTerms) { l.CreditScore = -1 },
		"zero principal":    func(l *LoanTerms) { l.Principal = decimal.Zero },
		"zero term":         func(l *LoanTerms) { l.TermMonths = 0 },
		"negative ratio":    func(l *LoanTerms) { l.CollateralRatio = decimal.NewFromInt(-1) },
		"unknown class":     func(l *LoanTerms) { l.AssetClass = "meme" },
	}
	for name, fn := range mutate {
		terms := referenceTerms()
		fn(&terms)
		_, err := Quote(cfg, terms, market, 0)
		if !IsValidation(err) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	if _, err := Quote(cfg, referenceTerms(), MarketState{UtilizationRate: decimal.RequireFromString("1.2")}, 0); !IsValidation(err) {
		t.Fatalf("expected utilization validation error, got %v", err)
	}
}

func TestSeededQuoterIsReproducible(t *testing.T) {
	cfg := DefaultConfig()
	market := MarketState{UtilizationRate: decimal.RequireFromString("0.3"), VolatilityFactor: decimal.NewFromInt(1)}
	first := NewQuoter(cfg, NewSeededJitter(42))
	second := NewQuoter(cfg, NewSeededJitter(42))
	for i := 0; i < 5; i++ {
		a, err := first.Quote(referenceTerms(), market)
		if err != nil {
			t.Fatalf("quote: %v", err)
		}
		b, err := second.Quote(referenceTerms(), market)
		if err != nil {
			t.Fatalf("quote: %v", err)
		}
		if !a.FinalRate.Equal(b.FinalRate) || !a.Perturbation.Equal(b.Perturbation) {
			t.Fatalf("seeded quotes diverged: %s vs %s", a.FinalRate, b.FinalRate)
		}
	}

	fixed := NewQuoter(cfg, FixedJitter(1))
	quote, err := fixed.Quote(referenceTerms(), market)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !quote.Perturbation.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("unexpected perturbation: %s", quote.Perturbation)
	}
}

package lending

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestParseConfigOverridesDefaults(t *testing.T) {
	doc := `
[quote]
BaseRate = "6.5"
MaxRate = "40"

[[quote.size_tiers]]
MinAmount = "0"
Adjustment = "0.25"

[[quote.size_tiers]]
MinAmount = "2500"
Adjustment = "-0.1"

[repayment]
PaymentIntervalDays = 14
`
	cfg, err := ParseConfig(doc)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if !cfg.Quote.BaseRate.Equal(dec("6.5")) || !cfg.Quote.MaxRate.Equal(dec("40")) {
		t.Fatalf("overrides not applied: %+v", cfg.Quote)
	}
	if !cfg.Quote.CreditCoefficient.Equal(dec("15")) {
		t.Fatalf("untouched key lost its default: %s", cfg.Quote.CreditCoefficient)
	}
	if len(cfg.Quote.SizeTiers) != 2 {
		t.Fatalf("expected tiers to be replaced, got %d", len(cfg.Quote.SizeTiers))
	}
	if cfg.Repayment.PaymentIntervalDays != 14 || cfg.Repayment.MaxOverdueDays != 90 {
		t.Fatalf("unexpected repayment config: %+v", cfg.Repayment)
	}
	if len(cfg.AssetClasses) != 4 {
		t.Fatalf("expected default asset classes, got %d", len(cfg.AssetClasses))
	}
}

func TestParseConfigAssetClassesReplaceDefaults(t *testing.T) {
	doc := `
[asset_classes.Native]
RiskFactor = "1"
LiquidationThreshold = "0.75"
`
	cfg, err := ParseConfig(doc)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	classes := cfg.Classes()
	if len(classes) != 1 || classes[0] != AssetClassNative {
		t.Fatalf("unexpected classes: %v", classes)
	}
	params, _ := cfg.ClassParams(AssetClassNative)
	if !params.LiquidationThreshold.Equal(dec("0.75")) {
		t.Fatalf("unexpected threshold: %s", params.LiquidationThreshold)
	}
}

func TestParseConfigRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"unknown key":        "[quote]\nBogus = \"1\"\n",
		"inverted bounds":    "[quote]\nMinRate = \"60\"\n",
		"risk factor floor":  "[asset_classes.junk]\nRiskFactor = \"0.1\"\nLiquidationThreshold = \"0.5\"\n",
		"threshold above 1":  "[asset_classes.native]\nRiskFactor = \"1\"\nLiquidationThreshold = \"1.5\"\n",
		"bands out of order": "[health]\nGoodAt = \"2.5\"\n",
		"tier without zero":  "[[quote.size_tiers]]\nMinAmount = \"10\"\nAdjustment = \"0\"\n",
		"malformed toml":     "[quote\n",
	}
	for name, doc := range cases {
		if _, err := ParseConfig(doc); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regime.toml")
	if err := os.WriteFile(path, []byte("[health]\nWithdrawFloor = \"1.3\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Health.WithdrawFloor.Equal(dec("1.3")) {
		t.Fatalf("unexpected withdraw floor: %s", cfg.Health.WithdrawFloor)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

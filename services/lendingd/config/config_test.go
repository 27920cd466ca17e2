package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :6000 "
tls:
  allow_insecure: true
auth:
  hmac_secret: " s3cret "
loan_asset: " usdc "
pricing:
  asset_max_age:
    USDC: 1h
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":6000" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if cfg.Auth.Secret() != "s3cret" {
		t.Fatalf("secret not trimmed: %q", cfg.Auth.Secret())
	}
	if cfg.Storage.Driver != DriverSQLite || cfg.Storage.Path != "lendrisk.db" {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.LoanAsset != "USDC" {
		t.Fatalf("loan asset not normalized: %q", cfg.LoanAsset)
	}
	if cfg.Pricing.MaxAge != 5*time.Minute || cfg.Pricing.AssetMaxAge["USDC"] != time.Hour {
		t.Fatalf("unexpected pricing config: %+v", cfg.Pricing)
	}
	if cfg.Sweeper.Schedule != "@every 5m" || cfg.RequestTimeout != 10*time.Second {
		t.Fatalf("unexpected defaults: schedule %q timeout %s", cfg.Sweeper.Schedule, cfg.RequestTimeout)
	}
}

func TestSecretFromEnvironment(t *testing.T) {
	t.Setenv("LENDRISK_TEST_SECRET", "from-env")
	t.Setenv("LENDRISK_TEST_REDIS_PASSWORD", "pw")
	path := writeConfig(t, `
tls:
  allow_insecure: true
auth:
  hmac_secret_env: LENDRISK_TEST_SECRET
storage:
  driver: REDIS
  redis:
    addr: localhost:6379
    password_env: LENDRISK_TEST_REDIS_PASSWORD
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Auth.Secret() != "from-env" {
		t.Fatalf("expected secret from environment, got %q", cfg.Auth.Secret())
	}
	if cfg.Storage.Driver != DriverRedis || cfg.Storage.Redis.ResolvedPassword() != "pw" {
		t.Fatalf("unexpected redis config: %+v", cfg.Storage)
	}
}

func TestLoadConfigRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"no authenticator": `
tls: {allow_insecure: true}
`,
		"tls key missing": `
tls: {cert: server.crt}
auth: {allow_anonymous: true}
`,
		"tls material missing": `
auth: {allow_anonymous: true}
`,
		"client ca without cert": `
tls: {allow_insecure: true, client_ca: ca.pem}
auth: {allow_anonymous: true}
`,
		"unknown driver": `
tls: {allow_insecure: true}
auth: {allow_anonymous: true}
storage: {driver: postgres}
`,
		"redis without addr": `
tls: {allow_insecure: true}
auth: {allow_anonymous: true}
storage: {driver: redis}
`,
		"unknown key": `
tls: {allow_insecure: true}
auth: {allow_anonymous: true}
listen_addr: ":1"
`,
		"deviation out of range": `
tls: {allow_insecure: true}
auth: {allow_anonymous: true}
pricing: {max_deviation_bps: 20000}
`,
		"negative rate": `
tls: {allow_insecure: true}
auth: {allow_anonymous: true}
rate_limit: {requests_per_minute: -1}
`,
	}
	for name, doc := range cases {
		if _, err := Load(writeConfig(t, doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"

	defaultListen = ":8480"
)

// Config captures the runtime settings for the lending daemon.
type Config struct {
	ListenAddress  string          `yaml:"listen"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	ShutdownGrace  time.Duration   `yaml:"shutdown_grace"`
	TLS            TLSConfig       `yaml:"tls"`
	Auth           AuthConfig      `yaml:"auth"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Storage        StorageConfig   `yaml:"storage"`
	// Regime is the path of the TOML risk regime. Empty uses the built in
	// defaults.
	Regime    string          `yaml:"regime"`
	LoanAsset string          `yaml:"loan_asset"`
	Quote     QuoteConfig     `yaml:"quote"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TLSConfig describes the TLS material for the HTTP server.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	ClientCAPath  string `yaml:"client_ca"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig configures bearer tokens for mutating routes.
type AuthConfig struct {
	HMACSecret string `yaml:"hmac_secret"`
	// HMACSecretEnv names an environment variable holding the secret.
	HMACSecretEnv  string        `yaml:"hmac_secret_env"`
	Issuer         string        `yaml:"issuer"`
	Audience       string        `yaml:"audience"`
	Scope          string        `yaml:"scope"`
	ClockSkew      time.Duration `yaml:"clock_skew"`
	AllowAnonymous bool          `yaml:"allow_anonymous"`
}

type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// StorageConfig selects the persistence driver.
type StorageConfig struct {
	Driver string      `yaml:"driver"`
	Path   string      `yaml:"path"`
	Redis  RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr        string `yaml:"addr"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	Prefix      string `yaml:"prefix"`
}

// QuoteConfig controls the rate perturbation. A zero seed disables it.
type QuoteConfig struct {
	JitterSeed uint64 `yaml:"jitter_seed"`
}

// PricingConfig holds the feed guardrails and optional opening prices.
type PricingConfig struct {
	MaxAge          time.Duration            `yaml:"max_age"`
	AssetMaxAge     map[string]time.Duration `yaml:"asset_max_age"`
	MaxDeviationBps uint32                   `yaml:"max_deviation_bps"`
	Seed            map[string]string        `yaml:"seed"`
}

type SweeperConfig struct {
	Disabled bool          `yaml:"disabled"`
	Schedule string        `yaml:"schedule"`
	Timeout  time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
	Compress    bool   `yaml:"compress"`
	LogRequests bool   `yaml:"log_requests"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	cfg := Config{ListenAddress: defaultListen}
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Secret resolves the HMAC secret, preferring the environment variable.
func (cfg AuthConfig) Secret() string {
	if cfg.HMACSecretEnv != "" {
		if value := strings.TrimSpace(os.Getenv(cfg.HMACSecretEnv)); value != "" {
			return value
		}
	}
	return cfg.HMACSecret
}

// ResolvedPassword returns the redis password, preferring the environment
// variable.
func (cfg RedisConfig) ResolvedPassword() string {
	if cfg.PasswordEnv != "" {
		if value := os.Getenv(cfg.PasswordEnv); value != "" {
			return value
		}
	}
	return cfg.Password
}

// MTLSEnabled reports whether mutual TLS verification is configured.
func (cfg TLSConfig) MTLSEnabled() bool {
	return strings.TrimSpace(cfg.ClientCAPath) != ""
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	cfg.TLS.CertPath = strings.TrimSpace(cfg.TLS.CertPath)
	cfg.TLS.KeyPath = strings.TrimSpace(cfg.TLS.KeyPath)
	cfg.TLS.ClientCAPath = strings.TrimSpace(cfg.TLS.ClientCAPath)

	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	cfg.Auth.HMACSecretEnv = strings.TrimSpace(cfg.Auth.HMACSecretEnv)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.Audience = strings.TrimSpace(cfg.Auth.Audience)
	cfg.Auth.Scope = strings.TrimSpace(cfg.Auth.Scope)

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverSQLite
	}
	cfg.Storage.Path = strings.TrimSpace(cfg.Storage.Path)
	if cfg.Storage.Driver == DriverSQLite && cfg.Storage.Path == "" {
		cfg.Storage.Path = "lendrisk.db"
	}
	cfg.Storage.Redis.Addr = strings.TrimSpace(cfg.Storage.Redis.Addr)

	cfg.Regime = strings.TrimSpace(cfg.Regime)
	cfg.LoanAsset = strings.ToUpper(strings.TrimSpace(cfg.LoanAsset))
	if cfg.Pricing.MaxAge <= 0 {
		cfg.Pricing.MaxAge = 5 * time.Minute
	}
	cfg.Sweeper.Schedule = strings.TrimSpace(cfg.Sweeper.Schedule)
	if cfg.Sweeper.Schedule == "" {
		cfg.Sweeper.Schedule = "@every 5m"
	}
	cfg.Logging.File = strings.TrimSpace(cfg.Logging.File)
	if cfg.Logging.File != "" && cfg.Logging.MaxSizeMB <= 0 {
		cfg.Logging.MaxSizeMB = 100
	}
}

func (cfg *Config) validate() error {
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if cfg.Auth.HMACSecret == "" && cfg.Auth.HMACSecretEnv == "" && !cfg.Auth.AllowAnonymous {
		return fmt.Errorf("auth: hmac_secret or hmac_secret_env required unless allow_anonymous=true")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	switch cfg.Storage.Driver {
	case DriverSQLite, DriverMemory:
	case DriverRedis:
		if cfg.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage: redis.addr required for the redis driver")
		}
	default:
		return fmt.Errorf("storage: unknown driver %q", cfg.Storage.Driver)
	}
	for asset, age := range cfg.Pricing.AssetMaxAge {
		if age <= 0 {
			return fmt.Errorf("pricing: asset_max_age for %s must be positive", asset)
		}
	}
	if cfg.Pricing.MaxDeviationBps > 10_000 {
		return fmt.Errorf("pricing: max_deviation_bps %d exceeds 10000", cfg.Pricing.MaxDeviationBps)
	}
	if cfg.Sweeper.Timeout < 0 {
		return fmt.Errorf("sweeper: timeout must not be negative")
	}
	return nil
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	if cfg.ClientCAPath != "" && !hasCert {
		return fmt.Errorf("client_ca requires a server certificate and key")
	}
	return nil
}

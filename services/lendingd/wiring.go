package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"lendrisk/observability/metrics"
	"lendrisk/services/lending/engine"
	"lendrisk/services/lending/kvstore"
	"lendrisk/services/lending/pricing"
	"lendrisk/services/lending/storage"
	"lendrisk/services/lendingd/config"
)

// openStore builds the persistence driver selected in the config.
func openStore(ctx context.Context, cfg config.StorageConfig) (engine.Store, func() error, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return engine.NewMemoryStore(), func() error { return nil }, nil
	case config.DriverRedis:
		store, err := kvstore.Dial(ctx, kvstore.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.ResolvedPassword(),
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		return store, store.Close, nil
	case config.DriverSQLite:
		dsn, err := storage.FileDSN(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		store, err := storage.Open(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// buildFeed constructs the price feed and applies the opening prices.
func buildFeed(cfg config.PricingConfig, m *metrics.LendingMetrics, now time.Time) (*pricing.Feed, error) {
	feed := pricing.NewFeed(pricing.Config{
		DefaultMaxAge:   cfg.MaxAge,
		MaxAge:          cfg.AssetMaxAge,
		MaxDeviationBps: cfg.MaxDeviationBps,
	})
	feed.SetMetrics(m)
	for asset, raw := range cfg.Seed {
		price, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("pricing: seed price for %s: %w", asset, err)
		}
		if err := feed.Update(pricing.Observation{AssetID: asset, PriceUSD: price, ObservedAt: now, Source: "config"}); err != nil {
			return nil, err
		}
	}
	return feed, nil
}

// checkPlaintext restricts plaintext listeners to loopback addresses outside
// the dev environment.
func checkPlaintext(cfg config.TLSConfig, addr net.Addr, env string) error {
	if !cfg.AllowInsecure || cfg.CertPath != "" {
		return nil
	}
	tcpAddr, _ := addr.(*net.TCPAddr)
	loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
	if !strings.EqualFold(env, "dev") && !loopback {
		return fmt.Errorf("plaintext lendingd mode is restricted to loopback listeners or dev environment")
	}
	return nil
}

func loadTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.CertPath == "" || cfg.KeyPath == "" {
		if cfg.AllowInsecure {
			return nil, nil
		}
		return nil, fmt.Errorf("tls credentials are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	tlsCfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}
	if cfg.MTLSEnabled() {
		pem, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse client ca: invalid pem data")
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsCfg, nil
}

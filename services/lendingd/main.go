package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lendrisk/native/lending"
	"lendrisk/observability/logging"
	"lendrisk/observability/metrics"
	telemetry "lendrisk/observability/otel"
	"lendrisk/services/lending/engine"
	"lendrisk/services/lending/server"
	"lendrisk/services/lending/sweeper"
	"lendrisk/services/lendingd/config"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("LENDRISK_ENV"))
	logger, logCloser := logging.Setup("lendingd", env, logging.Options{
		Level:      logging.ParseLevel(cfg.Logging.Level),
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("lendingd", env))
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, env, logger); err != nil {
		logger.Error("lendingd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, env string, logger *slog.Logger) error {
	regime := lending.DefaultConfig()
	if cfg.Regime != "" {
		loaded, err := lending.LoadConfig(cfg.Regime)
		if err != nil {
			return err
		}
		regime = loaded
	}

	store, closeStore, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close store", slog.Any("error", err))
		}
	}()

	lendingMetrics := metrics.Lending()
	feed, err := buildFeed(cfg.Pricing, lendingMetrics, time.Now())
	if err != nil {
		return err
	}

	opts := engine.Options{Logger: logger, Metrics: lendingMetrics, LoanAsset: cfg.LoanAsset}
	if cfg.Quote.JitterSeed != 0 {
		opts.Jitter = lending.NewSeededJitter(cfg.Quote.JitterSeed)
	}
	svc, err := engine.New(regime, store, feed, opts)
	if err != nil {
		return err
	}

	var serverOpts []server.Option
	if !cfg.Sweeper.Disabled {
		sw, err := sweeper.New(svc, sweeper.Config{Schedule: cfg.Sweeper.Schedule, Timeout: cfg.Sweeper.Timeout}, logger)
		if err != nil {
			return err
		}
		if err := sw.Start(); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
			defer cancel()
			if err := sw.Stop(stopCtx); err != nil {
				logger.Warn("sweeper stop", slog.Any("error", err))
			}
		}()
		serverOpts = append(serverOpts, server.WithSweeper(sw))
	}

	api, err := server.New(svc, feed, server.Config{
		ServiceName: "lendingd",
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.Secret(),
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			Scope:      cfg.Auth.Scope,
			ClockSkew:  cfg.Auth.ClockSkew,
		},
		RateLimit:      server.RateLimit{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst},
		RequestTimeout: cfg.RequestTimeout,
		LogRequests:    cfg.Logging.LogRequests,
	}, logger, serverOpts...)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return err
	}
	if err := checkPlaintext(cfg.TLS, listener.Addr(), env); err != nil {
		listener.Close()
		return err
	}
	tlsCfg, err := loadTLSConfig(cfg.TLS)
	if err != nil {
		listener.Close()
		return err
	}

	httpServer := &http.Server{
		Handler:           otelhttp.NewHandler(api.Handler(), "lendingd"),
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig:         tlsCfg,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening",
			slog.String("addr", listener.Addr().String()),
			slog.String("storage", cfg.Storage.Driver),
			slog.Bool("tls", tlsCfg != nil))
		if tlsCfg != nil {
			serverErr <- httpServer.ServeTLS(listener, "", "")
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			return httpServer.Close()
		}
		return nil
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Package cli holds the startup steps shared by cmd/ledger and cmd/ledger-worker.
package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"finapp/internal/backend"
	"finapp/internal/config"
	"finapp/internal/log"
	"finapp/internal/storage"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored as the file is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from cfg and installs it as the slog default.
func SetupLogger(cfg *config.Config, component string, out io.Writer) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: component,
		Output:    out,
	})
	log.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration, sets up logging and validates.
// Exits the process on validation failure.
func LoadAndValidateConfig(component string) (*config.Config, *log.Logger) {
	LoadEnvFile()
	cfg := config.Load()
	logger := SetupLogger(cfg, component, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err.Error())
		os.Exit(1)
	}
	return cfg, logger
}

// InitSentry initializes error reporting when a DSN is configured.
// The returned flush must be deferred by the caller; it is a no-op when Sentry is off.
func InitSentry(cfg *config.Config, serverName string, logger *log.Logger) (flush func()) {
	if cfg.SentryDSN == "" {
		return func() {}
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
		ServerName:  serverName,
	}); err != nil {
		logger.Error("Sentry initialization failed", log.FieldError, err.Error())
		return func() {}
	}
	return func() { sentry.Flush(2 * time.Second) }
}

// InitBackend creates the store and event transport selected by cfg.
// Exits the process on failure.
func InitBackend(ctx context.Context, cfg *config.Config, withConsumer bool, logger *log.Logger) *backend.BackendResult {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err.Error())
		os.Exit(1)
	}
	backendCfg.WithConsumer = withConsumer

	res, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err.Error(),
			"data_backend", cfg.DataBackend, "events_backend", cfg.EventsBackend)
		os.Exit(1)
	}
	return res
}

// CloseBackend runs the backend cleanup, logging any failure.
func CloseBackend(res *backend.BackendResult, logger *log.Logger) {
	if err := res.Cleanup(); err != nil {
		logger.Error("Backend cleanup failed", log.FieldError, err.Error())
	}
}

// NewRegistry returns a registry carrying the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// readinessProbePath is never written; reading it exercises the store round trip.
const readinessProbePath = "health/probe"

// StoreReadiness reports whether the store answers reads.
// A missing probe document counts as ready.
func StoreReadiness(store storage.Store) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var probe struct{}
		err := store.Get(ctx, readinessProbePath, &probe)
		if err == nil || errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM.
// When a signal arrives, cleanup runs with a context bounded by timeout before the returned context is cancelled.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		}
		cancel()
	}()

	return ctx
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"finapp/internal/cli"
	apphttp "finapp/internal/http"
	"finapp/internal/ledger"
	"finapp/internal/log"
)

func main() {
	cfg, logger := cli.LoadAndValidateConfig(log.ComponentApp)

	flush := cli.InitSentry(cfg, "finapp-ledger", logger)
	defer flush()

	res := cli.InitBackend(context.Background(), cfg, false, logger)
	defer cli.CloseBackend(res, logger)

	registry := cli.NewRegistry()

	coord := ledger.NewCoordinator(res.Store,
		ledger.WithPublisher(res.Publisher),
		ledger.WithLogger(logger),
		ledger.WithMetrics(ledger.NewMetrics(registry)),
		ledger.WithRetryPolicy(ledger.RetryPolicy{
			MaxAttempts: cfg.TxMaxAttempts,
			BaseBackoff: cfg.TxBaseBackoff,
			MaxBackoff:  cfg.TxMaxBackoff,
		}),
	)

	srv := apphttp.NewServer(apphttp.Config{
		Addr:         ":" + cfg.Port,
		RateLimitRPM: cfg.RateLimitRPM,
		Registry:     registry,
		Logger:       logger,
		Readiness:    cli.StoreReadiness(res.Store),
	}, coord)

	ctx := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err.Error())
		}
	})

	logger.Info("Starting ledger API",
		"port", cfg.Port,
		"data_backend", cfg.DataBackend,
		"events_backend", cfg.EventsBackend,
		"environment", cfg.Environment)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err.Error(), "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"finapp/internal/cli"
	"finapp/internal/config"
	"finapp/internal/ledger"
	"finapp/internal/log"
	"finapp/internal/notify"
	"finapp/internal/worker"
)

func main() {
	cfg, logger := cli.LoadAndValidateConfig(log.ComponentWorker)
	logger.Info("Starting ledger-worker")

	flush := cli.InitSentry(cfg, "finapp-ledger-worker", logger)
	defer flush()

	ctx := cli.GracefulShutdown(logger, 10*time.Second, nil)

	res := cli.InitBackend(ctx, cfg, true, logger)
	defer cli.CloseBackend(res, logger)

	registry := cli.NewRegistry()
	metrics := ledger.NewMetrics(registry)

	coord := ledger.NewCoordinator(res.Store,
		ledger.WithLogger(logger),
		ledger.WithMetrics(metrics),
	)
	reconciler := ledger.NewReconciler(res.Store, metrics, logger)

	notifier, err := newNotifier(ctx, cfg, coord, logger)
	if err != nil {
		logger.Error("Failed to initialize notifier", log.FieldError, err.Error(), "notify_backend", cfg.NotifyBackend)
		return
	}

	w := worker.New(reconciler, coord, notifier, logger)

	g, gctx := errgroup.WithContext(ctx)

	if res.Consumer != nil {
		g.Go(func() error {
			err := res.Consumer.Consume(gctx, w.Handle)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Info("Event consumption disabled", "events_backend", cfg.EventsBackend)
	}

	g.Go(func() error {
		// One pass at startup catches drift from before the last shutdown.
		if err := w.Sweep(gctx); err != nil {
			logger.Error("Startup reconciliation failed", log.FieldError, err.Error())
		}
		w.RunSweeps(gctx, cfg.ReconcileInterval)
		return nil
	})

	if cfg.WorkerMetricsPort != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{
			Addr:              ":" + cfg.WorkerMetricsPort,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", log.FieldError, err.Error())
		sentry.CaptureException(err)
		return
	}
	logger.Info("Worker stopped gracefully")
}

func newNotifier(ctx context.Context, cfg *config.Config, coord *ledger.Coordinator, logger *log.Logger) (notify.Notifier, error) {
	if cfg.NotifyBackend != "fcm" {
		return notify.NewLogNotifier(logger), nil
	}
	return notify.NewFCMNotifier(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsFile, coord.RemoveDevice, logger)
}

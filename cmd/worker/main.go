package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/booking-payments/internal/bootstrap"
	"github.com/cassiomorais/booking-payments/internal/events"
	"github.com/cassiomorais/booking-payments/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "payments-worker", "payments_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	workerCfg := app.Config.Worker
	if app.Pool == nil {
		app.Logger.Warn().Msg("Worker running on in-memory storage only sees its own payments")
	}
	g, gCtx := errgroup.WithContext(ctx)

	// 1. Reconciliation sweep for intents stuck in processing.
	g.Go(func() error {
		return runReconciler(gCtx, app.Logger, app.Payments, app.Config.Payment.ReconcileInterval)
	})

	// 2. Outbox relay, only when events are staged in postgres.
	if app.Config.Events.Sink == "outbox" {
		sink, err := app.NewSink(ctx, workerCfg.OutboxRelay)
		if err != nil {
			app.Logger.Error().Err(err).Msg("Failed to create relay sink")
			app.Close()
			os.Exit(1)
		}
		defer sink.Close()

		relay := events.NewRelay(app.Outbox, app.Tx, sink, app.Logger, app.Metrics, workerCfg.BatchSize)
		app.Logger.Info().
			Str("target", workerCfg.OutboxRelay).
			Dur("interval", workerCfg.OutboxPollInterval).
			Msg("Outbox relay started")
		g.Go(func() error {
			return relay.Run(gCtx, workerCfg.OutboxPollInterval)
		})
	}

	// 3. Metrics endpoint.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", workerCfg.MetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		app.Logger.Info().Msg("Shutting down worker...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}

func runReconciler(ctx context.Context, logger zerolog.Logger, payments *service.PaymentService, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		report, err := payments.Reconcile(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Reconciliation sweep failed")
			continue
		}
		if report.Checked > 0 {
			logger.Info().
				Int("checked", report.Checked).
				Int("completed", report.Completed).
				Int("failed", report.Failed).
				Int("pending", report.Pending).
				Int("skipped", report.Skipped).
				Int("errors", report.Errors).
				Msg("Reconciliation sweep finished")
		}
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/booking-payments/internal/domain/errors"
	"github.com/cassiomorais/booking-payments/internal/domain/payment"
	"github.com/cassiomorais/booking-payments/internal/events"
	"github.com/cassiomorais/booking-payments/internal/infrastructure/observability"
	"github.com/cassiomorais/booking-payments/internal/providers"
	"github.com/rs/zerolog"
)

// Reconcile asks providers about intents stuck in processing longer than
// ReconcileAfter. Only definite outcomes are applied; everything else is
// left for the next sweep. Per-intent failures are counted, not returned.
func (s *PaymentService) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	cutoff := s.now().Add(-s.opts.ReconcileAfter)
	stale, err := s.repo.ListStale(ctx, payment.StatusProcessing, cutoff, s.opts.ReconcileBatch)
	if err != nil {
		return report, fmt.Errorf("list stale payments: %w", err)
	}

	for _, p := range stale {
		if ctx.Err() != nil {
			break
		}
		report.Checked++
		outcome := s.reconcileOne(ctx, p)
		switch outcome {
		case "completed":
			report.Completed++
		case "failed":
			report.Failed++
		case "pending":
			report.Pending++
		case "skipped":
			report.Skipped++
		default:
			report.Errors++
		}
		s.metrics.ReconciliationResult.WithLabelValues(outcome).Inc()
	}

	if report.Checked > 0 {
		s.logger.Info().
			Int("checked", report.Checked).
			Int("completed", report.Completed).
			Int("failed", report.Failed).
			Int("pending", report.Pending).
			Int("skipped", report.Skipped).
			Int("errors", report.Errors).
			Msg("Reconciliation sweep finished")
	}
	return report, nil
}

func (s *PaymentService) reconcileOne(ctx context.Context, p *payment.Intent) string {
	log := observability.ForPayment(s.logger, p.ID, map[string]any{"provider": p.Provider})

	gw, err := s.gateways.Get(p.Provider)
	if err != nil {
		log.Error().Err(err).Msg("No gateway for stale payment")
		return "error"
	}

	res, err := traced(ctx, s, p.ID, p.Provider, "lookup", func(ctx context.Context) (*providers.LookupResult, error) {
		return gw.Lookup(ctx, p.ProviderRef)
	})
	if err != nil {
		log.Warn().Err(err).Msg("Provider lookup failed during reconciliation")
		return "error"
	}

	now := s.now().Format(time.RFC3339)
	recon := map[string]any{"resolvedAt": now, "providerStatus": res.ProviderState}

	switch res.Outcome {
	case providers.LookupSucceeded:
		updated, err := s.repo.UpdateStatus(ctx, p.ID, payment.StatusProcessing, payment.StatusCompleted, map[string]any{
			"processingDetails": map[string]any{
				"transactionId": res.TransactionID,
				"provider":      string(p.Provider),
				"completedAt":   now,
			},
			"reconciliation": recon,
		})
		if err != nil {
			return s.reconcileWriteFailed(log, err)
		}
		s.metrics.PaymentTransition.WithLabelValues(string(updated.Provider), string(payment.StatusCompleted)).Inc()
		log.Info().Str("transaction_id", res.TransactionID).Msg("Stale payment reconciled as completed")
		s.publisher.Publish(ctx, events.TopicPaymentCompleted, map[string]any{
			"paymentId":     updated.ID,
			"bookingId":     updated.BookingID,
			"customerId":    updated.CustomerID,
			"vendorId":      updated.VendorID,
			"amount":        payment.FormatAmount(updated.Amount),
			"currency":      updated.Currency,
			"provider":      string(updated.Provider),
			"transactionId": res.TransactionID,
		})
		return "completed"

	case providers.LookupFailed:
		message := "provider reported payment as " + res.ProviderState
		updated, err := s.repo.UpdateStatus(ctx, p.ID, payment.StatusProcessing, payment.StatusFailed, map[string]any{
			"error": map[string]any{
				"message":  message,
				"kind":     "reconciled",
				"failedAt": now,
			},
			"reconciliation": recon,
		})
		if err != nil {
			return s.reconcileWriteFailed(log, err)
		}
		s.metrics.PaymentTransition.WithLabelValues(string(updated.Provider), string(payment.StatusFailed)).Inc()
		log.Warn().Str("provider_state", res.ProviderState).Msg("Stale payment reconciled as failed")
		s.publisher.Publish(ctx, events.TopicPaymentFailed, map[string]any{
			"paymentId":  updated.ID,
			"bookingId":  updated.BookingID,
			"customerId": updated.CustomerID,
			"provider":   string(updated.Provider),
			"error":      message,
		})
		return "failed"
	}

	log.Debug().Str("provider_state", res.ProviderState).Msg("Stale payment still pending at provider")
	return "pending"
}

// A status mismatch means the in-flight confirm resolved the intent first.
func (s *PaymentService) reconcileWriteFailed(log zerolog.Logger, err error) string {
	var ce *domainErrors.ConflictError
	if errors.As(err, &ce) {
		log.Debug().Str("current", ce.Current).Msg("Stale payment resolved concurrently")
		return "skipped"
	}
	log.Error().Err(err).Msg("Reconciled outcome could not be recorded")
	return "error"
}

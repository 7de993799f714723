package events

import (
	"context"
	"time"

	"github.com/cassiomorais/booking-payments/internal/domain/outbox"
	"github.com/cassiomorais/booking-payments/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// TxRunner runs fn inside one database transaction.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Relay moves staged outbox entries to a real sink. Each batch is claimed
// and settled in one transaction, so concurrent relays never publish the
// same entry twice.
type Relay struct {
	repo      outbox.Repository
	tx        TxRunner
	sink      Sink
	logger    zerolog.Logger
	metrics   *observability.Metrics
	batchSize int
}

func NewRelay(repo outbox.Repository, tx TxRunner, sink Sink, logger zerolog.Logger, metrics *observability.Metrics, batchSize int) *Relay {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Relay{
		repo:      repo,
		tx:        tx,
		sink:      sink,
		logger:    logger.With().Str("component", "outbox_relay").Logger(),
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// RunOnce relays one batch and returns how many entries were published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	published := 0
	err := r.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		entries, err := r.repo.GetPending(txCtx, r.batchSize)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := r.relay(txCtx, entry); err != nil {
				r.logger.Error().Err(err).
					Str("outbox_id", entry.ID.String()).
					Str("topic", entry.Topic).
					Int("attempt", entry.Attempts+1).
					Msg("Failed to publish outbox event")
				r.metrics.OutboxRelayed.WithLabelValues("failed").Inc()
				if err := r.repo.MarkFailed(txCtx, entry.ID, err.Error()); err != nil {
					return err
				}
				continue
			}
			if err := r.repo.MarkPublished(txCtx, entry.ID); err != nil {
				return err
			}
			r.metrics.OutboxRelayed.WithLabelValues("published").Inc()
			published++
		}
		return nil
	})
	return published, err
}

func (r *Relay) relay(ctx context.Context, entry *outbox.Entry) error {
	e, err := Decode(entry.Payload)
	if err != nil {
		return err
	}
	return r.sink.Publish(ctx, e)
}

// Run polls the outbox every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error().Err(err).Msg("Outbox relay error")
		}
	}
}

package events

import (
	"context"
	"fmt"

	"github.com/cassiomorais/booking-payments/internal/domain/outbox"
	"github.com/rs/zerolog"
)

// Sink delivers one event to a transport.
type Sink interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Publisher is what the payment service emits through. Implementations must
// not block on, or report, delivery failures.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload map[string]any)
}

// LogSink writes events to the structured log. It is the default for local
// runs.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "event_log_sink").Logger()}
}

func (s *LogSink) Publish(_ context.Context, e Event) error {
	s.logger.Info().
		Str("event_id", e.ID).
		Str("topic", e.Topic).
		Str("key", e.Key).
		Interface("data", e.Data).
		Msg("event")
	return nil
}

func (s *LogSink) Close() error { return nil }

// OutboxSink stages events in the outbox table; the worker relays them to
// the real transport.
type OutboxSink struct {
	repo outbox.Repository
}

func NewOutboxSink(repo outbox.Repository) *OutboxSink {
	return &OutboxSink{repo: repo}
}

func (s *OutboxSink) Publish(ctx context.Context, e Event) error {
	payload, err := e.Marshal()
	if err != nil {
		return err
	}
	if err := s.repo.Insert(ctx, outbox.NewEntry(e.Topic, e.Key, payload)); err != nil {
		return fmt.Errorf("stage event %s: %w", e.Topic, err)
	}
	return nil
}

func (s *OutboxSink) Close() error { return nil }

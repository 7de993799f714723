package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/booking-payments/internal/events"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Sink writes events to a single Kafka topic keyed by payment id, so all
// events of one payment land on the same partition.
type Sink struct {
	writer messageWriter
	logger zerolog.Logger
}

func NewSink(brokers []string, topic string, logger zerolog.Logger) *Sink {
	l := logger.With().Str("component", "kafka_sink").Str("topic", topic).Logger()
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafkago.RequireAll,
		MaxAttempts:  3,
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			l.Error().Msgf(msg, args...)
		}),
	}
	return &Sink{writer: w, logger: l}
}

func (s *Sink) Publish(ctx context.Context, e events.Event) error {
	payload, err := e.Marshal()
	if err != nil {
		return err
	}

	msg := kafkago.Message{
		Key:   []byte(e.Key),
		Value: payload,
		Time:  e.OccurredAt,
		Headers: []kafkago.Header{
			{Key: "event_id", Value: []byte(e.ID)},
			{Key: "event_type", Value: []byte(e.Topic)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s to kafka: %w", e.Topic, err)
	}
	s.logger.Debug().Str("event_id", e.ID).Str("key", e.Key).Msg("Event written")
	return nil
}

func (s *Sink) Close() error {
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

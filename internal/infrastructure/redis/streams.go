package redis

import (
	"context"
	"fmt"

	"github.com/cassiomorais/booking-payments/internal/events"
	"github.com/redis/go-redis/v9"
)

const DefaultEventStream = "payment-events"

// StreamSink appends events to a Redis stream. Stream length is capped
// approximately at maxLen entries.
type StreamSink struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

func NewStreamSink(client redis.Cmdable, stream string) *StreamSink {
	if stream == "" {
		stream = DefaultEventStream
	}
	return &StreamSink{client: client, stream: stream, maxLen: 100_000}
}

func (s *StreamSink) Publish(ctx context.Context, e events.Event) error {
	payload, err := e.Marshal()
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":   e.ID,
			"topic":      e.Topic,
			"payment_id": e.Key,
			"payload":    string(payload),
			"timestamp":  e.OccurredAt.Unix(),
		},
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s to %s: %w", e.Topic, s.stream, err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (s *StreamSink) Close() error { return nil }

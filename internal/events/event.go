// Package events carries payment lifecycle notifications to downstream
// consumers. Delivery is best effort: a sink failure never reaches the
// caller that emitted the event.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TopicPaymentCreated   = "payment.created"
	TopicPaymentCompleted = "payment.completed"
	TopicPaymentFailed    = "payment.failed"
	TopicPaymentRefunded  = "payment.refunded"
	TopicPaymentCancelled = "payment.cancelled"
)

// Event is the envelope written to every sink.
type Event struct {
	ID         string         `json:"id"`
	Topic      string         `json:"topic"`
	Key        string         `json:"key"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       map[string]any `json:"data"`
}

// NewEvent builds an envelope for payload. The ordering key is the
// payload's paymentId when present.
func NewEvent(topic string, payload map[string]any) Event {
	key, _ := payload["paymentId"].(string)
	return Event{
		ID:         uuid.NewString(),
		Topic:      topic,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
}

func (e Event) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", e.Topic, err)
	}
	return b, nil
}

// Decode parses an envelope produced by Marshal.
func Decode(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.Topic == "" {
		return Event{}, fmt.Errorf("decode event: missing topic")
	}
	return e, nil
}

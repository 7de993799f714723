package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/cassiomorais/booking-payments/internal/events"
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// Sink publishes events to one Pub/Sub topic. Consumers order by the
// occurred_at attribute; the topic itself is unordered.
type Sink struct {
	client *gcppubsub.Client
	pub    publisher
	stop   func()
}

// NewSink connects to projectID and binds topic, given as an id or a full
// projects/<p>/topics/<t> resource name.
func NewSink(ctx context.Context, projectID, topic string) (*Sink, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.New("gcp project id is required")
	}
	client, err := gcppubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	p := client.Publisher(topicResourceName(projectID, topic))

	return &Sink{
		client: client,
		pub:    &gcpPublisher{Publisher: p},
		stop:   p.Stop,
	}, nil
}

func topicResourceName(projectID, topic string) string {
	if strings.HasPrefix(topic, "projects/") {
		return topic
	}
	return fmt.Sprintf("projects/%s/topics/%s", projectID, topic)
}

func (s *Sink) Publish(ctx context.Context, e events.Event) error {
	data, err := e.Marshal()
	if err != nil {
		return err
	}

	msg := &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event_id":    e.ID,
			"event_type":  e.Topic,
			"payment_id":  e.Key,
			"occurred_at": e.OccurredAt.Format(time.RFC3339Nano),
		},
	}

	result := s.pub.Publish(ctx, msg)
	if result == nil {
		return fmt.Errorf("publisher returned nil for %s", e.Topic)
	}
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", e.Topic, err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.stop != nil {
		s.stop()
	}
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}

package events

import (
	"context"
	"sync"
	"time"

	"github.com/cassiomorais/booking-payments/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

type DispatcherOptions struct {
	Buffer         int
	PublishTimeout time.Duration
}

// Dispatcher is the asynchronous Publisher. Events are queued and handed to
// the sink by a single goroutine, so per-key order is preserved. When the
// queue is full the event is dropped and counted.
type Dispatcher struct {
	sink    Sink
	logger  zerolog.Logger
	metrics *observability.Metrics
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

func NewDispatcher(sink Sink, logger zerolog.Logger, metrics *observability.Metrics, opts DispatcherOptions) *Dispatcher {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	d := &Dispatcher{
		sink:    sink,
		logger:  logger.With().Str("component", "event_dispatcher").Logger(),
		metrics: metrics,
		timeout: opts.PublishTimeout,
		queue:   make(chan Event, opts.Buffer),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish queues an event and returns immediately. ctx only contributes its
// values; cancelling it does not cancel delivery.
func (d *Dispatcher) Publish(_ context.Context, topic string, payload map[string]any) {
	e := NewEvent(topic, payload)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(e, "dispatcher closed")
		return
	}
	select {
	case d.queue <- e:
	default:
		d.drop(e, "buffer full")
	}
}

func (d *Dispatcher) drop(e Event, reason string) {
	d.metrics.EventsDropped.Inc()
	d.logger.Warn().Str("topic", e.Topic).Str("key", e.Key).Str("reason", reason).Msg("Event dropped")
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sink.Publish(ctx, e); err != nil {
		d.metrics.EventsPublished.WithLabelValues(e.Topic, "error").Inc()
		d.logger.Error().Err(err).
			Str("event_id", e.ID).
			Str("topic", e.Topic).
			Str("key", e.Key).
			Msg("Failed to publish event")
		return
	}
	d.metrics.EventsPublished.WithLabelValues(e.Topic, "ok").Inc()
}

// Close stops accepting events, drains the queue, and closes the sink.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.done
	return d.sink.Close()
}

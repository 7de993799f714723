package events

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cassiomorais/booking-payments/internal/domain/outbox"
	"github.com/cassiomorais/booking-payments/internal/infrastructure/observability"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{}
	closed bool
}

func (s *recordingSink) Publish(_ context.Context, e Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Topic
	}
	return out
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	sink := &recordingSink{}
	m := observability.NewTestMetrics()
	d := NewDispatcher(sink, zerolog.Nop(), m, DispatcherOptions{Buffer: 8})

	d.Publish(context.Background(), TopicPaymentCreated, map[string]any{"paymentId": "pay_1_a"})
	d.Publish(context.Background(), TopicPaymentCompleted, map[string]any{"paymentId": "pay_1_a"})
	require.NoError(t, d.Close())

	assert.Equal(t, []string{TopicPaymentCreated, TopicPaymentCompleted}, sink.topics())
	assert.Equal(t, "pay_1_a", sink.events[0].Key)
	assert.True(t, sink.closed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues(TopicPaymentCompleted, "ok")))
}

func TestDispatcher_SinkErrorIsSwallowed(t *testing.T) {
	var logs bytes.Buffer
	sink := &recordingSink{err: errors.New("broker down")}
	m := observability.NewTestMetrics()
	d := NewDispatcher(sink, zerolog.New(&logs), m, DispatcherOptions{Buffer: 8})

	assert.NotPanics(t, func() {
		d.Publish(context.Background(), TopicPaymentFailed, map[string]any{"paymentId": "pay_1_b"})
	})
	require.NoError(t, d.Close())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues(TopicPaymentFailed, "error")))
	assert.Contains(t, logs.String(), "broker down")
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	m := observability.NewTestMetrics()
	d := NewDispatcher(sink, zerolog.Nop(), m, DispatcherOptions{Buffer: 1})

	// The first event is picked up by the delivery goroutine and blocks there,
	// the second fills the buffer, the rest are dropped.
	d.Publish(context.Background(), TopicPaymentCreated, nil)
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	d.Publish(context.Background(), TopicPaymentCreated, nil)
	d.Publish(context.Background(), TopicPaymentCreated, nil)
	d.Publish(context.Background(), TopicPaymentCreated, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsDropped))

	close(sink.block)
	require.NoError(t, d.Close())
	assert.Len(t, sink.topics(), 2)
}

func TestDispatcher_PublishAfterClose(t *testing.T) {
	sink := &recordingSink{}
	m := observability.NewTestMetrics()
	d := NewDispatcher(sink, zerolog.Nop(), m, DispatcherOptions{})
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	d.Publish(context.Background(), TopicPaymentCreated, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped))
	assert.Empty(t, sink.topics())
}

func TestEvent_MarshalDecode(t *testing.T) {
	e := NewEvent(TopicPaymentRefunded, map[string]any{"paymentId": "pay_1_c", "amount": "20.00"})

	b, err := e.Marshal()
	require.NoError(t, err)

	back, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, e.ID, back.ID)
	assert.Equal(t, TopicPaymentRefunded, back.Topic)
	assert.Equal(t, "pay_1_c", back.Key)
	assert.Equal(t, "20.00", back.Data["amount"])
	assert.True(t, e.OccurredAt.Equal(back.OccurredAt))

	_, err = Decode([]byte(`{"id":"x"}`))
	assert.Error(t, err)
}

type fakeOutboxRepo struct {
	entries []*outbox.Entry
	err     error
}

func (r *fakeOutboxRepo) Insert(_ context.Context, e *outbox.Entry) error {
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, e)
	return nil
}
func (r *fakeOutboxRepo) GetPending(context.Context, int) ([]*outbox.Entry, error) {
	return r.entries, nil
}
func (r *fakeOutboxRepo) MarkPublished(context.Context, uuid.UUID) error       { return nil }
func (r *fakeOutboxRepo) MarkFailed(context.Context, uuid.UUID, string) error { return nil }

func TestOutboxSink_StagesEnvelope(t *testing.T) {
	repo := &fakeOutboxRepo{}
	sink := NewOutboxSink(repo)

	e := NewEvent(TopicPaymentCompleted, map[string]any{"paymentId": "pay_1_d"})
	require.NoError(t, sink.Publish(context.Background(), e))

	require.Len(t, repo.entries, 1)
	assert.Equal(t, TopicPaymentCompleted, repo.entries[0].Topic)
	assert.Equal(t, "pay_1_d", repo.entries[0].Key)

	back, err := Decode(repo.entries[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, e.ID, back.ID)

	repo.err = errors.New("db down")
	assert.ErrorContains(t, sink.Publish(context.Background(), e), "db down")
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))

	require.NoError(t, sink.Publish(context.Background(), NewEvent(TopicPaymentCancelled, map[string]any{"paymentId": "pay_1_e"})))
	assert.Contains(t, buf.String(), TopicPaymentCancelled)
	assert.Contains(t, buf.String(), "pay_1_e")
	assert.NoError(t, sink.Close())
}

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cassiomorais/booking-payments/internal/domain/outbox"
	"github.com/google/uuid"
)

// OutboxStore implements outbox.Repository in memory.
type OutboxStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*outbox.Entry
}

func NewOutboxStore() *OutboxStore {
	return &OutboxStore{entries: make(map[uuid.UUID]*outbox.Entry)}
}

func (s *OutboxStore) Insert(_ context.Context, e *outbox.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *e
	s.entries[e.ID] = &c
	return nil
}

func (s *OutboxStore) GetPending(_ context.Context, limit int) ([]*outbox.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*outbox.Entry
	for _, e := range s.entries {
		if e.Status == outbox.StatusPending {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *OutboxStore) MarkPublished(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		now := time.Now()
		e.Status = outbox.StatusPublished
		e.PublishedAt = &now
	}
	return nil
}

func (s *OutboxStore) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.Attempts++
		e.LastError = reason
		if e.Exhausted() {
			e.Status = outbox.StatusFailed
		}
	}
	return nil
}

// Entries returns a copy of every entry, oldest first.
func (s *OutboxStore) Entries() []*outbox.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*outbox.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

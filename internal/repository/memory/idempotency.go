package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cassiomorais/booking-payments/internal/domain/idempotency"
)

// IdempotencyStore implements idempotency.Store in memory. Expired records
// are dropped lazily on read.
type IdempotencyStore struct {
	mu      sync.Mutex
	records map[string]*idempotency.Record
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{records: make(map[string]*idempotency.Record)}
}

func (s *IdempotencyStore) Get(_ context.Context, key string) (*idempotency.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	if rec.Expired(time.Now()) {
		delete(s.records, key)
		return nil, nil
	}
	c := *rec
	return &c, nil
}

func (s *IdempotencyStore) Set(_ context.Context, rec *idempotency.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *rec
	s.records[rec.Key] = &c
	return nil
}

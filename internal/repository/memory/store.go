// Package memory is an in-process implementation of the persistence ports.
// It backs local runs with storage.driver=memory and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/booking-payments/internal/domain/errors"
	"github.com/cassiomorais/booking-payments/internal/domain/payment"
)

// PaymentStore keeps intents and saved methods in maps behind one mutex.
// Every read and write copies, so callers never share state with the store.
type PaymentStore struct {
	mu      sync.Mutex
	intents map[string]*payment.Intent
	methods map[string][]*payment.Method

	now func() time.Time
}

func NewPaymentStore() *PaymentStore {
	return &PaymentStore{
		intents: make(map[string]*payment.Intent),
		methods: make(map[string][]*payment.Method),
		now:     time.Now,
	}
}

func (s *PaymentStore) Create(_ context.Context, p *payment.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intents[p.ID]; ok {
		return domainErrors.ErrDuplicatePayment
	}
	s.intents[p.ID] = p.Clone()
	return nil
}

func (s *PaymentStore) GetByID(_ context.Context, id string) (*payment.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.intents[id]
	if !ok {
		return nil, domainErrors.ErrPaymentNotFound
	}
	return p.Clone(), nil
}

// UpdateStatus compares and swaps under the store mutex.
func (s *PaymentStore) UpdateStatus(_ context.Context, id string, expected, next payment.PaymentStatus, patch map[string]any) (*payment.Intent, error) {
	if !expected.CanTransitionTo(next) {
		return nil, &domainErrors.ConflictError{
			PaymentID: id, Op: "transition to " + string(next), Current: string(expected),
			Err: domainErrors.ErrInvalidStateTransition,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.intents[id]
	if !ok {
		return nil, domainErrors.ErrPaymentNotFound
	}
	if p.Status != expected {
		return nil, &domainErrors.ConflictError{
			PaymentID: id,
			Op:        "transition to " + string(next),
			Current:   string(p.Status),
			Expected:  string(expected),
			Err:       domainErrors.ErrStatusMismatch,
		}
	}

	p.Status = next
	p.Metadata = payment.MergeMetadata(p.Metadata, patch)
	p.UpdatedAt = s.now()
	return p.Clone(), nil
}

func (s *PaymentStore) ListStale(_ context.Context, status payment.PaymentStatus, cutoff time.Time, limit int) ([]*payment.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*payment.Intent
	for _, p := range s.intents {
		if p.Status == status && p.UpdatedAt.Before(cutoff) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *PaymentStore) CreateMethod(_ context.Context, m *payment.Method) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *m
	if m.Card != nil {
		card := *m.Card
		c.Card = &card
	}
	s.methods[m.CustomerID] = append(s.methods[m.CustomerID], &c)
	return nil
}

// ListMethods returns the customer's methods, newest first.
func (s *PaymentStore) ListMethods(_ context.Context, customerID string) ([]*payment.Method, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.methods[customerID]
	out := make([]*payment.Method, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		c := *stored[i]
		out = append(out, &c)
	}
	return out, nil
}

// SetClock replaces the time source used for updated_at. Tests use it to
// age intents for the reconciliation sweep.
func (s *PaymentStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

package testutil

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	domainErrors "github.com/cassiomorais/booking-payments/internal/domain/errors"
	"github.com/cassiomorais/booking-payments/internal/domain/outbox"
	"github.com/cassiomorais/booking-payments/internal/domain/payment"
	"github.com/cassiomorais/booking-payments/internal/providers"
	"github.com/cassiomorais/booking-payments/internal/repository/memory"
	"github.com/google/uuid"
)

// --- Payment Repository Mock ---

// MockPaymentRepository is the in-memory store with per-method overrides.
type MockPaymentRepository struct {
	*memory.PaymentStore

	CreateFunc       func(ctx context.Context, p *payment.Intent) error
	GetByIDFunc      func(ctx context.Context, id string) (*payment.Intent, error)
	UpdateStatusFunc func(ctx context.Context, id string, expected, next payment.PaymentStatus, patch map[string]any) (*payment.Intent, error)
	ListStaleFunc    func(ctx context.Context, status payment.PaymentStatus, cutoff time.Time, limit int) ([]*payment.Intent, error)
	ListMethodsFunc  func(ctx context.Context, customerID string) ([]*payment.Method, error)
	CreateMethodFunc func(ctx context.Context, m *payment.Method) error
}

func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{PaymentStore: memory.NewPaymentStore()}
}

func (m *MockPaymentRepository) Create(ctx context.Context, p *payment.Intent) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, p)
	}
	return m.PaymentStore.Create(ctx, p)
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id string) (*payment.Intent, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return m.PaymentStore.GetByID(ctx, id)
}

func (m *MockPaymentRepository) UpdateStatus(ctx context.Context, id string, expected, next payment.PaymentStatus, patch map[string]any) (*payment.Intent, error) {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, expected, next, patch)
	}
	return m.PaymentStore.UpdateStatus(ctx, id, expected, next, patch)
}

func (m *MockPaymentRepository) ListStale(ctx context.Context, status payment.PaymentStatus, cutoff time.Time, limit int) ([]*payment.Intent, error) {
	if m.ListStaleFunc != nil {
		return m.ListStaleFunc(ctx, status, cutoff, limit)
	}
	return m.PaymentStore.ListStale(ctx, status, cutoff, limit)
}

func (m *MockPaymentRepository) CreateMethod(ctx context.Context, pm *payment.Method) error {
	if m.CreateMethodFunc != nil {
		return m.CreateMethodFunc(ctx, pm)
	}
	return m.PaymentStore.CreateMethod(ctx, pm)
}

func (m *MockPaymentRepository) ListMethods(ctx context.Context, customerID string) ([]*payment.Method, error) {
	if m.ListMethodsFunc != nil {
		return m.ListMethodsFunc(ctx, customerID)
	}
	return m.PaymentStore.ListMethods(ctx, customerID)
}

// --- Gateway Mock ---

// FakeGateway is a scriptable providers.Gateway. Unset funcs succeed with
// deterministic results derived from the request.
type FakeGateway struct {
	Provider payment.Provider

	InitiateFunc func(ctx context.Context, req providers.InitiateRequest) (*providers.InitiateResult, error)
	ConfirmFunc  func(ctx context.Context, req providers.ConfirmRequest) (*providers.ConfirmResult, error)
	RefundFunc   func(ctx context.Context, req providers.RefundRequest) (*providers.RefundResult, error)
	LookupFunc   func(ctx context.Context, providerRef string) (*providers.LookupResult, error)

	initiates atomic.Int64
	confirms  atomic.Int64
	refunds   atomic.Int64
	lookups   atomic.Int64

	mu          sync.Mutex
	lastConfirm providers.ConfirmRequest
	lastRefund  providers.RefundRequest
}

func NewFakeGateway(p payment.Provider) *FakeGateway {
	return &FakeGateway{Provider: p}
}

func (g *FakeGateway) Name() payment.Provider { return g.Provider }

func (g *FakeGateway) DisplayName() string { return "Fake " + string(g.Provider) }

func (g *FakeGateway) Initiate(ctx context.Context, req providers.InitiateRequest) (*providers.InitiateResult, error) {
	g.initiates.Add(1)
	if g.InitiateFunc != nil {
		return g.InitiateFunc(ctx, req)
	}
	return &providers.InitiateResult{
		ProviderRef:  "ref_" + req.PaymentID,
		ClientSecret: "secret_" + req.PaymentID,
	}, nil
}

func (g *FakeGateway) Confirm(ctx context.Context, req providers.ConfirmRequest) (*providers.ConfirmResult, error) {
	g.confirms.Add(1)
	g.mu.Lock()
	g.lastConfirm = req
	g.mu.Unlock()
	if g.ConfirmFunc != nil {
		return g.ConfirmFunc(ctx, req)
	}
	return &providers.ConfirmResult{
		Success:       true,
		TransactionID: "txn_" + req.ProviderRef,
		ProviderState: "succeeded",
	}, nil
}

func (g *FakeGateway) Refund(ctx context.Context, req providers.RefundRequest) (*providers.RefundResult, error) {
	g.refunds.Add(1)
	g.mu.Lock()
	g.lastRefund = req
	g.mu.Unlock()
	if g.RefundFunc != nil {
		return g.RefundFunc(ctx, req)
	}
	return &providers.RefundResult{RefundID: "re_" + req.ProviderRef, ProviderState: "succeeded"}, nil
}

func (g *FakeGateway) Lookup(ctx context.Context, providerRef string) (*providers.LookupResult, error) {
	g.lookups.Add(1)
	if g.LookupFunc != nil {
		return g.LookupFunc(ctx, providerRef)
	}
	return &providers.LookupResult{Outcome: providers.LookupPending, ProviderState: "processing"}, nil
}

func (g *FakeGateway) Initiates() int64 { return g.initiates.Load() }
func (g *FakeGateway) Confirms() int64  { return g.confirms.Load() }
func (g *FakeGateway) Refunds() int64   { return g.refunds.Load() }
func (g *FakeGateway) Lookups() int64   { return g.lookups.Load() }

func (g *FakeGateway) LastConfirm() providers.ConfirmRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastConfirm
}

func (g *FakeGateway) LastRefund() providers.RefundRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastRefund
}

// Gateways is a registry without circuit breakers.
type Gateways map[payment.Provider]providers.Gateway

func (r Gateways) Get(p payment.Provider) (providers.Gateway, error) {
	gw, ok := r[p]
	if !ok {
		return nil, domainErrors.ErrProviderNotFound
	}
	return gw, nil
}

func (r Gateways) List() []providers.Info {
	out := make([]providers.Info, 0, len(r))
	for id, gw := range r {
		out = append(out, providers.Info{ID: id, Name: gw.DisplayName()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- Event Publisher Mock ---

// PublishedEvent is one call to RecordingPublisher.Publish.
type PublishedEvent struct {
	Topic   string
	Payload map[string]any
}

// RecordingPublisher records published events synchronously.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []PublishedEvent
}

func (p *RecordingPublisher) Publish(_ context.Context, topic string, payload map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, PublishedEvent{Topic: topic, Payload: payload})
}

func (p *RecordingPublisher) Events() []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedEvent(nil), p.events...)
}

func (p *RecordingPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Topic
	}
	return out
}

// --- Transaction Manager Mock ---

// MockTransactionManager runs fn directly unless overridden.
type MockTransactionManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
	calls               atomic.Int64
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls.Add(1)
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

func (m *MockTransactionManager) Calls() int64 { return m.calls.Load() }

// --- Outbox Repository Mock ---

// MockOutboxRepository is the in-memory outbox with per-method overrides.
type MockOutboxRepository struct {
	*memory.OutboxStore

	InsertFunc        func(ctx context.Context, entry *outbox.Entry) error
	GetPendingFunc    func(ctx context.Context, limit int) ([]*outbox.Entry, error)
	MarkPublishedFunc func(ctx context.Context, id uuid.UUID) error
	MarkFailedFunc    func(ctx context.Context, id uuid.UUID, reason string) error
}

func NewMockOutboxRepository() *MockOutboxRepository {
	return &MockOutboxRepository{OutboxStore: memory.NewOutboxStore()}
}

func (m *MockOutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entry)
	}
	return m.OutboxStore.Insert(ctx, entry)
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if m.GetPendingFunc != nil {
		return m.GetPendingFunc(ctx, limit)
	}
	return m.OutboxStore.GetPending(ctx, limit)
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	if m.MarkPublishedFunc != nil {
		return m.MarkPublishedFunc(ctx, id)
	}
	return m.OutboxStore.MarkPublished(ctx, id)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, id, reason)
	}
	return m.OutboxStore.MarkFailed(ctx, id, reason)
}

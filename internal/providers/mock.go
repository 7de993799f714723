package providers

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	domainErrors "github.com/cassiomorais/booking-payments/internal/domain/errors"
	"github.com/cassiomorais/booking-payments/internal/domain/payment"
	"github.com/google/uuid"
)

// DeclineToken always produces a declined confirmation on the mock gateway.
const DeclineToken = "tok_decline"

// MockGateway is an in-process gateway for local runs and tests. It confirms
// synchronously with a client secret, like a card processor.
type MockGateway struct {
	failureRate float64 // 0.0 to 1.0
	latency     time.Duration
	timeoutRate float64 // 0.0 to 1.0

	initiateCalls atomic.Int64
	confirmCalls  atomic.Int64
	refundCalls   atomic.Int64

	mu       sync.Mutex
	outcomes map[string]LookupOutcome
}

type MockOption func(*MockGateway)

func WithFailureRate(rate float64) MockOption {
	return func(g *MockGateway) { g.failureRate = rate }
}

func WithLatency(d time.Duration) MockOption {
	return func(g *MockGateway) { g.latency = d }
}

func WithTimeoutRate(rate float64) MockOption {
	return func(g *MockGateway) { g.timeoutRate = rate }
}

func NewMockGateway(opts ...MockOption) *MockGateway {
	g := &MockGateway{
		latency:  100 * time.Millisecond,
		outcomes: make(map[string]LookupOutcome),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *MockGateway) Name() payment.Provider { return payment.ProviderMock }
func (g *MockGateway) DisplayName() string    { return "Mock" }

func (g *MockGateway) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	g.initiateCalls.Add(1)
	if err := g.simulate(ctx, "initiate"); err != nil {
		return nil, err
	}

	ref := "mock_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	g.setOutcome(ref, LookupPending)
	return &InitiateResult{
		ProviderRef:  ref,
		ClientSecret: ref + "_secret_" + uuid.NewString()[:8],
	}, nil
}

func (g *MockGateway) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	g.confirmCalls.Add(1)
	if err := g.simulate(ctx, "confirm"); err != nil {
		return nil, err
	}

	if req.Token == DeclineToken || rand.Float64() < g.failureRate {
		g.setOutcome(req.ProviderRef, LookupFailed)
		return &ConfirmResult{
			Success:       false,
			ProviderState: "declined",
			Message:       fmt.Sprintf("mock: simulated decline for payment %s", req.PaymentID),
		}, nil
	}

	g.setOutcome(req.ProviderRef, LookupSucceeded)
	result := &ConfirmResult{
		Success:       true,
		TransactionID: "mock_txn_" + uuid.NewString()[:8],
		ProviderState: "succeeded",
		ReusableToken: "mock_pm_" + uuid.NewString()[:8],
	}
	if req.MethodType == "" || req.MethodType == payment.MethodCard {
		result.Card = &payment.CardInfo{Last4: "4242", Brand: "visa", ExpMonth: 12, ExpYear: time.Now().Year() + 3}
	}
	return result, nil
}

func (g *MockGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	g.refundCalls.Add(1)
	if err := g.simulate(ctx, "refund"); err != nil {
		return nil, err
	}

	if rand.Float64() < g.failureRate {
		return nil, domainErrors.NewProviderError(string(payment.ProviderMock), "refund", 0,
			"simulated refund failure", domainErrors.ErrProviderRejected)
	}
	return &RefundResult{
		RefundID:      "mock_refund_" + uuid.NewString()[:8],
		ProviderState: "succeeded",
	}, nil
}

func (g *MockGateway) Lookup(ctx context.Context, providerRef string) (*LookupResult, error) {
	if err := g.simulate(ctx, "lookup"); err != nil {
		return nil, err
	}

	g.mu.Lock()
	outcome, ok := g.outcomes[providerRef]
	g.mu.Unlock()
	if !ok {
		return nil, domainErrors.NewProviderError(string(payment.ProviderMock), "lookup", 404,
			"unknown reference "+providerRef, domainErrors.ErrProviderRejected)
	}
	return &LookupResult{Outcome: outcome, ProviderState: string(outcome)}, nil
}

// Calls reports how many initiate, confirm and refund calls were made.
func (g *MockGateway) Calls() (initiate, confirm, refund int64) {
	return g.initiateCalls.Load(), g.confirmCalls.Load(), g.refundCalls.Load()
}

func (g *MockGateway) setOutcome(ref string, o LookupOutcome) {
	g.mu.Lock()
	g.outcomes[ref] = o
	g.mu.Unlock()
}

func (g *MockGateway) simulate(ctx context.Context, op string) error {
	select {
	case <-time.After(g.latency):
	case <-ctx.Done():
		return transportError(payment.ProviderMock, op, ctx.Err())
	}

	if rand.Float64() < g.timeoutRate {
		return domainErrors.NewProviderError(string(payment.ProviderMock), op, 0,
			"simulated timeout", domainErrors.ErrProviderTimeout)
	}
	return nil
}

package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/booking-payments/internal/domain/errors"
	"github.com/cassiomorais/booking-payments/internal/domain/payment"
	"github.com/cassiomorais/booking-payments/internal/infrastructure/observability"
	"github.com/sony/gobreaker/v2"
)

// BreakerSettings tunes the per-provider circuit breaker.
type BreakerSettings struct {
	// Threshold is the minimum number of calls in a window before the
	// breaker may trip.
	Threshold uint32
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
}

// Registry holds the enabled gateways, each behind its own circuit breaker.
type Registry struct {
	settings BreakerSettings
	metrics  *observability.Metrics

	mu       sync.RWMutex
	gateways map[payment.Provider]*guardedGateway
}

// NewRegistry creates an empty registry.
func NewRegistry(settings BreakerSettings, metrics *observability.Metrics) *Registry {
	if settings.Threshold == 0 {
		settings.Threshold = 10
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	return &Registry{
		settings: settings,
		metrics:  metrics,
		gateways: make(map[payment.Provider]*guardedGateway),
	}
}

// Register registers a gateway and creates a circuit breaker for it.
func (r *Registry) Register(g Gateway) {
	name := string(g.Name())
	threshold := r.settings.Threshold
	metrics := r.metrics

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     r.settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.6
		},
		// A refusal proves the provider is up.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domainErrors.ErrProviderRejected)
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))

	r.mu.Lock()
	r.gateways[g.Name()] = &guardedGateway{inner: g, breaker: cb, metrics: metrics}
	r.mu.Unlock()
}

// Get returns the breaker-guarded gateway for p.
func (r *Registry) Get(p payment.Provider) (Gateway, error) {
	r.mu.RLock()
	g, ok := r.gateways[p]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", p, domainErrors.ErrProviderNotFound)
	}
	return g, nil
}

// List describes the registered providers, ordered by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.gateways))
	for id, g := range r.gateways {
		out = append(out, Info{ID: id, Name: g.inner.DisplayName()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// guardedGateway runs every call of inner through its breaker and records
// call metrics.
type guardedGateway struct {
	inner   Gateway
	breaker *gobreaker.CircuitBreaker[any]
	metrics *observability.Metrics
}

func (g *guardedGateway) Name() payment.Provider { return g.inner.Name() }
func (g *guardedGateway) DisplayName() string    { return g.inner.DisplayName() }

func (g *guardedGateway) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	return call(g, "initiate", func() (*InitiateResult, error) { return g.inner.Initiate(ctx, req) })
}

func (g *guardedGateway) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	return call(g, "confirm", func() (*ConfirmResult, error) { return g.inner.Confirm(ctx, req) })
}

func (g *guardedGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	return call(g, "refund", func() (*RefundResult, error) { return g.inner.Refund(ctx, req) })
}

func (g *guardedGateway) Lookup(ctx context.Context, providerRef string) (*LookupResult, error) {
	return call(g, "lookup", func() (*LookupResult, error) { return g.inner.Lookup(ctx, providerRef) })
}

func call[T any](g *guardedGateway, op string, fn func() (T, error)) (T, error) {
	name := string(g.inner.Name())
	start := time.Now()

	out, err := g.breaker.Execute(func() (any, error) { return fn() })

	g.metrics.ProviderCallDuration.WithLabelValues(name, op).Observe(time.Since(start).Seconds())
	g.metrics.ProviderCalls.WithLabelValues(name, op, callResult(err)).Inc()

	var zero T
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, domainErrors.NewProviderError(name, op, 0, "circuit breaker open",
			fmt.Errorf("%w: %w", domainErrors.ErrProviderUnavailable, err))
	}
	if err != nil {
		return zero, err
	}
	return out.(T), nil
}

func callResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "short_circuit"
	case errors.Is(err, domainErrors.ErrProviderRejected):
		return "rejected"
	case errors.Is(err, domainErrors.ErrProviderTimeout):
		return "timeout"
	default:
		return "error"
	}
}

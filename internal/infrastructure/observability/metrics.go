package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Payment metrics
	PaymentsTotal     *prometheus.CounterVec
	PaymentTransition *prometheus.CounterVec
	RefundedAmount    *prometheus.CounterVec

	// Provider metrics
	ProviderCalls        *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec

	// Event metrics
	EventsPublished *prometheus.CounterVec
	EventsDropped   prometheus.Counter

	// Worker metrics
	OutboxRelayed        *prometheus.CounterVec
	ReconciliationResult *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		PaymentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payments_created_total",
				Help:      "Total number of payment intents created by provider",
			},
			[]string{"provider"},
		),
		PaymentTransition: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_transitions_total",
				Help:      "Total number of payment status transitions by provider and target status",
			},
			[]string{"provider", "status"},
		),
		RefundedAmount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refunded_amount_total",
				Help:      "Refunded amount in major units by currency",
			},
			[]string{"currency"},
		),
		ProviderCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of provider gateway calls by provider, operation and result",
			},
			[]string{"provider", "op", "result"},
		),
		ProviderCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Provider gateway call duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider", "op"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of domain events handed to the sink by topic and result",
			},
			[]string{"topic", "result"},
		),
		EventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Events dropped because the dispatch buffer was full or closed",
			},
		),
		OutboxRelayed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_relayed_total",
				Help:      "Total number of outbox entries relayed by result",
			},
			[]string{"result"},
		),
		ReconciliationResult: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciliation_results_total",
				Help:      "Outcomes of the processing reconciliation sweep",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(
		m.PaymentsTotal,
		m.PaymentTransition,
		m.RefundedAmount,
		m.ProviderCalls,
		m.ProviderCallDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CircuitBreakerState,
		m.EventsPublished,
		m.EventsDropped,
		m.OutboxRelayed,
		m.ReconciliationResult,
	)

	return m
}

// NewTestMetrics registers metrics on a fresh registry so tests can build
// as many instances as they need.
func NewTestMetrics() *Metrics {
	return NewMetrics("test", prometheus.NewRegistry())
}

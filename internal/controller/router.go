package controller

import (
	"net/http"
	"time"

	"github.com/cassiomorais/booking-payments/internal/domain/idempotency"
	"github.com/cassiomorais/booking-payments/internal/infrastructure/config"
	"github.com/cassiomorais/booking-payments/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/booking-payments/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	Payments       PaymentService
	Idempotency    idempotency.Store
	IdempotencyTTL time.Duration
	HealthChecks   map[string]Pinger
	Metrics        *observability.Metrics
	Gatherer       prometheus.Gatherer
	Logger         zerolog.Logger
	Server         config.ServerConfig
	Auth           config.AuthConfig
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Server.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", customMW.IdempotencyHeader},
		AllowCredentials: deps.Server.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.HealthChecks)
	paymentH := NewPaymentController(deps.Payments)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Provider calls can take the full provider timeout; leave headroom.
		r.Use(chimw.Timeout(60 * time.Second))
		r.Use(customMW.RateLimit(deps.Server.RateLimit))
		if deps.Auth.Enabled {
			r.Use(customMW.RequireAuth(deps.Auth.JWTSecret))
		}

		idempotent := func(h http.HandlerFunc) http.Handler { return h }
		if deps.Idempotency != nil {
			mw := customMW.Idempotency(deps.Idempotency, deps.IdempotencyTTL, deps.Logger)
			idempotent = func(h http.HandlerFunc) http.Handler { return mw(h) }
		}

		r.Get("/payments/providers", paymentH.ListProviders)
		r.Get("/payments/customer/{customerId}/methods", paymentH.ListPaymentMethods)
		r.Get("/payments/{id}", paymentH.GetPayment)

		r.Method(http.MethodPost, "/payments", idempotent(paymentH.CreatePayment))
		r.Method(http.MethodPost, "/payments/{id}/process", idempotent(paymentH.ProcessPayment))
		r.Method(http.MethodPost, "/payments/{id}/refund", idempotent(paymentH.RefundPayment))
		r.Post("/payments/{id}/cancel", paymentH.CancelPayment)
	})

	return r
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cassiomorais/booking-payments/internal/infrastructure/observability"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Success(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)

	r := chi.NewRouter()
	r.Use(Metrics(metrics))
	r.Get("/payments/providers", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/providers", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["test_http_requests_total"])
	assert.True(t, names["test_http_request_duration_seconds"])
}

func TestMetrics_StatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		label      string
	}{
		{"201 Created", http.StatusCreated, "201"},
		{"400 Bad Request", http.StatusBadRequest, "400"},
		{"409 Conflict", http.StatusConflict, "409"},
		{"502 Bad Gateway", http.StatusBadGateway, "502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := observability.NewTestMetrics()

			r := chi.NewRouter()
			r.Use(Metrics(metrics))
			r.Post("/payments", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/payments", nil))

			assert.Equal(t, tt.statusCode, w.Code)
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("POST", "/payments", tt.label)))
		})
	}
}

func TestMetrics_RoutePattern(t *testing.T) {
	metrics := observability.NewTestMetrics()

	r := chi.NewRouter()
	r.Use(Metrics(metrics))
	r.Get("/payments/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, id := range []string{"pay_1_a", "pay_2_b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/payments/"+id, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/payments/{id}", "200")))
}

func TestMetrics_NoRoutePattern(t *testing.T) {
	metrics := observability.NewTestMetrics()
	handler := Metrics(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-admin/x", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestStatusWriter(t *testing.T) {
	w := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

	sw.WriteHeader(http.StatusCreated)
	sw.WriteHeader(http.StatusInternalServerError)
	assert.Equal(t, http.StatusCreated, sw.statusCode)

	w = httptest.NewRecorder()
	sw = &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
	_, _ = sw.Write([]byte("test"))
	assert.Equal(t, http.StatusOK, sw.statusCode)
}

package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/booking-payments/internal/domain/errors"
	"github.com/cassiomorais/booking-payments/internal/domain/payment"
	"github.com/cassiomorais/booking-payments/internal/infrastructure/config"
	"github.com/cassiomorais/booking-payments/internal/infrastructure/observability"
	"github.com/cassiomorais/booking-payments/internal/providers"
	"github.com/cassiomorais/booking-payments/internal/repository/memory"
	"github.com/cassiomorais/booking-payments/internal/service"
	"github.com/cassiomorais/booking-payments/internal/testutil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	handler http.Handler
	repo    *testutil.MockPaymentRepository
	stripe  *testutil.FakeGateway
}

func setupAPI(t *testing.T, auth config.AuthConfig) *apiFixture {
	t.Helper()

	f := &apiFixture{
		repo:   testutil.NewMockPaymentRepository(),
		stripe: testutil.NewFakeGateway(payment.ProviderStripe),
	}
	paypal := testutil.NewFakeGateway(payment.ProviderPayPal)
	paypal.InitiateFunc = func(_ context.Context, req providers.InitiateRequest) (*providers.InitiateResult, error) {
		return &providers.InitiateResult{ProviderRef: "ORDER-1", RedirectURL: "https://paypal.test/approve?token=ORDER-1"}, nil
	}
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())

	svc := service.NewPaymentService(service.Deps{
		Payments:  f.repo,
		Methods:   f.repo,
		Gateways:  testutil.Gateways{payment.ProviderStripe: f.stripe, payment.ProviderPayPal: paypal},
		Publisher: &testutil.RecordingPublisher{},
		Logger:    zerolog.Nop(),
		Metrics:   metrics,
	}, service.Options{ProviderTimeout: time.Second})

	f.handler = NewRouter(RouterDeps{
		Payments:       svc,
		Idempotency:    memory.NewIdempotencyStore(),
		IdempotencyTTL: time.Hour,
		Metrics:        metrics,
		Gatherer:       prometheus.NewRegistry(),
		Logger:         zerolog.Nop(),
		Server:         config.ServerConfig{CORS: config.CORSConfig{AllowedOrigins: []string{"*"}}},
		Auth:           auth,
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createBody(provider string) map[string]any {
	return map[string]any{
		"booking_id":  "booking-1",
		"customer_id": "customer-1",
		"vendor_id":   "vendor-1",
		"amount":      "20",
		"currency":    "USD",
		"description": "Grooming session",
		"provider":    provider,
	}
}

func (f *apiFixture) createPayment(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/payments", createBody("stripe"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[CreatePaymentResponse](t, rec).PaymentID
}

func TestCreatePayment_Stripe(t *testing.T) {
	f := setupAPI(t, config.AuthConfig{})

	rec := f.do(t, http.MethodPost, "/api/v1/payments", createBody("stripe"))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[CreatePaymentResponse](t, rec)
	assert.NotEmpty(t, resp.PaymentID)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "20.00", resp.Amount)
	assert.Equal(t, "secret_"+resp.PaymentID, resp.ClientSecret)
	assert.Empty(t, resp.RedirectURL)
}

func TestCreatePayment_PayPalRedirect(t *testing.T) {
	f := setupAPI(t, config.AuthConfig{})

	rec := f.do(t, http.MethodPost, "/api/v1/payments", createBody("paypal"))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[CreatePaymentResponse](t, rec)
	assert.Contains(t, resp.RedirectURL, "ORDER-1")
	assert.Empty(t, resp.ClientSecret)
}

func TestCreatePayment_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing booking", func(b map[string]any) { delete(b, "booking_id") }},
		{"zero amount", func(b map[string]any) { b["amount"] = "0" }},
		{"bad currency", func(b map[string]any) { b["currency"] = "US" }},
		{"unknown provider", func(b map[string]any) { b["provider"] = "venmo" }},
		{"unknown field", func(b map[string]any) { b["surprise"] = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupAPI(t, config.AuthConfig{})
			body := createBody("stripe")
			tt.mutate(body)

			rec := f.do(t, http.MethodPost, "/api/v1/payments", body)

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "validation_error", decodeBody[ErrorResponse](t, rec).Code)
		})
	}
}

func TestCreatePayment_DisabledProviderIsBadRequest(t *testing.T) {
	f := setupAPI(t, config.AuthConfig{})

	rec := f.do(t, http.MethodPost, "/api/v1/payments", createBody("mock"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePayment_IdempotentReplay(t *testing.T) {
	f := setupAPI(t, config.AuthConfig{})

	first := f.do(t, http.MethodPost, "/api/v1/payments", createBody("stripe"), "Idempotency-Key", "abc")
	second := f.do(t, http.MethodPost, "/api/v1/payments", createBody("stripe"), "Idempotency-Key", "abc")

	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Replayed"))
	assert.EqualValues(t, 1, f.stripe.Initiates())
}

func TestProcessPayment(t *testing.T) {
	f := setupAPI(t, config.AuthConfig{})
	id := f.createPayment(t)

	rec := f.do(t, http.MethodPost, "/api/v1/payments/"+id+"/process", map[string]any{
		"payment_method_type": "card",
		"token":               "pm_card_visa",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[ProcessPaymentResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "completed", resp.Status)
	assert.NotEmpty(t, resp.TransactionID)
	assert.Equal(t, "pm_card_visa", f.stripe.LastConfirm().Token)
}

func TestProcessPayment_EmptyBody(t *testing.T) {
	f := setupAPI(t, config.AuthConfig{})
	id := f.createPayment(t)

	rec := f.do(t, http.MethodPost, "/api/v1/payments/"+id+"/process", nil)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestProcessPayment_DeclineIsOK(t *testing.T) {
	f := setupAPI(t, config.AuthConfig{})
	id := f.createPayment(t)
	f.stripe.ConfirmFunc = func(context.Context, providers.ConfirmRequest) (*providers.ConfirmResult, error) {
		return &providers.ConfirmResult{Success: false, Message: "card_declined", ProviderState: "requires_payment_method"}, nil
	}

	rec := f.do(t, http.MethodPost, "/api/v1/payments/"+id+"/process", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[ProcessPaymentResponse](t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "failed", resp.Status)
}

func TestProcessPayment_ProviderTimeoutEndsFailed(t *testing.T) {
	f := setupAPI(t, config.AuthConfig{})
	id := f.createPayment(t)
	f.stripe.ConfirmFunc = func(ctx context.Context, _ providers.ConfirmRequest) (*providers.ConfirmResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	rec := f.do(t, http.MethodPost, "/api/v1/payments/"+id+"/process", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[ProcessPaymentResponse](t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "failed", resp.Status)
	assert.Contains(t, resp.Message, "provider request timeout")
}

func TestCreatePayment_ProviderErrorIsBadGateway(t *testing.T) {
	f := setupAPI(t, config.AuthConfig{})
	f.stripe.InitiateFunc = func(context.Context, providers.InitiateRequest) (*providers.InitiateResult, error) {
		return nil, domainErrors.NewProviderError("stripe", "initiate", 503, "upstream unavailable", domainErrors.ErrProviderUnavailable)
	}

	rec := f.do(t, http.MethodPost, "/api/v1/payments", createBody("stripe"))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "provider_unavailable", decodeBody[ErrorResponse](t, rec).Code)
}

func TestProcessPayment_TwiceConflicts(t *testing.T) {
	f := setupAPI(t, config.AuthConfig{})
	id := f.createPayment(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/payments/"+id+"/process", nil).Code)

	rec := f.do(t, http.MethodPost, "/api/v1/payments/"+id+"/process", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRefundPayment(t *testing.T) {
	f := setupAPI(t, config.AuthConfig{})
	id := f.createPayment(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/payments/"+id+"/process", nil).Code)

	rec := f.do(t, http.MethodPost, "/api/v1/payments/"+id+"/refund", map[string]any{"amount": "5.5", "reason": "requested_by_customer"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[RefundPaymentResponse](t, rec)
	assert.Equal(t, "refunded", resp.Status)
	assert.Equal(t, "5.50", resp.Amount)
	assert.NotEmpty(t, resp.RefundID)
}

func TestRefundPayment_OverAmount(t *testing.T) {
	f := setupAPI(t, config.AuthConfig{})
	id := f.createPayment(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/payments/"+id+"/process", nil).Code)

	rec := f.do(t, http.MethodPost, "/api/v1/payments/"+id+"/refund", map[string]any{"amount": "25"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.stripe.Refunds())
}

func TestRefundPayment_PendingConflicts(t *testing.T) {
	f := setupAPI(t, config.AuthConfig{})
	id := f.createPayment(t)

	rec := f.do(t, http.MethodPost, "/api/v1/payments/"+id+"/refund", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelAndGetPayment(t *testing.T) {
	f := setupAPI(t, config.AuthConfig{})
	id := f.createPayment(t)

	rec := f.do(t, http.MethodPost, "/api/v1/payments/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decodeBody[PaymentResponse](t, rec).Status)

	rec = f.do(t, http.MethodGet, "/api/v1/payments/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[PaymentResponse](t, rec)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "cancelled", got.Status)
	assert.Equal(t, "20.00", got.Amount)
	assert.Equal(t, "booking-1", got.BookingID)
}

func TestGetPayment_NotFound(t *testing.T) {
	f := setupAPI(t, config.AuthConfig{})

	rec := f.do(t, http.MethodGet, "/api/v1/payments/pay_missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[ErrorResponse](t, rec).Code)
}

func TestListPaymentMethods(t *testing.T) {
	f := setupAPI(t, config.AuthConfig{})
	f.stripe.ConfirmFunc = func(_ context.Context, req providers.ConfirmRequest) (*providers.ConfirmResult, error) {
		return &providers.ConfirmResult{
			Success:       true,
			TransactionID: "ch_1",
			ProviderState: "succeeded",
			ReusableToken: "pm_saved_1",
			Card:          &payment.CardInfo{Last4: "4242", Brand: "visa", ExpMonth: 12, ExpYear: 2030},
		}, nil
	}
	id := f.createPayment(t)
	rec := f.do(t, http.MethodPost, "/api/v1/payments/"+id+"/process", map[string]any{
		"payment_method_type": "card",
		"token":               "pm_card_visa",
		"save_payment_method": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/payments/customer/customer-1/methods", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	methods := decodeBody[[]PaymentMethodResponse](t, rec)
	require.Len(t, methods, 1)
	assert.Equal(t, "card", methods[0].Type)
	assert.True(t, methods[0].IsDefault)
	require.NotNil(t, methods[0].Card)
	assert.Equal(t, "4242", methods[0].Card.Last4)
	assert.NotContains(t, rec.Body.String(), "pm_saved_1")
}

func TestListPaymentMethods_EmptyIsArray(t *testing.T) {
	f := setupAPI(t, config.AuthConfig{})

	rec := f.do(t, http.MethodGet, "/api/v1/payments/customer/nobody/methods", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestListProviders(t *testing.T) {
	f := setupAPI(t, config.AuthConfig{})

	rec := f.do(t, http.MethodGet, "/api/v1/payments/providers", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[[]ProviderResponse](t, rec)
	require.Len(t, got, 2)
	assert.Equal(t, "paypal", got[0].ID)
	assert.Equal(t, "stripe", got[1].ID)
}

func TestAuth_CustomerScoping(t *testing.T) {
	const secret = "test-secret"
	f := setupAPI(t, config.AuthConfig{Enabled: true, JWTSecret: secret})

	token := func(customer string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"customer_id": customer,
			"exp":         time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(secret))
		require.NoError(t, err)
		return "Bearer " + s
	}

	rec := f.do(t, http.MethodGet, "/api/v1/payments/providers", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/payments", createBody("stripe"), "Authorization", token("customer-2"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/payments", createBody("stripe"), "Authorization", token("customer-1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody[CreatePaymentResponse](t, rec).PaymentID

	rec = f.do(t, http.MethodGet, "/api/v1/payments/"+id, nil, "Authorization", token("customer-2"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/payments/customer/customer-2/methods", nil, "Authorization", token("customer-1"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuth_ActionsOnAnotherCustomersPayment(t *testing.T) {
	const secret = "test-secret"
	f := setupAPI(t, config.AuthConfig{Enabled: true, JWTSecret: secret})

	token := func(customer string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"customer_id": customer,
			"exp":         time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(secret))
		require.NoError(t, err)
		return "Bearer " + s
	}
	owner, other := token("customer-1"), token("customer-2")
	status := func(id string) payment.PaymentStatus {
		p, err := f.repo.GetByID(t.Context(), id)
		require.NoError(t, err)
		return p.Status
	}

	rec := f.do(t, http.MethodPost, "/api/v1/payments", createBody("stripe"), "Authorization", owner)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pending := decodeBody[CreatePaymentResponse](t, rec).PaymentID

	rec = f.do(t, http.MethodPost, "/api/v1/payments/"+pending+"/process",
		map[string]any{"payment_method_type": "card", "token": "pm_card_visa"}, "Authorization", other)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[ErrorResponse](t, rec).Code)

	rec = f.do(t, http.MethodPost, "/api/v1/payments/"+pending+"/cancel", nil, "Authorization", other)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, payment.StatusPending, status(pending))
	assert.Zero(t, f.stripe.Confirms())

	rec = f.do(t, http.MethodPost, "/api/v1/payments", createBody("stripe"), "Authorization", owner)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	completed := decodeBody[CreatePaymentResponse](t, rec).PaymentID
	rec = f.do(t, http.MethodPost, "/api/v1/payments/"+completed+"/process", nil, "Authorization", owner)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/payments/"+completed+"/refund", map[string]any{"amount": "5"}, "Authorization", other)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, payment.StatusCompleted, status(completed))
	assert.Zero(t, f.stripe.Refunds())

	rec = f.do(t, http.MethodPost, "/api/v1/payments/pay_missing/cancel", nil, "Authorization", other)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/payments/"+pending+"/cancel", nil, "Authorization", owner)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, payment.StatusCancelled, status(pending))
}

func TestHealthEndpoints(t *testing.T) {
	f := setupAPI(t, config.AuthConfig{})

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		rec := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/metrics", nil).Code)
}

package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/booking-payments/internal/domain/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPayPalTest serves the token endpoint and hands every other request to h
// after checking the bearer token.
func newPayPalTest(t *testing.T, h http.HandlerFunc) *PayPalGateway {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", user)
		assert.Equal(t, "secret", pass)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"A21","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer A21", r.Header.Get("Authorization"))
		h(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	g := NewPayPalGateway(PayPalConfig{
		BaseURL:      srv.URL,
		ClientID:     "client",
		ClientSecret: "secret",
		ReturnURL:    "https://app.example.com/return",
		CancelURL:    "https://app.example.com/cancel",
		BrandName:    "Pawfect",
	}, NewHTTPClient(2*time.Second, 3))
	g.readRetry.InitialDelay = time.Millisecond
	return g
}

func TestPayPal_Initiate_DecimalAmountAndApproveLink(t *testing.T) {
	var body map[string]any
	var requestID string
	g := newPayPalTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/checkout/orders", r.URL.Path)
		requestID = r.Header.Get("PayPal-Request-Id")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ORDER-1","status":"CREATED","links":[
			{"href":"https://api/self","rel":"self"},
			{"href":"https://paypal.example/approve?token=ORDER-1","rel":"approve"}]}`))
	})

	res, err := g.Initiate(context.Background(), InitiateRequest{
		PaymentID: "pay_1", BookingID: "b1", Amount: decimal.RequireFromString("49.99"), Currency: "usd",
	})
	require.NoError(t, err)

	assert.Equal(t, "ORDER-1", res.ProviderRef)
	assert.Equal(t, "https://paypal.example/approve?token=ORDER-1", res.RedirectURL)
	assert.Empty(t, res.ClientSecret)
	assert.Equal(t, "pay_1-initiate", requestID)

	assert.Equal(t, "CAPTURE", body["intent"])
	unit := body["purchase_units"].([]any)[0].(map[string]any)
	amount := unit["amount"].(map[string]any)
	assert.Equal(t, "49.99", amount["value"])
	assert.Equal(t, "USD", amount["currency_code"])
	assert.Equal(t, "pay_1", unit["reference_id"])
	appCtx := body["application_context"].(map[string]any)
	assert.Equal(t, "PAY_NOW", appCtx["user_action"])
	assert.Equal(t, "Pawfect", appCtx["brand_name"])
}

func TestPayPal_Initiate_MissingApproveLink(t *testing.T) {
	g := newPayPalTest(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"ORDER-1","status":"CREATED","links":[]}`))
	})

	_, err := g.Initiate(context.Background(), InitiateRequest{PaymentID: "pay_1", Amount: decimal.NewFromInt(5), Currency: "USD"})
	assert.ErrorIs(t, err, domainErrors.ErrProviderResponse)
}

func TestPayPal_Initiate_ErrorMessage(t *testing.T) {
	g := newPayPalTest(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"name":"UNPROCESSABLE_ENTITY","message":"The requested action could not be performed",
			"details":[{"issue":"CURRENCY_NOT_SUPPORTED","description":"Currency code is not supported"}]}`))
	})

	_, err := g.Initiate(context.Background(), InitiateRequest{PaymentID: "pay_1", Amount: decimal.NewFromInt(5), Currency: "XXX"})
	require.ErrorIs(t, err, domainErrors.ErrProviderRejected)

	var pe *domainErrors.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "The requested action could not be performed: Currency code is not supported", pe.Message)
}

func TestPayPal_Confirm_Capture(t *testing.T) {
	g := newPayPalTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/checkout/orders/ORDER-1/capture", r.URL.Path)
		assert.Equal(t, "pay_1-capture", r.Header.Get("PayPal-Request-Id"))
		_, _ = w.Write([]byte(`{"id":"ORDER-1","status":"COMPLETED","purchase_units":[
			{"payments":{"captures":[{"id":"CAP-1","status":"COMPLETED"}]}}]}`))
	})

	res, err := g.Confirm(context.Background(), ConfirmRequest{PaymentID: "pay_1", ProviderRef: "ORDER-1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "CAP-1", res.TransactionID)
	assert.Nil(t, res.Card)
}

func TestPayPal_Confirm_CaptureDeclined(t *testing.T) {
	g := newPayPalTest(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"ORDER-1","status":"COMPLETED","purchase_units":[
			{"payments":{"captures":[{"id":"CAP-1","status":"DECLINED"}]}}]}`))
	})

	res, err := g.Confirm(context.Background(), ConfirmRequest{PaymentID: "pay_1", ProviderRef: "ORDER-1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "DECLINED", res.ProviderState)
}

func TestPayPal_Refund_UsesCaptureID(t *testing.T) {
	var refundBody map[string]any
	g := newPayPalTest(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/checkout/orders/ORDER-1":
			assert.Equal(t, http.MethodGet, r.Method)
			_, _ = w.Write([]byte(`{"id":"ORDER-1","status":"COMPLETED","purchase_units":[
				{"payments":{"captures":[{"id":"CAP-1","status":"COMPLETED"}]}}]}`))
		case "/v2/payments/captures/CAP-1/refund":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&refundBody))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"REF-1","status":"COMPLETED"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	res, err := g.Refund(context.Background(), RefundRequest{
		PaymentID: "pay_1", ProviderRef: "ORDER-1", Amount: decimal.NewFromInt(20), Currency: "USD", Reason: "changed plans",
	})
	require.NoError(t, err)

	assert.Equal(t, "REF-1", res.RefundID)
	assert.Equal(t, "20.00", refundBody["amount"].(map[string]any)["value"])
	assert.Equal(t, "changed plans", refundBody["note_to_payer"])
}

func TestPayPal_Refund_NoCapture(t *testing.T) {
	g := newPayPalTest(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"ORDER-1","status":"APPROVED","purchase_units":[{"payments":{}}]}`))
	})

	_, err := g.Refund(context.Background(), RefundRequest{PaymentID: "pay_1", ProviderRef: "ORDER-1", Amount: decimal.NewFromInt(1), Currency: "USD"})
	assert.ErrorIs(t, err, domainErrors.ErrProviderResponse)
}

func TestPayPal_Lookup(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		outcome LookupOutcome
	}{
		{"captured", `{"id":"O","status":"COMPLETED","purchase_units":[{"payments":{"captures":[{"id":"C","status":"COMPLETED"}]}}]}`, LookupSucceeded},
		{"declined", `{"id":"O","status":"COMPLETED","purchase_units":[{"payments":{"captures":[{"id":"C","status":"DECLINED"}]}}]}`, LookupFailed},
		{"voided", `{"id":"O","status":"VOIDED"}`, LookupFailed},
		{"awaiting approval", `{"id":"O","status":"PAYER_ACTION_REQUIRED"}`, LookupPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newPayPalTest(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			res, err := g.Lookup(context.Background(), "O")
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, res.Outcome)
		})
	}
}

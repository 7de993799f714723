package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cassiomorais/booking-payments/internal/domain/payment"
	"github.com/cassiomorais/booking-payments/pkg/retry"
)

type StripeConfig struct {
	BaseURL   string
	SecretKey string
}

// StripeGateway speaks the payment-intents API: amounts in minor units,
// form-encoded requests, confirmation with a client-supplied token.
type StripeGateway struct {
	baseURL   string
	secretKey string
	client    *http.Client
	readRetry retry.Config
}

func NewStripeGateway(cfg StripeConfig, client *http.Client) *StripeGateway {
	return &StripeGateway{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		secretKey: cfg.SecretKey,
		client:    client,
		readRetry: readRetryConfig(),
	}
}

func (g *StripeGateway) Name() payment.Provider { return payment.ProviderStripe }
func (g *StripeGateway) DisplayName() string    { return "Stripe" }

type stripeIntent struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	ClientSecret  string          `json:"client_secret"`
	LatestCharge  json.RawMessage `json:"latest_charge"`
	PaymentMethod json.RawMessage `json:"payment_method"`
	LastError     *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"last_payment_error"`
}

type stripePaymentMethod struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Card *struct {
		Last4    string `json:"last4"`
		Brand    string `json:"brand"`
		ExpMonth int    `json:"exp_month"`
		ExpYear  int    `json:"exp_year"`
	} `json:"card"`
}

type stripeErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (g *StripeGateway) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(payment.ToMinorUnits(req.Amount), 10))
	values.Set("currency", strings.ToLower(req.Currency))
	values.Set("capture_method", "automatic")
	if req.Description != "" {
		values.Set("description", req.Description)
	}
	values.Set("metadata[payment_id]", req.PaymentID)
	values.Set("metadata[booking_id]", req.BookingID)
	values.Set("metadata[customer_id]", req.CustomerID)

	var intent stripeIntent
	if err := g.postForm(ctx, "initiate", "/v1/payment_intents", values, req.PaymentID+":initiate", &intent); err != nil {
		return nil, err
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		return nil, malformed(payment.ProviderStripe, "initiate", "payment intent without id or client secret")
	}
	return &InitiateResult{ProviderRef: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

func (g *StripeGateway) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	values := url.Values{}
	values.Set("payment_method", req.Token)
	values.Add("expand[]", "payment_method")

	path := "/v1/payment_intents/" + url.PathEscape(req.ProviderRef) + "/confirm"
	var intent stripeIntent
	if err := g.postForm(ctx, "confirm", path, values, req.PaymentID+":confirm", &intent); err != nil {
		return nil, err
	}

	result := &ConfirmResult{
		Success:       intent.Status == "succeeded",
		TransactionID: stringOrID(intent.LatestCharge),
		ProviderState: intent.Status,
	}
	if result.TransactionID == "" {
		result.TransactionID = intent.ID
	}
	if !result.Success {
		result.Message = "payment intent status " + intent.Status
		if intent.LastError != nil && intent.LastError.Message != "" {
			result.Message = intent.LastError.Message
		}
	}

	var pm stripePaymentMethod
	if len(intent.PaymentMethod) > 0 && intent.PaymentMethod[0] == '{' {
		if err := json.Unmarshal(intent.PaymentMethod, &pm); err == nil {
			result.ReusableToken = pm.ID
			if pm.Card != nil {
				result.Card = &payment.CardInfo{
					Last4:    pm.Card.Last4,
					Brand:    pm.Card.Brand,
					ExpMonth: pm.Card.ExpMonth,
					ExpYear:  pm.Card.ExpYear,
				}
			}
		}
	}
	return result, nil
}

func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	reason := req.Reason
	if reason == "" {
		reason = DefaultRefundReason
	}
	values := url.Values{}
	values.Set("payment_intent", req.ProviderRef)
	values.Set("amount", strconv.FormatInt(payment.ToMinorUnits(req.Amount), 10))
	values.Set("reason", reason)
	values.Set("metadata[payment_id]", req.PaymentID)

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	// No idempotency key: a failed refund must be retryable as a new request.
	if err := g.postForm(ctx, "refund", "/v1/refunds", values, "", &refund); err != nil {
		return nil, err
	}
	if refund.ID == "" {
		return nil, malformed(payment.ProviderStripe, "refund", "refund without id")
	}
	if refund.Status == "failed" || refund.Status == "canceled" {
		return nil, statusError(payment.ProviderStripe, "refund", http.StatusPaymentRequired, "refund "+refund.Status)
	}
	return &RefundResult{RefundID: refund.ID, ProviderState: refund.Status}, nil
}

func (g *StripeGateway) Lookup(ctx context.Context, providerRef string) (*LookupResult, error) {
	intent, err := retry.DoWithResult(ctx, g.readRetry, func() (*stripeIntent, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/payment_intents/"+url.PathEscape(providerRef), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+g.secretKey)
		var intent stripeIntent
		if err := g.do(req, "lookup", &intent); err != nil {
			return nil, err
		}
		return &intent, nil
	})
	if err != nil {
		return nil, err
	}

	res := &LookupResult{Outcome: LookupPending, ProviderState: intent.Status}
	switch intent.Status {
	case "succeeded":
		res.Outcome = LookupSucceeded
		res.TransactionID = stringOrID(intent.LatestCharge)
	case "canceled", "requires_payment_method":
		res.Outcome = LookupFailed
	}
	return res, nil
}

func (g *StripeGateway) postForm(ctx context.Context, op, path string, values url.Values, idempotencyKey string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, strings.NewReader(values.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return g.do(req, op, out)
}

func (g *StripeGateway) do(req *http.Request, op string, out any) error {
	status, body, err := send(g.client, req, payment.ProviderStripe, op)
	if err != nil {
		return err
	}
	if !is2xx(status) {
		var eb stripeErrorBody
		_ = json.Unmarshal(body, &eb)
		return statusError(payment.ProviderStripe, op, status, eb.Error.Message)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return malformed(payment.ProviderStripe, op, "decode response: "+err.Error())
	}
	return nil
}

// stringOrID reads a field the API returns either as an id string or as an
// expanded object.
func stringOrID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.ID
	}
	return ""
}

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/cassiomorais/booking-payments/internal/domain/payment"
	"github.com/cassiomorais/booking-payments/pkg/retry"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type PayPalConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	ReturnURL    string
	CancelURL    string
	BrandName    string
}

// PayPalGateway speaks the orders API: decimal string amounts, payer
// approval through a redirect, capture on confirm.
type PayPalGateway struct {
	cfg       PayPalConfig
	baseURL   string
	client    *http.Client
	readRetry retry.Config
}

// NewPayPalGateway authenticates with OAuth client credentials. Tokens are
// fetched and refreshed through base, and API calls inherit its timeout and
// redirect policy.
func NewPayPalGateway(cfg PayPalConfig, base *http.Client) *PayPalGateway {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	client := cc.Client(context.WithValue(context.Background(), oauth2.HTTPClient, base))
	client.Timeout = base.Timeout
	client.CheckRedirect = base.CheckRedirect

	return &PayPalGateway{
		cfg:       cfg,
		baseURL:   baseURL,
		client:    client,
		readRetry: readRetryConfig(),
	}
}

func (g *PayPalGateway) Name() payment.Provider { return payment.ProviderPayPal }
func (g *PayPalGateway) DisplayName() string    { return "PayPal" }

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalLink struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type paypalCapture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type paypalOrder struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []paypalLink `json:"links"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		Payments    struct {
			Captures []paypalCapture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (o *paypalOrder) firstCapture() *paypalCapture {
	for _, pu := range o.PurchaseUnits {
		if len(pu.Payments.Captures) > 0 {
			return &pu.Payments.Captures[0]
		}
	}
	return nil
}

type paypalErrorBody struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (b paypalErrorBody) text() string {
	msg := b.Message
	if len(b.Details) > 0 && b.Details[0].Description != "" {
		if msg != "" {
			msg += ": "
		}
		msg += b.Details[0].Description
	}
	return msg
}

func (g *PayPalGateway) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.PaymentID,
			"custom_id":    req.BookingID,
			"description":  req.Description,
			"amount": paypalAmount{
				CurrencyCode: strings.ToUpper(req.Currency),
				Value:        payment.FormatAmount(req.Amount),
			},
		}},
		"application_context": map[string]any{
			"return_url":  g.cfg.ReturnURL,
			"cancel_url":  g.cfg.CancelURL,
			"brand_name":  g.cfg.BrandName,
			"user_action": "PAY_NOW",
		},
	}

	var order paypalOrder
	if err := g.postJSON(ctx, "initiate", "/v2/checkout/orders", body, req.PaymentID+"-initiate", &order); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, malformed(payment.ProviderPayPal, "initiate", "order without id")
	}
	for _, l := range order.Links {
		if l.Rel == "approve" && l.Href != "" {
			return &InitiateResult{ProviderRef: order.ID, RedirectURL: l.Href}, nil
		}
	}
	return nil, malformed(payment.ProviderPayPal, "initiate", "order without approve link")
}

func (g *PayPalGateway) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	path := "/v2/checkout/orders/" + url.PathEscape(req.ProviderRef) + "/capture"
	var order paypalOrder
	if err := g.postJSON(ctx, "confirm", path, map[string]any{}, req.PaymentID+"-capture", &order); err != nil {
		return nil, err
	}

	result := &ConfirmResult{
		Success:       order.Status == "COMPLETED",
		ProviderState: order.Status,
	}
	if c := order.firstCapture(); c != nil {
		result.TransactionID = c.ID
		if c.Status != "COMPLETED" {
			result.Success = false
			result.ProviderState = c.Status
		}
	}
	if result.Success && result.TransactionID == "" {
		return nil, malformed(payment.ProviderPayPal, "confirm", "completed order without capture")
	}
	if !result.Success {
		result.Message = "order status " + result.ProviderState
	}
	return result, nil
}

func (g *PayPalGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	order, err := g.getOrder(ctx, "refund", req.ProviderRef)
	if err != nil {
		return nil, err
	}
	capture := order.firstCapture()
	if capture == nil || capture.ID == "" {
		return nil, malformed(payment.ProviderPayPal, "refund", "order has no capture to refund")
	}

	note := req.Reason
	if note == "" {
		note = DefaultRefundReason
	}
	body := map[string]any{
		"amount": paypalAmount{
			CurrencyCode: strings.ToUpper(req.Currency),
			Value:        payment.FormatAmount(req.Amount),
		},
		"note_to_payer": note,
	}

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	path := "/v2/payments/captures/" + url.PathEscape(capture.ID) + "/refund"
	if err := g.postJSON(ctx, "refund", path, body, "", &refund); err != nil {
		return nil, err
	}
	if refund.ID == "" {
		return nil, malformed(payment.ProviderPayPal, "refund", "refund without id")
	}
	if refund.Status == "CANCELLED" || refund.Status == "FAILED" {
		return nil, statusError(payment.ProviderPayPal, "refund", http.StatusUnprocessableEntity, "refund "+strings.ToLower(refund.Status))
	}
	return &RefundResult{RefundID: refund.ID, ProviderState: refund.Status}, nil
}

func (g *PayPalGateway) Lookup(ctx context.Context, providerRef string) (*LookupResult, error) {
	order, err := g.getOrder(ctx, "lookup", providerRef)
	if err != nil {
		return nil, err
	}

	res := &LookupResult{Outcome: LookupPending, ProviderState: order.Status}
	if c := order.firstCapture(); c != nil {
		res.ProviderState = c.Status
		switch c.Status {
		case "COMPLETED":
			res.Outcome = LookupSucceeded
			res.TransactionID = c.ID
		case "DECLINED", "FAILED":
			res.Outcome = LookupFailed
		}
		return res, nil
	}
	if order.Status == "VOIDED" {
		res.Outcome = LookupFailed
	}
	return res, nil
}

func (g *PayPalGateway) getOrder(ctx context.Context, op, orderID string) (*paypalOrder, error) {
	return retry.DoWithResult(ctx, g.readRetry, func() (*paypalOrder, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v2/checkout/orders/"+url.PathEscape(orderID), nil)
		if err != nil {
			return nil, err
		}
		var order paypalOrder
		if err := g.do(req, op, &order); err != nil {
			return nil, err
		}
		return &order, nil
	})
}

func (g *PayPalGateway) postJSON(ctx context.Context, op, path string, body any, requestID string, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}
	return g.do(req, op, out)
}

func (g *PayPalGateway) do(req *http.Request, op string, out any) error {
	status, body, err := send(g.client, req, payment.ProviderPayPal, op)
	if err != nil {
		return err
	}
	if !is2xx(status) {
		var eb paypalErrorBody
		_ = json.Unmarshal(body, &eb)
		return statusError(payment.ProviderPayPal, op, status, eb.text())
	}
	if err := json.Unmarshal(body, out); err != nil {
		return malformed(payment.ProviderPayPal, op, "decode response: "+err.Error())
	}
	return nil
}

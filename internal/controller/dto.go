package controller

import (
	"time"

	"github.com/cassiomorais/booking-payments/internal/domain/payment"
	"github.com/cassiomorais/booking-payments/internal/providers"
	"github.com/cassiomorais/booking-payments/internal/service"
	"github.com/shopspring/decimal"
)

// --- Request DTOs ---
// These DTOs handle HTTP/JSON concerns (string ids, validation tags).
// Amounts are decimals and accept both JSON numbers and strings.
// Controllers convert these to service layer DTOs before calling business logic.

// CreatePaymentRequest holds the input for creating a payment.
type CreatePaymentRequest struct {
	BookingID   string          `json:"booking_id" validate:"required,max=128"`
	CustomerID  string          `json:"customer_id" validate:"required,max=128"`
	VendorID    string          `json:"vendor_id" validate:"omitempty,max=128"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" validate:"required,len=3,alpha"`
	Description string          `json:"description" validate:"max=500"`
	Provider    string          `json:"provider" validate:"required,oneof=stripe paypal mock"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// ProcessPaymentRequest confirms a payment with an instrument token.
type ProcessPaymentRequest struct {
	PaymentMethodType string `json:"payment_method_type" validate:"omitempty,oneof=card bank_account digital_wallet"`
	Token             string `json:"token" validate:"max=255"`
	SavePaymentMethod bool   `json:"save_payment_method"`
}

// RefundPaymentRequest refunds all of a payment when Amount is omitted.
type RefundPaymentRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason" validate:"max=200"`
}

func (r CreatePaymentRequest) toService() service.CreatePaymentRequest {
	return service.CreatePaymentRequest{
		BookingID:   r.BookingID,
		CustomerID:  r.CustomerID,
		VendorID:    r.VendorID,
		Amount:      r.Amount,
		Currency:    r.Currency,
		Description: r.Description,
		Provider:    payment.Provider(r.Provider),
		Metadata:    r.Metadata,
	}
}

// --- Response DTOs ---

// CreatePaymentResponse carries either client_secret or redirect_url.
type CreatePaymentResponse struct {
	PaymentID    string `json:"payment_id"`
	Status       string `json:"status"`
	Provider     string `json:"provider"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
}

type ProcessPaymentResponse struct {
	PaymentID     string `json:"payment_id"`
	Status        string `json:"status"`
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	Message       string `json:"message,omitempty"`
}

type RefundPaymentResponse struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	RefundID  string `json:"refund_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

// PaymentResponse represents a payment intent in API responses.
type PaymentResponse struct {
	ID          string         `json:"id"`
	BookingID   string         `json:"booking_id"`
	CustomerID  string         `json:"customer_id"`
	VendorID    string         `json:"vendor_id,omitempty"`
	Amount      string         `json:"amount"`
	Currency    string         `json:"currency"`
	Description string         `json:"description,omitempty"`
	Provider    string         `json:"provider"`
	Status      string         `json:"status"`
	ProviderRef string         `json:"provider_ref"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type PaymentMethodResponse struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Provider  string            `json:"provider"`
	Card      *payment.CardInfo `json:"card,omitempty"`
	IsDefault bool              `json:"is_default"`
	CreatedAt time.Time         `json:"created_at"`
}

type ProviderResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

func fromCreateResult(r *service.CreatePaymentResult) *CreatePaymentResponse {
	return &CreatePaymentResponse{
		PaymentID:    r.PaymentID,
		Status:       string(r.Status),
		Provider:     string(r.Provider),
		Amount:       payment.FormatAmount(r.Amount),
		Currency:     r.Currency,
		ClientSecret: r.ClientSecret,
		RedirectURL:  r.RedirectURL,
	}
}

func fromProcessResult(r *service.ProcessResult) *ProcessPaymentResponse {
	return &ProcessPaymentResponse{
		PaymentID:     r.PaymentID,
		Status:        string(r.Status),
		Success:       r.Success,
		TransactionID: r.TransactionID,
		Message:       r.Message,
	}
}

func fromRefundResult(r *service.RefundResult) *RefundPaymentResponse {
	return &RefundPaymentResponse{
		PaymentID: r.PaymentID,
		Status:    string(r.Status),
		RefundID:  r.RefundID,
		Amount:    payment.FormatAmount(r.Amount),
		Currency:  r.Currency,
	}
}

// FromIntent converts a payment intent to its API response.
func FromIntent(p *payment.Intent) *PaymentResponse {
	return &PaymentResponse{
		ID:          p.ID,
		BookingID:   p.BookingID,
		CustomerID:  p.CustomerID,
		VendorID:    p.VendorID,
		Amount:      payment.FormatAmount(p.Amount),
		Currency:    p.Currency,
		Description: p.Description,
		Provider:    string(p.Provider),
		Status:      string(p.Status),
		ProviderRef: p.ProviderRef,
		Metadata:    p.Metadata,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// FromMethod converts a saved method. The provider token is never exposed.
func FromMethod(m *payment.Method) *PaymentMethodResponse {
	return &PaymentMethodResponse{
		ID:        m.ID.String(),
		Type:      string(m.Type),
		Provider:  string(m.Provider),
		Card:      m.Card,
		IsDefault: m.IsDefault,
		CreatedAt: m.CreatedAt,
	}
}

func fromProviders(infos []providers.Info) []ProviderResponse {
	out := make([]ProviderResponse, 0, len(infos))
	for _, i := range infos {
		out = append(out, ProviderResponse{ID: string(i.ID), Name: i.Name})
	}
	return out
}

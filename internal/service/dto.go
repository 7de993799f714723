package service

import (
	"time"

	"github.com/cassiomorais/booking-payments/internal/domain/payment"
	"github.com/shopspring/decimal"
)

// Controllers convert their HTTP DTOs to these types.

type CreatePaymentRequest struct {
	BookingID   string
	CustomerID  string
	VendorID    string
	Amount      decimal.Decimal // major units
	Currency    string
	Description string
	Provider    payment.Provider
	Metadata    map[string]any
}

// CreatePaymentResult carries exactly one of ClientSecret or RedirectURL.
type CreatePaymentResult struct {
	PaymentID    string
	Status       payment.PaymentStatus
	Provider     payment.Provider
	Amount       decimal.Decimal
	Currency     string
	ClientSecret string
	RedirectURL  string
}

type ProcessOptions struct {
	MethodType        payment.MethodType
	Token             string
	SavePaymentMethod bool
}

type ProcessResult struct {
	PaymentID     string
	Status        payment.PaymentStatus
	Success       bool
	TransactionID string
	Message       string
}

type RefundOptions struct {
	// Amount defaults to the full original amount when nil.
	Amount *decimal.Decimal
	Reason string
}

type RefundResult struct {
	PaymentID string
	Status    payment.PaymentStatus
	RefundID  string
	Amount    decimal.Decimal
	Currency  string
}

// ReconcileReport counts what one reconciliation sweep did.
type ReconcileReport struct {
	Checked   int
	Completed int
	Failed    int
	Pending   int
	Skipped   int
	Errors    int
}

// Options tunes the payment service.
type Options struct {
	// ProviderTimeout bounds every gateway call.
	ProviderTimeout time.Duration
	// ReconcileAfter is how long an intent may sit in processing before the
	// sweep asks the provider about it.
	ReconcileAfter time.Duration
	ReconcileBatch int
}

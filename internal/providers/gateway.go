// Package providers adapts external payment processors to one Gateway
// contract. Each adapter owns its unit conversion, error translation and
// response parsing; callers only see major-unit amounts and typed results.
package providers

import (
	"context"

	"github.com/cassiomorais/booking-payments/internal/domain/payment"
	"github.com/shopspring/decimal"
)

// Gateway is one external payment processor.
type Gateway interface {
	// Name is the provider identifier the gateway is registered under.
	Name() payment.Provider
	// DisplayName is the human readable provider name.
	DisplayName() string
	// Initiate creates the provider-side payment. No money moves yet.
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	// Confirm charges or captures. A decline is a result with Success false
	// and a nil error; errors are reserved for calls that did not complete.
	Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error)
	// Refund returns money for a confirmed payment.
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	// Lookup reports the provider-side outcome of a payment.
	Lookup(ctx context.Context, providerRef string) (*LookupResult, error)
}

type InitiateRequest struct {
	PaymentID   string
	BookingID   string
	CustomerID  string
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// InitiateResult carries exactly one of ClientSecret (client-side
// confirmation) or RedirectURL (payer approval).
type InitiateResult struct {
	ProviderRef  string
	ClientSecret string
	RedirectURL  string
}

type ConfirmRequest struct {
	PaymentID   string
	ProviderRef string
	Token       string
	MethodType  payment.MethodType
}

type ConfirmResult struct {
	Success       bool
	TransactionID string
	ProviderState string
	Message       string
	// Card is set when the provider reported card details.
	Card *payment.CardInfo
	// ReusableToken is the saved-instrument token, if the provider issued one.
	ReusableToken string
}

type RefundRequest struct {
	PaymentID   string
	ProviderRef string
	Amount      decimal.Decimal
	Currency    string
	Reason      string
}

type RefundResult struct {
	RefundID      string
	ProviderState string
}

// LookupOutcome is the provider's view of a payment during reconciliation.
type LookupOutcome string

const (
	LookupSucceeded LookupOutcome = "succeeded"
	LookupFailed    LookupOutcome = "failed"
	// LookupPending means the provider has no final answer yet.
	LookupPending LookupOutcome = "pending"
)

type LookupResult struct {
	Outcome       LookupOutcome
	TransactionID string
	ProviderState string
}

// DefaultRefundReason is sent when the caller gives none.
const DefaultRefundReason = "requested_by_customer"

// Info describes a registered provider for UI enumeration.
type Info struct {
	ID   payment.Provider `json:"id"`
	Name string           `json:"name"`
}

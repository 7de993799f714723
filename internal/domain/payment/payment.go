package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/cassiomorais/booking-payments/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus represents the payment status in the state machine
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusProcessing PaymentStatus = "processing"
	StatusCompleted  PaymentStatus = "completed"
	StatusFailed     PaymentStatus = "failed"
	StatusCancelled  PaymentStatus = "cancelled"
	StatusRefunded   PaymentStatus = "refunded"
)

var transitions = map[PaymentStatus][]PaymentStatus{
	StatusPending: {
		StatusProcessing,
		StatusCancelled,
	},
	StatusProcessing: {
		StatusCompleted,
		StatusFailed,
	},
	StatusCompleted: {
		StatusRefunded,
	},
	StatusFailed:    {}, // Terminal state
	StatusCancelled: {}, // Terminal state
	StatusRefunded:  {}, // Terminal state
}

// Valid reports whether s is a known status.
func (s PaymentStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo checks if a payment in status s may move to next.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal checks if no further transition is permitted from s.
func (s PaymentStatus) IsTerminal() bool {
	allowed, ok := transitions[s]
	return ok && len(allowed) == 0
}

// Provider represents the external payment provider
type Provider string

const (
	// ProviderStripe takes amounts in minor units and confirms synchronously.
	ProviderStripe Provider = "stripe"
	// ProviderPayPal takes decimal amounts and approves through a redirect.
	ProviderPayPal Provider = "paypal"
	// ProviderMock is an in-process gateway for local runs and tests.
	ProviderMock Provider = "mock"
)

// Valid reports whether p is a known provider identifier.
func (p Provider) Valid() bool {
	switch p {
	case ProviderStripe, ProviderPayPal, ProviderMock:
		return true
	}
	return false
}

// Intent is one attempt to charge a customer for a booking.
type Intent struct {
	ID          string
	BookingID   string
	CustomerID  string
	VendorID    string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Provider    Provider
	Status      PaymentStatus
	ProviderRef string
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewIntentParams holds the fields of a new intent.
type NewIntentParams struct {
	ID          string
	BookingID   string
	CustomerID  string
	VendorID    string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Provider    Provider
	ProviderRef string
	Metadata    map[string]any
}

// NewID generates an intent id of the form pay_<unix millis>_<random>.
func NewID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("pay_%d_%s", now.UnixMilli(), random)
}

// ValidateNew checks the caller-supplied fields of a new intent.
func ValidateNew(p NewIntentParams) error {
	if strings.TrimSpace(p.BookingID) == "" {
		return errors.NewValidationError("booking_id", "cannot be empty")
	}
	if strings.TrimSpace(p.CustomerID) == "" {
		return errors.NewValidationError("customer_id", "cannot be empty")
	}
	if !RoundAmount(p.Amount).IsPositive() {
		return errors.NewValidationError("amount", "must be at least 0.01")
	}
	if _, err := NormalizeCurrency(p.Currency); err != nil {
		return err
	}
	if !p.Provider.Valid() {
		return errors.NewValidationError("provider", fmt.Sprintf("unsupported provider %q", p.Provider))
	}
	return nil
}

// NewIntent creates a pending intent. The provider reference is required:
// an intent is only ever persisted after the provider accepted initiation.
func NewIntent(p NewIntentParams, now time.Time) (*Intent, error) {
	if err := ValidateNew(p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, errors.ErrInvalidInput
	}
	if strings.TrimSpace(p.ProviderRef) == "" {
		return nil, fmt.Errorf("missing provider reference: %w", errors.ErrProviderResponse)
	}

	currency, _ := NormalizeCurrency(p.Currency)
	metadata := make(map[string]any, len(p.Metadata))
	for k, v := range p.Metadata {
		metadata[k] = v
	}

	return &Intent{
		ID:          p.ID,
		BookingID:   p.BookingID,
		CustomerID:  p.CustomerID,
		VendorID:    p.VendorID,
		Amount:      RoundAmount(p.Amount),
		Currency:    currency,
		Description: p.Description,
		Provider:    p.Provider,
		Status:      StatusPending,
		ProviderRef: p.ProviderRef,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Clone returns a copy whose metadata map can be mutated independently.
func (i *Intent) Clone() *Intent {
	c := *i
	c.Metadata = MergeMetadata(nil, i.Metadata)
	return &c
}

// MergeMetadata returns base with the top-level keys of patch applied.
// base is not modified.
func MergeMetadata(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// NormalizeCurrency upper-cases code and checks it is a 3-letter ISO 4217 code.
func NormalizeCurrency(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if c == "" {
		return "", errors.NewValidationError("currency", "cannot be empty")
	}
	if len(c) != 3 {
		return "", errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", errors.NewValidationError("currency", "must be a 3-letter ISO code")
		}
	}
	return c, nil
}

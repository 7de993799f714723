package testutil

import (
	"testing"
	"time"

	"github.com/cassiomorais/booking-payments/internal/domain/payment"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// NewTestIntent returns a pending intent for booking-1 of amount in USD.
func NewTestIntent(t *testing.T, provider payment.Provider, amount string) *payment.Intent {
	t.Helper()

	now := time.Now().UTC()
	id := payment.NewID(now)
	p, err := payment.NewIntent(payment.NewIntentParams{
		ID:          id,
		BookingID:   "booking-1",
		CustomerID:  "customer-1",
		VendorID:    "vendor-1",
		Amount:      decimal.RequireFromString(amount),
		Currency:    "USD",
		Description: "Grooming session",
		Provider:    provider,
		ProviderRef: "ref_" + id,
	}, now)
	require.NoError(t, err)
	return p
}

// SeedIntent stores an intent in status, walking the legal transitions.
func SeedIntent(t *testing.T, repo *MockPaymentRepository, provider payment.Provider, amount string, status payment.PaymentStatus) *payment.Intent {
	t.Helper()

	p := NewTestIntent(t, provider, amount)
	require.NoError(t, repo.PaymentStore.Create(t.Context(), p))

	path := map[payment.PaymentStatus][]payment.PaymentStatus{
		payment.StatusPending:    nil,
		payment.StatusProcessing: {payment.StatusProcessing},
		payment.StatusCompleted:  {payment.StatusProcessing, payment.StatusCompleted},
		payment.StatusFailed:     {payment.StatusProcessing, payment.StatusFailed},
		payment.StatusRefunded:   {payment.StatusProcessing, payment.StatusCompleted, payment.StatusRefunded},
		payment.StatusCancelled:  {payment.StatusCancelled},
	}[status]

	current := payment.StatusPending
	for _, next := range path {
		updated, err := repo.PaymentStore.UpdateStatus(t.Context(), p.ID, current, next, nil)
		require.NoError(t, err)
		p = updated
		current = next
	}
	return p
}

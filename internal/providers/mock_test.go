package providers

import (
	"context"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/booking-payments/internal/domain/errors"
	"github.com/cassiomorais/booking-payments/internal/domain/payment"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockGateway_Lifecycle(t *testing.T) {
	g := NewMockGateway(WithLatency(0))
	ctx := context.Background()

	started, err := g.Initiate(ctx, InitiateRequest{PaymentID: "pay_1", Amount: decimal.NewFromInt(10), Currency: "USD"})
	require.NoError(t, err)
	assert.NotEmpty(t, started.ProviderRef)
	assert.NotEmpty(t, started.ClientSecret)

	look, err := g.Lookup(ctx, started.ProviderRef)
	require.NoError(t, err)
	assert.Equal(t, LookupPending, look.Outcome)

	conf, err := g.Confirm(ctx, ConfirmRequest{PaymentID: "pay_1", ProviderRef: started.ProviderRef, Token: "tok_visa"})
	require.NoError(t, err)
	assert.True(t, conf.Success)
	assert.NotEmpty(t, conf.TransactionID)
	require.NotNil(t, conf.Card)
	assert.Equal(t, "4242", conf.Card.Last4)

	look, err = g.Lookup(ctx, started.ProviderRef)
	require.NoError(t, err)
	assert.Equal(t, LookupSucceeded, look.Outcome)

	ref, err := g.Refund(ctx, RefundRequest{PaymentID: "pay_1", ProviderRef: started.ProviderRef, Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.NotEmpty(t, ref.RefundID)

	i, c, r := g.Calls()
	assert.Equal(t, [3]int64{1, 1, 1}, [3]int64{i, c, r})
}

func TestMockGateway_DeclineToken(t *testing.T) {
	g := NewMockGateway(WithLatency(0))

	res, err := g.Confirm(context.Background(), ConfirmRequest{PaymentID: "pay_1", ProviderRef: "mock_x", Token: DeclineToken})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "simulated decline")
}

func TestMockGateway_NonCardHasNoCardInfo(t *testing.T) {
	g := NewMockGateway(WithLatency(0))

	res, err := g.Confirm(context.Background(), ConfirmRequest{PaymentID: "pay_1", Token: "tok", MethodType: payment.MethodBankAccount})
	require.NoError(t, err)
	assert.Nil(t, res.Card)
}

func TestMockGateway_FailureRate(t *testing.T) {
	g := NewMockGateway(WithLatency(0), WithFailureRate(1.0))

	res, err := g.Confirm(context.Background(), ConfirmRequest{PaymentID: "pay_1", Token: "tok"})
	require.NoError(t, err)
	assert.False(t, res.Success)

	_, err = g.Refund(context.Background(), RefundRequest{PaymentID: "pay_1"})
	assert.ErrorIs(t, err, domainErrors.ErrProviderRejected)
}

func TestMockGateway_TimeoutRate(t *testing.T) {
	g := NewMockGateway(WithLatency(0), WithTimeoutRate(1.0))

	_, err := g.Initiate(context.Background(), InitiateRequest{PaymentID: "pay_1"})
	assert.ErrorIs(t, err, domainErrors.ErrProviderTimeout)
}

func TestMockGateway_ContextCancelled(t *testing.T) {
	g := NewMockGateway(WithLatency(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.Initiate(ctx, InitiateRequest{PaymentID: "pay_1"})
	assert.ErrorIs(t, err, domainErrors.ErrProviderTimeout)
}

func TestMockGateway_LookupUnknown(t *testing.T) {
	g := NewMockGateway(WithLatency(0))

	_, err := g.Lookup(context.Background(), "nope")
	assert.ErrorIs(t, err, domainErrors.ErrProviderRejected)
}

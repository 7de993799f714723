package service

import (
	"context"
	"errors"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/booking-payments/internal/domain/errors"
	"github.com/cassiomorais/booking-payments/internal/domain/payment"
	"github.com/cassiomorais/booking-payments/internal/providers"
	"github.com/cassiomorais/booking-payments/internal/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedStale stores a processing intent last updated an hour ago.
func seedStale(t *testing.T, f *fixture) *payment.Intent {
	t.Helper()
	f.repo.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })
	defer f.repo.SetClock(time.Now)

	return testutil.SeedIntent(t, f.repo, payment.ProviderStripe, "30.00", payment.StatusProcessing)
}

func TestReconcile_AppliesDefiniteOutcomes(t *testing.T) {
	f := setupPaymentService(t)
	succeeded := seedStale(t, f)
	failed := seedStale(t, f)
	pending := seedStale(t, f)
	fresh := testutil.SeedIntent(t, f.repo, payment.ProviderStripe, "30.00", payment.StatusProcessing)

	f.stripe.LookupFunc = func(_ context.Context, ref string) (*providers.LookupResult, error) {
		switch ref {
		case succeeded.ProviderRef:
			return &providers.LookupResult{Outcome: providers.LookupSucceeded, TransactionID: "ch_late", ProviderState: "succeeded"}, nil
		case failed.ProviderRef:
			return &providers.LookupResult{Outcome: providers.LookupFailed, ProviderState: "canceled"}, nil
		}
		return &providers.LookupResult{Outcome: providers.LookupPending, ProviderState: "processing"}, nil
	}

	report, err := f.svc.Reconcile(t.Context())
	require.NoError(t, err)

	assert.Equal(t, ReconcileReport{Checked: 3, Completed: 1, Failed: 1, Pending: 1}, report)
	assert.EqualValues(t, 3, f.stripe.Lookups())

	got, err := f.repo.GetByID(t.Context(), succeeded.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, got.Status)
	assert.Equal(t, "ch_late", metadataMap(t, got, "processingDetails")["transactionId"])
	assert.Equal(t, "succeeded", metadataMap(t, got, "reconciliation")["providerStatus"])

	got, err = f.repo.GetByID(t.Context(), failed.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, got.Status)
	assert.Equal(t, "reconciled", metadataMap(t, got, "error")["kind"])

	for _, id := range []string{pending.ID, fresh.ID} {
		got, err = f.repo.GetByID(t.Context(), id)
		require.NoError(t, err)
		assert.Equal(t, payment.StatusProcessing, got.Status)
	}

	assert.ElementsMatch(t, []string{"payment.completed", "payment.failed"}, f.publisher.Topics())
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.ReconciliationResult.WithLabelValues("pending")))
}

func TestReconcile_LookupErrorsAreCounted(t *testing.T) {
	f := setupPaymentService(t)
	p := seedStale(t, f)
	f.stripe.LookupFunc = func(context.Context, string) (*providers.LookupResult, error) {
		return nil, errors.New("connection refused")
	}

	report, err := f.svc.Reconcile(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)

	got, err := f.repo.GetByID(t.Context(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusProcessing, got.Status)
}

func TestReconcile_ConcurrentResolutionIsSkipped(t *testing.T) {
	f := setupPaymentService(t)
	p := seedStale(t, f)
	f.stripe.LookupFunc = func(ctx context.Context, _ string) (*providers.LookupResult, error) {
		// The in-flight confirm lands while the sweep is asking.
		_, err := f.repo.PaymentStore.UpdateStatus(ctx, p.ID, payment.StatusProcessing, payment.StatusCompleted, nil)
		require.NoError(t, err)
		return &providers.LookupResult{Outcome: providers.LookupFailed, ProviderState: "canceled"}, nil
	}

	report, err := f.svc.Reconcile(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)

	got, err := f.repo.GetByID(t.Context(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, got.Status)
	assert.Empty(t, f.publisher.Events())
}

func TestReconcile_ListFailure(t *testing.T) {
	f := setupPaymentService(t)
	f.repo.ListStaleFunc = func(context.Context, payment.PaymentStatus, time.Time, int) ([]*payment.Intent, error) {
		return nil, errors.New("db down")
	}

	_, err := f.svc.Reconcile(t.Context())
	require.Error(t, err)
	assert.Equal(t, domainErrors.KindInternal, domainErrors.KindOf(err))
}

func TestReconcile_RespectsBatch(t *testing.T) {
	f := setupPaymentService(t, func(_ *Deps, o *Options) { o.ReconcileBatch = 2 })
	for range 3 {
		seedStale(t, f)
	}

	report, err := f.svc.Reconcile(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
}

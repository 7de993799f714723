package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/booking-payments/internal/domain/errors"
	"github.com/cassiomorais/booking-payments/internal/domain/payment"
	"github.com/cassiomorais/booking-payments/internal/events"
	"github.com/cassiomorais/booking-payments/internal/infrastructure/observability"
	"github.com/cassiomorais/booking-payments/internal/providers"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GatewayRegistry resolves the gateway for a provider.
type GatewayRegistry interface {
	Get(p payment.Provider) (providers.Gateway, error)
	List() []providers.Info
}

// Deps are the collaborators of PaymentService.
type Deps struct {
	Payments  payment.Repository
	Methods   payment.MethodRepository
	Gateways  GatewayRegistry
	Publisher events.Publisher
	Locker    Locker
	Logger    zerolog.Logger
	Metrics   *observability.Metrics
}

// PaymentService owns the payment state machine. It is the only writer of
// intent status, and every write goes through the store's compare-and-swap.
type PaymentService struct {
	repo      payment.Repository
	methods   payment.MethodRepository
	gateways  GatewayRegistry
	publisher events.Publisher
	locker    Locker
	logger    zerolog.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
	opts      Options
	now       func() time.Time
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(deps Deps, opts Options) *PaymentService {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 30 * time.Second
	}
	if opts.ReconcileAfter <= 0 {
		opts.ReconcileAfter = 10 * time.Minute
	}
	if opts.ReconcileBatch <= 0 {
		opts.ReconcileBatch = 50
	}
	if deps.Locker == nil {
		deps.Locker = NewKeyedMutex()
	}
	return &PaymentService{
		repo:      deps.Payments,
		methods:   deps.Methods,
		gateways:  deps.Gateways,
		publisher: deps.Publisher,
		locker:    deps.Locker,
		logger:    deps.Logger.With().Str("component", "payment_service").Logger(),
		metrics:   deps.Metrics,
		tracer:    otel.Tracer("github.com/cassiomorais/booking-payments/internal/service"),
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreatePayment initiates the payment with the provider and persists a
// pending intent. Nothing is persisted when initiation fails.
func (s *PaymentService) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	params := payment.NewIntentParams{
		BookingID:   req.BookingID,
		CustomerID:  req.CustomerID,
		VendorID:    req.VendorID,
		Amount:      payment.RoundAmount(req.Amount),
		Currency:    req.Currency,
		Description: req.Description,
		Provider:    req.Provider,
		Metadata:    req.Metadata,
	}
	if err := payment.ValidateNew(params); err != nil {
		return nil, err
	}
	currency, _ := payment.NormalizeCurrency(req.Currency)

	gw, err := s.gateway(req.Provider)
	if err != nil {
		return nil, err
	}

	now := s.now()
	params.ID = payment.NewID(now)
	log := observability.ForPayment(s.logger, params.ID, map[string]any{"provider": req.Provider})

	res, err := traced(ctx, s, params.ID, gw.Name(), "initiate", func(ctx context.Context) (*providers.InitiateResult, error) {
		return gw.Initiate(ctx, providers.InitiateRequest{
			PaymentID:   params.ID,
			BookingID:   req.BookingID,
			CustomerID:  req.CustomerID,
			Amount:      params.Amount,
			Currency:    currency,
			Description: req.Description,
		})
	})
	if err != nil {
		log.Warn().Err(err).Msg("Payment initiation failed")
		return nil, err
	}
	if res.ProviderRef == "" || (res.ClientSecret == "") == (res.RedirectURL == "") {
		return nil, domainErrors.NewProviderError(string(gw.Name()), "initiate", 0,
			"initiation must return a reference and exactly one of client secret or redirect url",
			domainErrors.ErrProviderResponse)
	}

	params.ProviderRef = res.ProviderRef
	intent, err := payment.NewIntent(params, now)
	if err != nil {
		return nil, err
	}

	// The provider already holds the payment: persist even if the caller went away.
	if err := s.repo.Create(context.WithoutCancel(ctx), intent); err != nil {
		log.Error().Err(err).Str("provider_ref", res.ProviderRef).Msg("Initiated payment could not be persisted")
		return nil, fmt.Errorf("persist payment: %w", err)
	}

	s.metrics.PaymentsTotal.WithLabelValues(string(intent.Provider)).Inc()
	log.Info().Str("provider_ref", intent.ProviderRef).Str("amount", payment.FormatAmount(intent.Amount)).Msg("Payment created")

	s.publisher.Publish(ctx, events.TopicPaymentCreated, map[string]any{
		"paymentId":  intent.ID,
		"bookingId":  intent.BookingID,
		"customerId": intent.CustomerID,
		"vendorId":   intent.VendorID,
		"amount":     payment.FormatAmount(intent.Amount),
		"currency":   intent.Currency,
		"provider":   string(intent.Provider),
		"status":     string(intent.Status),
	})

	return &CreatePaymentResult{
		PaymentID:    intent.ID,
		Status:       intent.Status,
		Provider:     intent.Provider,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
		ClientSecret: res.ClientSecret,
		RedirectURL:  res.RedirectURL,
	}, nil
}

// ProcessPayment confirms a pending intent with its provider. Winning the
// pending->processing swap is what entitles a caller to confirm; a loser
// gets a ConflictError. Provider failures end in FAILED and are reported in
// the result, not as an error.
func (s *PaymentService) ProcessPayment(ctx context.Context, paymentID string, opts ProcessOptions) (*ProcessResult, error) {
	if opts.MethodType == "" {
		opts.MethodType = payment.MethodCard
	}
	if !opts.MethodType.Valid() {
		return nil, domainErrors.NewValidationError("payment_method", fmt.Sprintf("unsupported method type %q", opts.MethodType))
	}

	p, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != payment.StatusPending {
		return nil, domainErrors.NewConflictError(p.ID, "process", string(p.Status), string(payment.StatusPending))
	}
	gw, err := s.gateways.Get(p.Provider)
	if err != nil {
		return nil, err
	}

	p, err = s.repo.UpdateStatus(ctx, p.ID, payment.StatusPending, payment.StatusProcessing, map[string]any{
		"processingStartedAt": s.now().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	s.metrics.PaymentTransition.WithLabelValues(string(p.Provider), string(payment.StatusProcessing)).Inc()

	// From here on the intent must leave processing whatever the caller does.
	ctx = context.WithoutCancel(ctx)
	log := observability.ForPayment(s.logger, p.ID, map[string]any{"provider": p.Provider})

	res, err := traced(ctx, s, p.ID, p.Provider, "confirm", func(ctx context.Context) (*providers.ConfirmResult, error) {
		return gw.Confirm(ctx, providers.ConfirmRequest{
			PaymentID:   p.ID,
			ProviderRef: p.ProviderRef,
			Token:       opts.Token,
			MethodType:  opts.MethodType,
		})
	})
	if err == nil && res == nil {
		err = domainErrors.NewProviderError(string(p.Provider), "confirm", 0,
			"confirmation returned no result", domainErrors.ErrProviderResponse)
	}
	if err != nil || !res.Success {
		return s.failProcessing(ctx, log, p, res, err)
	}

	completedAt := s.now()
	details := map[string]any{
		"transactionId":     res.TransactionID,
		"provider":          string(p.Provider),
		"paymentMethodType": string(opts.MethodType),
		"completedAt":       completedAt.Format(time.RFC3339),
	}
	if res.Card != nil {
		details["card"] = map[string]any{
			"last4":    res.Card.Last4,
			"brand":    res.Card.Brand,
			"expMonth": res.Card.ExpMonth,
			"expYear":  res.Card.ExpYear,
		}
	}
	p, err = s.repo.UpdateStatus(ctx, p.ID, payment.StatusProcessing, payment.StatusCompleted, map[string]any{
		"processingDetails": details,
	})
	if err != nil {
		log.Error().Err(err).Str("transaction_id", res.TransactionID).Msg("Confirmed payment could not be marked completed")
		return nil, fmt.Errorf("complete payment: %w", err)
	}
	s.metrics.PaymentTransition.WithLabelValues(string(p.Provider), string(payment.StatusCompleted)).Inc()

	if opts.SavePaymentMethod && res.ReusableToken != "" {
		s.saveMethod(ctx, log, p, opts.MethodType, res)
	}

	log.Info().Str("transaction_id", res.TransactionID).Msg("Payment completed")
	s.publisher.Publish(ctx, events.TopicPaymentCompleted, map[string]any{
		"paymentId":     p.ID,
		"bookingId":     p.BookingID,
		"customerId":    p.CustomerID,
		"vendorId":      p.VendorID,
		"amount":        payment.FormatAmount(p.Amount),
		"currency":      p.Currency,
		"provider":      string(p.Provider),
		"transactionId": res.TransactionID,
	})

	return &ProcessResult{
		PaymentID:     p.ID,
		Status:        p.Status,
		Success:       true,
		TransactionID: res.TransactionID,
		Message:       "payment completed",
	}, nil
}

func (s *PaymentService) failProcessing(ctx context.Context, log zerolog.Logger, p *payment.Intent, res *providers.ConfirmResult, callErr error) (*ProcessResult, error) {
	failure := map[string]any{"failedAt": s.now().Format(time.RFC3339)}
	var message string
	if callErr != nil {
		message = callErr.Error()
		failure["kind"] = string(domainErrors.KindOf(callErr))
		var pe *domainErrors.ProviderError
		if errors.As(callErr, &pe) && pe.StatusCode != 0 {
			failure["statusCode"] = pe.StatusCode
		}
	} else {
		message = res.Message
		if message == "" {
			message = "payment declined by provider"
		}
		failure["kind"] = "declined"
		failure["providerState"] = res.ProviderState
	}
	failure["message"] = message

	p, err := s.repo.UpdateStatus(ctx, p.ID, payment.StatusProcessing, payment.StatusFailed, map[string]any{"error": failure})
	if err != nil {
		log.Error().Err(err).Str("reason", message).Msg("Failed payment could not be marked failed")
		return nil, fmt.Errorf("fail payment: %w", err)
	}
	s.metrics.PaymentTransition.WithLabelValues(string(p.Provider), string(payment.StatusFailed)).Inc()

	log.Warn().Str("reason", message).Msg("Payment failed")
	s.publisher.Publish(ctx, events.TopicPaymentFailed, map[string]any{
		"paymentId":  p.ID,
		"bookingId":  p.BookingID,
		"customerId": p.CustomerID,
		"provider":   string(p.Provider),
		"error":      message,
	})

	return &ProcessResult{
		PaymentID: p.ID,
		Status:    p.Status,
		Success:   false,
		Message:   message,
	}, nil
}

// saveMethod stores the instrument used for a completed payment. The
// customer's first saved method becomes the default. Failures are logged
// only: the payment itself has succeeded.
func (s *PaymentService) saveMethod(ctx context.Context, log zerolog.Logger, p *payment.Intent, t payment.MethodType, res *providers.ConfirmResult) {
	existing, err := s.methods.ListMethods(ctx, p.CustomerID)
	if err != nil {
		log.Warn().Err(err).Msg("Could not list saved methods")
	}
	m := payment.NewMethod(p.CustomerID, t, p.Provider, res.ReusableToken, res.Card, err == nil && len(existing) == 0)
	if err := s.methods.CreateMethod(ctx, m); err != nil {
		log.Warn().Err(err).Msg("Could not save payment method")
	}
}

// RefundPayment refunds a completed payment in one provider call. A
// provider failure leaves the intent completed so the caller can retry.
func (s *PaymentService) RefundPayment(ctx context.Context, paymentID string, opts RefundOptions) (*RefundResult, error) {
	release, ok, err := s.locker.TryLock(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("lock payment: %w", err)
	}
	if !ok {
		return nil, &domainErrors.ConflictError{PaymentID: paymentID, Op: "refund", Current: "locked", Err: domainErrors.ErrPaymentLocked}
	}
	defer release()

	p, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != payment.StatusCompleted {
		return nil, domainErrors.NewConflictError(p.ID, "refund", string(p.Status), string(payment.StatusCompleted))
	}

	charged := payment.RoundAmount(p.Amount)
	amount := charged
	if opts.Amount != nil {
		amount = payment.RoundAmount(*opts.Amount)
		if !amount.IsPositive() {
			return nil, domainErrors.NewValidationError("amount", "must be at least 0.01")
		}
		if amount.GreaterThan(charged) {
			return nil, domainErrors.NewValidationError("amount",
				fmt.Sprintf("refund %s exceeds original amount %s", payment.FormatAmount(amount), payment.FormatAmount(charged)))
		}
	}
	reason := opts.Reason
	if reason == "" {
		reason = providers.DefaultRefundReason
	}

	gw, err := s.gateways.Get(p.Provider)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	log := observability.ForPayment(s.logger, p.ID, map[string]any{"provider": p.Provider})

	res, err := traced(ctx, s, p.ID, p.Provider, "refund", func(ctx context.Context) (*providers.RefundResult, error) {
		return gw.Refund(ctx, providers.RefundRequest{
			PaymentID:   p.ID,
			ProviderRef: p.ProviderRef,
			Amount:      amount,
			Currency:    p.Currency,
			Reason:      reason,
		})
	})
	if err != nil {
		log.Warn().Err(err).Msg("Refund failed")
		return nil, err
	}

	p, err = s.repo.UpdateStatus(ctx, p.ID, payment.StatusCompleted, payment.StatusRefunded, map[string]any{
		"refundDetails": map[string]any{
			"refundId":   res.RefundID,
			"amount":     payment.FormatAmount(amount),
			"reason":     reason,
			"refundedAt": s.now().Format(time.RFC3339),
		},
	})
	if err != nil {
		log.Error().Err(err).Str("refund_id", res.RefundID).Msg("Issued refund could not be recorded")
		return nil, fmt.Errorf("record refund: %w", err)
	}
	s.metrics.PaymentTransition.WithLabelValues(string(p.Provider), string(payment.StatusRefunded)).Inc()
	s.metrics.RefundedAmount.WithLabelValues(p.Currency).Add(amount.InexactFloat64())

	log.Info().Str("refund_id", res.RefundID).Str("amount", payment.FormatAmount(amount)).Msg("Payment refunded")
	s.publisher.Publish(ctx, events.TopicPaymentRefunded, map[string]any{
		"paymentId":  p.ID,
		"bookingId":  p.BookingID,
		"customerId": p.CustomerID,
		"refundId":   res.RefundID,
		"amount":     payment.FormatAmount(amount),
		"currency":   p.Currency,
		"reason":     reason,
	})

	return &RefundResult{
		PaymentID: p.ID,
		Status:    p.Status,
		RefundID:  res.RefundID,
		Amount:    amount,
		Currency:  p.Currency,
	}, nil
}

// CancelPayment abandons a pending intent. No provider call is made.
func (s *PaymentService) CancelPayment(ctx context.Context, paymentID string) (*payment.Intent, error) {
	p, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != payment.StatusPending {
		return nil, domainErrors.NewConflictError(p.ID, "cancel", string(p.Status), string(payment.StatusPending))
	}

	p, err = s.repo.UpdateStatus(ctx, p.ID, payment.StatusPending, payment.StatusCancelled, map[string]any{
		"cancellation": map[string]any{"cancelledAt": s.now().Format(time.RFC3339)},
	})
	if err != nil {
		return nil, err
	}
	s.metrics.PaymentTransition.WithLabelValues(string(p.Provider), string(payment.StatusCancelled)).Inc()

	s.publisher.Publish(ctx, events.TopicPaymentCancelled, map[string]any{
		"paymentId":  p.ID,
		"bookingId":  p.BookingID,
		"customerId": p.CustomerID,
		"provider":   string(p.Provider),
	})
	return p, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, paymentID string) (*payment.Intent, error) {
	return s.repo.GetByID(ctx, paymentID)
}

// ListPaymentMethods never fails: a broken lookup yields an empty list so
// the customer can still pay with a new instrument.
func (s *PaymentService) ListPaymentMethods(ctx context.Context, customerID string) []*payment.Method {
	methods, err := s.methods.ListMethods(ctx, customerID)
	if err != nil {
		s.logger.Warn().Err(err).Str("customer_id", customerID).Msg("Listing payment methods failed")
		return []*payment.Method{}
	}
	if methods == nil {
		return []*payment.Method{}
	}
	return methods
}

func (s *PaymentService) ListProviders() []providers.Info {
	return s.gateways.List()
}

// gateway resolves a provider chosen by the caller. A provider that is not
// enabled is bad input, not an upstream failure.
func (s *PaymentService) gateway(p payment.Provider) (providers.Gateway, error) {
	gw, err := s.gateways.Get(p)
	if errors.Is(err, domainErrors.ErrProviderNotFound) {
		return nil, domainErrors.NewValidationError("provider", fmt.Sprintf("provider %q is not enabled", p))
	}
	return gw, err
}

// traced runs one gateway call under the provider timeout inside a span.
// Errors that did not come from an adapter are wrapped as ProviderErrors.
func traced[T any](ctx context.Context, s *PaymentService, paymentID string, provider payment.Provider, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "provider."+op, trace.WithAttributes(
		attribute.String("payment.id", paymentID),
		attribute.String("payment.provider", string(provider)),
	))
	defer span.End()

	out, err := fn(ctx)
	if err != nil {
		err = asProviderError(provider, op, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func asProviderError(provider payment.Provider, op string, err error) error {
	var pe *domainErrors.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	sentinel := domainErrors.ErrProviderUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		sentinel = domainErrors.ErrProviderTimeout
	}
	return domainErrors.NewProviderError(string(provider), op, 0, sentinel.Error(), fmt.Errorf("%w: %w", sentinel, err))
}

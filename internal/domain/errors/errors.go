package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for the boundary layer.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindProvider   Kind = "provider"
	KindInternal   Kind = "internal"
)

var (
	// Payment errors
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidCurrency        = errors.New("invalid currency")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrStatusMismatch         = errors.New("payment status changed concurrently")
	ErrPaymentLocked          = errors.New("payment is locked by another operation")
	ErrDuplicatePayment       = errors.New("payment already exists")

	// Provider errors
	ErrProviderNotFound    = errors.New("payment provider not found")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrProviderRejected    = errors.New("payment rejected by provider")
	ErrProviderTimeout     = errors.New("provider request timeout")
	ErrProviderResponse    = errors.New("unexpected provider response")

	// Idempotency errors
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// ConflictError reports an operation that is not valid for the payment's
// current status. Expected is empty when the operation has no single
// expected status.
type ConflictError struct {
	PaymentID string
	Op        string
	Current   string
	Expected  string
	Err       error
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("cannot %s payment %s in status %s", e.Op, e.PaymentID, e.Current)
	if e.Expected != "" {
		msg += fmt.Sprintf(" (expected %s)", e.Expected)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConflictError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidStateTransition
}

// NewConflictError creates a conflict error for op against a payment in status current.
func NewConflictError(paymentID, op, current, expected string) *ConflictError {
	return &ConflictError{
		PaymentID: paymentID,
		Op:        op,
		Current:   current,
		Expected:  expected,
	}
}

// ProviderError carries a failed upstream call with the provider's own message.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Provider, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a provider error. err may be one of the ErrProvider* sentinels.
func NewProviderError(provider, op string, statusCode int, message string, err error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Op:         op,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var (
		validationErr *ValidationError
		conflictErr   *ConflictError
		providerErr   *ProviderError
	)
	switch {
	case errors.As(err, &validationErr),
		errors.Is(err, ErrValidationFailed),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidCurrency):
		return KindValidation
	case errors.Is(err, ErrPaymentNotFound):
		return KindNotFound
	case errors.As(err, &conflictErr),
		errors.Is(err, ErrInvalidStateTransition),
		errors.Is(err, ErrStatusMismatch),
		errors.Is(err, ErrPaymentLocked),
		errors.Is(err, ErrDuplicateIdempotencyKey),
		errors.Is(err, ErrDuplicatePayment):
		return KindConflict
	case errors.As(err, &providerErr),
		errors.Is(err, ErrProviderNotFound),
		errors.Is(err, ErrProviderUnavailable),
		errors.Is(err, ErrProviderRejected),
		errors.Is(err, ErrProviderTimeout),
		errors.Is(err, ErrProviderResponse),
		errors.Is(err, context.DeadlineExceeded):
		return KindProvider
	}
	return KindInternal
}

// IsKind reports whether err classifies as k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

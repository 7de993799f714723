package payment

import (
	"context"
	"time"
)

// Repository defines the interface for payment intent persistence
type Repository interface {
	// Create persists a new intent
	Create(ctx context.Context, intent *Intent) error

	// GetByID retrieves an intent by ID
	GetByID(ctx context.Context, id string) (*Intent, error)

	// UpdateStatus moves an intent from expected to next and merges patch into
	// its metadata. It fails with a ConflictError wrapping ErrStatusMismatch
	// when the persisted status is not expected at write time.
	UpdateStatus(ctx context.Context, id string, expected, next PaymentStatus, patch map[string]any) (*Intent, error)

	// ListStale lists intents in status that were last updated before cutoff,
	// oldest first
	ListStale(ctx context.Context, status PaymentStatus, cutoff time.Time, limit int) ([]*Intent, error)
}

// MethodRepository defines the interface for saved payment methods
type MethodRepository interface {
	// CreateMethod persists a saved payment method
	CreateMethod(ctx context.Context, method *Method) error

	// ListMethods lists a customer's saved methods, newest first
	ListMethods(ctx context.Context, customerID string) ([]*Method, error)
}

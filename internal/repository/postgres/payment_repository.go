package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/booking-payments/internal/domain/errors"
	"github.com/cassiomorais/booking-payments/internal/domain/payment"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const intentColumns = `id, booking_id, customer_id, vendor_id, amount::text, currency, description,
	provider, status, provider_ref, metadata, created_at, updated_at`

// PaymentRepository implements payment.Repository using PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Create inserts a new intent.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Intent) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO payment_intents
		 (id, booking_id, customer_id, vendor_id, amount, currency, description,
		  provider, status, provider_ref, metadata, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5::numeric,$6,$7,$8,$9,$10,$11,$12,$13)`,
		p.ID, p.BookingID, p.CustomerID, p.VendorID, decimalToNumeric(p.Amount), p.Currency, p.Description,
		string(p.Provider), string(p.Status), p.ProviderRef, metadata, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainErrors.ErrDuplicatePayment
		}
		return fmt.Errorf("insert payment intent: %w", err)
	}
	return nil
}

// GetByID retrieves an intent by its ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*payment.Intent, error) {
	return scanIntent(r.db(ctx).QueryRow(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id))
}

// UpdateStatus is a single guarded UPDATE: the row only changes when its
// status still equals expected. The metadata patch is merged at the top
// level with the jsonb || operator.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, expected, next payment.PaymentStatus, patch map[string]any) (*payment.Intent, error) {
	if !expected.CanTransitionTo(next) {
		return nil, &domainErrors.ConflictError{
			PaymentID: id, Op: "transition to " + string(next), Current: string(expected),
			Err: domainErrors.ErrInvalidStateTransition,
		}
	}
	if patch == nil {
		patch = map[string]any{}
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata patch: %w", err)
	}

	p, err := scanIntent(r.db(ctx).QueryRow(ctx,
		`UPDATE payment_intents
		 SET status = $3, metadata = metadata || $4::jsonb, updated_at = $5
		 WHERE id = $1 AND status = $2
		 RETURNING `+intentColumns,
		id, string(expected), string(next), patchJSON, time.Now().UTC(),
	))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, domainErrors.ErrPaymentNotFound) {
		return nil, fmt.Errorf("update payment status: %w", err)
	}

	// Nothing matched: either the row is gone or another writer moved it.
	var current string
	err = r.db(ctx).QueryRow(ctx, `SELECT status FROM payment_intents WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainErrors.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read payment status: %w", err)
	}
	return nil, &domainErrors.ConflictError{
		PaymentID: id,
		Op:        "transition to " + string(next),
		Current:   current,
		Expected:  string(expected),
		Err:       domainErrors.ErrStatusMismatch,
	}
}

// ListStale lists intents in status not updated since cutoff, oldest first.
func (r *PaymentRepository) ListStale(ctx context.Context, status payment.PaymentStatus, cutoff time.Time, limit int) ([]*payment.Intent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+intentColumns+` FROM payment_intents
		 WHERE status = $1 AND updated_at < $2
		 ORDER BY updated_at ASC
		 LIMIT $3`, string(status), cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale payments: %w", err)
	}
	defer rows.Close()

	var intents []*payment.Intent
	for rows.Next() {
		p, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, p)
	}
	return intents, rows.Err()
}

// --- scanning helpers ---

func scanIntent(s scanner) (*payment.Intent, error) {
	p := &payment.Intent{Metadata: make(map[string]any)}
	var (
		amountStr string
		provider  string
		status    string
		metadata  []byte
	)
	err := s.Scan(
		&p.ID, &p.BookingID, &p.CustomerID, &p.VendorID, &amountStr, &p.Currency, &p.Description,
		&provider, &status, &p.ProviderRef, &metadata, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment intent: %w", err)
	}

	if p.Amount, err = numericToDecimal(amountStr); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	p.Provider = payment.Provider(provider)
	p.Status = payment.PaymentStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal payment metadata: %w", err)
		}
	}
	return p, nil
}

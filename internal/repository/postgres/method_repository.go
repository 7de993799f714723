package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cassiomorais/booking-payments/internal/domain/payment"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MethodRepository implements payment.MethodRepository using PostgreSQL.
type MethodRepository struct {
	pool *pgxpool.Pool
}

func NewMethodRepository(pool *pgxpool.Pool) *MethodRepository {
	return &MethodRepository{pool: pool}
}

func (r *MethodRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *MethodRepository) CreateMethod(ctx context.Context, m *payment.Method) error {
	var card []byte
	if m.Card != nil {
		var err error
		if card, err = json.Marshal(m.Card); err != nil {
			return fmt.Errorf("marshal card info: %w", err)
		}
	}

	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO payment_methods (id, customer_id, type, provider, token_id, card, is_default, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.CustomerID, string(m.Type), string(m.Provider), m.TokenID, card, m.IsDefault, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment method: %w", err)
	}
	return nil
}

func (r *MethodRepository) ListMethods(ctx context.Context, customerID string) ([]*payment.Method, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, customer_id, type, provider, token_id, card, is_default, created_at
		 FROM payment_methods WHERE customer_id = $1
		 ORDER BY created_at DESC`, customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	defer rows.Close()

	methods := []*payment.Method{}
	for rows.Next() {
		m := &payment.Method{}
		var typ, provider string
		var card []byte
		if err := rows.Scan(&m.ID, &m.CustomerID, &typ, &provider, &m.TokenID, &card, &m.IsDefault, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment method: %w", err)
		}
		m.Type = payment.MethodType(typ)
		m.Provider = payment.Provider(provider)
		if len(card) > 0 {
			m.Card = &payment.CardInfo{}
			if err := json.Unmarshal(card, m.Card); err != nil {
				return nil, fmt.Errorf("unmarshal card info: %w", err)
			}
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

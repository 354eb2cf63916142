package postgres

import (
	"context"
	"database/sql"
	"time"

	"ecliptica/internal/domain/subscription"
	"ecliptica/internal/metrics"
	"ecliptica/pkg/errors"
)

// Compile-time check that we implement the interface
var _ subscription.PaymentRepository = (*PaymentRepository)(nil)

// PaymentRepository implements subscription.PaymentRepository using sqlx
type PaymentRepository struct {
	db DBTX
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a new pending payment
func (r *PaymentRepository) Create(ctx context.Context, p *subscription.Payment) error {
	query := `
		INSERT INTO payments (
			id, user_id, plan_type, charge_id, amount, status, is_renewal, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	start := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.UserID, p.PlanType, p.ChargeID, p.Amount, p.Status, p.IsRenewal, p.CreatedAt, p.UpdatedAt,
	)
	metrics.RecordDBQuery("postgres", "payment_create", time.Since(start), err)

	return err
}

// GetByChargeID retrieves a payment by its Coinbase charge ID
func (r *PaymentRepository) GetByChargeID(ctx context.Context, chargeID string) (*subscription.Payment, error) {
	var p subscription.Payment

	query := `
		SELECT id, user_id, plan_type, charge_id, amount, status, is_renewal, created_at, updated_at
		FROM payments
		WHERE charge_id = $1`

	start := time.Now()
	err := r.db.GetContext(ctx, &p, query, chargeID)
	metrics.RecordDBQuery("postgres", "payment_get", time.Since(start), err)

	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "payment not found")
	}
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// UpdateStatus transitions a payment. Completing a payment twice returns
// ErrAlreadyExists so webhook redeliveries do not extend access twice.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, chargeID string, status subscription.PaymentStatus) error {
	query := `
		UPDATE payments
		SET status = $2, updated_at = NOW()
		WHERE charge_id = $1 AND status <> $2`

	start := time.Now()
	res, err := r.db.ExecContext(ctx, query, chargeID, status)
	metrics.RecordDBQuery("postgres", "payment_update_status", time.Since(start), err)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := r.GetByChargeID(ctx, chargeID); getErr != nil {
			return getErr
		}
		return errors.Wrap(errors.ErrAlreadyExists, "payment already in target status")
	}

	return nil
}

package subscription

import (
	"context"
	"time"
)

// Repository persists subscription records.
type Repository interface {
	// Upsert writes the subscription, replacing any existing row for the user.
	Upsert(ctx context.Context, s *Subscription) error
	// Get returns the record or errors.ErrNotFound. Expired records are
	// returned as-is; activity is derived by the caller.
	Get(ctx context.Context, userID int64) (*Subscription, error)
	// IncrementUsage bumps the free-tier counter by one and returns the new
	// value. A row is created on first use.
	IncrementUsage(ctx context.Context, userID int64) (int, error)
	// ExpiringBefore lists unexpired subscriptions of any source with
	// ExpiresAt before t, for the renewal sweep.
	ExpiringBefore(ctx context.Context, t time.Time) ([]*Subscription, error)
	// MarkRenewalAttempt records that a renewal charge was created at t.
	MarkRenewalAttempt(ctx context.Context, userID int64, t time.Time) error
	SetAutoRenew(ctx context.Context, userID int64, enabled bool) error
}

// PaymentRepository persists charge records.
type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	// GetByChargeID returns the payment or errors.ErrNotFound.
	GetByChargeID(ctx context.Context, chargeID string) (*Payment, error)
	// UpdateStatus transitions the payment. Completing an already completed
	// payment returns errors.ErrAlreadyExists so webhook retries stay idempotent.
	UpdateStatus(ctx context.Context, chargeID string, status PaymentStatus) error
}

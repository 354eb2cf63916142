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
var _ subscription.Repository = (*SubscriptionRepository)(nil)

// SubscriptionRepository implements subscription.Repository using sqlx
type SubscriptionRepository struct {
	db DBTX
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Upsert writes the subscription, replacing any existing row for the user
func (r *SubscriptionRepository) Upsert(ctx context.Context, s *subscription.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			user_id, plan_type, source, promo_code, auto_renew,
			started_at, expires_at, used_count, updated_at, last_renewal_attempt
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			plan_type = EXCLUDED.plan_type,
			source = EXCLUDED.source,
			promo_code = EXCLUDED.promo_code,
			auto_renew = EXCLUDED.auto_renew,
			started_at = EXCLUDED.started_at,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at,
			last_renewal_attempt = EXCLUDED.last_renewal_attempt`

	start := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		s.UserID, s.PlanType, s.Source, s.PromoCode, s.AutoRenew,
		s.StartedAt, s.ExpiresAt, s.UsedCount, s.UpdatedAt, s.LastRenew,
	)
	metrics.RecordDBQuery("postgres", "subscription_upsert", time.Since(start), err)

	return err
}

// Get retrieves a subscription by Telegram user ID
func (r *SubscriptionRepository) Get(ctx context.Context, userID int64) (*subscription.Subscription, error) {
	var s subscription.Subscription

	query := `
		SELECT user_id, plan_type, source, promo_code, auto_renew,
			   started_at, expires_at, used_count, updated_at, last_renewal_attempt
		FROM subscriptions
		WHERE user_id = $1`

	start := time.Now()
	err := r.db.GetContext(ctx, &s, query, userID)
	metrics.RecordDBQuery("postgres", "subscription_get", time.Since(start), err)

	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "subscription not found")
	}
	if err != nil {
		return nil, err
	}

	return &s, nil
}

// IncrementUsage bumps the free-tier counter and returns the new value.
// The row is created on first use with an already-expired period so it
// never grants paid access by accident.
func (r *SubscriptionRepository) IncrementUsage(ctx context.Context, userID int64) (int, error) {
	query := `
		INSERT INTO subscriptions (
			user_id, plan_type, source, promo_code, auto_renew,
			started_at, expires_at, used_count, updated_at
		) VALUES ($1, '', '', '', FALSE, NOW(), NOW(), 1, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			used_count = subscriptions.used_count + 1,
			updated_at = NOW()
		RETURNING used_count`

	var count int
	start := time.Now()
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&count)
	metrics.RecordDBQuery("postgres", "subscription_increment_usage", time.Since(start), err)
	if err != nil {
		return 0, err
	}

	return count, nil
}

// ExpiringBefore lists active subscriptions expiring before t, regardless of
// source or the auto-renew flag. Quota-only rows carry an empty source and are
// excluded. The renewal worker decides per subscription whether to charge or
// just notify.
func (r *SubscriptionRepository) ExpiringBefore(ctx context.Context, t time.Time) ([]*subscription.Subscription, error) {
	query := `
		SELECT user_id, plan_type, source, promo_code, auto_renew,
			   started_at, expires_at, used_count, updated_at, last_renewal_attempt
		FROM subscriptions
		WHERE source <> '' AND expires_at < $1 AND expires_at > NOW()
		ORDER BY expires_at`

	var subs []*subscription.Subscription
	start := time.Now()
	err := r.db.SelectContext(ctx, &subs, query, t)
	metrics.RecordDBQuery("postgres", "subscription_expiring", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	return subs, nil
}

// MarkRenewalAttempt records that a renewal charge was created at t
func (r *SubscriptionRepository) MarkRenewalAttempt(ctx context.Context, userID int64, t time.Time) error {
	start := time.Now()
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_renewal_attempt = $2, updated_at = NOW() WHERE user_id = $1`,
		userID, t,
	)
	metrics.RecordDBQuery("postgres", "subscription_mark_renewal", time.Since(start), err)
	return err
}

// SetAutoRenew toggles auto-renewal for the user
func (r *SubscriptionRepository) SetAutoRenew(ctx context.Context, userID int64, enabled bool) error {
	start := time.Now()
	res, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET auto_renew = $2, updated_at = NOW() WHERE user_id = $1`,
		userID, enabled,
	)
	metrics.RecordDBQuery("postgres", "subscription_set_autorenew", time.Since(start), err)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrap(errors.ErrNotFound, "subscription not found")
	}

	return nil
}

package access

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ecliptica/internal/adapters/coinbase"
	"ecliptica/internal/domain/subscription"
	"ecliptica/internal/metrics"
	"ecliptica/pkg/errors"
	"ecliptica/pkg/logger"
)

// Charger creates hosted payment charges.
type Charger interface {
	CreateCharge(ctx context.Context, name, description string, amount decimal.Decimal, meta coinbase.ChargeMetadata) (*coinbase.Charge, error)
}

// Decision is the outcome of an access check.
type Decision struct {
	Allowed    bool
	Subscribed bool
	Remaining  int // free analyses left, valid when not subscribed
}

// Service decides who may run an analysis and accounts for usage. Quota is
// charged exactly once per answered request, by the caller invoking
// RecordUsage after a successful reply; CheckAccess never mutates state.
type Service struct {
	subs      subscription.Repository
	payments  subscription.PaymentRepository
	charger   Charger
	freeLimit int
	now       func() time.Time
	log       *logger.Logger
}

// NewService creates a new access policy service
func NewService(subs subscription.Repository, payments subscription.PaymentRepository, charger Charger, freeLimit int) *Service {
	if freeLimit <= 0 {
		freeLimit = 5
	}
	return &Service{
		subs:      subs,
		payments:  payments,
		charger:   charger,
		freeLimit: freeLimit,
		now:       time.Now,
		log:       logger.Get().With("component", "access_policy"),
	}
}

// CheckAccess reports whether the user may run one more analysis. It reads
// but never writes; denial means the free quota is spent and no active
// subscription exists.
func (s *Service) CheckAccess(ctx context.Context, userID int64) (*Decision, error) {
	sub, err := s.subs.Get(ctx, userID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	if sub.IsActive(s.now()) {
		metrics.AccessDecisions.WithLabelValues("subscribed").Inc()
		return &Decision{Allowed: true, Subscribed: true}, nil
	}

	used := 0
	if sub != nil {
		used = sub.UsedCount
	}
	remaining := s.freeLimit - used
	if remaining > 0 {
		metrics.AccessDecisions.WithLabelValues("free").Inc()
		return &Decision{Allowed: true, Remaining: remaining}, nil
	}

	metrics.AccessDecisions.WithLabelValues("denied").Inc()
	return &Decision{Allowed: false, Remaining: 0}, nil
}

// RecordUsage charges one unit of free quota. Subscribed users are never
// charged; the caller passes the Decision the request was granted under.
func (s *Service) RecordUsage(ctx context.Context, userID int64, d *Decision) error {
	if d == nil || d.Subscribed {
		return nil
	}

	count, err := s.subs.IncrementUsage(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "failed to record usage")
	}

	s.log.Infow("free analysis used", "user_id", userID, "used_count", count, "limit", s.freeLimit)
	return nil
}

// Redeem activates access from a promo code. Unknown codes return
// ErrInvalidPromoCode; a code already used by this user too.
func (s *Service) Redeem(ctx context.Context, userID int64, code string) (*subscription.Subscription, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	duration, ok := subscription.PromoCodes[code]
	if !ok {
		metrics.PromoRedemptions.WithLabelValues("invalid").Inc()
		return nil, errors.Wrapf(errors.ErrInvalidPromoCode, "unknown promo code")
	}

	existing, err := s.subs.Get(ctx, userID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.PromoCode == code {
		metrics.PromoRedemptions.WithLabelValues("invalid").Inc()
		return nil, errors.Wrapf(errors.ErrInvalidPromoCode, "promo code already redeemed")
	}

	now := s.now()
	sub := &subscription.Subscription{
		UserID:    userID,
		Source:    subscription.SourcePromo,
		PromoCode: code,
		StartedAt: now,
		ExpiresAt: now.Add(duration),
		UpdatedAt: now,
	}
	// Active time stacks rather than resets
	if existing.IsActive(now) {
		sub.ExpiresAt = existing.ExpiresAt.Add(duration)
		sub.StartedAt = existing.StartedAt
	}
	if existing != nil {
		sub.UsedCount = existing.UsedCount
	}

	if err := s.subs.Upsert(ctx, sub); err != nil {
		return nil, errors.Wrap(err, "failed to activate promo subscription")
	}

	metrics.PromoRedemptions.WithLabelValues("success").Inc()
	s.log.Infow("promo code redeemed", "user_id", userID, "code", code, "expires_at", sub.ExpiresAt)

	return sub, nil
}

// CreateCharge starts a payment for a plan and records it as pending. Access
// is granted later, only by the verified webhook.
func (s *Service) CreateCharge(ctx context.Context, userID int64, planType subscription.PlanType, isRenewal bool) (*coinbase.Charge, error) {
	plan, ok := subscription.PlanByType(planType)
	if !ok {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "unknown plan: %s", planType)
	}

	charge, err := s.charger.CreateCharge(ctx,
		"Ecliptica "+plan.Name,
		"Ecliptica analysis subscription ("+plan.Name+")",
		plan.Price,
		coinbase.ChargeMetadata{UserID: userID, PlanType: string(planType), IsRenewal: isRenewal},
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create charge")
	}

	now := s.now()
	payment := &subscription.Payment{
		ID:        uuid.New().String(),
		UserID:    userID,
		PlanType:  planType,
		ChargeID:  charge.ID,
		Amount:    plan.Price,
		Status:    subscription.PaymentPending,
		IsRenewal: isRenewal,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, errors.Wrap(err, "failed to record pending payment")
	}

	return charge, nil
}

// ActivateFromPayment completes a charge and extends the subscription. It is
// the only path to paid access and is idempotent per charge.
func (s *Service) ActivateFromPayment(ctx context.Context, chargeID string) error {
	payment, err := s.payments.GetByChargeID(ctx, chargeID)
	if err != nil {
		return err
	}

	if err := s.payments.UpdateStatus(ctx, chargeID, subscription.PaymentCompleted); err != nil {
		if errors.Is(err, errors.ErrAlreadyExists) {
			s.log.Infow("charge already processed", "charge_id", chargeID)
			return nil
		}
		return err
	}

	plan, ok := subscription.PlanByType(payment.PlanType)
	if !ok {
		return errors.Wrapf(errors.ErrInternal, "payment references unknown plan: %s", payment.PlanType)
	}

	now := s.now()
	existing, err := s.subs.Get(ctx, payment.UserID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return err
	}

	sub := &subscription.Subscription{
		UserID:    payment.UserID,
		PlanType:  payment.PlanType,
		Source:    subscription.SourcePayment,
		AutoRenew: true,
		StartedAt: now,
		ExpiresAt: now.Add(plan.Duration),
		UpdatedAt: now,
	}
	if existing.IsActive(now) {
		// Renewal lands before expiry; extend from the current period end
		sub.ExpiresAt = existing.ExpiresAt.Add(plan.Duration)
		sub.StartedAt = existing.StartedAt
	}
	if existing != nil {
		sub.UsedCount = existing.UsedCount
		sub.AutoRenew = existing.AutoRenew || !payment.IsRenewal
	}

	if err := s.subs.Upsert(ctx, sub); err != nil {
		return errors.Wrap(err, "failed to activate subscription")
	}

	s.log.Infow("subscription activated",
		"user_id", payment.UserID,
		"plan", payment.PlanType,
		"renewal", payment.IsRenewal,
		"expires_at", sub.ExpiresAt)

	return nil
}

// Status returns the user's subscription for display, or ErrNotFound.
func (s *Service) Status(ctx context.Context, userID int64) (*subscription.Subscription, error) {
	return s.subs.Get(ctx, userID)
}

// SetAutoRenew toggles auto-renewal. Promo access has nothing to renew, so
// toggling it is rejected rather than silently recorded.
func (s *Service) SetAutoRenew(ctx context.Context, userID int64, enabled bool) error {
	sub, err := s.subs.Get(ctx, userID)
	if err != nil {
		return err
	}
	if sub.Source != subscription.SourcePayment {
		return errors.Wrap(errors.ErrInvalidInput, "only paid subscriptions renew")
	}
	return s.subs.SetAutoRenew(ctx, userID, enabled)
}

// Cancel stops future renewals. The paid period keeps running until its
// expiry date; there are no refunds or early terminations.
func (s *Service) Cancel(ctx context.Context, userID int64) error {
	return s.SetAutoRenew(ctx, userID, false)
}

// FreeLimit exposes the configured quota for user-facing copy
func (s *Service) FreeLimit() int {
	return s.freeLimit
}

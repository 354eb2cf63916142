package access

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecliptica/internal/adapters/coinbase"
	"ecliptica/internal/domain/subscription"
	"ecliptica/pkg/errors"
)

// MockSubscriptionRepo is a mock for subscription.Repository
type MockSubscriptionRepo struct {
	upsertFunc       func(context.Context, *subscription.Subscription) error
	getFunc          func(context.Context, int64) (*subscription.Subscription, error)
	incrementFunc    func(context.Context, int64) (int, error)
	expiringFunc     func(context.Context, time.Time) ([]*subscription.Subscription, error)
	markRenewalFunc  func(context.Context, int64, time.Time) error
	setAutoRenewFunc func(context.Context, int64, bool) error
}

func (m *MockSubscriptionRepo) Upsert(ctx context.Context, s *subscription.Subscription) error {
	if m.upsertFunc != nil {
		return m.upsertFunc(ctx, s)
	}
	return nil
}

func (m *MockSubscriptionRepo) Get(ctx context.Context, userID int64) (*subscription.Subscription, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, userID)
	}
	return nil, errors.ErrNotFound
}

func (m *MockSubscriptionRepo) IncrementUsage(ctx context.Context, userID int64) (int, error) {
	if m.incrementFunc != nil {
		return m.incrementFunc(ctx, userID)
	}
	return 1, nil
}

func (m *MockSubscriptionRepo) ExpiringBefore(ctx context.Context, t time.Time) ([]*subscription.Subscription, error) {
	if m.expiringFunc != nil {
		return m.expiringFunc(ctx, t)
	}
	return nil, nil
}

func (m *MockSubscriptionRepo) MarkRenewalAttempt(ctx context.Context, userID int64, t time.Time) error {
	if m.markRenewalFunc != nil {
		return m.markRenewalFunc(ctx, userID, t)
	}
	return nil
}

func (m *MockSubscriptionRepo) SetAutoRenew(ctx context.Context, userID int64, enabled bool) error {
	if m.setAutoRenewFunc != nil {
		return m.setAutoRenewFunc(ctx, userID, enabled)
	}
	return nil
}

// MockPaymentRepo is a mock for subscription.PaymentRepository
type MockPaymentRepo struct {
	createFunc       func(context.Context, *subscription.Payment) error
	getByChargeFunc  func(context.Context, string) (*subscription.Payment, error)
	updateStatusFunc func(context.Context, string, subscription.PaymentStatus) error
}

func (m *MockPaymentRepo) Create(ctx context.Context, p *subscription.Payment) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, p)
	}
	return nil
}

func (m *MockPaymentRepo) GetByChargeID(ctx context.Context, chargeID string) (*subscription.Payment, error) {
	if m.getByChargeFunc != nil {
		return m.getByChargeFunc(ctx, chargeID)
	}
	return nil, errors.ErrNotFound
}

func (m *MockPaymentRepo) UpdateStatus(ctx context.Context, chargeID string, status subscription.PaymentStatus) error {
	if m.updateStatusFunc != nil {
		return m.updateStatusFunc(ctx, chargeID, status)
	}
	return nil
}

// MockCharger is a mock for Charger
type MockCharger struct {
	createChargeFunc func(context.Context, string, string, decimal.Decimal, coinbase.ChargeMetadata) (*coinbase.Charge, error)
}

func (m *MockCharger) CreateCharge(ctx context.Context, name, desc string, amount decimal.Decimal, meta coinbase.ChargeMetadata) (*coinbase.Charge, error) {
	if m.createChargeFunc != nil {
		return m.createChargeFunc(ctx, name, desc, amount, meta)
	}
	return &coinbase.Charge{ID: "charge-1", HostedURL: "https://commerce.coinbase.com/charges/x"}, nil
}

func TestCheckAccess_ActiveSubscription(t *testing.T) {
	subs := &MockSubscriptionRepo{
		getFunc: func(ctx context.Context, userID int64) (*subscription.Subscription, error) {
			return &subscription.Subscription{
				UserID:    userID,
				Source:    subscription.SourcePayment,
				ExpiresAt: time.Now().Add(24 * time.Hour),
				UsedCount: 99,
			}, nil
		},
	}
	svc := NewService(subs, &MockPaymentRepo{}, &MockCharger{}, 5)

	d, err := svc.CheckAccess(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, d.Subscribed)
}

func TestCheckAccess_FreeQuota(t *testing.T) {
	tests := []struct {
		name      string
		usedCount int
		allowed   bool
		remaining int
	}{
		{"untouched quota", 0, true, 5},
		{"one left", 4, true, 1},
		{"exactly exhausted", 5, false, 0},
		{"over the line", 7, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subs := &MockSubscriptionRepo{
				getFunc: func(ctx context.Context, userID int64) (*subscription.Subscription, error) {
					return &subscription.Subscription{
						UserID:    userID,
						ExpiresAt: time.Now().Add(-time.Hour),
						UsedCount: tt.usedCount,
					}, nil
				},
			}
			svc := NewService(subs, &MockPaymentRepo{}, &MockCharger{}, 5)

			d, err := svc.CheckAccess(context.Background(), 42)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.remaining, d.Remaining)
			assert.False(t, d.Subscribed)
		})
	}
}

func TestCheckAccess_NewUserHasFullQuota(t *testing.T) {
	svc := NewService(&MockSubscriptionRepo{}, &MockPaymentRepo{}, &MockCharger{}, 5)

	d, err := svc.CheckAccess(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 5, d.Remaining)
}

func TestCheckAccess_NeverMutates(t *testing.T) {
	increments := 0
	subs := &MockSubscriptionRepo{
		incrementFunc: func(ctx context.Context, userID int64) (int, error) {
			increments++
			return 1, nil
		},
	}
	svc := NewService(subs, &MockPaymentRepo{}, &MockCharger{}, 5)

	for i := 0; i < 3; i++ {
		_, err := svc.CheckAccess(context.Background(), 42)
		require.NoError(t, err)
	}
	assert.Zero(t, increments, "CheckAccess must not touch the counter")
}

func TestRecordUsage_IncrementsOnceForFreeUser(t *testing.T) {
	increments := 0
	subs := &MockSubscriptionRepo{
		incrementFunc: func(ctx context.Context, userID int64) (int, error) {
			increments++
			return increments, nil
		},
	}
	svc := NewService(subs, &MockPaymentRepo{}, &MockCharger{}, 5)

	require.NoError(t, svc.RecordUsage(context.Background(), 42, &Decision{Allowed: true, Remaining: 5}))
	assert.Equal(t, 1, increments)
}

func TestRecordUsage_SkipsSubscribedUser(t *testing.T) {
	subs := &MockSubscriptionRepo{
		incrementFunc: func(ctx context.Context, userID int64) (int, error) {
			t.Fatal("subscribed users must not be charged quota")
			return 0, nil
		},
	}
	svc := NewService(subs, &MockPaymentRepo{}, &MockCharger{}, 5)

	require.NoError(t, svc.RecordUsage(context.Background(), 42, &Decision{Allowed: true, Subscribed: true}))
}

func TestRedeem_ValidCode(t *testing.T) {
	var saved *subscription.Subscription
	subs := &MockSubscriptionRepo{
		upsertFunc: func(ctx context.Context, s *subscription.Subscription) error {
			saved = s
			return nil
		},
	}
	svc := NewService(subs, &MockPaymentRepo{}, &MockCharger{}, 5)

	sub, err := svc.Redeem(context.Background(), 42, "ecliptica2024")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, subscription.SourcePromo, sub.Source)
	assert.Equal(t, "ECLIPTICA2024", sub.PromoCode)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), sub.ExpiresAt, time.Minute)
}

func TestRedeem_UnknownCode(t *testing.T) {
	svc := NewService(&MockSubscriptionRepo{}, &MockPaymentRepo{}, &MockCharger{}, 5)

	_, err := svc.Redeem(context.Background(), 42, "TOTALLYFAKE")
	assert.True(t, errors.Is(err, errors.ErrInvalidPromoCode))
}

func TestRedeem_SameCodeTwice(t *testing.T) {
	subs := &MockSubscriptionRepo{
		getFunc: func(ctx context.Context, userID int64) (*subscription.Subscription, error) {
			return &subscription.Subscription{
				UserID:    userID,
				Source:    subscription.SourcePromo,
				PromoCode: "PERPSMASTER",
				ExpiresAt: time.Now().Add(time.Hour),
			}, nil
		},
	}
	svc := NewService(subs, &MockPaymentRepo{}, &MockCharger{}, 5)

	_, err := svc.Redeem(context.Background(), 42, "PERPSMASTER")
	assert.True(t, errors.Is(err, errors.ErrInvalidPromoCode))
}

func TestCreateCharge_RecordsPendingPayment(t *testing.T) {
	var created *subscription.Payment
	payments := &MockPaymentRepo{
		createFunc: func(ctx context.Context, p *subscription.Payment) error {
			created = p
			return nil
		},
	}
	svc := NewService(&MockSubscriptionRepo{}, payments, &MockCharger{}, 5)

	charge, err := svc.CreateCharge(context.Background(), 42, subscription.PlanMonthly, false)
	require.NoError(t, err)
	assert.NotEmpty(t, charge.HostedURL)

	require.NotNil(t, created)
	assert.Equal(t, subscription.PaymentPending, created.Status)
	assert.Equal(t, "charge-1", created.ChargeID)
	assert.True(t, created.Amount.Equal(decimal.RequireFromString("19.99")))
}

func TestCreateCharge_UnknownPlan(t *testing.T) {
	svc := NewService(&MockSubscriptionRepo{}, &MockPaymentRepo{}, &MockCharger{}, 5)

	_, err := svc.CreateCharge(context.Background(), 42, "lifetime", false)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestActivateFromPayment_GrantsAccess(t *testing.T) {
	var saved *subscription.Subscription
	subs := &MockSubscriptionRepo{
		upsertFunc: func(ctx context.Context, s *subscription.Subscription) error {
			saved = s
			return nil
		},
	}
	payments := &MockPaymentRepo{
		getByChargeFunc: func(ctx context.Context, chargeID string) (*subscription.Payment, error) {
			return &subscription.Payment{
				UserID:   42,
				PlanType: subscription.PlanQuarterly,
				ChargeID: chargeID,
				Status:   subscription.PaymentPending,
			}, nil
		},
	}
	svc := NewService(subs, payments, &MockCharger{}, 5)

	require.NoError(t, svc.ActivateFromPayment(context.Background(), "charge-1"))
	require.NotNil(t, saved)
	assert.Equal(t, subscription.SourcePayment, saved.Source)
	assert.True(t, saved.AutoRenew)
	assert.WithinDuration(t, time.Now().Add(90*24*time.Hour), saved.ExpiresAt, time.Minute)
}

func TestActivateFromPayment_IdempotentPerCharge(t *testing.T) {
	upserts := 0
	subs := &MockSubscriptionRepo{
		upsertFunc: func(ctx context.Context, s *subscription.Subscription) error {
			upserts++
			return nil
		},
	}
	payments := &MockPaymentRepo{
		getByChargeFunc: func(ctx context.Context, chargeID string) (*subscription.Payment, error) {
			return &subscription.Payment{UserID: 42, PlanType: subscription.PlanMonthly, ChargeID: chargeID}, nil
		},
		updateStatusFunc: func(ctx context.Context, chargeID string, status subscription.PaymentStatus) error {
			return errors.Wrap(errors.ErrAlreadyExists, "payment already in target status")
		},
	}
	svc := NewService(subs, payments, &MockCharger{}, 5)

	require.NoError(t, svc.ActivateFromPayment(context.Background(), "charge-1"))
	assert.Zero(t, upserts, "a redelivered webhook must not extend the period again")
}

func TestActivateFromPayment_RenewalExtendsCurrentPeriod(t *testing.T) {
	currentEnd := time.Now().Add(48 * time.Hour)
	var saved *subscription.Subscription
	subs := &MockSubscriptionRepo{
		getFunc: func(ctx context.Context, userID int64) (*subscription.Subscription, error) {
			return &subscription.Subscription{
				UserID:    userID,
				PlanType:  subscription.PlanMonthly,
				Source:    subscription.SourcePayment,
				AutoRenew: true,
				ExpiresAt: currentEnd,
			}, nil
		},
		upsertFunc: func(ctx context.Context, s *subscription.Subscription) error {
			saved = s
			return nil
		},
	}
	payments := &MockPaymentRepo{
		getByChargeFunc: func(ctx context.Context, chargeID string) (*subscription.Payment, error) {
			return &subscription.Payment{
				UserID:    42,
				PlanType:  subscription.PlanMonthly,
				ChargeID:  chargeID,
				IsRenewal: true,
			}, nil
		},
	}
	svc := NewService(subs, payments, &MockCharger{}, 5)

	require.NoError(t, svc.ActivateFromPayment(context.Background(), "charge-1"))
	require.NotNil(t, saved)
	assert.Equal(t, currentEnd.Add(30*24*time.Hour), saved.ExpiresAt,
		"renewal extends from the current period end, not from now")
}

func TestSetAutoRenew_PromoRejected(t *testing.T) {
	toggled := false
	subs := &MockSubscriptionRepo{
		getFunc: func(ctx context.Context, userID int64) (*subscription.Subscription, error) {
			return &subscription.Subscription{
				UserID:    userID,
				Source:    subscription.SourcePromo,
				PromoCode: "ECLIPTICA2024",
				ExpiresAt: time.Now().Add(10 * 24 * time.Hour),
			}, nil
		},
		setAutoRenewFunc: func(ctx context.Context, userID int64, enabled bool) error {
			toggled = true
			return nil
		},
	}
	svc := NewService(subs, &MockPaymentRepo{}, &MockCharger{}, 5)

	err := svc.SetAutoRenew(context.Background(), 1, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
	assert.False(t, toggled)
}

func TestSetAutoRenew_PaidToggles(t *testing.T) {
	var got bool
	subs := &MockSubscriptionRepo{
		getFunc: func(ctx context.Context, userID int64) (*subscription.Subscription, error) {
			return &subscription.Subscription{
				UserID:    userID,
				Source:    subscription.SourcePayment,
				AutoRenew: true,
				ExpiresAt: time.Now().Add(10 * 24 * time.Hour),
			}, nil
		},
		setAutoRenewFunc: func(ctx context.Context, userID int64, enabled bool) error {
			got = enabled
			return nil
		},
	}
	svc := NewService(subs, &MockPaymentRepo{}, &MockCharger{}, 5)

	require.NoError(t, svc.SetAutoRenew(context.Background(), 1, false))
	assert.False(t, got)
}

func TestCancel_DisablesAutoRenewOnly(t *testing.T) {
	var got *bool
	subs := &MockSubscriptionRepo{
		getFunc: func(ctx context.Context, userID int64) (*subscription.Subscription, error) {
			return &subscription.Subscription{
				UserID:    userID,
				Source:    subscription.SourcePayment,
				AutoRenew: true,
				ExpiresAt: time.Now().Add(10 * 24 * time.Hour),
			}, nil
		},
		setAutoRenewFunc: func(ctx context.Context, userID int64, enabled bool) error {
			got = &enabled
			return nil
		},
	}
	svc := NewService(subs, &MockPaymentRepo{}, &MockCharger{}, 5)

	require.NoError(t, svc.Cancel(context.Background(), 1))
	require.NotNil(t, got)
	assert.False(t, *got, "cancel must only turn renewal off; the period is untouched")
}

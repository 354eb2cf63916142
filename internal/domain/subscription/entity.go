package subscription

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlanType identifies a paid billing period.
type PlanType string

const (
	PlanMonthly   PlanType = "monthly"
	PlanQuarterly PlanType = "quarterly"
	PlanAnnual    PlanType = "annual"
)

// Plan describes a purchasable subscription period.
type Plan struct {
	Type     PlanType
	Name     string
	Price    decimal.Decimal
	Duration time.Duration
	Savings  string
}

// Plans is the purchasable catalog, in display order.
var Plans = []Plan{
	{Type: PlanMonthly, Name: "Monthly", Price: decimal.RequireFromString("19.99"), Duration: 30 * 24 * time.Hour},
	{Type: PlanQuarterly, Name: "Quarterly", Price: decimal.RequireFromString("49.99"), Duration: 90 * 24 * time.Hour, Savings: "17%"},
	{Type: PlanAnnual, Name: "Annual", Price: decimal.RequireFromString("149.99"), Duration: 365 * 24 * time.Hour, Savings: "37%"},
}

// PlanByType returns the catalog entry for t, or false when t is unknown.
func PlanByType(t PlanType) (Plan, bool) {
	for _, p := range Plans {
		if p.Type == t {
			return p, true
		}
	}
	return Plan{}, false
}

// PromoCodes maps redeemable codes to the access duration they grant.
// Codes are matched case-insensitively after trimming.
var PromoCodes = map[string]time.Duration{
	"ECLIPTICA2024": 30 * 24 * time.Hour,
	"PERPSMASTER":   90 * 24 * time.Hour,
}

// Source records how a subscription was obtained.
type Source string

const (
	SourcePayment Source = "payment"
	SourcePromo   Source = "promo"
)

// Subscription is a user's paid or promo access record. Active status is
// never stored; it is derived from ExpiresAt at read time.
type Subscription struct {
	UserID    int64      `db:"user_id"`
	PlanType  PlanType   `db:"plan_type"`
	Source    Source     `db:"source"`
	PromoCode string     `db:"promo_code"`
	AutoRenew bool       `db:"auto_renew"`
	StartedAt time.Time  `db:"started_at"`
	ExpiresAt time.Time  `db:"expires_at"`
	UsedCount int        `db:"used_count"`
	UpdatedAt time.Time  `db:"updated_at"`
	LastRenew *time.Time `db:"last_renewal_attempt"`
}

// IsActive reports whether the subscription grants access at t.
func (s *Subscription) IsActive(t time.Time) bool {
	return s != nil && t.Before(s.ExpiresAt)
}

// Renewable reports whether the renewal worker may attempt a charge at t:
// paid source, auto-renew on, expiring within window, and no attempt today.
func (s *Subscription) Renewable(t time.Time, window time.Duration) bool {
	if s == nil || s.Source != SourcePayment || !s.AutoRenew {
		return false
	}
	if s.ExpiresAt.Sub(t) > window || t.After(s.ExpiresAt) {
		return false
	}
	if s.LastRenew != nil && s.LastRenew.After(t.Add(-24*time.Hour)) {
		return false
	}
	return true
}

// PaymentStatus is the lifecycle state of a charge.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is a Coinbase Commerce charge we created. It moves from pending
// to completed only through a signature-verified webhook event.
type Payment struct {
	ID        string          `db:"id"`
	UserID    int64           `db:"user_id"`
	PlanType  PlanType        `db:"plan_type"`
	ChargeID  string          `db:"charge_id"`
	Amount    decimal.Decimal `db:"amount"`
	Status    PaymentStatus   `db:"status"`
	IsRenewal bool            `db:"is_renewal"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

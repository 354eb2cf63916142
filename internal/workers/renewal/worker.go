package renewal

import (
	"context"
	"time"

	"ecliptica/internal/domain/subscription"
	"ecliptica/internal/metrics"
	"ecliptica/internal/services/access"
	"ecliptica/pkg/logger"
)

const (
	renewWindow  = 3 * 24 * time.Hour // create the renewal charge this close to expiry
	notifyWindow = 7 * 24 * time.Hour // warn the user this close to expiry
)

// Notifier delivers renewal notices to users.
type Notifier interface {
	SendNotificationWithRetry(chatID int64, text string, maxRetries int) error
}

// Worker sweeps subscriptions daily and creates renewal charges for paying
// users approaching expiry. Promo access never renews. At most one charge
// attempt per user per day, tracked via last_renewal_attempt.
type Worker struct {
	subs     subscription.Repository
	access   *access.Service
	notifier Notifier
	interval time.Duration
	now      func() time.Time
	log      *logger.Logger
}

// NewWorker creates a new renewal worker
func NewWorker(subs subscription.Repository, accessSvc *access.Service, notifier Notifier, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Worker{
		subs:     subs,
		access:   accessSvc,
		notifier: notifier,
		interval: interval,
		now:      time.Now,
		log:      logger.Get().With("component", "renewal_worker"),
	}
}

// Run starts the renewal loop. Runs one sweep on startup, then per interval.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Infow("Renewal worker started", "interval", w.interval)

	if err := w.sweep(ctx); err != nil {
		w.log.Errorw("Initial renewal sweep failed", "error", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				w.log.Errorw("Renewal sweep failed", "error", err)
				// Continue running despite errors
			}

		case <-ctx.Done():
			w.log.Info("Renewal worker stopped")
			return ctx.Err()
		}
	}
}

// sweep finds subscriptions near expiry, notifies their owners, and creates
// renewal charges for those inside the renewal window.
func (w *Worker) sweep(ctx context.Context) error {
	start := w.now()

	subs, err := w.subs.ExpiringBefore(ctx, start.Add(notifyWindow))
	if err != nil {
		metrics.RecordWorkerExecution("renewal", time.Since(start), err)
		return err
	}

	w.log.Infow("Renewal sweep", "candidates", len(subs))

	for _, sub := range subs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.processOne(ctx, sub)
	}

	metrics.RecordWorkerExecution("renewal", time.Since(start), nil)
	return nil
}

func (w *Worker) processOne(ctx context.Context, sub *subscription.Subscription) {
	now := w.now()
	untilExpiry := sub.ExpiresAt.Sub(now)
	if untilExpiry <= 0 || untilExpiry > notifyWindow {
		return
	}

	if !sub.Renewable(now, renewWindow) {
		w.notifyExpiry(sub, untilExpiry)
		return
	}

	charge, err := w.access.CreateCharge(ctx, sub.UserID, sub.PlanType, true)
	if err != nil {
		metrics.RenewalAttempts.WithLabelValues("error").Inc()
		w.log.Errorw("Failed to create renewal charge", "user_id", sub.UserID, "error", err)
		return
	}

	if err := w.subs.MarkRenewalAttempt(ctx, sub.UserID, now); err != nil {
		w.log.Errorw("Failed to mark renewal attempt", "user_id", sub.UserID, "error", err)
	}

	metrics.RenewalAttempts.WithLabelValues("created").Inc()
	w.log.Infow("Renewal charge created", "user_id", sub.UserID, "plan", sub.PlanType, "charge_id", charge.ID)

	w.notify(sub.UserID,
		"🔄 Your subscription renews on "+sub.ExpiresAt.Format("Jan 2")+
			". Complete the payment to stay subscribed:\n"+charge.HostedURL)
}

// notifyExpiry sends the heads-up for a subscription that is close to expiry
// but not being charged this sweep. The wording depends on whether the
// subscription will renew on its own.
func (w *Worker) notifyExpiry(sub *subscription.Subscription, untilExpiry time.Duration) {
	date := sub.ExpiresAt.Format("Jan 2")

	if sub.Source == subscription.SourcePayment && sub.AutoRenew {
		// Inside the renewal window the charge path already messaged the
		// user with a payment link; don't pile a second notice on top
		if untilExpiry <= renewWindow {
			return
		}
		w.notify(sub.UserID,
			"⏰ Your subscription expires on "+date+
				". It will renew automatically; /managesub autorenew off to stop.")
		return
	}

	if sub.Source == subscription.SourcePromo {
		w.notify(sub.UserID,
			"⏰ Your promo access expires on "+date+". Use /subscribe to keep going.")
		return
	}

	w.notify(sub.UserID,
		"⏰ Your subscription expires on "+date+
			". Auto-renewal is off; use /subscribe to extend or /managesub autorenew on.")
}

func (w *Worker) notify(userID int64, text string) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.SendNotificationWithRetry(userID, text, 3); err != nil {
		w.log.Warnw("Failed to deliver renewal notice", "user_id", userID, "error", err)
	}
}

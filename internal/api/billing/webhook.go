package billing

import (
	"context"
	"io"
	"net/http"

	"ecliptica/internal/adapters/coinbase"
	"ecliptica/internal/metrics"
	"ecliptica/pkg/errors"
	"ecliptica/pkg/logger"
)

const maxBodySize = 1 << 20 // 1MB

// Verifier checks webhook authenticity.
type Verifier interface {
	VerifySignature(body []byte, signature string) error
}

// Activator turns a confirmed charge into access.
type Activator interface {
	ActivateFromPayment(ctx context.Context, chargeID string) error
}

// Notifier tells the user their payment landed.
type Notifier interface {
	SendMessage(chatID int64, text string) error
}

// WebhookHandler receives Coinbase Commerce webhooks. This is the only path
// that grants paid access; anything with a bad signature is dropped before
// the payload is even parsed.
type WebhookHandler struct {
	verifier  Verifier
	activator Activator
	notifier  Notifier
	log       *logger.Logger
}

// NewWebhookHandler creates a new billing webhook handler
func NewWebhookHandler(verifier Verifier, activator Activator, notifier Notifier) *WebhookHandler {
	return &WebhookHandler{
		verifier:  verifier,
		activator: activator,
		notifier:  notifier,
		log:       logger.Get().With("component", "billing_webhook"),
	}
}

// ServeHTTP handles POST /billing/webhook
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-CC-Webhook-Signature")
	if err := h.verifier.VerifySignature(body, signature); err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "invalid").Inc()
		h.log.Warnw("webhook signature verification failed", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := coinbase.ParseWebhook(body)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "invalid").Inc()
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	eventType := event.Event.Type
	chargeID := event.Event.Data.ID

	if eventType != "charge:confirmed" {
		// Created, pending, failed etc. are informational only
		metrics.WebhookEvents.WithLabelValues(eventType, "ignored").Inc()
		h.log.Debugw("webhook event ignored", "type", eventType, "charge_id", chargeID)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.activator.ActivateFromPayment(r.Context(), chargeID); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			// A charge we never created; acknowledge so Coinbase stops retrying
			metrics.WebhookEvents.WithLabelValues(eventType, "ignored").Inc()
			h.log.Warnw("confirmed charge has no matching payment", "charge_id", chargeID)
			w.WriteHeader(http.StatusOK)
			return
		}
		metrics.WebhookEvents.WithLabelValues(eventType, "invalid").Inc()
		h.log.Errorw("failed to activate subscription from webhook", "charge_id", chargeID, "error", err)
		// Non-2xx makes Coinbase redeliver; activation is idempotent
		http.Error(w, "activation failed", http.StatusInternalServerError)
		return
	}

	metrics.WebhookEvents.WithLabelValues(eventType, "processed").Inc()
	h.log.Infow("payment confirmed", "charge_id", chargeID)

	if h.notifier != nil && event.Event.Data.Metadata.UserID != 0 {
		if err := h.notifier.SendMessage(event.Event.Data.Metadata.UserID,
			"✅ Payment confirmed! Your subscription is active. Run /trade whenever you're ready."); err != nil {
			h.log.Warnw("failed to notify user of payment", "user_id", event.Event.Data.Metadata.UserID, "error", err)
		}
	}

	w.WriteHeader(http.StatusOK)
}

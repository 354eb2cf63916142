package telegram

import (
	"encoding/json"
	"net/http"

	telegram "ecliptica/internal/adapters/telegram"
	"ecliptica/pkg/logger"
)

// WebhookHandler handles Telegram webhook requests
type WebhookHandler struct {
	bot     *telegram.Bot
	handler *telegram.Handler
	log     *logger.Logger
}

// NewWebhookHandler creates a new Telegram webhook handler
func NewWebhookHandler(bot *telegram.Bot, handler *telegram.Handler, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		bot:     bot,
		handler: handler,
		log:     log.With("component", "telegram_webhook"),
	}
}

// ServeHTTP handles incoming webhook requests from Telegram
func (wh *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The library validates the method and parses the JSON
	update, err := wh.bot.GetAPI().HandleUpdate(r)
	if err != nil {
		wh.log.Errorw("Failed to handle webhook update", "error", err)

		errResp := map[string]string{"error": err.Error()}
		w.WriteHeader(http.StatusBadRequest)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(errResp)
		return
	}

	wh.log.Debugw("Received webhook update",
		"update_id", update.UpdateID,
		"has_message", update.Message != nil,
	)

	// Process asynchronously: an analysis can take far longer than Telegram's
	// webhook timeout. Errors are logged inside the handler; acknowledge
	// immediately so Telegram does not redeliver the same update.
	go wh.handler.HandleUpdate(*update)

	w.WriteHeader(http.StatusOK)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ok": true,
	})
}

// HealthCheck returns webhook health status
func (wh *WebhookHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "telegram_webhook",
	})
}

package telegram

import (
	"context"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"ecliptica/pkg/errors"
	"ecliptica/pkg/logger"
)

// Bot represents a Telegram bot instance
type Bot struct {
	api         *tgbotapi.BotAPI
	log         *logger.Logger
	mu          sync.RWMutex
	running     bool
	webhookMode bool                  // If true, use webhook instead of polling
	msgHandler  func(tgbotapi.Update) // Handler for incoming updates
	rateLimiter *rate.Limiter         // Rate limiter for Telegram API calls
}

// Config contains Telegram bot configuration
type Config struct {
	Token          string
	Debug          bool
	Timeout        int  // Update timeout in seconds
	WebhookMode    bool // If true, don't start polling (use webhook instead)
	HTTPTimeout    time.Duration
	RateLimitBurst int // Rate limiter burst (default: 30)
	RateLimitRate  int // Rate limiter per second (default: 20)
}

// NewBot creates a new Telegram bot instance
func NewBot(cfg Config, log *logger.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "telegram bot token is required")
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 60
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 30 // Telegram allows bursts
	}
	if cfg.RateLimitRate == 0 {
		cfg.RateLimitRate = 20 // Conservative: 20 msg/sec (Telegram limit is 30)
	}

	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create telegram bot")
	}

	api.Debug = cfg.Debug

	log.Infof("Authorized on account %s", api.Self.UserName)

	return &Bot{
		api:         api,
		webhookMode: cfg.WebhookMode,
		log:         log.With("component", "telegram_bot"),
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRate), cfg.RateLimitBurst),
	}, nil
}

// Start begins polling for updates (or just blocks if webhook mode)
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return errors.New("bot is already running")
	}
	b.running = true
	b.mu.Unlock()

	if b.webhookMode {
		b.log.Infow("Telegram bot in webhook mode (no polling)")
		<-ctx.Done()
		b.Stop()
		return nil
	}

	b.log.Infow("Starting Telegram bot in polling mode...")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	b.log.Infow("✓ Telegram bot started, waiting for updates")

	for {
		select {
		case <-ctx.Done():
			b.log.Infow("Telegram bot stopping (context cancelled)")
			b.Stop()
			return nil

		case update := <-updates:
			// Handle update in goroutine to avoid blocking
			go b.handleUpdate(update)
		}
	}
}

// Stop gracefully stops the bot
func (b *Bot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}

	b.api.StopReceivingUpdates()
	b.running = false
	b.log.Infow("✓ Telegram bot stopped")
}

// handleUpdate processes a single update
func (b *Bot) handleUpdate(update tgbotapi.Update) {
	b.mu.RLock()
	handler := b.msgHandler
	b.mu.RUnlock()

	if handler != nil {
		handler(update)
		return
	}

	if update.Message != nil {
		b.log.Debugw("Received message (no handler registered)",
			"update_id", update.UpdateID,
			"from_id", update.Message.From.ID,
		)
	}
}

// SetMessageHandler registers a handler for incoming updates
func (b *Bot) SetMessageHandler(handler func(tgbotapi.Update)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgHandler = handler
}

// SendMessage sends a text message to a chat
func (b *Bot) SendMessage(chatID int64, text string) error {
	return b.SendMessageWithContext(context.Background(), chatID, text)
}

// SendMessageWithContext sends a text message to a chat with context support
func (b *Bot) SendMessageWithContext(ctx context.Context, chatID int64, text string) error {
	if err := b.rateLimiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter wait failed")
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)

	start := time.Now()
	_, err := b.api.Send(msg)
	if err != nil {
		b.log.Errorw("Failed to send message",
			"chat_id", chatID,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return errors.Wrap(err, "failed to send message")
	}

	return nil
}

// SendMessageWithOptions sends a message with one-tap reply choices shown as
// a one-time reply keyboard
func (b *Bot) SendMessageWithOptions(ctx context.Context, chatID int64, text string, options []string) error {
	if len(options) == 0 {
		return b.SendMessageWithContext(ctx, chatID, text)
	}

	if err := b.rateLimiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter wait failed")
	}

	// Two buttons per row keeps labels readable on phones
	var rows [][]tgbotapi.KeyboardButton
	for i := 0; i < len(options); i += 2 {
		row := []tgbotapi.KeyboardButton{tgbotapi.NewKeyboardButton(options[i])}
		if i+1 < len(options) {
			row = append(row, tgbotapi.NewKeyboardButton(options[i+1]))
		}
		rows = append(rows, row)
	}

	keyboard := tgbotapi.NewOneTimeReplyKeyboard(rows...)
	keyboard.ResizeKeyboard = true

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	msg.ReplyMarkup = keyboard

	if _, err := b.api.Send(msg); err != nil {
		b.log.Errorw("Failed to send message with options",
			"chat_id", chatID,
			"error", err,
		)
		return errors.Wrap(err, "failed to send message with options")
	}

	return nil
}

// SendTyping sends "typing..." action to chat
func (b *Bot) SendTyping(chatID int64) {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	if _, err := b.api.Request(action); err != nil {
		b.log.Debugw("Failed to send typing action", "chat_id", chatID, "error", err)
	}
}

// SendNotificationWithRetry sends a notification with retry logic. Used by
// the renewal worker where a dropped message means a silent expiry.
func (b *Bot) SendNotificationWithRetry(chatID int64, text string, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := b.SendMessage(chatID, text)
		if err == nil {
			return nil
		}

		lastErr = err
		b.log.Warnw("Failed to send notification, retrying...",
			"attempt", attempt+1,
			"max_retries", maxRetries,
			"error", err,
		)

		time.Sleep(time.Duration(attempt+1) * time.Second)
	}

	return errors.Wrapf(lastErr, "failed to send notification after %d retries", maxRetries)
}

// SetCommands publishes the command list shown in the Telegram client menu
func (b *Bot) SetCommands(commands map[string]string, order []string) error {
	var cmds []tgbotapi.BotCommand
	for _, name := range order {
		cmds = append(cmds, tgbotapi.BotCommand{Command: name, Description: commands[name]})
	}

	cfg := tgbotapi.NewSetMyCommands(cmds...)
	if _, err := b.api.Request(cfg); err != nil {
		return errors.Wrap(err, "failed to set bot commands")
	}
	return nil
}

// SetWebhook configures the bot to use webhook mode
func (b *Bot) SetWebhook(webhookURL string) error {
	webhookConfig, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		return errors.Wrap(err, "failed to create webhook config")
	}

	webhookConfig.MaxConnections = 40
	webhookConfig.AllowedUpdates = []string{"message"}

	if _, err := b.api.Request(webhookConfig); err != nil {
		return errors.Wrap(err, "failed to set webhook")
	}

	b.log.Infow("Webhook configured successfully", "url", webhookURL)
	return nil
}

// DeleteWebhook removes webhook and returns to polling mode
func (b *Bot) DeleteWebhook(dropPendingUpdates bool) error {
	deleteConfig := tgbotapi.DeleteWebhookConfig{
		DropPendingUpdates: dropPendingUpdates,
	}

	if _, err := b.api.Request(deleteConfig); err != nil {
		return errors.Wrap(err, "failed to delete webhook")
	}

	return nil
}

// GetAPI returns the underlying Telegram Bot API instance
func (b *Bot) GetAPI() *tgbotapi.BotAPI {
	return b.api
}

// IsRunning returns whether the bot is currently running
func (b *Bot) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

package telegram

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ecliptica/internal/domain/profile"
	"ecliptica/internal/services/access"
	"ecliptica/internal/services/gateway"
	"ecliptica/internal/services/wizard"
	"ecliptica/pkg/errors"
	"ecliptica/pkg/logger"
)

// handleTimeout bounds one full request including retries on both backends
const handleTimeout = 4 * time.Minute

// Sender is the slice of Bot the handler needs. Kept narrow so tests can
// fake it.
type Sender interface {
	SendMessageWithContext(ctx context.Context, chatID int64, text string) error
	SendMessageWithOptions(ctx context.Context, chatID int64, text string, options []string) error
	SendTyping(chatID int64)
}

// Guard serializes requests per user.
type Guard interface {
	TryAcquire(userID int64) bool
	Release(userID int64)
}

// Handler routes Telegram updates. Commands always win: they cancel
// whatever wizard is in flight. Plain text goes to the wizard and means
// nothing outside of one.
type Handler struct {
	bot      Sender
	wizard   *wizard.Service
	access   *access.Service
	gateway  *gateway.Service
	guard    Guard
	profiles profile.Repository
	log      *logger.Logger
}

// NewHandler creates a new telegram handler
func NewHandler(
	bot Sender,
	wizardSvc *wizard.Service,
	accessSvc *access.Service,
	gatewaySvc *gateway.Service,
	guard Guard,
	profiles profile.Repository,
) *Handler {
	return &Handler{
		bot:      bot,
		wizard:   wizardSvc,
		access:   accessSvc,
		gateway:  gatewaySvc,
		guard:    guard,
		profiles: profiles,
		log:      logger.Get().With("component", "telegram_handler"),
	}
}

// HandleUpdate is the entry point for all updates
func (h *Handler) HandleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	userID := msg.From.ID
	chatID := msg.Chat.ID

	var err error
	if msg.IsCommand() {
		err = h.handleCommand(ctx, userID, chatID, msg.Command(), msg.CommandArguments())
	} else {
		err = h.handleText(ctx, userID, chatID, msg.Text)
	}

	if err != nil {
		if errors.Is(err, errors.ErrUserBusy) || errors.Is(err, errors.ErrAccessDenied) {
			h.log.Infow("Request rejected", "user_id", userID, "reason", err)
		} else {
			h.log.Errorw("Failed to handle update",
				"user_id", userID,
				"error", err,
			)
		}
		_ = h.bot.SendMessageWithContext(ctx, chatID, userFacingError(err))
	}
}

// userFacingError maps a handler error to the message the user sees.
// Known conditions name what happened; anything else stays generic.
func userFacingError(err error) string {
	switch {
	case errors.Is(err, errors.ErrUserBusy):
		return "⏳ Your previous request is still running. Hang on."
	case errors.Is(err, errors.ErrAccessDenied):
		return "You've used all your free analyses. /subscribe to continue, or /entercode if you have a promo code."
	case errors.Is(err, errors.ErrUnavailable):
		return "❌ Your profile wasn't saved. Please send that answer again."
	default:
		return "❌ Something went wrong. Please try again."
	}
}

// handleText feeds non-command text into the wizard. Without a session in
// flight the text is acknowledged with a hint and nothing else; no hidden
// keyword matching.
func (h *Handler) handleText(ctx context.Context, userID, chatID int64, text string) error {
	outcome, err := h.wizard.HandleText(ctx, userID, text)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return h.bot.SendMessageWithContext(ctx, chatID,
				"I only understand commands outside a flow. Try /trade or /help.")
		}
		return err
	}

	return h.applyOutcome(ctx, userID, chatID, outcome)
}

// applyOutcome sends the wizard's reply or runs the analysis it produced
func (h *Handler) applyOutcome(ctx context.Context, userID, chatID int64, outcome *wizard.Outcome) error {
	if outcome.Analysis != nil {
		return h.runAnalysis(ctx, userID, chatID, outcome.Analysis)
	}
	if outcome.PromoCode != "" {
		return h.redeemCode(ctx, userID, chatID, outcome.PromoCode)
	}
	if outcome.Reply != nil {
		return h.bot.SendMessageWithOptions(ctx, chatID, outcome.Reply.Text, outcome.Reply.Options)
	}
	return nil
}

// runAnalysis is the single path from a fully specified request to a reply:
// busy guard, access check, completion, then usage accounting. The busy flag
// is released on every exit.
func (h *Handler) runAnalysis(ctx context.Context, userID, chatID int64, req *wizard.AnalysisRequest) error {
	if !h.guard.TryAcquire(userID) {
		return errors.Wrapf(errors.ErrUserBusy, "user_id=%d", userID)
	}
	defer h.guard.Release(userID)

	decision, err := h.access.CheckAccess(ctx, userID)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return errors.Wrapf(errors.ErrAccessDenied, "free quota exhausted: user_id=%d", userID)
	}

	h.bot.SendTyping(chatID)

	var profileContext string
	if p, err := h.profiles.Get(ctx, userID); err == nil {
		profileContext = p.PromptContext()
	} else if !errors.Is(err, errors.ErrNotFound) {
		h.log.Warnw("profile lookup failed", "user_id", userID, "error", err)
	}

	result, err := h.gateway.Generate(ctx, gateway.Request{
		Subject:        req.Subject,
		Kind:           req.Kind,
		ProfileContext: profileContext,
		Question:       req.Question,
	})
	if err != nil {
		return err
	}

	if err := h.bot.SendMessageWithContext(ctx, chatID, result.Text); err != nil {
		return err
	}

	// The reply is out; this request now counts against the free quota
	if err := h.access.RecordUsage(ctx, userID, decision); err != nil {
		h.log.Errorw("failed to record usage", "user_id", userID, "error", err)
	}

	if !decision.Subscribed && decision.Remaining == 1 {
		_ = h.bot.SendMessageWithContext(ctx, chatID,
			"That was your last free analysis. /subscribe to keep going.")
	}

	return nil
}

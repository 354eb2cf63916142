package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ecliptica/internal/domain/subscription"
	"ecliptica/pkg/errors"
)

const helpText = `*Ecliptica* — perps analysis in your pocket.

/setup — build or rebuild your trading profile
/trade — get a setup or market read for an asset
/ask — ask a free-form question about an asset
/subscribe — see plans and subscribe
/entercode — redeem a promo code
/managesub — view or change your subscription
/cancel — abandon the current flow
/help — this message`

// Commands is the published command menu, in display order
var Commands = map[string]string{
	"start":     "What this bot does",
	"setup":     "Build your trading profile",
	"trade":     "Analyze an asset",
	"ask":       "Ask a free-form question",
	"subscribe": "See plans and subscribe",
	"entercode": "Redeem a promo code",
	"managesub": "Manage your subscription",
	"cancel":    "Abandon the current flow",
	"help":      "Show help",
}

// CommandOrder fixes the menu ordering
var CommandOrder = []string{"trade", "ask", "setup", "subscribe", "entercode", "managesub", "cancel", "help", "start"}

// handleCommand dispatches a /command. Any command entered mid-wizard takes
// priority over the wizard, so first drop whatever flow was running.
func (h *Handler) handleCommand(ctx context.Context, userID, chatID int64, command, args string) error {
	switch command {
	case "start":
		if _, err := h.wizard.Cancel(ctx, userID); err != nil {
			h.log.Warnw("failed to drop session on /start", "user_id", userID, "error", err)
		}
		welcome := fmt.Sprintf(
			"Welcome to *Ecliptica* 🌒\n\nI analyze crypto perpetual futures for you.\n\nYou get %d free analyses; after that it's /subscribe or a promo code via /entercode.\n\nStart with /setup to build your profile, then /trade.",
			h.access.FreeLimit())
		return h.bot.SendMessageWithContext(ctx, chatID, welcome)

	case "help":
		return h.bot.SendMessageWithContext(ctx, chatID, helpText)

	case "setup":
		reply, err := h.wizard.StartSetup(ctx, userID)
		if err != nil {
			return err
		}
		return h.bot.SendMessageWithOptions(ctx, chatID, reply.Text, reply.Options)

	case "trade":
		reply, err := h.wizard.StartTrade(ctx, userID)
		if err != nil {
			if errors.Is(err, errors.ErrProfileRequired) {
				return h.bot.SendMessageWithContext(ctx, chatID,
					"I need your trading profile first. Run /setup (takes a minute).")
			}
			return err
		}
		return h.bot.SendMessageWithOptions(ctx, chatID, reply.Text, reply.Options)

	case "ask":
		reply, err := h.wizard.StartAsk(ctx, userID)
		if err != nil {
			return err
		}
		return h.bot.SendMessageWithContext(ctx, chatID, reply.Text)

	case "cancel":
		reply, err := h.wizard.Cancel(ctx, userID)
		if err != nil {
			return err
		}
		return h.bot.SendMessageWithContext(ctx, chatID, reply.Text)

	case "subscribe":
		return h.handleSubscribe(ctx, userID, chatID, args)

	case "entercode":
		return h.handleEnterCode(ctx, userID, chatID, args)

	case "managesub":
		return h.handleManageSub(ctx, userID, chatID, args)

	default:
		return h.bot.SendMessageWithContext(ctx, chatID, "Unknown command. /help lists what I can do.")
	}
}

func (h *Handler) handleSubscribe(ctx context.Context, userID, chatID int64, args string) error {
	planType := subscription.PlanType(strings.ToLower(strings.TrimSpace(args)))

	if _, ok := subscription.PlanByType(planType); !ok {
		var b strings.Builder
		b.WriteString("*Plans*\n\n")
		for _, p := range subscription.Plans {
			b.WriteString(fmt.Sprintf("• *%s* — $%s", p.Name, p.Price.StringFixed(2)))
			if p.Savings != "" {
				b.WriteString(fmt.Sprintf(" (save %s)", p.Savings))
			}
			b.WriteString("\n")
		}
		b.WriteString("\nPick one: /subscribe monthly, /subscribe quarterly or /subscribe annual")
		return h.bot.SendMessageWithContext(ctx, chatID, b.String())
	}

	charge, err := h.access.CreateCharge(ctx, userID, planType, false)
	if err != nil {
		h.log.Errorw("failed to create charge", "user_id", userID, "plan", planType, "error", err)
		return h.bot.SendMessageWithContext(ctx, chatID,
			"❌ Could not start the payment right now. Try again in a minute.")
	}

	return h.bot.SendMessageWithContext(ctx, chatID, fmt.Sprintf(
		"Pay here (crypto accepted):\n%s\n\nAccess activates automatically once the payment confirms.",
		charge.HostedURL))
}

func (h *Handler) handleEnterCode(ctx context.Context, userID, chatID int64, args string) error {
	code := strings.TrimSpace(args)
	if code == "" {
		reply, err := h.wizard.StartEnterCode(ctx, userID)
		if err != nil {
			return err
		}
		return h.bot.SendMessageWithContext(ctx, chatID, reply.Text)
	}

	return h.redeemCode(ctx, userID, chatID, code)
}

func (h *Handler) redeemCode(ctx context.Context, userID, chatID int64, code string) error {
	sub, err := h.access.Redeem(ctx, userID, code)
	if err != nil {
		if errors.Is(err, errors.ErrInvalidPromoCode) {
			return h.bot.SendMessageWithContext(ctx, chatID, "❌ That code is not valid.")
		}
		return err
	}

	return h.bot.SendMessageWithContext(ctx, chatID, fmt.Sprintf(
		"🎉 Code accepted! You have full access until %s.",
		sub.ExpiresAt.Format("Jan 2, 2006")))
}

func (h *Handler) handleManageSub(ctx context.Context, userID, chatID int64, args string) error {
	fields := strings.Fields(strings.ToLower(args))

	// "/managesub cancel" stops renewal; access runs out with the period
	if len(fields) == 1 && fields[0] == "cancel" {
		if err := h.access.Cancel(ctx, userID); err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				return h.bot.SendMessageWithContext(ctx, chatID, "You don't have a subscription yet. /subscribe to get one.")
			}
			if errors.Is(err, errors.ErrInvalidInput) {
				return h.bot.SendMessageWithContext(ctx, chatID, "Promo access doesn't renew; it simply runs out.")
			}
			return err
		}
		return h.bot.SendMessageWithContext(ctx, chatID,
			"✅ Subscription cancelled. You keep access until the current period ends.")
	}

	// "/managesub autorenew off" toggles renewal without touching the period
	if len(fields) == 2 && fields[0] == "autorenew" && (fields[1] == "on" || fields[1] == "off") {
		enabled := fields[1] == "on"
		if err := h.access.SetAutoRenew(ctx, userID, enabled); err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				return h.bot.SendMessageWithContext(ctx, chatID, "You don't have a subscription yet. /subscribe to get one.")
			}
			if errors.Is(err, errors.ErrInvalidInput) {
				return h.bot.SendMessageWithContext(ctx, chatID, "Promo access doesn't renew; nothing to toggle.")
			}
			return err
		}
		if enabled {
			return h.bot.SendMessageWithContext(ctx, chatID, "✅ Auto-renewal is on.")
		}
		return h.bot.SendMessageWithContext(ctx, chatID,
			"✅ Auto-renewal is off. Your access runs until the current period ends.")
	}

	sub, err := h.access.Status(ctx, userID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return h.bot.SendMessageWithContext(ctx, chatID,
				"No subscription on file. /subscribe to see plans.")
		}
		return err
	}

	// A quota-only row is not a subscription
	if sub.Source == "" {
		remaining := h.access.FreeLimit() - sub.UsedCount
		if remaining < 0 {
			remaining = 0
		}
		return h.bot.SendMessageWithContext(ctx, chatID, fmt.Sprintf(
			"No subscription on file. Free analyses left: %d. /subscribe to see plans.", remaining))
	}

	var b strings.Builder
	if sub.IsActive(time.Now()) {
		switch sub.Source {
		case subscription.SourcePromo:
			b.WriteString(fmt.Sprintf("🎟 Promo access (*%s*) until %s.\n", sub.PromoCode, sub.ExpiresAt.Format("Jan 2, 2006")))
		default:
			b.WriteString(fmt.Sprintf("💎 *%s* plan, active until %s.\n", sub.PlanType, sub.ExpiresAt.Format("Jan 2, 2006")))
			if sub.AutoRenew {
				b.WriteString("Auto-renewal is on: /managesub autorenew off to stop.\n")
			} else {
				b.WriteString("Auto-renewal is off: /managesub autorenew on to resume.\n")
			}
		}
	} else {
		b.WriteString(fmt.Sprintf("Your access expired on %s.\n", sub.ExpiresAt.Format("Jan 2, 2006")))
		remaining := h.access.FreeLimit() - sub.UsedCount
		if remaining < 0 {
			remaining = 0
		}
		b.WriteString(fmt.Sprintf("Free analyses left: %d. /subscribe to get full access.\n", remaining))
	}

	return h.bot.SendMessageWithContext(ctx, chatID, b.String())
}

package wizard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ecliptica/internal/domain/profile"
	"ecliptica/internal/domain/session"
	"ecliptica/internal/services/gateway"
	"ecliptica/pkg/errors"
	"ecliptica/pkg/logger"
)

const (
	sessionTTL = 30 * time.Minute

	// Keyboard sentinels, matched case-insensitively
	optionOther   = "✏️ Other"
	optionSuggest = "💡 Suggest one"

	// suggestSubject keys general-recommendation requests
	suggestSubject = "MARKET"
)

// AssetSource supplies quick-pick assets and validates typed ones.
type AssetSource interface {
	Suggested(ctx context.Context) []string
	Validate(ctx context.Context, input string) (string, bool)
}

// Reply is what the bot should say next, with optional one-tap choices.
type Reply struct {
	Text    string
	Options []string
}

// Outcome is the result of feeding one user message into the wizard.
// Exactly one field is set: either the conversation continues with Reply,
// a profile was just saved, an analysis is ready to run, or a promo code
// is ready to redeem.
type Outcome struct {
	Reply        *Reply
	ProfileSaved bool
	Analysis     *AnalysisRequest
	PromoCode    string
}

// AnalysisRequest is a fully specified analysis the caller should execute.
type AnalysisRequest struct {
	Subject  string
	Kind     gateway.Kind
	Question string
}

// Service drives the setup and trade wizards. All conversational free text
// is interpreted here, strictly by the session's current state; without a
// session, free text means nothing.
type Service struct {
	sessions session.Repository
	profiles profile.Repository
	assets   AssetSource
	log      *logger.Logger
}

// NewService creates a new wizard service
func NewService(sessions session.Repository, profiles profile.Repository, assets AssetSource) *Service {
	return &Service{
		sessions: sessions,
		profiles: profiles,
		assets:   assets,
		log:      logger.Get().With("component", "wizard"),
	}
}

// StartSetup begins the profile questionnaire, replacing any session in flight.
func (s *Service) StartSetup(ctx context.Context, userID int64) (*Reply, error) {
	sess := &session.Session{
		UserID:    userID,
		State:     session.StateCollectingAnswer,
		Step:      0,
		Answers:   make(map[string]string),
		UpdatedAt: time.Now(),
	}
	if err := s.sessions.Save(ctx, sess, sessionTTL); err != nil {
		return nil, err
	}

	q := profile.Questions[0]
	return &Reply{
		Text:    fmt.Sprintf("Let's set up your trading profile (%d quick questions).\n\n1. %s", len(profile.Questions), q.Prompt),
		Options: q.Options,
	}, nil
}

// StartTrade begins asset selection. A saved profile is required; without
// one the caller gets ErrProfileRequired and should point at setup instead.
func (s *Service) StartTrade(ctx context.Context, userID int64) (*Reply, error) {
	p, err := s.profiles.Get(ctx, userID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}
	if !p.Complete() {
		return nil, errors.Wrap(errors.ErrProfileRequired, "trade flow requires a saved profile")
	}

	sess := &session.Session{
		UserID:    userID,
		State:     session.StateSelectingAsset,
		UpdatedAt: time.Now(),
	}
	if err := s.sessions.Save(ctx, sess, sessionTTL); err != nil {
		return nil, err
	}

	options := append(s.assets.Suggested(ctx), optionOther, optionSuggest)
	return &Reply{
		Text:    "Which asset do you want analyzed?",
		Options: options,
	}, nil
}

// StartAsk begins a free-form question flow about an asset.
func (s *Service) StartAsk(ctx context.Context, userID int64) (*Reply, error) {
	sess := &session.Session{
		UserID:    userID,
		State:     session.StateAwaitingQuestion,
		UpdatedAt: time.Now(),
	}
	if err := s.sessions.Save(ctx, sess, sessionTTL); err != nil {
		return nil, err
	}

	return &Reply{
		Text: "Ask away. Mention the asset in your question, e.g. \"is ETH funding getting crowded?\"",
	}, nil
}

// StartEnterCode begins promo redemption: the next message is the code.
func (s *Service) StartEnterCode(ctx context.Context, userID int64) (*Reply, error) {
	sess := &session.Session{
		UserID:    userID,
		State:     session.StateAwaitingPromoCode,
		UpdatedAt: time.Now(),
	}
	if err := s.sessions.Save(ctx, sess, sessionTTL); err != nil {
		return nil, err
	}

	return &Reply{Text: "Send me your promo code."}, nil
}

// Cancel abandons whatever flow is running. Nothing partial is persisted:
// a half-answered setup leaves no profile behind.
func (s *Service) Cancel(ctx context.Context, userID int64) (*Reply, error) {
	if _, err := s.sessions.Get(ctx, userID); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return &Reply{Text: "Nothing to cancel."}, nil
		}
		return nil, err
	}

	if err := s.sessions.Delete(ctx, userID); err != nil {
		return nil, err
	}
	return &Reply{Text: "Cancelled. Start again with /setup or /trade."}, nil
}

// HandleText feeds one non-command message into the current session. With no
// session in flight it returns ErrNotFound and the text is ignored; free
// text never triggers hidden behavior.
func (s *Service) HandleText(ctx context.Context, userID int64, text string) (*Outcome, error) {
	sess, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)

	switch sess.State {
	case session.StateCollectingAnswer:
		return s.handleAnswer(ctx, sess, text)
	case session.StateSelectingAsset:
		return s.handleAssetChoice(ctx, sess, text)
	case session.StateAwaitingAssetText:
		return s.handleAssetText(ctx, sess, text)
	case session.StateChoosingKind:
		return s.handleKindChoice(ctx, sess, text)
	case session.StateAwaitingQuestion:
		return s.handleQuestion(ctx, sess, text)
	case session.StateAwaitingPromoCode:
		return s.handlePromoCode(ctx, sess, text)
	default:
		// Unknown state from an older build; drop the session
		_ = s.sessions.Delete(ctx, userID)
		return nil, errors.Wrapf(errors.ErrNotFound, "stale session state: %s", sess.State)
	}
}

func (s *Service) handleAnswer(ctx context.Context, sess *session.Session, text string) (*Outcome, error) {
	if sess.Step < 0 || sess.Step >= len(profile.Questions) {
		// Session persisted by a build with a different question list
		_ = s.sessions.Delete(ctx, sess.UserID)
		return nil, errors.Wrapf(errors.ErrNotFound, "stale session step: %d", sess.Step)
	}
	q := profile.Questions[sess.Step]

	if text == "" {
		return &Outcome{Reply: &Reply{
			Text:    fmt.Sprintf("Please answer with text.\n\n%d. %s", sess.Step+1, q.Prompt),
			Options: q.Options,
		}}, nil
	}

	if sess.Answers == nil {
		sess.Answers = make(map[string]string)
	}
	sess.Answers[q.Key] = text
	sess.Step++

	if sess.Step < len(profile.Questions) {
		next := profile.Questions[sess.Step]
		sess.UpdatedAt = time.Now()
		if err := s.sessions.Save(ctx, sess, sessionTTL); err != nil {
			return nil, err
		}
		return &Outcome{Reply: &Reply{
			Text:    fmt.Sprintf("%d. %s", sess.Step+1, next.Prompt),
			Options: next.Options,
		}}, nil
	}

	// Last answer collected: persist the whole profile, then drop the session
	p := &profile.Profile{
		UserID:    sess.UserID,
		Answers:   sess.Answers,
		UpdatedAt: time.Now(),
	}
	if err := s.profiles.Save(ctx, p); err != nil {
		// Keep the session so the user can resend the last answer and retry
		s.log.Errorw("failed to save profile", "user_id", sess.UserID, "error", err)
		return nil, errors.Wrapf(errors.ErrUnavailable, "failed to save profile: %v", err)
	}
	if err := s.sessions.Delete(ctx, sess.UserID); err != nil {
		s.log.Warnw("failed to delete completed setup session", "user_id", sess.UserID, "error", err)
	}

	s.log.Infow("profile saved", "user_id", sess.UserID)
	return &Outcome{
		ProfileSaved: true,
		Reply:        &Reply{Text: "✅ Profile saved. Run /trade to get your first analysis."},
	}, nil
}

func (s *Service) handleAssetChoice(ctx context.Context, sess *session.Session, text string) (*Outcome, error) {
	if text == "" {
		return &Outcome{Reply: &Reply{
			Text:    "Pick an asset or tap Other to type one.",
			Options: append(s.assets.Suggested(ctx), optionOther),
		}}, nil
	}

	if strings.EqualFold(text, optionOther) || strings.EqualFold(text, "other") {
		sess.State = session.StateAwaitingAssetText
		sess.UpdatedAt = time.Now()
		if err := s.sessions.Save(ctx, sess, sessionTTL); err != nil {
			return nil, err
		}
		return &Outcome{Reply: &Reply{Text: "Type the ticker, e.g. ARB or INJ."}}, nil
	}

	// No asset in mind: skip straight to a general recommendation
	if strings.EqualFold(text, optionSuggest) || strings.EqualFold(text, "suggest") {
		if err := s.sessions.Delete(ctx, sess.UserID); err != nil {
			s.log.Warnw("failed to delete trade session", "user_id", sess.UserID, "error", err)
		}
		return &Outcome{Analysis: &AnalysisRequest{
			Subject:  suggestSubject,
			Kind:     gateway.KindSetup,
			Question: "I don't have a specific asset in mind. Scan the major USDT perps and suggest the single best trade opportunity right now.",
		}}, nil
	}

	return s.acceptAsset(ctx, sess, text)
}

func (s *Service) handleAssetText(ctx context.Context, sess *session.Session, text string) (*Outcome, error) {
	if text == "" {
		return &Outcome{Reply: &Reply{Text: "Type the ticker, e.g. ARB or INJ."}}, nil
	}
	return s.acceptAsset(ctx, sess, text)
}

func (s *Service) acceptAsset(ctx context.Context, sess *session.Session, text string) (*Outcome, error) {
	asset, ok := s.assets.Validate(ctx, text)
	if !ok {
		return &Outcome{Reply: &Reply{
			Text:    fmt.Sprintf("Could not find a %s perpetual. Try another ticker.", strings.ToUpper(strings.TrimSpace(text))),
			Options: append(s.assets.Suggested(ctx), optionOther),
		}}, nil
	}

	sess.Asset = asset
	sess.State = session.StateChoosingKind
	sess.UpdatedAt = time.Now()
	if err := s.sessions.Save(ctx, sess, sessionTTL); err != nil {
		return nil, err
	}

	return &Outcome{Reply: &Reply{
		Text:    fmt.Sprintf("%s it is. What do you need?", asset),
		Options: []string{"Trade setup", "Market read"},
	}}, nil
}

func (s *Service) handleKindChoice(ctx context.Context, sess *session.Session, text string) (*Outcome, error) {
	var kind gateway.Kind
	switch {
	case strings.EqualFold(text, "Trade setup"), strings.EqualFold(text, "setup"):
		kind = gateway.KindSetup
	case strings.EqualFold(text, "Market read"), strings.EqualFold(text, "market"):
		kind = gateway.KindMarket
	default:
		return &Outcome{Reply: &Reply{
			Text:    "Pick one of the options below.",
			Options: []string{"Trade setup", "Market read"},
		}}, nil
	}

	// Terminal state: the flow is done regardless of how the analysis goes
	if err := s.sessions.Delete(ctx, sess.UserID); err != nil {
		s.log.Warnw("failed to delete completed trade session", "user_id", sess.UserID, "error", err)
	}

	return &Outcome{Analysis: &AnalysisRequest{Subject: sess.Asset, Kind: kind}}, nil
}

func (s *Service) handleQuestion(ctx context.Context, sess *session.Session, text string) (*Outcome, error) {
	if text == "" {
		return &Outcome{Reply: &Reply{Text: "Type your question, mentioning the asset."}}, nil
	}

	asset := s.extractAsset(ctx, text)
	if asset == "" {
		return &Outcome{Reply: &Reply{Text: "Which asset is this about? Include the ticker in your question."}}, nil
	}

	if err := s.sessions.Delete(ctx, sess.UserID); err != nil {
		s.log.Warnw("failed to delete question session", "user_id", sess.UserID, "error", err)
	}

	return &Outcome{Analysis: &AnalysisRequest{
		Subject:  asset,
		Kind:     gateway.KindMarket,
		Question: text,
	}}, nil
}

func (s *Service) handlePromoCode(ctx context.Context, sess *session.Session, text string) (*Outcome, error) {
	if text == "" {
		return &Outcome{Reply: &Reply{Text: "Send me your promo code."}}, nil
	}

	if err := s.sessions.Delete(ctx, sess.UserID); err != nil {
		s.log.Warnw("failed to delete promo session", "user_id", sess.UserID, "error", err)
	}

	return &Outcome{PromoCode: text}, nil
}

// extractAsset finds the first word in the text that validates as a listed
// perpetual base asset.
func (s *Service) extractAsset(ctx context.Context, text string) string {
	for _, word := range strings.Fields(text) {
		word = strings.Trim(word, ".,!?;:()\"'")
		if len(word) < 2 || len(word) > 12 {
			continue
		}
		if asset, ok := s.assets.Validate(ctx, word); ok {
			return asset
		}
	}
	return ""
}

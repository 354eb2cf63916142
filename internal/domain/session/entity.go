package session

import (
	"context"
	"time"
)

// State names the single step a conversation is waiting on. Free text from
// the user is interpreted by the current state and nothing else.
type State string

const (
	// Setup flow
	StateCollectingAnswer State = "collecting_answer"

	// Trade flow
	StateSelectingAsset    State = "selecting_asset"
	StateAwaitingAssetText State = "awaiting_asset_text"
	StateChoosingKind      State = "choosing_kind"

	// Ad-hoc question flow
	StateAwaitingQuestion State = "awaiting_question"

	// Promo redemption flow
	StateAwaitingPromoCode State = "awaiting_promo_code"
)

// Session is a user's in-flight wizard, stored in Redis with a TTL so an
// abandoned flow evaporates on its own. At most one session exists per user;
// starting a new flow replaces the old one.
type Session struct {
	UserID    int64             `json:"user_id"`
	State     State             `json:"state"`
	Step      int               `json:"step"`
	Answers   map[string]string `json:"answers,omitempty"`
	Asset     string            `json:"asset,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Repository stores wizard sessions.
type Repository interface {
	// Get returns the session or errors.ErrNotFound.
	Get(ctx context.Context, userID int64) (*Session, error)
	Save(ctx context.Context, s *Session, ttl time.Duration) error
	Delete(ctx context.Context, userID int64) error
}

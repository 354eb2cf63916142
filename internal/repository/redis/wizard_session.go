package redis

import (
	"context"
	"fmt"
	"time"

	redisadapter "ecliptica/internal/adapters/redis"
	"ecliptica/internal/domain/session"
	"ecliptica/pkg/errors"
)

// Compile-time check that we implement the interface
var _ session.Repository = (*WizardSessionRepository)(nil)

// WizardSessionRepository implements session.Repository using Redis
type WizardSessionRepository struct {
	client *redisadapter.Client
}

// NewWizardSessionRepository creates a new wizard session repository
func NewWizardSessionRepository(client *redisadapter.Client) *WizardSessionRepository {
	return &WizardSessionRepository{
		client: client,
	}
}

// Get retrieves a session by telegram user ID
func (r *WizardSessionRepository) Get(ctx context.Context, userID int64) (*session.Session, error) {
	key := r.getKey(userID)

	var s session.Session
	err := r.client.Get(ctx, key, &s)
	if redisadapter.IsNil(err) {
		return nil, errors.Wrapf(errors.ErrNotFound, "wizard session not found for user_id=%d", userID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get wizard session from redis: user_id=%d", userID)
	}

	return &s, nil
}

// Save stores a session with TTL
func (r *WizardSessionRepository) Save(ctx context.Context, s *session.Session, ttl time.Duration) error {
	key := r.getKey(s.UserID)

	if err := r.client.Set(ctx, key, s, ttl); err != nil {
		return errors.Wrapf(err, "failed to save wizard session to redis: user_id=%d", s.UserID)
	}

	return nil
}

// Delete removes a session
func (r *WizardSessionRepository) Delete(ctx context.Context, userID int64) error {
	key := r.getKey(userID)

	if err := r.client.Delete(ctx, key); err != nil {
		return errors.Wrapf(err, "failed to delete wizard session from redis: user_id=%d", userID)
	}

	return nil
}

func (r *WizardSessionRepository) getKey(userID int64) string {
	return fmt.Sprintf("wizard:%d", userID)
}

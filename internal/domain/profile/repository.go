package profile

import "context"

// Repository persists trader profiles.
type Repository interface {
	// Save stores the profile, replacing any previous one for the same user.
	Save(ctx context.Context, p *Profile) error
	// Get returns the profile or errors.ErrNotFound.
	Get(ctx context.Context, userID int64) (*Profile, error)
	Delete(ctx context.Context, userID int64) error
}

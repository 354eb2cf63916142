package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"ecliptica/internal/domain/profile"
	"ecliptica/internal/metrics"
	"ecliptica/pkg/errors"
)

// Compile-time check that we implement the interface
var _ profile.Repository = (*ProfileRepository)(nil)

// ProfileRepository implements profile.Repository using sqlx
type ProfileRepository struct {
	db DBTX
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Save writes the profile, replacing any existing row for the user
func (r *ProfileRepository) Save(ctx context.Context, p *profile.Profile) error {
	start := time.Now()

	answersJSON, err := json.Marshal(p.Answers)
	if err != nil {
		return errors.Wrap(err, "failed to marshal answers")
	}

	query := `
		INSERT INTO profiles (user_id, answers, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			answers = EXCLUDED.answers,
			updated_at = EXCLUDED.updated_at`

	_, err = r.db.ExecContext(ctx, query, p.UserID, answersJSON, p.UpdatedAt)
	metrics.RecordDBQuery("postgres", "profile_save", time.Since(start), err)

	return err
}

// Get retrieves a profile by Telegram user ID
func (r *ProfileRepository) Get(ctx context.Context, userID int64) (*profile.Profile, error) {
	var p profile.Profile
	var answersJSON []byte

	query := `
		SELECT user_id, answers, updated_at
		FROM profiles
		WHERE user_id = $1`

	start := time.Now()
	row := r.db.QueryRowContext(ctx, query, userID)
	err := row.Scan(&p.UserID, &answersJSON, &p.UpdatedAt)
	metrics.RecordDBQuery("postgres", "profile_get", time.Since(start), err)

	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "profile not found")
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(answersJSON, &p.Answers); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal answers")
	}

	return &p, nil
}

// Delete removes a profile
func (r *ProfileRepository) Delete(ctx context.Context, userID int64) error {
	start := time.Now()
	_, err := r.db.ExecContext(ctx, `DELETE FROM profiles WHERE user_id = $1`, userID)
	metrics.RecordDBQuery("postgres", "profile_delete", time.Since(start), err)
	return err
}

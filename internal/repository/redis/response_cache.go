package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	redisadapter "ecliptica/internal/adapters/redis"
	"ecliptica/pkg/errors"
)

// CachedResponse is a completion answer cached per subject and analysis kind.
type CachedResponse struct {
	Subject   string    `json:"subject"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ResponseCacheRepository shares recent completion answers between users.
// Keys expire via TTL; there is no explicit invalidation.
type ResponseCacheRepository struct {
	client *redisadapter.Client
}

// NewResponseCacheRepository creates a new response cache repository
func NewResponseCacheRepository(client *redisadapter.Client) *ResponseCacheRepository {
	return &ResponseCacheRepository{
		client: client,
	}
}

// Get returns the cached response or errors.ErrNotFound
func (r *ResponseCacheRepository) Get(ctx context.Context, subject, kind string) (*CachedResponse, error) {
	key := r.getKey(subject, kind)

	var entry CachedResponse
	err := r.client.Get(ctx, key, &entry)
	if redisadapter.IsNil(err) {
		return nil, errors.Wrapf(errors.ErrNotFound, "no cached response for %s/%s", subject, kind)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get cached response: %s/%s", subject, kind)
	}

	return &entry, nil
}

// Set stores a response with TTL
func (r *ResponseCacheRepository) Set(ctx context.Context, entry *CachedResponse, ttl time.Duration) error {
	key := r.getKey(entry.Subject, entry.Kind)

	if err := r.client.Set(ctx, key, entry, ttl); err != nil {
		return errors.Wrapf(err, "failed to cache response: %s/%s", entry.Subject, entry.Kind)
	}

	return nil
}

func (r *ResponseCacheRepository) getKey(subject, kind string) string {
	return fmt.Sprintf("completion:%s:%s", strings.ToUpper(subject), kind)
}

package guard

import (
	"sync"
	"time"

	"ecliptica/internal/metrics"
	"ecliptica/pkg/logger"
)

// Guard serializes requests per user: while one analysis is running, further
// requests from the same user bounce with a busy reply. Entries carry a
// failsafe deadline so a flag orphaned by a crash mid-request cannot lock a
// user out for good.
type Guard struct {
	mu       sync.Mutex
	busy     map[int64]time.Time // user -> acquisition time
	failsafe time.Duration
	now      func() time.Time
	log      *logger.Logger
}

// New creates a guard with the given failsafe window
func New(failsafe time.Duration) *Guard {
	if failsafe <= 0 {
		failsafe = 5 * time.Minute
	}
	return &Guard{
		busy:     make(map[int64]time.Time),
		failsafe: failsafe,
		now:      time.Now,
		log:      logger.Get().With("component", "request_guard"),
	}
}

// TryAcquire marks the user busy. It returns false when a prior request is
// still inside its failsafe window; a stale flag is replaced silently.
func (g *Guard) TryAcquire(userID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if since, ok := g.busy[userID]; ok {
		if g.now().Sub(since) < g.failsafe {
			metrics.GuardRejections.Inc()
			return false
		}
		g.log.Warnw("stale busy flag reclaimed", "user_id", userID, "held_for", g.now().Sub(since))
	}

	g.busy[userID] = g.now()
	return true
}

// Release clears the user's busy flag. Safe to call when not held.
func (g *Guard) Release(userID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, userID)
}

// IsBusy reports whether the user holds an unexpired busy flag
func (g *Guard) IsBusy(userID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	since, ok := g.busy[userID]
	return ok && g.now().Sub(since) < g.failsafe
}

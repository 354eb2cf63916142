package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ecliptica/internal/metrics"
	"ecliptica/internal/repository/redis"
	"ecliptica/pkg/errors"
	"ecliptica/pkg/logger"
)

// Kind selects the analysis flavor and its prompt.
type Kind string

const (
	KindSetup  Kind = "setup"
	KindMarket Kind = "market"
)

// ParseKind maps user-facing input to a Kind
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindSetup:
		return KindSetup, true
	case KindMarket:
		return KindMarket, true
	}
	return "", false
}

// Backend produces a completion for a system+user prompt pair.
type Backend interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// ResponseCache shares answers between users per subject and kind.
type ResponseCache interface {
	Get(ctx context.Context, subject, kind string) (*redis.CachedResponse, error)
	Set(ctx context.Context, entry *redis.CachedResponse, ttl time.Duration) error
}

// Config tunes retry and token behavior.
type Config struct {
	MaxAttempts     int
	MaxTokens       int
	AlternateTokens int
	CacheTTL        time.Duration
}

// Request asks for one analysis.
type Request struct {
	Subject        string
	Kind           Kind
	ProfileContext string
	Question       string // optional extra user question
}

// Result is a resolved analysis with the path that produced it.
type Result struct {
	Text string
	Path string // cache|primary|alternate|fallback
}

// Service is the single gate through which every completion request passes.
// One backend call runs at a time process-wide; everything else waits on the
// mutex. Cache reads happen before the gate so hot subjects never queue.
type Service struct {
	primary   Backend
	alternate Backend
	cache     ResponseCache
	config    Config
	mu        sync.Mutex
	log       *logger.Logger
}

// NewService creates a new completion gateway
func NewService(primary, alternate Backend, cache ResponseCache, config Config) *Service {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Hour
	}
	return &Service{
		primary:   primary,
		alternate: alternate,
		cache:     cache,
		config:    config,
		log:       logger.Get().With("component", "completion_gateway"),
	}
}

// Generate resolves a request through cache, primary with retries, alternate,
// and finally the static fallback. It only errors on invalid input or a
// cancelled context; a known subject always gets an answer.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	subject := strings.ToUpper(strings.TrimSpace(req.Subject))
	if subject == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "subject is required")
	}
	if req.Kind != KindSetup && req.Kind != KindMarket {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "unknown analysis kind: %s", req.Kind)
	}

	start := time.Now()

	// Answers to ad-hoc questions are specific to the question asked; they
	// never read or feed the shared per-subject cache, and a total backend
	// failure surfaces as an error instead of a canned fallback.
	cacheable := req.Question == ""

	// Cache hit skips the gate entirely
	if cacheable {
		if entry, err := s.cache.Get(ctx, subject, string(req.Kind)); err == nil {
			metrics.RecordCompletion(string(req.Kind), "cache", time.Since(start))
			return &Result{Text: entry.Text, Path: "cache"}, nil
		} else if !errors.Is(err, errors.ErrNotFound) {
			s.log.Warnw("cache read failed", "subject", subject, "error", err)
		}
	}

	systemPrompt := s.systemPrompt(req.Kind, req.ProfileContext)
	userPrompt := s.userPrompt(subject, req.Kind, req.Question)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the gate: a queued request for the same subject may
	// already have filled the cache.
	if cacheable {
		if entry, err := s.cache.Get(ctx, subject, string(req.Kind)); err == nil {
			metrics.RecordCompletion(string(req.Kind), "cache", time.Since(start))
			return &Result{Text: entry.Text, Path: "cache"}, nil
		}
	}

	text, path, err := s.complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !cacheable {
			return nil, errors.Wrap(err, "completion failed")
		}
		s.log.Errorw("all backends failed, serving fallback", "subject", subject, "kind", req.Kind, "error", err)
		metrics.RecordCompletion(string(req.Kind), "fallback", time.Since(start))
		return &Result{Text: fallbackFor(subject, req.Kind), Path: "fallback"}, nil
	}

	// Cache only real answers; the fallback must never mask a recovered backend
	if cacheable {
		if err := s.cache.Set(ctx, &redis.CachedResponse{
			Subject:   subject,
			Kind:      string(req.Kind),
			Text:      text,
			CreatedAt: time.Now(),
		}, s.config.CacheTTL); err != nil {
			s.log.Warnw("cache write failed", "subject", subject, "error", err)
		}
	}

	metrics.RecordCompletion(string(req.Kind), path, time.Since(start))
	s.log.Infow("completion resolved",
		"subject", subject,
		"kind", req.Kind,
		"path", path,
		"latency_ms", time.Since(start).Milliseconds())

	return &Result{Text: text, Path: path}, nil
}

// complete tries the primary with exponential backoff, then the alternate once.
func (s *Service) complete(ctx context.Context, systemPrompt, userPrompt string) (string, string, error) {
	var lastErr error

	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		text, err := s.primary.Complete(ctx, systemPrompt, userPrompt, s.config.MaxTokens)
		if err == nil {
			metrics.CompletionAttempts.WithLabelValues("primary", "success").Inc()
			return text, "primary", nil
		}
		lastErr = err

		if errors.Is(err, errors.ErrServiceFatal) {
			metrics.CompletionAttempts.WithLabelValues("primary", "fatal").Inc()
			s.log.Warnw("primary backend fatal error, skipping retries", "error", err)
			break
		}

		metrics.CompletionAttempts.WithLabelValues("primary", "transient").Inc()
		s.log.Warnw("primary backend attempt failed", "attempt", attempt+1, "error", err)

		if attempt < s.config.MaxAttempts-1 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", "", ctx.Err()
			}
		}
	}

	if s.alternate != nil {
		text, err := s.alternate.Complete(ctx, systemPrompt, userPrompt, s.config.AlternateTokens)
		if err == nil {
			metrics.CompletionAttempts.WithLabelValues("alternate", "success").Inc()
			return text, "alternate", nil
		}
		metrics.CompletionAttempts.WithLabelValues("alternate", "transient").Inc()
		lastErr = err
	}

	return "", "", lastErr
}

func (s *Service) systemPrompt(kind Kind, profileContext string) string {
	var b strings.Builder
	b.WriteString("You are Ecliptica, a crypto perpetual futures analyst. ")
	switch kind {
	case KindSetup:
		b.WriteString("Produce a concrete trade setup: direction, entry zone, stop loss, take profit levels, and position sizing guidance. Flag invalidation conditions.")
	case KindMarket:
		b.WriteString("Produce a market read: trend, momentum, key levels, funding and open interest context. No trade calls unless the structure is clear.")
	}
	if profileContext != "" {
		b.WriteString("\n\nTrader profile:\n")
		b.WriteString(profileContext)
		b.WriteString("Tailor risk, leverage and verbosity to this profile.")
	}
	return b.String()
}

func (s *Service) userPrompt(subject string, kind Kind, question string) string {
	prompt := fmt.Sprintf("Analyze %s perpetual futures (%s analysis).", subject, kind)
	if question != "" {
		prompt += "\n\nAdditional question: " + question
	}
	return prompt
}

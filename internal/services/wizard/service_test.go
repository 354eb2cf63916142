package wizard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisadapter "ecliptica/internal/adapters/redis"
	"ecliptica/internal/domain/profile"
	"ecliptica/internal/domain/session"
	redisrepo "ecliptica/internal/repository/redis"
	"ecliptica/pkg/errors"
)

// memoryProfiles is an in-memory profile.Repository
type memoryProfiles struct {
	mu       sync.Mutex
	profiles map[int64]*profile.Profile
}

func newMemoryProfiles() *memoryProfiles {
	return &memoryProfiles{profiles: make(map[int64]*profile.Profile)}
}

func (m *memoryProfiles) Save(ctx context.Context, p *profile.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
	return nil
}

func (m *memoryProfiles) Get(ctx context.Context, userID int64) (*profile.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return p, nil
}

func (m *memoryProfiles) Delete(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profiles, userID)
	return nil
}

// staticAssets is a fixed AssetSource
type staticAssets struct {
	listed map[string]bool
}

func newStaticAssets() *staticAssets {
	return &staticAssets{listed: map[string]bool{
		"BTC": true, "ETH": true, "SOL": true, "ARB": true,
	}}
}

func (a *staticAssets) Suggested(ctx context.Context) []string {
	return []string{"BTC", "ETH", "SOL"}
}

func (a *staticAssets) Validate(ctx context.Context, input string) (string, bool) {
	asset := strings.ToUpper(strings.TrimSpace(input))
	return asset, a.listed[asset]
}

func newTestService(t *testing.T) (*Service, *memoryProfiles) {
	svc, profiles, _ := newTestServiceWithSessions(t)
	return svc, profiles
}

func newTestServiceWithSessions(t *testing.T) (*Service, *memoryProfiles, *redisrepo.WizardSessionRepository) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redisadapter.NewFromClient(redisclient(mr.Addr()))
	sessions := redisrepo.NewWizardSessionRepository(client)
	profiles := newMemoryProfiles()

	return NewService(sessions, profiles, newStaticAssets()), profiles, sessions
}

func redisclient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

const userID = int64(42)

func completeSetup(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()

	_, err := svc.StartSetup(ctx, userID)
	require.NoError(t, err)

	for i := range profile.Questions {
		outcome, err := svc.HandleText(ctx, userID, fmt.Sprintf("answer-%d", i))
		require.NoError(t, err)
		if i < len(profile.Questions)-1 {
			require.NotNil(t, outcome.Reply)
			require.False(t, outcome.ProfileSaved)
		} else {
			require.True(t, outcome.ProfileSaved)
		}
	}
}

func TestSetup_FullFlowSavesProfile(t *testing.T) {
	svc, profiles := newTestService(t)
	ctx := context.Background()

	completeSetup(t, svc)

	p, err := profiles.Get(ctx, userID)
	require.NoError(t, err)
	assert.True(t, p.Complete())
	assert.Len(t, p.Answers, len(profile.Questions))
	assert.Equal(t, "answer-0", p.Answers[profile.Questions[0].Key])

	// Session is gone: further text means nothing
	_, err = svc.HandleText(ctx, userID, "hello")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestSetup_EmptyTextRepromptsWithoutAdvancing(t *testing.T) {
	svc, profiles := newTestService(t)
	ctx := context.Background()

	_, err := svc.StartSetup(ctx, userID)
	require.NoError(t, err)

	outcome, err := svc.HandleText(ctx, userID, "   ")
	require.NoError(t, err)
	require.NotNil(t, outcome.Reply)
	assert.Contains(t, outcome.Reply.Text, "1.")

	// The real answer still lands on question one
	outcome, err = svc.HandleText(ctx, userID, "6 months")
	require.NoError(t, err)
	assert.Contains(t, outcome.Reply.Text, "2.")

	_, err = profiles.Get(ctx, userID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestSetup_CancelMidFlowLeavesNothing(t *testing.T) {
	svc, profiles := newTestService(t)
	ctx := context.Background()

	_, err := svc.StartSetup(ctx, userID)
	require.NoError(t, err)

	_, err = svc.HandleText(ctx, userID, "6 months")
	require.NoError(t, err)
	_, err = svc.HandleText(ctx, userID, "5000")
	require.NoError(t, err)

	reply, err := svc.Cancel(ctx, userID)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Cancelled")

	// No partial profile, no session
	_, err = profiles.Get(ctx, userID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = svc.HandleText(ctx, userID, "more text")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestSetup_RerunReplacesProfileWhole(t *testing.T) {
	svc, profiles := newTestService(t)
	ctx := context.Background()

	completeSetup(t, svc)

	_, err := svc.StartSetup(ctx, userID)
	require.NoError(t, err)
	for i := range profile.Questions {
		_, err := svc.HandleText(ctx, userID, fmt.Sprintf("second-%d", i))
		require.NoError(t, err)
	}

	p, err := profiles.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "second-0", p.Answers[profile.Questions[0].Key])
	for _, v := range p.Answers {
		assert.NotContains(t, v, "answer-", "old answers must not survive a rerun")
	}
}

func TestCancel_NothingRunning(t *testing.T) {
	svc, _ := newTestService(t)

	reply, err := svc.Cancel(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "Nothing to cancel.", reply.Text)
}

func TestTrade_RequiresProfile(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.StartTrade(context.Background(), userID)
	assert.True(t, errors.Is(err, errors.ErrProfileRequired))
}

func TestTrade_FullFlowProducesAnalysis(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	completeSetup(t, svc)

	reply, err := svc.StartTrade(ctx, userID)
	require.NoError(t, err)
	assert.Contains(t, reply.Options, "BTC")
	assert.Contains(t, reply.Options, optionOther)

	outcome, err := svc.HandleText(ctx, userID, "ETH")
	require.NoError(t, err)
	require.NotNil(t, outcome.Reply)
	assert.Contains(t, outcome.Reply.Options, "Trade setup")

	outcome, err = svc.HandleText(ctx, userID, "Trade setup")
	require.NoError(t, err)
	require.NotNil(t, outcome.Analysis)
	assert.Equal(t, "ETH", outcome.Analysis.Subject)
	assert.Equal(t, "setup", string(outcome.Analysis.Kind))

	// Terminal: the session is gone
	_, err = svc.HandleText(ctx, userID, "anything")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestTrade_CustomAssetPath(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	completeSetup(t, svc)

	_, err := svc.StartTrade(ctx, userID)
	require.NoError(t, err)

	outcome, err := svc.HandleText(ctx, userID, "other")
	require.NoError(t, err)
	assert.Contains(t, outcome.Reply.Text, "ticker")

	outcome, err = svc.HandleText(ctx, userID, "arb")
	require.NoError(t, err)
	require.NotNil(t, outcome.Reply)

	outcome, err = svc.HandleText(ctx, userID, "Market read")
	require.NoError(t, err)
	require.NotNil(t, outcome.Analysis)
	assert.Equal(t, "ARB", outcome.Analysis.Subject)
	assert.Equal(t, "market", string(outcome.Analysis.Kind))
}

func TestTrade_UnknownAssetReprompts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	completeSetup(t, svc)

	_, err := svc.StartTrade(ctx, userID)
	require.NoError(t, err)

	outcome, err := svc.HandleText(ctx, userID, "NOTREAL")
	require.NoError(t, err)
	require.NotNil(t, outcome.Reply)
	assert.Nil(t, outcome.Analysis)
	assert.Contains(t, outcome.Reply.Text, "NOTREAL")
}

func TestTrade_UnknownKindReprompts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	completeSetup(t, svc)

	_, err := svc.StartTrade(ctx, userID)
	require.NoError(t, err)
	_, err = svc.HandleText(ctx, userID, "BTC")
	require.NoError(t, err)

	outcome, err := svc.HandleText(ctx, userID, "surprise me")
	require.NoError(t, err)
	require.NotNil(t, outcome.Reply)
	assert.Nil(t, outcome.Analysis)
}

func TestAsk_ExtractsAssetFromQuestion(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.StartAsk(ctx, userID)
	require.NoError(t, err)

	outcome, err := svc.HandleText(ctx, userID, "is eth funding getting crowded?")
	require.NoError(t, err)
	require.NotNil(t, outcome.Analysis)
	assert.Equal(t, "ETH", outcome.Analysis.Subject)
	assert.Equal(t, "is eth funding getting crowded?", outcome.Analysis.Question)
}

func TestAsk_NoAssetReprompts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.StartAsk(ctx, userID)
	require.NoError(t, err)

	outcome, err := svc.HandleText(ctx, userID, "what do you think about the market?")
	require.NoError(t, err)
	require.NotNil(t, outcome.Reply)
	assert.Nil(t, outcome.Analysis)
}

func TestHandleText_NoSession(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.HandleText(context.Background(), userID, "gm")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestStartFlow_ReplacesExistingSession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	completeSetup(t, svc)

	_, err := svc.StartTrade(ctx, userID)
	require.NoError(t, err)

	// Starting setup mid-trade drops the trade flow
	_, err = svc.StartSetup(ctx, userID)
	require.NoError(t, err)

	outcome, err := svc.HandleText(ctx, userID, "BTC")
	require.NoError(t, err)
	require.Nil(t, outcome.Analysis, "text must be read as a setup answer, not an asset pick")
	assert.Contains(t, outcome.Reply.Text, "2.")
}

func TestEnterCode_CollectsCode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	reply, err := svc.StartEnterCode(ctx, userID)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "promo code")

	// Empty text re-prompts without ending the flow
	out, err := svc.HandleText(ctx, userID, "   ")
	require.NoError(t, err)
	require.NotNil(t, out.Reply)
	assert.Empty(t, out.PromoCode)

	out, err = svc.HandleText(ctx, userID, "ECLIPTICA2024")
	require.NoError(t, err)
	assert.Equal(t, "ECLIPTICA2024", out.PromoCode)

	// Session is gone once the code is handed off
	_, err = svc.HandleText(ctx, userID, "anything")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestTradeFlow_SuggestSkipsAssetSelection(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	completeSetup(t, svc)

	reply, err := svc.StartTrade(ctx, userID)
	require.NoError(t, err)
	assert.Contains(t, reply.Options, optionSuggest)

	out, err := svc.HandleText(ctx, userID, optionSuggest)
	require.NoError(t, err)
	require.NotNil(t, out.Analysis)
	assert.Equal(t, suggestSubject, out.Analysis.Subject)
	assert.NotEmpty(t, out.Analysis.Question)

	// Flow is over; the session is gone
	_, err = svc.HandleText(ctx, userID, "BTC")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestSetup_OutOfRangeStepDropsSession(t *testing.T) {
	svc, _, sessions := newTestServiceWithSessions(t)
	ctx := context.Background()

	// A session persisted by a build with a longer question list
	require.NoError(t, sessions.Save(ctx, &session.Session{
		UserID:    userID,
		State:     session.StateCollectingAnswer,
		Step:      len(profile.Questions) + 3,
		UpdatedAt: time.Now(),
	}, time.Minute))

	_, err := svc.HandleText(ctx, userID, "aggressive")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = sessions.Get(ctx, userID)
	assert.True(t, errors.Is(err, errors.ErrNotFound), "out-of-range session must be dropped")
}

// failingProfiles refuses every write
type failingProfiles struct{}

func (failingProfiles) Save(ctx context.Context, p *profile.Profile) error {
	return errors.New("connection refused")
}

func (failingProfiles) Get(ctx context.Context, userID int64) (*profile.Profile, error) {
	return nil, errors.ErrNotFound
}

func (failingProfiles) Delete(ctx context.Context, userID int64) error { return nil }

func TestSetup_SaveFailureKeepsSessionForRetry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redisadapter.NewFromClient(redisclient(mr.Addr()))
	sessions := redisrepo.NewWizardSessionRepository(client)
	svc := NewService(sessions, failingProfiles{}, newStaticAssets())
	ctx := context.Background()

	_, err := svc.StartSetup(ctx, userID)
	require.NoError(t, err)

	for i := 0; i < len(profile.Questions)-1; i++ {
		_, err := svc.HandleText(ctx, userID, fmt.Sprintf("answer-%d", i))
		require.NoError(t, err)
	}

	_, err = svc.HandleText(ctx, userID, "final answer")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnavailable))

	// The session survives so resending the last answer retries the save
	sess, err := sessions.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, len(profile.Questions)-1, sess.Step)
}

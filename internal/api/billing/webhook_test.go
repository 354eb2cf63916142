package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecliptica/internal/adapters/coinbase"
	"ecliptica/pkg/errors"
)

const secret = "whsec-test"

type mockActivator struct {
	activateFunc func(context.Context, string) error
	calls        []string
}

func (m *mockActivator) ActivateFromPayment(ctx context.Context, chargeID string) error {
	m.calls = append(m.calls, chargeID)
	if m.activateFunc != nil {
		return m.activateFunc(ctx, chargeID)
	}
	return nil
}

type mockNotifier struct {
	messages map[int64]string
}

func (m *mockNotifier) SendMessage(chatID int64, text string) error {
	if m.messages == nil {
		m.messages = make(map[int64]string)
	}
	m.messages[chatID] = text
	return nil
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func newVerifier() *coinbase.Client {
	return coinbase.NewClient("https://api.commerce.coinbase.com", "key", secret)
}

func post(t *testing.T, h *WebhookHandler, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/billing/webhook", strings.NewReader(body))
	if signature != "" {
		req.Header.Set("X-CC-Webhook-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const confirmedBody = `{"event":{"id":"evt-1","type":"charge:confirmed","data":{"id":"charge-abc","metadata":{"user_id":"42","plan_type":"monthly"}}}}`

func TestWebhook_ConfirmedChargeActivates(t *testing.T) {
	activator := &mockActivator{}
	notifier := &mockNotifier{}
	h := NewWebhookHandler(newVerifier(), activator, notifier)

	rec := post(t, h, confirmedBody, sign(secret, confirmedBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"charge-abc"}, activator.calls)
	assert.Contains(t, notifier.messages[42], "confirmed")
}

func TestWebhook_BadSignatureRejectedBeforeParsing(t *testing.T) {
	activator := &mockActivator{}
	h := NewWebhookHandler(newVerifier(), activator, nil)

	rec := post(t, h, confirmedBody, sign("other-secret", confirmedBody))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, activator.calls, "unverified payloads must never reach activation")
}

func TestWebhook_MissingSignatureRejected(t *testing.T) {
	activator := &mockActivator{}
	h := NewWebhookHandler(newVerifier(), activator, nil)

	rec := post(t, h, confirmedBody, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, activator.calls)
}

func TestWebhook_OtherEventsIgnored(t *testing.T) {
	activator := &mockActivator{}
	h := NewWebhookHandler(newVerifier(), activator, nil)

	body := `{"event":{"id":"evt-2","type":"charge:created","data":{"id":"charge-abc"}}}`
	rec := post(t, h, body, sign(secret, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, activator.calls)
}

func TestWebhook_UnknownChargeAcknowledged(t *testing.T) {
	activator := &mockActivator{
		activateFunc: func(ctx context.Context, chargeID string) error {
			return errors.Wrap(errors.ErrNotFound, "payment not found")
		},
	}
	h := NewWebhookHandler(newVerifier(), activator, nil)

	rec := post(t, h, confirmedBody, sign(secret, confirmedBody))

	// 200 so Coinbase stops redelivering a charge we never created
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhook_ActivationFailureTriggersRedelivery(t *testing.T) {
	activator := &mockActivator{
		activateFunc: func(ctx context.Context, chargeID string) error {
			return errors.New("db down")
		},
	}
	h := NewWebhookHandler(newVerifier(), activator, nil)

	rec := post(t, h, confirmedBody, sign(secret, confirmedBody))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhook_GetRejected(t *testing.T) {
	h := NewWebhookHandler(newVerifier(), &mockActivator{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/billing/webhook", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

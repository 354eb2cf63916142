package coinbase

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecliptica/pkg/errors"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	c := NewClient("https://api.commerce.coinbase.com", "key", "whsec")
	body := []byte(`{"event":{"type":"charge:confirmed"}}`)

	assert.NoError(t, c.VerifySignature(body, sign("whsec", body)))

	err := c.VerifySignature(body, sign("wrong-secret", body))
	assert.True(t, errors.Is(err, errors.ErrInvalidSignature))

	err = c.VerifySignature(body, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidSignature))

	// Signature over different content
	err = c.VerifySignature([]byte(`{"tampered":true}`), sign("whsec", body))
	assert.True(t, errors.Is(err, errors.ErrInvalidSignature))
}

func TestVerifySignature_NoSecretConfigured(t *testing.T) {
	c := NewClient("https://api.commerce.coinbase.com", "key", "")
	body := []byte(`{}`)

	err := c.VerifySignature(body, sign("", body))
	assert.True(t, errors.Is(err, errors.ErrInvalidSignature),
		"an unconfigured secret must reject everything, not accept everything")
}

func TestParseWebhook(t *testing.T) {
	body := []byte(`{
		"event": {
			"id": "evt-1",
			"type": "charge:confirmed",
			"data": {
				"id": "charge-abc",
				"code": "XYZ123",
				"metadata": {"user_id": "42", "plan_type": "monthly", "is_renewal": false}
			}
		}
	}`)

	event, err := ParseWebhook(body)
	require.NoError(t, err)
	assert.Equal(t, "charge:confirmed", event.Event.Type)
	assert.Equal(t, "charge-abc", event.Event.Data.ID)
	assert.Equal(t, int64(42), event.Event.Data.Metadata.UserID)
	assert.Equal(t, "monthly", event.Event.Data.Metadata.PlanType)
}

func TestParseWebhook_Malformed(t *testing.T) {
	_, err := ParseWebhook([]byte(`not json`))
	assert.Error(t, err)
}

package coinbase

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"ecliptica/pkg/errors"
	"ecliptica/pkg/logger"
)

// Client talks to the Coinbase Commerce API.
type Client struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	httpClient    *http.Client
	log           *logger.Logger
}

// NewClient creates a new Coinbase Commerce client
func NewClient(baseURL, apiKey, webhookSecret string) *Client {
	return &Client{
		baseURL:       baseURL,
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		log:           logger.Get().With("component", "coinbase_client"),
	}
}

// Charge is a created Coinbase Commerce charge.
type Charge struct {
	ID        string
	Code      string
	HostedURL string
}

// ChargeMetadata travels with the charge and comes back on the webhook,
// letting us map a confirmed payment to a user and plan.
type ChargeMetadata struct {
	UserID    int64  `json:"user_id,string"`
	PlanType  string `json:"plan_type"`
	IsRenewal bool   `json:"is_renewal"`
}

type createChargeRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	PricingType string         `json:"pricing_type"`
	LocalPrice  localPrice     `json:"local_price"`
	Metadata    ChargeMetadata `json:"metadata"`
}

type localPrice struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type createChargeResponse struct {
	Data struct {
		ID        string `json:"id"`
		Code      string `json:"code"`
		HostedURL string `json:"hosted_url"`
	} `json:"data"`
}

// CreateCharge creates a fixed-price USD charge and returns its hosted
// checkout URL.
func (c *Client) CreateCharge(ctx context.Context, name, description string, amount decimal.Decimal, meta ChargeMetadata) (*Charge, error) {
	if c.apiKey == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "coinbase API key not configured")
	}

	body, err := json.Marshal(createChargeRequest{
		Name:        name,
		Description: description,
		PricingType: "fixed_price",
		LocalPrice:  localPrice{Amount: amount.StringFixed(2), Currency: "USD"},
		Metadata:    meta,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal charge request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create HTTP request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-CC-Api-Key", c.apiKey)
	httpReq.Header.Set("X-CC-Version", "2018-03-22")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(errors.ErrExternal, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read charge response")
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(errors.ErrExternal, "coinbase API error (%d): %s",
			resp.StatusCode, string(respBody))
	}

	var chargeResp createChargeResponse
	if err := json.Unmarshal(respBody, &chargeResp); err != nil {
		return nil, errors.Wrap(err, "unmarshal charge response")
	}

	c.log.Infow("charge created", "charge_id", chargeResp.Data.ID, "user_id", meta.UserID, "plan", meta.PlanType)

	return &Charge{
		ID:        chargeResp.Data.ID,
		Code:      chargeResp.Data.Code,
		HostedURL: chargeResp.Data.HostedURL,
	}, nil
}

// VerifySignature checks the X-CC-Webhook-Signature header against the raw
// request body. Comparison is constant-time.
func (c *Client) VerifySignature(body []byte, signature string) error {
	if c.webhookSecret == "" {
		return errors.Wrap(errors.ErrInvalidSignature, "webhook secret not configured")
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errors.Wrap(errors.ErrInvalidSignature, "webhook signature mismatch")
	}

	return nil
}

// WebhookEvent is the decoded payload of a Coinbase Commerce webhook.
type WebhookEvent struct {
	Event struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			ID       string         `json:"id"`
			Code     string         `json:"code"`
			Metadata ChargeMetadata `json:"metadata"`
		} `json:"data"`
	} `json:"event"`
}

// ParseWebhook decodes a verified webhook body
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, errors.Wrap(err, "unmarshal webhook event")
	}
	return &event, nil
}

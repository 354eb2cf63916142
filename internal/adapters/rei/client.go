package rei

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"ecliptica/pkg/errors"
	"ecliptica/pkg/logger"
)

// Client calls the REI chat completions API over plain HTTP.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
	log         *logger.Logger
}

// NewClient creates a new REI API client
func NewClient(baseURL, apiKey, model string, temperature float64, timeout time.Duration) *Client {
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		httpClient:  &http.Client{Timeout: timeout},
		log:         logger.Get().With("component", "rei_client"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends a system+user prompt pair and returns the first choice text.
// 5xx and transport failures come back as ErrServiceTransient so the caller
// can retry; 4xx come back as ErrServiceFatal and must not be retried.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	if c.apiKey == "" {
		return "", errors.Wrap(errors.ErrServiceFatal, "rei API key not configured")
	}

	reqBody := chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   maxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", errors.Wrap(err, "marshal rei request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "create HTTP request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Timeouts and connection failures are worth another attempt
		return "", errors.Wrap(errors.ErrServiceTransient, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(errors.ErrServiceTransient, "read rei response")
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		c.log.Warnw("rei API transient failure", "status", resp.StatusCode)
		return "", errors.Wrapf(errors.ErrServiceTransient, "rei API error (%d)", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		var errResp struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return "", errors.Wrapf(errors.ErrServiceFatal, "rei API error (%d): %s - %s",
				resp.StatusCode, errResp.Error.Type, errResp.Error.Message)
		}
		return "", errors.Wrapf(errors.ErrServiceFatal, "rei API error (%d): %s",
			resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", errors.Wrap(errors.ErrServiceTransient, "unmarshal rei response")
	}

	if len(chatResp.Choices) == 0 || chatResp.Choices[0].Message.Content == "" {
		return "", errors.Wrap(errors.ErrServiceTransient, "rei returned empty completion")
	}

	return chatResp.Choices[0].Message.Content, nil
}

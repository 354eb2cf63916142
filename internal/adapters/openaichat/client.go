package openaichat

import (
	"context"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"ecliptica/pkg/errors"
	"ecliptica/pkg/logger"
)

// Client is the alternate completion backend, called only after the primary
// has exhausted its retries. It uses the official OpenAI Go SDK and runs on
// a shorter timeout than the primary.
type Client struct {
	client      openai.Client // NewClient returns Client (not *Client)
	model       string
	temperature float64
	timeout     time.Duration
	log         *logger.Logger
}

// NewClient creates a new OpenAI chat client
func NewClient(apiKey, model string, temperature float64, timeout time.Duration) (*Client, error) {
	if apiKey == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "openai API key is required")
	}

	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout == 0 {
		timeout = 20 * time.Second
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &Client{
		client:      client,
		model:       model,
		temperature: temperature,
		timeout:     timeout,
		log:         logger.Get().With("component", "openai_chat", "model", model),
	}, nil
}

// Complete sends a system+user prompt pair and returns the first choice text
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	response, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature:         openai.Float(c.temperature),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return "", errors.Wrap(errors.ErrServiceTransient, err.Error())
	}

	if len(response.Choices) == 0 || response.Choices[0].Message.Content == "" {
		return "", errors.Wrapf(errors.ErrServiceTransient, "openai returned empty completion")
	}

	c.log.Debugw("completion generated",
		"tokens_used", response.Usage.TotalTokens)

	return response.Choices[0].Message.Content, nil
}

// Package llm wraps the generative text model used for persona generation and
// interview scoring.
package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Client calls the chat completion API.
type Client struct {
	api    *openai.Client
	model  string
	logger *zap.Logger
}

// NewClient creates a model client. A custom baseURL targets an alternative
// OpenAI-compatible endpoint; empty uses the default.
func NewClient(apiKey, baseURL, model string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{
		api:    openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}
}

// Generate sends a single-turn prompt and returns the model text with any
// markdown code fences stripped.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.4,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return CleanResponse(resp.Choices[0].Message.Content), nil
}

// CleanResponse strips markdown code fences the model sometimes wraps JSON in.
func CleanResponse(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Completer is the async boundary to the external completion service.
type Completer interface {
	Complete(ctx context.Context, prompt, systemPrompt string) (string, error)
}

// Client calls any OpenAI-compatible chat completion endpoint.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		api:     openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
	}
}

// Complete sends a prompt (with optional system prompt) and returns the
// response text.
func (c *Client) Complete(ctx context.Context, prompt, systemPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []openai.ChatCompletionMessage{}
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Health sends a minimal completion to verify the endpoint responds.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.Complete(ctx, "ping", "")
	return err
}

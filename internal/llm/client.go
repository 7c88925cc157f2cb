// Package llm talks to the generative model behind the chat assistant through
// an OpenAI-compatible chat completions API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/config"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
)

// ErrNotConfigured is returned when no model credentials are available.
var ErrNotConfigured = errors.New("language model not configured")

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string
	Content string
}

// Client generates text from a conversation.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	// Stream calls onChunk for every text delta and returns the full text.
	// An error from onChunk aborts the stream.
	Stream(ctx context.Context, messages []Message, onChunk func(string) error) (string, error)
	Model() string
	// Offline reports whether replies are canned rather than generated, so
	// callers can skip work that only makes sense with a real model.
	Offline() bool
}

// OpenAIClient implements Client with go-openai.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
	logger      *observability.Logger
}

// NewClient creates a model client. Without an API key it returns a
// keyword-driven DevClient so the service stays usable locally.
func NewClient(cfg config.LLMConfig, logger *observability.Logger) Client {
	logger = logger.WithComponent("llm")
	if cfg.APIKey == "" {
		logger.Warn().Msg("LLM API key not configured, using offline dev client")
		return NewDevClient()
	}
	c, _ := NewOpenAIClient(cfg, logger)
	return c
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(cfg config.LLMConfig, logger *observability.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		timeout:     timeout,
		logger:      logger,
	}, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.model }

// Offline is always false.
func (c *OpenAIClient) Offline() bool { return false }

// Complete returns the model's reply to messages.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, c.request(messages, false))
	if err != nil {
		c.logger.Error().Err(c.describe(err)).Str("model", c.model).Msg("Chat completion failed")
		return "", fmt.Errorf("chat completion: %w", c.describe(err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: no choices returned")
	}

	c.logger.Debug().
		Str("model", c.model).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Dur("elapsed", time.Since(start)).
		Msg("Chat completion finished")

	return resp.Choices[0].Message.Content, nil
}

// Stream streams the model's reply to messages.
func (c *OpenAIClient) Stream(ctx context.Context, messages []Message, onChunk func(string) error) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stream, err := c.client.CreateChatCompletionStream(ctx, c.request(messages, true))
	if err != nil {
		c.logger.Error().Err(c.describe(err)).Str("model", c.model).Msg("Chat stream failed to start")
		return "", fmt.Errorf("chat stream: %w", c.describe(err))
	}
	defer stream.Close()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return full.String(), fmt.Errorf("chat stream recv: %w", c.describe(err))
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if err := onChunk(delta); err != nil {
			return full.String(), err
		}
	}

	return full.String(), nil
}

func (c *OpenAIClient) request(messages []Message, stream bool) openai.ChatCompletionRequest {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    out,
		Temperature: c.temperature,
		Stream:      stream,
	}
}

// describe strips provider response bodies from API errors, keeping the status.
func (c *OpenAIClient) describe(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("model api error: status %d", apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("model request error: status %d", reqErr.HTTPStatusCode)
	}
	return err
}

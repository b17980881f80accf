// Package openai implements adapter.LLM on the OpenAI Chat Completions API
// using github.com/sashabaranov/go-openai. Prompts arrive fully assembled, so
// every request is a single user message.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/docstruct/docstruct/adapter"
)

// ChatClient captures the subset of the go-openai client used by the adapter.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
		openai.ChatCompletionResponse, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	Client ChatClient
	Model  string
	// MaxTokens caps completions when the request does not set its own cap.
	MaxTokens int
	Reason    adapter.UsageReason
}

// Client implements adapter.LLM via the OpenAI Chat Completions API.
type Client struct {
	chat      ChatClient
	model     string
	maxTokens int
	reason    adapter.UsageReason
	now       func() time.Time
}

// New builds an OpenAI-backed LLM from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model is required")
	}
	return &Client{
		chat:      opts.Client,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		reason:    opts.Reason,
		now:       time.Now,
	}, nil
}

// NewFromAPIKey constructs a client using the default go-openai HTTP client.
func NewFromAPIKey(apiKey, model string, reason adapter.UsageReason) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return New(Options{Client: openai.NewClient(apiKey), Model: model, Reason: reason})
}

// UsageReason implements adapter.LLM.
func (c *Client) UsageReason() adapter.UsageReason { return c.reason }

// Complete implements adapter.LLM.
func (c *Client) Complete(ctx context.Context, req adapter.CompletionRequest) (*adapter.CompletionResponse, error) {
	if req.Prompt == "" {
		return nil, errors.New("prompt is required")
	}
	request := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	if req.MaxTokens > 0 {
		request.MaxTokens = req.MaxTokens
	} else if c.maxTokens > 0 {
		request.MaxTokens = c.maxTokens
	}
	if req.Temperature != nil {
		request.Temperature = float32(*req.Temperature)
	}

	start := c.now()
	response, err := c.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", adapter.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, errors.New("openai chat completion: no choices returned")
	}
	return &adapter.CompletionResponse{
		Text: response.Choices[0].Message.Content,
		Usage: map[string]any{
			"prompt_tokens":     response.Usage.PromptTokens,
			"completion_tokens": response.Usage.CompletionTokens,
			"total_tokens":      response.Usage.TotalTokens,
			"latency_ms":        c.now().Sub(start).Milliseconds(),
		},
	}, nil
}

func isRateLimited(err error) bool {
	var apiErr *openai.APIError
	return errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429
}

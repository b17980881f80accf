// Package anthropic implements adapter.LLM on the Anthropic Claude Messages
// API using github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/docstruct/docstruct/adapter"
)

// defaultMaxTokens applies when neither the request nor the options cap the
// completion; the Messages API requires an explicit limit.
const defaultMaxTokens = 4096

type (
	// MessagesClient captures the subset of the Anthropic SDK client used by
	// the adapter. It is satisfied by *sdk.MessageService.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Options configures the Anthropic adapter.
	Options struct {
		Client    MessagesClient
		Model     string
		MaxTokens int
		Reason    adapter.UsageReason
	}

	// Client implements adapter.LLM on top of Anthropic Claude Messages.
	Client struct {
		msg       MessagesClient
		model     string
		maxTokens int
		reason    adapter.UsageReason
		now       func() time.Time
	}
)

// New builds an Anthropic-backed LLM from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		msg:       opts.Client,
		model:     opts.Model,
		maxTokens: maxTokens,
		reason:    opts.Reason,
		now:       time.Now,
	}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, model string, reason adapter.UsageReason) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(Options{Client: &ac.Messages, Model: model, Reason: reason})
}

// UsageReason implements adapter.LLM.
func (c *Client) UsageReason() adapter.UsageReason { return c.reason }

// Complete implements adapter.LLM.
func (c *Client) Complete(ctx context.Context, req adapter.CompletionRequest) (*adapter.CompletionResponse, error) {
	if req.Prompt == "" {
		return nil, errors.New("prompt is required")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	start := c.now()
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", adapter.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return &adapter.CompletionResponse{
		Text: text,
		Usage: map[string]any{
			"prompt_tokens":     msg.Usage.InputTokens,
			"completion_tokens": msg.Usage.OutputTokens,
			"total_tokens":      msg.Usage.InputTokens + msg.Usage.OutputTokens,
			"latency_ms":        c.now().Sub(start).Milliseconds(),
		},
	}, nil
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}

package openai

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstruct/docstruct/adapter"
)

type fakeChat struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = request
	return f.resp, f.err
}

func TestCompleteBuildsSingleUserMessage(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "1200"}}},
		Usage:   openai.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
	}}
	c, err := New(Options{Client: chat, Model: "gpt-4o", MaxTokens: 512, Reason: adapter.UsageExtraction})
	require.NoError(t, err)

	temp := 0.2
	resp, err := c.Complete(context.Background(), adapter.CompletionRequest{
		Prompt:      "What is the total?",
		Temperature: &temp,
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", chat.req.Model)
	require.Len(t, chat.req.Messages, 1)
	assert.Equal(t, openai.ChatMessageRoleUser, chat.req.Messages[0].Role)
	assert.Equal(t, "What is the total?", chat.req.Messages[0].Content)
	assert.Equal(t, 512, chat.req.MaxTokens)
	assert.InDelta(t, 0.2, chat.req.Temperature, 1e-6)

	assert.Equal(t, "1200", resp.Text)
	assert.Equal(t, 10, resp.Usage["prompt_tokens"])
	assert.Equal(t, 12, resp.Usage["total_tokens"])
	assert.Contains(t, resp.Usage, "latency_ms")
	assert.Equal(t, adapter.UsageExtraction, c.UsageReason())
}

func TestRequestMaxTokensOverridesDefault(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "x"}}},
	}}
	c, err := New(Options{Client: chat, Model: "gpt-4o", MaxTokens: 512})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), adapter.CompletionRequest{Prompt: "p", MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, 64, chat.req.MaxTokens)
}

func TestRateLimitMapsToSentinel(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{err: &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}}
	c, err := New(Options{Client: chat, Model: "gpt-4o"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), adapter.CompletionRequest{Prompt: "p"})
	require.ErrorIs(t, err, adapter.ErrRateLimited)
}

func TestNoChoicesIsAnError(t *testing.T) {
	t.Parallel()

	c, err := New(Options{Client: &fakeChat{}, Model: "gpt-4o"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), adapter.CompletionRequest{Prompt: "p"})
	require.Error(t, err)
}

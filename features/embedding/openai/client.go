// Package openai implements adapter.Embedding on the OpenAI Embeddings API
// using github.com/sashabaranov/go-openai.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/docstruct/docstruct/adapter"
)

// EmbeddingsClient captures the subset of the go-openai client used by the
// adapter.
type EmbeddingsClient interface {
	CreateEmbeddings(ctx context.Context, request openai.EmbeddingRequestConverter) (
		openai.EmbeddingResponse, error)
}

// Options configures the OpenAI embedding adapter.
type Options struct {
	Client EmbeddingsClient
	Model  string
}

// Client implements adapter.Embedding via the OpenAI Embeddings API.
type Client struct {
	embeddings EmbeddingsClient
	model      openai.EmbeddingModel
}

// New builds an OpenAI-backed embedding model from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model is required")
	}
	return &Client{embeddings: opts.Client, model: openai.EmbeddingModel(opts.Model)}, nil
}

// NewFromAPIKey constructs a client using the default go-openai HTTP client.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return New(Options{Client: openai.NewClient(apiKey), Model: model})
}

// Embed implements adapter.Embedding.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("text is required")
	}
	resp, err := c.embeddings.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.model,
	})
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", adapter.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embeddings: no data returned")
	}
	return resp.Data[0].Embedding, nil
}

func isRateLimited(err error) bool {
	var apiErr *openai.APIError
	return errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429
}

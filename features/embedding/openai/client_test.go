package openai

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstruct/docstruct/adapter"
)

type fakeEmbeddings struct {
	req  openai.EmbeddingRequest
	resp openai.EmbeddingResponse
	err  error
}

func (f *fakeEmbeddings) CreateEmbeddings(_ context.Context, request openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	if r, ok := request.(openai.EmbeddingRequest); ok {
		f.req = r
	}
	return f.resp, f.err
}

func TestEmbedReturnsFirstVector(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbeddings{resp: openai.EmbeddingResponse{
		Data: []openai.Embedding{{Embedding: []float32{0.1, 0.2, 0.3}}},
	}}
	c, err := New(Options{Client: emb, Model: "text-embedding-3-small"})
	require.NoError(t, err)

	vec, err := c.Embed(context.Background(), "chunk text")
	require.NoError(t, err)

	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, openai.EmbeddingModel("text-embedding-3-small"), emb.req.Model)
	assert.Equal(t, []string{"chunk text"}, emb.req.Input)
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	t.Parallel()

	c, err := New(Options{Client: &fakeEmbeddings{}, Model: "text-embedding-3-small"})
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "")
	require.Error(t, err)
}

func TestEmbedNoDataIsAnError(t *testing.T) {
	t.Parallel()

	c, err := New(Options{Client: &fakeEmbeddings{}, Model: "text-embedding-3-small"})
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "text")
	require.Error(t, err)
}

func TestRateLimitMapsToSentinel(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbeddings{err: &openai.APIError{HTTPStatusCode: 429}}
	c, err := New(Options{Client: emb, Model: "text-embedding-3-small"})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "text")
	require.ErrorIs(t, err, adapter.ErrRateLimited)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Model: "m"})
	require.Error(t, err)
	_, err = New(Options{Client: &fakeEmbeddings{}})
	require.Error(t, err)
	_, err = NewFromAPIKey("", "m")
	require.Error(t, err)
}

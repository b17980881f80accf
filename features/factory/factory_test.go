package factory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstruct/docstruct/adapter"
	"github.com/docstruct/docstruct/platform"
)

type fakeSource struct {
	configs map[string]*platform.AdapterConfig
	err     error
}

func (f *fakeSource) GetAdapterConfig(_ context.Context, id string) (*platform.AdapterConfig, error) {
	if f.err != nil {
		return nil, f.err
	}
	cfg, ok := f.configs[id]
	if !ok {
		return nil, errors.New("adapter instance not found")
	}
	return cfg, nil
}

func (f *fakeSource) ExtractText(_ context.Context, _ platform.X2TextRequest) (*platform.X2TextResponse, error) {
	return &platform.X2TextResponse{ExtractedText: "text"}, nil
}

type wrappedLLM struct{ adapter.LLM }

func TestLLMResolvesByFamily(t *testing.T) {
	t.Parallel()

	src := &fakeSource{configs: map[string]*platform.AdapterConfig{
		"inst-openai": {
			AdapterID:       "openai|3f8d",
			AdapterMetadata: map[string]any{"api_key": "sk-test", "model": "gpt-4o"},
		},
		"inst-anthropic": {
			AdapterID:       "anthropic|91ab",
			AdapterMetadata: map[string]any{"api_key": "sk-ant", "model": "claude-sonnet"},
		},
		"inst-bedrock": {
			AdapterID: "bedrock|77cd",
			AdapterMetadata: map[string]any{
				"region":            "us-east-1",
				"access_key_id":     "AKIA",
				"secret_access_key": "secret",
				"model":             "anthropic.claude-3",
			},
		},
	}}
	f, err := New(src)
	require.NoError(t, err)

	for _, id := range []string{"inst-openai", "inst-anthropic", "inst-bedrock"} {
		llm, err := f.LLM(context.Background(), id, adapter.UsageExtraction)
		require.NoError(t, err, id)
		assert.Equal(t, adapter.UsageExtraction, llm.UsageReason(), id)
	}
}

func TestLLMUnknownFamilyFails(t *testing.T) {
	t.Parallel()

	src := &fakeSource{configs: map[string]*platform.AdapterConfig{
		"inst-1": {AdapterID: "palm|0001", AdapterMetadata: map[string]any{}},
	}}
	f, err := New(src)
	require.NoError(t, err)

	_, err = f.LLM(context.Background(), "inst-1", adapter.UsageExtraction)
	require.ErrorContains(t, err, "unsupported llm adapter family")
}

func TestLLMMiddlewareWrapsClient(t *testing.T) {
	t.Parallel()

	src := &fakeSource{configs: map[string]*platform.AdapterConfig{
		"inst-1": {
			AdapterID:       "openai|3f8d",
			AdapterMetadata: map[string]any{"api_key": "sk-test", "model": "gpt-4o"},
		},
	}}
	f, err := New(src, WithLLMMiddleware(func(next adapter.LLM) adapter.LLM {
		return wrappedLLM{next}
	}))
	require.NoError(t, err)

	llm, err := f.LLM(context.Background(), "inst-1", adapter.UsageExtraction)
	require.NoError(t, err)
	assert.IsType(t, wrappedLLM{}, llm)
}

func TestEmbeddingResolvesOpenAI(t *testing.T) {
	t.Parallel()

	src := &fakeSource{configs: map[string]*platform.AdapterConfig{
		"inst-emb": {
			AdapterID:       "openai|e001",
			AdapterMetadata: map[string]any{"api_key": "sk-test", "model": "text-embedding-3-small"},
		},
		"inst-bad": {AdapterID: "cohere|e002", AdapterMetadata: map[string]any{}},
	}}
	f, err := New(src)
	require.NoError(t, err)

	emb, err := f.Embedding(context.Background(), "inst-emb")
	require.NoError(t, err)
	assert.NotNil(t, emb)

	_, err = f.Embedding(context.Background(), "inst-bad")
	require.ErrorContains(t, err, "unsupported embedding adapter family")
}

func TestVectorDBRequiresConnectionString(t *testing.T) {
	t.Parallel()

	src := &fakeSource{configs: map[string]*platform.AdapterConfig{
		"inst-vec": {
			AdapterID:       "mongodb|v001",
			AdapterMetadata: map[string]any{"database": "vectors", "collection": "chunks"},
		},
		"inst-bad": {AdapterID: "pinecone|v002", AdapterMetadata: map[string]any{}},
	}}
	f, err := New(src)
	require.NoError(t, err)

	_, err = f.VectorDB(context.Background(), "inst-vec", nil)
	require.ErrorContains(t, err, "no connection string")

	_, err = f.VectorDB(context.Background(), "inst-bad", nil)
	require.ErrorContains(t, err, "unsupported vector db adapter family")
}

func TestX2TextWhispererDetection(t *testing.T) {
	t.Parallel()

	src := &fakeSource{configs: map[string]*platform.AdapterConfig{
		"inst-whisper": {AdapterID: "llmwhisperer-v2|x001", AdapterMetadata: map[string]any{}},
		"inst-plain":   {AdapterID: "unstructured-io|x002", AdapterMetadata: map[string]any{}},
	}}
	f, err := New(src)
	require.NoError(t, err)

	x, err := f.X2Text(context.Background(), "inst-whisper")
	require.NoError(t, err)
	assert.True(t, x.SupportsHighlight())

	x, err = f.X2Text(context.Background(), "inst-plain")
	require.NoError(t, err)
	assert.False(t, x.SupportsHighlight())
}

func TestConfigErrorsPropagate(t *testing.T) {
	t.Parallel()

	src := &fakeSource{err: errors.New("platform unavailable")}
	f, err := New(src)
	require.NoError(t, err)

	_, err = f.LLM(context.Background(), "inst-1", adapter.UsageExtraction)
	require.ErrorContains(t, err, "platform unavailable")
	_, err = f.Embedding(context.Background(), "inst-1")
	require.ErrorContains(t, err, "platform unavailable")
	_, err = f.X2Text(context.Background(), "inst-1")
	require.ErrorContains(t, err, "platform unavailable")
}

func TestNewRequiresSource(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)
}

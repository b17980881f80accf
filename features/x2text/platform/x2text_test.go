package platform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstruct/docstruct/adapter"
	"github.com/docstruct/docstruct/platform"
)

type fakeExtractor struct {
	req  platform.X2TextRequest
	resp *platform.X2TextResponse
	err  error
}

func (f *fakeExtractor) ExtractText(_ context.Context, req platform.X2TextRequest) (*platform.X2TextResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestProcessPassesThrough(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{resp: &platform.X2TextResponse{ExtractedText: "invoice text", WhisperHash: "wh-1"}}
	c, err := New(Options{Client: ex, InstanceID: "inst-1", AdapterID: "llmwhisperer-v2"})
	require.NoError(t, err)
	assert.True(t, c.SupportsHighlight())

	resp, err := c.Process(context.Background(), adapter.ExtractRequest{
		FilePath:        "/exec/SOURCE",
		OutputFilePath:  "/exec/EXTRACT",
		EnableHighlight: true,
		Tags:            []string{"batch"},
	})
	require.NoError(t, err)

	assert.Equal(t, "inst-1", ex.req.AdapterInstanceID)
	assert.Equal(t, "/exec/SOURCE", ex.req.FilePath)
	assert.Equal(t, "/exec/EXTRACT", ex.req.OutputFilePath)
	assert.True(t, ex.req.EnableHighlight)
	assert.Equal(t, []string{"batch"}, ex.req.Tags)

	assert.Equal(t, "invoice text", resp.Text)
	assert.Equal(t, "wh-1", resp.WhisperHash)
}

func TestHighlightSuppressedForNonWhisperer(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{resp: &platform.X2TextResponse{ExtractedText: "text"}}
	c, err := New(Options{Client: ex, InstanceID: "inst-1", AdapterID: "unstructured-io"})
	require.NoError(t, err)
	assert.False(t, c.SupportsHighlight())

	_, err = c.Process(context.Background(), adapter.ExtractRequest{
		FilePath:        "/exec/SOURCE",
		EnableHighlight: true,
	})
	require.NoError(t, err)
	assert.False(t, ex.req.EnableHighlight, "non-whisperer backends never see the highlight flag")
}

func TestProcessPropagatesServiceError(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{err: errors.New("backend unavailable")}
	c, err := New(Options{Client: ex, InstanceID: "inst-1"})
	require.NoError(t, err)

	_, err = c.Process(context.Background(), adapter.ExtractRequest{FilePath: "/exec/SOURCE"})
	require.ErrorContains(t, err, "backend unavailable")
}

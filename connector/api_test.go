package connector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstruct/docstruct/workflow"
)

func newAPI(t *testing.T, fs afero.Fs, cfg APIConfig, history workflow.HistoryStore) *API {
	t.Helper()
	if cfg.DestinationDir == "" {
		cfg.DestinationDir = "/uploads"
	}
	a, err := NewAPI(fs, cfg, history, "wf-1")
	require.NoError(t, err)
	return a
}

func TestAPIIngestsAllowedUploads(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	a := newAPI(t, fs, APIConfig{}, nil)

	content := "invoice body"
	files, count, err := a.ListFiles(context.Background(), []Upload{
		{Name: "invoice.pdf", MimeType: "application/pdf", Content: strings.NewReader(content)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	fh := files["/uploads/invoice.pdf"]
	require.NotNil(t, fh)
	sum := sha256.Sum256([]byte(content))
	assert.Equal(t, hex.EncodeToString(sum[:]), fh.FileHash)
	assert.Equal(t, int64(len(content)), fh.FileSize)
	assert.Equal(t, workflow.ConnectionAPI, fh.ConnectionType)
	assert.Equal(t, 1, fh.FileNumber)
	assert.False(t, fh.IsExecuted)

	persisted, err := afero.ReadFile(fs, "/uploads/invoice.pdf")
	require.NoError(t, err)
	assert.Equal(t, content, string(persisted))
}

func TestAPIRejectsDisallowedMimeType(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	a := newAPI(t, fs, APIConfig{}, nil)

	files, count, err := a.ListFiles(context.Background(), []Upload{
		{Name: "payload.exe", MimeType: "application/octet-stream", Content: strings.NewReader("MZ")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	fh := files["/uploads/payload.exe"]
	require.NotNil(t, fh)
	assert.True(t, strings.HasPrefix(fh.FileHash, "temp-hash-"), "rejected uploads get a synthetic hash")
	assert.True(t, fh.IsExecuted)

	exists, err := afero.Exists(fs, "/uploads/payload.exe")
	require.NoError(t, err)
	assert.False(t, exists, "rejected content is never persisted")
}

func TestAPIMimeTypeParameterStripped(t *testing.T) {
	t.Parallel()

	a := newAPI(t, afero.NewMemMapFs(), APIConfig{}, nil)

	files, _, err := a.ListFiles(context.Background(), []Upload{
		{Name: "notes.txt", MimeType: "Text/Plain; charset=utf-8", Content: strings.NewReader("hi")},
	})
	require.NoError(t, err)
	require.NotNil(t, files["/uploads/notes.txt"])
	assert.False(t, files["/uploads/notes.txt"].IsExecuted)
}

func TestAPISkipsBatchDuplicates(t *testing.T) {
	t.Parallel()

	a := newAPI(t, afero.NewMemMapFs(), APIConfig{}, nil)

	files, count, err := a.ListFiles(context.Background(), []Upload{
		{Name: "a.pdf", MimeType: "application/pdf", Content: strings.NewReader("same bytes")},
		{Name: "b.pdf", MimeType: "application/pdf", Content: strings.NewReader("same bytes")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count, "identical content within one batch ingests once")
	assert.Contains(t, files, "/uploads/a.pdf")
}

func TestAPIFileHistoryMarksExecuted(t *testing.T) {
	t.Parallel()

	content := "seen before"
	sum := sha256.Sum256([]byte(content))
	history := workflow.NewInMemHistoryStore()
	require.NoError(t, history.Record(context.Background(), workflow.HistoryEntry{
		WorkflowID:  "wf-1",
		CacheKey:    hex.EncodeToString(sum[:]),
		FilePath:    "/uploads/old.pdf",
		Status:      workflow.StatusCompleted,
		Result:      `{"total":"1200"}`,
		IsCompleted: true,
	}))
	a := newAPI(t, afero.NewMemMapFs(), APIConfig{UseFileHistory: true}, history)

	files, count, err := a.ListFiles(context.Background(), []Upload{
		{Name: "old.pdf", MimeType: "application/pdf", Content: strings.NewReader(content)},
		{Name: "new.pdf", MimeType: "application/pdf", Content: strings.NewReader("never seen")},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count, "history hits stay listed; the driver reuses the cached result")
	assert.True(t, files["/uploads/old.pdf"].IsExecuted)
	assert.False(t, files["/uploads/new.pdf"].IsExecuted)
}

func TestAPIRequiresDestination(t *testing.T) {
	t.Parallel()

	_, err := NewAPI(afero.NewMemMapFs(), APIConfig{}, nil, "wf-1")
	require.Error(t, err)
}

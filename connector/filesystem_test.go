package connector

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstruct/docstruct/workflow"
)

// fakeProvider serves a canned directory tree.
type fakeProvider struct {
	entries map[string][]Entry
	subdirs map[string][]string
	listed  []string
}

func (p *fakeProvider) ListDir(_ context.Context, dir string) ([]Entry, []string, error) {
	p.listed = append(p.listed, dir)
	return p.entries[dir], p.subdirs[dir], nil
}

// captureLogger records log messages so tests can assert on them.
type captureLogger struct{ msgs []string }

func (l *captureLogger) Debug(_ context.Context, msg string, _ ...any) { l.msgs = append(l.msgs, msg) }
func (l *captureLogger) Info(_ context.Context, msg string, _ ...any)  { l.msgs = append(l.msgs, msg) }
func (l *captureLogger) Warn(_ context.Context, msg string, _ ...any)  { l.msgs = append(l.msgs, msg) }
func (l *captureLogger) Error(_ context.Context, msg string, _ ...any) { l.msgs = append(l.msgs, msg) }

func boolPtr(b bool) *bool { return &b }

func flatProvider(entries ...Entry) *fakeProvider {
	return &fakeProvider{entries: map[string][]Entry{"/in": entries}}
}

func newFS(t *testing.T, p Provider, cfg FilesystemConfig, history workflow.HistoryStore, execs workflow.FileExecutionStore, opts ...FilesystemOption) *Filesystem {
	t.Helper()
	if cfg.FoldersToProcess == nil {
		cfg.FoldersToProcess = []string{"/in"}
	}
	f, err := NewFilesystem(p, cfg, history, execs, "wf-1", "exec-1", "org-1", opts...)
	require.NoError(t, err)
	return f
}

func TestListFilesAcceptsSupportedFiles(t *testing.T) {
	t.Parallel()

	p := flatProvider(
		Entry{Path: "/in/a.pdf", Name: "a.pdf", Size: 10},
		Entry{Path: "/in/b.PDF", Name: "b.PDF", Size: 20},
		Entry{Path: "/in/c.exe", Name: "c.exe", Size: 30},
	)
	f := newFS(t, p, FilesystemConfig{}, nil, nil)

	files, count, err := f.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count, "glob match is case-insensitive; unsupported formats drop")
	assert.Contains(t, files, "/in/a.pdf")
	assert.Contains(t, files, "/in/b.PDF")
	assert.Equal(t, 1, files["/in/a.pdf"].FileNumber)
	assert.Equal(t, workflow.ConnectionFilesystem, files["/in/a.pdf"].ConnectionType)
}

func TestListFilesExtensionGroups(t *testing.T) {
	t.Parallel()

	p := flatProvider(
		Entry{Path: "/in/a.pdf", Name: "a.pdf", Size: 10},
		Entry{Path: "/in/b.png", Name: "b.png", Size: 20},
	)
	f := newFS(t, p, FilesystemConfig{FileExtensions: []string{GroupImages}}, nil, nil)

	files, count, err := f.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Contains(t, files, "/in/b.png")
}

func TestListFilesDirectoryDetectionCascade(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{
		entries: map[string][]Entry{"/in": {
			{Path: "/in/meta-dir", Name: "meta-dir", Size: 99, IsDir: boolPtr(true)},
			{Path: "/in/listed.pdf", Name: "listed.pdf", Size: 99},
			{Path: "/in/slash.pdf/", Name: "slash.pdf", Size: 99},
			{Path: "/in/empty.pdf", Name: "empty.pdf", Size: 0},
			{Path: "/in/real.pdf", Name: "real.pdf", Size: 42},
		}},
		subdirs: map[string][]string{"/in": {"/in/listed.pdf"}},
	}
	f := newFS(t, p, FilesystemConfig{}, nil, nil)

	files, count, err := f.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Contains(t, files, "/in/real.pdf")
}

func TestListFilesDedupsOnPathOrName(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{
		entries: map[string][]Entry{
			"/in":     {{Path: "/in/a.pdf", Name: "a.pdf", Size: 1}},
			"/in/sub": {{Path: "/in/sub/a.pdf", Name: "a.pdf", Size: 2}},
		},
		subdirs: map[string][]string{"/in": {"/in/sub"}},
	}
	logger := &captureLogger{}
	f := newFS(t, p, FilesystemConfig{ProcessSubDirectories: true}, nil, nil, WithLogger(logger))

	files, count, err := f.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count, "same file name in a subdirectory is a duplicate")
	assert.Contains(t, files, "/in/a.pdf")

	var logged bool
	for _, msg := range logger.msgs {
		if strings.Contains(msg, "duplicate") {
			logged = true
		}
	}
	assert.True(t, logged, "duplicate skip is logged, not silent")
}

func TestListFilesDepthLimit(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{
		entries: map[string][]Entry{
			"/in":     {{Path: "/in/top.pdf", Name: "top.pdf", Size: 1}},
			"/in/sub": {{Path: "/in/sub/deep.pdf", Name: "deep.pdf", Size: 1}},
		},
		subdirs: map[string][]string{"/in": {"/in/sub"}},
	}
	f := newFS(t, p, FilesystemConfig{ProcessSubDirectories: false}, nil, nil)

	files, count, err := f.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count, "depth 1 listing never descends")
	assert.Contains(t, files, "/in/top.pdf")
}

func TestListFilesHonorsFileHistory(t *testing.T) {
	t.Parallel()

	history := workflow.NewInMemHistoryStore()
	require.NoError(t, history.Record(context.Background(), workflow.HistoryEntry{
		WorkflowID:  "wf-1",
		CacheKey:    "uuid-1",
		FilePath:    "/in/done.pdf",
		Status:      workflow.StatusCompleted,
		Result:      `{"ok":true}`,
		IsCompleted: true,
	}))
	p := flatProvider(
		Entry{Path: "/in/done.pdf", Name: "done.pdf", Size: 1, ProviderUUID: "uuid-1"},
		Entry{Path: "/in/new.pdf", Name: "new.pdf", Size: 1, ProviderUUID: "uuid-2"},
	)
	f := newFS(t, p, FilesystemConfig{UseFileHistory: true}, history, nil)

	files, count, err := f.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Contains(t, files, "/in/new.pdf")
}

func TestListFilesInFlightGuard(t *testing.T) {
	t.Parallel()

	execs := workflow.NewInMemFileExecutionStore()
	require.NoError(t, execs.Create(context.Background(), workflow.FileExecution{
		ID:                  "fe-1",
		WorkflowExecutionID: "exec-1",
		ProviderFileUUID:    "uuid-1",
		FilePath:            "/in/busy.pdf",
		Status:              workflow.StatusExecuting,
	}))
	p := flatProvider(
		Entry{Path: "/in/busy.pdf", Name: "busy.pdf", Size: 1, ProviderUUID: "uuid-1"},
		Entry{Path: "/in/free.pdf", Name: "free.pdf", Size: 1, ProviderUUID: "uuid-2"},
	)
	f := newFS(t, p, FilesystemConfig{}, nil, execs)

	files, count, err := f.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Contains(t, files, "/in/free.pdf")
}

func TestListFilesMaxFilesLimit(t *testing.T) {
	t.Parallel()

	p := flatProvider(
		Entry{Path: "/in/a.pdf", Name: "a.pdf", Size: 1},
		Entry{Path: "/in/b.pdf", Name: "b.pdf", Size: 1},
		Entry{Path: "/in/c.pdf", Name: "c.pdf", Size: 1},
	)
	f := newFS(t, p, FilesystemConfig{MaxFiles: 2}, nil, nil)

	_, count, err := f.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

package toolshim

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstruct/docstruct/runtime/logstream"
)

func TestRequireEnvPrefersStoredPlatformKey(t *testing.T) {
	t.Setenv(PlatformKeyEnv, "from-environment")
	s := New(Options{PlatformAPIKey: "from-task"})

	got, err := s.RequireEnv(PlatformKeyEnv)
	require.NoError(t, err)
	assert.Equal(t, "from-task", got)
}

func TestRequireEnvFallsBackToProcessEnv(t *testing.T) {
	t.Setenv("X2TEXT_HOST", "http://x2text:3004")
	s := New(Options{})

	got, err := s.RequireEnv("X2TEXT_HOST")
	require.NoError(t, err)
	assert.Equal(t, "http://x2text:3004", got)
}

func TestRequireEnvMissingYieldsTypedError(t *testing.T) {
	s := New(Options{})

	_, err := s.RequireEnv("DOES_NOT_EXIST_42")
	require.Error(t, err)
	var envErr *EnvError
	require.ErrorAs(t, err, &envErr)
	assert.Equal(t, "DOES_NOT_EXIST_42", envErr.Key)
	assert.Contains(t, err.Error(), "DOES_NOT_EXIST_42")
}

func TestStreamLogPublishesOnChannel(t *testing.T) {
	t.Parallel()

	buf := logstream.NewBuffer()
	s := New(Options{
		ExecutionID: "exec-9",
		Channel:     "exec-9",
		ExecMetadata: map[string]any{
			"organization_id": "org-3",
		},
		Publisher: buf,
	})

	s.StreamLog(context.Background(), "extracting text", logstream.LevelInfo, logstream.StageRun)

	events := buf.Events("exec-9")
	require.Len(t, events, 1)
	ev, ok := events[0].(logstream.LogEvent)
	require.True(t, ok)
	assert.Equal(t, logstream.StageRun, ev.Stage)
	assert.Equal(t, "exec-9", ev.ExecutionID)
	assert.Equal(t, "org-3", ev.OrganizationID)
}

func TestStreamLogWithoutChannelDoesNotPublish(t *testing.T) {
	t.Parallel()

	buf := logstream.NewBuffer()
	s := New(Options{ExecutionID: "exec-9", Publisher: buf})

	s.StreamLog(context.Background(), "outside workflow", logstream.LevelInfo, logstream.StageRun)

	assert.Empty(t, buf.Events(""))
	assert.Empty(t, buf.Events("exec-9"))
}

func TestStreamUpdate(t *testing.T) {
	t.Parallel()

	buf := logstream.NewBuffer()
	s := New(Options{Channel: "exec-1", Publisher: buf})

	s.StreamUpdate(context.Background(), "file 1/3", logstream.StateInputUpdate)

	events := buf.Events("exec-1")
	require.Len(t, events, 1)
	ev, ok := events[0].(logstream.UpdateEvent)
	require.True(t, ok)
	assert.Equal(t, logstream.StateInputUpdate, ev.State)
}

func TestStreamErrorReturnsInsteadOfExiting(t *testing.T) {
	t.Parallel()

	buf := logstream.NewBuffer()
	s := New(Options{Channel: "exec-1", Publisher: buf})
	cause := errors.New("adapter unreachable")

	err := s.StreamError(context.Background(), "extraction failed", cause)

	require.Error(t, err)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, "extraction failed", exitErr.Message)
	assert.ErrorIs(t, err, cause)

	events := buf.Events("exec-1")
	require.Len(t, events, 1)
	ev, ok := events[0].(logstream.UpdateEvent)
	require.True(t, ok)
	assert.Equal(t, logstream.StateError, ev.State)
}

package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusCompleted, StatusError, StatusStopped} {
		assert.True(t, s.Terminal(), string(s))
	}
	for _, s := range []Status{StatusPending, StatusQueued, StatusExecuting, Status("")} {
		assert.False(t, s.Terminal(), string(s))
	}
}

func TestCacheKeyPrefersContentHash(t *testing.T) {
	t.Parallel()

	h := FileHash{FileHash: "abc123", ProviderFileUUID: "uuid-1"}
	assert.Equal(t, "abc123", h.CacheKey())

	h = FileHash{ProviderFileUUID: "uuid-1"}
	assert.Equal(t, "uuid-1", h.CacheKey())

	assert.Empty(t, (&FileHash{}).CacheKey())
}

func TestHistoryEntryValidate(t *testing.T) {
	t.Parallel()

	valid := HistoryEntry{WorkflowID: "wf-1", CacheKey: "hash", FilePath: "/in/a.pdf"}
	require.NoError(t, valid.Validate())

	e := valid
	e.WorkflowID = ""
	require.Error(t, e.Validate())

	e = valid
	e.CacheKey = ""
	require.Error(t, e.Validate())

	// Completed entries must carry the cached result.
	e = valid
	e.IsCompleted = true
	require.Error(t, e.Validate())
	e.Result = `{"total":1200}`
	require.NoError(t, e.Validate())
}

func TestInMemHistoryStore(t *testing.T) {
	t.Parallel()

	s := NewInMemHistoryStore()
	ctx := context.Background()

	got, err := s.Lookup(ctx, "wf-1", "hash", "/in/a.pdf")
	require.NoError(t, err)
	assert.Nil(t, got)

	entry := HistoryEntry{
		WorkflowID: "wf-1", CacheKey: "hash", FilePath: "/in/a.pdf",
		Status: StatusCompleted, Result: "{}", IsCompleted: true,
	}
	require.NoError(t, s.Record(ctx, entry))

	got, err = s.Lookup(ctx, "wf-1", "hash", "/in/a.pdf")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusCompleted, got.Status)

	// Invalid entries are rejected before the map is touched.
	require.Error(t, s.Record(ctx, HistoryEntry{CacheKey: "hash"}))
}

func TestInMemFileExecutionStoreUniqueness(t *testing.T) {
	t.Parallel()

	s := NewInMemFileExecutionStore()
	ctx := context.Background()

	first := FileExecution{
		ID: "fe-1", WorkflowExecutionID: "exec-1", FileHash: "hash",
		FilePath: "/in/a.pdf", Status: StatusExecuting,
	}
	require.NoError(t, s.Create(ctx, first))

	// Same identity under a fresh row id loses the race.
	dup := first
	dup.ID = "fe-2"
	require.ErrorIs(t, s.Create(ctx, dup), ErrDuplicateFileExecution)

	// Provider-UUID identity collides independently of the hash.
	require.NoError(t, s.Create(ctx, FileExecution{
		ID: "fe-3", WorkflowExecutionID: "exec-1", ProviderFileUUID: "uuid-1",
		FilePath: "/in/b.pdf", Status: StatusPending,
	}))
	require.ErrorIs(t, s.Create(ctx, FileExecution{
		ID: "fe-4", WorkflowExecutionID: "exec-1", ProviderFileUUID: "uuid-1",
		FilePath: "/in/b.pdf",
	}), ErrDuplicateFileExecution)

	// Same file under a different execution is a new row.
	other := first
	other.ID = "fe-5"
	other.WorkflowExecutionID = "exec-2"
	require.NoError(t, s.Create(ctx, other))
}

func TestInMemFileExecutionStoreInFlight(t *testing.T) {
	t.Parallel()

	s := NewInMemFileExecutionStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, FileExecution{
		ID: "fe-1", WorkflowExecutionID: "exec-1", FileHash: "hash",
		FilePath: "/in/a.pdf", Status: StatusExecuting,
	}))

	q := InFlightQuery{WorkflowExecutionID: "exec-1", FileHash: "hash", FilePath: "/in/a.pdf"}
	busy, err := s.AnyInFlight(ctx, q)
	require.NoError(t, err)
	assert.True(t, busy)

	require.NoError(t, s.UpdateStatus(ctx, "fe-1", StatusCompleted, ""))
	busy, err = s.AnyInFlight(ctx, q)
	require.NoError(t, err)
	assert.False(t, busy)

	row, ok := s.Get("fe-1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, row.Status)

	require.Error(t, s.UpdateStatus(ctx, "missing", StatusError, "boom"))
}

func TestInMemStatusGateDefaultsToExecuting(t *testing.T) {
	t.Parallel()

	g := NewInMemStatusGate()
	ctx := context.Background()

	status, err := g.Status(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuting, status)

	require.NoError(t, g.SetStatus(ctx, "exec-1", StatusStopped))
	status, err = g.Status(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, status)
}

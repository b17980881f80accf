package workflow

import (
	"context"
	"errors"
	"fmt"
)

// ErrDuplicateFileExecution reports an insert that lost the race against
// another worker: a row already exists for the same workflow execution and
// file identity.
var ErrDuplicateFileExecution = errors.New("file execution already exists")

type (
	// HistoryStore is the persistent cache of completed
	// (workflow, cache_key, file_path) tuples used to skip re-processing.
	HistoryStore interface {
		// Lookup returns the entry for (workflowID, cacheKey, filePath) or
		// (nil, nil) when no entry exists.
		Lookup(ctx context.Context, workflowID, cacheKey, filePath string) (*HistoryEntry, error)
		// Record upserts an entry. Re-runs overwrite the previous row.
		Record(ctx context.Context, entry HistoryEntry) error
	}

	// InFlightQuery describes an in-flight duplicate probe. Organization
	// scoping keeps tenants from observing each other's executions.
	InFlightQuery struct {
		WorkflowExecutionID string
		OrganizationID      string
		FileHash            string
		ProviderFileUUID    string
		FilePath            string
	}

	// FileExecutionStore tracks per-file execution rows.
	FileExecutionStore interface {
		// Create inserts a row. A row with the same (workflow_execution_id,
		// file_hash, file_path) or (workflow_execution_id,
		// provider_file_uuid, file_path) yields ErrDuplicateFileExecution.
		Create(ctx context.Context, fe FileExecution) error
		// UpdateStatus transitions a row's status and error message.
		UpdateStatus(ctx context.Context, id string, status Status, execError string) error
		// AnyInFlight reports whether a non-terminal row (PENDING, EXECUTING,
		// QUEUED) matches q on file_hash+file_path or
		// provider_file_uuid+file_path.
		AnyInFlight(ctx context.Context, q InFlightQuery) (bool, error)
	}

	// StatusGate exposes the workflow execution status to cooperative STOP
	// checkpoints inside per-file tasks.
	StatusGate interface {
		// Status returns the current workflow execution status.
		Status(ctx context.Context, executionID string) (Status, error)
		// SetStatus records a status transition.
		SetStatus(ctx context.Context, executionID string, status Status) error
	}
)

// Validate enforces the history-entry invariant before a store accepts it.
func (e HistoryEntry) Validate() error {
	if e.WorkflowID == "" {
		return errors.New("history entry workflow_id must not be empty")
	}
	if e.CacheKey == "" {
		return errors.New("history entry cache_key must not be empty")
	}
	if e.IsCompleted && e.Result == "" {
		return fmt.Errorf("completed history entry for %q must carry a result", e.FilePath)
	}
	return nil
}

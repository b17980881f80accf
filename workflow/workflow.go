// Package workflow defines the logical entities the execution core consumes:
// workflow executions, per-file executions, file-history cache entries, and
// the per-file FileHash records produced by source connectors. The relational
// schema behind them is out of scope; stores expose only the operations the
// core needs.
package workflow

import "time"

// Status is the lifecycle state of a workflow execution or a per-file
// execution. Values are stable wire constants.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusQueued    Status = "QUEUED"
	StatusExecuting Status = "EXECUTING"
	StatusCompleted Status = "COMPLETED"
	StatusError     Status = "ERROR"
	StatusStopped   Status = "STOPPED"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusStopped:
		return true
	}
	return false
}

// ConnectionType names the source connector family that produced a file.
type ConnectionType string

const (
	// ConnectionFilesystem marks files discovered by a directory walk.
	ConnectionFilesystem ConnectionType = "FILESYSTEM"
	// ConnectionAPI marks files uploaded through an API deployment.
	ConnectionAPI ConnectionType = "API"
)

type (
	// FileHash is the per-file record produced by a source connector and
	// consumed by the per-file pipeline driver. Lifetime is one workflow
	// execution.
	FileHash struct {
		FilePath string `json:"file_path"`
		FileName string `json:"file_name"`
		FileSize int64  `json:"file_size"`
		MimeType string `json:"mime_type"`
		// FileHash is the SHA-256 of the content, hex encoded. Empty until
		// computed during ingestion or by the first worker to open the file.
		FileHash string `json:"file_hash,omitempty"`
		// ProviderFileUUID is the upstream provider's stable ID, for sources
		// like Google Drive that expose one.
		ProviderFileUUID string         `json:"provider_file_uuid,omitempty"`
		ConnectionType   ConnectionType `json:"source_connection_type"`
		// FileNumber is the 1-based position in the listing.
		FileNumber int            `json:"file_number"`
		FSMetadata map[string]any `json:"fs_metadata,omitempty"`
		// IsExecuted is set when the hash matches a completed file-history
		// row, or when the file was rejected before ingestion.
		IsExecuted bool `json:"is_executed"`
	}

	// Execution is the parent aggregate for one workflow run.
	Execution struct {
		ExecutionID     string        `json:"execution_id"`
		WorkflowID      string        `json:"workflow_id"`
		OrganizationID  string        `json:"organization_id,omitempty"`
		Status          Status        `json:"status"`
		TotalFiles      int           `json:"total_files"`
		Attempts        int           `json:"attempts"`
		ExecutionTime   time.Duration `json:"execution_time"`
		ErrorMessage    string        `json:"error_message,omitempty"`
		Tags            []string      `json:"tags,omitempty"`
		PipelineID      string        `json:"pipeline_id,omitempty"`
		APIDeploymentID string        `json:"api_deployment_id,omitempty"`
	}

	// FileExecution is one row per (Execution × FileHash). The store enforces
	// uniqueness on (workflow_execution_id, file_hash, file_path) and on
	// (workflow_execution_id, provider_file_uuid, file_path); a lost race
	// between workers surfaces as a deterministic insert error.
	FileExecution struct {
		ID                  string        `json:"id"`
		WorkflowExecutionID string        `json:"workflow_execution_id"`
		FileHash            string        `json:"file_hash,omitempty"`
		FilePath            string        `json:"file_path"`
		ProviderFileUUID    string        `json:"provider_file_uuid,omitempty"`
		Status              Status        `json:"status"`
		ExecutionTime       time.Duration `json:"execution_time"`
		ExecutionError      string        `json:"execution_error,omitempty"`
	}

	// HistoryEntry is a content-level cache row recording a completed file.
	// IsCompleted implies Result is non-empty.
	HistoryEntry struct {
		WorkflowID string    `json:"workflow_id"`
		CacheKey   string    `json:"cache_key"`
		FilePath   string    `json:"file_path"`
		Status     Status    `json:"status"`
		Result     string    `json:"result,omitempty"`
		IsCompleted bool     `json:"is_completed"`
		CreatedAt  time.Time `json:"created_at"`
	}
)

// CacheKey returns the file-history key for h: the content hash when known,
// else the provider UUID.
func (h *FileHash) CacheKey() string {
	if h.FileHash != "" {
		return h.FileHash
	}
	return h.ProviderFileUUID
}

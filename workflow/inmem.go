package workflow

import (
	"context"
	"fmt"
	"sync"
)

// InMemHistoryStore is a mutex-guarded HistoryStore for development and
// tests.
type InMemHistoryStore struct {
	mu      sync.RWMutex
	entries map[string]HistoryEntry
}

// NewInMemHistoryStore constructs an empty history store.
func NewInMemHistoryStore() *InMemHistoryStore {
	return &InMemHistoryStore{entries: make(map[string]HistoryEntry)}
}

func historyKey(workflowID, cacheKey, filePath string) string {
	return workflowID + "\x00" + cacheKey + "\x00" + filePath
}

// Lookup implements HistoryStore.
func (s *InMemHistoryStore) Lookup(_ context.Context, workflowID, cacheKey, filePath string) (*HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[historyKey(workflowID, cacheKey, filePath)]
	if !ok {
		return nil, nil
	}
	out := e
	return &out, nil
}

// Record implements HistoryStore.
func (s *InMemHistoryStore) Record(_ context.Context, entry HistoryEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[historyKey(entry.WorkflowID, entry.CacheKey, entry.FilePath)] = entry
	return nil
}

// InMemFileExecutionStore is a mutex-guarded FileExecutionStore. Uniqueness
// checks mirror the relational constraints so tests exercise the same lost
// race behavior as production stores.
type InMemFileExecutionStore struct {
	mu   sync.RWMutex
	rows map[string]FileExecution
}

// NewInMemFileExecutionStore constructs an empty file-execution store.
func NewInMemFileExecutionStore() *InMemFileExecutionStore {
	return &InMemFileExecutionStore{rows: make(map[string]FileExecution)}
}

// Create implements FileExecutionStore.
func (s *InMemFileExecutionStore) Create(_ context.Context, fe FileExecution) error {
	if fe.ID == "" {
		return fmt.Errorf("file execution id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.rows[fe.ID]; dup {
		return ErrDuplicateFileExecution
	}
	for _, row := range s.rows {
		if row.WorkflowExecutionID != fe.WorkflowExecutionID || row.FilePath != fe.FilePath {
			continue
		}
		if fe.FileHash != "" && row.FileHash == fe.FileHash {
			return ErrDuplicateFileExecution
		}
		if fe.ProviderFileUUID != "" && row.ProviderFileUUID == fe.ProviderFileUUID {
			return ErrDuplicateFileExecution
		}
	}
	s.rows[fe.ID] = fe
	return nil
}

// UpdateStatus implements FileExecutionStore.
func (s *InMemFileExecutionStore) UpdateStatus(_ context.Context, id string, status Status, execError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("no file execution %q", id)
	}
	row.Status = status
	row.ExecutionError = execError
	s.rows[id] = row
	return nil
}

// AnyInFlight implements FileExecutionStore.
func (s *InMemFileExecutionStore) AnyInFlight(_ context.Context, q InFlightQuery) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.rows {
		if row.WorkflowExecutionID != q.WorkflowExecutionID {
			continue
		}
		switch row.Status {
		case StatusPending, StatusExecuting, StatusQueued:
		default:
			continue
		}
		if row.FilePath != q.FilePath {
			continue
		}
		if q.FileHash != "" && row.FileHash == q.FileHash {
			return true, nil
		}
		if q.ProviderFileUUID != "" && row.ProviderFileUUID == q.ProviderFileUUID {
			return true, nil
		}
	}
	return false, nil
}

// Get returns a copy of the row with the given id. Test support.
func (s *InMemFileExecutionStore) Get(id string) (FileExecution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	return row, ok
}

// InMemStatusGate is a mutex-guarded StatusGate for development and tests.
type InMemStatusGate struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewInMemStatusGate constructs an empty gate.
func NewInMemStatusGate() *InMemStatusGate {
	return &InMemStatusGate{statuses: make(map[string]Status)}
}

// Status implements StatusGate. An unknown execution reads as EXECUTING so a
// gate that was never primed does not stop the pipeline.
func (g *InMemStatusGate) Status(_ context.Context, executionID string) (Status, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if s, ok := g.statuses[executionID]; ok {
		return s, nil
	}
	return StatusExecuting, nil
}

// SetStatus implements StatusGate.
func (g *InMemStatusGate) SetStatus(_ context.Context, executionID string, status Status) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[executionID] = status
	return nil
}

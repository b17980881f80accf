package connector

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/docstruct/docstruct/runtime/telemetry"
	"github.com/docstruct/docstruct/workflow"
)

type (
	// Entry is one listing row from a filesystem provider.
	Entry struct {
		Path string
		Name string
		Size int64
		// IsDir carries provider metadata when the provider knows; nil makes
		// the detection cascade fall through to the listing and path checks.
		IsDir *bool
		// ProviderUUID is the provider's stable file ID, when it has one.
		ProviderUUID string
		Metadata     map[string]any
	}

	// Provider lists remote directories. Implementations wrap the concrete
	// storage SDKs; the connector only sees entries.
	Provider interface {
		// ListDir returns the entries of dir plus the paths of its
		// subdirectories.
		ListDir(ctx context.Context, dir string) (entries []Entry, subdirs []string, err error)
	}

	// FilesystemConfig is the connector settings block of a workflow source.
	FilesystemConfig struct {
		FoldersToProcess      []string
		ProcessSubDirectories bool
		// FileExtensions names extension groups; empty accepts every
		// supported format.
		FileExtensions []string
		UseFileHistory bool
		// MaxFiles caps the listing. Zero applies DefaultMaxFiles.
		MaxFiles int
	}

	// Filesystem lists workflow input files by walking provider directories.
	Filesystem struct {
		provider   Provider
		cfg        FilesystemConfig
		history    workflow.HistoryStore
		executions workflow.FileExecutionStore
		logger     telemetry.Logger

		workflowID  string
		executionID string
		orgID       string
	}

	// FilesystemOption configures the connector.
	FilesystemOption func(*Filesystem)
)

// WithLogger overrides the no-op logger.
func WithLogger(l telemetry.Logger) FilesystemOption {
	return func(f *Filesystem) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFilesystem constructs a filesystem connector for one workflow
// execution. history and executions may be nil, which disables the
// corresponding guards.
func NewFilesystem(provider Provider, cfg FilesystemConfig, history workflow.HistoryStore, executions workflow.FileExecutionStore, workflowID, executionID, orgID string, opts ...FilesystemOption) (*Filesystem, error) {
	if provider == nil {
		return nil, fmt.Errorf("filesystem provider is required")
	}
	if len(cfg.FoldersToProcess) == 0 {
		return nil, fmt.Errorf("at least one folder to process is required")
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = DefaultMaxFiles
	}
	f := &Filesystem{
		provider:    provider,
		cfg:         cfg,
		history:     history,
		executions:  executions,
		logger:      telemetry.NewNoopLogger(),
		workflowID:  workflowID,
		executionID: executionID,
		orgID:       orgID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// ListFiles walks the configured folders and returns accepted files keyed by
// path, plus the count.
func (f *Filesystem) ListFiles(ctx context.Context) (map[string]*workflow.FileHash, int, error) {
	patterns := patternsFor(f.cfg.FileExtensions)
	supported := supportedPatterns()
	maxDepth := 1
	if f.cfg.ProcessSubDirectories {
		maxDepth = MaxDepth
	}

	accepted := make(map[string]*workflow.FileHash)
	seenNames := make(map[string]struct{})
	for _, folder := range f.cfg.FoldersToProcess {
		done, err := f.walk(ctx, folder, 1, maxDepth, patterns, supported, accepted, seenNames)
		if err != nil {
			return nil, 0, err
		}
		if done {
			break
		}
	}
	return accepted, len(accepted), nil
}

// walk lists one directory level and recurses while depth remains. It
// returns true once the file limit is reached.
func (f *Filesystem) walk(ctx context.Context, dir string, depth, maxDepth int, patterns, supported []string, accepted map[string]*workflow.FileHash, seenNames map[string]struct{}) (bool, error) {
	if depth > maxDepth {
		return false, nil
	}
	entries, subdirs, err := f.provider.ListDir(ctx, dir)
	if err != nil {
		return false, fmt.Errorf("list directory %q: %w", dir, err)
	}
	dirSet := make(map[string]struct{}, len(subdirs))
	for _, d := range subdirs {
		dirSet[d] = struct{}{}
	}

	for _, entry := range entries {
		if len(accepted) >= f.cfg.MaxFiles {
			return true, nil
		}
		if isDirectory(entry, dirSet) {
			continue
		}
		name := entry.Name
		if name == "" {
			name = path.Base(entry.Path)
		}
		if !matchAny(patterns, name) || !matchAny(supported, name) {
			continue
		}
		// Listing-local dedup on either identity.
		if _, dup := accepted[entry.Path]; dup {
			f.logger.Info(ctx, "skipping duplicate file path in listing",
				"file", entry.Path, "workflow_id", f.workflowID)
			continue
		}
		if _, dup := seenNames[name]; dup {
			f.logger.Info(ctx, "skipping duplicate file name in listing",
				"file", entry.Path, "name", name, "workflow_id", f.workflowID)
			continue
		}

		fh := &workflow.FileHash{
			FilePath:         entry.Path,
			FileName:         name,
			FileSize:         entry.Size,
			ProviderFileUUID: entry.ProviderUUID,
			ConnectionType:   workflow.ConnectionFilesystem,
			FSMetadata:       entry.Metadata,
		}
		skip, err := f.skipListed(ctx, fh)
		if err != nil {
			return false, err
		}
		if skip {
			continue
		}
		fh.FileNumber = len(accepted) + 1
		accepted[entry.Path] = fh
		seenNames[name] = struct{}{}
	}

	for _, sub := range subdirs {
		done, err := f.walk(ctx, sub, depth+1, maxDepth, patterns, supported, accepted, seenNames)
		if err != nil || done {
			return done, err
		}
	}
	return false, nil
}

// skipListed applies the file-history and in-flight guards.
func (f *Filesystem) skipListed(ctx context.Context, fh *workflow.FileHash) (bool, error) {
	if f.cfg.UseFileHistory && f.history != nil && fh.CacheKey() != "" {
		entry, err := f.history.Lookup(ctx, f.workflowID, fh.CacheKey(), fh.FilePath)
		if err != nil {
			return false, fmt.Errorf("file history lookup for %q: %w", fh.FilePath, err)
		}
		if entry != nil && entry.IsCompleted {
			f.logger.Info(ctx, "skipping file with completed history",
				"file", fh.FilePath, "workflow_id", f.workflowID)
			return true, nil
		}
	}
	if f.executions != nil {
		inflight, err := f.executions.AnyInFlight(ctx, workflow.InFlightQuery{
			WorkflowExecutionID: f.executionID,
			OrganizationID:      f.orgID,
			FileHash:            fh.FileHash,
			ProviderFileUUID:    fh.ProviderFileUUID,
			FilePath:            fh.FilePath,
		})
		if err != nil {
			return false, fmt.Errorf("in-flight probe for %q: %w", fh.FilePath, err)
		}
		if inflight {
			f.logger.Info(ctx, "duplicate detected in current run",
				"file", fh.FilePath, "execution_id", f.executionID)
			return true, nil
		}
	}
	return false, nil
}

// isDirectory applies the detection cascade: provider metadata, then the
// subdirectory listing, then a trailing slash, then zero size.
func isDirectory(entry Entry, dirSet map[string]struct{}) bool {
	if entry.IsDir != nil {
		return *entry.IsDir
	}
	if _, listed := dirSet[entry.Path]; listed {
		return true
	}
	if strings.HasSuffix(entry.Path, "/") {
		return true
	}
	return entry.Size == 0
}

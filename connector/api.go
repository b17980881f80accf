package connector

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/docstruct/docstruct/runtime/telemetry"
	"github.com/docstruct/docstruct/workflow"
)

// defaultAllowedMimeTypes is the ingest allow-list for API uploads.
var defaultAllowedMimeTypes = []string{
	"application/pdf",
	"text/plain",
	"text/csv",
	"application/json",
	"image/png",
	"image/jpeg",
	"image/tiff",
	"image/bmp",
	"image/gif",
	"image/webp",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

type (
	// Upload is one incoming blob on an API deployment.
	Upload struct {
		Name     string
		MimeType string
		Content  io.Reader
	}

	// APIConfig configures the API connector.
	APIConfig struct {
		// DestinationDir is where accepted uploads are persisted.
		DestinationDir string
		// AllowedMimeTypes overrides the default allow-list.
		AllowedMimeTypes []string
		UseFileHistory   bool
	}

	// API ingests uploaded files for an API deployment execution.
	API struct {
		fs      afero.Fs
		cfg     APIConfig
		history workflow.HistoryStore
		logger  telemetry.Logger

		workflowID string
	}

	// APIOption configures the connector.
	APIOption func(*API)
)

// WithAPILogger overrides the no-op logger.
func WithAPILogger(l telemetry.Logger) APIOption {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAPI constructs an API connector writing into fs.
func NewAPI(fs afero.Fs, cfg APIConfig, history workflow.HistoryStore, workflowID string, opts ...APIOption) (*API, error) {
	if fs == nil {
		return nil, fmt.Errorf("destination filesystem is required")
	}
	if cfg.DestinationDir == "" {
		return nil, fmt.Errorf("destination directory is required")
	}
	if len(cfg.AllowedMimeTypes) == 0 {
		cfg.AllowedMimeTypes = defaultAllowedMimeTypes
	}
	a := &API{
		fs:         fs,
		cfg:        cfg,
		history:    history,
		logger:     telemetry.NewNoopLogger(),
		workflowID: workflowID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// ListFiles ingests uploads and returns FileHash records keyed by the
// persisted path. Disallowed MIME types produce synthetic records marked
// executed so accounting still sees them; batch-local content duplicates are
// dropped.
func (a *API) ListFiles(ctx context.Context, uploads []Upload) (map[string]*workflow.FileHash, int, error) {
	if err := a.fs.MkdirAll(a.cfg.DestinationDir, 0o755); err != nil {
		return nil, 0, fmt.Errorf("create destination dir %q: %w", a.cfg.DestinationDir, err)
	}
	accepted := make(map[string]*workflow.FileHash)
	seenHashes := make(map[string]struct{})
	number := 0
	for _, up := range uploads {
		if !a.mimeAllowed(up.MimeType) {
			number++
			fh := &workflow.FileHash{
				FilePath:       path.Join(a.cfg.DestinationDir, up.Name),
				FileName:       up.Name,
				MimeType:       up.MimeType,
				FileHash:       "temp-hash-" + uuid.NewString(),
				ConnectionType: workflow.ConnectionAPI,
				FileNumber:     number,
				IsExecuted:     true,
			}
			accepted[fh.FilePath] = fh
			a.logger.Warn(ctx, "rejected upload with disallowed mime type",
				"file", up.Name, "mime_type", up.MimeType)
			continue
		}

		target := path.Join(a.cfg.DestinationDir, up.Name)
		fh, err := a.ingest(ctx, target, up)
		if err != nil {
			return nil, 0, err
		}
		if _, dup := seenHashes[fh.FileHash]; dup {
			a.logger.Info(ctx, "skipping duplicate upload in batch",
				"file", up.Name, "file_hash", fh.FileHash)
			continue
		}
		seenHashes[fh.FileHash] = struct{}{}

		if a.cfg.UseFileHistory && a.history != nil {
			entry, err := a.history.Lookup(ctx, a.workflowID, fh.CacheKey(), fh.FilePath)
			if err != nil {
				return nil, 0, fmt.Errorf("file history lookup for %q: %w", fh.FilePath, err)
			}
			fh.IsExecuted = entry != nil && entry.IsCompleted
		}

		number++
		fh.FileNumber = number
		accepted[fh.FilePath] = fh
	}
	return accepted, len(accepted), nil
}

// ingest streams one upload to storage, hashing as it copies.
func (a *API) ingest(_ context.Context, target string, up Upload) (*workflow.FileHash, error) {
	dst, err := a.fs.Create(target)
	if err != nil {
		return nil, fmt.Errorf("create %q: %w", target, err)
	}
	sum, size, err := hashStream(dst, up.Content)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("ingest %q: %w", up.Name, err)
	}
	return &workflow.FileHash{
		FilePath:       target,
		FileName:       up.Name,
		FileSize:       size,
		MimeType:       up.MimeType,
		FileHash:       sum,
		ConnectionType: workflow.ConnectionAPI,
	}, nil
}

func (a *API) mimeAllowed(mimeType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	for _, allowed := range a.cfg.AllowedMimeTypes {
		if mt == allowed {
			return true
		}
	}
	return false
}

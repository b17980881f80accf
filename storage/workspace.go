// Package storage manages the per-file execution data directory on the
// configured filesystem. The layout is a stable contract shared with every
// tool in a workflow chain:
//
//	<execution_dir>/<file_execution_id>/
//	  SOURCE        exact bytes of the source file
//	  INFILE        identical to SOURCE, handed to the next tool
//	  METADATA.json execution metadata, created once, merge-updated after
//	  EXTRACT       cached extracted text
//	  SUMMARIZE     cached summary when summarize-as-source is active
//	  <stem>.json   the structure-tool output artifact
//
// Filesystems are afero-backed so tests run against an in-memory fs and the
// worker binds OS or remote-mounted roots by execution source.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"

	"github.com/docstruct/docstruct/runtime/execution"
)

// Canonical file names inside an execution data directory.
const (
	SourceFile    = "SOURCE"
	InfileFile    = "INFILE"
	MetadataFile  = "METADATA.json"
	ExtractFile   = "EXTRACT"
	SummarizeFile = "SUMMARIZE"
)

// Environment variables naming the workspace roots per execution source.
const (
	EnvRemoteRoot = "WORKSPACE_REMOTE_ROOT"
	EnvTmpRoot    = "WORKSPACE_TMP_ROOT"
	EnvLocalRoot  = "WORKSPACE_LOCAL_ROOT"
)

type (
	// Workspace is one execution data directory.
	Workspace struct {
		fs  afero.Fs
		dir string
	}

	// Roots selects the filesystem for each execution source. IDE executions
	// use the persistent remote root, tool executions the shared temporary
	// root, API executions the local root.
	Roots struct {
		Remote afero.Fs
		Tmp    afero.Fs
		Local  afero.Fs
	}
)

// RootsFromEnv builds Roots from the WORKSPACE_* environment variables, each
// as a base-path wrapper over the OS filesystem. A missing variable yields an
// error naming it.
func RootsFromEnv() (Roots, error) {
	base := afero.NewOsFs()
	var roots Roots
	for _, bind := range []struct {
		env string
		fs  *afero.Fs
	}{
		{EnvRemoteRoot, &roots.Remote},
		{EnvTmpRoot, &roots.Tmp},
		{EnvLocalRoot, &roots.Local},
	} {
		dir := os.Getenv(bind.env)
		if dir == "" {
			return Roots{}, fmt.Errorf("required environment variable %s is unset or empty", bind.env)
		}
		*bind.fs = afero.NewBasePathFs(base, dir)
	}
	return roots, nil
}

// Select returns the filesystem for source.
func (r Roots) Select(source execution.Source) (afero.Fs, error) {
	switch source {
	case execution.SourceIDE:
		if r.Remote == nil {
			return nil, errors.New("remote workspace root is not configured")
		}
		return r.Remote, nil
	case execution.SourceTool:
		if r.Tmp == nil {
			return nil, errors.New("temporary workspace root is not configured")
		}
		return r.Tmp, nil
	case execution.SourceAPI:
		if r.Local == nil {
			return nil, errors.New("local workspace root is not configured")
		}
		return r.Local, nil
	}
	return nil, fmt.Errorf("unknown execution source %q", source)
}

// NewWorkspace binds the execution data directory dir on fs, creating it if
// needed.
func NewWorkspace(fs afero.Fs, dir string) (*Workspace, error) {
	if fs == nil {
		return nil, errors.New("filesystem is required")
	}
	if dir == "" {
		return nil, errors.New("execution data directory is required")
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create execution data dir %q: %w", dir, err)
	}
	return &Workspace{fs: fs, dir: dir}, nil
}

// Dir returns the workspace directory path.
func (w *Workspace) Dir() string { return w.dir }

// Fs returns the backing filesystem.
func (w *Workspace) Fs() afero.Fs { return w.fs }

// Path returns the absolute path of a workspace file.
func (w *Workspace) Path(name string) string { return path.Join(w.dir, name) }

// Exists reports whether the named workspace file exists.
func (w *Workspace) Exists(name string) (bool, error) {
	return afero.Exists(w.fs, w.Path(name))
}

// Read returns the content of the named workspace file.
func (w *Workspace) Read(name string) ([]byte, error) {
	b, err := afero.ReadFile(w.fs, w.Path(name))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return b, nil
}

// Write writes the named workspace file, replacing any previous content.
func (w *Workspace) Write(name string, data []byte) error {
	if err := afero.WriteFile(w.fs, w.Path(name), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// WriteMetadataIfAbsent creates METADATA.json with meta only when the file
// does not already exist. An existing file may hold tool-produced metadata
// that predates this worker's pass and must win.
func (w *Workspace) WriteMetadataIfAbsent(meta map[string]any) error {
	exists, err := w.Exists(MetadataFile)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", MetadataFile, err)
	}
	return w.Write(MetadataFile, b)
}

// ReadMetadata decodes METADATA.json. A missing file yields an empty map.
func (w *Workspace) ReadMetadata() (map[string]any, error) {
	exists, err := w.Exists(MetadataFile)
	if err != nil {
		return nil, err
	}
	if !exists {
		return map[string]any{}, nil
	}
	b, err := w.Read(MetadataFile)
	if err != nil {
		return nil, err
	}
	meta := map[string]any{}
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("decode %s: %w", MetadataFile, err)
	}
	return meta, nil
}

// MergeMetadata overlays updates onto METADATA.json without dropping existing
// keys. Used for late additions such as whisper_hash and
// total_elapsed_time.
func (w *Workspace) MergeMetadata(updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	meta, err := w.ReadMetadata()
	if err != nil {
		return err
	}
	for k, v := range updates {
		meta[k] = v
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", MetadataFile, err)
	}
	return w.Write(MetadataFile, b)
}

// ArtifactName returns the output artifact name for a source file:
// its stem plus ".json".
func ArtifactName(sourceFileName string) string {
	stem := strings.TrimSuffix(sourceFileName, path.Ext(sourceFileName))
	if stem == "" {
		stem = sourceFileName
	}
	return stem + ".json"
}

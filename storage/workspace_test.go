package storage

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstruct/docstruct/runtime/execution"
)

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	w, err := NewWorkspace(afero.NewMemMapFs(), "/data/exec/fe-1")
	require.NoError(t, err)
	return w
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	w := newWorkspace(t)
	require.NoError(t, w.Write(ExtractFile, []byte("extracted text")))

	exists, err := w.Exists(ExtractFile)
	require.NoError(t, err)
	assert.True(t, exists)

	b, err := w.Read(ExtractFile)
	require.NoError(t, err)
	assert.Equal(t, "extracted text", string(b))
	assert.Equal(t, "/data/exec/fe-1/EXTRACT", w.Path(ExtractFile))
}

func TestMetadataCreatedOnlyIfAbsent(t *testing.T) {
	t.Parallel()

	w := newWorkspace(t)
	require.NoError(t, w.WriteMetadataIfAbsent(map[string]any{"source_name": "invoice.pdf"}))
	// A second pass must not clobber the first tool's metadata.
	require.NoError(t, w.WriteMetadataIfAbsent(map[string]any{"source_name": "other.pdf"}))

	meta, err := w.ReadMetadata()
	require.NoError(t, err)
	assert.Equal(t, "invoice.pdf", meta["source_name"])
}

func TestMergeMetadataKeepsExistingKeys(t *testing.T) {
	t.Parallel()

	w := newWorkspace(t)
	require.NoError(t, w.WriteMetadataIfAbsent(map[string]any{"source_name": "invoice.pdf"}))
	require.NoError(t, w.MergeMetadata(map[string]any{"whisper_hash": "wh-1"}))
	require.NoError(t, w.MergeMetadata(map[string]any{"total_elapsed_time": 1.5}))

	meta, err := w.ReadMetadata()
	require.NoError(t, err)
	assert.Equal(t, "invoice.pdf", meta["source_name"])
	assert.Equal(t, "wh-1", meta["whisper_hash"])
	assert.Equal(t, 1.5, meta["total_elapsed_time"])
}

func TestReadMetadataMissingFileYieldsEmptyMap(t *testing.T) {
	t.Parallel()

	meta, err := newWorkspace(t).ReadMetadata()
	require.NoError(t, err)
	assert.Empty(t, meta)
}

func TestRootsSelectBySource(t *testing.T) {
	t.Parallel()

	remote, tmp, local := afero.NewMemMapFs(), afero.NewMemMapFs(), afero.NewMemMapFs()
	roots := Roots{Remote: remote, Tmp: tmp, Local: local}

	fs, err := roots.Select(execution.SourceIDE)
	require.NoError(t, err)
	assert.Same(t, remote, fs)

	fs, err = roots.Select(execution.SourceTool)
	require.NoError(t, err)
	assert.Same(t, tmp, fs)

	fs, err = roots.Select(execution.SourceAPI)
	require.NoError(t, err)
	assert.Same(t, local, fs)

	_, err = roots.Select(execution.Source("cron"))
	require.Error(t, err)

	_, err = Roots{}.Select(execution.SourceIDE)
	require.Error(t, err)
}

func TestRootsFromEnvRequiresAllRoots(t *testing.T) {
	t.Setenv(EnvRemoteRoot, "/mnt/remote")
	t.Setenv(EnvTmpRoot, "/tmp/shared")
	t.Setenv(EnvLocalRoot, "")

	_, err := RootsFromEnv()
	require.ErrorContains(t, err, EnvLocalRoot)

	t.Setenv(EnvLocalRoot, "/var/local")
	roots, err := RootsFromEnv()
	require.NoError(t, err)
	assert.NotNil(t, roots.Remote)
	assert.NotNil(t, roots.Tmp)
	assert.NotNil(t, roots.Local)
}

func TestArtifactName(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"invoice.pdf", "invoice.json"},
		{"report.tar.gz", "report.tar.json"},
		{"noext", "noext.json"},
		{".hidden", ".hidden.json"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ArtifactName(tc.in), tc.in)
	}
}

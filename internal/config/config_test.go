package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "edldb.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDecodesManifest(t *testing.T) {
	path := writeManifest(t, `
source_roots = ["schema", "data"]
script_root = "scripts"
datalog_enabled = true
`)

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"schema", "data"}, m.SourceRoots)
	assert.Equal(t, "scripts", m.ScriptRoot)
	assert.True(t, m.DatalogEnabled)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

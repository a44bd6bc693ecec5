package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentcore/runtime/capability"
)

func TestLoadRestrictions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "restrictions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
always_approve:
  - deploy_production
never_execute:
  - shell_privileged
max_operations_per_task: 50
max_files_per_batch: 10
allowed_paths:
  - src/
  - docs
blocked_paths:
  - secrets
`), 0o600))

	r, err := LoadRestrictions(path)
	require.NoError(t, err)
	assert.Equal(t, []capability.ID{"deploy_production"}, r.AlwaysApprove)
	assert.Equal(t, []capability.ID{"shell_privileged"}, r.NeverExecute)
	assert.Equal(t, 50, r.MaxOperationsPerTask)
	assert.Equal(t, 10, r.MaxFilesPerBatch)
	assert.Equal(t, []string{"src/", "docs"}, r.AllowedPaths)
	assert.Equal(t, []string{"secrets"}, r.BlockedPaths)
}

func TestLoadRestrictionsMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadRestrictions(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadRestrictionsMalformed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("never_execute: {not: [a, list"), 0o600))

	_, err := LoadRestrictions(path)
	require.Error(t, err)
}

func TestNormalizePrefixes(t *testing.T) {
	t.Parallel()

	got := normalizePrefixes([]string{" src/ ", "", "docs", "a/b/"})
	assert.Equal(t, []string{"src", "docs", "a/b"}, got)
}

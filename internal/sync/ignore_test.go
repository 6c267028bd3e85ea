package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoreMatcher_DefaultAndCustomRules(t *testing.T) {
	baseDir := t.TempDir()
	m := NewIgnoreMatcher(baseDir)
	m.Load(".syncignore")

	assert.True(t, m.Matches("logs/debug.log"), "default *.log should ignore")
	assert.False(t, m.Matches("src/main.go"), "unmatched paths not ignored")

	custom := []byte("# comment\nbuild/**\n*.secret\n")
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, ".syncignore"), custom, 0o644))
	m.Load(".syncignore")

	assert.True(t, m.Matches("build/output/a.bin"), "custom build/** should ignore")
	assert.True(t, m.Matches("keys/a.secret"), "custom *.secret should ignore")
	assert.False(t, m.Matches("src/main.go"), "still unmatched after reload")
}

func TestIgnoreMatcher_MissingIgnoreFile_UsesDefaultsOnly(t *testing.T) {
	m := NewIgnoreMatcher(t.TempDir())
	m.Load(".syncignore")
	assert.True(t, m.Matches(".DS_Store"))
	assert.False(t, m.Matches("README.md"))
}

func TestIgnoreMatcher_RemotePruneArgs_OnlyPlainNames(t *testing.T) {
	baseDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, ".syncignore"), []byte("node_modules/\nbuild/**\n**/*.tmp\n!keepme\n"), 0o644))

	m := NewIgnoreMatcher(baseDir)
	m.Load(".syncignore")
	args := m.RemotePruneArgs()

	assert.Contains(t, args, "node_modules")
	assert.Contains(t, args, "__pycache__")
	assert.NotContains(t, args, "build/**")
	assert.NotContains(t, args, "**/*.tmp")
	assert.NotContains(t, args, "!keepme")
}

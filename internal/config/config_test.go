package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("local", "", "")
	cmd.Flags().String("remote", "", "")
	cmd.Flags().String("server", "", "")
	cmd.Flags().Int("port", 22, "")
	cmd.Flags().String("username", "", "")
	cmd.Flags().String("ignore-file", ".syncignore", "")
	cmd.Flags().Float64("change-threshold", 180, "")
	cmd.Flags().Int("poll-interval", 5, "")
	cmd.Flags().Int("poll-timeout", 120, "")
	cmd.Flags().String("remote-tmp-dir", "/tmp", "")
	cmd.Flags().Bool("force", false, "")
	cmd.Flags().Bool("push-only", false, "")
	cmd.Flags().Bool("pull-only", false, "")
	cmd.Flags().Bool("dry-run", false, "")
	cmd.Flags().Bool("verbose", false, "")
	cmd.Flags().String("config", "", "")
	return cmd
}

func TestResolve_FlagsOnly(t *testing.T) {
	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("local", "/home/alice/project"))
	require.NoError(t, cmd.Flags().Set("remote", "/srv/project"))
	require.NoError(t, cmd.Flags().Set("server", "host.example.com"))
	require.NoError(t, cmd.Flags().Set("username", "alice"))
	// point at an empty tempdir so no ambient ~/.driftsync/config.json leaks in
	cmd.Flags().Set("config", filepath.Join(t.TempDir(), "missing.json"))

	cfg, err := Resolve(cmd)
	require.NoError(t, err)
	assert.Equal(t, "/home/alice/project", cfg.LocalRoot)
	assert.Equal(t, "/srv/project", cfg.RemoteRoot)
	assert.Equal(t, "host.example.com", cfg.Server)
	assert.Equal(t, "alice", cfg.Username)
	assert.Equal(t, 22, cfg.Port)
	assert.Equal(t, 180.0, cfg.ChangeThreshold)
	assert.Equal(t, "/tmp", cfg.RemoteTmpDir)
}

func TestResolve_ConfigFileFillsUnsetFlags(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.json")
	data, err := json.Marshal(map[string]any{
		"local_root":  "/home/bob/project",
		"remote_root": "/srv/bob",
		"server":      "bob-host",
		"username":    "bob",
		"port":        2222,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfgPath, data, 0o644))

	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("config", cfgPath))

	cfg, err := Resolve(cmd)
	require.NoError(t, err)
	assert.Equal(t, "/home/bob/project", cfg.LocalRoot)
	assert.Equal(t, "bob-host", cfg.Server)
	assert.Equal(t, 2222, cfg.Port)
}

func TestResolve_FlagOverridesConfigFile(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.json")
	data, err := json.Marshal(map[string]any{
		"local_root":  "/from/file",
		"remote_root": "/remote/file",
		"server":      "file-host",
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfgPath, data, 0o644))

	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("config", cfgPath))
	require.NoError(t, cmd.Flags().Set("server", "flag-host"))

	cfg, err := Resolve(cmd)
	require.NoError(t, err)
	assert.Equal(t, "flag-host", cfg.Server, "an explicit flag must win over the config file value")
}

func TestResolve_PushPullMutualExclusionFailsValidate(t *testing.T) {
	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("local", "/l"))
	require.NoError(t, cmd.Flags().Set("remote", "/r"))
	require.NoError(t, cmd.Flags().Set("server", "h"))
	require.NoError(t, cmd.Flags().Set("push-only", "true"))
	require.NoError(t, cmd.Flags().Set("pull-only", "true"))
	cmd.Flags().Set("config", filepath.Join(t.TempDir(), "missing.json"))

	_, err := Resolve(cmd)
	assert.Error(t, err)
}

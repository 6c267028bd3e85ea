package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	syncpkg "github.com/driftsync/driftsync/internal/sync"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigDir  = filepath.Join(home, ".driftsync")
	DefaultConfigPath = filepath.Join(DefaultConfigDir, "config.json")
	DefaultLogFilePath = filepath.Join(DefaultConfigDir, "logs", "driftsync.log")
	DefaultLedgerPath = filepath.Join(DefaultConfigDir, "history.db")
	configFileName    = "config"
)

// Resolve builds a *sync.SyncConfig from, in increasing precedence: built-in
// defaults, a config.json file (at --config or one of the default search
// paths), DRIFTSYNC_* environment variables, then explicit CLI flags. This
// mirrors the flag > env > file > defaults chain the Cobra/Viper pair
// resolves for the rest of this CLI.
func Resolve(cmd *cobra.Command) (*syncpkg.SyncConfig, error) {
	v := viper.New()

	v.SetDefault("port", 22)
	v.SetDefault("change_threshold_seconds", 180.0)
	v.SetDefault("poll_interval_seconds", 5)
	v.SetDefault("poll_timeout_seconds", 120)
	v.SetDefault("ignore_file", ".syncignore")
	v.SetDefault("remote_tmp_dir", "/tmp")

	if configFlag := cmd.Flags().Lookup("config"); configFlag != nil && configFlag.Changed {
		v.SetConfigFile(configFlag.Value.String())
	} else {
		v.AddConfigPath(DefaultConfigDir)
		v.SetConfigName(configFileName)
		v.SetConfigType("json")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %q: %w", v.ConfigFileUsed(), err)
		}
	}

	bindings := map[string]string{
		"local_root":  "local",
		"remote_root": "remote",
		"server":      "server",
		"port":        "port",
		"username":    "username",
		"ignore_file": "ignore-file",
		"change_threshold_seconds": "change-threshold",
		"poll_interval_seconds":    "poll-interval",
		"poll_timeout_seconds":     "poll-timeout",
		"remote_tmp_dir": "remote-tmp-dir",
		"force":     "force",
		"push_only": "push-only",
		"pull_only": "pull-only",
		"dry_run":   "dry-run",
		"verbose":   "verbose",
	}
	for key, flag := range bindings {
		if f := cmd.Flags().Lookup(flag); f != nil {
			v.BindPFlag(key, f)
		}
	}

	v.SetEnvPrefix("DRIFTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &syncpkg.SyncConfig{
		LocalRoot:       v.GetString("local_root"),
		RemoteRoot:      v.GetString("remote_root"),
		Server:          v.GetString("server"),
		Port:            v.GetInt("port"),
		Username:        v.GetString("username"),
		IgnoreFile:      v.GetString("ignore_file"),
		ChangeThreshold: v.GetFloat64("change_threshold_seconds"),
		PollInterval:    secondsToDuration(v.GetInt("poll_interval_seconds")),
		PollTimeout:     secondsToDuration(v.GetInt("poll_timeout_seconds")),
		RemoteTmpDir:    v.GetString("remote_tmp_dir"),
		Force:           v.GetBool("force"),
		PushOnly:        v.GetBool("push_only"),
		PullOnly:        v.GetBool("pull_only"),
		DryRun:          v.GetBool("dry_run"),
		Verbose:         v.GetBool("verbose"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/config"
	"github.com/driftsync/driftsync/internal/history"
	"github.com/driftsync/driftsync/internal/progressui"
	"github.com/driftsync/driftsync/internal/sync"
	"github.com/driftsync/driftsync/internal/transport"
	"github.com/driftsync/driftsync/internal/workspace"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync session between a local directory and a remote directory",
		RunE:  runSync,
	}

	flags := cmd.Flags()
	flags.String("local", "", "local root directory (required)")
	flags.String("remote", "", "remote root directory (required)")
	flags.String("server", "", "remote host (required)")
	flags.Int("port", 22, "SSH port")
	flags.String("username", "", "SSH username")
	flags.String("private-key", "", "path to an SSH private key")
	flags.String("known-hosts", "", "path to a known_hosts file (default ~/.ssh/known_hosts)")
	flags.Bool("insecure-ignore-host-key", false, "skip host key verification (dangerous, opt-in only)")
	flags.String("ignore-file", ".syncignore", "ignore file name, relative to local root")
	flags.Float64("change-threshold", 180, "seconds of mtime drift tolerated before a file is considered changed")
	flags.Int("poll-interval", 5, "seconds between remote scan poll attempts")
	flags.Int("poll-timeout", 120, "seconds to wait for a remote scan to finish")
	flags.String("remote-tmp-dir", "/tmp", "scratch directory on the remote for scan/bundle temp files")
	flags.Bool("force", false, "ignore the resume progress file and any corrupt state file")
	flags.Bool("push-only", false, "never pull or delete locally")
	flags.Bool("pull-only", false, "never push or delete remotely")
	flags.Bool("dry-run", false, "decide and report actions without executing them")
	flags.Bool("verbose", false, "verbose logging")

	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.Resolve(cmd)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true
	if isatty.IsTerminal(uintFd()) {
		showBanner()
	}

	ws, err := workspace.NewWorkspace(cfg.LocalRoot)
	if err != nil {
		return err
	}
	if err := ws.Setup(); err != nil {
		return err
	}
	defer ws.Unlock()

	privateKey, _ := cmd.Flags().GetString("private-key")
	knownHosts, _ := cmd.Flags().GetString("known-hosts")
	insecureHostKey, _ := cmd.Flags().GetBool("insecure-ignore-host-key")

	session, err := transport.Dial(transport.Config{
		Host:                  cfg.Server,
		Port:                  cfg.Port,
		User:                  cfg.Username,
		PrivateKeyPath:        privateKey,
		KnownHostsPath:        knownHosts,
		InsecureIgnoreHostKey: insecureHostKey,
	})
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Server, err)
	}
	defer session.Close()

	var reporter sync.Reporter
	var tui *progressui.Reporter
	if isatty.IsTerminal(uintFd()) && !cfg.Verbose {
		tui = progressui.New()
		reporter = tui
	} else {
		reporter = sync.SlogReporter{}
	}

	orch, err := sync.NewOrchestrator(cfg, session, reporter)
	if err != nil {
		return err
	}

	ledger := history.NewLedger(config.DefaultLedgerPath)
	if err := ledger.Open(); err != nil {
		slog.Warn("failed to open session history ledger, continuing without it", "error", err)
		ledger = nil
	} else {
		defer ledger.Close()
	}

	sessionID := ""
	startedAt := time.Now()
	if ledger != nil {
		sessionID = fmt.Sprintf("%d", startedAt.UnixNano())
		if err := ledger.Begin(sessionID, cfg.LocalRoot, cfg.RemoteRoot, cfg.Server, startedAt); err != nil {
			slog.Warn("failed to record session start", "error", err)
		}
	}

	summary, runErr := orch.Run(cmd.Context())

	if tui != nil {
		tui.Wait()
	}

	if ledger != nil && sessionID != "" {
		outcome := history.OutcomeDone
		if summary.Aborted {
			outcome = history.OutcomeAborted
		}
		if err := ledger.Finish(sessionID, time.Now(), outcome, summary.Pushed, summary.Pulled, summary.DeletedLocal, summary.DeletedRemote, summary.Conflicts, summary.Skipped, summary.Failed, summary.Err); err != nil {
			slog.Warn("failed to record session finish", "error", err)
		}
	}

	return runErr
}

func uintFd() uintptr {
	return 1 // os.Stdout.Fd(), kept as a function so it's easy to stub in tests
}

package sync

import "log/slog"

// Reporter receives structured events as a session progresses. Implementations
// live outside the core (plain slog logging, a terminal UI); the core never
// formats user-facing text itself.
type Reporter interface {
	ScanStarted(side string)
	ScanDone(side string, count int)
	ActionDecided(a Action)
	BatchStarted(kind ActionKind, count int)
	BatchDone(kind ActionKind, succeeded, failed int)
	Conflict(path string, info ConflictArtifact)
	Warn(msg string, args ...any)
	Error(msg string, err error)
	SessionDone(summary SessionSummary)
}

// SessionSummary is emitted once at the end of a session, successful or not.
type SessionSummary struct {
	SessionID string
	Pushed    int
	Pulled    int
	DeletedLocal  int
	DeletedRemote int
	Conflicts int
	Skipped   int
	Failed    int
	Aborted   bool
	Err       error
}

// NopReporter discards every event. Useful as a default in tests.
type NopReporter struct{}

func (NopReporter) ScanStarted(string)                                 {}
func (NopReporter) ScanDone(string, int)                               {}
func (NopReporter) ActionDecided(Action)                               {}
func (NopReporter) BatchStarted(ActionKind, int)                       {}
func (NopReporter) BatchDone(ActionKind, int, int)                     {}
func (NopReporter) Conflict(string, ConflictArtifact)                  {}
func (NopReporter) Warn(string, ...any)                                {}
func (NopReporter) Error(string, error)                                {}
func (NopReporter) SessionDone(SessionSummary)                         {}

// SlogReporter is the default non-interactive Reporter: every event becomes
// one structured log line. Used for unattended/cron invocations where there
// is no terminal to draw a progress UI into.
type SlogReporter struct{}

func (SlogReporter) ScanStarted(side string) {
	slog.Info("scan started", "side", side)
}
func (SlogReporter) ScanDone(side string, count int) {
	slog.Info("scan done", "side", side, "count", count)
}
func (SlogReporter) ActionDecided(a Action) {
	slog.Debug("action decided", "path", a.Path, "action", a.Kind.String())
}
func (SlogReporter) BatchStarted(kind ActionKind, count int) {
	slog.Info("batch started", "action", kind.String(), "count", count)
}
func (SlogReporter) BatchDone(kind ActionKind, succeeded, failed int) {
	slog.Info("batch done", "action", kind.String(), "succeeded", succeeded, "failed", failed)
}
func (SlogReporter) Conflict(path string, info ConflictArtifact) {
	slog.Warn("conflict", "path", path, "remote_copy", info.RemoteCopy, "info_file", info.InfoFile)
}
func (SlogReporter) Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}
func (SlogReporter) Error(msg string, err error) {
	slog.Error(msg, "error", err)
}
func (SlogReporter) SessionDone(summary SessionSummary) {
	slog.Info("session done",
		"session", summary.SessionID,
		"pushed", summary.Pushed,
		"pulled", summary.Pulled,
		"deletedLocal", summary.DeletedLocal,
		"deletedRemote", summary.DeletedRemote,
		"conflicts", summary.Conflicts,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"aborted", summary.Aborted,
	)
	if summary.Err != nil {
		slog.Error("session error", "session", summary.SessionID, "error", summary.Err)
	}
}

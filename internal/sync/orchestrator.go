package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SessionState is the orchestrator's state machine, flushed to the
// Reporter at every transition so a crash mid-session is diagnosable from
// the logs alone.
type SessionState int

const (
	StateInit SessionState = iota
	StateScanning
	StateDeciding
	StateExecutingConflicts
	StateExecutingPushPull
	StateExecutingDeletes
	StateFinalizing
	StateDone
	StateAborted
)

func (s SessionState) String() string {
	switch s {
	case StateScanning:
		return "Scanning"
	case StateDeciding:
		return "Deciding"
	case StateExecutingConflicts:
		return "Executing(Conflicts)"
	case StateExecutingPushPull:
		return "Executing(PushPull)"
	case StateExecutingDeletes:
		return "Executing(Deletes)"
	case StateFinalizing:
		return "Finalizing"
	case StateDone:
		return "Done"
	case StateAborted:
		return "Aborted"
	default:
		return "Init"
	}
}

// Orchestrator drives one session end to end: acquire, scan both sides
// concurrently, decide, execute in the fixed phase order, finalize.
type Orchestrator struct {
	cfg      *SyncConfig
	session  RemoteSession
	reporter Reporter

	state *StateStore
	prog  *ProgressStore
	ignore *IgnoreMatcher

	local     *LocalScanner
	remote    *RemoteScanner
	exec      *Executor
	remoteTmp string
}

func NewOrchestrator(cfg *SyncConfig, session RemoteSession, reporter Reporter) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reporter == nil {
		reporter = NopReporter{}
	}

	session = NewRetryingSession(session)

	ignore := NewIgnoreMatcher(cfg.LocalRoot)
	ignore.Load(cfg.IgnoreFile)

	local := NewLocalScanner(cfg.LocalRoot, ignore)

	remoteTmp := cfg.RemoteTmpDir
	if remoteTmp == "" {
		remoteTmp = "/tmp"
	}

	return &Orchestrator{
		cfg:       cfg,
		session:   session,
		reporter:  reporter,
		state:     NewStateStore(cfg.LocalRoot),
		prog:      NewProgressStore(cfg.LocalRoot),
		ignore:    ignore,
		local:     local,
		remote:    NewRemoteScanner(session, cfg.RemoteRoot, remoteTmp),
		exec:      NewExecutor(session, reporter, cfg.LocalRoot, cfg.RemoteRoot, remoteTmp),
		remoteTmp: remoteTmp,
	}, nil
}

// Run executes one sync session and returns its summary. A returned error
// always corresponds to SessionState ending at StateAborted; success always
// ends at StateDone.
func (o *Orchestrator) Run(ctx context.Context) (SessionSummary, error) {
	sessionID := uuid.New().String()
	summary := SessionSummary{SessionID: sessionID}

	state := StateInit
	transition := func(next SessionState) {
		state = next
		slog.Debug("session transition", "session", sessionID, "state", state.String())
	}

	o.sweepOrphanedRemoteTemps()

	if o.cfg.Force {
		if err := o.prog.Reset(); err != nil {
			return o.abort(sessionID, err, &summary, transition)
		}
	}

	stateEntries, err := o.state.Load()
	if err != nil {
		var corrupt *StateCorruption
		if errors.As(err, &corrupt) && o.cfg.Force {
			o.reporter.Warn("state file corrupt, proceeding with empty state (--force)")
			stateEntries = map[string]*StateEntry{}
		} else {
			return o.abort(sessionID, err, &summary, transition)
		}
	}

	if err := o.prog.Begin(sessionID, time.Now()); err != nil {
		return o.abort(sessionID, err, &summary, transition)
	}

	transition(StateScanning)
	o.reporter.ScanStarted("local+remote")

	localFPs, remoteFPs, err := o.scanBothSides(ctx, sessionID)
	if err != nil {
		return o.abort(sessionID, err, &summary, transition)
	}
	o.reporter.ScanDone("local", len(localFPs))
	o.reporter.ScanDone("remote", len(remoteFPs))

	transition(StateDeciding)
	actions, newEntries := o.decideAll(localFPs, remoteFPs, stateEntries)
	for _, a := range actions {
		o.reporter.ActionDecided(a)
	}

	completed := o.prog.CompletedPaths()
	byKind := groupByKind(actions)

	if o.cfg.DryRun {
		return o.finishDryRun(actions, &summary, transition)
	}

	transition(StateExecutingConflicts)
	conflictResult := o.exec.ExecuteConflicts(byKind[ActionConflict])
	o.recordBatch(sessionID, conflictResult, ActionConflict)
	summary.Conflicts = len(conflictResult.Succeeded)
	summary.Failed += len(conflictResult.Failed)

	transition(StateExecutingPushPull)
	pushResult := o.exec.ExecutePush(byKind[ActionPush], completed)
	o.recordBatch(sessionID, pushResult, ActionPush)
	applyStateUpdates(stateEntries, newEntries, pushResult.Succeeded)
	summary.Pushed = len(pushResult.Succeeded)
	summary.Failed += len(pushResult.Failed)

	pullResult := o.exec.ExecutePull(byKind[ActionPull], completed)
	o.recordBatch(sessionID, pullResult, ActionPull)
	applyStateUpdates(stateEntries, newEntries, pullResult.Succeeded)
	summary.Pulled = len(pullResult.Succeeded)
	summary.Failed += len(pullResult.Failed)

	transition(StateExecutingDeletes)
	deleteRemoteResult := o.exec.ExecuteDeleteRemote(byKind[ActionDeleteRemote], completed)
	o.recordBatch(sessionID, deleteRemoteResult, ActionDeleteRemote)
	dropStateEntries(stateEntries, deleteRemoteResult.Succeeded)
	summary.DeletedRemote = len(deleteRemoteResult.Succeeded)
	summary.Failed += len(deleteRemoteResult.Failed)

	deleteLocalResult := o.exec.ExecuteDeleteLocal(byKind[ActionDeleteLocal], completed)
	o.recordBatch(sessionID, deleteLocalResult, ActionDeleteLocal)
	dropStateEntries(stateEntries, deleteLocalResult.Succeeded)
	summary.DeletedLocal = len(deleteLocalResult.Succeeded)
	summary.Failed += len(deleteLocalResult.Failed)

	// First-sight adoptions and plain SKIPs that carry a fresh StateEntry
	// (both sides already agreed, no transfer needed) still need recording.
	// A SKIP with neither side present but a stale StateEntry means both
	// copies were already gone by the time this session scanned — drop the
	// leftover entry instead of keeping it forever.
	for _, a := range byKind[ActionSkip] {
		switch {
		case AdoptsBothAsSynced(a):
			Upsert(stateEntries, a.Local)
		case a.State != nil && a.Local == nil && a.Remote == nil:
			Remove(stateEntries, a.Path)
		}
		summary.Skipped++
	}

	transition(StateFinalizing)
	if summary.Failed == 0 {
		if err := o.state.Save(stateEntries); err != nil {
			return o.abort(sessionID, err, &summary, transition)
		}
		if err := o.prog.Clear(); err != nil {
			o.reporter.Warn("failed to clear progress file: " + err.Error())
		}
		o.sweepOrphanedRemoteTemps()
	} else {
		// Partial failure: persist whatever state did succeed so a rerun
		// doesn't re-transfer already-completed paths, but leave the
		// progress file in place as the resume hint.
		if err := o.state.Save(stateEntries); err != nil {
			o.reporter.Warn("failed to persist partial state: " + err.Error())
		}
	}

	transition(StateDone)
	o.reporter.SessionDone(summary)
	return summary, nil
}

// finishDryRun ends a --dry-run session right after deciding: every action
// is counted into the summary exactly as it would be on a real run, but
// nothing is transferred, deleted, or persisted. The progress file Begin
// wrote at the top of Run is cleared since no real session took place.
func (o *Orchestrator) finishDryRun(actions []Action, summary *SessionSummary, transition func(SessionState)) (SessionSummary, error) {
	for _, a := range actions {
		switch a.Kind {
		case ActionPush:
			summary.Pushed++
		case ActionPull:
			summary.Pulled++
		case ActionDeleteRemote:
			summary.DeletedRemote++
		case ActionDeleteLocal:
			summary.DeletedLocal++
		case ActionConflict:
			summary.Conflicts++
		case ActionSkip:
			summary.Skipped++
		}
	}

	if err := o.prog.Clear(); err != nil {
		o.reporter.Warn("failed to clear progress file after dry run: " + err.Error())
	}

	transition(StateDone)
	o.reporter.SessionDone(*summary)
	return *summary, nil
}

func (o *Orchestrator) abort(sessionID string, err error, summary *SessionSummary, transition func(SessionState)) (SessionSummary, error) {
	transition(StateAborted)
	summary.Aborted = true
	summary.Err = err
	o.reporter.Error("session aborted", err)
	o.reporter.SessionDone(*summary)
	return *summary, err
}

// scanBothSides runs the local walk and the remote scan poll concurrently;
// neither may start deciding until both finish.
func (o *Orchestrator) scanBothSides(ctx context.Context, sessionID string) (map[string]*PathFingerprint, map[string]*PathFingerprint, error) {
	var localFPs, remoteFPs map[string]*PathFingerprint

	remotePath, err := o.remote.Launch(sessionID, o.ignore.RemotePruneArgs())
	if err != nil {
		return nil, nil, err
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		fps, err := o.local.Scan()
		if err != nil {
			return err
		}
		localFPs = fps
		return nil
	})
	g.Go(func() error {
		fps, err := o.remote.Poll(remotePath, o.cfg.PollInterval, o.cfg.PollTimeout)
		if err != nil {
			return err
		}
		remoteFPs = fps
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	o.remote.Cleanup(remotePath)

	// Drop anything the ignore matcher excludes on the remote side too —
	// the prune args are best-effort, this is the authoritative filter.
	for path := range remoteFPs {
		if o.ignore.Matches(path) {
			delete(remoteFPs, path)
		}
	}

	return localFPs, remoteFPs, nil
}

func (o *Orchestrator) decideAll(local, remote map[string]*PathFingerprint, state map[string]*StateEntry) ([]Action, map[string]*StateEntry) {
	union := mapset.NewThreadUnsafeSet[string]()
	for p := range local {
		union.Add(p)
	}
	for p := range remote {
		union.Add(p)
	}
	for p := range state {
		union.Add(p)
	}

	actions := make([]Action, 0, union.Cardinality())
	for _, path := range union.ToSlice() {
		a := Decide(path, local[path], remote[path], state[path], o.cfg.ChangeThreshold, o.cfg.PushOnly, o.cfg.PullOnly)
		actions = append(actions, a)
	}
	return actions, state
}

func groupByKind(actions []Action) map[ActionKind][]Action {
	out := map[ActionKind][]Action{}
	for _, a := range actions {
		out[a.Kind] = append(out[a.Kind], a)
	}
	return out
}

func applyStateUpdates(state map[string]*StateEntry, _ map[string]*StateEntry, succeeded []Action) {
	for _, a := range succeeded {
		var fp *PathFingerprint
		switch a.Kind {
		case ActionPush:
			fp = a.Local
		case ActionPull:
			fp = a.Remote
		}
		if fp != nil {
			Upsert(state, fp)
		}
	}
}

func dropStateEntries(state map[string]*StateEntry, succeeded []Action) {
	for _, a := range succeeded {
		Remove(state, a.Path)
	}
}

func (o *Orchestrator) recordBatch(sessionID string, result ExecuteResult, kind ActionKind) {
	now := time.Now()
	for _, a := range result.Succeeded {
		if err := o.prog.Record(a.Path, kind, ProgressDone, now); err != nil {
			o.reporter.Warn(fmt.Sprintf("failed to record progress for %s: %v", a.Path, err))
		}
	}
	for _, a := range result.Failed {
		if err := o.prog.Record(a.Path, kind, ProgressFailed, now); err != nil {
			o.reporter.Warn(fmt.Sprintf("failed to record progress for %s: %v", a.Path, err))
		}
	}
}

// sweepOrphanedRemoteTemps best-effort deletes every scan/push/pull temp
// file under the remote tmp dir, regardless of which session wrote it. Each
// one already carries its own random UUID rather than a session ID, so a
// single glob by naming pattern is what catches files orphaned by a prior
// aborted run as well as this session's own leftovers — run once at the
// start of Run to clear prior debris, and once more on a clean finish.
// Failures here are warnings only, never fatal.
func (o *Orchestrator) sweepOrphanedRemoteTemps() {
	cmd := fmt.Sprintf("rm -f %[1]s/sync_scan_*.tsv.gz %[1]s/sync_push_*.tar.gz %[1]s/sync_pull_*.tar.gz", o.remoteTmp)
	if _, _, _, err := o.session.Exec(cmd); err != nil {
		o.reporter.Warn("best-effort remote temp sweep failed: " + err.Error())
	}
}

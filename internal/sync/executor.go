package sync

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// batchHighWaterMark bounds the number of paths bundled into a single
// archive. Above it, a batch is split into archives of roughly this size,
// trading a few extra round trips for bounded memory and finer-grained
// progress reporting.
const batchHighWaterMark = 500

// Executor converts decided Actions into the minimum number of network
// operations: one archive per PUSH/PULL batch (or a handful if the
// high-water mark is exceeded), one rm -f per delete direction, and a
// download-plus-info-file per conflict.
type Executor struct {
	session  RemoteSession
	reporter Reporter
	localRoot  string
	remoteRoot string
	remoteTmp  string
	now      func() time.Time
}

func NewExecutor(session RemoteSession, reporter Reporter, localRoot, remoteRoot, remoteTmp string) *Executor {
	if reporter == nil {
		reporter = NopReporter{}
	}
	if remoteTmp == "" {
		remoteTmp = "/tmp"
	}
	return &Executor{session: session, reporter: reporter, localRoot: localRoot, remoteRoot: remoteRoot, remoteTmp: remoteTmp, now: time.Now}
}

// ExecuteResult reports per-path outcomes so the orchestrator can update
// the state store and progress log without the executor owning either.
type ExecuteResult struct {
	Succeeded []Action
	Failed    []Action
	Artifacts []ConflictArtifact
}

// resumeFilter drops any action already recorded done, in a matching
// direction, in the progress store — a done PUSH suppresses a PUSH replan
// of the same path, but never a PULL of that path.
func resumeFilter(actions []Action, completed map[string]ActionKind) []Action {
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		if done, ok := completed[a.Path]; ok && done == a.Kind {
			continue
		}
		out = append(out, a)
	}
	return out
}

func sortedByPath(actions []Action) []Action {
	out := append([]Action{}, actions...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func splitBatches(actions []Action, highWater int) [][]Action {
	if len(actions) <= highWater {
		return [][]Action{actions}
	}
	var batches [][]Action
	for i := 0; i < len(actions); i += highWater {
		end := i + highWater
		if end > len(actions) {
			end = len(actions)
		}
		batches = append(batches, actions[i:end])
	}
	return batches
}

// ExecutePush builds tar+gzip bundles of the given PUSH actions, uploads
// each to a session-unique remote temp path, and issues one remote extract
// command per bundle.
func (e *Executor) ExecutePush(actions []Action, completed map[string]ActionKind) ExecuteResult {
	actions = resumeFilter(sortedByPath(actions), completed)
	var result ExecuteResult
	if len(actions) == 0 {
		return result
	}

	e.reporter.BatchStarted(ActionPush, len(actions))
	for _, batch := range splitBatches(actions, batchHighWaterMark) {
		ok, failed, err := e.pushBatch(batch)
		result.Succeeded = append(result.Succeeded, ok...)
		result.Failed = append(result.Failed, failed...)
		if err != nil {
			e.reporter.Error("push batch failed", err)
		}
	}
	e.reporter.BatchDone(ActionPush, len(result.Succeeded), len(result.Failed))
	return result
}

func (e *Executor) pushBatch(batch []Action) (ok, failed []Action, err error) {
	archive, sizes, buildErr := e.buildPushArchive(batch)
	if buildErr != nil {
		return nil, batch, &LocalError{Path: e.localRoot, Err: buildErr}
	}

	bundleName := fmt.Sprintf("%s/sync_push_%s.tar.gz", e.remoteTmp, uuid.New().String())
	if uploadErr := e.session.Upload(bytes.NewReader(archive.Bytes()), bundleName); uploadErr != nil {
		return nil, batch, &TransportError{Op: "upload push bundle", Err: uploadErr}
	}
	defer e.session.Remove(bundleName)

	cmd := fmt.Sprintf("tar -xzf %s -C %s && rm -f %s", shellQuote(bundleName), shellQuote(e.remoteRoot), shellQuote(bundleName))
	_, stderr, exitCode, execErr := e.session.Exec(cmd)
	if execErr != nil {
		return nil, batch, &TransportError{Op: "extract push bundle", Err: execErr}
	}
	if exitCode != 0 {
		return nil, batch, &RemoteError{Command: cmd, ExitCode: exitCode, Stderr: string(stderr)}
	}

	e.reporter.Warn(fmt.Sprintf("pushed %s in %d files", humanize.Bytes(uint64(totalSize(sizes))), len(batch)))
	return batch, nil, nil
}

func (e *Executor) buildPushArchive(batch []Action) (*bytes.Buffer, map[string]int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	sizes := make(map[string]int64, len(batch))
	for _, a := range batch {
		absPath := filepath.Join(e.localRoot, a.Path)
		f, err := os.Open(absPath)
		if err != nil {
			return nil, nil, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		hdr := &tar.Header{Name: a.Path, Mode: 0o644, Size: info.Size(), ModTime: info.ModTime()}
		if err := tw.WriteHeader(hdr); err != nil {
			f.Close()
			return nil, nil, err
		}
		if _, err := io.Copy(tw, f); err != nil {
			f.Close()
			return nil, nil, err
		}
		f.Close()
		sizes[a.Path] = info.Size()
	}

	if err := tw.Close(); err != nil {
		return nil, nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, nil, err
	}
	return &buf, sizes, nil
}

func totalSize(sizes map[string]int64) int64 {
	var total int64
	for _, s := range sizes {
		total += s
	}
	return total
}

// ExecutePull has the remote pack the requested paths into a tar.gz,
// downloads it, and extracts locally.
func (e *Executor) ExecutePull(actions []Action, completed map[string]ActionKind) ExecuteResult {
	actions = resumeFilter(sortedByPath(actions), completed)
	var result ExecuteResult
	if len(actions) == 0 {
		return result
	}

	e.reporter.BatchStarted(ActionPull, len(actions))
	for _, batch := range splitBatches(actions, batchHighWaterMark) {
		ok, failed, err := e.pullBatch(batch)
		result.Succeeded = append(result.Succeeded, ok...)
		result.Failed = append(result.Failed, failed...)
		if err != nil {
			e.reporter.Error("pull batch failed", err)
		}
	}
	e.reporter.BatchDone(ActionPull, len(result.Succeeded), len(result.Failed))
	return result
}

func (e *Executor) pullBatch(batch []Action) (ok, failed []Action, err error) {
	bundleName := fmt.Sprintf("%s/sync_pull_%s.tar.gz", e.remoteTmp, uuid.New().String())

	var fileList bytes.Buffer
	for _, a := range batch {
		fileList.WriteString(shellQuote(a.Path))
		fileList.WriteString(" ")
	}

	cmd := fmt.Sprintf("tar -czf %s -C %s %s", shellQuote(bundleName), shellQuote(e.remoteRoot), fileList.String())
	_, stderr, exitCode, execErr := e.session.Exec(cmd)
	if execErr != nil {
		return nil, batch, &TransportError{Op: "pack pull bundle", Err: execErr}
	}
	if exitCode != 0 {
		return nil, batch, &RemoteError{Command: cmd, ExitCode: exitCode, Stderr: string(stderr)}
	}
	defer e.session.Remove(bundleName)

	var buf bytes.Buffer
	if dlErr := e.session.Download(bundleName, &buf); dlErr != nil {
		return nil, batch, &TransportError{Op: "download pull bundle", Err: dlErr}
	}

	if err := extractArchive(buf.Bytes(), e.localRoot); err != nil {
		return nil, batch, &LocalError{Path: e.localRoot, Err: err}
	}

	e.reporter.Warn(fmt.Sprintf("pulled %s in %d files", humanize.Bytes(uint64(buf.Len())), len(batch)))
	return batch, nil, nil
}

func extractArchive(data []byte, destRoot string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		dest := filepath.Join(destRoot, hdr.Name)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		f, err := os.Create(dest)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return err
		}
		f.Close()
		modTime := hdr.ModTime
		_ = os.Chtimes(dest, modTime, modTime)
	}
}

// ExecuteDeleteRemote issues a single remote rm -f listing every path.
func (e *Executor) ExecuteDeleteRemote(actions []Action, completed map[string]ActionKind) ExecuteResult {
	actions = resumeFilter(sortedByPath(actions), completed)
	var result ExecuteResult
	if len(actions) == 0 {
		return result
	}

	e.reporter.BatchStarted(ActionDeleteRemote, len(actions))
	var paths bytes.Buffer
	for _, a := range actions {
		paths.WriteString(shellQuote(a.Path))
		paths.WriteString(" ")
	}
	cmd := fmt.Sprintf("cd %s && rm -f %s", shellQuote(e.remoteRoot), paths.String())
	_, stderr, exitCode, execErr := e.session.Exec(cmd)
	if execErr != nil {
		result.Failed = actions
		e.reporter.Error("delete_remote batch failed", &TransportError{Op: "rm -f", Err: execErr})
	} else if exitCode != 0 {
		result.Failed = actions
		e.reporter.Error("delete_remote batch failed", &RemoteError{Command: cmd, ExitCode: exitCode, Stderr: string(stderr)})
	} else {
		result.Succeeded = actions
	}
	e.reporter.BatchDone(ActionDeleteRemote, len(result.Succeeded), len(result.Failed))
	return result
}

// ExecuteDeleteLocal removes each local path directly; no archive needed.
func (e *Executor) ExecuteDeleteLocal(actions []Action, completed map[string]ActionKind) ExecuteResult {
	actions = resumeFilter(sortedByPath(actions), completed)
	var result ExecuteResult
	if len(actions) == 0 {
		return result
	}

	e.reporter.BatchStarted(ActionDeleteLocal, len(actions))
	for _, a := range actions {
		abs := filepath.Join(e.localRoot, a.Path)
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			result.Failed = append(result.Failed, a)
			e.reporter.Error("delete_local failed", &LocalError{Path: abs, Err: err})
			continue
		}
		result.Succeeded = append(result.Succeeded, a)
		removeEmptyParents(filepath.Dir(abs), e.localRoot)
	}
	e.reporter.BatchDone(ActionDeleteLocal, len(result.Succeeded), len(result.Failed))
	return result
}

func removeEmptyParents(dir, stopAt string) {
	for dir != stopAt && len(dir) > len(stopAt) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if os.Remove(dir) != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// ExecuteConflicts downloads the remote copy and writes the info file for
// every CONFLICT action. It never touches the local original.
func (e *Executor) ExecuteConflicts(actions []Action) ExecuteResult {
	var result ExecuteResult
	if len(actions) == 0 {
		return result
	}

	e.reporter.BatchStarted(ActionConflict, len(actions))
	for _, a := range sortedByPath(actions) {
		remoteAbs := path.Join(e.remoteRoot, a.Path)
		artifact, err := writeConflictArtifacts(e.localRoot, a, e.session, remoteAbs, e.now())
		if err != nil {
			result.Failed = append(result.Failed, a)
			e.reporter.Error("conflict artifact write failed", err)
			continue
		}
		result.Succeeded = append(result.Succeeded, a)
		result.Artifacts = append(result.Artifacts, artifact)
		e.reporter.Conflict(a.Path, artifact)
	}
	e.reporter.BatchDone(ActionConflict, len(result.Succeeded), len(result.Failed))
	return result
}

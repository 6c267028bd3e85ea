package sync

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOrchSession is a RemoteSession backed by two real directories
// (standing in for the remote root and the remote /tmp) so the executor's
// and remote scanner's shell-command text can be interpreted with Go's own
// archive/tar and compress/gzip instead of a real shell — the same
// no-real-shell approach executor_test.go's fakeSession takes, just
// extended far enough to let a whole orchestrator session round-trip.
type fakeOrchSession struct {
	remoteRoot string
	remoteTmp  string
}

var quotedToken = regexp.MustCompile(`'([^']*)'`)

func newFakeOrchSession(remoteRoot, remoteTmp string) *fakeOrchSession {
	return &fakeOrchSession{remoteRoot: remoteRoot, remoteTmp: remoteTmp}
}

func (f *fakeOrchSession) Upload(r io.Reader, remotePath string) error {
	if err := os.MkdirAll(filepath.Dir(remotePath), 0o755); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return os.WriteFile(remotePath, data, 0o644)
}

func (f *fakeOrchSession) Download(remotePath string, w io.Writer) error {
	file, err := os.Open(remotePath)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(w, file)
	return err
}

func (f *fakeOrchSession) Exists(remotePath string) (bool, error) {
	_, err := os.Stat(remotePath)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, nil
}

func (f *fakeOrchSession) Remove(remotePath string) error {
	err := os.Remove(remotePath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f *fakeOrchSession) Heartbeat() error { return nil }
func (f *fakeOrchSession) Reconnect() error { return nil }

func (f *fakeOrchSession) Exec(cmd string) ([]byte, []byte, int, error) {
	switch {
	case strings.Contains(cmd, "gzip -c >"):
		return f.execScan(cmd)
	case strings.HasPrefix(cmd, "tar -xzf"):
		return f.execPushExtract(cmd)
	case strings.HasPrefix(cmd, "tar -czf"):
		return f.execPullPack(cmd)
	case strings.HasPrefix(cmd, "cd "):
		return f.execDeleteRemote(cmd)
	case strings.HasPrefix(cmd, "rm -f "):
		return f.execGlobRemove(cmd)
	default:
		return nil, nil, 0, nil
	}
}

// execGlobRemove handles the orphan-temp sweep's unquoted "rm -f a b c"
// shape: each whitespace-separated token is a glob pattern, not a literal
// path, so this globs and removes on the real filesystem rather than trying
// to treat the whole string as a single quoted path.
func (f *fakeOrchSession) execGlobRemove(cmd string) ([]byte, []byte, int, error) {
	for _, pattern := range strings.Fields(strings.TrimPrefix(cmd, "rm -f ")) {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			_ = os.Remove(m)
		}
	}
	return nil, nil, 0, nil
}

func (f *fakeOrchSession) execScan(cmd string) ([]byte, []byte, int, error) {
	tokens := quotedToken.FindAllStringSubmatch(cmd, -1)
	if len(tokens) == 0 {
		return nil, []byte("no scan output token"), 1, nil
	}
	outPath := tokens[len(tokens)-1][1]

	var lines bytes.Buffer
	err := filepath.WalkDir(f.remoteRoot, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(f.remoteRoot, path)
		if err != nil {
			return err
		}
		rel = strings.ReplaceAll(rel, "\\", "/")
		mtime := float64(info.ModTime().UnixNano()) / 1e9
		lines.WriteString(rel)
		lines.WriteByte('\t')
		lines.WriteString(strconv.FormatFloat(mtime, 'f', -1, 64))
		lines.WriteByte('\t')
		lines.WriteString(strconv.FormatInt(info.Size(), 10))
		lines.WriteByte('\n')
		return nil
	})
	if err != nil {
		return nil, []byte(err.Error()), 1, nil
	}
	lines.WriteString(scanSentinel)
	lines.WriteByte('\n')

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, []byte(err.Error()), 1, nil
	}
	out, err := os.Create(outPath)
	if err != nil {
		return nil, []byte(err.Error()), 1, nil
	}
	defer out.Close()
	gz := gzip.NewWriter(out)
	if _, err := gz.Write(lines.Bytes()); err != nil {
		return nil, []byte(err.Error()), 1, nil
	}
	if err := gz.Close(); err != nil {
		return nil, []byte(err.Error()), 1, nil
	}

	return nil, nil, 0, nil
}

func (f *fakeOrchSession) execPushExtract(cmd string) ([]byte, []byte, int, error) {
	tokens := quotedToken.FindAllStringSubmatch(cmd, -1)
	if len(tokens) < 2 {
		return nil, []byte("malformed push extract command"), 1, nil
	}
	bundle := tokens[0][1]

	data, err := os.ReadFile(bundle)
	if err != nil {
		return nil, []byte(err.Error()), 1, nil
	}
	if err := extractArchive(data, f.remoteRoot); err != nil {
		return nil, []byte(err.Error()), 1, nil
	}
	return nil, nil, 0, nil
}

func (f *fakeOrchSession) execPullPack(cmd string) ([]byte, []byte, int, error) {
	tokens := quotedToken.FindAllStringSubmatch(cmd, -1)
	if len(tokens) < 2 {
		return nil, []byte("malformed pull pack command"), 1, nil
	}
	bundle := tokens[0][1]
	paths := make([]string, 0, len(tokens)-2)
	for _, t := range tokens[2:] {
		paths = append(paths, t[1])
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, rel := range paths {
		abs := filepath.Join(f.remoteRoot, rel)
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, []byte(err.Error()), 1, nil
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, []byte(err.Error()), 1, nil
		}
		hdr := &tar.Header{Name: rel, Mode: 0o644, Size: info.Size(), ModTime: info.ModTime()}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, []byte(err.Error()), 1, nil
		}
		if _, err := tw.Write(data); err != nil {
			return nil, []byte(err.Error()), 1, nil
		}
	}
	if err := tw.Close(); err != nil {
		return nil, []byte(err.Error()), 1, nil
	}
	if err := gz.Close(); err != nil {
		return nil, []byte(err.Error()), 1, nil
	}
	if err := os.MkdirAll(filepath.Dir(bundle), 0o755); err != nil {
		return nil, []byte(err.Error()), 1, nil
	}
	if err := os.WriteFile(bundle, buf.Bytes(), 0o644); err != nil {
		return nil, []byte(err.Error()), 1, nil
	}
	return nil, nil, 0, nil
}

func (f *fakeOrchSession) execDeleteRemote(cmd string) ([]byte, []byte, int, error) {
	tokens := quotedToken.FindAllStringSubmatch(cmd, -1)
	for _, t := range tokens[1:] {
		_ = os.Remove(filepath.Join(f.remoteRoot, t[1]))
	}
	return nil, nil, 0, nil
}

func newTestCfg(localRoot, remoteRoot, remoteTmp string) *SyncConfig {
	return &SyncConfig{
		LocalRoot:       localRoot,
		RemoteRoot:      remoteRoot,
		Server:          "test-host",
		Port:            22,
		Username:        "tester",
		IgnoreFile:      ".syncignore",
		ChangeThreshold: 5,
		PollInterval:    10 * time.Millisecond,
		PollTimeout:     2 * time.Second,
		RemoteTmpDir:    remoteTmp,
	}
}

func newTestOrchestrator(t *testing.T, cfg *SyncConfig, remoteTmp string) *Orchestrator {
	t.Helper()
	session := newFakeOrchSession(cfg.RemoteRoot, remoteTmp)
	orch, err := NewOrchestrator(cfg, session, NopReporter{})
	require.NoError(t, err)
	orch.remote = NewRemoteScanner(orch.session, cfg.RemoteRoot, remoteTmp)
	orch.exec = NewExecutor(orch.session, NopReporter{}, cfg.LocalRoot, cfg.RemoteRoot, remoteTmp)
	return orch
}

func TestOrchestratorRun_PushesNewLocalFile(t *testing.T) {
	local := t.TempDir()
	remote := t.TempDir()
	remoteTmp := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(local, "new.txt"), []byte("hello from local"), 0o644))

	cfg := newTestCfg(local, remote, remoteTmp)
	orch := newTestOrchestrator(t, cfg, remoteTmp)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.Aborted)
	assert.Equal(t, 1, summary.Pushed)
	assert.Equal(t, 0, summary.Failed)

	data, err := os.ReadFile(filepath.Join(remote, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello from local", string(data))

	state, err := NewStateStore(local).Load()
	require.NoError(t, err)
	require.Contains(t, state, "new.txt")
}

func TestOrchestratorRun_PullsNewRemoteFile(t *testing.T) {
	local := t.TempDir()
	remote := t.TempDir()
	remoteTmp := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(remote, "incoming.txt"), []byte("hello from remote"), 0o644))

	cfg := newTestCfg(local, remote, remoteTmp)
	orch := newTestOrchestrator(t, cfg, remoteTmp)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pulled)
	assert.Equal(t, 0, summary.Failed)

	data, err := os.ReadFile(filepath.Join(local, "incoming.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello from remote", string(data))
}

func TestOrchestratorRun_PushOnlyGatesPull(t *testing.T) {
	local := t.TempDir()
	remote := t.TempDir()
	remoteTmp := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(remote, "incoming.txt"), []byte("remote-only"), 0o644))

	cfg := newTestCfg(local, remote, remoteTmp)
	cfg.PushOnly = true
	orch := newTestOrchestrator(t, cfg, remoteTmp)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Pulled)

	_, err = os.Stat(filepath.Join(local, "incoming.txt"))
	assert.True(t, os.IsNotExist(err), "push_only must never pull a remote-only file down")
}

func TestOrchestratorRun_ConflictWritesArtifactsAndBothOriginalsUntouched(t *testing.T) {
	local := t.TempDir()
	remote := t.TempDir()
	remoteTmp := t.TempDir()

	path := filepath.Join(local, "shared.txt")
	require.NoError(t, os.WriteFile(path, []byte("local-edit"), 0o644))
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now()))

	remotePath := filepath.Join(remote, "shared.txt")
	require.NoError(t, os.WriteFile(remotePath, []byte("remote-edit"), 0o644))
	require.NoError(t, os.Chtimes(remotePath, time.Now(), time.Now()))

	cfg := newTestCfg(local, remote, remoteTmp)
	orch := newTestOrchestrator(t, cfg, remoteTmp)

	// Seed prior state far enough in the past that both sides read as
	// "changed since last sync" under the 5s threshold, forcing CONFLICT
	// rather than first-sight adoption.
	state := map[string]*StateEntry{
		"shared.txt": {Path: "shared.txt", MTime: 1, Size: 3},
	}
	require.NoError(t, orch.state.Save(state))

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Conflicts)

	local_, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "local-edit", string(local_), "conflict must never overwrite the local original")

	entries, err := os.ReadDir(local)
	require.NoError(t, err)
	var sawRemoteCopy, sawInfo bool
	for _, e := range entries {
		if strings.Contains(e.Name(), ".remote.") && strings.HasSuffix(e.Name(), ".conflict") {
			sawRemoteCopy = true
		}
		if strings.HasSuffix(e.Name(), ".conflict-info") {
			sawInfo = true
		}
	}
	assert.True(t, sawRemoteCopy, "expected a downloaded remote conflict copy on disk")
	assert.True(t, sawInfo, "expected a conflict-info file on disk")
}

func TestOrchestratorRun_ResumeSkipsAlreadyCompletedPush(t *testing.T) {
	local := t.TempDir()
	remote := t.TempDir()
	remoteTmp := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(local, "a.txt"), []byte("data"), 0o644))

	cfg := newTestCfg(local, remote, remoteTmp)
	orch := newTestOrchestrator(t, cfg, remoteTmp)

	sessionID := "resume-test-session"
	require.NoError(t, orch.prog.Begin(sessionID, time.Now()))
	require.NoError(t, orch.prog.Record("a.txt", ActionPush, ProgressDone, time.Now()))

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Pushed, "a path already recorded done for PUSH must not be re-pushed")

	_, err = os.Stat(filepath.Join(remote, "a.txt"))
	assert.True(t, os.IsNotExist(err), "the resumed run should not have actually transferred the file")
}

func TestOrchestratorRun_ForceBypassesResume(t *testing.T) {
	local := t.TempDir()
	remote := t.TempDir()
	remoteTmp := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(local, "a.txt"), []byte("data"), 0o644))

	cfg := newTestCfg(local, remote, remoteTmp)
	cfg.Force = true
	orch := newTestOrchestrator(t, cfg, remoteTmp)

	sessionID := "force-test-session"
	require.NoError(t, orch.prog.Begin(sessionID, time.Now()))
	require.NoError(t, orch.prog.Record("a.txt", ActionPush, ProgressDone, time.Now()))

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pushed, "--force must reset the progress file so the push actually runs")

	data, err := os.ReadFile(filepath.Join(remote, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestOrchestratorRun_SweepsOrphanedRemoteTempsAtSessionStart(t *testing.T) {
	local := t.TempDir()
	remote := t.TempDir()
	remoteTmp := t.TempDir()

	orphan := filepath.Join(remoteTmp, "sync_push_dead-session.tar.gz")
	require.NoError(t, os.WriteFile(orphan, []byte("leftover from a crashed run"), 0o644))

	cfg := newTestCfg(local, remote, remoteTmp)
	orch := newTestOrchestrator(t, cfg, remoteTmp)

	_, err := orch.Run(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err), "a temp file orphaned by a prior aborted session must be swept at the start of Run, not just this session's own leftovers")
}

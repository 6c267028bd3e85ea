package sync

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const scanSentinel = "SCAN_DONE"

// RemoteScanner issues one detached remote walk and polls its output file
// for completion, rather than paying one SFTP round trip per directory.
type RemoteScanner struct {
	session    RemoteSession
	remoteRoot string
	remoteTmp  string // e.g. "/tmp"
}

func NewRemoteScanner(session RemoteSession, remoteRoot, remoteTmp string) *RemoteScanner {
	if remoteTmp == "" {
		remoteTmp = "/tmp"
	}
	return &RemoteScanner{session: session, remoteRoot: remoteRoot, remoteTmp: remoteTmp}
}

// Launch fires the detached remote find|gzip pipeline and returns the
// session-unique remote path the scan output will be written to. pruneArgs
// comes from IgnoreMatcher.RemotePruneArgs and pre-prunes whole subtrees at
// the find level; it is a best-effort optimization, not the authoritative
// filter (that's still the ignore matcher applied to returned paths).
func (r *RemoteScanner) Launch(sessionID string, pruneArgs []string) (remotePath string, err error) {
	scanID := uuid.New().String()
	remoteGz := fmt.Sprintf("%s/sync_scan_%s.tsv.gz", r.remoteTmp, scanID)

	pruneExpr := buildPruneExpr(pruneArgs)

	cmd := fmt.Sprintf(
		`nohup sh -c '{ find %s %s -type f -printf "%%P\t%%T@\t%%s\n" 2>/dev/null; echo %s; } | gzip -c > %s' >/dev/null 2>&1 &`,
		shellQuote(r.remoteRoot), pruneExpr, scanSentinel, shellQuote(remoteGz),
	)

	_, stderr, exitCode, err := r.session.Exec(cmd)
	if err != nil {
		return "", &TransportError{Op: "launch remote scan", Err: err}
	}
	if exitCode != 0 {
		return "", &RemoteError{Command: cmd, ExitCode: exitCode, Stderr: string(stderr)}
	}
	return remoteGz, nil
}

// Poll waits for the sentinel to appear in remotePath's (decompressed)
// contents, retrying every interval up to timeout. It downloads the whole
// file on each attempt — the file is small (one line per path) and may
// still be mid-write, in which case decompression fails and the attempt is
// simply retried on the next tick.
func (r *RemoteScanner) Poll(remotePath string, interval, timeout time.Duration) (map[string]*PathFingerprint, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if result, ok, err := r.tryRead(remotePath); err != nil {
			return nil, err
		} else if ok {
			return result, nil
		}

		if time.Now().After(deadline) {
			return nil, &ScanTimeout{SessionID: remotePath, Waited: timeout.String()}
		}
		<-ticker.C
	}
}

func (r *RemoteScanner) tryRead(remotePath string) (map[string]*PathFingerprint, bool, error) {
	exists, err := r.session.Exists(remotePath)
	if err != nil {
		return nil, false, nil // transient poll error; caller retries
	}
	if !exists {
		return nil, false, nil
	}

	var buf strings.Builder
	if err := r.session.Download(remotePath, writerFunc(func(p []byte) (int, error) {
		return buf.Write(p)
	})); err != nil {
		return nil, false, nil
	}

	gz, err := gzip.NewReader(strings.NewReader(buf.String()))
	if err != nil {
		return nil, false, nil // partial/corrupt write in progress, retry later
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, nil
	}
	if len(lines) == 0 || strings.TrimSpace(lines[len(lines)-1]) != scanSentinel {
		return nil, false, nil
	}

	return parseScanLines(lines[:len(lines)-1]), true, nil
}

// Cleanup best-effort deletes the remote scan temp file after it has been
// consumed.
func (r *RemoteScanner) Cleanup(remotePath string) {
	_ = r.session.Remove(remotePath)
}

func parseScanLines(lines []string) map[string]*PathFingerprint {
	out := make(map[string]*PathFingerprint, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 || parts[0] == "" {
			continue
		}
		mtime, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			continue
		}
		path := normPath(parts[0])
		out[path] = &PathFingerprint{Path: path, MTime: mtime, Size: size}
	}
	return out
}

func buildPruneExpr(names []string) string {
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\\(")
	for i, n := range names {
		if i > 0 {
			b.WriteString(" -o")
		}
		fmt.Fprintf(&b, " -name %s", shellQuote(n))
	}
	b.WriteString(" \\) -prune -o")
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

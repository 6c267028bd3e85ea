package sync

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const utcTokenLayout = "20060102T150405Z"

// ConflictArtifact records what was written to disk for a single CONFLICT
// verdict: the engine never touches the local original, so these are the
// only new files a conflict produces.
type ConflictArtifact struct {
	OriginalPath string
	RemoteCopy   string
	InfoFile     string
	Token        string
}

// writeConflictArtifacts downloads the remote copy to
// "<path>.remote.<TOKEN>.conflict" and writes a sibling
// "<path>.<TOKEN>.conflict-info" describing both fingerprints and the
// recommended manual-merge steps. The local original is never opened for
// writing.
func writeConflictArtifacts(localRoot string, a Action, session RemoteSession, remoteAbsPath string, now time.Time) (ConflictArtifact, error) {
	token := now.UTC().Format(utcTokenLayout)
	localAbs := filepath.Join(localRoot, a.Path)
	remoteCopyPath := fmt.Sprintf("%s.remote.%s.conflict", localAbs, token)
	infoPath := fmt.Sprintf("%s.%s.conflict-info", localAbs, token)

	artifact := ConflictArtifact{OriginalPath: a.Path, RemoteCopy: remoteCopyPath, InfoFile: infoPath, Token: token}

	if err := os.MkdirAll(filepath.Dir(remoteCopyPath), 0o755); err != nil {
		return artifact, &LocalError{Path: remoteCopyPath, Err: err}
	}

	f, err := os.Create(remoteCopyPath)
	if err != nil {
		return artifact, &LocalError{Path: remoteCopyPath, Err: err}
	}
	defer f.Close()

	if err := session.Download(remoteAbsPath, f); err != nil {
		return artifact, &TransportError{Op: "download conflict copy", Err: err}
	}

	info := conflictInfoText(a, token)
	if err := os.WriteFile(infoPath, []byte(info), 0o644); err != nil {
		return artifact, &LocalError{Path: infoPath, Err: err}
	}

	return artifact, nil
}

// conflictInfoText builds the human-readable reason the way the original
// implementation's decide() assembles reason_parts: distinguishing a
// first-sight conflict (no prior StateEntry) from a both-sides-changed
// conflict, and in the latter case reporting how far each side drifted from
// the last-synced fingerprint.
func conflictInfoText(a Action, token string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "path: %s\n", a.Path)
	fmt.Fprintf(&b, "detected: %s\n\n", token)

	if a.State == nil {
		b.WriteString("reason: first sight — both local and remote copies exist with no recorded sync history,\n")
		b.WriteString("and their (mtime, size) fingerprints do not agree within the change threshold.\n\n")
	} else {
		b.WriteString("reason: both sides changed since the last recorded sync.\n\n")
		fmt.Fprintf(&b, "last synced:   mtime=%.3f size=%d\n", a.State.MTime, a.State.Size)
		if a.Local != nil {
			fmt.Fprintf(&b, "local drift:   mtime %+.3f size %+d\n", a.Local.MTime-a.State.MTime, a.Local.Size-a.State.Size)
		}
		if a.Remote != nil {
			fmt.Fprintf(&b, "remote drift:  mtime %+.3f size %+d\n", a.Remote.MTime-a.State.MTime, a.Remote.Size-a.State.Size)
		}
		b.WriteString("\n")
	}

	if a.Local != nil {
		fmt.Fprintf(&b, "local:  mtime=%.3f size=%d\n", a.Local.MTime, a.Local.Size)
	}
	if a.Remote != nil {
		fmt.Fprintf(&b, "remote: mtime=%.3f size=%d\n", a.Remote.MTime, a.Remote.Size)
	}

	b.WriteString("\nThe local copy was left untouched. A byte copy of the remote version was\n")
	b.WriteString("downloaded alongside it. To resolve: inspect both copies, merge manually,\n")
	b.WriteString("then overwrite the local original with the merged content and re-run sync.\n")

	return b.String()
}

package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/denisbrodbeck/machineid"
	"github.com/gofrs/flock"

	"github.com/driftsync/driftsync/internal/utils"
)

const (
	metadataDir = ".driftsync"
	lockFile    = "driftsync.lock"
)

var ErrWorkspaceLocked = errors.New("local root is locked by another driftsync process")

// Workspace guards a local sync root against two driftsync processes
// running against it at once: a crash mid-session leaves behind a progress
// file that's only safe to resume from if nothing else touched the tree in
// the meantime.
type Workspace struct {
	Root        string
	MetadataDir string

	flock *flock.Flock
}

func NewWorkspace(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve local root %s: %w", rootDir, err)
	}

	metaDir := filepath.Join(root, metadataDir)
	lockFilePath := filepath.Join(metaDir, lockFile)

	return &Workspace{
		Root:        root,
		MetadataDir: metaDir,
		flock:       flock.New(lockFilePath),
	}, nil
}

// Lock creates (or reuses) a lock file under the root's metadata directory
// so a second driftsync instance pointed at the same root fails fast instead
// of racing the first one's scan and executor phases.
func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return fmt.Errorf("create %s: %w", w.MetadataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock local root: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}

	// The lock itself is the flock advisory lock; this is just a breadcrumb
	// for whoever inspects the lock file by hand while it's held.
	if err := os.WriteFile(w.flock.Path(), []byte(lockOwnerLine()), 0644); err != nil {
		slog.Warn("failed to write lock owner breadcrumb", "error", err)
	}

	return nil
}

func lockOwnerLine() string {
	id, err := machineid.ID()
	if err != nil {
		id = "unknown"
	}
	return fmt.Sprintf("pid=%d machine=%s\n", os.Getpid(), id)
}

func (w *Workspace) Unlock() error {
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock local root: %w", err)
	}

	return os.Remove(w.flock.Path())
}

// Setup ensures the local root and its metadata directory exist, then
// acquires the lock. It is the single entry point the CLI calls before
// handing the workspace to the orchestrator.
func (w *Workspace) Setup() error {
	if err := utils.EnsureDir(w.Root); err != nil {
		return fmt.Errorf("create local root %s: %w", w.Root, err)
	}

	if err := w.Lock(); err != nil {
		return err
	}

	slog.Info("workspace", "root", w.Root)
	return nil
}

// AbsPath resolves a relative sync path against the workspace root.
func (w *Workspace) AbsPath(relPath string) string {
	return filepath.Join(w.Root, relPath)
}

// RelPath returns absPath relative to the workspace root, normalized to
// forward slashes.
func (w *Workspace) RelPath(absPath string) (string, error) {
	relPath, err := filepath.Rel(w.Root, absPath)
	if err != nil {
		return "", err
	}
	return NormPath(relPath), nil
}

// NormPath cleans a path, replaces backslashes with slashes, and trims
// leading slashes so Windows and POSIX trees compare equal.
func NormPath(path string) string {
	path = filepath.Clean(path)
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimLeft(path, "/")
	return path
}

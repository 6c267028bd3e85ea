package sync

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)


// LocalScanner walks a local root and emits a PathFingerprint per regular
// file, skipping whatever the ignore matcher excludes. Unlike the teacher's
// MD5-based ETag cache, fingerprints here are pure (mtime, size) per the
// mtime+size-only change model — there is nothing to hash.
type LocalScanner struct {
	rootDir string
	ignore  *IgnoreMatcher
}

// NewLocalScanner builds a scanner rooted at rootDir.
func NewLocalScanner(rootDir string, ignore *IgnoreMatcher) *LocalScanner {
	return &LocalScanner{rootDir: rootDir, ignore: ignore}
}

// Scan walks the tree once and returns every non-ignored regular file's
// fingerprint, keyed by its POSIX-style relative path.
func (s *LocalScanner) Scan() (map[string]*PathFingerprint, error) {
	out := make(map[string]*PathFingerprint)

	err := filepath.WalkDir(s.rootDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			slog.Warn("local scan walk error", "path", path, "error", walkErr)
			return nil
		}
		if d.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(s.rootDir, path)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", path, err)
		}
		relPath = normPath(relPath)

		if s.ignore != nil && s.ignore.Matches(relPath) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("failed to stat local entry", "path", path, "error", err)
			return nil
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Stat(path) // follows the link
			if err != nil {
				slog.Warn("skipping broken symlink", "path", path, "error", err)
				return nil
			}
			if target.IsDir() {
				return nil
			}
			info = target
		}

		out[relPath] = &PathFingerprint{
			Path:  relPath,
			MTime: float64(info.ModTime().UnixNano()) / 1e9,
			Size:  info.Size(),
		}
		return nil
	})
	if err != nil {
		return nil, &LocalError{Path: s.rootDir, Err: err}
	}

	slog.Debug("local scan complete", "root", s.rootDir, "paths", len(out))
	return out, nil
}

func normPath(path string) string {
	path = filepath.Clean(path)
	path = strings.ReplaceAll(path, "\\", "/")
	return strings.TrimLeft(path, "/")
}

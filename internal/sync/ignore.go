package sync

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
)

// defaultIgnoreLines are always in effect, independent of the ignore file,
// covering the usual noise no tree should ever push or pull.
var defaultIgnoreLines = []string{
	"**/*.driftsync.tmp.*",
	"**/*.conflict",
	"**/*.conflict-info",
	".sync_state.csv",
	".sync_progress.json",
	".git",
	".DS_Store",
	"Thumbs.db",
	"__pycache__/",
	"*.pyc",
	"node_modules/",
	".venv/",
	"venv/",
	"*.log",
	"*.tmp",
}

// IgnoreMatcher answers whether a relative path is excluded from sync, and
// gives the scanner a best-effort set of remote prune fragments.
type IgnoreMatcher struct {
	baseDir string
	lines   []string
	ignore  *gitignore.GitIgnore
}

// NewIgnoreMatcher prepares a matcher rooted at baseDir. Load must be called
// before Matches is used.
func NewIgnoreMatcher(baseDir string) *IgnoreMatcher {
	return &IgnoreMatcher{baseDir: baseDir}
}

// Load reads ignoreFileName (relative to baseDir, typically ".syncignore")
// if present, appending its lines to the defaults. Malformed or unreadable
// ignore files are warned about, never fatal — a missing ignore file simply
// means only the defaults apply.
func (m *IgnoreMatcher) Load(ignoreFileName string) {
	lines := append([]string{}, defaultIgnoreLines...)

	if ignoreFileName != "" {
		path := filepath.Join(m.baseDir, ignoreFileName)
		if f, err := os.Open(path); err == nil {
			defer f.Close()
			rules := 0
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				line := scanner.Text()
				if strings.TrimSpace(line) == "" {
					continue
				}
				lines = append(lines, line)
				rules++
			}
			if err := scanner.Err(); err != nil {
				slog.Warn("error reading ignore file", "path", path, "error", err)
			} else {
				slog.Info("loaded ignore file", "path", path, "rules", rules)
			}
		} else if !os.IsNotExist(err) {
			slog.Warn("failed to open ignore file", "path", path, "error", err)
		}
	}

	m.lines = lines
	m.ignore = gitignore.CompileIgnoreLines(lines...)
}

// Matches reports whether path (relative, POSIX-style) is excluded.
func (m *IgnoreMatcher) Matches(path string) bool {
	if m.ignore == nil {
		return false
	}
	return m.ignore.MatchesPath(path)
}

// RemotePruneArgs returns shell glob fragments the remote scanner splices
// into its find command to skip whole subtrees before they are ever walked.
// Only plain directory-name patterns (no slash, no negation, no globbing
// that doublestar would need a full path for) are eligible: those are the
// ones a single `-name X -prune` fragment can express safely. Patterns that
// need full relative-path matching are left to the post-walk filter.
func (m *IgnoreMatcher) RemotePruneArgs() []string {
	var args []string
	seen := map[string]bool{}
	for _, line := range m.lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		name := strings.TrimSuffix(line, "/")
		if prunable(name) && !seen[name] {
			seen[name] = true
			args = append(args, name)
		}
	}
	return args
}

// prunable reports whether a pattern is a bare directory/file name with no
// path separators and no glob metacharacters doublestar would need to
// evaluate against a full path — i.e. it can be pre-pruned with a plain
// `-name` test rather than requiring the post-walk matcher.
func prunable(pattern string) bool {
	if pattern == "" || strings.ContainsAny(pattern, "/") {
		return false
	}
	// doublestar.Match on a bare segment with no separators behaves like a
	// single glob test; patterns using `**` can't mean anything without a
	// separator, so treat them as non-prunable out of caution.
	if strings.Contains(pattern, "**") {
		return false
	}
	_, err := doublestar.Match(pattern, pattern)
	return err == nil
}

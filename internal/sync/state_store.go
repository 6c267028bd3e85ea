package sync

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

const stateFileName = ".sync_state.csv"

// legacyStateEntry mirrors the pre-delimited JSON shape this store reads
// once for backward compatibility before rewriting in the newer form.
type legacyStateEntry struct {
	MTime float64 `json:"mtime"`
	Size  int64   `json:"size"`
}

// StateStore persists the StateEntry table for a local root as a
// tab-separated text file. Tab is chosen as the delimiter because it is
// vanishingly rare in real file paths; any line that still fails to parse
// is discarded with a warning rather than aborting the load.
type StateStore struct {
	mu   sync.Mutex
	path string
}

func NewStateStore(localRoot string) *StateStore {
	return &StateStore{path: filepath.Join(localRoot, stateFileName)}
}

// Load reads the on-disk table into memory. If the delimited file is absent
// but a legacy JSON-shaped file exists at the same path, it is read once;
// the next Save rewrites it in the delimited form.
func (s *StateStore) Load() (map[string]*StateEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]*StateEntry{}, nil
	}
	if err != nil {
		return nil, &StateCorruption{Path: s.path, Err: err}
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		entries, err := parseLegacyState(data)
		if err != nil {
			return nil, &StateCorruption{Path: s.path, Err: err}
		}
		return entries, nil
	}

	entries := make(map[string]*StateEntry)
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		entry, err := parseStateLine(line)
		if err != nil {
			slog.Warn("discarding malformed state line", "file", s.path, "line", lineNo, "error", err)
			continue
		}
		entries[entry.Path] = entry
	}
	if err := scanner.Err(); err != nil {
		return nil, &StateCorruption{Path: s.path, Err: err}
	}
	return entries, nil
}

func parseLegacyState(data []byte) (map[string]*StateEntry, error) {
	var raw map[string]legacyStateEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	entries := make(map[string]*StateEntry, len(raw))
	for path, v := range raw {
		entries[path] = &StateEntry{Path: path, MTime: v.MTime, Size: v.Size}
	}
	return entries, nil
}

func parseStateLine(line string) (*StateEntry, error) {
	parts := strings.Split(line, "\t")
	if len(parts) != 3 {
		return nil, fmt.Errorf("expected 3 tab-separated columns, got %d", len(parts))
	}
	mtime, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid mtime: %w", err)
	}
	size, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid size: %w", err)
	}
	return &StateEntry{Path: parts[0], MTime: mtime, Size: size}, nil
}

// Save writes the whole table to a sibling temp file and renames it over
// the real path, so a crash mid-write never leaves a truncated state file.
func (s *StateStore) Save(entries map[string]*StateEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sortStrings(paths)
	for _, p := range paths {
		e := entries[p]
		fmt.Fprintf(&b, "%s\t%s\t%d\n", e.Path, strconv.FormatFloat(e.MTime, 'f', -1, 64), e.Size)
	}

	return atomicWrite(s.path, []byte(b.String()))
}

// Upsert and Remove are convenience helpers over a loaded map; the store
// itself holds no in-memory copy between calls — callers (the orchestrator)
// own the map returned by Load and pass it back to Save.

func Upsert(entries map[string]*StateEntry, fp *PathFingerprint) {
	entries[fp.Path] = fingerprintToEntry(fp)
}

func Remove(entries map[string]*StateEntry, path string) {
	delete(entries, path)
}

func Lookup(entries map[string]*StateEntry, path string) *StateEntry {
	return entries[path]
}

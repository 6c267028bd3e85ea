package sync

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

const progressFileName = ".sync_progress.json"

// ProgressStatus is the per-path outcome recorded after an action runs.
type ProgressStatus string

const (
	ProgressDone   ProgressStatus = "done"
	ProgressFailed ProgressStatus = "failed"
)

// ProgressEntry is one line of the crash-safe checkpoint log.
type ProgressEntry struct {
	Action ActionKind     `json:"-"`
	Status ProgressStatus `json:"status"`
	TS     time.Time      `json:"ts"`

	ActionStr string `json:"action"`
}

type progressDoc struct {
	Session string                    `json:"session"`
	Started time.Time                 `json:"started"`
	Entries map[string]*ProgressEntry `json:"entries"`
}

// ProgressStore is a crash-safe log of what the current session has
// completed, rewritten atomically after each per-path action so a resumed
// run can skip work already done.
type ProgressStore struct {
	mu   sync.Mutex
	path string
	doc  *progressDoc
}

func NewProgressStore(localRoot string) *ProgressStore {
	return &ProgressStore{path: filepath.Join(localRoot, progressFileName)}
}

// Begin starts (or resumes) a session's progress log. If a progress file
// from a different session UUID already exists, its entries are still
// honored as resume hints — the protocol only cares about per-path status,
// not which run recorded it.
func (p *ProgressStore) Begin(sessionID string, startedAt time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, err := p.readLocked()
	if err != nil {
		return err
	}
	if existing != nil {
		p.doc = existing
		return nil
	}

	p.doc = &progressDoc{Session: sessionID, Started: startedAt, Entries: map[string]*ProgressEntry{}}
	return p.writeLocked()
}

func (p *ProgressStore) readLocked() (*progressDoc, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &StateCorruption{Path: p.path, Err: err}
	}
	var doc progressDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &StateCorruption{Path: p.path, Err: err}
	}
	if doc.Entries == nil {
		doc.Entries = map[string]*ProgressEntry{}
	}
	for _, e := range doc.Entries {
		e.Action = ParseActionKind(e.ActionStr)
	}
	return &doc, nil
}

func (p *ProgressStore) writeLocked() error {
	data, err := json.Marshal(p.doc)
	if err != nil {
		return &LocalError{Path: p.path, Err: err}
	}
	return atomicWrite(p.path, data)
}

// Record writes a single path's outcome and persists immediately.
func (p *ProgressStore) Record(path string, action ActionKind, status ProgressStatus, ts time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.doc == nil {
		return &LocalError{Path: p.path, Err: errNotBegun}
	}
	p.doc.Entries[path] = &ProgressEntry{Action: action, ActionStr: action.String(), Status: status, TS: ts}
	return p.writeLocked()
}

// CompletedPaths returns the set of paths already marked done, keyed by
// path and the action that completed them — the executor uses the action
// to make sure a done PUSH doesn't suppress a PULL of the same path.
func (p *ProgressStore) CompletedPaths() map[string]ActionKind {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := map[string]ActionKind{}
	if p.doc == nil {
		return out
	}
	for path, e := range p.doc.Entries {
		if e.Status == ProgressDone {
			out[path] = e.Action
		}
	}
	return out
}

// Reset deletes any existing progress file before Begin is called, per the
// --force contract: bypass resume hints entirely for this run.
func (p *ProgressStore) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc = nil
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return &LocalError{Path: p.path, Err: err}
	}
	return nil
}

// Clear removes the progress file on clean session completion.
func (p *ProgressStore) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.doc = nil
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return &LocalError{Path: p.path, Err: err}
	}
	return nil
}

var errNotBegun = progressNotBegunErr{}

type progressNotBegunErr struct{}

func (progressNotBegunErr) Error() string { return "progress store: Begin was not called" }

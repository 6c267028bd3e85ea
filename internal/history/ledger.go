package history

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/driftsync/driftsync/internal/utils"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS sync_session (
    id TEXT PRIMARY KEY,
    local_root TEXT NOT NULL,
    remote_root TEXT NOT NULL,
    server TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    outcome TEXT NOT NULL,
    pushed INTEGER NOT NULL DEFAULT 0,
    pulled INTEGER NOT NULL DEFAULT 0,
    deleted_local INTEGER NOT NULL DEFAULT 0,
    deleted_remote INTEGER NOT NULL DEFAULT 0,
    conflicts INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_session_started_at ON sync_session(started_at);
`

// Outcome enumerates how a recorded session ended.
type Outcome string

const (
	OutcomeRunning Outcome = "running"
	OutcomeDone    Outcome = "done"
	OutcomeAborted Outcome = "aborted"
)

// SessionRecord is one row of sync history: a single orchestrator run with
// its counters and terminal outcome. It is the observational record behind
// the "driftsync history" subcommand, independent of the sync state file
// and progress file the orchestrator itself reads and writes.
type SessionRecord struct {
	ID            string `db:"id"`
	LocalRoot     string `db:"local_root"`
	RemoteRoot    string `db:"remote_root"`
	Server        string `db:"server"`
	StartedAt     string `db:"started_at"`
	FinishedAt    sql.NullString `db:"finished_at"`
	Outcome       string `db:"outcome"`
	Pushed        int    `db:"pushed"`
	Pulled        int    `db:"pulled"`
	DeletedLocal  int    `db:"deleted_local"`
	DeletedRemote int    `db:"deleted_remote"`
	Conflicts     int    `db:"conflicts"`
	Skipped       int    `db:"skipped"`
	Failed        int    `db:"failed"`
	Error         sql.NullString `db:"error"`
}

// Ledger persists SessionRecords in a small SQLite database, the same way
// the file-sync engine this module descends from kept a per-path journal —
// here it's one row per session rather than one row per path.
type Ledger struct {
	db     *sqlx.DB
	dbPath string
}

func NewLedger(dbPath string) *Ledger {
	return &Ledger{dbPath: dbPath}
}

func (l *Ledger) Open() error {
	if l.db != nil {
		return fmt.Errorf("ledger already open")
	}

	dbDir := filepath.Dir(l.dbPath)
	if err := utils.EnsureDir(dbDir); err != nil {
		return fmt.Errorf("create ledger directory %s: %w", dbDir, err)
	}

	db, err := NewSqliteDB(WithPath(l.dbPath), WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open ledger database: %w", err)
	}
	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return fmt.Errorf("initialize ledger schema: %w", err)
	}

	l.db = db
	return nil
}

func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

// Begin records a new in-progress session row.
func (l *Ledger) Begin(id, localRoot, remoteRoot, server string, startedAt time.Time) error {
	_, err := l.db.Exec(
		`INSERT INTO sync_session (id, local_root, remote_root, server, started_at, outcome) VALUES (?, ?, ?, ?, ?, ?)`,
		id, localRoot, remoteRoot, server, startedAt.UTC().Format(time.RFC3339), OutcomeRunning,
	)
	if err != nil {
		return fmt.Errorf("begin session record %s: %w", id, err)
	}
	return nil
}

// Finish fills in the terminal counters and outcome for a session started
// with Begin.
func (l *Ledger) Finish(id string, finishedAt time.Time, outcome Outcome, pushed, pulled, deletedLocal, deletedRemote, conflicts, skipped, failed int, sessionErr error) error {
	var errText sql.NullString
	if sessionErr != nil {
		errText = sql.NullString{String: sessionErr.Error(), Valid: true}
	}

	_, err := l.db.Exec(
		`UPDATE sync_session SET finished_at = ?, outcome = ?, pushed = ?, pulled = ?, deleted_local = ?, deleted_remote = ?, conflicts = ?, skipped = ?, failed = ?, error = ? WHERE id = ?`,
		finishedAt.UTC().Format(time.RFC3339), outcome, pushed, pulled, deletedLocal, deletedRemote, conflicts, skipped, failed, errText, id,
	)
	if err != nil {
		return fmt.Errorf("finish session record %s: %w", id, err)
	}
	slog.Debug("ledger session finished", "session", id, "outcome", outcome)
	return nil
}

// Recent returns the most recent sessions, newest first, capped at limit.
func (l *Ledger) Recent(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []SessionRecord
	err := l.db.Select(&records, `SELECT * FROM sync_session ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent sessions: %w", err)
	}
	return records, nil
}

// Get fetches a single session record by id.
func (l *Ledger) Get(id string) (*SessionRecord, error) {
	var rec SessionRecord
	err := l.db.Get(&rec, `SELECT * FROM sync_session WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query session %s: %w", id, err)
	}
	return &rec, nil
}

// Prune deletes finished session records older than before, keeping the
// ledger from growing unbounded across months of daily syncs.
func (l *Ledger) Prune(before time.Time) (int64, error) {
	res, err := l.db.Exec(`DELETE FROM sync_session WHERE outcome != ? AND started_at < ?`, OutcomeRunning, before.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("prune sessions before %s: %w", before, err)
	}
	return res.RowsAffected()
}

// Destroy closes and archives the ledger file, the same pattern used to
// reset a corrupted per-path journal: rename rather than delete, so a
// mistaken reset is still recoverable from disk.
func (l *Ledger) Destroy() error {
	path := l.dbPath
	if err := l.Close(); err != nil {
		return fmt.Errorf("close ledger before destroy: %w", err)
	}
	timestamp := time.Now().Format("20060102150405")
	if err := os.Rename(path, fmt.Sprintf("%s.%s.bak", path, timestamp)); err != nil {
		return fmt.Errorf("archive ledger file: %w", err)
	}
	return nil
}

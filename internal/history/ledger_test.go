package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "history.db")
	l := NewLedger(dbPath)
	require.NoError(t, l.Open())
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedger_BeginFinish_RoundTrip(t *testing.T) {
	l := newTestLedger(t)
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, l.Begin("sess-1", "/local", "/remote", "host.example.com", started))

	finished := started.Add(5 * time.Second)
	require.NoError(t, l.Finish("sess-1", finished, OutcomeDone, 3, 2, 1, 0, 0, 4, 0, nil))

	rec, err := l.Get("sess-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "sess-1", rec.ID)
	assert.Equal(t, string(OutcomeDone), rec.Outcome)
	assert.Equal(t, 3, rec.Pushed)
	assert.Equal(t, 2, rec.Pulled)
	assert.True(t, rec.FinishedAt.Valid)
	assert.False(t, rec.Error.Valid)
}

func TestLedger_Finish_RecordsErrorText(t *testing.T) {
	l := newTestLedger(t)
	started := time.Now()
	require.NoError(t, l.Begin("sess-err", "/local", "/remote", "host", started))
	require.NoError(t, l.Finish("sess-err", started.Add(time.Second), OutcomeAborted, 0, 0, 0, 0, 0, 0, 1, errors.New("remote connection refused")))

	rec, err := l.Get("sess-err")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, string(OutcomeAborted), rec.Outcome)
	assert.True(t, rec.Error.Valid)
	assert.Contains(t, rec.Error.String, "connection refused")
}

func TestLedger_Get_MissingReturnsNilNoError(t *testing.T) {
	l := newTestLedger(t)
	rec, err := l.Get("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestLedger_Recent_OrdersNewestFirst(t *testing.T) {
	l := newTestLedger(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, l.Begin("a", "/l", "/r", "h", base))
	require.NoError(t, l.Begin("b", "/l", "/r", "h", base.Add(time.Hour)))
	require.NoError(t, l.Begin("c", "/l", "/r", "h", base.Add(2*time.Hour)))

	records, err := l.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "c", records[0].ID)
	assert.Equal(t, "a", records[2].ID)
}

func TestLedger_Prune_RemovesOldFinishedSessionsOnly(t *testing.T) {
	l := newTestLedger(t)
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, l.Begin("old-done", "/l", "/r", "h", old))
	require.NoError(t, l.Finish("old-done", old.Add(time.Second), OutcomeDone, 0, 0, 0, 0, 0, 0, 0, nil))

	require.NoError(t, l.Begin("old-running", "/l", "/r", "h", old))

	n, err := l.Prune(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pruned, err := l.Get("old-done")
	require.NoError(t, err)
	assert.Nil(t, pruned, "finished session older than the cutoff should be pruned")

	remaining, err := l.Get("old-running")
	require.NoError(t, err)
	assert.NotNil(t, remaining, "running session must survive prune regardless of age")
}

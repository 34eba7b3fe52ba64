package database

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_fanout/logging"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleRun(id string, ts time.Time) RunEntry {
	return RunEntry{
		ID:             id,
		Timestamp:      ts,
		SessionID:      "session-" + id,
		Mode:           "batch",
		ResponseLength: "medium",
		ModelCount:     2,
		Successful:     1,
		LatencyMs:      1234,
		Calls: []CallEntry{
			{Model: "llama3", FullName: "llama3:8b", Status: "completed", Chars: 420, LatencyMs: 900},
			{Model: "phi3", FullName: "phi3:mini", Status: "error", ErrorKind: "timeout", Error: "Model phi3 timed out after 120 seconds", LatencyMs: 1200},
		},
	}
}

func TestLogRunAndGetByID(t *testing.T) {
	db := newTestDB(t)
	ts := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.LogRun(sampleRun("r1", ts)))

	got, err := db.GetRunByID("r1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "session-r1", got.SessionID)
	assert.Equal(t, 2, got.ModelCount)
	assert.True(t, got.Timestamp.Equal(ts))
	require.Len(t, got.Calls, 2)
	assert.Equal(t, "llama3", got.Calls[0].Model)
	assert.Equal(t, "timeout", got.Calls[1].ErrorKind)
}

func TestGetRunByID_Missing(t *testing.T) {
	db := newTestDB(t)

	got, err := db.GetRunByID("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLogRun_DuplicateIDRollsBack(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	require.NoError(t, db.LogRun(sampleRun("dup", now)))

	err := db.LogRun(sampleRun("dup", now))
	require.Error(t, err)

	got, err := db.GetRunByID("dup")
	require.NoError(t, err)
	assert.Len(t, got.Calls, 2)
}

func TestGetRecentRuns_NewestFirst(t *testing.T) {
	db := newTestDB(t)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.LogRun(sampleRun(fmt.Sprintf("r%d", i), base.Add(time.Duration(i)*time.Minute))))
	}

	runs, err := db.GetRecentRuns(2, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r4", runs[0].ID)
	assert.Equal(t, "r3", runs[1].ID)
	assert.Len(t, runs[0].Calls, 2)

	runs, err = db.GetRecentRuns(2, 4)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r0", runs[0].ID)
}

func TestCleanupOldRuns(t *testing.T) {
	db := newTestDB(t)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.LogRun(sampleRun(fmt.Sprintf("r%d", i), base.Add(time.Duration(i)*time.Minute))))
	}

	deleted, err := db.CleanupOldRuns(10)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = db.CleanupOldRuns(2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	total, err := db.GetTotalCount()
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	var orphans int
	require.NoError(t, db.conn.QueryRow("SELECT COUNT(*) FROM model_call WHERE run_id NOT IN (SELECT id FROM run)").Scan(&orphans))
	assert.Zero(t, orphans)
}

func TestRunCleanup_StopsWithContext(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, db.LogRun(sampleRun(fmt.Sprintf("r%d", i), time.Now().Add(time.Duration(i)*time.Second))))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		db.RunCleanup(ctx, 10*time.Millisecond, 1, logging.NewNop())
		close(done)
	}()

	require.Eventually(t, func() bool {
		total, err := db.GetTotalCount()
		return err == nil && total == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}

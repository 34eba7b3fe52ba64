package database

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetRecentRuns returns the most recent runs with pagination, calls included
func (db *DB) GetRecentRuns(limit, offset int) ([]RunEntry, error) {
	query := `
		SELECT id, timestamp, session_id, mode, response_length, model_count, successful, latency_ms
		FROM run
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ? OFFSET ?
	`

	rows, err := db.conn.Query(query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var entries []RunEntry
	for rows.Next() {
		var entry RunEntry
		err := rows.Scan(
			&entry.ID,
			&entry.Timestamp,
			&entry.SessionID,
			&entry.Mode,
			&entry.ResponseLength,
			&entry.ModelCount,
			&entry.Successful,
			&entry.LatencyMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	rows.Close()

	for i := range entries {
		calls, err := db.getCalls(entries[i].ID)
		if err != nil {
			return nil, err
		}
		entries[i].Calls = calls
	}

	return entries, nil
}

// GetRunByID returns a single run by ID, or nil when it does not exist
func (db *DB) GetRunByID(id string) (*RunEntry, error) {
	query := `
		SELECT id, timestamp, session_id, mode, response_length, model_count, successful, latency_ms
		FROM run
		WHERE id = ?
	`

	var entry RunEntry
	err := db.conn.QueryRow(query, id).Scan(
		&entry.ID,
		&entry.Timestamp,
		&entry.SessionID,
		&entry.Mode,
		&entry.ResponseLength,
		&entry.ModelCount,
		&entry.Successful,
		&entry.LatencyMs,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	entry.Calls, err = db.getCalls(id)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (db *DB) getCalls(runID string) ([]CallEntry, error) {
	rows, err := db.conn.Query(`
		SELECT model, full_name, status, error_kind, error, chars, truncated, latency_ms
		FROM model_call
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query model calls: %w", err)
	}
	defer rows.Close()

	var calls []CallEntry
	for rows.Next() {
		var call CallEntry
		if err := rows.Scan(
			&call.Model,
			&call.FullName,
			&call.Status,
			&call.ErrorKind,
			&call.Error,
			&call.Chars,
			&call.Truncated,
			&call.LatencyMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan model call: %w", err)
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return calls, nil
}

// GetTotalCount returns the total number of runs
func (db *DB) GetTotalCount() (int64, error) {
	var count int64
	err := db.conn.QueryRow("SELECT COUNT(*) FROM run").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// CleanupOldRuns removes the oldest runs, keeping only the most recent maxRuns.
// Returns the number of deleted runs
func (db *DB) CleanupOldRuns(maxRuns int) (int64, error) {
	totalCount, err := db.GetTotalCount()
	if err != nil {
		return 0, err
	}

	// If we're under the limit, nothing to do
	if totalCount <= int64(maxRuns) {
		return 0, nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	keep := `
		SELECT id
		FROM run
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?
	`
	if _, err := tx.Exec(`DELETE FROM model_call WHERE run_id NOT IN (`+keep+`)`, maxRuns); err != nil {
		return 0, fmt.Errorf("failed to cleanup model calls: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM run WHERE id NOT IN (`+keep+`)`, maxRuns)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old runs: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup: %w", err)
	}
	return rowsAffected, nil
}

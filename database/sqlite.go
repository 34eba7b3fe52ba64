package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// RunEntry represents one logged fan-out run. Question and answer text are
// deliberately absent.
type RunEntry struct {
	ID             string      `json:"id"`
	Timestamp      time.Time   `json:"timestamp"`
	SessionID      string      `json:"session_id"`
	Mode           string      `json:"mode"`
	ResponseLength string      `json:"response_length"`
	ModelCount     int         `json:"model_count"`
	Successful     int         `json:"successful"`
	LatencyMs      int64       `json:"latency_ms"`
	Calls          []CallEntry `json:"calls,omitempty"`
}

// CallEntry represents the outcome of one model call within a run
type CallEntry struct {
	Model     string `json:"model"`
	FullName  string `json:"full_name"`
	Status    string `json:"status"` // "completed" or "error"
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
	Chars     int    `json:"chars"`
	Truncated bool   `json:"truncated"`
	LatencyMs int64  `json:"latency_ms"`
}

// New creates a new database connection and initializes the schema
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// initSchema creates the required tables if they don't exist
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS run (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		session_id TEXT,
		mode TEXT NOT NULL,
		response_length TEXT,
		model_count INTEGER NOT NULL,
		successful INTEGER NOT NULL,
		latency_ms INTEGER
	);

	CREATE TABLE IF NOT EXISTS model_call (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES run(id) ON DELETE CASCADE,
		model TEXT NOT NULL,
		full_name TEXT,
		status TEXT NOT NULL,
		error_kind TEXT,
		error TEXT,
		chars INTEGER,
		truncated BOOLEAN,
		latency_ms INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_run_timestamp ON run(timestamp);
	CREATE INDEX IF NOT EXISTS idx_model_call_run ON model_call(run_id);
	CREATE INDEX IF NOT EXISTS idx_model_call_model ON model_call(model);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// LogRun inserts a run and its calls in one transaction
func (db *DB) LogRun(entry RunEntry) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO run (id, timestamp, session_id, mode, response_length, model_count, successful, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.Timestamp,
		entry.SessionID,
		entry.Mode,
		entry.ResponseLength,
		entry.ModelCount,
		entry.Successful,
		entry.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, call := range entry.Calls {
		_, err = tx.Exec(`
			INSERT INTO model_call (run_id, model, full_name, status, error_kind, error, chars, truncated, latency_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			entry.ID,
			call.Model,
			call.FullName,
			call.Status,
			call.ErrorKind,
			call.Error,
			call.Chars,
			call.Truncated,
			call.LatencyMs,
		)
		if err != nil {
			return fmt.Errorf("failed to insert model call: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Package storage persists batch progress so an interrupted run can resume
// without re-fetching already-processed identifiers.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/mossyoak/genfetch/internal/model"
)

// ErrPatternMismatch indicates a run name is being reused with a different
// record pattern; resuming it would mix record types.
var ErrPatternMismatch = errors.New("run exists with a different pattern")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	pattern TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS results (
	run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	pid TEXT NOT NULL,
	rows_json TEXT NOT NULL,
	fetched_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (run_id, pid)
);
`

// BatchStore is the SQLite-backed batch progress store.
type BatchStore struct {
	db *sql.DB
}

// Open opens (creating if necessary) the store at the given path.
func Open(dbPath string) (*BatchStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("storage: db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &BatchStore{db: db}, nil
}

// Close closes the database connection.
func (s *BatchStore) Close() error {
	return s.db.Close()
}

// StartRun creates or resumes the named run. Resuming with a different
// pattern is refused.
func (s *BatchStore) StartRun(ctx context.Context, name, pattern string) (int64, error) {
	var (
		id          int64
		havePattern string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, pattern FROM runs WHERE name = ?", name).Scan(&id, &havePattern)
	switch {
	case err == nil:
		if havePattern != pattern {
			return 0, fmt.Errorf("%w: run %q has pattern %q, requested %q",
				ErrPatternMismatch, name, havePattern, pattern)
		}
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
	default:
		return 0, fmt.Errorf("failed to look up run %q: %w", name, err)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (name, pattern) VALUES (?, ?)", name, pattern)
	if err != nil {
		return 0, fmt.Errorf("failed to create run %q: %w", name, err)
	}
	return res.LastInsertId()
}

// SaveResult records the fetched rows for one person identifier.
func (s *BatchStore) SaveResult(ctx context.Context, runID int64, pid string, rows []model.Row) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode rows for %s: %w", pid, err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO results (run_id, pid, rows_json) VALUES (?, ?, ?)",
		runID, pid, string(data))
	if err != nil {
		return fmt.Errorf("failed to save result for %s: %w", pid, err)
	}
	return nil
}

// CompletedResults returns the rows already fetched in a run, keyed by
// person identifier.
func (s *BatchStore) CompletedResults(ctx context.Context, runID int64) (map[string][]model.Row, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT pid, rows_json FROM results WHERE run_id = ?", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]model.Row)
	for rows.Next() {
		var (
			pid  string
			data string
		)
		if err := rows.Scan(&pid, &data); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}

		var decoded []model.Row
		if err := json.Unmarshal([]byte(data), &decoded); err != nil {
			return nil, fmt.Errorf("corrupt stored rows for %s: %w", pid, err)
		}
		out[pid] = decoded
	}
	return out, rows.Err()
}

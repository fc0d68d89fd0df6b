package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		flow_id TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		ended_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS payloads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		port TEXT NOT NULL,
		body BLOB NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		tokens INTEGER NOT NULL,
		latency_ms INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payloads_run ON payloads(run_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_run ON logs(run_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_flow ON runs(flow_id, started_at)`,
}

// SQLiteStore persists runs to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (or creates) a run store.
// The path should be a file path (e.g., "./runs.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// CreateRun implements Recorder.
func (s *SQLiteStore) CreateRun(ctx context.Context, runID, flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, flow_id, status, started_at)
		VALUES (?, ?, ?, ?)
	`, runID, flowID, string(StatusCreated), now())
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpdateRunStatus implements Recorder.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	var ended sql.NullString
	if status.Terminal() {
		ended = sql.NullString{String: now(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, ended_at = COALESCE(?, ended_at)
		WHERE id = ?
	`, string(status), ended, runID)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SavePayload implements Recorder.
func (s *SQLiteStore) SavePayload(ctx context.Context, runID, nodeID, port string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payloads (run_id, node_id, port, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, runID, nodeID, port, body, now())
	if err != nil {
		return fmt.Errorf("save payload: %w", err)
	}
	return nil
}

// RecordRunLog implements Recorder.
func (s *SQLiteStore) RecordRunLog(ctx context.Context, log RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	var errText sql.NullString
	if log.Error != "" {
		errText = sql.NullString{String: log.Error, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (run_id, node_id, tokens, latency_ms, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, log.RunID, log.NodeID, log.Tokens, log.LatencyMs, log.Status, errText, now())
	if err != nil {
		return fmt.Errorf("record run log: %w", err)
	}
	return nil
}

// GetRun implements Reader.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Run{}, ErrStoreClosed
	}

	var (
		run     Run
		status  string
		started string
		ended   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, flow_id, status, started_at, ended_at
		FROM runs WHERE id = ?
	`, runID).Scan(&run.ID, &run.FlowID, &status, &started, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	run.Status = Status(status)
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if ended.Valid {
		run.EndedAt, _ = time.Parse(time.RFC3339Nano, ended.String)
	}
	return run, nil
}

// Payloads implements Reader.
func (s *SQLiteStore) Payloads(ctx context.Context, runID string) ([]Payload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, port, body, created_at
		FROM payloads WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list payloads: %w", err)
	}
	defer rows.Close()

	var out []Payload
	for rows.Next() {
		var p Payload
		var created string
		if err := rows.Scan(&p.NodeID, &p.Port, &p.Body, &created); err != nil {
			return nil, fmt.Errorf("scan payload: %w", err)
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payloads: %w", err)
	}
	return out, nil
}

// Logs implements Reader.
func (s *SQLiteStore) Logs(ctx context.Context, runID string) ([]RunLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, tokens, latency_ms, status, error
		FROM logs WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var out []RunLog
	for rows.Next() {
		l := RunLog{RunID: runID}
		var errText sql.NullString
		if err := rows.Scan(&l.NodeID, &l.Tokens, &l.LatencyMs, &l.Status, &errText); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		l.Error = errText.String
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}
	return out, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Package storage provides a SQLite session journal.
//
// Information Hiding:
// - SQLite connection management hidden behind interface
// - Schema and migration details encapsulated
// - Thread-safe via sql.DB's built-in connection pooling

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/richinex/relay/model"
)

// SqliteJournal implements Journal using SQLite.
// Thread-safe: sql.DB handles connection pooling and concurrent access.
type SqliteJournal struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite journal at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteJournal, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	return newSqliteJournal(db)
}

// NewSqliteInMemory creates an in-memory journal (useful for testing).
func NewSqliteInMemory() (*SqliteJournal, error) {
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	return newSqliteJournal(db)
}

func newSqliteJournal(db *sql.DB) (*SqliteJournal, error) {
	journal := &SqliteJournal{db: db}
	if err := journal.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return journal, nil
}

// Close closes the database connection.
func (s *SqliteJournal) Close() error {
	return s.db.Close()
}

func (s *SqliteJournal) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			assistant_id TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL,
			provider TEXT NOT NULL,
			status TEXT NOT NULL,
			rounds INTEGER NOT NULL DEFAULT 0,
			ttft_ns INTEGER NOT NULL DEFAULT 0,
			ttfc_ns INTEGER NOT NULL DEFAULT 0,
			elapsed_ns INTEGER NOT NULL DEFAULT 0,
			thinking_ns INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_started
		ON sessions(started_at DESC);

		CREATE TABLE IF NOT EXISTS invocations (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			tool TEXT NOT NULL,
			arguments TEXT NOT NULL,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			round INTEGER NOT NULL,
			duration_ns INTEGER NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE,
			UNIQUE(session_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_invocations_session
		ON invocations(session_id, seq);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// BeginSession records a new running session.
func (s *SqliteJournal) BeginSession(ctx context.Context, record SessionRecord) error {
	status := record.Status
	if status == "" {
		status = StatusRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, assistant_id, model, provider, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID, record.AssistantID, record.Model, record.Provider, string(status), record.StartedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// RecordInvocation appends an invocation to a session.
func (s *SqliteJournal) RecordInvocation(ctx context.Context, sessionID string, record model.ToolInvocationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// defer tx.Rollback() is safe even after Commit() - it becomes a no-op
	defer func() { _ = tx.Rollback() }()

	var exists bool
	err = tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM sessions WHERE session_id = ?)", sessionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	var seq int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), -1) + 1 FROM invocations WHERE session_id = ?", sessionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to compute invocation sequence: %w", err)
	}

	args := string(record.Arguments)
	if args == "" {
		args = "{}"
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO invocations (id, session_id, seq, tool, arguments, result, error, status, round, duration_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, sessionID, seq, record.Tool, args, record.Result, record.Error,
		string(record.Status), record.Round, int64(record.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to insert invocation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FinishSession stores the outcome of a session.
func (s *SqliteJournal) FinishSession(ctx context.Context, sessionID string, outcome SessionOutcome) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, rounds = ?, ttft_ns = ?, ttfc_ns = ?, elapsed_ns = ?,
		 thinking_ns = ?, completion_tokens = ?, error = ?, finished_at = ?
		 WHERE session_id = ?`,
		string(outcome.Status), outcome.Rounds,
		int64(outcome.Timings.TimeToFirstToken), int64(outcome.Timings.TimeToFirstContent),
		int64(outcome.Timings.Elapsed), int64(outcome.Timings.Thinking),
		outcome.Timings.CompletionTokens, outcome.Error, outcome.FinishedAt.UnixNano(),
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// Sessions lists sessions, most recent first.
func (s *SqliteJournal) Sessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	query := `SELECT session_id, assistant_id, model, provider, status, rounds, ttft_ns, ttfc_ns,
		elapsed_ns, thinking_ns, completion_tokens, error, started_at, finished_at
		FROM sessions ORDER BY started_at DESC, session_id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	records := []SessionRecord{}
	for rows.Next() {
		var (
			r                             SessionRecord
			status                        string
			ttft, ttfc, elapsed, thinking int64
			startedAt, finishedAt         int64
		)
		if err := rows.Scan(&r.ID, &r.AssistantID, &r.Model, &r.Provider, &status, &r.Rounds,
			&ttft, &ttfc, &elapsed, &thinking, &r.Timings.CompletionTokens, &r.Error,
			&startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		r.Status = SessionStatus(status)
		r.Timings.TimeToFirstToken = time.Duration(ttft)
		r.Timings.TimeToFirstContent = time.Duration(ttfc)
		r.Timings.Elapsed = time.Duration(elapsed)
		r.Timings.Thinking = time.Duration(thinking)
		r.StartedAt = time.Unix(0, startedAt)
		if finishedAt > 0 {
			r.FinishedAt = time.Unix(0, finishedAt)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return records, nil
}

// Invocations lists a session's invocations in execution order.
func (s *SqliteJournal) Invocations(ctx context.Context, sessionID string) ([]model.ToolInvocationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tool, arguments, result, error, status, round, duration_ns
		 FROM invocations WHERE session_id = ? ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query invocations: %w", err)
	}
	defer rows.Close()

	records := []model.ToolInvocationRecord{}
	for rows.Next() {
		var (
			r        model.ToolInvocationRecord
			args     string
			status   string
			duration int64
		)
		if err := rows.Scan(&r.ID, &r.Tool, &args, &r.Result, &r.Error, &status, &r.Round, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		r.Arguments = json.RawMessage(args)
		r.Status = model.InvocationStatus(status)
		r.Duration = time.Duration(duration)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invocations: %w", err)
	}
	return records, nil
}

// Verify SqliteJournal implements Journal
var _ Journal = (*SqliteJournal)(nil)

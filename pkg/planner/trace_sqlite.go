package planner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/smkhb/Stock-Agent/pkg/agent"
	"github.com/smkhb/Stock-Agent/pkg/core"
)

// SQLiteTraceStore persists trace entries in SQLite.
type SQLiteTraceStore struct {
	db *sql.DB
}

// OpenSQLiteTraceStore opens dsn with the modernc driver and ensures schema.
func OpenSQLiteTraceStore(dsn string) (*SQLiteTraceStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	store, err := NewSQLiteTraceStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteTraceStore creates a SQLite-backed trace store and ensures schema.
func NewSQLiteTraceStore(db *sql.DB) (*SQLiteTraceStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureTraceSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteTraceStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteTraceStore) Close() error {
	return s.db.Close()
}

// Record stores a single trace entry.
func (s *SQLiteTraceStore) Record(ctx context.Context, entry TraceEntry) error {
	transitions, err := json.Marshal(entry.Transitions)
	if err != nil {
		return err
	}
	mem, err := json.Marshal(entry.Memory)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO crew_trace_entries (
			run_id, task_id, agent, status, attempt, delegated_from, transitions_json,
			started_at, finished_at, duration_ms, iterations, tool_attempts,
			output_digest, error_code, error_text, memory_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.RunID,
		entry.TaskID,
		string(entry.Agent),
		string(entry.Status),
		entry.Attempt,
		string(entry.DelegatedFrom),
		string(transitions),
		normalizeTraceTime(entry.StartedAt),
		normalizeTraceTime(entry.FinishedAt),
		entry.Duration.Milliseconds(),
		entry.Iterations,
		entry.ToolAttempts,
		entry.OutputDigest,
		entry.ErrorCode,
		entry.Error,
		string(mem),
	)
	return err
}

// List returns trace entries matching the filter.
func (s *SQLiteTraceStore) List(ctx context.Context, filter TraceFilter) ([]TraceEntry, error) {
	query := `
		SELECT run_id, task_id, agent, status, attempt, delegated_from, transitions_json,
			started_at, finished_at, duration_ms, iterations, tool_attempts,
			output_digest, error_code, error_text, memory_json
		FROM crew_trace_entries
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.RunID != "" {
		addFilter("run_id = ?", filter.RunID)
	}
	if filter.TaskID != "" {
		addFilter("task_id = ?", filter.TaskID)
	}
	if filter.Status != "" {
		addFilter("status = ?", filter.Status)
	}
	query += where + " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []TraceEntry
	for rows.Next() {
		var (
			entry           TraceEntry
			agentRole       string
			status          string
			delegatedFrom   string
			transitionsJSON string
			memoryJSON      string
			durationMs      int64
			started         sql.NullTime
			finished        sql.NullTime
		)
		if err := rows.Scan(
			&entry.RunID,
			&entry.TaskID,
			&agentRole,
			&status,
			&entry.Attempt,
			&delegatedFrom,
			&transitionsJSON,
			&started,
			&finished,
			&durationMs,
			&entry.Iterations,
			&entry.ToolAttempts,
			&entry.OutputDigest,
			&entry.ErrorCode,
			&entry.Error,
			&memoryJSON,
		); err != nil {
			return nil, err
		}
		entry.Agent = agent.Role(agentRole)
		entry.Status = core.TaskState(status)
		entry.DelegatedFrom = agent.Role(delegatedFrom)
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		if transitionsJSON != "" {
			_ = json.Unmarshal([]byte(transitionsJSON), &entry.Transitions)
		}
		if memoryJSON != "" && memoryJSON != "null" {
			_ = json.Unmarshal([]byte(memoryJSON), &entry.Memory)
		}
		if started.Valid {
			entry.StartedAt = started.Time
		}
		if finished.Valid {
			entry.FinishedAt = finished.Time
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func ensureTraceSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS crew_trace_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			agent TEXT NOT NULL,
			status TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			delegated_from TEXT NOT NULL DEFAULT '',
			transitions_json TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			iterations INTEGER NOT NULL DEFAULT 0,
			tool_attempts INTEGER NOT NULL DEFAULT 0,
			output_digest TEXT NOT NULL DEFAULT '',
			error_code TEXT NOT NULL DEFAULT '',
			error_text TEXT NOT NULL DEFAULT '',
			memory_json TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_crew_trace_run ON crew_trace_entries(run_id);
		CREATE INDEX IF NOT EXISTS idx_crew_trace_task ON crew_trace_entries(task_id);
	`)
	return err
}

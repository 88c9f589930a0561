// Copyright 2025 Trinity Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package execlog persists an audit trail of every dispatched tool call in a
// local sqlite database. The auditor falls back to this record when its
// analysis degenerates, and the server manager exposes read-only queries over
// it. It is never reachable from LLM-driven callers.
package execlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Record is one executed tool call.
type Record struct {
	ID        int64
	SessionID string
	StepID    string
	Server    string
	Tool      string
	Command   string
	Success   bool
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS tool_calls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	step_id TEXT,
	server TEXT NOT NULL,
	tool TEXT NOT NULL,
	command TEXT,
	success INTEGER NOT NULL,
	error TEXT,
	duration_ms INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id, step_id);
`

// Open opens (creating if needed) the execution log at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create execlog directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open execlog: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize execlog schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Append records one tool call.
func (s *Store) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (session_id, step_id, server, tool, command, success, error, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.StepID, rec.Server, rec.Tool, rec.Command,
		rec.Success, rec.Error, rec.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to append exec record: %w", err)
	}
	return nil
}

// ForStep returns the records for one step, oldest first.
func (s *Store) ForStep(ctx context.Context, sessionID, stepID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, step_id, server, tool, command, success, error, duration_ms, created_at
		 FROM tool_calls WHERE session_id = ? AND step_id = ? ORDER BY id`,
		sessionID, stepID)
	if err != nil {
		return nil, fmt.Errorf("failed to query exec records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var rec Record
		var durationMs int64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.StepID, &rec.Server,
			&rec.Tool, &rec.Command, &rec.Success, &rec.Error, &durationMs, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Query runs a read-only SQL query and returns generic rows. Only SELECT
// statements are accepted.
func (s *Store) Query(ctx context.Context, query string, params ...any) ([]map[string]any, error) {
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") {
		return nil, fmt.Errorf("only SELECT queries are permitted")
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

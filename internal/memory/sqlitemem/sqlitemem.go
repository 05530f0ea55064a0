// Package sqlitemem persists conversation memory in a local SQLite file,
// giving sessions durability across process restarts without a server.
package sqlitemem

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/featherdev/feather/internal/llm"
	"github.com/featherdev/feather/internal/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	tool_name  TEXT NOT NULL DEFAULT '',
	tokens     INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, seq);
`

// Store implements memory.Store on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path. Use ":memory:" for an
// ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append implements memory.Store. Insert and overflow eviction run in one
// transaction, so concurrent appenders serialize and readers never observe
// a session over its cap.
func (s *Store) Append(ctx context.Context, turn memory.Turn, maxTurns int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, role, content, tool_name, tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, string(turn.Role), turn.Content, turn.ToolName,
		turn.Tokens, turn.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	if maxTurns > 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM turns WHERE session_id = ? AND seq NOT IN (
				SELECT seq FROM turns WHERE session_id = ? ORDER BY seq DESC LIMIT ?
			)`, turn.SessionID, turn.SessionID, maxTurns)
		if err != nil {
			return fmt.Errorf("evict overflow: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// List implements memory.Store.
func (s *Store) List(ctx context.Context, sessionID string) ([]memory.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, tool_name, tokens, created_at
		 FROM turns WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []memory.Turn
	for rows.Next() {
		var t memory.Turn
		var role, createdAt string
		if err := rows.Scan(&t.ID, &t.SessionID, &role, &t.Content, &t.ToolName, &t.Tokens, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = llm.Role(role)
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			t.CreatedAt = ts
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Trim implements memory.Store.
func (s *Store) Trim(ctx context.Context, sessionID string, retain int) error {
	if retain <= 0 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE session_id = ? AND seq NOT IN (
			SELECT seq FROM turns WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		)`, sessionID, sessionID, retain)
	if err != nil {
		return fmt.Errorf("trim session: %w", err)
	}
	return nil
}

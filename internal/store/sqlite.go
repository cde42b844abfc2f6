// Package store provides SQLite-backed persistence for jeand state:
// projects, worktrees, sessions, and messages.
package store

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the main persistence layer for jeand.
type Store struct {
	db *sql.DB
}

// New creates a new Store, initializing the database if needed.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Registered repositories
	CREATE TABLE IF NOT EXISTS projects (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		path           TEXT NOT NULL UNIQUE,
		default_branch TEXT NOT NULL DEFAULT 'main',
		sort_key       INTEGER NOT NULL DEFAULT 0
	);

	-- Worktrees: the base worktree plus feature worktrees per project.
	-- archived_at doubles as the archive flag; archived rows stay until
	-- permanent deletion.
	CREATE TABLE IF NOT EXISTS worktrees (
		id          TEXT PRIMARY KEY,
		project_id  TEXT NOT NULL,
		name        TEXT NOT NULL,
		path        TEXT NOT NULL,
		branch      TEXT NOT NULL,
		kind        TEXT NOT NULL DEFAULT 'feature',  -- base | feature
		sort_key    INTEGER NOT NULL DEFAULT 0,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		archived_at DATETIME,

		FOREIGN KEY (project_id) REFERENCES projects(id)
	);

	-- Sessions: one conversational thread with an agent per row
	CREATE TABLE IF NOT EXISTS sessions (
		id               TEXT PRIMARY KEY,
		worktree_id      TEXT NOT NULL,
		name             TEXT NOT NULL,
		sort_key         INTEGER NOT NULL DEFAULT 0,
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
		agent            TEXT NOT NULL,
		model            TEXT,
		execution_mode   TEXT,
		thinking         TEXT,
		archived_at      DATETIME,
		waiting_for_input BOOLEAN DEFAULT FALSE,
		answered_ids     TEXT,  -- JSON array of answered question ids

		-- Agent-side conversation id, used to resume a CLI session
		agent_session_id TEXT,

		FOREIGN KEY (worktree_id) REFERENCES worktrees(id)
	);

	-- Messages: append-only conversation turns
	CREATE TABLE IF NOT EXISTS messages (
		id            TEXT PRIMARY KEY,
		session_id    TEXT NOT NULL,
		role          TEXT NOT NULL,   -- user | assistant
		content       TEXT NOT NULL DEFAULT '',
		blocks        TEXT,            -- JSON: ordered content blocks
		tool_calls    TEXT,            -- JSON: tool invocations
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
		cancelled     BOOLEAN DEFAULT FALSE,
		stream_error  TEXT,
		plan_approved DATETIME,

		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	-- Indexes for common queries
	CREATE INDEX IF NOT EXISTS idx_worktrees_project ON worktrees(project_id, archived_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_worktree ON sessions(worktree_id, archived_at);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// nullString converts empty string to nil for SQL nullable fields.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

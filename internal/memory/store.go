// Package memory provides session persistence: the durable message
// transcript, the per-session working state the loop accumulates, and
// a tool-call audit trail.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/openroad-labs/carscout/internal/llm"
)

// Store is a SQLite-backed session store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the session database at dbPath.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Sessions (one per connection)
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- Messages: content is the JSON-encoded content block list
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

	-- Working state: whole-value overwrite, JSON
	CREATE TABLE IF NOT EXISTS working_state (
		session_id TEXT NOT NULL PRIMARY KEY,
		state TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Tool call audit trail
	CREATE TABLE IF NOT EXISTS tool_calls (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		tool_use_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		input TEXT NOT NULL,
		status TEXT,
		result TEXT,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		duration_ms INTEGER,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool_name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSession creates the session row if it does not exist.
func (s *Store) EnsureSession(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sessions (id, created_at, updated_at)
		VALUES (?, ?, ?)
	`, sessionID, now, now)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// AppendMessage durably appends one message to the session transcript.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg llm.Message) error {
	if err := s.EnsureSession(ctx, sessionID); err != nil {
		return err
	}

	content, err := json.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("encode message content: %w", err)
	}

	now := time.Now().UTC()
	msgID, _ := uuid.NewV7()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msgID.String(), sessionID, msg.Role, string(content), now)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE sessions SET updated_at = ? WHERE id = ?
	`, now, sessionID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// History returns the session transcript in append order. Rows whose
// content no longer parses are skipped rather than failing the load;
// the normalizer downstream tolerates the gap.
func (s *Store) History(ctx context.Context, sessionID string) ([]llm.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var messages []llm.Message
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		var blocks []llm.ContentBlock
		if err := json.Unmarshal([]byte(content), &blocks); err != nil {
			s.logger.Warn("skipping unparseable message", "session_id", sessionID, "error", err)
			continue
		}
		messages = append(messages, llm.Message{Role: role, Content: blocks})
	}
	return messages, rows.Err()
}

// SessionIDs lists sessions, most recently active first.
func (s *Store) SessionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM sessions ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats returns store-level counters.
func (s *Store) Stats(ctx context.Context) map[string]any {
	var sessionCount, msgCount, toolCallCount int

	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&sessionCount)
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&msgCount)
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tool_calls`).Scan(&toolCallCount)

	return map[string]any{
		"sessions":   sessionCount,
		"messages":   msgCount,
		"tool_calls": toolCallCount,
		"storage":    "sqlite",
	}
}

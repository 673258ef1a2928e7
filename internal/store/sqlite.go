// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides message/event/task persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Bounded wait under contention instead of immediate SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			from_agent TEXT NOT NULL,
			to_agent TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			task_status TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_messages_from_agent ON messages(from_agent);
		CREATE INDEX IF NOT EXISTS idx_messages_to_agent ON messages(to_agent);
		CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);

		CREATE TABLE IF NOT EXISTS agent_events (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			session_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			tool_name TEXT,
			tool_input TEXT,
			tool_output TEXT,
			timestamp TEXT NOT NULL,
			message_id TEXT,
			usage TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_events_agent_id ON agent_events(agent_id);
		CREATE INDEX IF NOT EXISTS idx_events_session_id ON agent_events(session_id);
		CREATE INDEX IF NOT EXISTS idx_events_message_id ON agent_events(message_id);
		CREATE INDEX IF NOT EXISTS idx_events_timestamp ON agent_events(timestamp);

		CREATE TABLE IF NOT EXISTS thoughts (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_thoughts_agent_id ON thoughts(agent_id);
		CREATE INDEX IF NOT EXISTS idx_thoughts_timestamp ON thoughts(timestamp);

		CREATE TABLE IF NOT EXISTS agent_archives (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			agent_type TEXT NOT NULL,
			archived_at TEXT NOT NULL,
			terminal_output TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_archives_agent_id ON agent_archives(agent_id);
		CREATE INDEX IF NOT EXISTS idx_archives_archived_at ON agent_archives(archived_at);

		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			project TEXT NOT NULL DEFAULT '',
			assigned_to TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			priority TEXT NOT NULL DEFAULT 'medium',
			source TEXT NOT NULL DEFAULT 'system',
			linked_workers TEXT NOT NULL DEFAULT '',
			parent_id TEXT NOT NULL DEFAULT '',
			resources TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			completed_at TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_parent_id ON tasks(parent_id);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
		CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
	}{
		{
			table:  "messages",
			column: "task_status",
			check:  `SELECT 1 FROM pragma_table_info('messages') WHERE name = 'task_status'`,
			apply:  `ALTER TABLE messages ADD COLUMN task_status TEXT`,
		},
		{
			table:  "agent_events",
			column: "message_id",
			check:  `SELECT 1 FROM pragma_table_info('agent_events') WHERE name = 'message_id'`,
			apply:  `ALTER TABLE agent_events ADD COLUMN message_id TEXT`,
		},
		{
			table:  "agent_events",
			column: "usage",
			check:  `SELECT 1 FROM pragma_table_info('agent_events') WHERE name = 'usage'`,
			apply:  `ALTER TABLE agent_events ADD COLUMN usage TEXT`,
		},
		{
			table:  "tasks",
			column: "linked_workers",
			check:  `SELECT 1 FROM pragma_table_info('tasks') WHERE name = 'linked_workers'`,
			apply:  `ALTER TABLE tasks ADD COLUMN linked_workers TEXT NOT NULL DEFAULT ''`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// StoreMessage persists a message, replacing any prior row with the same id
func (s *SQLiteStore) StoreMessage(ctx context.Context, msg *Message) error {
	var metadataJSON any
	if len(msg.Metadata) > 0 {
		data, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("encoding message metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	query := `
		INSERT OR REPLACE INTO messages (id, timestamp, from_agent, to_agent, type, content, metadata, task_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.Timestamp.UTC().Format(time.RFC3339Nano),
		msg.FromAgent,
		msg.ToAgent,
		msg.Type,
		msg.Content,
		metadataJSON,
		nullString(msg.TaskStatus),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("stored message", "id", msg.ID, "from", msg.FromAgent, "to", msg.ToAgent, "type", msg.Type)
	return nil
}

const messageColumns = `id, timestamp, from_agent, to_agent, type, content, metadata, task_status`

func scanMessage(scanner interface{ Scan(...any) error }) (*Message, error) {
	var msg Message
	var timestampStr string
	var metadata, taskStatus sql.NullString

	if err := scanner.Scan(&msg.ID, &timestampStr, &msg.FromAgent, &msg.ToAgent, &msg.Type, &msg.Content, &metadata, &taskStatus); err != nil {
		return nil, err
	}

	var err error
	msg.Timestamp, err = time.Parse(time.RFC3339, timestampStr)
	if err != nil {
		return nil, fmt.Errorf("parsing message timestamp: %w", err)
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("parsing message metadata: %w", err)
		}
	}
	if taskStatus.Valid {
		msg.TaskStatus = taskStatus.String
	}
	return &msg, nil
}

// GetMessages retrieves messages newest-first with pagination.
// When agentID is set, only messages sent by or to that agent are returned.
func (s *SQLiteStore) GetMessages(ctx context.Context, limit, offset int, agentID string) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	var query string
	var args []any
	if agentID != "" {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE from_agent = ? OR to_agent = ?
			ORDER BY timestamp DESC, rowid DESC
			LIMIT ? OFFSET ?
		`
		args = []any{agentID, agentID, limit, offset}
	} else {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			ORDER BY timestamp DESC, rowid DESC
			LIMIT ? OFFSET ?
		`
		args = []any{limit, offset}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// CountMessages returns the total message count, optionally filtered by agent
func (s *SQLiteStore) CountMessages(ctx context.Context, agentID string) (int, error) {
	var count int
	var err error
	if agentID != "" {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM messages WHERE from_agent = ? OR to_agent = ?`,
			agentID, agentID,
		).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}

// GetMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// UpdateMessageStatus sets the task-lifecycle status on a message.
// Returns ErrValidation for an unknown status, ErrNotFound for a missing message.
func (s *SQLiteStore) UpdateMessageStatus(ctx context.Context, id, taskStatus string) error {
	if !ValidTaskStatuses[taskStatus] {
		return fmt.Errorf("invalid task status %q: %w", taskStatus, ErrValidation)
	}

	result, err := s.db.ExecContext(ctx, `UPDATE messages SET task_status = ? WHERE id = ?`, taskStatus, id)
	if err != nil {
		return fmt.Errorf("updating message status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated message task status", "id", id, "status", taskStatus)
	return nil
}

// GetTaskMessages returns messages carrying a task-lifecycle status,
// newest-first, optionally filtered to one status.
func (s *SQLiteStore) GetTaskMessages(ctx context.Context, statusFilter string) ([]*Message, error) {
	var query string
	var args []any
	if statusFilter != "" {
		query = `SELECT ` + messageColumns + ` FROM messages WHERE task_status = ? ORDER BY timestamp DESC, rowid DESC`
		args = []any{statusFilter}
	} else {
		query = `SELECT ` + messageColumns + ` FROM messages WHERE task_status IS NOT NULL ORDER BY timestamp DESC, rowid DESC`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying task messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// taskMarkerPrefix tags a message content as a task assignment
const taskMarkerPrefix = "[TASK]"

// GetInbox returns an agent's full history oldest-first, so an agent
// reconstructing context after a restart replays it chronologically.
// PinnedTask is the first task-tagged message ever sent TO the agent;
// later task-tagged messages never replace it.
func (s *SQLiteStore) GetInbox(ctx context.Context, agentID string, limit, offset int) (*Inbox, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	inbox := &Inbox{Messages: []*Message{}}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE to_agent = ? AND content LIKE ?
		ORDER BY timestamp ASC, rowid ASC
		LIMIT 1
	`, agentID, taskMarkerPrefix+"%")
	pinned, err := scanMessage(row)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("querying pinned task: %w", err)
	}
	if err == nil {
		inbox.PinnedTask = pinned
	}

	total, err := s.CountMessages(ctx, agentID)
	if err != nil {
		return nil, err
	}
	inbox.Total = total

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE from_agent = ? OR to_agent = ?
		ORDER BY timestamp ASC, rowid ASC
		LIMIT ? OFFSET ?
	`, agentID, agentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying inbox: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning inbox row: %w", err)
		}
		inbox.Messages = append(inbox.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating inbox rows: %w", err)
	}
	return inbox, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)

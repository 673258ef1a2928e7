// ABOUTME: Persistence for ephemeral agent reasoning notes
// ABOUTME: Thoughts are broadcast live and stored here for later replay

package store

import (
	"context"
	"fmt"
	"time"
)

// StoreThought persists one agent thought
func (s *SQLiteStore) StoreThought(ctx context.Context, thought *Thought) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO thoughts (id, agent_id, content, timestamp)
		VALUES (?, ?, ?, ?)
	`,
		thought.ID,
		thought.AgentID,
		thought.Content,
		thought.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting thought: %w", err)
	}
	s.logger.Debug("stored thought", "id", thought.ID, "agent", thought.AgentID)
	return nil
}

// GetThoughts returns thoughts newest-first with optional agent filter
func (s *SQLiteStore) GetThoughts(ctx context.Context, filters ThoughtFilters) ([]*Thought, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `SELECT id, agent_id, content, timestamp FROM thoughts`
	var args []any
	if filters.AgentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, filters.AgentID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying thoughts: %w", err)
	}
	defer rows.Close()

	var thoughts []*Thought
	for rows.Next() {
		var th Thought
		var timestampStr string
		if err := rows.Scan(&th.ID, &th.AgentID, &th.Content, &timestampStr); err != nil {
			return nil, fmt.Errorf("scanning thought row: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, timestampStr)
		if err != nil {
			return nil, fmt.Errorf("parsing thought timestamp: %w", err)
		}
		th.Timestamp = ts
		thoughts = append(thoughts, &th)
	}
	return thoughts, rows.Err()
}

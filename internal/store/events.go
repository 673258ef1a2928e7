// ABOUTME: Agent event persistence: tool invocations and turn completions
// ABOUTME: Supports retroactive linking of tool events to response messages

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// StoreEvent persists one agent hook event. Tool payloads and usage are
// stored as JSON.
func (s *SQLiteStore) StoreEvent(ctx context.Context, event *AgentEvent) error {
	toolInput, err := encodeJSONField(event.ToolInput)
	if err != nil {
		return fmt.Errorf("encoding tool input: %w", err)
	}
	toolOutput, err := encodeJSONField(event.ToolOutput)
	if err != nil {
		return fmt.Errorf("encoding tool output: %w", err)
	}
	var usage any
	if event.Usage != nil {
		data, err := json.Marshal(event.Usage)
		if err != nil {
			return fmt.Errorf("encoding usage: %w", err)
		}
		usage = string(data)
	}

	query := `
		INSERT INTO agent_events (id, event_type, session_id, agent_id, tool_name, tool_input, tool_output, timestamp, message_id, usage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.SessionID,
		event.AgentID,
		nullString(event.ToolName),
		toolInput,
		toolOutput,
		event.Timestamp.UTC().Format(time.RFC3339Nano),
		nullString(event.MessageID),
		usage,
	)
	if err != nil {
		return fmt.Errorf("inserting agent event: %w", err)
	}

	s.logger.Debug("stored agent event", "id", event.ID, "type", event.EventType, "agent", event.AgentID)
	return nil
}

// LinkEventsToMessage attributes every still-unlinked event for the agent to
// the given message id. Called when a turn-completion event produces a
// response: the tool calls logged before it belong to that response.
// Returns the number of events linked.
func (s *SQLiteStore) LinkEventsToMessage(ctx context.Context, agentID, messageID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE agent_events
		SET message_id = ?
		WHERE agent_id = ? AND message_id IS NULL AND event_type = ?
	`, messageID, agentID, EventTypePostToolUse)
	if err != nil {
		return 0, fmt.Errorf("linking events to message: %w", err)
	}
	linked, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if linked > 0 {
		s.logger.Debug("linked events to message", "agent", agentID, "message_id", messageID, "count", linked)
	}
	return int(linked), nil
}

const eventColumns = `id, event_type, session_id, agent_id, tool_name, tool_input, tool_output, timestamp, message_id, usage`

// GetEventsByMessage returns the events attributed to a message in timestamp order
func (s *SQLiteStore) GetEventsByMessage(ctx context.Context, messageID string) ([]*AgentEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM agent_events
		WHERE message_id = ?
		ORDER BY timestamp ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("querying events by message: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// GetEvents returns events newest-first with optional filters
func (s *SQLiteStore) GetEvents(ctx context.Context, filters EventFilters) ([]*AgentEvent, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `SELECT ` + eventColumns + ` FROM agent_events WHERE 1=1`
	var args []any
	if filters.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, filters.SessionID)
	}
	if filters.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, filters.AgentID)
	}
	if filters.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, filters.EventType)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]*AgentEvent, error) {
	var events []*AgentEvent
	for rows.Next() {
		var event AgentEvent
		var timestampStr string
		var toolName, toolInput, toolOutput, messageID, usage sql.NullString

		if err := rows.Scan(&event.ID, &event.EventType, &event.SessionID, &event.AgentID,
			&toolName, &toolInput, &toolOutput, &timestampStr, &messageID, &usage); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}

		ts, err := time.Parse(time.RFC3339Nano, timestampStr)
		if err != nil {
			return nil, fmt.Errorf("parsing event timestamp: %w", err)
		}
		event.Timestamp = ts
		event.ToolName = toolName.String
		event.MessageID = messageID.String
		if toolInput.Valid && toolInput.String != "" {
			if err := json.Unmarshal([]byte(toolInput.String), &event.ToolInput); err != nil {
				return nil, fmt.Errorf("parsing tool input: %w", err)
			}
		}
		if toolOutput.Valid && toolOutput.String != "" {
			if err := json.Unmarshal([]byte(toolOutput.String), &event.ToolOutput); err != nil {
				return nil, fmt.Errorf("parsing tool output: %w", err)
			}
		}
		if usage.Valid && usage.String != "" {
			var u Usage
			if err := json.Unmarshal([]byte(usage.String), &u); err != nil {
				return nil, fmt.Errorf("parsing usage: %w", err)
			}
			event.Usage = &u
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}
	return events, nil
}

func encodeJSONField(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

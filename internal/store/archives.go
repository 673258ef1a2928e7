// ABOUTME: Agent archival: terminal snapshots captured before a worker is removed
// ABOUTME: Archives preserve the conversation context of terminated agents

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ArchiveAgent stores a terminal snapshot for an agent being removed.
// Returns the archive id.
func (s *SQLiteStore) ArchiveAgent(ctx context.Context, agentID, agentName, agentType, terminalOutput string) (string, error) {
	archiveID := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_archives (id, agent_id, agent_name, agent_type, archived_at, terminal_output)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		archiveID,
		agentID,
		agentName,
		agentType,
		time.Now().UTC().Format(time.RFC3339),
		nullString(terminalOutput),
	)
	if err != nil {
		return "", fmt.Errorf("inserting archive: %w", err)
	}
	s.logger.Info("archived agent", "archive_id", archiveID, "agent", agentID, "type", agentType)
	return archiveID, nil
}

// ListArchives returns archive summaries newest-first, without terminal output
func (s *SQLiteStore) ListArchives(ctx context.Context) ([]*ArchivedAgent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, agent_name, agent_type, archived_at
		FROM agent_archives
		ORDER BY archived_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying archives: %w", err)
	}
	defer rows.Close()

	var archives []*ArchivedAgent
	for rows.Next() {
		var a ArchivedAgent
		var archivedAtStr string
		if err := rows.Scan(&a.ID, &a.AgentID, &a.AgentName, &a.AgentType, &archivedAtStr); err != nil {
			return nil, fmt.Errorf("scanning archive row: %w", err)
		}
		ts, err := time.Parse(time.RFC3339, archivedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing archived_at: %w", err)
		}
		a.ArchivedAt = ts
		archives = append(archives, &a)
	}
	return archives, rows.Err()
}

// GetArchive retrieves a full archive by id, including terminal output.
// Returns ErrNotFound if no such archive exists.
func (s *SQLiteStore) GetArchive(ctx context.Context, archiveID string) (*ArchivedAgent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, agent_name, agent_type, archived_at, terminal_output
		FROM agent_archives
		WHERE id = ?
	`, archiveID)
	return scanArchive(row)
}

// GetArchiveByAgent retrieves the most recent archive for an agent.
// Returns ErrNotFound if the agent has never been archived.
func (s *SQLiteStore) GetArchiveByAgent(ctx context.Context, agentID string) (*ArchivedAgent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, agent_name, agent_type, archived_at, terminal_output
		FROM agent_archives
		WHERE agent_id = ?
		ORDER BY archived_at DESC
		LIMIT 1
	`, agentID)
	return scanArchive(row)
}

func scanArchive(row *sql.Row) (*ArchivedAgent, error) {
	var a ArchivedAgent
	var archivedAtStr string
	var terminalOutput sql.NullString

	err := row.Scan(&a.ID, &a.AgentID, &a.AgentName, &a.AgentType, &archivedAtStr, &terminalOutput)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning archive: %w", err)
	}

	ts, err := time.Parse(time.RFC3339, archivedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing archived_at: %w", err)
	}
	a.ArchivedAt = ts
	a.TerminalOutput = terminalOutput.String
	return &a, nil
}

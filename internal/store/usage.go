// ABOUTME: Token usage aggregation across agent events for budget reporting
// ABOUTME: Events without usage data are excluded from every aggregate

package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetUsageSummary aggregates token usage per agent across all events that
// carry usage data.
func (s *SQLiteStore) GetUsageSummary(ctx context.Context) ([]*AgentUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, usage
		FROM agent_events
		WHERE usage IS NOT NULL AND usage != ''
	`)
	if err != nil {
		return nil, fmt.Errorf("querying usage events: %w", err)
	}
	defer rows.Close()

	byAgent := make(map[string]*AgentUsage)
	var order []string
	for rows.Next() {
		var agentID, usageJSON string
		if err := rows.Scan(&agentID, &usageJSON); err != nil {
			return nil, fmt.Errorf("scanning usage row: %w", err)
		}
		var u Usage
		if err := json.Unmarshal([]byte(usageJSON), &u); err != nil {
			s.logger.Warn("skipping unparsable usage record", "agent", agentID, "error", err)
			continue
		}
		agg, ok := byAgent[agentID]
		if !ok {
			agg = &AgentUsage{AgentID: agentID}
			byAgent[agentID] = agg
			order = append(order, agentID)
		}
		agg.InputTokens += u.InputTokens
		agg.OutputTokens += u.OutputTokens
		agg.CacheReadTokens += u.CacheReadInputTokens
		agg.CacheCreationTokens += u.CacheCreationInputTokens
		agg.EventCount++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}

	summaries := make([]*AgentUsage, 0, len(order))
	for _, agentID := range order {
		summaries = append(summaries, byAgent[agentID])
	}
	return summaries, nil
}

// GetAgentUsage aggregates token usage for one agent.
// An agent with no usage-carrying events yields all-zero totals, not ErrNotFound.
func (s *SQLiteStore) GetAgentUsage(ctx context.Context, agentID string) (*AgentUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT usage
		FROM agent_events
		WHERE agent_id = ? AND usage IS NOT NULL AND usage != ''
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying agent usage: %w", err)
	}
	defer rows.Close()

	agg := &AgentUsage{AgentID: agentID}
	for rows.Next() {
		var usageJSON string
		if err := rows.Scan(&usageJSON); err != nil {
			return nil, fmt.Errorf("scanning usage row: %w", err)
		}
		var u Usage
		if err := json.Unmarshal([]byte(usageJSON), &u); err != nil {
			s.logger.Warn("skipping unparsable usage record", "agent", agentID, "error", err)
			continue
		}
		agg.InputTokens += u.InputTokens
		agg.OutputTokens += u.OutputTokens
		agg.CacheReadTokens += u.CacheReadInputTokens
		agg.CacheCreationTokens += u.CacheCreationInputTokens
		agg.EventCount++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}
	return agg, nil
}

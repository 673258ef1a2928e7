// ABOUTME: Tests for agent event persistence and retroactive message linking
// ABOUTME: Covers the two-phase write pattern and event filtering

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(id, eventType, agentID string, at time.Time) *AgentEvent {
	return &AgentEvent{
		ID:        id,
		EventType: eventType,
		SessionID: "sess-1",
		AgentID:   agentID,
		Timestamp: at,
	}
}

func TestRetroactiveLinking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	e1 := testEvent("e1", EventTypePostToolUse, "worker-1", base)
	e1.ToolName = "Bash"
	e1.ToolInput = map[string]any{"command": "ls"}
	require.NoError(t, s.StoreEvent(ctx, e1))

	e2 := testEvent("e2", EventTypePostToolUse, "worker-1", base.Add(time.Second))
	e2.ToolName = "Edit"
	require.NoError(t, s.StoreEvent(ctx, e2))

	// Tool events for a different agent must never be swept up
	require.NoError(t, s.StoreEvent(ctx, testEvent("other", EventTypePostToolUse, "worker-2", base)))

	stop := testEvent("e-stop", EventTypeStop, "worker-1", base.Add(2*time.Second))
	require.NoError(t, s.StoreEvent(ctx, stop))

	linked, err := s.LinkEventsToMessage(ctx, "worker-1", "m1")
	require.NoError(t, err)
	assert.Equal(t, 2, linked)

	events, err := s.GetEventsByMessage(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "e2", events[1].ID)
	assert.Equal(t, "Bash", events[0].ToolName)
	input, ok := events[0].ToolInput.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ls", input["command"])

	// A tool event stored after the link must not attach to m1
	e3 := testEvent("e3", EventTypePostToolUse, "worker-1", base.Add(3*time.Second))
	require.NoError(t, s.StoreEvent(ctx, e3))
	events, err = s.GetEventsByMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestSecondStopLinksNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.StoreEvent(ctx, testEvent("e1", EventTypePostToolUse, "worker-1", base)))
	linked, err := s.LinkEventsToMessage(ctx, "worker-1", "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, linked)

	// Rapid second turn completion with no tool calls between: zero links is correct
	linked, err = s.LinkEventsToMessage(ctx, "worker-1", "m2")
	require.NoError(t, err)
	assert.Equal(t, 0, linked)
}

func TestGetEventsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.StoreEvent(ctx, testEvent("e1", EventTypePostToolUse, "worker-1", base)))
	require.NoError(t, s.StoreEvent(ctx, testEvent("e2", EventTypeStop, "worker-1", base.Add(time.Second))))
	other := testEvent("e3", EventTypePostToolUse, "worker-2", base.Add(2*time.Second))
	other.SessionID = "sess-2"
	require.NoError(t, s.StoreEvent(ctx, other))

	byAgent, err := s.GetEvents(ctx, EventFilters{AgentID: "worker-1"})
	require.NoError(t, err)
	require.Len(t, byAgent, 2)
	assert.Equal(t, "e2", byAgent[0].ID) // newest first

	bySession, err := s.GetEvents(ctx, EventFilters{SessionID: "sess-2"})
	require.NoError(t, err)
	require.Len(t, bySession, 1)
	assert.Equal(t, "e3", bySession[0].ID)

	byType, err := s.GetEvents(ctx, EventFilters{EventType: EventTypeStop})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "e2", byType[0].ID)
}

func TestUsageAggregationExcludesUnusagedEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	withUsage := testEvent("e1", EventTypeStop, "worker-1", base)
	withUsage.Usage = &Usage{InputTokens: 100, OutputTokens: 50, CacheReadInputTokens: 10, CacheCreationInputTokens: 5}
	require.NoError(t, s.StoreEvent(ctx, withUsage))

	more := testEvent("e2", EventTypeStop, "worker-1", base.Add(time.Second))
	more.Usage = &Usage{InputTokens: 200, OutputTokens: 75}
	require.NoError(t, s.StoreEvent(ctx, more))

	// No usage: contributes nothing, not even to EventCount
	require.NoError(t, s.StoreEvent(ctx, testEvent("e3", EventTypePostToolUse, "worker-1", base.Add(2*time.Second))))

	usage, err := s.GetAgentUsage(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), usage.InputTokens)
	assert.Equal(t, int64(125), usage.OutputTokens)
	assert.Equal(t, int64(10), usage.CacheReadTokens)
	assert.Equal(t, int64(5), usage.CacheCreationTokens)
	assert.Equal(t, int64(2), usage.EventCount)
}

func TestUsageSummaryGroupsByAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	a := testEvent("e1", EventTypeStop, "worker-1", base)
	a.Usage = &Usage{InputTokens: 10}
	require.NoError(t, s.StoreEvent(ctx, a))

	b := testEvent("e2", EventTypeStop, "worker-2", base.Add(time.Second))
	b.Usage = &Usage{OutputTokens: 20}
	require.NoError(t, s.StoreEvent(ctx, b))

	require.NoError(t, s.StoreEvent(ctx, testEvent("e3", EventTypePostToolUse, "worker-3", base.Add(2*time.Second))))

	summary, err := s.GetUsageSummary(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 2)

	byID := map[string]*AgentUsage{}
	for _, u := range summary {
		byID[u.AgentID] = u
	}
	assert.Equal(t, int64(10), byID["worker-1"].InputTokens)
	assert.Equal(t, int64(20), byID["worker-2"].OutputTokens)
	assert.NotContains(t, byID, "worker-3")
}

func TestThoughtsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.StoreThought(ctx, &Thought{ID: "th1", AgentID: "worker-1", Content: "considering options", Timestamp: base}))
	require.NoError(t, s.StoreThought(ctx, &Thought{ID: "th2", AgentID: "worker-2", Content: "reading code", Timestamp: base.Add(time.Second)}))

	all, err := s.GetThoughts(ctx, ThoughtFilters{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "th2", all[0].ID)

	filtered, err := s.GetThoughts(ctx, ThoughtFilters{AgentID: "worker-1"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "considering options", filtered[0].Content)
}

func TestArchiveLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	archiveID, err := s.ArchiveAgent(ctx, "worker-1", "worker-1", "worker", "terminal scrollback here")
	require.NoError(t, err)
	require.NotEmpty(t, archiveID)

	list, err := s.ListArchives(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].TerminalOutput) // summaries omit the snapshot

	full, err := s.GetArchive(ctx, archiveID)
	require.NoError(t, err)
	assert.Equal(t, "terminal scrollback here", full.TerminalOutput)

	byAgent, err := s.GetArchiveByAgent(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, archiveID, byAgent.ID)

	_, err = s.GetArchive(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

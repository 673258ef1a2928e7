// ABOUTME: Agent hook event and thought ingestion handlers
// ABOUTME: Converts Stop events with responses into stored messages

package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cmux-dev/cmux/internal/realtime"
	"github.com/cmux-dev/cmux/internal/store"
)

const (
	eventStringLimit = 1000
	eventListLimit   = 10
	thoughtToolLimit = 500

	systemTag = "[SYS]"
)

// AgentEventRequest is the JSON body for POST /api/agent-events, posted by
// the hook scripts running inside agent panes.
type AgentEventRequest struct {
	EventType       string       `json:"event_type"`
	SessionID       string       `json:"session_id"`
	AgentID         string       `json:"agent_id"`
	ToolName        string       `json:"tool_name"`
	ToolInput       any          `json:"tool_input"`
	ToolOutput      any          `json:"tool_output"`
	ResponseContent string       `json:"response_content"`
	Usage           *store.Usage `json:"usage"`
}

// ThoughtRequest is the JSON body for POST /api/thoughts.
type ThoughtRequest struct {
	AgentID      string `json:"agent_id"`
	ThoughtType  string `json:"thought_type"`
	Content      string `json:"content"`
	ToolName     string `json:"tool_name,omitempty"`
	ToolInput    string `json:"tool_input,omitempty"`
	ToolResponse string `json:"tool_response,omitempty"`
}

func (s *Server) handleAgentEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listAgentEvents(w, r)
	case http.MethodPost:
		s.ingestAgentEvent(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) listAgentEvents(w http.ResponseWriter, r *http.Request) {
	filters := store.EventFilters{
		SessionID: r.URL.Query().Get("session_id"),
		AgentID:   r.URL.Query().Get("agent_id"),
		EventType: r.URL.Query().Get("event_type"),
		Limit:     queryInt(r, "limit", 100),
	}

	events, err := s.store.GetEvents(r.Context(), filters)
	if err != nil {
		s.storeError(w, err, "events not found")
		return
	}
	if events == nil {
		events = []*store.AgentEvent{}
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  len(events),
	})
}

func (s *Server) ingestAgentEvent(w http.ResponseWriter, r *http.Request) {
	var req AgentEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.EventType != store.EventTypePostToolUse && req.EventType != store.EventTypeStop {
		s.sendJSONError(w, http.StatusBadRequest, "event_type must be PostToolUse or Stop")
		return
	}
	if req.SessionID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	// Hooks report a raw runtime session id before the agent knows its own
	// name; fall back to the session so events still group sensibly.
	agentID := req.AgentID
	if agentID == "" || agentID == "unknown" {
		agentID = req.SessionID
	}

	event := &store.AgentEvent{
		ID:         uuid.New().String()[:8],
		EventType:  req.EventType,
		SessionID:  req.SessionID,
		AgentID:    agentID,
		ToolName:   req.ToolName,
		ToolInput:  truncateContent(req.ToolInput),
		ToolOutput: truncateContent(req.ToolOutput),
		Timestamp:  time.Now().UTC(),
		Usage:      req.Usage,
	}

	if err := s.store.StoreEvent(r.Context(), event); err != nil {
		s.storeError(w, err, "event not stored")
		return
	}

	resp := map[string]any{
		"success":  true,
		"event_id": event.ID,
	}

	if req.EventType == store.EventTypeStop && req.ResponseContent != "" {
		content := req.ResponseContent
		msgType := store.MessageTypeResponse
		if strings.HasPrefix(content, systemTag) {
			msgType = store.MessageTypeSystem
			content = strings.TrimSpace(strings.TrimPrefix(content, systemTag))
		}

		msg := &store.Message{
			ID:        uuid.New().String(),
			Timestamp: time.Now().UTC(),
			FromAgent: agentID,
			ToAgent:   "user",
			Type:      msgType,
			Content:   content,
		}
		if err := s.store.StoreMessage(r.Context(), msg); err != nil {
			s.storeError(w, err, "message not stored")
			return
		}

		linked, err := s.store.LinkEventsToMessage(r.Context(), agentID, msg.ID)
		if err != nil {
			s.logger.Warn("failed to link events to message", "message_id", msg.ID, "error", err)
		}

		s.hub.Broadcast(realtime.EventNewMessage, msg)

		resp["message_id"] = msg.ID
		resp["linked_events"] = linked
	}

	s.hub.Broadcast(realtime.EventAgentEvent, event)

	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleThoughts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listThoughts(w, r)
	case http.MethodPost:
		s.ingestThought(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) listThoughts(w http.ResponseWriter, r *http.Request) {
	filters := store.ThoughtFilters{
		AgentID: r.URL.Query().Get("agent_id"),
		Limit:   queryInt(r, "limit", 100),
	}

	thoughts, err := s.store.GetThoughts(r.Context(), filters)
	if err != nil {
		s.storeError(w, err, "thoughts not found")
		return
	}
	if thoughts == nil {
		thoughts = []*store.Thought{}
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"thoughts": thoughts,
		"total":    len(thoughts),
	})
}

func (s *Server) ingestThought(w http.ResponseWriter, r *http.Request) {
	var req ThoughtRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AgentID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	if req.Content == "" {
		s.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}

	thought := &store.Thought{
		ID:        uuid.New().String()[:8],
		AgentID:   req.AgentID,
		Content:   req.Content,
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.StoreThought(r.Context(), thought); err != nil {
		s.storeError(w, err, "thought not stored")
		return
	}

	s.hub.Broadcast(realtime.EventAgentThought, map[string]any{
		"id":            thought.ID,
		"agent_id":      thought.AgentID,
		"thought_type":  req.ThoughtType,
		"content":       thought.Content,
		"tool_name":     req.ToolName,
		"tool_input":    truncateString(req.ToolInput, thoughtToolLimit),
		"tool_response": truncateString(req.ToolResponse, thoughtToolLimit),
		"timestamp":     thought.Timestamp,
	})

	s.sendJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"thought_id": thought.ID,
	})
}

// truncateContent caps hook payloads before storage. Tool outputs can carry
// entire file dumps; nobody replays those from the event log.
func truncateContent(v any) any {
	switch val := v.(type) {
	case string:
		return truncateString(val, eventStringLimit)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = truncateContent(item)
		}
		return out
	case []any:
		if len(val) > eventListLimit {
			val = val[:eventListLimit]
		}
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = truncateContent(item)
		}
		return out
	default:
		return v
	}
}

func truncateString(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "... [truncated]"
}

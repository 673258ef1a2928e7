// ABOUTME: Token budget and heartbeat API handlers
// ABOUTME: Aggregates usage from stored hook events

package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cmux-dev/cmux/internal/realtime"
	"github.com/cmux-dev/cmux/internal/store"
)

func (s *Server) handleBudgetSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	summary, err := s.store.GetUsageSummary(r.Context())
	if err != nil {
		s.storeError(w, err, "usage not found")
		return
	}
	if summary == nil {
		summary = []*store.AgentUsage{}
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"agents": summary,
		"total":  len(summary),
	})
}

func (s *Server) handleAgentBudget(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	agentID := strings.TrimPrefix(r.URL.Path, "/api/budget/")
	if agentID == "" {
		s.handleBudgetSummary(w, r)
		return
	}

	usage, err := s.store.GetAgentUsage(r.Context(), agentID)
	if err != nil {
		s.storeError(w, err, "usage not found")
		return
	}

	events, err := s.store.GetEvents(r.Context(), store.EventFilters{
		AgentID: agentID,
		Limit:   queryInt(r, "limit", 20),
	})
	if err != nil {
		s.storeError(w, err, "events not found")
		return
	}
	recent := make([]*store.AgentEvent, 0, len(events))
	for _, ev := range events {
		if ev.Usage != nil {
			recent = append(recent, ev)
		}
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"usage":         usage,
		"recent_events": recent,
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.hbMu.Lock()
		latest := s.heartbeat
		s.hbMu.Unlock()

		if latest == nil {
			s.sendJSON(w, http.StatusOK, map[string]any{
				"status":  "no_data",
				"message": "no heartbeat received yet",
			})
			return
		}
		s.sendJSON(w, http.StatusOK, latest)

	case http.MethodPost:
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		// A literal JSON null decodes without error into a nil map
		if payload == nil {
			payload = map[string]any{}
		}
		payload["received_at"] = time.Now().UTC().Format(time.RFC3339)

		s.hbMu.Lock()
		s.heartbeat = payload
		s.hbMu.Unlock()

		s.hub.Broadcast(realtime.EventHeartbeatUpdate, payload)

		s.sendJSON(w, http.StatusOK, map[string]any{"success": true})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// ABOUTME: Agent discovery, registration, messaging, and archive handlers
// ABOUTME: Bridges HTTP clients to the tmux-backed agent manager

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cmux-dev/cmux/internal/agents"
	"github.com/cmux-dev/cmux/internal/realtime"
	"github.com/cmux-dev/cmux/internal/registry"
	"github.com/cmux-dev/cmux/internal/store"
)

const messagePreviewLimit = 100

// AgentCreateRequest is the JSON body for POST /api/agents.
type AgentCreateRequest struct {
	Name    string `json:"name"`
	Session string `json:"session"`
}

// AgentRegisterRequest is the JSON body for POST /api/agents/register,
// called by agents announcing themselves on startup.
type AgentRegisterRequest struct {
	LocationKey string `json:"location_key"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	ProjectID   string `json:"project_id"`
	Permanent   bool   `json:"permanent"`
}

// AgentMessageRequest is the JSON body for POST /api/agents/{id}/message.
type AgentMessageRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.agents.ListAgents(r.Context(), r.URL.Query().Get("session"))
		if err != nil {
			s.agentError(w, err)
			return
		}
		if list == nil {
			list = []*agents.Agent{}
		}
		s.sendJSON(w, http.StatusOK, map[string]any{
			"agents": list,
			"total":  len(list),
		})

	case http.MethodPost:
		var req AgentCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Name == "" {
			s.sendJSONError(w, http.StatusBadRequest, "name is required")
			return
		}

		agent, err := s.agents.CreateWorker(r.Context(), req.Name, req.Session)
		if err != nil {
			s.agentError(w, err)
			return
		}
		s.sendJSON(w, http.StatusCreated, agent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAgentSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	parts := strings.Split(rest, "/")
	if parts[0] == "" {
		s.handleAgents(w, r)
		return
	}

	if parts[0] == "register" {
		s.handleAgentRegister(w, r)
		return
	}

	agentID := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			agent, err := s.agents.GetAgent(r.Context(), agentID)
			if err != nil {
				s.agentError(w, err)
				return
			}
			s.sendJSON(w, http.StatusOK, agent)

		case http.MethodDelete:
			agent, err := s.agents.GetAgent(r.Context(), agentID)
			if err != nil {
				s.agentError(w, err)
				return
			}
			if err := s.agents.RemoveAgent(r.Context(), agentID); err != nil {
				s.agentError(w, err)
				return
			}
			s.hub.Broadcast(realtime.EventAgentArchived, map[string]any{
				"agent_id": agent.ID,
				"name":     agent.Name,
			})
			s.sendJSON(w, http.StatusOK, map[string]any{
				"status":   "removed",
				"agent_id": agent.ID,
			})

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch parts[1] {
	case "message":
		s.handleAgentMessage(w, r, agentID)
	case "interrupt":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		agent, err := s.agents.Interrupt(r.Context(), agentID)
		if err != nil {
			s.agentError(w, err)
			return
		}
		s.sendJSON(w, http.StatusOK, map[string]any{
			"status":   "interrupted",
			"agent_id": agent.ID,
		})
	case "compact":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		agent, err := s.agents.SendMessage(r.Context(), agentID, "/compact")
		if err != nil {
			s.agentError(w, err)
			return
		}
		s.sendJSON(w, http.StatusOK, map[string]any{
			"status":   "compacting",
			"agent_id": agent.ID,
		})
	case "terminal":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		agent, output, err := s.agents.CaptureTerminal(r.Context(), agentID, queryInt(r, "lines", 50))
		if err != nil {
			s.agentError(w, err)
			return
		}
		s.sendJSON(w, http.StatusOK, map[string]any{
			"agent_id": agent.ID,
			"name":     agent.Name,
			"output":   output,
		})
	default:
		s.sendJSONError(w, http.StatusNotFound, "unknown agent action")
	}
}

func (s *Server) handleAgentRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req AgentRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.LocationKey == "" || !strings.Contains(req.LocationKey, ":") {
		s.sendJSONError(w, http.StatusBadRequest, "location_key must be session:window")
		return
	}
	role := req.Role
	if role == "" {
		role = registry.RoleWorker
	}

	entry, err := s.registry.Register(req.LocationKey, registry.Entry{
		DisplayName: req.DisplayName,
		Role:        role,
		ProjectID:   req.ProjectID,
		Permanent:   req.Permanent,
	})
	if err != nil {
		s.logger.Error("agent registration failed", "location_key", req.LocationKey, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"agent_id":     entry.AgentID,
		"location_key": req.LocationKey,
		"role":         entry.Role,
	})
}

func (s *Server) handleAgentMessage(w http.ResponseWriter, r *http.Request, agentID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req AgentMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		s.sendJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	agent, err := s.agents.SendMessage(r.Context(), agentID, req.Message)
	if err != nil {
		s.agentError(w, err)
		return
	}

	msg := &store.Message{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		FromAgent: "user",
		ToAgent:   agent.ID,
		Type:      store.MessageTypeUser,
		Content:   req.Message,
	}
	if err := s.store.StoreMessage(r.Context(), msg); err != nil {
		s.logger.Warn("failed to persist user message", "agent_id", agent.ID, "error", err)
	}

	preview := req.Message
	if len(preview) > messagePreviewLimit {
		preview = preview[:messagePreviewLimit]
	}
	s.hub.Broadcast(realtime.EventMessageSent, map[string]any{
		"agent_id": agent.ID,
		"content":  preview,
	})
	s.hub.Broadcast(realtime.EventNewMessage, msg)

	s.sendJSON(w, http.StatusOK, map[string]any{
		"status":     "sent",
		"agent_id":   agent.ID,
		"message_id": msg.ID,
	})
}

func (s *Server) handleListArchives(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	archives, err := s.store.ListArchives(r.Context())
	if err != nil {
		s.storeError(w, err, "archives not found")
		return
	}
	if archives == nil {
		archives = []*store.ArchivedAgent{}
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"archives": archives,
		"total":    len(archives),
	})
}

func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/archives/")
	if id == "" {
		s.handleListArchives(w, r)
		return
	}

	// Agent IDs look up the newest archive for that agent; anything else is
	// treated as an archive record ID.
	var (
		archive *store.ArchivedAgent
		err     error
	)
	if strings.HasPrefix(id, registry.AgentIDPrefix) {
		archive, err = s.store.GetArchiveByAgent(r.Context(), id)
	} else {
		archive, err = s.store.GetArchive(r.Context(), id)
	}
	if err != nil {
		s.storeError(w, err, "archive not found")
		return
	}

	s.sendJSON(w, http.StatusOK, archive)
}

func (s *Server) agentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agents.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, "agent not found")
	case errors.Is(err, agents.ErrSupervisorProtected):
		s.sendJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, agents.ErrAlreadyExists):
		s.sendJSONError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("agent operation failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

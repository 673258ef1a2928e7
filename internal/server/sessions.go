// ABOUTME: Session lifecycle API handlers
// ABOUTME: Create, terminate, pause, resume, clear, and message sessions

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/cmux-dev/cmux/internal/realtime"
	"github.com/cmux-dev/cmux/internal/session"
)

// SessionCreateRequest is the JSON body for POST /api/sessions.
type SessionCreateRequest struct {
	Name            string `json:"name"`
	TaskDescription string `json:"task_description"`
	Template        string `json:"template"`
}

// SessionMessageRequest is the JSON body for POST /api/sessions/{id}/message.
type SessionMessageRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sessions, err := s.sessions.ListSessions(r.Context())
		if err != nil {
			s.sendJSONError(w, http.StatusInternalServerError, "failed to list sessions")
			s.logger.Error("session listing failed", "error", err)
			return
		}
		if sessions == nil {
			sessions = []*session.Session{}
		}
		s.sendJSON(w, http.StatusOK, map[string]any{
			"sessions": sessions,
			"total":    len(sessions),
		})

	case http.MethodPost:
		var req SessionCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Name == "" {
			s.sendJSONError(w, http.StatusBadRequest, "name is required")
			return
		}

		created, err := s.sessions.CreateSession(r.Context(), req.Name, req.TaskDescription, req.Template)
		if err != nil {
			s.sessionError(w, err)
			return
		}

		s.hub.Broadcast(realtime.EventSessionCreated, created)
		s.sendJSON(w, http.StatusCreated, created)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessionSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(rest, "/")
	if parts[0] == "" {
		s.handleSessions(w, r)
		return
	}
	sessionID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			sess, err := s.sessions.GetSession(r.Context(), sessionID)
			if err != nil {
				s.sessionError(w, err)
				return
			}
			s.sendJSON(w, http.StatusOK, sess)

		case http.MethodDelete:
			if err := s.sessions.TerminateSession(r.Context(), sessionID); err != nil {
				s.sessionError(w, err)
				return
			}
			s.hub.Broadcast(realtime.EventSessionTerminated, map[string]any{
				"session_id": sessionID,
				"reason":     "User requested termination",
			})
			s.sendJSON(w, http.StatusOK, map[string]any{
				"status":     "terminated",
				"session_id": sessionID,
			})

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if r.Method != http.MethodPost && parts[1] != "agents" {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch parts[1] {
	case "pause":
		s.sessionStatusChange(w, r, sessionID, session.StatusPaused, s.sessions.PauseSession)
	case "resume":
		s.sessionStatusChange(w, r, sessionID, session.StatusActive, s.sessions.ResumeSession)
	case "clear":
		if err := s.sessions.ClearSession(r.Context(), sessionID); err != nil {
			s.sessionError(w, err)
			return
		}
		s.sendJSON(w, http.StatusOK, map[string]any{
			"status":     "cleared",
			"session_id": sessionID,
		})
	case "message":
		var req SessionMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Message == "" {
			s.sendJSONError(w, http.StatusBadRequest, "message is required")
			return
		}
		if err := s.sessions.SendToSession(r.Context(), sessionID, req.Message); err != nil {
			s.sessionError(w, err)
			return
		}
		s.sendJSON(w, http.StatusOK, map[string]any{
			"status":     "sent",
			"session_id": sessionID,
		})
	case "agents":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		names, err := s.sessions.ListSessionAgents(r.Context(), sessionID)
		if err != nil {
			s.sessionError(w, err)
			return
		}
		if names == nil {
			names = []string{}
		}
		s.sendJSON(w, http.StatusOK, map[string]any{
			"session_id": sessionID,
			"agents":     names,
			"total":      len(names),
		})
	default:
		s.sendJSONError(w, http.StatusNotFound, "unknown session action")
	}
}

func (s *Server) sessionStatusChange(w http.ResponseWriter, r *http.Request, sessionID, status string, op func(context.Context, string) error) {
	if err := op(r.Context(), sessionID); err != nil {
		s.sessionError(w, err)
		return
	}
	s.hub.Broadcast(realtime.EventSessionStatus, map[string]any{
		"session_id": sessionID,
		"status":     status,
	})
	s.sendJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"session_id": sessionID,
	})
}

func (s *Server) sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrMainImmortal):
		s.sendJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, session.ErrAlreadyExists):
		s.sendJSONError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("session operation failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

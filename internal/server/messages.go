// ABOUTME: Message history, inbox, and task-status API handlers
// ABOUTME: Also ingests user and daemon-routed internal messages

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

// MessageListResponse is the JSON response for GET /api/messages.
type MessageListResponse struct {
	Messages []*store.Message `json:"messages"`
	Total    int              `json:"total"`
	HasMore  bool             `json:"has_more"`
}

// InboxResponse is the JSON response for GET /api/messages/inbox/{agent}.
type InboxResponse struct {
	PinnedTask *store.Message   `json:"pinned_task"`
	Messages   []*store.Message `json:"messages"`
	Total      int              `json:"total"`
}

// StatusUpdateRequest is the JSON body for PATCH /api/messages/{id}/status.
type StatusUpdateRequest struct {
	Status string `json:"status"`
}

// UserMessageRequest is the JSON body for POST /api/messages/user.
type UserMessageRequest struct {
	FromAgent string `json:"from_agent"`
	Content   string `json:"content"`
}

// InternalMessageRequest is the JSON body for POST /api/messages/internal,
// called by the external routing daemon.
type InternalMessageRequest struct {
	FromAgent  string         `json:"from_agent"`
	ToAgent    string         `json:"to_agent"`
	Type       string         `json:"type"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	TaskStatus string         `json:"task_status,omitempty"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	agentID := r.URL.Query().Get("agent_id")

	total, err := s.store.CountMessages(r.Context(), agentID)
	if err != nil {
		s.storeError(w, err, "")
		return
	}
	messages, err := s.store.GetMessages(r.Context(), limit, offset, agentID)
	if err != nil {
		s.storeError(w, err, "")
		return
	}
	if messages == nil {
		messages = []*store.Message{}
	}

	s.sendJSON(w, http.StatusOK, MessageListResponse{
		Messages: messages,
		Total:    total,
		HasMore:  offset+len(messages) < total,
	})
}

func (s *Server) handleMessageSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	parts := strings.Split(rest, "/")

	switch {
	case rest == "tasks":
		s.handleTaskMessages(w, r)
	case rest == "user":
		s.handleUserMessage(w, r)
	case rest == "internal":
		s.handleInternalMessage(w, r)
	case len(parts) == 2 && parts[0] == "inbox":
		s.handleInbox(w, r, parts[1])
	case len(parts) == 2 && parts[1] == "status":
		s.handleMessageStatus(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "events":
		s.handleMessageEvents(w, r, parts[0])
	default:
		s.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleTaskMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	messages, err := s.store.GetTaskMessages(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		s.storeError(w, err, "")
		return
	}
	if messages == nil {
		messages = []*store.Message{}
	}
	s.sendJSON(w, http.StatusOK, MessageListResponse{Messages: messages, Total: len(messages)})
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request, agentID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := queryInt(r, "limit", 200)
	offset := queryInt(r, "offset", 0)

	inbox, err := s.store.GetInbox(r.Context(), agentID, limit, offset)
	if err != nil {
		s.storeError(w, err, "")
		return
	}
	messages := inbox.Messages
	if messages == nil {
		messages = []*store.Message{}
	}
	s.sendJSON(w, http.StatusOK, InboxResponse{
		PinnedTask: inbox.PinnedTask,
		Messages:   messages,
		Total:      inbox.Total,
	})
}

func (s *Server) handleMessageStatus(w http.ResponseWriter, r *http.Request, messageID string) {
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.store.UpdateMessageStatus(r.Context(), messageID, req.Status); err != nil {
		s.storeError(w, err, "message not found")
		return
	}

	s.hub.Broadcast(realtime.EventTaskStatusUpdate, map[string]any{
		"message_id": messageID,
		"status":     req.Status,
	})
	s.sendJSON(w, http.StatusOK, map[string]string{
		"status":      "updated",
		"message_id":  messageID,
		"task_status": req.Status,
	})
}

func (s *Server) handleMessageEvents(w http.ResponseWriter, r *http.Request, messageID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	events, err := s.store.GetEventsByMessage(r.Context(), messageID)
	if err != nil {
		s.storeError(w, err, "")
		return
	}
	if events == nil {
		events = []*store.AgentEvent{}
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"events": events, "total": len(events)})
}

func (s *Server) handleUserMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req UserMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		s.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}

	msg := &store.Message{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		FromAgent: req.FromAgent,
		ToAgent:   "user",
		Type:      store.MessageTypeUser,
		Content:   req.Content,
	}
	if err := s.store.StoreMessage(r.Context(), msg); err != nil {
		s.storeError(w, err, "")
		return
	}

	s.hub.Broadcast(realtime.EventUserMessage, msg)
	s.sendJSON(w, http.StatusOK, map[string]any{"success": true, "message_id": msg.ID})
}

func (s *Server) handleInternalMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req InternalMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		s.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}
	msgType := req.Type
	if msgType == "" {
		msgType = store.MessageTypeMailbox
	}

	var taskStatus string
	if req.TaskStatus != "" {
		if !store.ValidTaskStatuses[req.TaskStatus] {
			s.sendJSONError(w, http.StatusBadRequest, "invalid task_status")
			return
		}
		taskStatus = req.TaskStatus
	}

	msg := &store.Message{
		ID:         uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		FromAgent:  req.FromAgent,
		ToAgent:    req.ToAgent,
		Type:       msgType,
		Content:    req.Content,
		Metadata:   req.Metadata,
		TaskStatus: taskStatus,
	}
	if err := s.store.StoreMessage(r.Context(), msg); err != nil {
		s.storeError(w, err, "")
		return
	}

	s.hub.Broadcast(realtime.EventNewMessage, msg)
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "stored", "id": msg.ID})
}

// ABOUTME: External webhook ingestion handlers
// ABOUTME: Queues webhook payloads into the supervisor mailbox

package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cmux-dev/cmux/internal/realtime"
)

func (s *Server) handleWebhookHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "webhooks",
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	source := strings.Trim(strings.TrimPrefix(r.URL.Path, "/webhooks/"), "/")
	if source == "" || strings.Contains(source, "/") {
		s.sendJSONError(w, http.StatusNotFound, "unknown webhook source")
		return
	}

	var payload any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	messageID := uuid.New().String()
	if err := s.mailbox.SendToSupervisor(messageID, source, payload); err != nil {
		s.logger.Error("failed to queue webhook", "source", source, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to queue webhook")
		return
	}

	s.hub.Broadcast(realtime.EventWebhookReceived, map[string]any{
		"source":     source,
		"message_id": messageID,
	})

	s.sendJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message_id": messageID,
		"queued_at":  time.Now().UTC().Format(time.RFC3339),
	})
}

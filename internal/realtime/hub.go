// ABOUTME: WebSocket fan-out hub for dashboard observers
// ABOUTME: Broadcasts typed envelopes, evicts dead connections on send failure

package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Event names pushed to dashboard clients.
const (
	EventNewMessage        = "new_message"
	EventMessageSent       = "message_sent"
	EventUserMessage       = "user_message"
	EventAgentEvent        = "agent_event"
	EventAgentThought      = "agent_thought"
	EventTaskStatusUpdate  = "task_status_update"
	EventSessionCreated    = "session_created"
	EventSessionTerminated = "session_terminated"
	EventSessionStatus     = "session_status_changed"
	EventHeartbeatUpdate   = "heartbeat_update"
	EventAgentArchived     = "agent_archived"
	EventWebhookReceived   = "webhook_received"
	eventPing              = "ping"
)

const writeTimeout = 10 * time.Second

// Envelope is the wire format for every pushed event.
type Envelope struct {
	Event     string `json:"event"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// Hub tracks open observer connections and fans events out to all of
// them. A connection that fails a send or a ping is presumed dead and
// evicted in the same pass; slow consumers are dropped, never throttled.
type Hub struct {
	pingInterval time.Duration
	logger       *slog.Logger

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// NewHub creates a hub that pings clients every pingInterval once Run is
// started.
func NewHub(pingInterval time.Duration) *Hub {
	return &Hub{
		pingInterval: pingInterval,
		logger:       slog.Default().With("component", "realtime"),
		conns:        make(map[string]*websocket.Conn),
	}
}

// Register adds an open connection and returns its client id.
func (h *Hub) Register(conn *websocket.Conn) string {
	id := uuid.New().String()
	h.mu.Lock()
	h.conns[id] = conn
	count := len(h.conns)
	h.mu.Unlock()
	h.logger.Info("client connected", "client_id", id, "connections", count)
	return id
}

// Disconnect removes and closes one connection.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	conn, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
	}
	h.mu.Unlock()
	if ok {
		conn.Close()
		h.logger.Info("client disconnected", "client_id", id)
	}
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast pushes one typed event to every open connection.
func (h *Hub) Broadcast(event string, data any) {
	payload, ok := h.encode(event, data)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.conns {
		h.writeLocked(id, conn, payload)
	}
}

// SendTo pushes one event to a single client. A failed send evicts the
// client the same way a failed broadcast does.
func (h *Hub) SendTo(id, event string, data any) {
	payload, ok := h.encode(event, data)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if conn, found := h.conns[id]; found {
		h.writeLocked(id, conn, payload)
	}
}

func (h *Hub) encode(event string, data any) ([]byte, bool) {
	payload, err := json.Marshal(Envelope{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		h.logger.Error("failed to encode event", "event", event, "error", err)
		return nil, false
	}
	return payload, true
}

// writeLocked sends one frame and evicts the connection on failure.
// Callers must hold h.mu.
func (h *Hub) writeLocked(id string, conn *websocket.Conn, payload []byte) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.logger.Warn("evicting client after failed send", "client_id", id, "error", err)
		conn.Close()
		delete(h.conns, id)
	}
}

// Run pings every client on a fixed interval until ctx is cancelled.
// Each tick sends the ping envelope dashboards display plus a control
// ping whose pong reply keeps the client's read deadline fresh.
// Shutdown should cancel ctx and then call DisconnectAll.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Broadcast(eventPing, map[string]any{})
			h.pingClients()
		}
	}
}

// pingClients sends a control ping to every connection, evicting the
// ones that cannot be written to.
func (h *Hub) pingClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.conns {
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
			h.logger.Warn("evicting client after failed ping", "client_id", id, "error", err)
			conn.Close()
			delete(h.conns, id)
		}
	}
}

// DisconnectAll closes every connection, swallowing individual close
// failures. Used only at process shutdown.
func (h *Hub) DisconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.conns {
		conn.Close()
		delete(h.conns, id)
	}
}

// ReadLoop consumes inbound frames until the connection dies, then
// evicts it. Clients are push-only apart from pong acknowledgments, so
// everything received is discarded. Pong replies to the ticker's control
// pings refresh the read deadline; a client that stops answering is dead.
// gorilla latches the first read error, so a failed connection is never
// re-read.
func (h *Hub) ReadLoop(id string, conn *websocket.Conn) {
	defer h.Disconnect(id)
	wait := 2 * h.pingInterval
	conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(wait))
	}
}

// ABOUTME: HTTP boundary composing the store, registry, tmux, and realtime layers
// ABOUTME: Routes follow the dashboard API surface; errors map to JSON bodies

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cmux-dev/cmux/internal/agents"
	"github.com/cmux-dev/cmux/internal/config"
	"github.com/cmux-dev/cmux/internal/journal"
	"github.com/cmux-dev/cmux/internal/mailbox"
	"github.com/cmux-dev/cmux/internal/realtime"
	"github.com/cmux-dev/cmux/internal/registry"
	"github.com/cmux-dev/cmux/internal/session"
	"github.com/cmux-dev/cmux/internal/store"
)

// Server wires every subsystem behind the HTTP API.
type Server struct {
	cfg      *config.Config
	store    store.Store
	hub      *realtime.Hub
	agents   *agents.Manager
	sessions *session.Manager
	mailbox  *mailbox.Router
	journal  *journal.Service
	registry *registry.Registry
	logger   *slog.Logger
	httpSrv  *http.Server
	upgrader websocket.Upgrader

	hbMu      sync.Mutex
	heartbeat map[string]any
}

// Deps bundles the subsystems the server composes.
type Deps struct {
	Store    store.Store
	Hub      *realtime.Hub
	Agents   *agents.Manager
	Sessions *session.Manager
	Mailbox  *mailbox.Router
	Journal  *journal.Service
	Registry *registry.Registry
}

func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		store:    deps.Store,
		hub:      deps.Hub,
		agents:   deps.Agents,
		sessions: deps.Sessions,
		mailbox:  deps.Mailbox,
		journal:  deps.Journal,
		registry: deps.Registry,
		logger:   slog.Default().With("component", "server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.httpSrv = &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: s.routes(),
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)

	mux.HandleFunc("/webhooks/health", s.handleWebhookHealth)
	mux.HandleFunc("/webhooks/", s.handleWebhook)

	mux.HandleFunc("/api/agent-events", s.handleAgentEvents)
	mux.HandleFunc("/api/thoughts", s.handleThoughts)

	mux.HandleFunc("/api/messages", s.handleMessages)
	mux.HandleFunc("/api/messages/", s.handleMessageSubroutes)

	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/tasks/", s.handleTaskSubroutes)

	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionSubroutes)

	mux.HandleFunc("/api/agents", s.handleAgents)
	mux.HandleFunc("/api/agents/", s.handleAgentSubroutes)

	mux.HandleFunc("/api/archives", s.handleListArchives)
	mux.HandleFunc("/api/archives/", s.handleGetArchive)

	mux.HandleFunc("/api/budget", s.handleBudgetSummary)
	mux.HandleFunc("/api/budget/", s.handleAgentBudget)

	mux.HandleFunc("/api/heartbeat", s.handleHeartbeat)

	mux.HandleFunc("/api/journal/entries", s.handleJournalEntries)
	mux.HandleFunc("/api/journal/dates", s.handleJournalDates)
	mux.HandleFunc("/api/journal/days/", s.handleJournalDay)
	mux.HandleFunc("/api/journal/search", s.handleJournalSearch)

	return mux
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes realtime connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	s.hub.DisconnectAll()
	return err
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	id := s.hub.Register(conn)
	go s.hub.ReadLoop(id, conn)
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// storeError maps store sentinel errors onto HTTP statuses.
func (s *Server) storeError(w http.ResponseWriter, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, notFoundMsg)
	case errors.Is(err, store.ErrValidation):
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("store operation failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// queryInt parses an integer query parameter, falling back on def.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// ABOUTME: Session lifecycle orchestration: provision, pause, terminate
// ABOUTME: A session is one tmux session holding a supervisor and its workers

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cmux-dev/cmux/internal/tmux"
)

// Session statuses.
const (
	StatusActive    = "ACTIVE"
	StatusPaused    = "PAUSED"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

const (
	sessionPrefix    = "cmux-"
	supervisorPrefix = "supervisor-"
	templateDir      = "docs/templates"
	defaultTemplate  = "FEATURE_SUPERVISOR"
	vimModeSettle    = time.Second
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrAlreadyExists = errors.New("session already exists")
	ErrMainImmortal  = errors.New("the main session cannot be terminated")
)

// systemWindows never count as agents and never receive worker directives.
var systemWindows = map[string]bool{
	"monitor": true,
}

// Session is one named supervisor+workers group.
type Session struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	SupervisorAgent string `json:"supervisor_agent"`
	TaskDescription string `json:"task_description,omitempty"`
	Template        string `json:"template,omitempty"`
	IsMain          bool   `json:"is_main"`
	AgentCount      int    `json:"agent_count"`
}

// Manager provisions and tears down sessions. Pause state is advisory and
// in-memory only; tmux is the ground truth for what exists.
type Manager struct {
	tmux         *tmux.Client
	injector     *Injector
	mainSession  string
	agentCommand string
	startupDelay time.Duration
	gracePeriod  time.Duration
	logger       *slog.Logger
	sleep        func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(client *tmux.Client, injector *Injector, mainSession, agentCommand string, startupDelay, gracePeriod time.Duration) *Manager {
	return &Manager{
		tmux:         client,
		injector:     injector,
		mainSession:  mainSession,
		agentCommand: agentCommand,
		startupDelay: startupDelay,
		gracePeriod:  gracePeriod,
		logger:       slog.Default().With("component", "session"),
		sleep:        sleepCtx,
		sessions:     make(map[string]*Session),
	}
}

// ListSessions returns every live tmux session that looks like one of
// ours (has a supervisor window), with agent counts refreshed.
func (m *Manager) ListSessions(ctx context.Context) ([]*Session, error) {
	names, err := m.tmux.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	var sessions []*Session
	for _, name := range names {
		sess, err := m.materialize(ctx, name)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			sessions = append(sessions, sess)
		}
	}
	return sessions, nil
}

// GetSession returns one session, or ErrNotFound.
func (m *Manager) GetSession(ctx context.Context, id string) (*Session, error) {
	exists, err := m.tmux.HasSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	sess, err := m.materialize(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	return sess, nil
}

// CreateSession provisions a new session: tmux session with the
// supervisor as its initial window, agent process started inside it, a
// fixed startup settle, vim mode disabled for reliable injection, then
// role instructions pointing at a named template.
func (m *Manager) CreateSession(ctx context.Context, name, taskDescription, template string) (*Session, error) {
	safeName := sanitizeName(name)
	if safeName == "" {
		return nil, fmt.Errorf("invalid session name %q", name)
	}
	id := sessionPrefix + safeName
	supervisor := supervisorPrefix + safeName

	exists, err := m.tmux.HasSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("session %s: %w", id, ErrAlreadyExists)
	}

	if err := m.tmux.CreateSession(ctx, id, supervisor, nil); err != nil {
		return nil, fmt.Errorf("creating session %s: %w", id, err)
	}

	target := id + ":" + supervisor
	workdir, _ := os.Getwd()
	startup := fmt.Sprintf(
		"export CMUX_AGENT=true CMUX_AGENT_NAME=%s CMUX_SESSION=%s && cd %s && %s",
		supervisor, id, workdir, m.agentCommand,
	)
	if err := m.injector.Inject(ctx, target, startup); err != nil {
		return nil, fmt.Errorf("starting agent in %s: %w", target, err)
	}

	// The agent process needs this long before it accepts input. This is
	// a measured floor, not a tunable.
	if err := m.sleep(ctx, m.startupDelay); err != nil {
		return nil, err
	}

	if err := m.tmux.DisableVimMode(ctx, id); err != nil {
		m.logger.Warn("failed to disable vim mode", "session", id, "error", err)
	}
	if err := m.sleep(ctx, vimModeSettle); err != nil {
		return nil, err
	}

	if template == "" {
		template = defaultTemplate
	}
	roleMsg := fmt.Sprintf("Read %s/%s.md to understand your role. Your task: %s",
		templateDir, template, taskDescription)
	if err := m.injector.Inject(ctx, target, roleMsg); err != nil {
		return nil, fmt.Errorf("sending role instructions to %s: %w", target, err)
	}

	sess := &Session{
		ID:              id,
		Name:            displayName(name),
		Status:          StatusActive,
		SupervisorAgent: supervisor,
		TaskDescription: taskDescription,
		Template:        template,
		AgentCount:      1,
	}
	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	m.logger.Info("created session", "id", id, "supervisor", supervisor)
	return sess, nil
}

// TerminateSession shuts a session down: workers get a graceful exit
// directive, then after the grace period the tmux session is killed. The
// main session is immortal.
func (m *Manager) TerminateSession(ctx context.Context, id string) error {
	if id == m.mainSession {
		return ErrMainImmortal
	}
	exists, err := m.tmux.HasSession(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}

	windows, err := m.tmux.ListWindows(ctx, id)
	if err != nil {
		return fmt.Errorf("listing windows in %s: %w", id, err)
	}
	for _, w := range windows {
		if systemWindows[w] || strings.HasPrefix(w, "supervisor") {
			continue
		}
		if err := m.injector.Inject(ctx, id+":"+w, "/exit"); err != nil {
			m.logger.Warn("failed to signal worker exit", "window", w, "error", err)
		}
	}

	if err := m.sleep(ctx, m.gracePeriod); err != nil {
		return err
	}

	if err := m.tmux.KillSession(ctx, id); err != nil {
		return fmt.Errorf("killing session %s: %w", id, err)
	}

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.logger.Info("terminated session", "id", id)
	return nil
}

// PauseSession tells the supervisor to stop picking up work. Advisory
// only; the session keeps running.
func (m *Manager) PauseSession(ctx context.Context, id string) error {
	return m.directive(ctx, id,
		"[SYSTEM] Session paused. Stop processing new tasks until resumed.", StatusPaused)
}

// ResumeSession reverses PauseSession.
func (m *Manager) ResumeSession(ctx context.Context, id string) error {
	return m.directive(ctx, id,
		"[SYSTEM] Session resumed. You may continue processing tasks.", StatusActive)
}

// ClearSession asks the supervisor to start a fresh conversation.
func (m *Manager) ClearSession(ctx context.Context, id string) error {
	sess, err := m.GetSession(ctx, id)
	if err != nil {
		return err
	}
	return m.injector.Inject(ctx, id+":"+sess.SupervisorAgent, "/clear")
}

// SendToSession delivers a message to the session's supervisor.
func (m *Manager) SendToSession(ctx context.Context, id, message string) error {
	sess, err := m.GetSession(ctx, id)
	if err != nil {
		return err
	}
	return m.injector.Inject(ctx, id+":"+sess.SupervisorAgent, message)
}

// ListSessionAgents lists the session's windows minus system windows.
func (m *Manager) ListSessionAgents(ctx context.Context, id string) ([]string, error) {
	exists, err := m.tmux.HasSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	windows, err := m.tmux.ListWindows(ctx, id)
	if err != nil {
		return nil, err
	}
	agents := make([]string, 0, len(windows))
	for _, w := range windows {
		if !systemWindows[w] {
			agents = append(agents, w)
		}
	}
	return agents, nil
}

func (m *Manager) directive(ctx context.Context, id, message, status string) error {
	sess, err := m.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if err := m.injector.Inject(ctx, id+":"+sess.SupervisorAgent, message); err != nil {
		return err
	}
	m.mu.Lock()
	if cached, ok := m.sessions[id]; ok {
		cached.Status = status
	}
	m.mu.Unlock()
	return nil
}

// materialize builds the Session view for one tmux session, reusing the
// cached status when present. Sessions without a supervisor window are
// not ours and yield nil.
func (m *Manager) materialize(ctx context.Context, id string) (*Session, error) {
	windows, err := m.tmux.ListWindows(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing windows in %s: %w", id, err)
	}

	var supervisor string
	agentCount := 0
	for _, w := range windows {
		if systemWindows[w] {
			continue
		}
		agentCount++
		if supervisor == "" && (w == "supervisor" || strings.HasPrefix(w, supervisorPrefix)) {
			supervisor = w
		}
	}
	if supervisor == "" {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		name := "Main"
		if id != m.mainSession {
			name = displayName(strings.TrimPrefix(id, sessionPrefix))
		}
		sess = &Session{
			ID:              id,
			Name:            name,
			Status:          StatusActive,
			IsMain:          id == m.mainSession,
			SupervisorAgent: supervisor,
		}
		m.sessions[id] = sess
	}
	sess.SupervisorAgent = supervisor
	sess.AgentCount = agentCount
	cp := *sess
	return &cp, nil
}

// sanitizeName lowercases and hyphenates a user-supplied name.
func sanitizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	var b strings.Builder
	for _, r := range s {
		if r == '-' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-")
}

// displayName capitalizes each word of a hyphen- or space-separated name.
func displayName(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

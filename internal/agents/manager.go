// ABOUTME: Runtime agent directory joining live tmux windows with registry metadata
// ABOUTME: Resolves stable agent IDs and location keys, guards supervisor removal

package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cmux-dev/cmux/internal/registry"
	"github.com/cmux-dev/cmux/internal/tmux"
)

// Agent kinds as reported to the dashboard.
const (
	TypeWorker            = "worker"
	TypeSupervisor        = "supervisor"
	TypeProjectSupervisor = "project-supervisor"
)

const supervisorWindowPrefix = "supervisor-"

// Lines of scrollback preserved when an agent is archived on removal.
const terminalArchiveLines = 200

var (
	ErrNotFound            = errors.New("agent not found")
	ErrSupervisorProtected = errors.New("supervisors cannot be removed")
	ErrAlreadyExists       = errors.New("agent already exists")
)

// systemWindows are infrastructure windows that never appear in listings.
var systemWindows = map[string]bool{
	"monitor": true,
}

// Agent is one live terminal window joined with its registry identity.
type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Session     string `json:"session"`
	Window      string `json:"window"`
	LocationKey string `json:"location_key"`
	ProjectID   string `json:"project_id,omitempty"`
	Registered  bool   `json:"registered"`
	Status      string `json:"status"`
}

// Injector delivers text into an agent's terminal, including the staging
// needed for long or multi-line payloads.
type Injector interface {
	Inject(ctx context.Context, target, text string) error
}

// Archiver preserves a removed agent's terminal output.
type Archiver interface {
	ArchiveAgent(ctx context.Context, agentID, agentName, agentType, terminalOutput string) (string, error)
}

// Manager answers "who exists right now" by scanning tmux and reconciling
// the registry against the live window set on every listing.
type Manager struct {
	tmux        *tmux.Client
	registry    *registry.Registry
	injector    Injector
	archiver    Archiver
	mainSession string
	logger      *slog.Logger
}

func NewManager(tmuxClient *tmux.Client, reg *registry.Registry, injector Injector, archiver Archiver, mainSession string) *Manager {
	return &Manager{
		tmux:        tmuxClient,
		registry:    reg,
		injector:    injector,
		archiver:    archiver,
		mainSession: mainSession,
		logger:      slog.Default().With("component", "agents"),
	}
}

// ListAgents scans every tmux session, sweeps stale registry entries, and
// returns the live agents. A non-empty session narrows the result without
// narrowing the sweep.
func (m *Manager) ListAgents(ctx context.Context, session string) ([]*Agent, error) {
	all, err := m.scan(ctx)
	if err != nil {
		return nil, err
	}
	if session == "" {
		return all, nil
	}
	var filtered []*Agent
	for _, a := range all {
		if a.Session == session {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}

// GetAgent resolves an identifier to a live agent. Identifiers are tried
// as a stable agent ID first (recognizable by prefix), then as a
// session-qualified location key, then as a bare window name with the
// main session preferred.
func (m *Manager) GetAgent(ctx context.Context, identifier string) (*Agent, error) {
	all, err := m.scan(ctx)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(identifier, registry.AgentIDPrefix) {
		for _, a := range all {
			if a.ID == identifier {
				return a, nil
			}
		}
		return nil, ErrNotFound
	}

	if strings.Contains(identifier, ":") {
		for _, a := range all {
			if a.LocationKey == identifier {
				return a, nil
			}
		}
		return nil, ErrNotFound
	}

	var match *Agent
	for _, a := range all {
		if a.Window != identifier {
			continue
		}
		if a.Session == m.mainSession {
			return a, nil
		}
		if match == nil {
			match = a
		}
	}
	if match == nil {
		return nil, ErrNotFound
	}
	return match, nil
}

// CreateWorker opens a new worker window. The agent process itself is
// bootstrapped separately; a freshly created worker reports as pending
// until it registers.
func (m *Manager) CreateWorker(ctx context.Context, name, session string) (*Agent, error) {
	if name == "" || strings.Contains(name, ":") {
		return nil, fmt.Errorf("invalid worker name %q", name)
	}
	if session == "" {
		session = m.mainSession
	}

	windows, err := m.tmux.ListWindows(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("listing windows in %s: %w", session, err)
	}
	for _, w := range windows {
		if w == name {
			return nil, fmt.Errorf("window %s:%s: %w", session, name, ErrAlreadyExists)
		}
	}

	if err := m.tmux.CreateWindow(ctx, session, name, nil); err != nil {
		return nil, fmt.Errorf("creating worker window: %w", err)
	}

	m.logger.Info("created worker", "name", name, "session", session)
	return &Agent{
		ID:          session + ":" + name,
		Name:        name,
		Type:        TypeWorker,
		Session:     session,
		Window:      name,
		LocationKey: session + ":" + name,
		Status:      "pending",
	}, nil
}

// RemoveAgent archives a worker's terminal output, unregisters it, and
// kills its window. Supervisors are never removable.
func (m *Manager) RemoveAgent(ctx context.Context, identifier string) error {
	agent, err := m.GetAgent(ctx, identifier)
	if err != nil {
		return err
	}
	if agent.Type != TypeWorker {
		return fmt.Errorf("%s: %w", agent.Name, ErrSupervisorProtected)
	}

	output, err := m.tmux.CapturePane(ctx, agent.LocationKey, terminalArchiveLines)
	if err != nil {
		m.logger.Warn("failed to capture terminal before removal", "agent", agent.ID, "error", err)
		output = ""
	}
	if m.archiver != nil {
		if _, err := m.archiver.ArchiveAgent(ctx, agent.ID, agent.Name, agent.Type, output); err != nil {
			m.logger.Warn("failed to archive agent", "agent", agent.ID, "error", err)
		}
	}

	if _, err := m.registry.Unregister(agent.LocationKey); err != nil {
		m.logger.Warn("failed to unregister agent", "agent", agent.ID, "error", err)
	}

	if err := m.tmux.KillWindow(ctx, agent.LocationKey); err != nil {
		return fmt.Errorf("killing window %s: %w", agent.LocationKey, err)
	}
	m.logger.Info("removed agent", "agent", agent.ID, "window", agent.LocationKey)
	return nil
}

// SendMessage injects text into the agent's terminal.
func (m *Manager) SendMessage(ctx context.Context, identifier, text string) (*Agent, error) {
	agent, err := m.GetAgent(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if err := m.injector.Inject(ctx, agent.LocationKey, text); err != nil {
		return nil, fmt.Errorf("sending to %s: %w", agent.LocationKey, err)
	}
	return agent, nil
}

// Interrupt sends Ctrl+C to the agent's window.
func (m *Manager) Interrupt(ctx context.Context, identifier string) (*Agent, error) {
	agent, err := m.GetAgent(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if err := m.tmux.SendInterrupt(ctx, agent.LocationKey); err != nil {
		return nil, fmt.Errorf("interrupting %s: %w", agent.LocationKey, err)
	}
	return agent, nil
}

// CaptureTerminal returns the last lines of the agent's pane scrollback.
func (m *Manager) CaptureTerminal(ctx context.Context, identifier string, lines int) (*Agent, string, error) {
	agent, err := m.GetAgent(ctx, identifier)
	if err != nil {
		return nil, "", err
	}
	output, err := m.tmux.CapturePane(ctx, agent.LocationKey, lines)
	if err != nil {
		return nil, "", fmt.Errorf("capturing %s: %w", agent.LocationKey, err)
	}
	return agent, output, nil
}

// scan lists every window of every session, reconciles the registry, and
// materializes the directory.
func (m *Manager) scan(ctx context.Context) ([]*Agent, error) {
	sessions, err := m.tmux.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	live := make(map[string]bool)
	var agents []*Agent
	for _, session := range sessions {
		windows, err := m.tmux.ListWindows(ctx, session)
		if err != nil {
			return nil, fmt.Errorf("listing windows in %s: %w", session, err)
		}
		for _, window := range windows {
			if systemWindows[window] {
				continue
			}
			live[session+":"+window] = true
			agents = append(agents, m.agentFor(session, window))
		}
	}

	if removed, err := m.registry.CleanupStale(live); err != nil {
		m.logger.Warn("registry sweep failed", "error", err)
	} else if len(removed) > 0 {
		m.logger.Info("swept stale registry entries", "removed", removed)
	}

	return agents, nil
}

// agentFor joins one window with its registry entry. The registry's role
// is authoritative; the naming convention is the fallback for agents that
// never registered.
func (m *Manager) agentFor(session, window string) *Agent {
	key := session + ":" + window
	agent := &Agent{
		ID:          key,
		Name:        window,
		Session:     session,
		Window:      window,
		LocationKey: key,
		Status:      "idle",
	}

	entry, err := m.registry.GetMetadata(key)
	if err == nil {
		agent.Registered = true
		agent.ID = entry.AgentID
		agent.ProjectID = entry.ProjectID
		if entry.DisplayName != "" {
			agent.Name = entry.DisplayName
		}
		switch entry.Role {
		case registry.RoleSupervisor:
			agent.Type = TypeSupervisor
		case registry.RoleProjectSupervisor:
			agent.Type = TypeProjectSupervisor
		default:
			agent.Type = TypeWorker
		}
		return agent
	}

	if window == "supervisor" || strings.HasPrefix(window, supervisorWindowPrefix) {
		agent.Type = TypeSupervisor
	} else {
		agent.Type = TypeWorker
	}
	return agent
}

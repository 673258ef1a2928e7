// ABOUTME: Entry point for the cmux orchestrator server
// ABOUTME: Manages tmux-hosted agent sessions and the dashboard API

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/cmux-dev/cmux/internal/agents"
	"github.com/cmux-dev/cmux/internal/config"
	"github.com/cmux-dev/cmux/internal/journal"
	"github.com/cmux-dev/cmux/internal/mailbox"
	"github.com/cmux-dev/cmux/internal/realtime"
	"github.com/cmux-dev/cmux/internal/registry"
	"github.com/cmux-dev/cmux/internal/server"
	"github.com/cmux-dev/cmux/internal/session"
	"github.com/cmux-dev/cmux/internal/store"
	"github.com/cmux-dev/cmux/internal/tmux"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ _ __ ___  _   ___  __
 / __| '_ ' _ \| | | \ \/ /
| (__| | | | | | |_| |>  <
 \___|_| |_| |_|\__,_/_/\_\
`

// getConfigPath returns the path to the server config file.
// Priority: CMUX_CONFIG env var > XDG_CONFIG_HOME/cmux/server.yaml > ~/.config/cmux/server.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CMUX_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "server.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "cmux", "server.yaml")
}

// getDataPath returns the path to the cmux data directory.
// Priority: XDG_DATA_HOME/cmux > ~/.local/share/cmux
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "cmux")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: cmux-server <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the orchestrator server")
		fmt.Println("  init      Write a default config file")
		fmt.Println("  health    Check server health")
		fmt.Println("  agents    List live agents")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "agents":
		err = runAgents(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Session:  %s\n", cfg.Sessions.MainSession)
	fmt.Println()

	logger.Info("starting cmux-server",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"main_session", cfg.Sessions.MainSession,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	supervisorKey := cfg.Sessions.MainSession + ":supervisor"
	reg := registry.New(cfg.Registry.Path, supervisorKey)

	tmuxClient := tmux.NewClient(cfg.Tmux.Binary, cfg.Tmux.CommandTimeout)
	injector := session.NewInjector(tmuxClient)
	sessions := session.NewManager(tmuxClient, injector,
		cfg.Sessions.MainSession, cfg.Sessions.AgentCommand,
		cfg.Sessions.StartupDelay, cfg.Sessions.ExitGracePeriod)
	agentsMgr := agents.NewManager(tmuxClient, reg, injector, st, cfg.Sessions.MainSession)

	bodyDir := cfg.Mailbox.BodyDir
	if bodyDir == "" {
		bodyDir = filepath.Join(filepath.Dir(cfg.Mailbox.LogPath), "bodies")
	}
	router := mailbox.NewRouter(cfg.Mailbox.LogPath, bodyDir, cfg.Sessions.MainSession)

	journalDir := cfg.Journal.Dir
	if journalDir == "" {
		journalDir = filepath.Join(getDataPath(), "journal")
	}
	journalSvc := journal.NewService(journalDir)

	nudger := journal.NewNudger(reg, injector, supervisorKey,
		cfg.Journal.NudgeSchedule, cfg.Journal.NudgeThreshold)
	if err := nudger.Start(); err != nil {
		return fmt.Errorf("starting journal nudger: %w", err)
	}
	defer nudger.Stop()

	hub := realtime.NewHub(cfg.Realtime.PingInterval)
	go hub.Run(ctx)

	srv := server.New(cfg, server.Deps{
		Store:    st,
		Hub:      hub,
		Agents:   agentsMgr,
		Sessions: sessions,
		Mailbox:  router,
		Journal:  journalSvc,
		Registry: reg,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runInit() error {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	dataPath := getDataPath()
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# cmux-server configuration
# Generated by cmux-server init

server:
  http_addr: "localhost:8765"

database:
  path: "%s"

registry:
  path: "%s"

mailbox:
  log_path: "%s"

journal:
  dir: "%s"
  nudge_schedule: "0 */2 * * *"
  nudge_threshold: 5

sessions:
  main_session: "cmux"
  startup_delay: "8s"
  exit_grace_period: "3s"

logging:
  level: "info"
  format: "text"
`,
		filepath.Join(dataPath, "cmux.db"),
		filepath.Join(dataPath, "registry.json"),
		filepath.Join(dataPath, "mailbox", "log.jsonl"),
		filepath.Join(dataPath, "journal"),
	)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", configPath)
	fmt.Println()
	fmt.Println("  Next:")
	fmt.Println("    cmux-server serve")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler renders slog records as short colorized terminal lines.
// The mutex serializes writes so concurrent goroutines do not interleave.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runAgents(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/agents", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("agents check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	fmt.Println(string(body))
	return nil
}

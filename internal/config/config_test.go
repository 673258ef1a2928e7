// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and defaults

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8000"

database:
  path: "./conversations.db"

registry:
  path: "./agent_registry.json"

mailbox:
  log_path: "./outbound/messages.jsonl"
  body_dir: "./outbound/bodies"

tmux:
  binary: "/usr/bin/tmux"
  command_timeout: "5s"

sessions:
  main_session: "cmux"
  startup_delay: "8s"
  exit_grace_period: "3s"

realtime:
  ping_interval: "30s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:8000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8000")
	}
	if cfg.Database.Path != "./conversations.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./conversations.db")
	}
	if cfg.Registry.Path != "./agent_registry.json" {
		t.Errorf("Registry.Path = %q, want %q", cfg.Registry.Path, "./agent_registry.json")
	}
	if cfg.Mailbox.LogPath != "./outbound/messages.jsonl" {
		t.Errorf("Mailbox.LogPath = %q, want %q", cfg.Mailbox.LogPath, "./outbound/messages.jsonl")
	}
	if cfg.Tmux.CommandTimeout != 5*time.Second {
		t.Errorf("Tmux.CommandTimeout = %v, want %v", cfg.Tmux.CommandTimeout, 5*time.Second)
	}
	if cfg.Sessions.StartupDelay != 8*time.Second {
		t.Errorf("Sessions.StartupDelay = %v, want %v", cfg.Sessions.StartupDelay, 8*time.Second)
	}
	if cfg.Sessions.ExitGracePeriod != 3*time.Second {
		t.Errorf("Sessions.ExitGracePeriod = %v, want %v", cfg.Sessions.ExitGracePeriod, 3*time.Second)
	}
	if cfg.Realtime.PingInterval != 30*time.Second {
		t.Errorf("Realtime.PingInterval = %v, want %v", cfg.Realtime.PingInterval, 30*time.Second)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("CMUX_TEST_DB", "/tmp/cmux-test.db")

	configPath := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8000"
database:
  path: "${CMUX_TEST_DB}"
registry:
  path: "./registry.json"
mailbox:
  log_path: "./messages.jsonl"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/cmux-test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/cmux-test.db")
	}
}

func TestLoad_UnsetEnvVarExpandsEmpty(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8000"
database:
  path: "prefix${CMUX_DEFINITELY_UNSET_VAR}suffix"
registry:
  path: "./registry.json"
mailbox:
  log_path: "./messages.jsonl"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "prefixsuffix" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "prefixsuffix")
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8000"
database:
  path: "./conversations.db"
registry:
  path: "./registry.json"
mailbox:
  log_path: "./messages.jsonl"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Tmux.Binary != "tmux" {
		t.Errorf("Tmux.Binary = %q, want %q", cfg.Tmux.Binary, "tmux")
	}
	if cfg.Tmux.CommandTimeout != 10*time.Second {
		t.Errorf("Tmux.CommandTimeout = %v, want %v", cfg.Tmux.CommandTimeout, 10*time.Second)
	}
	if cfg.Sessions.MainSession != "cmux" {
		t.Errorf("Sessions.MainSession = %q, want %q", cfg.Sessions.MainSession, "cmux")
	}
	if cfg.Sessions.StartupDelay != 8*time.Second {
		t.Errorf("Sessions.StartupDelay = %v, want %v", cfg.Sessions.StartupDelay, 8*time.Second)
	}
	if cfg.Realtime.PingInterval != 30*time.Second {
		t.Errorf("Realtime.PingInterval = %v, want %v", cfg.Realtime.PingInterval, 30*time.Second)
	}
	if cfg.Journal.NudgeThreshold != 5 {
		t.Errorf("Journal.NudgeThreshold = %d, want 5", cfg.Journal.NudgeThreshold)
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing http_addr",
			content: `
database:
  path: "./db"
registry:
  path: "./registry.json"
mailbox:
  log_path: "./messages.jsonl"
`,
			wantErr: "server.http_addr is required",
		},
		{
			name: "missing database path",
			content: `
server:
  http_addr: "127.0.0.1:8000"
registry:
  path: "./registry.json"
mailbox:
  log_path: "./messages.jsonl"
`,
			wantErr: "database.path is required",
		},
		{
			name: "missing registry path",
			content: `
server:
  http_addr: "127.0.0.1:8000"
database:
  path: "./db"
mailbox:
  log_path: "./messages.jsonl"
`,
			wantErr: "registry.path is required",
		},
		{
			name: "missing mailbox log path",
			content: `
server:
  http_addr: "127.0.0.1:8000"
database:
  path: "./db"
registry:
  path: "./registry.json"
`,
			wantErr: "mailbox.log_path is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, tt.content)

			_, err := Load(configPath)
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8000"
database:
  path: "./db"
registry:
  path: "./registry.json"
mailbox:
  log_path: "./messages.jsonl"
sessions:
  startup_delay: "not-a-duration"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "startup_delay") {
		t.Errorf("Load() error = %v, want mentioning startup_delay", err)
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() expected error for nonexistent file, got nil")
	}
}

// ABOUTME: Configuration loading and parsing for the cmux orchestrator
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete cmux server configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Registry RegistryConfig `yaml:"registry"`
	Mailbox  MailboxConfig  `yaml:"mailbox"`
	Journal  JournalConfig  `yaml:"journal"`
	Tmux     TmuxConfig     `yaml:"tmux"`
	Sessions SessionsConfig `yaml:"sessions"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds the embedded store location
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RegistryConfig holds the agent registry file location
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// MailboxConfig holds the outbound mailbox log configuration
type MailboxConfig struct {
	LogPath string `yaml:"log_path"`
	BodyDir string `yaml:"body_dir"`
}

// JournalConfig holds daily journal configuration
type JournalConfig struct {
	Dir string `yaml:"dir"`

	// NudgeSchedule is a cron expression for the journal reminder check.
	// Empty disables the nudge loop.
	NudgeSchedule  string `yaml:"nudge_schedule"`
	NudgeThreshold int    `yaml:"nudge_threshold"`
}

// TmuxConfig holds terminal multiplexer invocation settings
type TmuxConfig struct {
	Binary string `yaml:"binary"`

	CommandTimeout    time.Duration `yaml:"-"`
	CommandTimeoutRaw string        `yaml:"command_timeout"`
}

// SessionsConfig holds agent session lifecycle timing
type SessionsConfig struct {
	MainSession  string `yaml:"main_session"`
	AgentCommand string `yaml:"agent_command"`

	StartupDelay    time.Duration `yaml:"-"`
	ExitGracePeriod time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	StartupDelayRaw    string `yaml:"startup_delay"`
	ExitGracePeriodRaw string `yaml:"exit_grace_period"`
}

// RealtimeConfig holds realtime fan-out configuration
type RealtimeConfig struct {
	PingInterval    time.Duration `yaml:"-"`
	PingIntervalRaw string        `yaml:"ping_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in defaults for fields that were left unset
func (c *Config) applyDefaults() {
	if c.Tmux.Binary == "" {
		c.Tmux.Binary = "tmux"
	}
	if c.Tmux.CommandTimeout == 0 {
		c.Tmux.CommandTimeout = 10 * time.Second
	}
	if c.Sessions.MainSession == "" {
		c.Sessions.MainSession = "cmux"
	}
	if c.Sessions.AgentCommand == "" {
		c.Sessions.AgentCommand = "claude --dangerously-skip-permissions"
	}
	if c.Sessions.StartupDelay == 0 {
		c.Sessions.StartupDelay = 8 * time.Second
	}
	if c.Sessions.ExitGracePeriod == 0 {
		c.Sessions.ExitGracePeriod = 3 * time.Second
	}
	if c.Realtime.PingInterval == 0 {
		c.Realtime.PingInterval = 30 * time.Second
	}
	if c.Journal.NudgeThreshold == 0 {
		c.Journal.NudgeThreshold = 5
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Registry.Path == "" {
		return fmt.Errorf("registry.path is required")
	}
	if c.Mailbox.LogPath == "" {
		return fmt.Errorf("mailbox.log_path is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Tmux.CommandTimeoutRaw != "" {
		cfg.Tmux.CommandTimeout, err = time.ParseDuration(cfg.Tmux.CommandTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing command_timeout %q: %w", cfg.Tmux.CommandTimeoutRaw, err)
		}
	}

	if cfg.Sessions.StartupDelayRaw != "" {
		cfg.Sessions.StartupDelay, err = time.ParseDuration(cfg.Sessions.StartupDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing startup_delay %q: %w", cfg.Sessions.StartupDelayRaw, err)
		}
	}

	if cfg.Sessions.ExitGracePeriodRaw != "" {
		cfg.Sessions.ExitGracePeriod, err = time.ParseDuration(cfg.Sessions.ExitGracePeriodRaw)
		if err != nil {
			return fmt.Errorf("parsing exit_grace_period %q: %w", cfg.Sessions.ExitGracePeriodRaw, err)
		}
	}

	if cfg.Realtime.PingIntervalRaw != "" {
		cfg.Realtime.PingInterval, err = time.ParseDuration(cfg.Realtime.PingIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing ping_interval %q: %w", cfg.Realtime.PingIntervalRaw, err)
		}
	}

	return nil
}

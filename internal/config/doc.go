// Package config handles configuration loading for the cmux server.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	mailbox:
//	  log_path: "${CMUX_HOME}/outbound/messages.jsonl"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	sessions:
//	  startup_delay: "8s"
//	  exit_grace_period: "3s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "127.0.0.1:8000"
//
// Database:
//
//	database:
//	  path: "/var/lib/cmux/conversations.db"
//
// Agent registry:
//
//	registry:
//	  path: "/var/lib/cmux/agent_registry.json"
//
// Mailbox:
//
//	mailbox:
//	  log_path: "/var/lib/cmux/outbound/messages.jsonl"
//	  body_dir: "/var/lib/cmux/outbound/bodies"
//
// Sessions:
//
//	sessions:
//	  main_session: "cmux"
//	  startup_delay: "8s"
//	  exit_grace_period: "3s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/cmux/server.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

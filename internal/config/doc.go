// Package config handles configuration loading for watchtower.
//
// # Overview
//
// Configuration is loaded from YAML files layered over Default(), with
// environment variable expansion and validation. Every knob has a production
// default; a missing or sparse file is fine.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	socket_path: "${XDG_RUNTIME_DIR}/watchtower.sock"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	intake:
//	  read_timeout: "2s"
//	  logic_tick: "1s"
//	  render_tick: "33ms"
//
// # Configuration Sections
//
// Intake (socket listener and ordered queue):
//
//	intake:
//	  max_connections: 100
//	  queue_size: 256
//	  read_timeout: "2s"
//	  logic_tick: "1s"
//	  render_tick: "33ms"
//
// Agent store (sizing and timer windows):
//
//	store:
//	  max_agents: 500
//	  idle_timeout: "60s"
//	  stale_timeout: "5m"
//	  pending_config_ttl: "10m"
//	  interactive_tools: [AskUserQuestion]
//
// Loop orchestration:
//
//	loop:
//	  default_max_iterations: 20
//	  default_stop_word: "DONE"
//	  max_workers: 3
//	  spawn_delay: "1s"
//	  worker_max_iterations: 10
//	  worker_stop_word: "DONE"
//
// Reconciliation, hooks-log watchdog, and the opt-in audit log:
//
//	reconcile:
//	  interval: "3s"
//	health:
//	  enabled: true
//	  warn_mb: 100
//	  truncate_mb: 500
//	  keep_lines: 1000
//	audit:
//	  path: ""   # empty disables auditing
package config

// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and validation

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
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
socket_path: "/tmp/watchtower-test.sock"
log_level: "debug"

intake:
  max_connections: 50
  queue_size: 128
  read_timeout: "3s"
  logic_tick: "500ms"
  render_tick: "50ms"

store:
  max_agents: 100
  idle_timeout: "30s"
  stale_timeout: "2m"
  pending_config_ttl: "5m"
  interactive_tools:
    - AskUserQuestion
    - ExitPlanMode

loop:
  default_max_iterations: 25
  default_stop_word: "FINISHED"
  max_workers: 5
  spawn_delay: "250ms"

reconcile:
  interval: "10s"

audit:
  path: "./audit.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.SocketPath != "/tmp/watchtower-test.sock" {
		t.Errorf("SocketPath = %q", cfg.SocketPath)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Intake.MaxConnections != 50 {
		t.Errorf("Intake.MaxConnections = %d", cfg.Intake.MaxConnections)
	}
	if cfg.Intake.ReadTimeout != 3*time.Second {
		t.Errorf("Intake.ReadTimeout = %v", cfg.Intake.ReadTimeout)
	}
	if cfg.Intake.LogicTick != 500*time.Millisecond {
		t.Errorf("Intake.LogicTick = %v", cfg.Intake.LogicTick)
	}
	if cfg.Store.MaxAgents != 100 {
		t.Errorf("Store.MaxAgents = %d", cfg.Store.MaxAgents)
	}
	if cfg.Store.StaleTimeout != 2*time.Minute {
		t.Errorf("Store.StaleTimeout = %v", cfg.Store.StaleTimeout)
	}
	if len(cfg.Store.InteractiveTools) != 2 {
		t.Errorf("Store.InteractiveTools = %v", cfg.Store.InteractiveTools)
	}
	if cfg.Loop.DefaultStopWord != "FINISHED" {
		t.Errorf("Loop.DefaultStopWord = %q", cfg.Loop.DefaultStopWord)
	}
	if cfg.Loop.SpawnDelay != 250*time.Millisecond {
		t.Errorf("Loop.SpawnDelay = %v", cfg.Loop.SpawnDelay)
	}
	if cfg.Audit.Path != "./audit.db" {
		t.Errorf("Audit.Path = %q", cfg.Audit.Path)
	}
}

func TestLoad_DefaultsPreserved(t *testing.T) {
	// A sparse file keeps defaults for everything it doesn't mention
	configPath := writeConfig(t, `
log_level: "warn"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	def := Default()
	if cfg.Intake.MaxConnections != def.Intake.MaxConnections {
		t.Errorf("MaxConnections = %d, want default %d", cfg.Intake.MaxConnections, def.Intake.MaxConnections)
	}
	if cfg.Store.IdleTimeout != def.Store.IdleTimeout {
		t.Errorf("IdleTimeout = %v, want default %v", cfg.Store.IdleTimeout, def.Store.IdleTimeout)
	}
	if cfg.Loop.WorkerStopWord != def.Loop.WorkerStopWord {
		t.Errorf("WorkerStopWord = %q, want default %q", cfg.Loop.WorkerStopWord, def.Loop.WorkerStopWord)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("WATCHTOWER_TEST_SOCKET", "/tmp/expanded.sock")

	configPath := writeConfig(t, `
socket_path: "${WATCHTOWER_TEST_SOCKET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.SocketPath != "/tmp/expanded.sock" {
		t.Errorf("SocketPath = %q, want expanded value", cfg.SocketPath)
	}
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	configPath := writeConfig(t, `
socket_path: "${WATCHTOWER_DEFINITELY_UNSET_VAR}"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() should fail validation with empty socket_path")
	}
	if !strings.Contains(err.Error(), "socket_path") {
		t.Errorf("error = %v, want socket_path validation failure", err)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	configPath := writeConfig(t, `
intake:
  read_timeout: "three seconds"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() should fail on unparseable duration")
	}
	if !strings.Contains(err.Error(), "read_timeout") {
		t.Errorf("error = %v, want read_timeout parse failure", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() should fail on missing file")
	}
}

func TestValidate_Bounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"bad log format", func(c *Config) { c.LogFormat = "logfmt" }, "log_format"},
		{"zero connections", func(c *Config) { c.Intake.MaxConnections = 0 }, "max_connections"},
		{"zero queue", func(c *Config) { c.Intake.QueueSize = 0 }, "queue_size"},
		{"zero agents", func(c *Config) { c.Store.MaxAgents = 0 }, "max_agents"},
		{"stale shorter than idle", func(c *Config) { c.Store.StaleTimeout = time.Second }, "stale_timeout"},
		{"iterations too high", func(c *Config) { c.Loop.DefaultMaxIterations = 1001 }, "default_max_iterations"},
		{"zero iterations", func(c *Config) { c.Loop.DefaultMaxIterations = 0 }, "default_max_iterations"},
		{"empty stop word", func(c *Config) { c.Loop.DefaultStopWord = "" }, "stop word"},
		{"zero workers", func(c *Config) { c.Loop.MaxWorkers = 0 }, "max_workers"},
		{"truncate below warn", func(c *Config) { c.Health.TruncateMB = 1 }, "warn_mb"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() must validate, got %v", err)
	}
}

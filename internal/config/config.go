// ABOUTME: Configuration loading and parsing for watchtower
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete watchtower configuration.
type Config struct {
	// SocketPath is the Unix socket the intake listener binds.
	SocketPath string `yaml:"socket_path"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFormat selects text (colorized) or json output.
	LogFormat string `yaml:"log_format"`

	Intake    IntakeConfig    `yaml:"intake"`
	Store     StoreConfig     `yaml:"store"`
	Loop      LoopConfig      `yaml:"loop"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Health    HealthConfig    `yaml:"health"`
	Audit     AuditConfig     `yaml:"audit"`
	Commands  CommandsConfig  `yaml:"commands"`
}

// IntakeConfig holds socket listener and queue configuration.
type IntakeConfig struct {
	MaxConnections int `yaml:"max_connections"`
	QueueSize      int `yaml:"queue_size"`

	ReadTimeout time.Duration `yaml:"-"`
	LogicTick   time.Duration `yaml:"-"`
	RenderTick  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ReadTimeoutRaw string `yaml:"read_timeout"`
	LogicTickRaw   string `yaml:"logic_tick"`
	RenderTickRaw  string `yaml:"render_tick"`
}

// StoreConfig holds agent-table sizing and timer windows.
type StoreConfig struct {
	MaxAgents int `yaml:"max_agents"`
	// InteractiveTools are tool names that block on a user response; a Stop
	// while one is pending resolves to Attention/Waiting instead of Idle.
	InteractiveTools []string `yaml:"interactive_tools"`

	IdleTimeout      time.Duration `yaml:"-"`
	StaleTimeout     time.Duration `yaml:"-"`
	PendingConfigTTL time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	IdleTimeoutRaw      string `yaml:"idle_timeout"`
	StaleTimeoutRaw     string `yaml:"stale_timeout"`
	PendingConfigTTLRaw string `yaml:"pending_config_ttl"`
}

// LoopConfig holds autonomous-loop defaults and worker fan-out limits.
type LoopConfig struct {
	DefaultMaxIterations int    `yaml:"default_max_iterations"`
	DefaultStopWord      string `yaml:"default_stop_word"`
	MaxWorkers           int    `yaml:"max_workers"`
	WorkerMaxIterations  int    `yaml:"worker_max_iterations"`
	WorkerStopWord       string `yaml:"worker_stop_word"`
	// WorkerCommand is the shell command typed into freshly spawned panes to
	// start the agent process.
	WorkerCommand string `yaml:"worker_command"`

	SpawnDelay time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	SpawnDelayRaw string `yaml:"spawn_delay"`
}

// ReconcileConfig holds the liveness probe cadence.
type ReconcileConfig struct {
	Interval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	IntervalRaw string `yaml:"interval"`
}

// HealthConfig holds hooks-log watchdog thresholds.
type HealthConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path of the hooks log; empty means ~/.claude/hooks.log.
	Path       string `yaml:"path"`
	WarnMB     int64  `yaml:"warn_mb"`
	TruncateMB int64  `yaml:"truncate_mb"`
	KeepLines  int    `yaml:"keep_lines"`

	Interval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	IntervalRaw string `yaml:"interval"`
}

// AuditConfig holds the opt-in decision log location. An empty path disables
// auditing entirely.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// CommandsConfig holds the keystrokes sent for approve/reject commands.
type CommandsConfig struct {
	ApproveKeys string `yaml:"approve_keys"`
	RejectKeys  string `yaml:"reject_keys"`
}

// Default returns a fully populated configuration with production defaults.
func Default() *Config {
	return &Config{
		SocketPath: filepath.Join(os.TempDir(), "watchtower.sock"),
		LogLevel:   "info",
		LogFormat:  "text",
		Intake: IntakeConfig{
			MaxConnections: 100,
			QueueSize:      256,
			ReadTimeout:    2 * time.Second,
			LogicTick:      time.Second,
			RenderTick:     33 * time.Millisecond,
		},
		Store: StoreConfig{
			MaxAgents:        500,
			InteractiveTools: []string{"AskUserQuestion"},
			IdleTimeout:      60 * time.Second,
			StaleTimeout:     5 * time.Minute,
			PendingConfigTTL: 10 * time.Minute,
		},
		Loop: LoopConfig{
			DefaultMaxIterations: 20,
			DefaultStopWord:      "DONE",
			MaxWorkers:           3,
			WorkerMaxIterations:  10,
			WorkerStopWord:       "DONE",
			WorkerCommand:        "claude",
			SpawnDelay:           time.Second,
		},
		Reconcile: ReconcileConfig{
			Interval: 3 * time.Second,
		},
		Health: HealthConfig{
			Enabled:    true,
			WarnMB:     100,
			TruncateMB: 500,
			KeepLines:  1000,
			Interval:   60 * time.Second,
		},
		Commands: CommandsConfig{
			ApproveKeys: "y",
			RejectKeys:  "n",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config layered over Default(). Environment variables in the format
// ${VAR_NAME} are expanded. Duration strings are parsed into time.Duration
// values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. If the environment variable is not set, it is
// replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure
// encountered.
func (c *Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket_path is required")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format %q is not one of text, json", c.LogFormat)
	}

	if c.Intake.MaxConnections < 1 {
		return fmt.Errorf("intake.max_connections must be at least 1")
	}
	if c.Intake.QueueSize < 1 {
		return fmt.Errorf("intake.queue_size must be at least 1")
	}
	if c.Intake.ReadTimeout <= 0 {
		return fmt.Errorf("intake.read_timeout must be positive")
	}
	if c.Intake.LogicTick <= 0 || c.Intake.RenderTick <= 0 {
		return fmt.Errorf("intake tick intervals must be positive")
	}

	if c.Store.MaxAgents < 1 {
		return fmt.Errorf("store.max_agents must be at least 1")
	}
	if c.Store.IdleTimeout <= 0 || c.Store.StaleTimeout <= 0 {
		return fmt.Errorf("store timeout windows must be positive")
	}
	if c.Store.StaleTimeout < c.Store.IdleTimeout {
		return fmt.Errorf("store.stale_timeout must not be shorter than store.idle_timeout")
	}

	if c.Loop.DefaultMaxIterations < 1 || c.Loop.DefaultMaxIterations > 1000 {
		return fmt.Errorf("loop.default_max_iterations must be between 1 and 1000")
	}
	if c.Loop.WorkerMaxIterations < 1 || c.Loop.WorkerMaxIterations > 1000 {
		return fmt.Errorf("loop.worker_max_iterations must be between 1 and 1000")
	}
	if c.Loop.DefaultStopWord == "" || c.Loop.WorkerStopWord == "" {
		return fmt.Errorf("loop stop words must not be empty")
	}
	if c.Loop.MaxWorkers < 1 {
		return fmt.Errorf("loop.max_workers must be at least 1")
	}
	if c.Loop.WorkerCommand == "" {
		return fmt.Errorf("loop.worker_command must not be empty")
	}
	if c.Loop.SpawnDelay < 0 {
		return fmt.Errorf("loop.spawn_delay must not be negative")
	}

	if c.Reconcile.Interval <= 0 {
		return fmt.Errorf("reconcile.interval must be positive")
	}

	if c.Health.Enabled {
		if c.Health.WarnMB < 1 || c.Health.TruncateMB < c.Health.WarnMB {
			return fmt.Errorf("health thresholds must satisfy 1 <= warn_mb <= truncate_mb")
		}
		if c.Health.KeepLines < 1 {
			return fmt.Errorf("health.keep_lines must be at least 1")
		}
	}

	return nil
}

// HooksLogPath resolves the watchdog target, defaulting to ~/.claude/hooks.log.
func (c *Config) HooksLogPath() string {
	if c.Health.Path != "" {
		return c.Health.Path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "hooks.log")
}

// parseDurations converts the raw duration strings into time.Duration values.
// Empty raw values keep the defaults already present on the Config.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Intake.ReadTimeoutRaw, &cfg.Intake.ReadTimeout, "intake.read_timeout"},
		{cfg.Intake.LogicTickRaw, &cfg.Intake.LogicTick, "intake.logic_tick"},
		{cfg.Intake.RenderTickRaw, &cfg.Intake.RenderTick, "intake.render_tick"},
		{cfg.Store.IdleTimeoutRaw, &cfg.Store.IdleTimeout, "store.idle_timeout"},
		{cfg.Store.StaleTimeoutRaw, &cfg.Store.StaleTimeout, "store.stale_timeout"},
		{cfg.Store.PendingConfigTTLRaw, &cfg.Store.PendingConfigTTL, "store.pending_config_ttl"},
		{cfg.Loop.SpawnDelayRaw, &cfg.Loop.SpawnDelay, "loop.spawn_delay"},
		{cfg.Reconcile.IntervalRaw, &cfg.Reconcile.Interval, "reconcile.interval"},
		{cfg.Health.IntervalRaw, &cfg.Health.Interval, "health.interval"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

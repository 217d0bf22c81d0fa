// ABOUTME: Entry point for the watchtower monitor daemon
// ABOUTME: Serves the intake socket and drives agent monitoring and loop control

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/watchtower/internal/config"
	"github.com/2389/watchtower/internal/core"
	"github.com/2389/watchtower/internal/tmux"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                 _         _      _
__      __ __ _ | |_  ___ | |__  | |_  ___ __      __ ___  _ __
\ \ /\ / // _' || __|/ __|| '_ \ | __|/ _ \\ \ /\ / // _ \| '__|
 \ V  V /| (_| || |_| (__ | | | || |_| (_) |\ V  V /|  __/| |
  \_/\_/  \__,_| \__|\___||_| |_| \__|\___/  \_/\_/  \___||_|
`

// getConfigPath returns the path to the watchtower config file.
// Priority: WATCHTOWER_CONFIG env var > XDG_CONFIG_HOME/watchtower/config.yaml > ~/.config/watchtower/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("WATCHTOWER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "watchtower", "config.yaml")
}

func usage() {
	fmt.Println("Usage: watchtower <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Start the monitor daemon")
	fmt.Println("  init      Create a new config file interactively")
	fmt.Println("  health    Check that a running daemon accepts connections")
	fmt.Println("  version   Print the version")
	fmt.Println("  help      Show this help")
}

func main() {
	if len(os.Args) < 2 {
		usage()
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
	case "version":
		fmt.Println(version)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file at path, falling back to built-in defaults
// when no file exists yet. The bool reports whether a file was read.
func loadConfig(path string) (*config.Config, bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), false, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

func runServe(ctx context.Context) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, fromFile, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	if fromFile {
		fmt.Printf("Config:   %s\n", configPath)
	} else {
		fmt.Printf("Config:   built-in defaults (%s not found)\n", configPath)
	}
	green.Print("    ▶ ")
	fmt.Printf("Socket:   %s\n", cfg.SocketPath)
	if cfg.Health.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Watchdog: %s\n", cfg.HooksLogPath())
	}
	if cfg.Audit.Path != "" {
		green.Print("    ▶ ")
		fmt.Printf("Audit:    %s\n", cfg.Audit.Path)
	}
	if !tmux.InsideTmux() {
		yellow.Print("    ▶ ")
		fmt.Println("tmux:     $TMUX not set; pane commands need a reachable tmux server")
	}

	fmt.Println()

	logger.Info("starting watchtower",
		"config", configPath,
		"socket", cfg.SocketPath,
	)

	// The tmux controller doubles as the command sink and the liveness prober.
	ctrl := tmux.New(logger)

	m, err := core.New(cfg, ctrl, ctrl, logger)
	if err != nil {
		return fmt.Errorf("creating monitor: %w", err)
	}

	return m.Run(ctx)
}

func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: lvl,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: lvl,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
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

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
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

	// Print message
	buf.WriteString(r.Message)

	// Handler-level attrs first (pre-qualified by WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Record attrs, qualified by the open group path
	prefix := strings.Join(h.groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		key := a.Key
		if prefix != "" {
			key = prefix + "." + key
		}
		buf.WriteString(color.HiBlackString(" " + key + "="))
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
	for _, a := range attrs {
		if len(h.groups) > 0 {
			a.Key = strings.Join(h.groups, ".") + "." + a.Key
		}
		newAttrs = append(newAttrs, a)
	}
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
	configPath := getConfigPath()

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// A daemon that accepts a socket connection is alive; the intake
	// listener tolerates connections that send nothing.
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	conn.Close()
	fmt.Println("healthy")

	if cfg.Health.Enabled {
		hooksLog := cfg.HooksLogPath()
		if info, err := os.Stat(hooksLog); err == nil {
			sizeMB := info.Size() >> 20
			if sizeMB >= cfg.Health.WarnMB {
				fmt.Printf("hooks log: %s (%d MB, above the %d MB warning threshold)\n", hooksLog, sizeMB, cfg.Health.WarnMB)
			} else {
				fmt.Printf("hooks log: %s (%d MB)\n", hooksLog, sizeMB)
			}
		}
	}
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("watchtower configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	defaults := config.Default()
	defaultConfigPath := getConfigPath()

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Intake
	fmt.Println("\n--- Intake Configuration ---")
	socketPath := prompt(reader, "Unix socket path", defaults.SocketPath)

	// Loop control
	fmt.Println("\n--- Loop Configuration ---")
	maxIter := prompt(reader, "Default max iterations", strconv.Itoa(defaults.Loop.DefaultMaxIterations))
	stopWord := prompt(reader, "Default stop word", defaults.Loop.DefaultStopWord)
	maxWorkers := prompt(reader, "Max workers per fan-out", strconv.Itoa(defaults.Loop.MaxWorkers))
	workerCommand := prompt(reader, "Worker start command", defaults.Loop.WorkerCommand)

	// Health watchdog
	fmt.Println("\n--- Health Configuration ---")
	healthStr := prompt(reader, "Enable hooks log watchdog?", "yes")
	healthEnabled := strings.ToLower(healthStr) == "yes" || strings.ToLower(healthStr) == "y"
	var hooksLog string
	if healthEnabled {
		hooksLog = prompt(reader, "Hooks log path (empty for ~/.claude/hooks.log)", "")
	}

	// Audit
	fmt.Println("\n--- Audit Configuration ---")
	auditPath := prompt(reader, "Audit database path (empty disables auditing)", "")

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# watchtower configuration\n")
	cfg.WriteString("# Generated by watchtower init\n\n")

	cfg.WriteString(fmt.Sprintf("socket_path: \"%s\"\n", socketPath))
	cfg.WriteString(fmt.Sprintf("log_level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("log_format: \"%s\"\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("intake:\n")
	cfg.WriteString(fmt.Sprintf("  max_connections: %d\n", defaults.Intake.MaxConnections))
	cfg.WriteString(fmt.Sprintf("  queue_size: %d\n", defaults.Intake.QueueSize))
	cfg.WriteString("  read_timeout: \"2s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("store:\n")
	cfg.WriteString(fmt.Sprintf("  max_agents: %d\n", defaults.Store.MaxAgents))
	cfg.WriteString("  idle_timeout: \"60s\"\n")
	cfg.WriteString("  stale_timeout: \"5m\"\n")
	cfg.WriteString("  interactive_tools:\n")
	for _, tool := range defaults.Store.InteractiveTools {
		cfg.WriteString(fmt.Sprintf("    - %s\n", tool))
	}
	cfg.WriteString("\n")

	cfg.WriteString("loop:\n")
	cfg.WriteString(fmt.Sprintf("  default_max_iterations: %s\n", maxIter))
	cfg.WriteString(fmt.Sprintf("  default_stop_word: \"%s\"\n", stopWord))
	cfg.WriteString(fmt.Sprintf("  max_workers: %s\n", maxWorkers))
	cfg.WriteString(fmt.Sprintf("  worker_command: \"%s\"\n", workerCommand))
	cfg.WriteString("  spawn_delay: \"1s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("reconcile:\n")
	cfg.WriteString("  interval: \"3s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("health:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", healthEnabled))
	if hooksLog != "" {
		cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", hooksLog))
	}
	cfg.WriteString(fmt.Sprintf("  warn_mb: %d\n", defaults.Health.WarnMB))
	cfg.WriteString(fmt.Sprintf("  truncate_mb: %d\n", defaults.Health.TruncateMB))
	cfg.WriteString("\n")

	if auditPath != "" {
		cfg.WriteString("audit:\n")
		cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", auditPath))
		cfg.WriteString("\n")
	}

	cfg.WriteString("commands:\n")
	cfg.WriteString(fmt.Sprintf("  approve_keys: \"%s\"\n", defaults.Commands.ApproveKeys))
	cfg.WriteString(fmt.Sprintf("  reject_keys: \"%s\"\n", defaults.Commands.RejectKeys))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the daemon:")
	fmt.Printf("  watchtower serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

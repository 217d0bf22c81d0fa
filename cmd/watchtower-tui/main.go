// ABOUTME: Interactive terminal front-end for watchtower
// ABOUTME: Embeds the monitor core and renders snapshot frames with Bubble Tea

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/2389/watchtower/internal/config"
	"github.com/2389/watchtower/internal/core"
	"github.com/2389/watchtower/internal/event"
	"github.com/2389/watchtower/internal/state"
	"github.com/2389/watchtower/internal/tmux"
)

func defaultConfigPath() string {
	if envPath := os.Getenv("WATCHTOWER_CONFIG"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "watchtower", "config.yaml")
}

func main() {
	configPath := flag.String("config", defaultConfigPath(), "Config file path")
	logPath := flag.String("log", filepath.Join(os.TempDir(), "watchtower-tui.log"), "Log file path (the terminal belongs to the TUI)")
	flag.Parse()

	if err := run(*configPath, *logPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, logPath string) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg := config.Default()
	if _, err := os.Stat(configPath); err == nil {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	logger := slog.New(slog.NewTextHandler(logFile, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ctrl := tmux.New(logger)
	monitor, err := core.New(cfg, ctrl, ctrl, logger)
	if err != nil {
		return fmt.Errorf("creating monitor: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return monitor.Run(ctx)
	})

	prog := tea.NewProgram(newModel(monitor, monitor.Subscribe(ctx), cfg.SocketPath), tea.WithAltScreen())

	// Quit the program when the core stops first (signal or monitor error).
	g.Go(func() error {
		<-ctx.Done()
		prog.Quit()
		return nil
	})

	_, runErr := prog.Run()
	cancel()

	if err := g.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

type frameMsg core.Frame

type framesClosedMsg struct{}

type model struct {
	monitor *core.Monitor
	frames  <-chan core.Frame
	socket  string

	frame    core.Frame
	haveData bool
	cursor   int
	feedback string

	spin    spinner.Model
	notices viewport.Model

	width  int
	height int
}

func newModel(monitor *core.Monitor, frames <-chan core.Frame, socket string) model {
	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))

	nv := viewport.New(0, 0)

	return model{
		monitor: monitor,
		frames:  frames,
		socket:  socket,
		spin:    sp,
		notices: nv,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, waitFrames(m.frames))
}

// waitFrames blocks for the next published frame and hands it to Update.
func waitFrames(ch <-chan core.Frame) tea.Cmd {
	return func() tea.Msg {
		f, ok := <-ch
		if !ok {
			return framesClosedMsg{}
		}
		return frameMsg(f)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.frame.Agents)-1 {
				m.cursor++
			}
		case "a":
			return m.submit(event.CommandApprove), nil
		case "x":
			return m.submit(event.CommandReject), nil
		case "c":
			return m.submit(event.CommandCancelLoop), nil
		case "R":
			return m.submit(event.CommandRestartLoop), nil
		case "K":
			return m.submit(event.CommandKill), nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.notices.Width = max(20, msg.Width-2)
		m.notices.Height = noticeHeight(msg.Height)

	case frameMsg:
		m.frame = core.Frame(msg)
		m.haveData = true
		if m.cursor >= len(m.frame.Agents) {
			m.cursor = max(0, len(m.frame.Agents)-1)
		}
		m.notices.SetContent(renderNotices(m.frame.Notices))
		m.notices.GotoBottom()
		return m, waitFrames(m.frames)

	case framesClosedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

// submit issues a command against the agent under the cursor.
func (m model) submit(kind event.CommandKind) model {
	if len(m.frame.Agents) == 0 || m.cursor >= len(m.frame.Agents) {
		m.feedback = "no agent selected"
		return m
	}
	identity := m.frame.Agents[m.cursor].Identity
	if err := m.monitor.SubmitCommand(kind, identity); err != nil {
		m.feedback = fmt.Sprintf("%s %s: %v", kind, identity, err)
		return m
	}
	m.feedback = fmt.Sprintf("%s sent to %s", kind, identity)
	return m
}

func noticeHeight(height int) int {
	return clamp(max(3, height/5), 3, 8)
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	selectedStyle  = lipgloss.NewStyle().Background(lipgloss.Color("62")).Foreground(lipgloss.Color("230"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	attentionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	warnStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
)

func (m model) View() string {
	if !m.haveData {
		return fmt.Sprintf("\n  %s watching %s ...\n\n  %s\n",
			m.spin.View(), m.socket, mutedStyle.Render("waiting for the first frame (q to quit)"))
	}

	width := m.width
	if width <= 0 {
		width = 140
	}
	height := m.height
	if height <= 0 {
		height = 40
	}
	cols := fitColumns(width)
	logHeight := noticeHeight(height)

	var b strings.Builder
	b.WriteString(titleStyle.Render("watchtower") + " " + mutedStyle.Render(m.socket) + "\n")
	b.WriteString(mutedStyle.Render(m.summaryLine()) + "\n")
	if m.frame.HealthWarning != "" {
		b.WriteString(warnStyle.Render("health: "+m.frame.HealthWarning) + "\n")
	}

	header := strings.Join([]string{
		padCell("IDENTITY", cols.Identity),
		padCell("PROJECT", cols.Project),
		padCell("STATUS", cols.Status),
		padCell("ROLE", cols.Role),
		padCell("LOOP", cols.Loop),
		padCell("TOOL", cols.Tool),
		padCell("CTX", cols.Ctx),
		padCell("ACTIVITY", cols.Activity),
		padCell("AGE", cols.Age),
	}, " ")
	b.WriteString(headerStyle.Render("  "+header) + "\n")
	b.WriteString(mutedStyle.Render("  "+strings.Repeat("-", len(header))) + "\n")

	// Reserve space for the fixed notice section at the bottom.
	staticTop := 5  // title + summary + table header + rule (+health line slack)
	footerLines := 3
	maxRows := height - staticTop - logHeight - footerLines
	if maxRows < 1 {
		maxRows = 1
	}
	start := 0
	if m.cursor >= maxRows {
		start = m.cursor - maxRows + 1
	}
	end := min(len(m.frame.Agents), start+maxRows)

	if len(m.frame.Agents) == 0 {
		b.WriteString(mutedStyle.Render("  (no agents reporting)") + "\n")
	} else {
		for i := start; i < end; i++ {
			a := m.frame.Agents[i]
			prefix := "  "
			if i == m.cursor {
				prefix = "> "
			}
			line := prefix + strings.Join([]string{
				padCell(a.Identity, cols.Identity),
				padCell(a.Project, cols.Project),
				padCell(statusCell(a), cols.Status),
				padCell(dash(a.Role()), cols.Role),
				padCell(loopCell(a), cols.Loop),
				padCell(dash(a.PendingTool), cols.Tool),
				padCell(ctxCell(a), cols.Ctx),
				padCell(sparkline(a.Activity, cols.Activity), cols.Activity),
				padCell(shortDur(time.Since(a.LastEventAt)), cols.Age),
			}, " ")
			switch {
			case i == m.cursor:
				b.WriteString(selectedStyle.Render(line) + "\n")
			case a.Status == state.StatusAttention:
				b.WriteString(attentionStyle.Render(line) + "\n")
			default:
				b.WriteString(line + "\n")
			}
		}
		if end < len(m.frame.Agents) {
			b.WriteString(mutedStyle.Render(fmt.Sprintf("  ... +%d more rows (use j/k)", len(m.frame.Agents)-end)) + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(headerStyle.Render("  notices") + "\n")
	b.WriteString(m.notices.View() + "\n")

	if m.feedback != "" {
		b.WriteString(mutedStyle.Render("  "+m.feedback) + "\n")
	}
	b.WriteString(mutedStyle.Render("  keys: j/k move · a approve · x reject · c cancel loop · R restart loop · K kill · q quit"))
	return b.String()
}

func (m model) summaryLine() string {
	c := m.frame.Counts
	parts := []string{
		fmt.Sprintf("%d agents", c.Total),
		fmt.Sprintf("%d working", c.Working),
		fmt.Sprintf("%d attention", c.Attention),
		fmt.Sprintf("%d idle", c.Idle),
	}
	if c.Compacting > 0 {
		parts = append(parts, fmt.Sprintf("%d compacting", c.Compacting))
	}
	if c.Orphaned > 0 {
		parts = append(parts, fmt.Sprintf("%d orphaned", c.Orphaned))
	}
	line := strings.Join(parts, " · ")
	line += fmt.Sprintf("  |  queue %d", m.frame.QueueDepth)
	if m.frame.DroppedTicks > 0 {
		line += fmt.Sprintf("  dropped %d", m.frame.DroppedTicks)
	}
	if m.frame.PendingConfigs > 0 {
		line += fmt.Sprintf("  pending cfgs %d", m.frame.PendingConfigs)
	}
	return line
}

func renderNotices(notices []event.Notice) string {
	if len(notices) == 0 {
		return mutedStyle.Render("  (none)")
	}
	var b strings.Builder
	for i, n := range notices {
		if i > 0 {
			b.WriteString("\n")
		}
		line := fmt.Sprintf("  %s [%s] %s", n.At.Format("15:04:05"), n.Source, n.Text)
		b.WriteString(mutedStyle.Render(line))
	}
	return b.String()
}

// statusCell folds the attention qualifier into the status column.
func statusCell(a state.AgentView) string {
	if a.Status == state.StatusAttention && a.Attention != state.AttentionNone {
		return string(a.Attention)
	}
	return a.Status.String()
}

func loopCell(a state.AgentView) string {
	switch {
	case a.Loop.Active():
		return fmt.Sprintf("%d/%d", a.Loop.Iteration, a.Loop.MaxIterations)
	case a.Loop.Terminal():
		return a.Loop.Phase.String()
	default:
		return "-"
	}
}

func ctxCell(a state.AgentView) string {
	if a.ContextUsagePercent == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", *a.ContextUsagePercent)
}

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// sparkline downsamples the activity series into width block glyphs.
func sparkline(samples []float64, width int) string {
	if len(samples) == 0 || width < 1 {
		return ""
	}
	if len(samples) > width {
		samples = samples[len(samples)-width:]
	}
	var b strings.Builder
	for _, v := range samples {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		idx := int(v * float64(len(sparkRunes)-1))
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortDur(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

type tableColumns struct {
	Identity int
	Project  int
	Status   int
	Role     int
	Loop     int
	Tool     int
	Ctx      int
	Activity int
	Age      int
}

// fitColumns spreads the terminal width across the table, shrinking the
// flexible columns first on narrow terminals.
func fitColumns(width int) tableColumns {
	cols := tableColumns{
		Identity: 10,
		Project:  18,
		Status:   12,
		Role:     9,
		Loop:     9,
		Tool:     16,
		Ctx:      4,
		Activity: 20,
		Age:      7,
	}
	total := cols.Identity + cols.Project + cols.Status + cols.Role +
		cols.Loop + cols.Tool + cols.Ctx + cols.Activity + cols.Age + 10
	if width >= total+10 {
		cols.Project += (width - total - 10) / 2
		if cols.Project > 32 {
			cols.Project = 32
		}
		return cols
	}
	for width < total && cols.Activity > 8 {
		cols.Activity--
		total--
	}
	for width < total && cols.Tool > 8 {
		cols.Tool--
		total--
	}
	for width < total && cols.Project > 10 {
		cols.Project--
		total--
	}
	return cols
}

func padCell(s string, width int) string {
	if width < 1 {
		return ""
	}
	r := []rune(s)
	if len(r) > width {
		if width <= 1 {
			return string(r[:width])
		}
		return string(r[:width-1]) + "…"
	}
	return s + strings.Repeat(" ", width-len(r))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

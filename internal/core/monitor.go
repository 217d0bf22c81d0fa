// ABOUTME: The monitor core: single serial consumer over the ordered intake queue
// ABOUTME: Owns the agent table, drives loop evaluation, and publishes frames

package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/2389/watchtower/internal/audit"
	"github.com/2389/watchtower/internal/command"
	"github.com/2389/watchtower/internal/config"
	"github.com/2389/watchtower/internal/event"
	"github.com/2389/watchtower/internal/health"
	"github.com/2389/watchtower/internal/intake"
	"github.com/2389/watchtower/internal/looper"
	"github.com/2389/watchtower/internal/progress"
	"github.com/2389/watchtower/internal/reconcile"
	"github.com/2389/watchtower/internal/state"
)

// noticeWindow is how many recent notices a frame carries.
const noticeWindow = 10

// Frame is one published view of everything the monitor knows, rendered on
// each render tick. Frames are value snapshots; subscribers may hold them
// indefinitely.
type Frame struct {
	At     time.Time
	Agents []state.AgentView
	Counts state.Counts

	QueueDepth     int
	DroppedTicks   uint64
	PendingConfigs int
	HealthWarning  string
	Notices        []event.Notice
}

// Monitor wires the intake queue, the agent table, the loop orchestrator, and
// the command sink together. Exactly one goroutine consumes the queue; every
// state mutation happens there.
type Monitor struct {
	cfg    *config.Config
	logger *slog.Logger

	intake *intake.Intake
	store  *state.Store
	sink   command.Sink
	prober reconcile.Prober
	health *health.Checker
	audit  *audit.Log

	frames *frameBroadcaster
	jobs   chan sinkJob

	// Consumer-owned; touched only on the consumer goroutine.
	healthWarning string
	notices       []event.Notice
}

// New assembles a monitor from configuration. The sink is required; a nil
// prober disables pane liveness reconciliation (agents are then never marked
// orphaned).
func New(cfg *config.Config, sink command.Sink, prober reconcile.Prober, logger *slog.Logger) (*Monitor, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if sink == nil {
		return nil, fmt.Errorf("command sink is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Monitor{
		cfg:    cfg,
		logger: logger.With("component", "core"),
		sink:   sink,
		prober: prober,
		frames: newFrameBroadcaster(logger),
		jobs:   make(chan sinkJob, sinkQueueSize),
	}

	m.intake = intake.New(intake.Options{
		SocketPath:     cfg.SocketPath,
		MaxConnections: cfg.Intake.MaxConnections,
		QueueSize:      cfg.Intake.QueueSize,
		ReadTimeout:    cfg.Intake.ReadTimeout,
		LogicTick:      cfg.Intake.LogicTick,
		RenderTick:     cfg.Intake.RenderTick,
	}, logger)

	m.store = state.New(state.Options{
		MaxAgents:        cfg.Store.MaxAgents,
		IdleTimeout:      cfg.Store.IdleTimeout,
		StaleTimeout:     cfg.Store.StaleTimeout,
		PendingConfigTTL: cfg.Store.PendingConfigTTL,
		InteractiveTools: cfg.Store.InteractiveTools,
	}, logger)

	if cfg.Health.Enabled {
		m.health = health.New(health.Options{
			Path:          cfg.HooksLogPath(),
			WarnBytes:     cfg.Health.WarnMB << 20,
			TruncateBytes: cfg.Health.TruncateMB << 20,
			KeepLines:     cfg.Health.KeepLines,
			Interval:      cfg.Health.Interval,
		}, logger)
	}

	if cfg.Audit.Path != "" {
		log, err := audit.Open(cfg.Audit.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
		m.audit = log
	}

	return m, nil
}

// Run starts the intake listener, the reconciler, the sink runner, and the
// serial consumer, then blocks until ctx is cancelled or a fatal error occurs
// (socket bind failure).
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor starting",
		"socket", m.cfg.SocketPath,
		"max_agents", m.cfg.Store.MaxAgents,
		"queue_size", m.cfg.Intake.QueueSize)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.intake.Run(ctx) })
	if m.prober != nil {
		rec := reconcile.New(m.prober, m.intake, m.cfg.Reconcile.Interval, m.logger)
		g.Go(func() error { return rec.Run(ctx) })
	}
	g.Go(func() error { return m.runSink(ctx) })
	g.Go(func() error { return m.consume(ctx) })

	err := g.Wait()
	m.frames.close()
	if cerr := m.audit.Close(); cerr != nil {
		m.logger.Error("closing audit log", "error", cerr)
	}
	m.logger.Info("monitor stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// SubmitEvent parses one wire record and queues it in process, bypassing the
// socket. Used by embedders and tests.
func (m *Monitor) SubmitEvent(raw []byte) error {
	return m.intake.SubmitEvent(raw)
}

// SubmitCommand queues one user command for the identified agent. The command
// travels the ordered queue, so it applies strictly after every event already
// queued. Unknown kinds are rejected here; an unknown identity surfaces later
// as a notice.
func (m *Monitor) SubmitCommand(kind event.CommandKind, identity string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", event.ErrUnknownCommand, kind)
	}
	if identity == "" {
		return fmt.Errorf("command needs a target identity")
	}
	m.intake.Inject(event.CommandMessage{Command: event.Command{
		ID:       uuid.New().String(),
		Kind:     kind,
		Identity: identity,
		At:       time.Now(),
	}})
	return nil
}

// RegisterLoopConfig attaches a loop configuration to an identity, before or
// after its first event. Zero limits take the configured defaults.
func (m *Monitor) RegisterLoopConfig(key string, cfg event.LoopConfig) error {
	if key == "" {
		return fmt.Errorf("loop config needs a target identity")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = m.cfg.Loop.DefaultMaxIterations
	}
	if cfg.StopWord == "" {
		cfg.StopWord = m.cfg.Loop.DefaultStopWord
	}
	m.intake.Inject(event.RegisterConfig{Key: key, Config: cfg})
	return nil
}

// Snapshot returns a deep copy of every agent, ordered by arrival.
func (m *Monitor) Snapshot() []state.AgentView {
	return m.store.Snapshot()
}

// Counts returns the per-status counters.
func (m *Monitor) Counts() state.Counts {
	return m.store.Counts()
}

// Subscribe returns a channel of rendered frames. The subscription ends when
// ctx is cancelled; slow receivers miss frames instead of stalling the core.
func (m *Monitor) Subscribe(ctx context.Context) <-chan Frame {
	return m.frames.subscribe(ctx)
}

// consume is the serial consumer: the only goroutine that mutates the agent
// table or loop state.
func (m *Monitor) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-m.intake.Messages():
			m.dispatch(msg)
		}
	}
}

func (m *Monitor) dispatch(msg event.Message) {
	switch v := msg.(type) {
	case event.HookMessage:
		m.handleHook(v.Hook)
	case event.CommandMessage:
		m.handleCommand(v.Command)
	case event.RegisterConfig:
		m.handleRegister(v)
	case event.LogicTick:
		m.handleLogicTick(v.At)
	case event.RenderTick:
		m.publish(v.At)
	case event.Notice:
		m.handleNotice(v)
	case event.ReconcileReport:
		m.handleReconcile(v)
	default:
		m.logger.Warn("unhandled queue message", "type", fmt.Sprintf("%T", msg))
	}
}

func (m *Monitor) handleHook(h event.Hook) {
	res := m.store.ApplyHook(h)
	for _, ev := range res.Evicted {
		m.audit.Removal(ev.Identity, ev.Reason, ev.Status.String())
	}
	if res.Removed {
		m.audit.Removal(h.Identity, "session_end", res.PrevStatus.String())
		return
	}
	if res.Agent == nil {
		return
	}
	if h.Kind == event.KindStop && res.Agent.Loop.Active() {
		m.evaluateLoop(res.Agent, h)
	}
}

func (m *Monitor) handleRegister(rc event.RegisterConfig) {
	now := time.Now()
	if a, ok := m.store.Get(rc.Key); ok {
		a.Loop = looper.Activate(rc.Config, now)
		if rc.Config.Role != "" {
			a.DeclaredRole = rc.Config.Role
		}
		if rc.Config.Dir != "" {
			a.WorkingDir = rc.Config.Dir
		}
		a.ClearStopReasons()
		m.logger.Info("loop activated",
			"identity", rc.Key,
			"role", rc.Config.Role,
			"max_iterations", rc.Config.MaxIterations,
			"stop_word", rc.Config.StopWord)
		return
	}
	m.store.RegisterPending(rc.Key, rc.Config, now)
}

func (m *Monitor) handleCommand(c event.Command) {
	a, ok := m.store.Get(c.Identity)
	if !ok {
		m.commandFailed(c, state.ErrAgentNotFound)
		return
	}

	// A dead pane can absorb no keystrokes; kill still works as table cleanup.
	if a.Status == state.StatusOrphaned && c.Kind != event.CommandKill {
		m.commandFailed(c, fmt.Errorf("agent %s is orphaned", c.Identity))
		return
	}

	var err error
	switch c.Kind {
	case event.CommandCancelLoop:
		err = m.cancelLoop(a, c)
	case event.CommandRestartLoop:
		err = m.restartLoop(a, c)
	case event.CommandApprove:
		err = m.answerPermission(a, m.cfg.Commands.ApproveKeys)
	case event.CommandReject:
		err = m.answerPermission(a, m.cfg.Commands.RejectKeys)
	case event.CommandKill:
		err = m.killAgent(a)
	default:
		err = event.ErrUnknownCommand
	}
	if err != nil {
		m.commandFailed(c, err)
		return
	}
	m.audit.Command(c.ID, string(c.Kind), c.Identity, nil)
	m.logger.Info("command applied", "command", string(c.Kind), "identity", c.Identity)
}

func (m *Monitor) commandFailed(c event.Command, err error) {
	m.audit.Command(c.ID, string(c.Kind), c.Identity, err)
	m.pushNotice(event.Notice{
		At:       c.At,
		Identity: c.Identity,
		Source:   "command",
		Text:     fmt.Sprintf("%s failed: %v", c.Kind, err),
	})
	m.logger.Warn("command refused", "command", string(c.Kind), "identity", c.Identity, "error", err)
}

func (m *Monitor) cancelLoop(a *state.Agent, c event.Command) error {
	if !a.Loop.Active() {
		return fmt.Errorf("no active loop")
	}
	prev := a.Loop.Phase
	a.Loop = a.Loop.Cancel(c.At)
	if ps := m.loopStore(a); ps != nil {
		if err := ps.AppendHistory(prev.String(), a.Loop.Phase.String(), "user cancel"); err != nil {
			m.logger.Warn("recording loop history", "identity", a.Identity, "error", err)
		}
	}
	return nil
}

func (m *Monitor) restartLoop(a *state.Agent, c event.Command) error {
	if !a.Loop.Terminal() {
		return fmt.Errorf("loop is not finished")
	}
	prev := a.Loop.Phase
	a.Loop = a.Loop.Restart(c.At)
	a.ClearStopReasons()

	ps := m.loopStore(a)
	var text string
	if ps != nil {
		if st, err := ps.ReadState(); err == nil {
			st.Iteration = a.Loop.Iteration
			st.IterationStartedAt = c.At.UTC()
			if err := ps.WriteState(st); err != nil {
				m.logger.Warn("resetting loop state record", "identity", a.Identity, "error", err)
			}
		}
		if err := ps.AppendHistory(prev.String(), a.Loop.Phase.String(), "user restart"); err != nil {
			m.logger.Warn("recording loop history", "identity", a.Identity, "error", err)
		}
		text = ps.ContinuationMessage(a.Loop.Iteration, a.Loop.MaxIterations, a.Loop.StopWord)
	} else {
		text = bareContinuation(a.Loop)
	}
	m.enqueue(sinkJob{kind: jobSendText, identity: a.Identity, text: text, submit: true})
	return nil
}

func (m *Monitor) answerPermission(a *state.Agent, keys string) error {
	if a.Status != state.StatusAttention || a.Attention != state.AttentionPermission {
		return fmt.Errorf("agent is not awaiting permission")
	}
	m.enqueue(sinkJob{kind: jobSendText, identity: a.Identity, text: keys, submit: true})
	return nil
}

func (m *Monitor) killAgent(a *state.Agent) error {
	if a.Status == state.StatusOrphaned {
		// Pane is already gone; just drop the table entry.
		if rm, ok := m.store.Remove(a.Identity, "killed"); ok {
			m.audit.Removal(rm.Identity, rm.Reason, rm.Status.String())
		}
		return nil
	}
	m.enqueue(sinkJob{kind: jobKill, identity: a.Identity})
	return nil
}

func (m *Monitor) handleLogicTick(at time.Time) {
	res := m.store.Tick(at)
	for _, rm := range res.RemovedStale {
		m.audit.Removal(rm.Identity, rm.Reason, rm.Status.String())
	}
	if m.health != nil {
		m.healthWarning = m.health.Check(at)
	}
}

func (m *Monitor) handleReconcile(rep event.ReconcileReport) {
	if rep.Err != "" {
		m.pushNotice(event.Notice{At: rep.At, Source: "reconcile", Text: rep.Err})
		return
	}
	res := m.store.ApplyReconcile(rep.Live, rep.At)
	for _, id := range res.Orphaned {
		m.audit.Record(audit.Entry{
			Kind:     audit.KindRemoval,
			Identity: id,
			Action:   "orphaned",
			Detail:   "pane_dead",
		})
	}
}

func (m *Monitor) handleNotice(n event.Notice) {
	m.logger.Warn("notice", "source", n.Source, "identity", n.Identity, "text", n.Text)
	m.pushNotice(n)

	// Sink failures against a loop-running agent feed its error log, which in
	// turn drives the repeated-error guardrail.
	if n.Source != "sink" || n.Identity == "" {
		return
	}
	a, ok := m.store.Get(n.Identity)
	if !ok || !a.Loop.Active() {
		return
	}
	ps := m.loopStore(a)
	if ps == nil {
		return
	}
	if _, err := ps.AppendError(a.Loop.Iteration, n.Text); err != nil {
		m.logger.Warn("recording loop error", "identity", n.Identity, "error", err)
	}
}

func (m *Monitor) pushNotice(n event.Notice) {
	m.notices = append(m.notices, n)
	if len(m.notices) > noticeWindow {
		m.notices = m.notices[len(m.notices)-noticeWindow:]
	}
}

func (m *Monitor) publish(at time.Time) {
	m.frames.publish(Frame{
		At:             at,
		Agents:         m.store.Snapshot(),
		Counts:         m.store.Counts(),
		QueueDepth:     m.intake.QueueDepth(),
		DroppedTicks:   m.intake.DroppedTicks(),
		PendingConfigs: m.store.PendingCount(),
		HealthWarning:  m.healthWarning,
		Notices:        append([]event.Notice(nil), m.notices...),
	})
}

// loopStore resolves the agent's loop progress directory, nil when none is
// known.
func (m *Monitor) loopStore(a *state.Agent) *progress.Store {
	dir := a.WorkingDir
	if dir == "" {
		dir = a.Loop.Dir
	}
	if dir == "" {
		return nil
	}
	return progress.New(progress.DirFor(dir))
}

// bareContinuation is the fallback nudge when no progress directory exists.
func bareContinuation(ls looper.State) string {
	return fmt.Sprintf("Continue working (iteration %d of %d). Write %q when everything is complete.",
		ls.Iteration, ls.MaxIterations, ls.StopWord)
}

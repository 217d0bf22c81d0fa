// ABOUTME: The agent table: serial apply path, concurrent snapshots, counts
// ABOUTME: cache, capacity eviction, idle/stale sweeps, pending loop configs.

package state

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/watchtower/internal/event"
	"github.com/2389/watchtower/internal/looper"
)

// ErrAgentNotFound indicates a command or lookup named an identity that is
// not in the table.
var ErrAgentNotFound = errors.New("agent not found")

// correlationMaxAge bounds how long an unmatched tool correlation entry may
// linger before the reconciler repairs it.
const correlationMaxAge = 120 * time.Second

// Options configures the store. Zero fields take defaults.
type Options struct {
	MaxAgents        int
	IdleTimeout      time.Duration
	StaleTimeout     time.Duration
	PendingConfigTTL time.Duration
	InteractiveTools []string
}

func (o Options) withDefaults() Options {
	if o.MaxAgents <= 0 {
		o.MaxAgents = 500
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 60 * time.Second
	}
	if o.StaleTimeout <= 0 {
		o.StaleTimeout = 5 * time.Minute
	}
	if o.PendingConfigTTL <= 0 {
		o.PendingConfigTTL = 10 * time.Minute
	}
	if o.InteractiveTools == nil {
		o.InteractiveTools = []string{"AskUserQuestion"}
	}
	return o
}

// Counts is the per-status counter cache, adjusted on every transition and
// never recomputed by scanning.
type Counts struct {
	Idle       int
	Working    int
	Attention  int
	Compacting int
	Orphaned   int
	Total      int
}

// Removal records an agent leaving the table.
type Removal struct {
	Identity string
	Status   Status
	Reason   string
	Loop     looper.State
}

// HookResult reports what applying one hook event changed.
type HookResult struct {
	// Agent is the affected entry, nil when the event removed it.
	Agent   *Agent
	Created bool
	Removed bool
	// Evicted lists agents removed to make room for a creation.
	Evicted []Removal
	// Claimed is the pending loop config attached at creation, if any.
	Claimed *event.LoopConfig

	PrevStatus    Status
	PrevAttention Attention
	StatusChanged bool
}

// TickResult reports what one logic-tick sweep changed.
type TickResult struct {
	RemovedStale   []Removal
	IdledAgents    []string
	ExpiredConfigs []string
}

// ReconcileResult reports what a liveness report changed.
type ReconcileResult struct {
	Orphaned             []string
	Revived              []string
	RepairedCorrelations int
	ClearedPendingTools  int
}

type pendingConfig struct {
	cfg          event.LoopConfig
	registeredAt time.Time
}

// Store holds every observed agent. The apply methods (ApplyHook, Tick,
// ApplyReconcile, Remove, RegisterPending, Get) are single-writer: only the
// serial consumer calls them. Snapshot and Counts are safe from any
// goroutine.
type Store struct {
	mu          sync.RWMutex
	opts        Options
	interactive map[string]struct{}
	agents      map[string]*Agent
	counts      Counts
	insertSeq   uint64
	pending     map[string]pendingConfig
	logger      *slog.Logger
}

// New creates an empty store. A nil logger falls back to slog.Default().
func New(opts Options, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	interactive := make(map[string]struct{}, len(opts.InteractiveTools))
	for _, tool := range opts.InteractiveTools {
		interactive[tool] = struct{}{}
	}
	return &Store{
		opts:        opts,
		interactive: interactive,
		agents:      make(map[string]*Agent),
		pending:     make(map[string]pendingConfig),
		logger:      logger.With("component", "state"),
	}
}

// ApplyHook folds one parsed event into the table: creates the agent on
// first sight (evicting at capacity, claiming any pending loop config),
// updates correlation and informational fields, then derives the status.
func (s *Store) ApplyHook(h event.Hook) HookResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res HookResult
	a, ok := s.agents[h.Identity]
	if !ok {
		if h.Kind == event.KindSessionEnd {
			// Ending an unknown agent is a no-op.
			return res
		}
		res.Evicted = s.evictForInsertLocked()
		a = newAgent(h.Identity, s.insertSeq, h.Received)
		s.insertSeq++
		s.agents[h.Identity] = a
		s.counts.Idle++
		s.counts.Total++
		res.Created = true
		if pc, found := s.pending[h.Identity]; found {
			delete(s.pending, h.Identity)
			cfg := pc.cfg
			a.Loop = looper.Activate(cfg, h.Received)
			a.DeclaredRole = cfg.Role
			if cfg.Dir != "" {
				a.WorkingDir = cfg.Dir
			}
			res.Claimed = &cfg
			s.logger.Info("pending loop config claimed",
				"identity", h.Identity, "role", cfg.Role, "max_iterations", cfg.MaxIterations)
		}
	}
	res.Agent = a
	res.PrevStatus = a.Status
	res.PrevAttention = a.Attention

	a.LastEventAt = h.Received
	a.LastEventKind = h.Kind
	if h.Project != "" {
		a.Project = h.Project
	}
	if h.SessionID != "" {
		a.SessionID = h.SessionID
	}
	if h.ContextPct != nil {
		pct := *h.ContextPct
		a.ContextUsagePercent = &pct
	}
	if h.PermissionMode != "" {
		a.PermissionMode = h.PermissionMode
	}

	interactiveTool := false
	switch h.Kind {
	case event.KindPreToolUse:
		_, interactiveTool = s.interactive[h.ToolName]
		a.PendingTool = h.ToolName
		a.PendingToolIsInteractive = interactiveTool
		a.PendingToolSince = h.Received
		if h.ToolUseID != "" {
			a.ToolCorrelation[h.ToolUseID] = h.Received
		}
		a.TotalToolCalls++
		a.recordTool(h.ToolName)

	case event.KindPostToolUse:
		a.PendingTool = ""
		a.PendingToolIsInteractive = false
		a.PendingToolSince = time.Time{}
		if h.ToolUseID != "" {
			if start, found := a.ToolCorrelation[h.ToolUseID]; found {
				delete(a.ToolCorrelation, h.ToolUseID)
				lat := h.Received.Sub(start)
				if lat < 0 {
					lat = 0
				}
				a.LastToolLatency = lat
				a.latencySamples++
				a.AvgToolLatency += (lat - a.AvgToolLatency) / time.Duration(a.latencySamples)
			}
		}

	case event.KindSessionEnd:
		s.removeLocked(a, "session_end")
		res.Agent = nil
		res.Removed = true
		res.StatusChanged = true
		return res
	}

	interactivePending := a.PendingTool != "" && a.PendingToolIsInteractive
	target := deriveStatus(h.Kind, interactiveTool, interactivePending)
	next := nextTransition(a.Status, a.Attention, h.Kind, target)
	s.setStatusLocked(a, next.status, next.attention)
	res.StatusChanged = a.Status != res.PrevStatus || a.Attention != res.PrevAttention
	return res
}

// Tick runs the time-based sweeps against now: stale removal, working→idle
// decay, one activity sample per agent, pending-config expiry.
func (s *Store) Tick(now time.Time) TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res TickResult
	for _, a := range s.agents {
		if now.Sub(a.LastEventAt) >= s.opts.StaleTimeout {
			res.RemovedStale = append(res.RemovedStale, s.removeLocked(a, "stale"))
		}
	}
	for _, a := range s.agents {
		if a.Status == StatusWorking && now.Sub(a.LastEventAt) >= s.opts.IdleTimeout {
			s.setStatusLocked(a, StatusIdle, AttentionNone)
			res.IdledAgents = append(res.IdledAgents, a.Identity)
		}
		a.sampleActivity()
	}
	for key, pc := range s.pending {
		if now.Sub(pc.registeredAt) >= s.opts.PendingConfigTTL {
			delete(s.pending, key)
			res.ExpiredConfigs = append(res.ExpiredConfigs, key)
			s.logger.Warn("pending loop config expired unclaimed", "key", key)
		}
	}
	return res
}

// ApplyReconcile folds a liveness report in: agents with no live pane are
// marked orphaned, orphans whose pane reappeared are revived to idle, and
// stale correlation entries are repaired.
func (s *Store) ApplyReconcile(live []string, now time.Time) ReconcileResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	liveSet := make(map[string]struct{}, len(live))
	for _, id := range live {
		liveSet[id] = struct{}{}
	}

	var res ReconcileResult
	for id, a := range s.agents {
		if _, alive := liveSet[id]; !alive {
			if a.Status != StatusOrphaned {
				s.setStatusLocked(a, StatusOrphaned, AttentionNone)
				res.Orphaned = append(res.Orphaned, id)
				s.logger.Warn("agent orphaned", "identity", id, "reason", "pane_dead")
			}
			continue
		}
		if a.Status == StatusOrphaned {
			s.setStatusLocked(a, StatusIdle, AttentionNone)
			res.Revived = append(res.Revived, id)
			s.logger.Info("orphaned agent revived", "identity", id)
		}
		for toolID, start := range a.ToolCorrelation {
			if now.Sub(start) >= correlationMaxAge {
				delete(a.ToolCorrelation, toolID)
				res.RepairedCorrelations++
			}
		}
		// Interactive tools legitimately wait on a human, so only
		// non-interactive pending entries are treated as leaked.
		if a.PendingTool != "" && !a.PendingToolIsInteractive &&
			!a.PendingToolSince.IsZero() && now.Sub(a.PendingToolSince) >= correlationMaxAge {
			a.PendingTool = ""
			a.PendingToolSince = time.Time{}
			res.ClearedPendingTools++
		}
	}
	return res
}

// Remove deletes an agent outright (user kill path).
func (s *Store) Remove(identity, reason string) (Removal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[identity]
	if !ok {
		return Removal{}, false
	}
	return s.removeLocked(a, reason), true
}

// RegisterPending stores a loop config for an identity that has not sent
// its first event yet. Re-registering a key overwrites.
func (s *Store) RegisterPending(key string, cfg event.LoopConfig, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[key] = pendingConfig{cfg: cfg, registeredAt: at}
	s.logger.Debug("pending loop config registered", "key", key, "role", cfg.Role)
}

// PendingCount returns how many configs await their first event.
func (s *Store) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// Get returns the live entry. Serial consumer only; snapshot readers must
// use Snapshot.
func (s *Store) Get(identity string) (*Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[identity]
	return a, ok
}

// Len returns the number of live agents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}

// Counts returns the counter cache.
func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts
}

// Snapshot deep-copies every agent, ordered by arrival.
func (s *Store) Snapshot() []AgentView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agents := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].InsertSeq < agents[j].InsertSeq })

	views := make([]AgentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, a.View())
	}
	return views
}

func (s *Store) setStatusLocked(a *Agent, st Status, at Attention) {
	if a.Status != st {
		s.adjustCountLocked(a.Status, -1)
		s.adjustCountLocked(st, 1)
	}
	a.Status = st
	if st == StatusAttention {
		a.Attention = at
	} else {
		a.Attention = AttentionNone
	}
}

func (s *Store) adjustCountLocked(st Status, delta int) {
	switch st {
	case StatusIdle:
		s.counts.Idle += delta
	case StatusWorking:
		s.counts.Working += delta
	case StatusAttention:
		s.counts.Attention += delta
	case StatusCompacting:
		s.counts.Compacting += delta
	case StatusOrphaned:
		s.counts.Orphaned += delta
	}
}

func (s *Store) removeLocked(a *Agent, reason string) Removal {
	delete(s.agents, a.Identity)
	s.adjustCountLocked(a.Status, -1)
	s.counts.Total--
	s.logger.Debug("agent removed", "identity", a.Identity, "reason", reason)
	return Removal{Identity: a.Identity, Status: a.Status, Reason: reason, Loop: a.Loop}
}

// evictForInsertLocked frees room for one insertion at capacity. Idle and
// orphaned agents go first, least recently active; with none available the
// least recently active agent overall goes; ties break on arrival order.
func (s *Store) evictForInsertLocked() []Removal {
	var evicted []Removal
	for len(s.agents) >= s.opts.MaxAgents {
		victim := s.pickVictimLocked()
		if victim == nil {
			break
		}
		s.logger.Warn("evicting agent at capacity",
			"identity", victim.Identity, "status", victim.Status.String())
		evicted = append(evicted, s.removeLocked(victim, "evicted"))
	}
	return evicted
}

func (s *Store) pickVictimLocked() *Agent {
	var preferred, fallback *Agent
	for _, a := range s.agents {
		if a.Status == StatusIdle || a.Status == StatusOrphaned {
			if betterVictim(a, preferred) {
				preferred = a
			}
		}
		if betterVictim(a, fallback) {
			fallback = a
		}
	}
	if preferred != nil {
		return preferred
	}
	return fallback
}

// betterVictim reports whether a should be evicted before b.
func betterVictim(a, b *Agent) bool {
	if b == nil {
		return true
	}
	if !a.LastEventAt.Equal(b.LastEventAt) {
		return a.LastEventAt.Before(b.LastEventAt)
	}
	return a.InsertSeq < b.InsertSeq
}

// ABOUTME: Agent record and its bounded histories: activity samples, tool
// ABOUTME: names, stop reasons. Snapshot views are deep copies.

package state

import (
	"time"

	"github.com/2389/watchtower/internal/event"
	"github.com/2389/watchtower/internal/looper"
)

// Status is an agent's derived top-level state.
type Status int

const (
	StatusIdle Status = iota
	StatusWorking
	StatusAttention
	StatusCompacting
	// StatusOrphaned marks an agent whose pane disappeared; only the
	// reconciler sets it.
	StatusOrphaned
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusWorking:
		return "working"
	case StatusAttention:
		return "attention"
	case StatusCompacting:
		return "compacting"
	case StatusOrphaned:
		return "orphaned"
	}
	return "unknown"
}

// Attention qualifies StatusAttention. Empty for every other status.
type Attention string

const (
	AttentionNone         Attention = ""
	AttentionPermission   Attention = "permission"
	AttentionWaiting      Attention = "waiting"
	AttentionNotification Attention = "notification"
)

const (
	activitySamples  = 60
	toolHistorySize  = 10
	stopReasonWindow = looper.StallWindow
)

// Agent is one observed external process. Mutated only by the store's
// apply path; snapshot consumers get Views.
type Agent struct {
	Identity  string
	Project   string
	SessionID string

	Status    Status
	Attention Attention

	LastEventKind event.Kind
	LastEventAt   time.Time
	FirstSeenAt   time.Time
	InsertSeq     uint64

	PendingTool              string
	PendingToolIsInteractive bool
	PendingToolSince         time.Time

	// ToolCorrelation maps in-flight tool_use_id to its start time.
	ToolCorrelation map[string]time.Time

	LastToolLatency time.Duration
	AvgToolLatency  time.Duration
	TotalToolCalls  int
	latencySamples  int

	activity    floatRing
	toolHistory stringRing
	stopReasons stringRing

	Loop looper.State

	// DeclaredRole comes from a registered loop config; ObservedRole from
	// tool usage. Both are kept.
	DeclaredRole string
	ObservedRole string

	ContextUsagePercent *float64
	PermissionMode      string
	WorkingDir          string
}

func newAgent(identity string, seq uint64, at time.Time) *Agent {
	return &Agent{
		Identity:        identity,
		Status:          StatusIdle,
		FirstSeenAt:     at,
		LastEventAt:     at,
		InsertSeq:       seq,
		ToolCorrelation: make(map[string]time.Time),
		activity:        newFloatRing(activitySamples),
		toolHistory:     newStringRing(toolHistorySize),
		stopReasons:     newStringRing(stopReasonWindow),
	}
}

// Role resolves the effective role: an explicit declaration wins over
// observation.
func (a *Agent) Role() string {
	if a.DeclaredRole != "" {
		return a.DeclaredRole
	}
	return a.ObservedRole
}

// Activity returns the activity samples, oldest first.
func (a *Agent) Activity() []float64 { return a.activity.values() }

// Tools returns the recent tool names, oldest first.
func (a *Agent) Tools() []string { return a.toolHistory.values() }

// StopReasons returns the recent stop reasons, oldest first.
func (a *Agent) StopReasons() []string { return a.stopReasons.values() }

// RecordStopReason appends to the stop-reason window.
func (a *Agent) RecordStopReason(reason string) { a.stopReasons.push(reason) }

// ClearStopReasons empties the window, used on loop restart.
func (a *Agent) ClearStopReasons() { a.stopReasons.clear() }

func (a *Agent) recordTool(name string) {
	if name == "" {
		return
	}
	a.toolHistory.push(name)
	a.ObservedRole = inferRole(a.Tools())
}

// sampleActivity appends one sample for the current status.
func (a *Agent) sampleActivity() {
	a.activity.push(activityLevel(a.Status, a.Attention))
}

// activityLevel maps a status to its sparkline sample height.
func activityLevel(s Status, at Attention) float64 {
	switch s {
	case StatusWorking:
		return 1.0
	case StatusCompacting:
		return 0.6
	case StatusAttention:
		switch at {
		case AttentionPermission:
			return 0.8
		case AttentionNotification:
			return 0.5
		case AttentionWaiting:
			return 0.1
		}
	}
	return 0.0
}

// AgentView is an immutable copy handed to snapshot consumers.
type AgentView struct {
	Identity  string
	Project   string
	SessionID string

	Status    Status
	Attention Attention

	LastEventKind event.Kind
	LastEventAt   time.Time
	FirstSeenAt   time.Time

	PendingTool              string
	PendingToolIsInteractive bool
	PendingToolSince         time.Time
	InFlightTools            int

	LastToolLatency time.Duration
	AvgToolLatency  time.Duration
	TotalToolCalls  int

	Activity    []float64
	ToolHistory []string
	StopReasons []string

	Loop looper.State

	DeclaredRole string
	ObservedRole string

	ContextUsagePercent *float64
	PermissionMode      string
	WorkingDir          string
}

// Role resolves the effective role for display.
func (v AgentView) Role() string {
	if v.DeclaredRole != "" {
		return v.DeclaredRole
	}
	return v.ObservedRole
}

// View deep-copies the agent for concurrent readers.
func (a *Agent) View() AgentView {
	v := AgentView{
		Identity:                 a.Identity,
		Project:                  a.Project,
		SessionID:                a.SessionID,
		Status:                   a.Status,
		Attention:                a.Attention,
		LastEventKind:            a.LastEventKind,
		LastEventAt:              a.LastEventAt,
		FirstSeenAt:              a.FirstSeenAt,
		PendingTool:              a.PendingTool,
		PendingToolIsInteractive: a.PendingToolIsInteractive,
		PendingToolSince:         a.PendingToolSince,
		InFlightTools:            len(a.ToolCorrelation),
		LastToolLatency:          a.LastToolLatency,
		AvgToolLatency:           a.AvgToolLatency,
		TotalToolCalls:           a.TotalToolCalls,
		Activity:                 a.Activity(),
		ToolHistory:              a.Tools(),
		StopReasons:              a.StopReasons(),
		Loop:                     a.Loop,
		DeclaredRole:             a.DeclaredRole,
		ObservedRole:             a.ObservedRole,
		PermissionMode:           a.PermissionMode,
		WorkingDir:               a.WorkingDir,
	}
	if a.ContextUsagePercent != nil {
		pct := *a.ContextUsagePercent
		v.ContextUsagePercent = &pct
	}
	return v
}

// floatRing is a fixed-capacity ring of samples.
type floatRing struct {
	buf  []float64
	next int
	full bool
}

func newFloatRing(n int) floatRing { return floatRing{buf: make([]float64, n)} }

func (r *floatRing) push(v float64) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// values copies out the samples, oldest first.
func (r *floatRing) values() []float64 {
	if !r.full {
		return append([]float64(nil), r.buf[:r.next]...)
	}
	out := make([]float64, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// stringRing is a fixed-capacity ring of strings.
type stringRing struct {
	buf  []string
	next int
	full bool
}

func newStringRing(n int) stringRing { return stringRing{buf: make([]string, n)} }

func (r *stringRing) push(v string) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *stringRing) values() []string {
	if !r.full {
		return append([]string(nil), r.buf[:r.next]...)
	}
	out := make([]string, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

func (r *stringRing) clear() {
	r.next = 0
	r.full = false
}

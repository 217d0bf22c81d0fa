// ABOUTME: Loop state machine data: phases, per-agent loop state, transitions.
// ABOUTME: Pure data and functions; file access and command dispatch live in core.

package looper

import (
	"time"

	"github.com/2389/watchtower/internal/event"
)

// Phase is the lifecycle position of one agent's loop.
type Phase string

const (
	// PhaseNone is the zero value: no loop configured.
	PhaseNone      Phase = ""
	PhaseActive    Phase = "active"
	PhaseComplete  Phase = "complete"
	PhaseStalled   Phase = "stalled"
	PhaseCancelled Phase = "cancelled"
)

// String renders the zero phase as "none" for display.
func (p Phase) String() string {
	if p == PhaseNone {
		return "none"
	}
	return string(p)
}

// State is one agent's loop bookkeeping. It travels inside state.Agent and
// is only ever replaced whole, never shared mutably.
type State struct {
	Phase         Phase
	Iteration     int
	MaxIterations int
	StopWord      string
	Role          string
	Dir           string
	TaskID        string

	// Reason records why a terminal phase was entered.
	Reason string
	// FannedOut marks that this planner loop already spawned workers.
	FannedOut bool

	StartedAt      time.Time
	LastDecisionAt time.Time
}

// Activate builds a fresh Active state from a registered config. Iteration
// is 1-based: the first iteration is already running when the loop starts.
func Activate(cfg event.LoopConfig, at time.Time) State {
	return State{
		Phase:         PhaseActive,
		Iteration:     1,
		MaxIterations: cfg.MaxIterations,
		StopWord:      cfg.StopWord,
		Role:          cfg.Role,
		Dir:           cfg.Dir,
		TaskID:        cfg.TaskID,
		StartedAt:     at,
	}
}

// Active reports whether the loop is running.
func (s State) Active() bool { return s.Phase == PhaseActive }

// Terminal reports whether the loop has finished in any way.
func (s State) Terminal() bool {
	switch s.Phase {
	case PhaseComplete, PhaseStalled, PhaseCancelled:
		return true
	}
	return false
}

// Cancel moves an active loop to Cancelled. Non-active states pass through
// unchanged.
func (s State) Cancel(at time.Time) State {
	if !s.Active() {
		return s
	}
	s.Phase = PhaseCancelled
	s.Reason = "user_cancel"
	s.LastDecisionAt = at
	return s
}

// Restart moves a terminal loop back to Active with counters reset. The
// configuration (limits, role, dir) carries over.
func (s State) Restart(at time.Time) State {
	if !s.Terminal() {
		return s
	}
	s.Phase = PhaseActive
	s.Iteration = 1
	s.Reason = ""
	s.FannedOut = false
	s.StartedAt = at
	s.LastDecisionAt = at
	return s
}

// Finish moves an active loop to the verdict's terminal phase. Continue
// verdicts advance the iteration counter instead.
func (s State) Finish(d Decision, at time.Time) State {
	if !s.Active() {
		return s
	}
	s.LastDecisionAt = at
	switch d.Verdict {
	case VerdictComplete:
		s.Phase = PhaseComplete
		s.Reason = d.Reason
	case VerdictStalled:
		s.Phase = PhaseStalled
		s.Reason = d.Reason
	case VerdictContinue:
		s.Iteration++
	}
	return s
}

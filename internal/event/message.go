// ABOUTME: The ordered-queue message vocabulary shared by every event source.
// ABOUTME: Hooks, user commands, timer ticks, notices, and reconcile reports all normalize to Message.

package event

import (
	"errors"
	"time"
)

// ErrUnknownCommand indicates a command kind outside the closed set.
var ErrUnknownCommand = errors.New("unknown command kind")

// Message is one item on the ordered intake queue. The implementation set is
// closed; the single consumer dispatches with a type switch. No two messages
// are ever delivered concurrently.
type Message interface{ isMessage() }

// HookMessage carries one parsed agent hook record.
type HookMessage struct{ Hook Hook }

// CommandMessage carries one user-issued command.
type CommandMessage struct{ Command Command }

// LogicTick drives idle/stale sweeps, activity sampling, and pending-config
// expiry. Independent of RenderTick.
type LogicTick struct{ At time.Time }

// RenderTick drives snapshot publication to subscribers. Independent of
// LogicTick.
type RenderTick struct{ At time.Time }

// Notice surfaces a recoverable failure as visible state instead of
// swallowing it: connection read errors, command-sink failures, prober
// failures.
type Notice struct {
	At       time.Time
	Identity string // affected agent, if any
	Source   string // originating subsystem: intake, sink, reconcile, health
	Text     string
}

// ReconcileReport carries the prober's view of currently live pane
// identities. Err is set when the probe itself failed; Live is then nil and
// no liveness conclusions may be drawn from it.
type ReconcileReport struct {
	At   time.Time
	Live []string
	Err  string
}

// RegisterConfig attaches a loop configuration to an identity, or parks it in
// the pending table until that identity's first event arrives.
type RegisterConfig struct {
	Key    string
	Config LoopConfig
}

func (HookMessage) isMessage()     {}
func (CommandMessage) isMessage()  {}
func (LogicTick) isMessage()       {}
func (RenderTick) isMessage()      {}
func (Notice) isMessage()          {}
func (ReconcileReport) isMessage() {}
func (RegisterConfig) isMessage()  {}

// CommandKind enumerates user-issued commands.
type CommandKind string

const (
	CommandCancelLoop  CommandKind = "cancel"
	CommandRestartLoop CommandKind = "restart"
	CommandApprove     CommandKind = "approve"
	CommandReject      CommandKind = "reject"
	CommandKill        CommandKind = "kill"
)

// Valid reports whether k is a known command kind.
func (k CommandKind) Valid() bool {
	switch k {
	case CommandCancelLoop, CommandRestartLoop, CommandApprove,
		CommandReject, CommandKill:
		return true
	}
	return false
}

// Command is one user-issued action targeting a single agent. Commands travel
// the same ordered queue as hook events, so a cancel applies strictly after
// everything already queued for that agent.
type Command struct {
	ID       string // assigned at submission, correlates audit rows
	Kind     CommandKind
	Identity string
	At       time.Time
}

// LoopConfig is spawn-time loop configuration. It may be registered before
// the configured agent's first event arrives; see the pending-config table.
type LoopConfig struct {
	MaxIterations int
	StopWord      string
	Role          string
	// Dir is the agent's working directory; the loop progress directory
	// lives under it. Empty when no loop was initialized.
	Dir string
	// TaskID is the bound task for fan-out workers, empty otherwise.
	TaskID string
}

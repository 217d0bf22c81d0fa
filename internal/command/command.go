// ABOUTME: The command-sink contract between the monitor core and the terminal layer.
// ABOUTME: The core decides that a command is issued and to which agent; delivery is external.

package command

import "context"

// SpawnRequest describes one isolated agent to launch.
type SpawnRequest struct {
	// WorkingDir is the directory the new pane starts in.
	WorkingDir string
	// Branch requests an isolated git worktree for that branch; empty means
	// run directly in WorkingDir.
	Branch string
	// StartCommand is the shell command typed into the new pane.
	StartCommand string
	// TaskID identifies the bound task for fan-out workers, for logging only.
	TaskID string
}

// SpawnResult reports where a spawned agent landed.
type SpawnResult struct {
	// Identity is the provisional identity (the pane id), known before the
	// agent's first event arrives.
	Identity string
	// WorkingDir is the directory the agent actually started in. It differs
	// from the requested one when a worktree was created.
	WorkingDir string
}

// Sink executes commands on behalf of the core. The core issues commands from
// a single goroutine and never blocks on their external outcome; failures are
// surfaced back to it as notice events, not retried.
type Sink interface {
	// SendText delivers text to the agent's controlling session. When submit
	// is true the text is followed by a carriage return.
	SendText(ctx context.Context, identity, text string, submit bool) error

	// SpawnAgent launches a new isolated agent.
	SpawnAgent(ctx context.Context, req SpawnRequest) (SpawnResult, error)

	// Kill terminates the agent's pane.
	Kill(ctx context.Context, identity string) error
}

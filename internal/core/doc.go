// Package core orchestrates the watchtower monitor components.
//
// # Overview
//
// The core package is the central coordinator of the monitor. It owns the
// intake listener, the agent table, the loop orchestrator, the command sink
// runner, and the frame broadcaster, and it runs the single serial consumer
// that every state mutation flows through.
//
// # Monitor Struct
//
// The Monitor struct is the main entry point:
//
//	type Monitor struct {
//	    cfg    *config.Config
//	    intake *intake.Intake
//	    store  *state.Store
//	    sink   command.Sink
//	    prober reconcile.Prober
//	    health *health.Checker
//	    audit  *audit.Log
//	    frames *frameBroadcaster
//	    jobs   chan sinkJob
//	    // ... and more
//	}
//
// # Message Flow
//
// Every input normalizes to an event.Message on one ordered queue:
//
//   - HookMessage: agent life-cycle record from the socket
//   - CommandMessage: user command (cancel, restart, approve, reject, kill)
//   - RegisterConfig: loop configuration for a current or future agent
//   - LogicTick: idle/stale sweeps, activity sampling, health check
//   - RenderTick: frame publication
//   - Notice: recoverable failure surfaced as visible state
//   - ReconcileReport: the prober's view of live panes
//
// The consumer dispatches with a type switch; no two messages are ever
// applied concurrently, so a command submitted after an event is applied
// after it, always.
//
// # Loop Evaluation
//
// A Stop event from a loop-active agent triggers the circuit breakers in
// priority order: iteration cap, stop word, promise tag, repeated-reason
// stall, then the judge heuristic over the progress tail. Continue verdicts
// append an activity line, refresh the iteration prompt, bump the state
// record, and send a continuation message through the sink. Terminal
// verdicts record the transition in the session history.
//
// A planner whose progress text declares planning complete fans out: each
// pending task in the task file becomes one worker spawn, capped at
// max_workers. The sink runner seeds each worker's loop directory and
// registers its loop config under the spawned pane id.
//
// # Command Sink
//
// The consumer never calls the sink directly; it queues jobs for a dedicated
// runner so tmux latency cannot stall event processing. Failures come back
// through the ordered queue as notices.
//
// # Frames
//
// On every render tick the consumer publishes a Frame: agent views, status
// counts, queue depth, pending configs, health warning, and recent notices.
// Subscribers receive frames on a buffered channel and miss frames when they
// fall behind.
//
// # Lifecycle
//
// Start the monitor:
//
//	m, err := core.New(cfg, tmux.New(logger), tmux.New(logger), logger)
//	err = m.Run(ctx)
//
// Cancelling ctx stops the listener, the reconciler, the sink runner, and
// the consumer, closes subscriber channels, and flushes the audit log.
//
// # Key Files
//
//   - monitor.go: Monitor struct, facade operations, consumer dispatch
//   - loop.go: breaker evaluation and planner fan-out
//   - dispatch.go: async sink runner and worker spawn sequencing
//   - broadcast.go: frame fan-out to subscribers
package core

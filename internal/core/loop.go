// ABOUTME: Stop-event loop evaluation and planner fan-out glue
// ABOUTME: Resolves progress file reads, applies breaker decisions, queues worker spawns

package core

import (
	"time"

	"github.com/2389/watchtower/internal/command"
	"github.com/2389/watchtower/internal/event"
	"github.com/2389/watchtower/internal/looper"
	"github.com/2389/watchtower/internal/progress"
	"github.com/2389/watchtower/internal/state"
)

// judgeTailBytes bounds how much trailing progress text the judge heuristic
// reads.
const judgeTailBytes = 4096

// evaluateLoop runs the circuit breakers for one loop-active agent that just
// stopped, applies the decision, and checks for planner fan-out.
func (m *Monitor) evaluateLoop(a *state.Agent, h event.Hook) {
	ps := m.loopStore(a)
	var progressText, judgeText string
	if ps != nil {
		progressText = ps.ProgressText()
		judgeText = ps.ProgressTail(judgeTailBytes)
	}

	prev := a.Loop
	d := looper.Evaluate(looper.EvalInput{
		Iteration:     prev.Iteration,
		MaxIterations: prev.MaxIterations,
		StopWord:      prev.StopWord,
		ProgressText:  progressText,
		JudgeText:     judgeText,
		StopReasons:   a.StopReasons(),
	})
	m.audit.Decision(a.Identity, prev.Iteration, string(d.Verdict), d.Reason, d.Confidence)

	// Fan-out readiness is judged on the pre-decision state: a planner that
	// declares planning complete spawns its workers even when the same stop
	// ends its own loop.
	fanOut := ps != nil && looper.ShouldFanOut(prev, a.Role(), progressText)

	a.Loop = prev.Finish(d, h.Received)

	switch d.Verdict {
	case looper.VerdictContinue:
		a.RecordStopReason(stopReason(h))
		m.continueLoop(a, ps, prev, h)
	default:
		m.finishLoop(a, ps, prev, d, h)
	}

	if fanOut && m.fanOut(a, ps) {
		a.Loop.FannedOut = true
	}
}

func (m *Monitor) continueLoop(a *state.Agent, ps *progress.Store, prev looper.State, h event.Hook) {
	m.logger.Info("loop continues",
		"identity", a.Identity,
		"iteration", a.Loop.Iteration,
		"max_iterations", a.Loop.MaxIterations)

	var text string
	if ps != nil {
		m.recordIteration(a, ps, prev, h)
		text = ps.ContinuationMessage(a.Loop.Iteration, a.Loop.MaxIterations, a.Loop.StopWord)
	} else {
		text = bareContinuation(a.Loop)
	}
	m.enqueue(sinkJob{kind: jobSendText, identity: a.Identity, text: text, submit: true})
}

// recordIteration closes the books on the finished iteration: activity line,
// refreshed spawn prompt, bumped state record. The prompt must be written
// before the bump; it renders the upcoming iteration number from the record.
func (m *Monitor) recordIteration(a *state.Agent, ps *progress.Store, prev looper.State, h event.Hook) {
	if err := ps.AppendActivity(prev.Iteration, m.iterationDuration(ps, h), -1, stopReason(h)); err != nil {
		m.logger.Warn("recording loop activity", "identity", a.Identity, "error", err)
	}
	if _, err := ps.WriteIterationPrompt(); err != nil {
		m.logger.Warn("writing iteration prompt", "identity", a.Identity, "error", err)
	}
	if _, err := ps.IncrementIteration(); err != nil {
		m.logger.Warn("bumping iteration record", "identity", a.Identity, "error", err)
	}
}

func (m *Monitor) finishLoop(a *state.Agent, ps *progress.Store, prev looper.State, d looper.Decision, h event.Hook) {
	m.logger.Info("loop finished",
		"identity", a.Identity,
		"phase", a.Loop.Phase.String(),
		"reason", d.Reason,
		"iterations", prev.Iteration,
		"confidence", d.Confidence)
	if ps == nil {
		return
	}
	if err := ps.AppendActivity(prev.Iteration, m.iterationDuration(ps, h), -1, d.Reason); err != nil {
		m.logger.Warn("recording loop activity", "identity", a.Identity, "error", err)
	}
	if err := ps.AppendHistory(prev.Phase.String(), a.Loop.Phase.String(), d.Reason); err != nil {
		m.logger.Warn("recording loop history", "identity", a.Identity, "error", err)
	}
}

func (m *Monitor) iterationDuration(ps *progress.Store, h event.Hook) time.Duration {
	st, err := ps.ReadState()
	if err != nil || st.IterationStartedAt.IsZero() {
		return 0
	}
	return h.Received.Sub(st.IterationStartedAt)
}

func stopReason(h event.Hook) string {
	if h.Reason != "" {
		return h.Reason
	}
	return "stop"
}

// fanOut queues one worker spawn per pending task, capped at max_workers.
// Reports whether any worker was planned.
func (m *Monitor) fanOut(a *state.Agent, ps *progress.Store) bool {
	pending, err := ps.PendingTasks()
	if err != nil {
		m.logger.Warn("reading task file", "identity", a.Identity, "error", err)
		return false
	}
	plans := looper.PlanFanOut(pending, m.cfg.Loop.MaxWorkers, looper.WorkerConfig{
		MaxIterations: m.cfg.Loop.WorkerMaxIterations,
		StopWord:      m.cfg.Loop.WorkerStopWord,
	})
	if len(plans) == 0 {
		return false
	}

	dir := a.WorkingDir
	if dir == "" {
		dir = a.Loop.Dir
	}
	m.logger.Info("planner fan-out",
		"identity", a.Identity,
		"workers", len(plans),
		"pending_tasks", len(pending))
	for _, plan := range plans {
		m.enqueue(sinkJob{
			kind: jobSpawn,
			spawn: command.SpawnRequest{
				WorkingDir:   dir,
				Branch:       plan.Branch,
				StartCommand: m.cfg.Loop.WorkerCommand,
				TaskID:       plan.Task.ID,
			},
			loopCfg: plan.Config,
			prompt:  plan.Task.Description,
		})
	}
	return true
}

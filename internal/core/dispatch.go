// ABOUTME: Async sink runner: executes queued SendText/Spawn/Kill jobs off the consumer
// ABOUTME: Spawns seed the worker's loop directory and register its config via the queue

package core

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/watchtower/internal/command"
	"github.com/2389/watchtower/internal/event"
	"github.com/2389/watchtower/internal/progress"
)

// sinkQueueSize bounds outstanding sink jobs. The consumer never blocks on
// the sink; overflow is reported as a notice and the job is dropped.
const sinkQueueSize = 64

type sinkJobKind int

const (
	jobSendText sinkJobKind = iota
	jobSpawn
	jobKill
)

func (k sinkJobKind) String() string {
	switch k {
	case jobSendText:
		return "send_text"
	case jobSpawn:
		return "spawn"
	case jobKill:
		return "kill"
	}
	return "unknown"
}

// sinkJob is one unit of external work decided by the consumer.
type sinkJob struct {
	kind     sinkJobKind
	identity string
	text     string
	submit   bool

	// Spawn jobs only.
	spawn   command.SpawnRequest
	loopCfg event.LoopConfig
	prompt  string
}

// enqueue hands one job to the sink runner. Called from the consumer
// goroutine only; a full queue drops the job and records a notice.
func (m *Monitor) enqueue(job sinkJob) {
	select {
	case m.jobs <- job:
	default:
		m.logger.Warn("sink queue full, dropping job",
			"kind", job.kind.String(), "identity", job.identity)
		m.pushNotice(event.Notice{
			At:       time.Now(),
			Identity: job.identity,
			Source:   "sink",
			Text:     fmt.Sprintf("sink queue full, %s dropped", job.kind),
		})
	}
}

// runSink executes sink jobs one at a time, preserving the order the
// consumer decided them in.
func (m *Monitor) runSink(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-m.jobs:
			m.execJob(ctx, job)
		}
	}
}

func (m *Monitor) execJob(ctx context.Context, job sinkJob) {
	switch job.kind {
	case jobSendText:
		if err := m.sink.SendText(ctx, job.identity, job.text, job.submit); err != nil {
			m.sinkFailure(job.identity, fmt.Sprintf("send text: %v", err))
		}
	case jobKill:
		if err := m.sink.Kill(ctx, job.identity); err != nil {
			m.sinkFailure(job.identity, fmt.Sprintf("kill: %v", err))
		}
	case jobSpawn:
		m.execSpawn(ctx, job)
	}
}

// execSpawn launches one worker: spawn the pane, seed its loop directory,
// wait out the spawn delay so the agent process can come up, send the kickoff
// prompt, then register the loop config under the new identity. The delay
// also paces consecutive spawns, since jobs run strictly one after another.
func (m *Monitor) execSpawn(ctx context.Context, job sinkJob) {
	res, err := m.sink.SpawnAgent(ctx, job.spawn)
	if err != nil {
		m.sinkFailure(job.identity, fmt.Sprintf("spawn %s: %v", job.spawn.Branch, err))
		return
	}

	cfg := job.loopCfg
	cfg.Dir = res.WorkingDir

	ps, initErr := progress.Init(res.WorkingDir, job.prompt, progress.State{
		Iteration:     1,
		MaxIterations: cfg.MaxIterations,
		StopWord:      cfg.StopWord,
		Role:          cfg.Role,
		PaneID:        res.Identity,
	})
	if initErr != nil {
		m.logger.Warn("seeding worker loop directory",
			"identity", res.Identity, "dir", res.WorkingDir, "error", initErr)
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(m.cfg.Loop.SpawnDelay):
	}

	var kickoff string
	if initErr == nil {
		kickoff = ps.ContinuationMessage(1, cfg.MaxIterations, cfg.StopWord)
	} else {
		kickoff = fmt.Sprintf("Work on your task (iteration 1 of %d). Write %q when it is complete.",
			cfg.MaxIterations, cfg.StopWord)
	}
	if err := m.sink.SendText(ctx, res.Identity, kickoff, true); err != nil {
		m.sinkFailure(res.Identity, fmt.Sprintf("send text: %v", err))
	}

	m.intake.Inject(event.RegisterConfig{Key: res.Identity, Config: cfg})
	m.logger.Info("worker spawned",
		"identity", res.Identity,
		"branch", job.spawn.Branch,
		"task_id", cfg.TaskID,
		"dir", res.WorkingDir)
}

// sinkFailure reports a failed sink call back through the ordered queue.
func (m *Monitor) sinkFailure(identity, text string) {
	m.intake.Inject(event.Notice{
		At:       time.Now(),
		Identity: identity,
		Source:   "sink",
		Text:     text,
	})
}

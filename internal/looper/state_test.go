// ABOUTME: Tests for loop phase transitions: activate, finish, cancel,
// ABOUTME: restart, and the fan-out planner.

package looper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/watchtower/internal/event"
	"github.com/2389/watchtower/internal/progress"
)

func activeState(t *testing.T) State {
	t.Helper()
	st := Activate(event.LoopConfig{
		MaxIterations: 20,
		StopWord:      "COMPLETE",
		Role:          RolePlanner,
		Dir:           "/tmp/proj",
	}, time.Now())
	require.True(t, st.Active())
	return st
}

func TestState_ZeroValueIsNone(t *testing.T) {
	var st State
	assert.Equal(t, PhaseNone, st.Phase)
	assert.Equal(t, "none", st.Phase.String())
	assert.False(t, st.Active())
	assert.False(t, st.Terminal())
}

func TestState_ActivateStartsAtIterationOne(t *testing.T) {
	st := activeState(t)
	assert.Equal(t, 1, st.Iteration)
}

func TestState_FinishContinueIncrementsIteration(t *testing.T) {
	st := activeState(t)
	st = st.Finish(Decision{Verdict: VerdictContinue, Reason: "continue"}, time.Now())
	assert.True(t, st.Active())
	assert.Equal(t, 2, st.Iteration)
}

func TestState_FinishCompleteIsTerminal(t *testing.T) {
	st := activeState(t)
	st = st.Finish(Decision{Verdict: VerdictComplete, Reason: "stop_word"}, time.Now())
	assert.Equal(t, PhaseComplete, st.Phase)
	assert.Equal(t, "stop_word", st.Reason)
	assert.True(t, st.Terminal())

	// Further decisions are ignored once terminal.
	again := st.Finish(Decision{Verdict: VerdictContinue}, time.Now())
	assert.Equal(t, st, again)
}

func TestState_CancelOnlyAffectsActive(t *testing.T) {
	st := activeState(t)
	st = st.Cancel(time.Now())
	assert.Equal(t, PhaseCancelled, st.Phase)
	assert.Equal(t, "user_cancel", st.Reason)

	var none State
	assert.Equal(t, none, none.Cancel(time.Now()))
}

func TestState_RestartResetsCounters(t *testing.T) {
	st := activeState(t)
	st.Iteration = 9
	st.FannedOut = true
	st = st.Finish(Decision{Verdict: VerdictStalled, Reason: "stalled"}, time.Now())

	st = st.Restart(time.Now())
	assert.True(t, st.Active())
	assert.Equal(t, 1, st.Iteration)
	assert.Empty(t, st.Reason)
	assert.False(t, st.FannedOut)
	assert.Equal(t, 20, st.MaxIterations, "config carries over")

	// Restart on a non-terminal loop is a no-op.
	assert.Equal(t, st, st.Restart(time.Now()))
}

func TestShouldFanOut(t *testing.T) {
	st := activeState(t)

	assert.True(t, ShouldFanOut(st, RolePlanner, "notes\nPLANNING COMPLETE\n"))
	assert.True(t, ShouldFanOut(st, RolePlanner, "planning complete"), "marker is case-insensitive")
	assert.False(t, ShouldFanOut(st, RolePlanner, "still planning"))
	assert.False(t, ShouldFanOut(st, RoleWorker, "PLANNING COMPLETE"))

	st.FannedOut = true
	assert.False(t, ShouldFanOut(st, RolePlanner, "PLANNING COMPLETE"))

	var none State
	assert.False(t, ShouldFanOut(none, RolePlanner, "PLANNING COMPLETE"))
}

func TestPlanFanOut_CapsAtMaxWorkers(t *testing.T) {
	pending := []progress.Task{
		{ID: "TASK-001", Description: "first"},
		{ID: "TASK-002", Description: "second"},
		{ID: "TASK-003", Description: "third"},
		{ID: "TASK-004", Description: "fourth"},
	}
	plans := PlanFanOut(pending, 3, WorkerConfig{MaxIterations: 10, StopWord: "DONE"})

	assert.Len(t, plans, 3)
	assert.Equal(t, "worker-1", plans[0].Branch)
	assert.Equal(t, "worker-3", plans[2].Branch)
	assert.Equal(t, "TASK-002", plans[1].Task.ID)
	assert.Equal(t, "TASK-002", plans[1].Config.TaskID)
	assert.Equal(t, RoleWorker, plans[0].Config.Role)
	assert.Equal(t, 10, plans[0].Config.MaxIterations)
	assert.Equal(t, "DONE", plans[0].Config.StopWord)
}

func TestPlanFanOut_FewerTasksThanWorkers(t *testing.T) {
	pending := []progress.Task{{ID: "TASK-001", Description: "only"}}
	plans := PlanFanOut(pending, 3, WorkerConfig{MaxIterations: 10, StopWord: "DONE"})
	assert.Len(t, plans, 1)
}

func TestPlanFanOut_Empty(t *testing.T) {
	assert.Empty(t, PlanFanOut(nil, 3, WorkerConfig{}))
	assert.Empty(t, PlanFanOut([]progress.Task{{ID: "T-1"}}, 0, WorkerConfig{}))
}

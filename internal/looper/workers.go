// ABOUTME: Planner fan-out: decides when a planner's pending tasks become
// ABOUTME: worker spawn plans and shapes each worker's loop config.

package looper

import (
	"fmt"
	"strings"

	"github.com/2389/watchtower/internal/event"
	"github.com/2389/watchtower/internal/progress"
)

// PlanningMarker is the phrase a planner writes to its progress file when
// the task list is ready for workers.
const PlanningMarker = "PLANNING COMPLETE"

// RolePlanner and RoleWorker are the loop roles with special handling.
const (
	RolePlanner  = "planner"
	RoleWorker   = "worker"
	RoleReviewer = "reviewer"
)

// SpawnPlan is one worker to create: a branch, the task bound to it, and
// the loop config to register under the spawned identity.
type SpawnPlan struct {
	Branch string
	Task   progress.Task
	Config event.LoopConfig
}

// ShouldFanOut reports whether a planner loop is ready to spawn workers:
// the loop is active, has not fanned out yet, the agent acts as a planner,
// and the progress text declares planning complete.
func ShouldFanOut(st State, role, progressText string) bool {
	if !st.Active() || st.FannedOut {
		return false
	}
	if role != RolePlanner {
		return false
	}
	return strings.Contains(strings.ToLower(progressText), strings.ToLower(PlanningMarker))
}

// WorkerConfig shapes the loop config common to all fanned-out workers.
type WorkerConfig struct {
	MaxIterations int
	StopWord      string
}

// PlanFanOut binds pending tasks to worker branches, at most maxWorkers of
// them, in task order. Branch names are worker-1..worker-n. Config.Dir is
// left empty; the caller fills it once the worktree location is known.
func PlanFanOut(pending []progress.Task, maxWorkers int, wc WorkerConfig) []SpawnPlan {
	n := len(pending)
	if maxWorkers < n {
		n = maxWorkers
	}
	if n <= 0 {
		return nil
	}
	plans := make([]SpawnPlan, 0, n)
	for i := 0; i < n; i++ {
		task := pending[i]
		plans = append(plans, SpawnPlan{
			Branch: fmt.Sprintf("worker-%d", i+1),
			Task:   task,
			Config: event.LoopConfig{
				MaxIterations: wc.MaxIterations,
				StopWord:      wc.StopWord,
				Role:          RoleWorker,
				TaskID:        task.ID,
			},
		})
	}
	return plans
}

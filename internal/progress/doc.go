// ABOUTME: Package documentation for the loop progress store.
// ABOUTME: Documents the on-disk layout shared with looping agents.

// Package progress manages the per-agent loop directory, the file-based
// contract between the orchestrator and a looping agent.
//
// # Layout
//
// Everything lives under <working_dir>/.watchtower/loop/:
//
//	anchor.md              immutable task statement, written once at init
//	guardrails.md          learned constraints, append-only signs
//	progress.md            agent-appended work log, read by the breakers
//	errors.log             appended error lines, feeds guardrail auto-append
//	activity.log           one line per completed iteration
//	session_history.log    state transitions, capped at the newest 50
//	state.toml             structured record (iteration, limits, role, pane)
//	tasks.md               planner-maintained task queue, goldmark-parsed
//	_iteration_prompt.md   generated prompt for the next iteration
//
// The agent writes progress.md, guardrails.md, and tasks.md; the
// orchestrator writes everything else. Both sides only ever append to the
// shared markdown files, so neither clobbers the other.
//
// # Error patterns
//
// AppendError normalizes each error to a short key and counts repeats in
// state.toml. The third occurrence of a key appends an auto-detected sign
// to guardrails.md so the next iteration is warned off the failing path.
package progress

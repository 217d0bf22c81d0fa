// ABOUTME: Observed-role inference from the recent tool mix: planners read,
// ABOUTME: workers mutate, reviewers read after mutating.

package state

import "github.com/2389/watchtower/internal/looper"

var readOnlyTools = map[string]struct{}{
	"Read":            {},
	"Glob":            {},
	"Grep":            {},
	"WebFetch":        {},
	"WebSearch":       {},
	"TodoWrite":       {},
	"Task":            {},
	"AskUserQuestion": {},
}

var mutationTools = map[string]struct{}{
	"Write":        {},
	"Edit":         {},
	"NotebookEdit": {},
	"Bash":         {},
}

// inferRole classifies the recent tool history, oldest first. At least
// three all-read-only tools look like planning; any mutation makes a
// worker; a mutation followed by two or more reads looks like review.
// Unknown tools count as neither read nor mutation.
func inferRole(tools []string) string {
	if len(tools) == 0 {
		return ""
	}
	lastMutation := -1
	allReadOnly := true
	for i, tool := range tools {
		if _, ok := mutationTools[tool]; ok {
			lastMutation = i
			allReadOnly = false
			continue
		}
		if _, ok := readOnlyTools[tool]; !ok {
			allReadOnly = false
		}
	}

	if lastMutation >= 0 {
		reads := 0
		for _, tool := range tools[lastMutation+1:] {
			if _, ok := readOnlyTools[tool]; ok {
				reads++
			}
		}
		if reads >= 2 {
			return looper.RoleReviewer
		}
		return looper.RoleWorker
	}

	if allReadOnly && len(tools) >= 3 {
		return looper.RolePlanner
	}
	return ""
}

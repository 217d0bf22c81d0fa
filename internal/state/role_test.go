// ABOUTME: Tests for observed-role inference from recent tool usage.

package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferRole(t *testing.T) {
	tests := []struct {
		name  string
		tools []string
		want  string
	}{
		{"empty", nil, ""},
		{"too few reads", []string{"Read", "Grep"}, ""},
		{"all reads is a planner", []string{"Read", "Grep", "Glob"}, "planner"},
		{"planner with web tools", []string{"WebSearch", "WebFetch", "Read", "TodoWrite"}, "planner"},
		{"single mutation is a worker", []string{"Read", "Write"}, "worker"},
		{"bash counts as mutation", []string{"Bash"}, "worker"},
		{"mutation then reads is a reviewer", []string{"Edit", "Read", "Grep"}, "reviewer"},
		{"reads after the last mutation decide", []string{"Read", "Write", "Read", "Edit", "Read"}, "worker"},
		{"reviewer needs two reads after mutating", []string{"Write", "Read"}, "worker"},
		{"unknown tools are neutral", []string{"Read", "Mystery", "Grep"}, ""},
		{"unknown tools do not count as reviews", []string{"Write", "Mystery", "Read"}, "worker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, inferRole(tt.tools))
		})
	}
}

func TestAgent_RecordToolUpdatesObservedRole(t *testing.T) {
	a := newAgent("a1", 0, testBase)

	a.recordTool("Read")
	a.recordTool("Grep")
	assert.Empty(t, a.ObservedRole)

	a.recordTool("Glob")
	assert.Equal(t, "planner", a.ObservedRole)

	a.recordTool("Write")
	assert.Equal(t, "worker", a.ObservedRole)

	a.recordTool("Read")
	a.recordTool("Grep")
	assert.Equal(t, "reviewer", a.ObservedRole)
}

func TestAgent_ToolHistoryBounded(t *testing.T) {
	a := newAgent("a1", 0, testBase)
	for i := 0; i < 25; i++ {
		a.recordTool("Read")
	}
	assert.Len(t, a.Tools(), toolHistorySize)
}

func TestAgent_RoleDeclarationWins(t *testing.T) {
	a := newAgent("a1", 0, testBase)
	a.ObservedRole = "worker"
	assert.Equal(t, "worker", a.Role())

	a.DeclaredRole = "planner"
	assert.Equal(t, "planner", a.Role())
}

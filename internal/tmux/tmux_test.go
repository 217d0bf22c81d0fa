// ABOUTME: Tests for the pure parsing helpers of the tmux controller.
// ABOUTME: Command execution itself is exercised manually; tests never require a tmux server.

package tmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePanes(t *testing.T) {
	out := "%0\n%3\n%12\n"
	assert.Equal(t, []string{"%0", "%3", "%12"}, parsePanes(out))
}

func TestParsePanes_BlankLinesSkipped(t *testing.T) {
	out := "\n%1\n\n  \n%2\n"
	assert.Equal(t, []string{"%1", "%2"}, parsePanes(out))
}

func TestParsePanes_Empty(t *testing.T) {
	assert.Empty(t, parsePanes(""))
}

func TestWorktreePath(t *testing.T) {
	assert.Equal(t, "/work/proj-worker-1", worktreePath("/work/proj", "worker-1"))
	assert.Equal(t, "/work/proj-fix-loop", worktreePath("/work/proj", "fix/loop"))
}

// ABOUTME: Tests for the loop progress store: init layout, state record,
// ABOUTME: breaker text checks, history cap, and error pattern tracking.

package progress

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Init(dir, "Build the thing", State{
		MaxIterations: 20,
		StopWord:      "COMPLETE",
		Role:          "worker",
		PaneID:        "%7",
	})
	require.NoError(t, err)
	return s
}

func TestInit_CreatesLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := Init(dir, "Refactor the export pipeline", State{
		MaxIterations: 20,
		StopWord:      "COMPLETE",
	})
	require.NoError(t, err)

	for _, name := range []string{
		"anchor.md", "guardrails.md", "progress.md",
		"errors.log", "activity.log", "session_history.log", "state.toml",
	} {
		_, err := os.Stat(filepath.Join(s.Dir(), name))
		assert.NoError(t, err, "expected %s to exist", name)
	}

	anchor := s.AnchorText()
	assert.Contains(t, anchor, "Refactor the export pipeline")
	assert.Contains(t, anchor, "COMPLETE")

	assert.Contains(t, s.ProgressText(), "Starting iteration 1")
	assert.True(t, Active(dir))
}

func TestActive_FalseWithoutInit(t *testing.T) {
	assert.False(t, Active(t.TempDir()))
}

func TestStore_ReadState_Missing(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nowhere"))
	_, err := s.ReadState()
	assert.ErrorIs(t, err, ErrNoLoopDir)
}

func TestStore_StateRoundTrip(t *testing.T) {
	s := initStore(t)

	st, err := s.ReadState()
	require.NoError(t, err)
	assert.Equal(t, 0, st.Iteration)
	assert.Equal(t, 20, st.MaxIterations)
	assert.Equal(t, "COMPLETE", st.StopWord)
	assert.Equal(t, "worker", st.Role)
	assert.Equal(t, "%7", st.PaneID)
	assert.False(t, st.StartedAt.IsZero())

	st.Iteration = 4
	require.NoError(t, s.WriteState(st))

	again, err := s.ReadState()
	require.NoError(t, err)
	assert.Equal(t, 4, again.Iteration)
}

func TestStore_IncrementIteration(t *testing.T) {
	s := initStore(t)

	n, err := s.IncrementIteration()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.IncrementIteration()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, err := s.ReadState()
	require.NoError(t, err)
	assert.Equal(t, 2, st.Iteration)
	assert.False(t, st.IterationStartedAt.Before(st.StartedAt))
}

func TestStore_CheckStopWord(t *testing.T) {
	s := initStore(t)
	require.NoError(t, s.AppendProgress("All done, writing complete now."))

	assert.True(t, s.CheckStopWord("COMPLETE"))
	assert.True(t, s.CheckStopWord("complete"))
	assert.False(t, s.CheckStopWord("FINISHED"))
	assert.False(t, s.CheckStopWord(""))
}

func TestStore_CheckPromiseTag(t *testing.T) {
	s := initStore(t)
	assert.False(t, s.CheckPromiseTag("<promise>COMPLETE</promise>"))

	require.NoError(t, s.AppendProgress("<promise>COMPLETE</promise>"))
	assert.True(t, s.CheckPromiseTag("<promise>COMPLETE</promise>"))
	assert.False(t, s.CheckPromiseTag(""))
}

func TestStore_ProgressTail(t *testing.T) {
	s := initStore(t)
	for i := 0; i < 100; i++ {
		require.NoError(t, s.AppendProgress(fmt.Sprintf("step %03d: still working", i)))
	}

	tail := s.ProgressTail(200)
	assert.LessOrEqual(t, len(tail), 200)
	assert.Contains(t, tail, "step 099")
	assert.NotContains(t, tail, "step 001")
	// Cut lands on a line boundary, so the first line is intact.
	assert.True(t, strings.HasPrefix(tail, "step "), "tail starts mid-line: %q", tail[:20])
}

func TestStore_ProgressTail_ShortFile(t *testing.T) {
	s := initStore(t)
	full := s.ProgressText()
	assert.Equal(t, full, s.ProgressTail(1<<20))
}

func TestStore_AppendError_ThresholdAddsGuardrail(t *testing.T) {
	s := initStore(t)

	hit, err := s.AppendError(1, "cargo build failed: missing semicolon")
	require.NoError(t, err)
	assert.False(t, hit)

	hit, err = s.AppendError(2, "cargo build failed: missing semicolon")
	require.NoError(t, err)
	assert.False(t, hit)

	hit, err = s.AppendError(3, "cargo build failed: missing semicolon")
	require.NoError(t, err)
	assert.True(t, hit, "third identical error should trip the guardrail")

	guardrails := s.GuardrailsText()
	assert.Contains(t, guardrails, "### Sign: Auto-detected:")
	assert.Contains(t, guardrails, "occurred 3 times")

	// A fourth repeat must not append the sign again.
	hit, err = s.AppendError(4, "cargo build failed: missing semicolon")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, strings.Count(s.GuardrailsText(), "Auto-detected:"))
}

func TestStore_AppendError_DistinctPatternsCountedSeparately(t *testing.T) {
	s := initStore(t)

	for i := 1; i <= 2; i++ {
		hit, err := s.AppendError(i, "network timeout on fetch")
		require.NoError(t, err)
		assert.False(t, hit)
	}
	hit, err := s.AppendError(3, "permission denied writing output")
	require.NoError(t, err)
	assert.False(t, hit, "different pattern must not inherit the count")
}

func TestNormalizeErrorKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "punctuation stripped and lowercased",
			in:   "Error: build FAILED (exit 1)!",
			want: "error_build_failed_exit_1",
		},
		{
			name: "capped at ten words",
			in:   "a b c d e f g h i j k l m",
			want: "a_b_c_d_e_f_g_h_i_j",
		},
		{
			name: "long text truncated before splitting",
			in:   strings.Repeat("x", 150),
			want: strings.Repeat("x", 100),
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeErrorKey(tt.in))
		})
	}
}

func TestStore_AppendActivity_Format(t *testing.T) {
	s := initStore(t)
	require.NoError(t, s.AppendActivity(3, 95e9, 12, "stop hook"))

	text := s.readAll("activity.log")
	assert.Contains(t, text, "Iteration 3 completed")
	assert.Contains(t, text, "Duration: 1m 35s")
	assert.Contains(t, text, "Tool calls: 12")
	assert.Contains(t, text, "Reason: stop hook")
}

func TestStore_RecentActivity_LastFive(t *testing.T) {
	s := initStore(t)
	assert.Empty(t, s.RecentActivity(5))

	for i := 1; i <= 8; i++ {
		require.NoError(t, s.AppendActivity(i, 0, -1, "ok"))
	}

	recent := s.RecentActivity(5)
	assert.Contains(t, recent, "Recent iteration outcomes:")
	assert.NotContains(t, recent, "Iteration 3 completed")
	assert.Contains(t, recent, "Iteration 4 completed")
	assert.Contains(t, recent, "Iteration 8 completed")
}

func TestStore_AppendHistory_CapsEntries(t *testing.T) {
	s := initStore(t)

	for i := 0; i < 60; i++ {
		require.NoError(t, s.AppendHistory("Working", "Idle", fmt.Sprintf("pass %d", i)))
	}

	lines := s.History()
	require.Len(t, lines, 50)
	assert.Contains(t, lines[0], "pass 10")
	assert.Contains(t, lines[49], "pass 59")
	assert.Contains(t, lines[49], "Working -> Idle")
}

func TestStore_WriteIterationPrompt(t *testing.T) {
	s := initStore(t)
	_, err := s.IncrementIteration()
	require.NoError(t, err)

	path, err := s.WriteIterationPrompt()
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	prompt := string(data)

	assert.Contains(t, prompt, "# Loop Iteration 2")
	assert.Contains(t, prompt, "Build the thing")
	assert.Contains(t, prompt, "## Learned Constraints (Guardrails)")
	assert.Contains(t, prompt, `"COMPLETE"`)
	assert.Contains(t, prompt, "<promise>COMPLETE</promise>")
}

func TestStore_ContinuationMessage(t *testing.T) {
	s := initStore(t)
	msg := s.ContinuationMessage(5, 20, "COMPLETE")

	assert.Contains(t, msg, "iteration 5 of 20")
	assert.Contains(t, msg, ".watchtower/loop")
	assert.Contains(t, msg, `"COMPLETE"`)
	assert.NotContains(t, msg, "\n", "continuation must be a single injectable line")
}

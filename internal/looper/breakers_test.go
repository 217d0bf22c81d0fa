// ABOUTME: Tests for breaker priority order, stall detection, and the
// ABOUTME: judge heuristic classification.

package looper

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_MaxIterationsFirst(t *testing.T) {
	// Every other breaker would also fire; the iteration cap must win.
	d := Evaluate(EvalInput{
		Iteration:     20,
		MaxIterations: 20,
		StopWord:      "COMPLETE",
		ProgressText:  "COMPLETE " + PromiseTag,
		JudgeText:     "all tasks completed",
		StopReasons:   []string{"stop", "stop", "stop", "stop", "stop"},
	})
	assert.Equal(t, VerdictComplete, d.Verdict)
	assert.Equal(t, "max_iterations", d.Reason)
	assert.Equal(t, 1.0, d.Confidence)
}

func TestEvaluate_StopWordBeforePromiseTag(t *testing.T) {
	d := Evaluate(EvalInput{
		Iteration:     3,
		MaxIterations: 20,
		StopWord:      "COMPLETE",
		ProgressText:  "work complete\n" + PromiseTag,
	})
	assert.Equal(t, VerdictComplete, d.Verdict)
	assert.Equal(t, "stop_word", d.Reason)
}

func TestEvaluate_StopWordCaseInsensitive(t *testing.T) {
	d := Evaluate(EvalInput{
		Iteration:     1,
		MaxIterations: 20,
		StopWord:      "COMPLETE",
		ProgressText:  "Everything is Complete now.",
	})
	assert.Equal(t, VerdictComplete, d.Verdict)
	assert.Equal(t, "stop_word", d.Reason)
}

func TestEvaluate_PromiseTag(t *testing.T) {
	d := Evaluate(EvalInput{
		Iteration:     1,
		MaxIterations: 20,
		StopWord:      "NEVERMATCHES",
		ProgressText:  "done with step 3\n" + PromiseTag + "\n",
	})
	assert.Equal(t, VerdictComplete, d.Verdict)
	assert.Equal(t, "promise_tag", d.Reason)
}

func TestEvaluate_StallAfterRepeatedReasons(t *testing.T) {
	reasons := []string{"agent stopped", "agent stopped", "agent stopped", "agent stopped", "agent stopped"}
	d := Evaluate(EvalInput{
		Iteration:     7,
		MaxIterations: 20,
		StopWord:      "COMPLETE",
		ProgressText:  "still going",
		StopReasons:   reasons,
	})
	assert.Equal(t, VerdictStalled, d.Verdict)
	assert.Equal(t, "stalled", d.Reason)
}

func TestEvaluate_NoStallBelowWindow(t *testing.T) {
	d := Evaluate(EvalInput{
		Iteration:     4,
		MaxIterations: 20,
		StopReasons:   []string{"x", "x", "x", "x"},
	})
	assert.Equal(t, VerdictContinue, d.Verdict)
}

func TestEvaluate_NoStallWhenReasonsDiffer(t *testing.T) {
	d := Evaluate(EvalInput{
		Iteration:     6,
		MaxIterations: 20,
		StopReasons:   []string{"x", "x", "y", "x", "x"},
	})
	assert.Equal(t, VerdictContinue, d.Verdict)
}

func TestEvaluate_JudgeFallback(t *testing.T) {
	d := Evaluate(EvalInput{
		Iteration:     2,
		MaxIterations: 20,
		StopWord:      "COMPLETE",
		ProgressText:  "iterating on the parser",
		JudgeText:     "all requirements met, wrapping up",
	})
	assert.Equal(t, VerdictComplete, d.Verdict)
	assert.True(t, strings.HasPrefix(d.Reason, "judge:"), "reason %q", d.Reason)
	assert.Equal(t, 0.8, d.Confidence)
}

func TestEvaluate_DefaultContinue(t *testing.T) {
	d := Evaluate(EvalInput{
		Iteration:     2,
		MaxIterations: 20,
		StopWord:      "COMPLETE",
		ProgressText:  "working through the list",
		JudgeText:     "working through the list",
	})
	assert.Equal(t, VerdictContinue, d.Verdict)
	assert.Equal(t, "continue", d.Reason)
	assert.Equal(t, 0.5, d.Confidence)
}

func TestJudge_Classification(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		verdict Verdict
		conf    float64
	}{
		{"completion phrase", "I have successfully implemented the feature", VerdictComplete, 0.8},
		{"completion uppercase", "ALL TESTS PASS", VerdictComplete, 0.8},
		{"stall phrase", "currently blocked by a missing credential", VerdictStalled, 0.7},
		{"stall needs input", "need clarification on the schema", VerdictStalled, 0.7},
		{"completion wins over stall", "all tasks completed but waiting for review", VerdictComplete, 0.8},
		{"neutral", "refactored the intake module", VerdictContinue, 0.5},
		{"empty", "", VerdictContinue, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := Judge(tt.text)
			assert.Equal(t, tt.verdict, j.Verdict)
			assert.Equal(t, tt.conf, j.Confidence)
		})
	}
}

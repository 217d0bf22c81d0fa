// ABOUTME: Circuit breakers evaluated on every Stop of a loop-active agent.
// ABOUTME: Strict priority order; the first matching breaker decides.

package looper

import "strings"

// PromiseTag is the explicit completion marker an agent writes to its
// progress file.
const PromiseTag = "<promise>COMPLETE</promise>"

// StallWindow is how many identical consecutive stop reasons count as a
// stall.
const StallWindow = 5

// EvalInput carries everything one evaluation needs. The caller resolves
// all file reads first; Evaluate itself touches nothing.
type EvalInput struct {
	Iteration     int
	MaxIterations int
	StopWord      string

	// ProgressText is the full progress file, input to the word breakers.
	ProgressText string
	// JudgeText is the tail handed to the heuristic judge.
	JudgeText string

	// StopReasons holds the recent stop reasons, oldest first.
	StopReasons []string
}

// Decision is the evaluation outcome.
type Decision struct {
	Verdict    Verdict
	Reason     string
	Confidence float64
}

// Evaluate runs the breakers in priority order: iteration cap, stop word,
// promise tag, repeated-reason stall, then the judge heuristic.
func Evaluate(in EvalInput) Decision {
	if in.MaxIterations > 0 && in.Iteration >= in.MaxIterations {
		return Decision{Verdict: VerdictComplete, Reason: "max_iterations", Confidence: 1.0}
	}

	if in.StopWord != "" && strings.Contains(
		strings.ToLower(in.ProgressText), strings.ToLower(in.StopWord)) {
		return Decision{Verdict: VerdictComplete, Reason: "stop_word", Confidence: 1.0}
	}

	if strings.Contains(in.ProgressText, PromiseTag) {
		return Decision{Verdict: VerdictComplete, Reason: "promise_tag", Confidence: 1.0}
	}

	if stalled(in.StopReasons) {
		return Decision{Verdict: VerdictStalled, Reason: "stalled", Confidence: 1.0}
	}

	j := Judge(in.JudgeText)
	switch j.Verdict {
	case VerdictComplete:
		return Decision{Verdict: VerdictComplete, Reason: "judge:" + j.Indicator, Confidence: j.Confidence}
	case VerdictStalled:
		return Decision{Verdict: VerdictStalled, Reason: "judge:" + j.Indicator, Confidence: j.Confidence}
	}
	return Decision{Verdict: VerdictContinue, Reason: "continue", Confidence: j.Confidence}
}

// stalled reports whether the reason window is full of one repeated value.
func stalled(reasons []string) bool {
	if len(reasons) < StallWindow {
		return false
	}
	first := reasons[0]
	if first == "" {
		return false
	}
	for _, r := range reasons[1:] {
		if r != first {
			return false
		}
	}
	return true
}

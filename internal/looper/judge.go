// ABOUTME: Heuristic judge for loop continuation when no hard breaker fires.
// ABOUTME: Scans agent-written progress text for completion and stall phrasing.

package looper

import "strings"

// Verdict is the outcome of a loop evaluation.
type Verdict string

const (
	VerdictContinue Verdict = "continue"
	VerdictComplete Verdict = "complete"
	VerdictStalled  Verdict = "stalled"
)

// completionIndicators mark work the agent itself considers finished.
var completionIndicators = []string{
	"all tasks completed",
	"implementation complete",
	"successfully implemented",
	"task is done",
	"work is complete",
	"finished implementing",
	"all requirements met",
	"nothing left to do",
	"ready for review",
	"all tests pass",
}

// stallIndicators mark an agent that cannot make progress on its own.
var stallIndicators = []string{
	"blocked by",
	"need clarification",
	"cannot proceed",
	"stuck on",
	"waiting for",
	"unclear requirements",
	"need more information",
	"error persists",
}

// Judgment is the heuristic's reading of the progress text.
type Judgment struct {
	Verdict    Verdict
	Confidence float64
	// Indicator is the phrase that decided a non-continue verdict.
	Indicator string
}

// Judge classifies progress text. Completion indicators win over stall
// indicators; with neither present the loop continues at low confidence.
func Judge(text string) Judgment {
	lower := strings.ToLower(text)
	for _, ind := range completionIndicators {
		if strings.Contains(lower, ind) {
			return Judgment{Verdict: VerdictComplete, Confidence: 0.8, Indicator: ind}
		}
	}
	for _, ind := range stallIndicators {
		if strings.Contains(lower, ind) {
			return Judgment{Verdict: VerdictStalled, Confidence: 0.7, Indicator: ind}
		}
	}
	return Judgment{Verdict: VerdictContinue, Confidence: 0.5}
}

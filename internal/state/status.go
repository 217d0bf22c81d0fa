// ABOUTME: Status derivation: the event-kind table plus the attention
// ABOUTME: priority rules that keep blocking states from being overwritten.

package state

import "github.com/2389/watchtower/internal/event"

// transition is a computed status target.
type transition struct {
	status    Status
	attention Attention
}

// deriveStatus maps an event kind to its base status. interactiveTool is
// set for a PreToolUse of an interactive tool; interactivePending when a
// Stop arrives with an interactive tool still outstanding. Unknown kinds
// degrade to Idle.
func deriveStatus(k event.Kind, interactiveTool, interactivePending bool) transition {
	switch k {
	case event.KindSessionStart:
		return transition{StatusIdle, AttentionNone}
	case event.KindUserPromptSubmit:
		return transition{StatusWorking, AttentionNone}
	case event.KindPreToolUse:
		if interactiveTool {
			return transition{StatusAttention, AttentionWaiting}
		}
		return transition{StatusWorking, AttentionNone}
	case event.KindPostToolUse:
		return transition{StatusWorking, AttentionNone}
	case event.KindPermissionRequest:
		return transition{StatusAttention, AttentionPermission}
	case event.KindNotification:
		return transition{StatusAttention, AttentionNotification}
	case event.KindStop:
		if interactivePending {
			return transition{StatusAttention, AttentionWaiting}
		}
		return transition{StatusIdle, AttentionNone}
	case event.KindPreCompact:
		return transition{StatusCompacting, AttentionNone}
	case event.KindSubagentStart, event.KindSubagentStop:
		return transition{StatusWorking, AttentionNone}
	}
	return transition{StatusIdle, AttentionNone}
}

// nextTransition applies the priority rules: a blocking attention state
// (permission or waiting) holds until a releasing event or a
// higher-priority attention arrives. Subagent events in particular never
// downgrade a blocked parent.
func nextTransition(cur Status, curAt Attention, k event.Kind, target transition) transition {
	if cur != StatusAttention || !blocking(curAt) {
		return target
	}
	switch k {
	case event.KindPostToolUse, event.KindUserPromptSubmit:
		return target
	}
	if target.status == StatusAttention && attentionRank(target.attention) > attentionRank(curAt) {
		return target
	}
	return transition{StatusAttention, curAt}
}

// blocking reports whether the subtype pins the agent waiting on a human.
func blocking(at Attention) bool {
	return at == AttentionPermission || at == AttentionWaiting
}

func attentionRank(at Attention) int {
	switch at {
	case AttentionPermission:
		return 3
	case AttentionWaiting:
		return 2
	case AttentionNotification:
		return 1
	}
	return 0
}

// ABOUTME: Tests for the status derivation table and the attention
// ABOUTME: priority rules.

package state

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/watchtower/internal/event"
)

func TestDeriveStatus_Table(t *testing.T) {
	tests := []struct {
		kind      event.Kind
		status    Status
		attention Attention
	}{
		{event.KindSessionStart, StatusIdle, AttentionNone},
		{event.KindUserPromptSubmit, StatusWorking, AttentionNone},
		{event.KindPreToolUse, StatusWorking, AttentionNone},
		{event.KindPostToolUse, StatusWorking, AttentionNone},
		{event.KindPermissionRequest, StatusAttention, AttentionPermission},
		{event.KindNotification, StatusAttention, AttentionNotification},
		{event.KindStop, StatusIdle, AttentionNone},
		{event.KindPreCompact, StatusCompacting, AttentionNone},
		{event.KindSubagentStart, StatusWorking, AttentionNone},
		{event.KindSubagentStop, StatusWorking, AttentionNone},
		{event.Kind("SomethingNew"), StatusIdle, AttentionNone},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got := deriveStatus(tt.kind, false, false)
			assert.Equal(t, tt.status, got.status)
			assert.Equal(t, tt.attention, got.attention)
		})
	}
}

func TestDeriveStatus_InteractiveTool(t *testing.T) {
	got := deriveStatus(event.KindPreToolUse, true, false)
	assert.Equal(t, StatusAttention, got.status)
	assert.Equal(t, AttentionWaiting, got.attention)
}

func TestDeriveStatus_StopWithInteractivePending(t *testing.T) {
	got := deriveStatus(event.KindStop, false, true)
	assert.Equal(t, StatusAttention, got.status)
	assert.Equal(t, AttentionWaiting, got.attention)
}

func TestNextTransition_BlockingAttentionHolds(t *testing.T) {
	holdingKinds := []event.Kind{
		event.KindStop,
		event.KindNotification,
		event.KindPreCompact,
		event.KindSubagentStart,
		event.KindSubagentStop,
		event.KindSessionStart,
		event.Kind("SomethingNew"),
	}
	for _, k := range holdingKinds {
		t.Run(string(k), func(t *testing.T) {
			target := deriveStatus(k, false, false)
			got := nextTransition(StatusAttention, AttentionPermission, k, target)
			assert.Equal(t, StatusAttention, got.status)
			assert.Equal(t, AttentionPermission, got.attention)
		})
	}
}

func TestNextTransition_ReleasingKinds(t *testing.T) {
	for _, k := range []event.Kind{event.KindPostToolUse, event.KindUserPromptSubmit} {
		t.Run(string(k), func(t *testing.T) {
			target := deriveStatus(k, false, false)
			got := nextTransition(StatusAttention, AttentionPermission, k, target)
			assert.Equal(t, StatusWorking, got.status)
			assert.Equal(t, AttentionNone, got.attention)
		})
	}
}

func TestNextTransition_HigherAttentionReplaces(t *testing.T) {
	// Permission outranks waiting.
	target := deriveStatus(event.KindPermissionRequest, false, false)
	got := nextTransition(StatusAttention, AttentionWaiting, event.KindPermissionRequest, target)
	assert.Equal(t, AttentionPermission, got.attention)

	// Waiting does not displace permission.
	target = deriveStatus(event.KindPreToolUse, true, false)
	got = nextTransition(StatusAttention, AttentionPermission, event.KindPreToolUse, target)
	assert.Equal(t, AttentionPermission, got.attention)

	// Notification does not displace waiting.
	target = deriveStatus(event.KindNotification, false, false)
	got = nextTransition(StatusAttention, AttentionWaiting, event.KindNotification, target)
	assert.Equal(t, AttentionWaiting, got.attention)
}

func TestNextTransition_NonBlockingStatesFollowTable(t *testing.T) {
	// Notification attention is not blocking and is freely overwritten.
	target := deriveStatus(event.KindPreToolUse, false, false)
	got := nextTransition(StatusAttention, AttentionNotification, event.KindPreToolUse, target)
	assert.Equal(t, StatusWorking, got.status)

	// Orphaned agents revive on any real event.
	target = deriveStatus(event.KindUserPromptSubmit, false, false)
	got = nextTransition(StatusOrphaned, AttentionNone, event.KindUserPromptSubmit, target)
	assert.Equal(t, StatusWorking, got.status)
}

func TestActivityLevel(t *testing.T) {
	assert.Equal(t, 1.0, activityLevel(StatusWorking, AttentionNone))
	assert.Equal(t, 0.8, activityLevel(StatusAttention, AttentionPermission))
	assert.Equal(t, 0.5, activityLevel(StatusAttention, AttentionNotification))
	assert.Equal(t, 0.1, activityLevel(StatusAttention, AttentionWaiting))
	assert.Equal(t, 0.6, activityLevel(StatusCompacting, AttentionNone))
	assert.Equal(t, 0.0, activityLevel(StatusIdle, AttentionNone))
	assert.Equal(t, 0.0, activityLevel(StatusOrphaned, AttentionNone))
}

// ABOUTME: Wire-format hook records and the parsed events consumed by the monitor core.
// ABOUTME: Defines the closed event-kind enumeration, parsing, and per-record validation.

package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidEvent indicates a wire record missing required fields or carrying
// values outside the accepted ranges.
var ErrInvalidEvent = errors.New("invalid hook event")

// MaxRecordBytes caps a single wire record. Longer lines are rejected before
// JSON decoding is attempted.
const MaxRecordBytes = 64 * 1024

// Kind identifies a hook event type. Unrecognized values are carried through
// as-is and degrade to Idle at status derivation; they are never rejected.
type Kind string

const (
	KindSessionStart      Kind = "SessionStart"
	KindSessionEnd        Kind = "SessionEnd"
	KindUserPromptSubmit  Kind = "UserPromptSubmit"
	KindPreToolUse        Kind = "PreToolUse"
	KindPostToolUse       Kind = "PostToolUse"
	KindPermissionRequest Kind = "PermissionRequest"
	KindNotification      Kind = "Notification"
	KindStop              Kind = "Stop"
	KindSubagentStart     Kind = "SubagentStart"
	KindSubagentStop      Kind = "SubagentStop"
	KindPreCompact        Kind = "PreCompact"
)

// Recognized reports whether k is one of the known hook kinds.
func (k Kind) Recognized() bool {
	switch k {
	case KindSessionStart, KindSessionEnd, KindUserPromptSubmit,
		KindPreToolUse, KindPostToolUse, KindPermissionRequest,
		KindNotification, KindStop, KindSubagentStart, KindSubagentStop,
		KindPreCompact:
		return true
	}
	return false
}

// WireEvent is the JSON document delivered over the intake socket, one per
// line. Unknown fields are ignored.
type WireEvent struct {
	// PaneID is the terminal pane identifier, the agent's sole lookup key.
	PaneID string `json:"pane_id"`
	// Event is the hook name that triggered this record.
	Event string `json:"event"`
	// Timestamp is seconds since epoch on the sender's clock.
	Timestamp int64 `json:"timestamp"`
	// Project is the git project or directory name, if known.
	Project string `json:"project,omitempty"`

	SessionID string          `json:"session_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	// ToolUseID correlates PreToolUse with its PostToolUse for latency.
	ToolUseID  string `json:"tool_use_id,omitempty"`
	UserPrompt string `json:"user_prompt,omitempty"`
	// Reason carries the stop reason on Stop/SubagentStop/SessionEnd.
	Reason string `json:"reason,omitempty"`
	// Source is the session start source: startup, resume, clear.
	Source string `json:"source,omitempty"`
	// Trigger is the compact trigger: manual, auto.
	Trigger string `json:"trigger,omitempty"`
	// Message is the notification text on Notification events.
	Message        string   `json:"message,omitempty"`
	PermissionMode string   `json:"permission_mode,omitempty"`
	ContextPct     *float64 `json:"context_pct,omitempty"`
}

// Validate checks that the required fields are present. The reporting side is
// best-effort, so everything beyond pane_id, event, and timestamp is optional.
func (w *WireEvent) Validate() error {
	if w.PaneID == "" {
		return fmt.Errorf("%w: missing pane_id", ErrInvalidEvent)
	}
	if w.Event == "" {
		return fmt.Errorf("%w: missing event", ErrInvalidEvent)
	}
	if w.Timestamp <= 0 {
		return fmt.Errorf("%w: missing or non-positive timestamp", ErrInvalidEvent)
	}
	if w.ContextPct != nil && (*w.ContextPct < 0 || *w.ContextPct > 100) {
		return fmt.Errorf("%w: context_pct %v out of range", ErrInvalidEvent, *w.ContextPct)
	}
	return nil
}

// Hook is a parsed, validated wire record plus its local receipt time.
// Hooks are immutable once constructed; arrival order is the only meaning
// they carry beyond content.
type Hook struct {
	Kind     Kind
	Identity string
	Project  string

	SessionID      string
	ToolName       string
	ToolInput      json.RawMessage
	ToolUseID      string
	UserPrompt     string
	Reason         string
	Source         string
	Trigger        string
	Message        string
	PermissionMode string
	ContextPct     *float64

	// Timestamp is the sender's clock; Received is the local clock at parse
	// time. Timers and ordering decisions use Received only.
	Timestamp time.Time
	Received  time.Time
}

// Parse decodes and validates one wire record received at now.
func Parse(raw []byte, now time.Time) (Hook, error) {
	if len(raw) > MaxRecordBytes {
		return Hook{}, fmt.Errorf("%w: record exceeds %d bytes", ErrInvalidEvent, MaxRecordBytes)
	}

	var w WireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Hook{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := w.Validate(); err != nil {
		return Hook{}, err
	}

	return Hook{
		Kind:           Kind(w.Event),
		Identity:       w.PaneID,
		Project:        w.Project,
		SessionID:      w.SessionID,
		ToolName:       w.ToolName,
		ToolInput:      w.ToolInput,
		ToolUseID:      w.ToolUseID,
		UserPrompt:     w.UserPrompt,
		Reason:         w.Reason,
		Source:         w.Source,
		Trigger:        w.Trigger,
		Message:        w.Message,
		PermissionMode: w.PermissionMode,
		ContextPct:     w.ContextPct,
		Timestamp:      time.Unix(w.Timestamp, 0),
		Received:       now,
	}, nil
}

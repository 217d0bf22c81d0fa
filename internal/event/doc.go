// Package event defines the wire format for agent hook records and the
// message vocabulary of the ordered intake queue.
//
// # Wire Format
//
// Agents report life-cycle events as one JSON document per line over the
// local socket:
//
//	{"pane_id":"%42","event":"PreToolUse","timestamp":1724400000,
//	 "project":"watchtower","tool_name":"Read","tool_use_id":"toolu_01"}
//
// pane_id, event, and timestamp are required; everything else is optional
// and kind-specific. Unknown JSON fields are ignored and unknown event kinds
// degrade to Idle rather than being rejected, so older and newer reporters
// can coexist.
//
// # Queue Messages
//
// Every source entering the core (socket records, user commands, the two
// timers, reconcile probes, surfaced errors) is normalized into a Message
// before it reaches the single serial consumer. The Message implementations
// form a closed set, dispatched by type switch.
package event

// ABOUTME: Package documentation for the agent state store.
// ABOUTME: Describes the single-writer discipline snapshot readers rely on.

// Package state holds the table of observed agents and derives each one's
// status from its event stream.
//
// The store is single-writer: ApplyHook, Tick, ApplyReconcile, Remove, and
// RegisterPending are only ever called from the serial consumer goroutine.
// Status never changes anywhere else, which is what keeps the per-status
// counter cache exact without rescans. Snapshot and Counts take a read lock
// and hand out deep copies, so renderers never observe a half-applied
// event.
//
// Capacity is enforced before insertion: when the table is full the least
// recently active idle agent is evicted first, then the least recently
// active agent overall, with arrival order breaking ties.
package state

// ABOUTME: Package documentation for the loop orchestration logic.
// ABOUTME: Explains the breaker order and the pure-function design.

// Package looper decides what happens to a looping agent when it stops.
//
// Everything here is pure: Evaluate takes text and counters already read by
// the caller and returns a Decision; the caller (internal/core) performs the
// file reads before and the command dispatch after. Breakers run in strict
// priority order, iteration cap first, heuristic judge last, and the first
// match wins.
package looper

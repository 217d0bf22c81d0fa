// ABOUTME: Package documentation for the event intake multiplexer.

// Package intake funnels every input source into one ordered bounded
// queue: hook records from the unix socket, synthetic logic and render
// ticks, and messages injected by in-process producers. Producers of
// durable messages block when the queue is full; ticks are dropped. The
// queue has exactly one consumer, which gives the rest of the system its
// total ordering.
package intake

// Package command defines the sink interface through which the monitor core
// issues its two external effects: sending text into an agent's controlling
// session and spawning new isolated agents. The terminal-multiplexer
// implementation lives in the tmux package; tests use MockSink.
package command

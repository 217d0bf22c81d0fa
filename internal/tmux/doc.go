// Package tmux implements the command sink and liveness prober against a
// local tmux server via its CLI. Pane ids (%0, %3, ...) double as agent
// identities throughout the system.
package tmux

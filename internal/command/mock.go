// ABOUTME: In-memory Sink implementation recording every issued command.
// ABOUTME: Used by orchestrator and core tests; returns scripted identities and errors.

package command

import (
	"context"
	"fmt"
	"sync"
)

// SentText records one SendText call.
type SentText struct {
	Identity string
	Text     string
	Submit   bool
}

// MockSink records every call for inspection. Safe for concurrent use.
type MockSink struct {
	mu sync.Mutex

	Sent    []SentText
	Spawned []SpawnRequest
	Killed  []string

	// SpawnIdentities are returned by successive SpawnAgent calls; when
	// exhausted, identities are generated as "%mock-N".
	SpawnIdentities []string

	// Fail, when set, makes every call return this error.
	Fail error
}

// NewMockSink returns an empty recording sink.
func NewMockSink() *MockSink {
	return &MockSink{}
}

// SendText implements Sink.
func (m *MockSink) SendText(_ context.Context, identity, text string, submit bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.Sent = append(m.Sent, SentText{Identity: identity, Text: text, Submit: submit})
	return nil
}

// SpawnAgent implements Sink. Branch spawns land in a sibling directory named
// after the branch, mirroring worktree placement.
func (m *MockSink) SpawnAgent(_ context.Context, req SpawnRequest) (SpawnResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return SpawnResult{}, m.Fail
	}
	m.Spawned = append(m.Spawned, req)
	identity := fmt.Sprintf("%%mock-%d", len(m.Spawned))
	if n := len(m.Spawned) - 1; n < len(m.SpawnIdentities) {
		identity = m.SpawnIdentities[n]
	}
	dir := req.WorkingDir
	if req.Branch != "" {
		dir = req.WorkingDir + "-" + req.Branch
	}
	return SpawnResult{Identity: identity, WorkingDir: dir}, nil
}

// Kill implements Sink.
func (m *MockSink) Kill(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.Killed = append(m.Killed, identity)
	return nil
}

// SentTo returns the texts sent to one identity, in order.
func (m *MockSink) SentTo(identity string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.Sent {
		if s.Identity == identity {
			out = append(out, s.Text)
		}
	}
	return out
}

// ABOUTME: Audit log tests: round trip, nil-receiver safety, drop counting.

package audit

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "audit.db"),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLog_RoundTrip(t *testing.T) {
	l := openTestLog(t)

	l.Decision("%1", 3, "continue", "judge:ready for review", 0.8)
	l.Command("cmd-123", "cancel", "%1", nil)
	l.Removal("%2", "evicted", "idle")

	// The writer is asynchronous; poll until the rows land.
	require.Eventually(t, func() bool {
		entries, err := l.Recent(context.Background(), 10)
		return err == nil && len(entries) == 3
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := l.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Newest first.
	assert.Equal(t, KindRemoval, entries[0].Kind)
	assert.Equal(t, "%2", entries[0].Identity)
	assert.Equal(t, "evicted", entries[0].Action)

	assert.Equal(t, KindCommand, entries[1].Kind)
	assert.Contains(t, entries[1].Detail, "cmd-123")

	assert.Equal(t, KindDecision, entries[2].Kind)
	assert.Contains(t, entries[2].Detail, "iteration=3")
	assert.Contains(t, entries[2].Detail, "confidence=0.80")
}

func TestLog_CloseFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		l.Removal("%1", "stale", "working")
	}
	require.NoError(t, l.Close())

	reopened, err := Open(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.Recent(context.Background(), 50)
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestLog_NilReceiverIsDisabled(t *testing.T) {
	var l *Log

	l.Record(Entry{Kind: KindDecision, Identity: "%1"})
	l.Decision("%1", 1, "continue", "continue", 0.5)
	l.Command("id", "kill", "%1", nil)
	l.Removal("%1", "stale", "idle")
	assert.Zero(t, l.Dropped())
	assert.NoError(t, l.Close())

	entries, err := l.Recent(context.Background(), 10)
	assert.NoError(t, err)
	assert.Nil(t, entries)
}

func TestLog_DropsWhenBufferFull(t *testing.T) {
	l := openTestLog(t)

	// Flood far past the buffer; some entries must be dropped rather than
	// blocking the caller.
	for i := 0; i < bufferSize*20; i++ {
		l.Record(Entry{Kind: KindDecision, Identity: "%1", Action: "continue"})
	}
	assert.Positive(t, l.Dropped())
}

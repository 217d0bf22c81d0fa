// ABOUTME: Reconciler tests with a fake prober and a collecting queue.

package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/watchtower/internal/event"
)

type fakeProber struct {
	mu    sync.Mutex
	panes []string
	err   error
	calls int
}

func (f *fakeProber) ListPanes(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]string(nil), f.panes...), nil
}

type collectQueue struct {
	ch chan event.Message
}

func (q *collectQueue) Inject(msg event.Message) { q.ch <- msg }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recvReport(t *testing.T, ch <-chan event.Message) event.ReconcileReport {
	t.Helper()
	select {
	case msg := <-ch:
		report, ok := msg.(event.ReconcileReport)
		require.True(t, ok, "expected a reconcile report, got %T", msg)
		return report
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a reconcile report")
		return event.ReconcileReport{}
	}
}

func TestReconciler_ReportsLivePanes(t *testing.T) {
	prober := &fakeProber{panes: []string{"%1", "%2"}}
	queue := &collectQueue{ch: make(chan event.Message, 16)}
	r := New(prober, queue, 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	report := recvReport(t, queue.ch)
	assert.Equal(t, []string{"%1", "%2"}, report.Live)
	assert.Empty(t, report.Err)
	assert.False(t, report.At.IsZero())
}

func TestReconciler_ProbeFailureSurfacesAndContinues(t *testing.T) {
	prober := &fakeProber{err: errors.New("tmux not running")}
	queue := &collectQueue{ch: make(chan event.Message, 16)}
	r := New(prober, queue, 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	report := recvReport(t, queue.ch)
	assert.Contains(t, report.Err, "tmux not running")
	assert.Nil(t, report.Live)

	// The loop keeps probing after a failure.
	recvReport(t, queue.ch)
	prober.mu.Lock()
	assert.GreaterOrEqual(t, prober.calls, 2)
	prober.mu.Unlock()
}

func TestReconciler_StopsOnCancel(t *testing.T) {
	prober := &fakeProber{panes: []string{"%1"}}
	queue := &collectQueue{ch: make(chan event.Message, 128)}
	r := New(prober, queue, 5*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	recvReport(t, queue.ch)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}

// ABOUTME: Liveness reconciler: periodically probes for live panes and
// ABOUTME: injects the result into the queue for the serial consumer.

package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/watchtower/internal/event"
)

// Prober lists currently live pane identities. The tmux controller
// implements it; tests use fakes.
type Prober interface {
	ListPanes(ctx context.Context) ([]string, error)
}

// Queue accepts reconcile reports. The intake queue implements it.
type Queue interface {
	Inject(msg event.Message)
}

// Reconciler runs on its own slow timer, outside the ordered queue, and
// never touches agent state directly: conclusions travel as messages.
type Reconciler struct {
	prober   Prober
	queue    Queue
	interval time.Duration
	logger   *slog.Logger
}

// New creates a reconciler. Non-positive intervals default to 3s.
func New(prober Prober, queue Queue, interval time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Reconciler{
		prober:   prober,
		queue:    queue,
		interval: interval,
		logger:   logger.With("component", "reconcile"),
	}
}

// Run probes until ctx is cancelled. A failed probe is reported with Err
// set so the consumer can surface it; it never stops the loop.
func (r *Reconciler) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			r.queue.Inject(r.probe(ctx, now))
		}
	}
}

// probe performs one liveness check, bounded by the interval so a hung
// prober cannot stack probes.
func (r *Reconciler) probe(ctx context.Context, now time.Time) event.ReconcileReport {
	probeCtx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	live, err := r.prober.ListPanes(probeCtx)
	if err != nil {
		r.logger.Warn("pane probe failed", "error", err)
		return event.ReconcileReport{At: now, Err: err.Error()}
	}
	return event.ReconcileReport{At: now, Live: live}
}

// ABOUTME: Event intake: unix socket listener, connection cap, per-line
// ABOUTME: parsing, tick generation, and the one ordered bounded queue.

package intake

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/watchtower/internal/event"
)

// ErrQueueFull is returned by TryInject when the queue has no room. Hook
// and command producers block instead of seeing this; only droppable
// messages (ticks) take the non-blocking path.
var ErrQueueFull = errors.New("intake queue full")

const (
	maxAcceptBackoff  = 5 * time.Second
	baseAcceptBackoff = 100 * time.Millisecond
	staleProbeTimeout = 500 * time.Millisecond
)

// Options configures the intake. Zero fields take defaults.
type Options struct {
	SocketPath     string
	MaxConnections int
	QueueSize      int
	ReadTimeout    time.Duration
	LogicTick      time.Duration
	RenderTick     time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConnections <= 0 {
		o.MaxConnections = 100
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 2 * time.Second
	}
	if o.LogicTick <= 0 {
		o.LogicTick = time.Second
	}
	if o.RenderTick <= 0 {
		o.RenderTick = 33 * time.Millisecond
	}
	return o
}

// Intake owns the ordered queue every message passes through. Socket
// connections, tickers, and in-process callers all converge here; exactly
// one consumer drains Messages.
type Intake struct {
	opts   Options
	logger *slog.Logger
	queue  chan event.Message
	sem    chan struct{}

	droppedTicks atomic.Uint64
	refusedConns atomic.Uint64
}

// New creates an intake with a queue but no listener yet; Run binds.
func New(opts Options, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Intake{
		opts:   opts,
		logger: logger.With("component", "intake"),
		queue:  make(chan event.Message, opts.QueueSize),
		sem:    make(chan struct{}, opts.MaxConnections),
	}
}

// Messages is the single-consumer end of the queue.
func (i *Intake) Messages() <-chan event.Message { return i.queue }

// QueueDepth reports how many messages are waiting.
func (i *Intake) QueueDepth() int { return len(i.queue) }

// DroppedTicks reports how many tick messages were dropped on a full queue.
func (i *Intake) DroppedTicks() uint64 { return i.droppedTicks.Load() }

// RefusedConns reports how many connections were closed at the cap.
func (i *Intake) RefusedConns() uint64 { return i.refusedConns.Load() }

// SubmitEvent parses, validates, and enqueues one wire record. Invalid
// records are rejected here and never reach the queue.
func (i *Intake) SubmitEvent(raw []byte) error {
	h, err := event.Parse(raw, time.Now())
	if err != nil {
		return err
	}
	i.Inject(event.HookMessage{Hook: h})
	return nil
}

// Inject enqueues a message, blocking briefly when the queue is full.
// Hook, command, notice, and reconcile messages must never be dropped.
func (i *Intake) Inject(msg event.Message) {
	select {
	case i.queue <- msg:
	default:
		i.logger.Warn("intake queue full, producer blocking", "depth", len(i.queue))
		i.queue <- msg
	}
}

// TryInject enqueues without blocking. A full queue returns ErrQueueFull;
// callers that can tolerate loss (tick producers) use this path.
func (i *Intake) TryInject(msg event.Message) error {
	select {
	case i.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run binds the socket and serves until ctx is cancelled. Bind failure is
// fatal and returned immediately.
func (i *Intake) Run(ctx context.Context) error {
	ln, err := i.bind()
	if err != nil {
		return err
	}
	i.logger.Info("intake listening", "socket", i.opts.SocketPath)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		ln.Close()
		os.Remove(i.opts.SocketPath)
		return nil
	})
	g.Go(func() error { return i.acceptLoop(ctx, ln) })
	g.Go(func() error {
		return i.runTicker(ctx, i.opts.LogicTick, func(now time.Time) event.Message {
			return event.LogicTick{At: now}
		})
	})
	g.Go(func() error {
		return i.runTicker(ctx, i.opts.RenderTick, func(now time.Time) event.Message {
			return event.RenderTick{At: now}
		})
	})
	return g.Wait()
}

// bind creates the unix listener, clearing a leftover socket file first if
// nothing answers on it.
func (i *Intake) bind() (net.Listener, error) {
	path := i.opts.SocketPath
	if path == "" {
		return nil, errors.New("intake socket path is empty")
	}
	if _, err := os.Stat(path); err == nil {
		conn, err := net.DialTimeout("unix", path, staleProbeTimeout)
		if err == nil {
			conn.Close()
			return nil, fmt.Errorf("socket %s already has a live listener", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("removing stale socket file: %w", err)
		}
		i.logger.Info("removed stale socket file", "path", path)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("binding intake socket: %w", err)
	}
	return ln, nil
}

// acceptLoop accepts connections, closing extras over the cap immediately
// and backing off on transient accept errors.
func (i *Intake) acceptLoop(ctx context.Context, ln net.Listener) error {
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if backoff == 0 {
				backoff = baseAcceptBackoff
			} else {
				backoff *= 2
				if backoff > maxAcceptBackoff {
					backoff = maxAcceptBackoff
				}
			}
			i.logger.Warn("accept failed", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0

		select {
		case i.sem <- struct{}{}:
			go func() {
				defer func() { <-i.sem }()
				i.handleConn(conn)
			}()
		default:
			i.refusedConns.Add(1)
			i.logger.Warn("connection cap reached, refusing", "cap", i.opts.MaxConnections)
			conn.Close()
		}
	}
}

// handleConn reads newline-delimited records until EOF or read deadline.
// A record that fails to parse is logged and dropped; the connection keeps
// going. An oversized line aborts the connection since the stream cannot
// be resynced.
func (i *Intake) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), event.MaxRecordBytes)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(i.opts.ReadTimeout)); err != nil {
			return
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && !isExpectedConnErr(err) {
				i.logger.Debug("connection read ended", "error", err)
			}
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := i.SubmitEvent(line); err != nil {
			i.logger.Warn("dropping invalid record", "error", err)
		}
	}
}

func isExpectedConnErr(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// runTicker feeds synthetic tick messages into the queue. Ticks are
// droppable: a late tick is superseded by the next one anyway.
func (i *Intake) runTicker(ctx context.Context, d time.Duration, build func(time.Time) event.Message) error {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			if err := i.TryInject(build(now)); errors.Is(err, ErrQueueFull) {
				i.droppedTicks.Add(1)
			}
		}
	}
}

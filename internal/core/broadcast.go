// ABOUTME: In-memory fan-out of rendered frames to snapshot subscribers
// ABOUTME: Non-blocking publish; slow subscribers drop frames, never stall the core

package core

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber. A full
// buffer means the subscriber is slower than the render tick; dropped frames
// are superseded by the next one anyway.
const subscriberBufferSize = 64

// frameBroadcaster fans rendered frames out to every subscriber. Publishing
// happens only on the consumer goroutine; subscriptions come and go from any
// goroutine.
type frameBroadcaster struct {
	mu     sync.RWMutex
	subs   map[string]chan Frame
	closed bool
	logger *slog.Logger
}

func newFrameBroadcaster(logger *slog.Logger) *frameBroadcaster {
	return &frameBroadcaster{
		subs:   make(map[string]chan Frame),
		logger: logger.With("component", "broadcast"),
	}
}

// subscribe registers a new frame channel. The subscription is cleaned up
// when ctx is cancelled; after the broadcaster itself closed, the returned
// channel is already closed.
func (b *frameBroadcaster) subscribe(ctx context.Context) <-chan Frame {
	ch := make(chan Frame, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	subID := uuid.New().String()
	b.subs[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.unsubscribe(subID)
	}()

	return ch
}

// publish delivers one frame to every subscriber. Sends are non-blocking and
// stay under the read lock, so a concurrent unsubscribe can never close a
// channel mid-send.
func (b *frameBroadcaster) publish(f Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for subID, ch := range b.subs {
		select {
		case ch <- f:
		default:
			b.logger.Debug("dropped frame for slow subscriber", "sub_id", subID)
		}
	}
}

func (b *frameBroadcaster) unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subs[subID]
	if !ok {
		return
	}
	delete(b.subs, subID)
	close(ch)
	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// close shuts the broadcaster down and closes every subscriber channel.
func (b *frameBroadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for subID, ch := range b.subs {
		close(ch)
		delete(b.subs, subID)
	}
}

// count returns the number of live subscriptions.
func (b *frameBroadcaster) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

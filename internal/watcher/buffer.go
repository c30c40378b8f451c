package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/steveyegge/twinsync/internal/reconcile"
)

// Buffer accumulates events until the stream has been quiet for the
// debounce interval, then hands them over as one batch. Events keep their
// arrival order.
type Buffer struct {
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	events   []reconcile.Event
	lastPush time.Time
}

// NewBuffer creates a buffer with the given debounce interval.
func NewBuffer(interval time.Duration) *Buffer {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Buffer{interval: interval, now: time.Now}
}

// Push appends events to the current batch and restarts the quiet period.
func (b *Buffer) Push(events ...reconcile.Event) {
	if len(events) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, events...)
	b.lastPush = b.now()
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Ready reports whether a non-empty batch has been quiet long enough.
func (b *Buffer) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events) > 0 && b.now().Sub(b.lastPush) >= b.interval
}

// Flush removes and returns the buffered events.
func (b *Buffer) Flush() []reconcile.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.events
	b.events = nil
	return events
}

// Run feeds events from in into the buffer and calls flush with every
// batch that becomes ready. It returns when ctx is done, or when in is
// closed after flushing what is left.
func (b *Buffer) Run(ctx context.Context, in <-chan reconcile.Event, flush func([]reconcile.Event)) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case e, ok := <-in:
			if !ok {
				if batch := b.Flush(); len(batch) > 0 {
					flush(batch)
				}
				return
			}
			b.Push(e)

		case <-ticker.C:
			if b.Ready() {
				flush(b.Flush())
			}
		}
	}
}

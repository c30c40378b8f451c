package metadata

import (
	"context"
	"fmt"
	"sync"
)

// Lock is a FIFO mutex. Waiters are served in the order they called
// Acquire, whichever side of the synchronizer they come from.
type Lock struct {
	mu     sync.Mutex
	tail   chan struct{}
	holder string
}

// NewLock returns an unlocked Lock.
func NewLock() *Lock {
	return &Lock{}
}

// Acquire queues behind the current holder and every earlier waiter, then
// returns the function releasing the lock. Release is safe to call more
// than once.
//
// If ctx ends while waiting, Acquire gives up its place: the waiter after it
// is let through as soon as the one before it releases.
func (l *Lock) Acquire(ctx context.Context, owner string) (func(), error) {
	l.mu.Lock()
	prev := l.tail
	mine := make(chan struct{})
	l.tail = mine
	l.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			go func() {
				<-prev
				close(mine)
			}()
			return nil, fmt.Errorf("failed to acquire store lock for %s: %w", owner, ctx.Err())
		}
	}

	l.mu.Lock()
	l.holder = owner
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.holder == owner {
				l.holder = ""
			}
			l.mu.Unlock()
			close(mine)
		})
	}, nil
}

// Holder returns the owner tag of the current holder, or "".
func (l *Lock) Holder() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}

package metadata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLock_FIFO(t *testing.T) {
	l := NewLock()
	release, err := l.Acquire(context.Background(), "first")
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}

	var (
		mu    sync.Mutex
		order []string
		wg    sync.WaitGroup
	)
	for _, owner := range []string{"local", "remote", "cli"} {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			rel, err := l.Acquire(context.Background(), owner)
			if err != nil {
				t.Errorf("Acquire(%s) failed: %v", owner, err)
				return
			}
			mu.Lock()
			order = append(order, owner)
			mu.Unlock()
			rel()
		}(owner)
		// Let the goroutine queue before starting the next one.
		waitQueued(t, l, owner)
	}

	if got := l.Holder(); got != "first" {
		t.Errorf("Holder() = %q, want first", got)
	}
	release()
	wg.Wait()

	want := []string{"local", "remote", "cli"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if got := l.Holder(); got != "" {
		t.Errorf("Holder() = %q after all releases", got)
	}
}

// waitQueued waits until a new waiter has taken the tail of the queue.
func waitQueued(t *testing.T, l *Lock, owner string) {
	t.Helper()
	l.mu.Lock()
	before := l.tail
	l.mu.Unlock()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		l.mu.Lock()
		changed := l.tail != before
		l.mu.Unlock()
		if changed {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("%s never queued", owner)
}

func TestLock_ReleaseTwice(t *testing.T) {
	l := NewLock()
	release, err := l.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	release()
	release()

	release, err = l.Acquire(context.Background(), "b")
	if err != nil {
		t.Fatalf("second Acquire() failed: %v", err)
	}
	release()
}

func TestLock_CancelledWaiterKeepsQueueMoving(t *testing.T) {
	l := NewLock()
	release, err := l.Acquire(context.Background(), "holder")
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "impatient"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire() error = %v, want deadline exceeded", err)
	}

	done := make(chan struct{})
	go func() {
		rel, err := l.Acquire(context.Background(), "next")
		if err != nil {
			t.Errorf("Acquire() failed: %v", err)
		} else {
			rel()
		}
		close(done)
	}()

	release()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter behind a cancelled one never got the lock")
	}
}

func TestStore_Lock(t *testing.T) {
	s := openTestStore(t)
	release, err := s.Lock(context.Background(), "local")
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if s.LockHolder() != "local" {
		t.Errorf("LockHolder() = %q, want local", s.LockHolder())
	}
	release()
}

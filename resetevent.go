package main

import (
	"sync"
	"time"
)

// resetEvent is a manual-reset event: Set() wakes every current and future
// Wait() until the next Reset(). It is the channel-based idiom Go code uses
// in place of a CLR ManualResetEvent — closing a channel broadcasts to every
// waiter, and Reset() swaps in a fresh one.
type resetEvent struct {
	mu sync.Mutex
	ch chan struct{}
}

func newResetEvent() *resetEvent {
	return &resetEvent{ch: make(chan struct{})}
}

// Set wakes all current waiters. Idempotent: setting an already-set event is a no-op.
func (e *resetEvent) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.ch:
		// already set
	default:
		close(e.ch)
	}
}

// Reset clears the signal so future Wait calls block again.
func (e *resetEvent) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.ch:
		e.ch = make(chan struct{})
	default:
		// already clear
	}
}

// Wait blocks until Set is called or d elapses, returning true if it was
// signaled ("new items — re-check") and false on timeout.
func (e *resetEvent) Wait(d time.Duration) bool {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-time.After(d):
		return false
	}
}

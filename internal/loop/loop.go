// Package loop provides the single logical thread every page callback runs
// on. Transports, timers and storage live on their own goroutines but only
// ever hand closures to the loop, so reconciler state needs no locks.
package loop

import (
	"context"
	"sync"
	"time"
)

// Timer is a pending callback that can be cancelled before it fires.
type Timer interface {
	Stop() bool
}

// Scheduler is what loop-bound components need from their executor.
type Scheduler interface {
	// Defer runs fn on the next tick, after everything already queued.
	Defer(fn func())
	// AfterFunc runs fn on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Loop executes queued closures one at a time on the goroutine calling Run.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
}

// New creates an idle loop.
func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post enqueues fn. Safe from any goroutine, including the loop itself;
// the queue is unbounded so posting never blocks.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Defer is Post; the name documents the next-tick contract.
func (l *Loop) Defer(fn func()) {
	l.Post(fn)
}

// AfterFunc posts fn into the loop once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, func() { l.Post(fn) })
}

// Run drains the queue until ctx is done. Closures posted after that are
// dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
	}()

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for i, fn := range batch {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fn()
			batch[i] = nil
		}

		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Call runs fn on the loop and waits for it to finish. It must not be used
// from the loop goroutine itself.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package loop

import (
	"sort"
	"time"
)

// Manual is a deterministic Scheduler driven by hand. Deferred closures run
// on Drain; timers fire on Advance in deadline order. Offline commands and
// tests use it in place of a real Loop.
type Manual struct {
	now      time.Duration
	deferred []func()
	timers   []*manualTimer
	seq      int
}

type manualTimer struct {
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// NewManual returns a scheduler at virtual time zero.
func NewManual() *Manual {
	return &Manual{}
}

// Defer queues fn for the next Drain.
func (m *Manual) Defer(fn func()) {
	m.deferred = append(m.deferred, fn)
}

// AfterFunc registers fn to fire once virtual time reaches now+d.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.seq++
	t := &manualTimer{at: m.now + d, seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Pending reports the number of deferred closures waiting for Drain.
func (m *Manual) Pending() int {
	return len(m.deferred)
}

// Now returns the virtual time elapsed since creation.
func (m *Manual) Now() time.Duration {
	return m.now
}

// Drain runs deferred closures, including ones queued while draining.
func (m *Manual) Drain() {
	for len(m.deferred) > 0 {
		fn := m.deferred[0]
		m.deferred = m.deferred[1:]
		fn()
	}
}

// Advance moves virtual time forward by d, firing due timers in order and
// draining deferred work after each one, the way a real loop interleaves
// timer callbacks with queued ticks.
func (m *Manual) Advance(d time.Duration) {
	target := m.now + d
	m.Drain()
	for {
		t := m.nextDue(target)
		if t == nil {
			break
		}
		m.now = t.at
		t.stopped = true
		t.fn()
		m.Drain()
	}
	m.now = target
}

func (m *Manual) nextDue(target time.Duration) *manualTimer {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	m.timers = live
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].at != m.timers[j].at {
			return m.timers[i].at < m.timers[j].at
		}
		return m.timers[i].seq < m.timers[j].seq
	})
	if len(m.timers) == 0 || m.timers[0].at > target {
		return nil
	}
	return m.timers[0]
}

package loop

import "time"

// Debouncer runs the most recently triggered callback once no new trigger
// has arrived for the configured delay. It must only be used from the loop.
type Debouncer struct {
	sched Scheduler
	delay time.Duration
	timer Timer
}

// NewDebouncer creates a debouncer with a fixed delay.
func NewDebouncer(s Scheduler, delay time.Duration) *Debouncer {
	return &Debouncer{sched: s, delay: delay}
}

// Trigger replaces any pending callback with fn, restarting the delay.
func (d *Debouncer) Trigger(fn func()) {
	d.TriggerAfter(d.delay, fn)
}

// TriggerAfter is Trigger with a one-off delay. Navigation uses it to
// supersede a pending content refresh with a longer settle delay.
func (d *Debouncer) TriggerAfter(delay time.Duration, fn func()) {
	d.Cancel()
	var t Timer
	t = d.sched.AfterFunc(delay, func() {
		// A timer that fired just before being replaced may still reach
		// the loop; only the current one runs.
		if d.timer != t {
			return
		}
		d.timer = nil
		fn()
	})
	d.timer = t
}

// Cancel drops the pending callback, if any.
func (d *Debouncer) Cancel() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Pending reports whether a callback is waiting to fire.
func (d *Debouncer) Pending() bool {
	return d.timer != nil
}

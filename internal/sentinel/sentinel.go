// Package sentinel keeps the browser tab title pinned to the title derived
// from conversation content while the host page keeps resetting it to a
// generic placeholder.
//
// The host title has two writers: the Reconciler and the host's own
// scripts. Instead of a lock, the Reconciler recognizes hostile resets by
// their placeholder text and re-asserts its value, and it uses a
// reentrancy guard so that the observation of its own write is not taken
// for a reset.
//
// A Reconciler is not safe for concurrent use. Every method must be called
// from the same loop that its Scheduler defers onto.
package sentinel

import (
	"time"

	"github.com/lotas/titlesentinel/internal/applog"
	"github.com/lotas/titlesentinel/internal/loop"
	"github.com/lotas/titlesentinel/internal/titles"
)

// Host is the page-side title the Reconciler reads and writes.
type Host interface {
	// Title returns the current document title. ok is false when the
	// title element does not exist yet.
	Title() (title string, ok bool)
	// SetTitle writes the document title. Implementations may report the
	// change to the title observer synchronously, before returning.
	SetTitle(title string) error
}

// State is the reconciler's tracking state.
type State int

const (
	// Unset is the initial state and the state after every navigation.
	Unset State = iota
	// Tracking means a derived title is known and being enforced.
	Tracking
)

func (s State) String() string {
	if s == Tracking {
		return "tracking"
	}
	return "unset"
}

// DefaultMaxLen caps the derived title shown in the tab.
const DefaultMaxLen = 60

// Config holds the reconciler's static rules.
type Config struct {
	Generic titles.GenericSet
	MaxLen  int
}

// Stats counts reconciler activity since creation.
type Stats struct {
	Writes     int // title writes issued
	Recoveries int // writes that undid a placeholder reset
	Echoes     int // observations suppressed by the guard
	WriteErrs  int
}

// Reconciler owns the derived title and the reentrancy guard.
type Reconciler struct {
	host  Host
	sched loop.Scheduler
	cfg   Config

	state      State
	derived    string
	guard      bool
	lastSource string

	stats  Stats
	notify func(Event)
}

// New creates a Reconciler in the Unset state.
func New(host Host, sched loop.Scheduler, cfg Config) *Reconciler {
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = DefaultMaxLen
	}
	if cfg.Generic == nil {
		cfg.Generic = titles.DefaultGeneric
	}
	return &Reconciler{host: host, sched: sched, cfg: cfg}
}

// Notify registers fn to receive every Event. It is called on the loop.
func (r *Reconciler) Notify(fn func(Event)) {
	r.notify = fn
}

// State returns the current state.
func (r *Reconciler) State() State { return r.state }

// DerivedTitle returns the title the reconciler believes is correct.
func (r *Reconciler) DerivedTitle() string { return r.derived }

// Guarded reports whether a self-initiated write is awaiting its echo.
func (r *Reconciler) Guarded() bool { return r.guard }

// Stats returns activity counters.
func (r *Reconciler) Stats() Stats { return r.stats }

// ObserveCandidate feeds a freshly computed title into the reconciler.
// Empty candidates are ignored so a good title is never replaced by
// nothing. A different value becomes the derived title; the derived title
// is then enforced, which is a no-op when the host already shows it.
func (r *Reconciler) ObserveCandidate(title string) {
	if title == "" {
		return
	}
	title = titles.Truncate(title, r.cfg.MaxLen)
	if title != r.derived {
		prev := r.derived
		r.derived = title
		r.state = Tracking
		applog.Info("title.derived", "title", title, "prev", prev)
		r.emit(Event{Kind: EventDerived, Title: title})
	}
	r.Enforce(r.derived)
}

// Enforce makes the host show target when that is warranted and reports
// whether a write was issued.
//
// The host is corrected when it shows a placeholder, or when it shows
// anything else while target is the tracked derived title. Nothing happens
// when the host already shows target, so enforcing a correct title never
// touches the guard.
func (r *Reconciler) Enforce(target string) bool {
	if target == "" {
		return false
	}
	current, ok := r.host.Title()
	if !ok || current == target {
		return false
	}

	generic := r.cfg.Generic.Matches(current)
	if !generic && target != r.derived {
		return false
	}

	r.guard = true
	err := r.host.SetTitle(target)
	r.sched.Defer(r.clearGuard)

	if err != nil {
		r.stats.WriteErrs++
		applog.Error("title.write", err, "title", target)
		return false
	}
	r.stats.Writes++
	kind := EventEnforced
	if generic {
		r.stats.Recoveries++
		kind = EventRecovered
	}
	applog.Info("title.enforced", "title", target, "host", current, "placeholder", generic)
	r.emit(Event{Kind: kind, Title: target, HostTitle: current})
	return true
}

func (r *Reconciler) clearGuard() {
	r.guard = false
}

// OnHostTitleMutated is the title observer callback. It ignores the echo
// of the reconciler's own write and undoes placeholder resets.
func (r *Reconciler) OnHostTitleMutated() {
	if r.guard {
		r.stats.Echoes++
		return
	}
	if r.derived == "" {
		return
	}
	current, ok := r.host.Title()
	if !ok || !r.cfg.Generic.Matches(current) {
		return
	}
	applog.Info("title.rollback", "host", current, "restore", r.derived)
	r.Enforce(r.derived)
}

// ObserveSourceTitle records a raw value read from the host's title element
// and reports whether it is new and non-empty, i.e. worth syncing.
func (r *Reconciler) ObserveSourceTitle(raw string) bool {
	if raw == "" || raw == r.lastSource {
		return false
	}
	r.lastSource = raw
	return true
}

// LastSourceTitle returns the last value passed to ObserveSourceTitle.
func (r *Reconciler) LastSourceTitle() string { return r.lastSource }

// OnNavigation forgets everything learned about the previous conversation.
// The host title is left alone; the host shows its own placeholder until
// fresh content is observed.
func (r *Reconciler) OnNavigation() {
	prev := r.derived
	r.derived = ""
	r.lastSource = ""
	r.state = Unset
	applog.Info("title.reset", "prev", prev)
	r.emit(Event{Kind: EventReset, Title: prev})
}

func (r *Reconciler) emit(ev Event) {
	if r.notify == nil {
		return
	}
	ev.At = time.Now()
	ev.State = r.state
	r.notify(ev)
}

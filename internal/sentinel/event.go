package sentinel

import "time"

// EventKind classifies reconciler activity.
type EventKind string

const (
	EventDerived   EventKind = "derived"   // a new derived title was accepted
	EventEnforced  EventKind = "enforced"  // the host title was corrected
	EventRecovered EventKind = "recovered" // a placeholder reset was undone
	EventReset     EventKind = "reset"     // navigation cleared the derived title
)

// Event is emitted to the Notify callback.
type Event struct {
	Kind      EventKind
	Title     string
	HostTitle string // host title before the write, for enforcements
	State     State
	At        time.Time
}

package pipeline

import (
	"time"

	"github.com/lotas/titlesentinel/internal/applog"
	"github.com/lotas/titlesentinel/internal/sentinel"
	"github.com/lotas/titlesentinel/internal/types"
)

// Navigation reacts to SPA route changes reported by the history adapter.
type Navigation struct {
	rec     *sentinel.Reconciler
	updates *Updates
	settle  time.Duration

	url      string
	resets   int
	replaces int
}

// NewNavigation creates a monitor that re-scans settle after each
// conversation switch.
func NewNavigation(rec *sentinel.Reconciler, updates *Updates, settle time.Duration) *Navigation {
	return &Navigation{rec: rec, updates: updates, settle: settle}
}

// OnHistory handles one history change. push and pop switch conversations:
// the reconciler forgets the old title and a re-scan is scheduled after the
// settle delay, replacing any pending content refresh. replace only updates
// parameters in place and resets nothing.
func (n *Navigation) OnHistory(op types.HistoryOp, url string) {
	prev := n.url
	n.url = url

	switch op {
	case types.HistoryPush, types.HistoryPop:
	case types.HistoryReplace:
		n.replaces++
		applog.Debug("nav.replace", "url", url)
		return
	default:
		applog.Info("nav.unknown", "op", string(op), "url", url)
		return
	}

	n.resets++
	applog.Info("nav.reset", "op", string(op), "from", prev, "to", url)
	n.updates.Invalidate()
	n.rec.OnNavigation()
	n.updates.ScheduleAfter(n.settle)
}

// URL returns the last URL reported by the history adapter.
func (n *Navigation) URL() string { return n.url }

// Resets counts push and pop transitions.
func (n *Navigation) Resets() int { return n.resets }

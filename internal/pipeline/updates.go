package pipeline

import (
	"strings"
	"time"

	"github.com/lotas/titlesentinel/internal/applog"
	"github.com/lotas/titlesentinel/internal/loop"
	"github.com/lotas/titlesentinel/internal/page"
	"github.com/lotas/titlesentinel/internal/sentinel"
	"github.com/lotas/titlesentinel/internal/types"
)

// Timing configures the Updates scheduler.
type Timing struct {
	Content          time.Duration // content debounce
	Title            time.Duration // title-source debounce
	InitialScan      time.Duration
	TitleSourceStart time.Duration
	TitleSourceRetry time.Duration
}

// Updates debounces page activity into pipeline runs. The content path and
// the title-source path have separate debouncers so a slow title sync never
// delays message rendering.
type Updates struct {
	sched  loop.Scheduler
	pipe   *Pipeline
	rec    *sentinel.Reconciler
	timing Timing

	content *loop.Debouncer
	title   *loop.Debouncer

	listening bool
	probe     loop.Timer
	ignored   int
}

// NewUpdates creates the scheduler for pipe.
func NewUpdates(sched loop.Scheduler, pipe *Pipeline, rec *sentinel.Reconciler, timing Timing) *Updates {
	return &Updates{
		sched:   sched,
		pipe:    pipe,
		rec:     rec,
		timing:  timing,
		content: loop.NewDebouncer(sched, timing.Content),
		title:   loop.NewDebouncer(sched, timing.Title),
	}
}

// Start schedules the initial scan and the title-source listener. It is
// called once the page agent is attached.
func (u *Updates) Start() {
	u.ScheduleAfter(u.timing.InitialScan)
	u.stopProbe()
	u.listening = false
	u.probe = u.sched.AfterFunc(u.timing.TitleSourceStart, u.probeTitleSource)
}

// Stop cancels everything pending.
func (u *Updates) Stop() {
	u.content.Cancel()
	u.title.Cancel()
	u.stopProbe()
}

func (u *Updates) stopProbe() {
	if u.probe != nil {
		u.probe.Stop()
		u.probe = nil
	}
}

// probeTitleSource starts the title-source listener once the host's title
// element exists, retrying until it does. Its value at that moment is
// recorded without being synced.
func (u *Updates) probeTitleSource() {
	u.probe = nil
	u.pipe.fetcher.Fetch(func(doc *page.Document, err error) {
		if u.listening {
			return
		}
		if err == nil {
			if text, ok := u.pipe.scanner.SourceText(doc); ok {
				u.listening = true
				u.rec.ObserveSourceTitle(text)
				applog.Info("titlesource.listening", "title", text)
				return
			}
		} else {
			applog.Error("titlesource.probe", err)
		}
		u.probe = u.sched.AfterFunc(u.timing.TitleSourceRetry, u.probeTitleSource)
	})
}

// Listening reports whether the title-source listener has started.
func (u *Updates) Listening() bool { return u.listening }

// Relevant is the cheap pre-filter applied to every mutation batch: some
// record must add nodes under the body, under a conversation container, or
// under a subtree holding a primary message element.
func Relevant(records []types.MutationRecord) bool {
	for _, r := range records {
		if r.Added == 0 {
			continue
		}
		if strings.EqualFold(r.Target, "BODY") || strings.Contains(r.ClassName, "conversation") || r.ContainsPrimary {
			return true
		}
	}
	return false
}

// OnMutations debounces a content refresh for a relevant batch.
func (u *Updates) OnMutations(records []types.MutationRecord) {
	if !Relevant(records) {
		u.ignored++
		return
	}
	u.content.Trigger(u.pipe.Refresh)
}

// ScheduleAfter replaces any pending content refresh with one that runs
// after d.
func (u *Updates) ScheduleAfter(d time.Duration) {
	u.content.TriggerAfter(d, u.pipe.Refresh)
}

// Invalidate drops pending content work and in-flight snapshots.
func (u *Updates) Invalidate() {
	u.content.Cancel()
	u.title.Cancel()
	u.pipe.Invalidate()
}

// OnSourceTitle handles a change of the host's authoritative title element.
// Only unique non-empty values are synced, after the title debounce.
func (u *Updates) OnSourceTitle(text string, present bool) {
	if !u.listening {
		if !present {
			return
		}
		// The element showed up before the probe found it.
		u.listening = true
		u.stopProbe()
	}
	text = strings.TrimSpace(text)
	if !u.rec.ObserveSourceTitle(text) {
		return
	}
	u.title.Trigger(func() {
		applog.Info("titlesource.sync", "title", text)
		u.rec.ObserveCandidate(text)
	})
}

// OnHostTitle forwards a document title change to the reconciler.
func (u *Updates) OnHostTitle() {
	u.rec.OnHostTitleMutated()
}

// ContentPending reports whether a content refresh is scheduled.
func (u *Updates) ContentPending() bool { return u.content.Pending() }

// TitlePending reports whether a title sync is scheduled.
func (u *Updates) TitlePending() bool { return u.title.Pending() }

// Ignored counts mutation batches rejected by Relevant.
func (u *Updates) Ignored() int { return u.ignored }

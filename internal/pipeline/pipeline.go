// Package pipeline runs the content path: it turns page activity into
// scans, feeds scan results to the presentation layer and the reconciler,
// and applies the navigation and debounce rules around them.
//
// Everything here runs on the loop. Snapshot fetching is the only blocking
// step; a Fetcher performs it elsewhere and delivers the result back on the
// loop.
package pipeline

import (
	"github.com/lotas/titlesentinel/internal/applog"
	"github.com/lotas/titlesentinel/internal/page"
	"github.com/lotas/titlesentinel/internal/scan"
	"github.com/lotas/titlesentinel/internal/sentinel"
	"github.com/lotas/titlesentinel/internal/types"
)

// Fetcher obtains a snapshot of the live page. done must be invoked on the
// loop, exactly once.
type Fetcher interface {
	Fetch(done func(*page.Document, error))
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc func(done func(*page.Document, error))

// Fetch calls f.
func (f FetchFunc) Fetch(done func(*page.Document, error)) { f(done) }

// Presenter receives the conversation index whenever it changes.
type Presenter interface {
	Render(types.Index)
}

// PlaceholderText is shown by presenters while no conversation content
// exists.
const PlaceholderText = "Waiting for conversation..."

// Pipeline is the scan → extract → title → reconcile chain.
type Pipeline struct {
	scanner   *scan.Scanner
	rec       *sentinel.Reconciler
	fetcher   Fetcher
	presenter Presenter

	epoch     int
	rendered  bool
	signature string
	last      scan.Result
	runs      int
}

// New wires a pipeline. presenter may be nil.
func New(scanner *scan.Scanner, rec *sentinel.Reconciler, fetcher Fetcher, presenter Presenter) *Pipeline {
	return &Pipeline{scanner: scanner, rec: rec, fetcher: fetcher, presenter: presenter}
}

// Refresh requests a snapshot and applies it when it arrives. A snapshot
// that arrives after Invalidate has been called is dropped, so content of
// the previous conversation never reaches the reconciler.
func (p *Pipeline) Refresh() {
	epoch := p.epoch
	p.fetcher.Fetch(func(doc *page.Document, err error) {
		if epoch != p.epoch {
			applog.Debug("scan.stale", "epoch", epoch, "current", p.epoch)
			return
		}
		if err != nil {
			applog.Error("scan.snapshot", err)
			return
		}
		p.Apply(doc)
	})
}

// Invalidate discards every snapshot requested so far.
func (p *Pipeline) Invalidate() {
	p.epoch++
}

// Apply runs one pipeline pass over doc.
func (p *Pipeline) Apply(doc *page.Document) scan.Result {
	res := p.scanner.Scan(doc)
	p.runs++
	p.last = res
	p.render(res.Index)

	if res.Index.Empty {
		applog.Debug("scan.empty", "url", doc.URL)
		return res
	}
	applog.Debug("scan.done", "strategy", res.Strategy, "items", len(res.Items), "title", res.Title)
	if res.HasTitle {
		p.rec.ObserveCandidate(res.Title)
	}
	return res
}

func (p *Pipeline) render(idx types.Index) {
	if p.rendered && idx.Signature == p.signature {
		return
	}
	p.rendered = true
	p.signature = idx.Signature
	if p.presenter != nil {
		p.presenter.Render(idx)
	}
}

// ResetPresentation makes the next pass render its index even when the
// content is unchanged, e.g. after the page reloaded its presenter.
func (p *Pipeline) ResetPresentation() {
	p.rendered = false
}

// Last returns the result of the most recent pass.
func (p *Pipeline) Last() scan.Result { return p.last }

// Runs counts completed passes.
func (p *Pipeline) Runs() int { return p.runs }

// Scanner returns the scanner the pipeline runs.
func (p *Pipeline) Scanner() *scan.Scanner { return p.scanner }

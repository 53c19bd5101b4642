// Package session wires one page agent connection to the title machinery.
// A Session owns the loop and every loop-bound component: the reconciler,
// the scan pipeline, the update scheduler and the navigation monitor.
// Transport I/O, snapshot fetches and the journal run on their own
// goroutines and hand their results back to the loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lotas/titlesentinel/internal/applog"
	"github.com/lotas/titlesentinel/internal/config"
	"github.com/lotas/titlesentinel/internal/loop"
	"github.com/lotas/titlesentinel/internal/page"
	"github.com/lotas/titlesentinel/internal/pipeline"
	"github.com/lotas/titlesentinel/internal/scan"
	"github.com/lotas/titlesentinel/internal/sentinel"
	"github.com/lotas/titlesentinel/internal/server"
	"github.com/lotas/titlesentinel/internal/types"
	"golang.org/x/sync/errgroup"
)

// ErrTransportClosed is returned internally when the transport's event
// stream ends. Run treats it as a normal shutdown.
var ErrTransportClosed = errors.New("transport closed")

var errQueueFull = errors.New("command queue full")

// Transport is a connection to the page agent. server.Server and
// cdp.Transport implement it.
type Transport interface {
	Events() <-chan types.PageEvent
	Snapshot(ctx context.Context) (string, error)
	SetTitle(ctx context.Context, title string) error
	ScrollTo(ctx context.Context, loc string) error
	Render(ctx context.Context, idx types.Index) error
	Configure(ctx context.Context, cfg types.AgentConfig) error
}

// Journal receives title events. storage.Journal implements it.
type Journal interface {
	Record(ev types.TitleEvent)
	Run(ctx context.Context) error
}

const commandBuffer = 64

type command struct {
	action string
	run    func(ctx context.Context) error
	failed func() // runs on the loop when run fails
}

// Session is the composition root for one page.
type Session struct {
	cfg       config.Config
	transport Transport
	journal   Journal

	loop    *loop.Loop
	mirror  *Mirror
	rec     *sentinel.Reconciler
	scanner *scan.Scanner
	pipe    *pipeline.Pipeline
	updates *pipeline.Updates
	nav     *pipeline.Navigation

	runCtx  context.Context
	fetches sync.WaitGroup
	cmds    chan command
	dropped atomic.Int64
	status  chan types.Status

	// Loop-owned.
	connected bool
	url       string
	index     types.Index
	lastEvent string
}

// New builds a session. journal may be nil.
func New(cfg config.Config, transport Transport, journal Journal) (*Session, error) {
	scanner, err := scan.NewScanner(cfg.ScanRules())
	if err != nil {
		return nil, fmt.Errorf("build scanner: %w", err)
	}

	s := &Session{
		cfg:       cfg,
		transport: transport,
		journal:   journal,
		loop:      loop.New(),
		scanner:   scanner,
		runCtx:    context.Background(),
		cmds:      make(chan command, commandBuffer),
		status:    make(chan types.Status, 1),
	}
	s.mirror = NewMirror(s.sendTitle)
	s.rec = sentinel.New(s.mirror, s.loop, cfg.Reconciler())
	s.rec.Notify(s.onReconcilerEvent)
	s.pipe = pipeline.New(scanner, s.rec, pipeline.FetchFunc(s.fetch), s)
	s.updates = pipeline.NewUpdates(s.loop, s.pipe, s.rec, pipeline.Timing{
		Content:          cfg.Timing.ContentDebounce,
		Title:            cfg.Timing.TitleDebounce,
		InitialScan:      cfg.Timing.InitialScan,
		TitleSourceStart: cfg.Timing.TitleSourceStart,
		TitleSourceRetry: cfg.Timing.TitleSourceRetry,
	})
	s.nav = pipeline.NewNavigation(s.rec, s.updates, cfg.Timing.SettleDelay)
	return s, nil
}

// Status returns the channel of status updates. Only the latest status is
// kept; a slow reader skips intermediate ones.
func (s *Session) Status() <-chan types.Status {
	return s.status
}

// Activate scrolls the page to the index entry with the given 1-based
// position. Positions outside the current index are ignored. Safe from any
// goroutine.
func (s *Session) Activate(index int) {
	s.loop.Post(func() { s.activate(index) })
}

// Dropped counts commands discarded because the writer fell behind.
func (s *Session) Dropped() int64 {
	return s.dropped.Load()
}

// Run serves the session until ctx is done or the transport closes.
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	s.runCtx = ctx

	g.Go(func() error {
		s.loop.Run(ctx)
		return nil
	})
	g.Go(func() error { return s.pump(ctx) })
	g.Go(func() error { return s.writeCommands(ctx) })
	if s.journal != nil {
		g.Go(func() error { return s.journal.Run(ctx) })
	}

	err := g.Wait()
	// The loop has exited; nothing else touches its state now.
	s.updates.Stop()
	s.fetches.Wait()
	if errors.Is(err, ErrTransportClosed) {
		applog.Info("session.closed")
		return nil
	}
	return err
}

// pump moves transport events onto the loop.
func (s *Session) pump(ctx context.Context) error {
	events := s.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return ErrTransportClosed
			}
			s.loop.Post(func() { s.handle(ev) })
		}
	}
}

func (s *Session) handle(ev types.PageEvent) {
	applog.Debug("session.event", "type", string(ev.Type))
	s.lastEvent = string(ev.Type)

	switch ev.Type {
	case types.EventHello:
		s.onHello(ev)
	case types.EventClosed:
		s.connected = false
		s.updates.Stop()
		s.mirror.Reset()
		applog.Info("session.disconnected", "url", s.url)
	case types.EventTitle:
		s.mirror.Observe(ev.Title, ev.HasTitle)
		s.updates.OnHostTitle()
	case types.EventHistory:
		// A reset belongs to the conversation being left.
		s.nav.OnHistory(ev.Op, ev.URL)
		if ev.URL != "" {
			s.url = ev.URL
		}
	case types.EventMutations:
		s.updates.OnMutations(ev.Records)
	case types.EventTitleSource:
		s.updates.OnSourceTitle(ev.Text, ev.Present)
	case types.EventActivate:
		s.activate(ev.Index)
	default:
		applog.Info("session.unknown_event", "type", string(ev.Type))
	}
	s.publish()
}

// onHello handles an agent attaching, which is also how a full page reload
// shows up. Anything learned from a previous document is dropped.
func (s *Session) onHello(ev types.PageEvent) {
	s.connected = true
	s.mirror.Observe(ev.Title, ev.HasTitle)
	applog.Info("session.connected", "url", ev.URL, "title", ev.Title)

	if s.rec.State() == sentinel.Tracking || s.pipe.Runs() > 0 {
		s.updates.Invalidate()
		s.rec.OnNavigation()
	}
	s.url = ev.URL
	// A fresh agent has no sidebar until it is sent an index.
	s.pipe.ResetPresentation()

	agentCfg := types.AgentConfig{
		Primary:     s.scanner.Primary(),
		Selectors:   s.cfg.Selectors,
		TitleSource: s.cfg.TitleSource,
		Placeholder: pipeline.PlaceholderText,
	}
	s.queue(command{action: server.ActionConfigure, run: func(ctx context.Context) error {
		return s.transport.Configure(ctx, agentCfg)
	}})
	s.updates.Start()
}

func (s *Session) activate(index int) {
	if index < 1 || index > len(s.index.Entries) {
		applog.Debug("session.activate_ignored", "index", index, "entries", len(s.index.Entries))
		return
	}
	loc := s.index.Entries[index-1].Locator
	s.queue(command{action: server.ActionScrollTo, run: func(ctx context.Context) error {
		return s.transport.ScrollTo(ctx, loc)
	}})
}

// fetch is the pipeline's Fetcher. The snapshot is taken and parsed off
// the loop; done runs back on it.
func (s *Session) fetch(done func(*page.Document, error)) {
	url := s.url
	ctx := s.runCtx
	timeout := s.cfg.Timing.SnapshotTimeout

	s.fetches.Add(1)
	go func() {
		defer s.fetches.Done()
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var doc *page.Document
		html, err := s.transport.Snapshot(ctx)
		if err == nil {
			doc, err = page.ParseString(html, url)
		}
		s.loop.Post(func() { done(doc, err) })
	}()
}

// Render implements pipeline.Presenter.
func (s *Session) Render(idx types.Index) {
	s.index = idx
	s.queue(command{action: server.ActionRenderIndex, run: func(ctx context.Context) error {
		return s.transport.Render(ctx, idx)
	}})
	s.publish()
}

// sendTitle is the mirror's send. A write the page never applies is
// reverted in the mirror, so the next enforcement tries again.
func (s *Session) sendTitle(title string) error {
	return s.queue(command{
		action: server.ActionSetTitle,
		run: func(ctx context.Context) error {
			return s.transport.SetTitle(ctx, title)
		},
		failed: func() { s.mirror.Revert(title) },
	})
}

// queue hands a command to the writer without blocking the loop.
func (s *Session) queue(c command) error {
	select {
	case s.cmds <- c:
		return nil
	default:
		s.dropped.Add(1)
		applog.Info("session.command_dropped", "action", c.action)
		return fmt.Errorf("%s: %w", c.action, errQueueFull)
	}
}

// writeCommands sends queued commands to the transport in order.
func (s *Session) writeCommands(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-s.cmds:
			cctx, cancel := context.WithTimeout(ctx, s.cfg.Timing.SnapshotTimeout)
			err := c.run(cctx)
			cancel()
			switch {
			case err == nil:
				continue
			case errors.Is(err, server.ErrNotConnected):
				applog.Debug("session.command", "action", c.action, "err", err.Error())
			default:
				applog.Error("session.command", err, "action", c.action)
			}
			if c.failed != nil {
				s.loop.Post(c.failed)
			}
		}
	}
}

func (s *Session) onReconcilerEvent(ev sentinel.Event) {
	defer s.publish()
	if s.journal == nil || s.url == "" {
		return
	}
	host, _ := s.mirror.Title()
	if ev.HostTitle != "" {
		host = ev.HostTitle
	}
	s.journal.Record(types.TitleEvent{
		Kind:      string(ev.Kind),
		URL:       s.url,
		Title:     ev.Title,
		HostTitle: host,
		At:        ev.At,
	})
}

// publish offers the current status, replacing an unread one.
func (s *Session) publish() {
	st := s.snapshotStatus()
	for {
		select {
		case s.status <- st:
			return
		default:
		}
		select {
		case <-s.status:
		default:
		}
	}
}

func (s *Session) snapshotStatus() types.Status {
	host, _ := s.mirror.Title()
	stats := s.rec.Stats()
	return types.Status{
		Connected:    s.connected,
		URL:          s.url,
		HostTitle:    host,
		DerivedTitle: s.rec.DerivedTitle(),
		State:        s.rec.State().String(),
		Writes:       stats.Writes,
		Recoveries:   stats.Recoveries,
		Echoes:       stats.Echoes,
		Navigations:  s.nav.Resets(),
		Index:        s.index,
		LastEvent:    s.lastEvent,
		UpdatedAt:    time.Now(),
	}
}

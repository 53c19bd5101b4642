// Package cdp attaches the page agent to a Chrome tab over the DevTools
// protocol. It is the transport for `titlesentinel attach`: the agent is
// injected with a Runtime binding for its reports, and commands are
// evaluated in the page.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/lotas/titlesentinel/internal/agent"
	"github.com/lotas/titlesentinel/internal/applog"
	"github.com/lotas/titlesentinel/internal/server"
	"github.com/lotas/titlesentinel/internal/types"
)

// ErrNoMatchingPage is returned when no open tab matches the URL prefix.
var ErrNoMatchingPage = errors.New("no open page matches")

const bindingName = "titlesentinelReport"

// Transport drives one page.
type Transport struct {
	browser *rod.Browser
	page    *rod.Page
	owned   bool
	events  chan types.PageEvent
	remove  func() error
	cancel  context.CancelFunc
}

// unwind collects the cleanup steps of a partially built transport.
type unwind []func()

func (u *unwind) push(fn func()) { *u = append(*u, fn) }

// run undoes the steps in reverse order.
func (u unwind) run() {
	for i := len(u) - 1; i >= 0; i-- {
		u[i]()
	}
}

// Attach connects to a running browser and picks the first page whose URL
// starts with matchURL. controlURL is either the browser's websocket
// debugger URL or its http://host:port endpoint.
func Attach(ctx context.Context, controlURL, matchURL string) (*Transport, error) {
	wsURL, err := launcher.ResolveURL(controlURL)
	if err != nil {
		return nil, fmt.Errorf("resolve debugger url: %w", err)
	}
	// The browser belongs to the user: on failure only our connection goes.
	ctx, cancel := context.WithCancel(ctx)
	undo := unwind{cancel}

	browser := rod.New().ControlURL(wsURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		undo.run()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	targets, err := proto.TargetGetTargets{}.Call(browser)
	if err != nil {
		undo.run()
		return nil, fmt.Errorf("list targets: %w", err)
	}
	id, ok := pickTarget(targets.TargetInfos, matchURL)
	if !ok {
		undo.run()
		return nil, fmt.Errorf("%w %q", ErrNoMatchingPage, matchURL)
	}
	page, err := browser.PageFromTarget(id)
	if err != nil {
		undo.run()
		return nil, fmt.Errorf("open target %s: %w", id, err)
	}
	t, err := newTransport(browser, page, false)
	if err != nil {
		undo.run()
		return nil, err
	}
	t.cancel = cancel
	return t, nil
}

// Launch starts a browser, opens url in it and attaches to that page. The
// browser is closed by Close.
func Launch(ctx context.Context, url string, headless bool) (*Transport, error) {
	l := launcher.New().Headless(headless)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	undo := unwind{l.Kill}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		undo.run()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	undo.push(func() { _ = browser.Close() })

	page, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		undo.run()
		return nil, fmt.Errorf("open %s: %w", url, err)
	}
	t, err := newTransport(browser, page, true)
	if err != nil {
		undo.run()
		return nil, err
	}
	return t, nil
}

func newTransport(browser *rod.Browser, page *rod.Page, owned bool) (*Transport, error) {
	t := &Transport{
		browser: browser,
		page:    page,
		owned:   owned,
		events:  make(chan types.PageEvent, 64),
	}
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		return nil, fmt.Errorf("add binding: %w", err)
	}
	// Full reloads get a fresh copy of the agent.
	remove, err := page.EvalOnNewDocument(agent.Bootstrap(bindingName))
	if err != nil {
		return nil, fmt.Errorf("install agent: %w", err)
	}
	t.remove = remove
	return t, nil
}

// pickTarget returns the first page target under matchURL.
func pickTarget(infos []*proto.TargetTargetInfo, matchURL string) (proto.TargetTargetID, bool) {
	for _, info := range infos {
		if info.Type != proto.TargetTargetInfoTypePage {
			continue
		}
		if strings.HasPrefix(info.URL, matchURL) {
			return info.TargetID, true
		}
	}
	return "", false
}

// Events returns the page events reported by the agent.
func (t *Transport) Events() <-chan types.PageEvent {
	return t.events
}

// Run injects the agent into the current document and forwards its
// reports until ctx is done or the page goes away. The events channel is
// closed on return.
func (t *Transport) Run(ctx context.Context) error {
	defer close(t.events)
	page := t.page.Context(ctx)

	wait := page.EachEvent(func(ev *proto.RuntimeBindingCalled) {
		if ev.Name != bindingName {
			return
		}
		pe, err := decodeReport(ev.Payload)
		if err != nil {
			applog.Error("cdp.report", err)
			return
		}
		select {
		case t.events <- pe:
		case <-ctx.Done():
		}
	}, func(ev *proto.TargetTargetDestroyed) bool {
		return ev.TargetID == t.page.TargetID
	})

	if _, err := page.Evaluate(rod.Eval("() => {\n" + agent.Bootstrap(bindingName) + "\n}")); err != nil {
		return fmt.Errorf("inject agent: %w", err)
	}
	applog.Info("cdp.attached", "target", string(t.page.TargetID))

	wait()
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("page closed")
}

func decodeReport(payload string) (types.PageEvent, error) {
	var msg server.IncomingMsg
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return types.PageEvent{}, fmt.Errorf("parse report: %w", err)
	}
	return server.ParseEvent(msg)
}

// command evaluates one agent command and decodes its reply.
func (t *Transport) command(ctx context.Context, cmd server.OutgoingMsg) (server.IncomingMsg, error) {
	res, err := t.page.Context(ctx).Evaluate(rod.Eval(agent.HandleExpr(), cmd))
	if err != nil {
		return server.IncomingMsg{}, fmt.Errorf("agent %s: %w", cmd.Action, err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return server.IncomingMsg{}, fmt.Errorf("agent %s: %w", cmd.Action, err)
	}
	var reply server.IncomingMsg
	if err := json.Unmarshal(raw, &reply); err != nil {
		return server.IncomingMsg{}, fmt.Errorf("agent %s: decode reply: %w", cmd.Action, err)
	}
	if reply.OK != nil && !*reply.OK {
		return reply, fmt.Errorf("agent %s: %s", cmd.Action, reply.Error)
	}
	return reply, nil
}

// Snapshot serializes the live document.
func (t *Transport) Snapshot(ctx context.Context) (string, error) {
	reply, err := t.command(ctx, server.OutgoingMsg{Action: server.ActionSnapshot})
	if err != nil {
		return "", err
	}
	return reply.HTML, nil
}

// SetTitle writes the document title.
func (t *Transport) SetTitle(ctx context.Context, title string) error {
	_, err := t.command(ctx, server.OutgoingMsg{Action: server.ActionSetTitle, Title: title})
	return err
}

// ScrollTo scrolls the element at loc into view.
func (t *Transport) ScrollTo(ctx context.Context, loc string) error {
	_, err := t.command(ctx, server.OutgoingMsg{Action: server.ActionScrollTo, Locator: loc})
	return err
}

// Render replaces the in-page sidebar contents.
func (t *Transport) Render(ctx context.Context, idx types.Index) error {
	_, err := t.command(ctx, server.OutgoingMsg{
		Action:    server.ActionRenderIndex,
		Entries:   idx.Entries,
		Signature: idx.Signature,
		Empty:     idx.Empty,
	})
	return err
}

// Configure tells the agent what to observe.
func (t *Transport) Configure(ctx context.Context, cfg types.AgentConfig) error {
	_, err := t.command(ctx, server.OutgoingMsg{Action: server.ActionConfigure, Config: &cfg})
	return err
}

// Close removes the injected agent from future documents and, for a
// launched browser, shuts it down.
func (t *Transport) Close() error {
	var err error
	if t.remove != nil {
		err = t.remove()
	}
	if t.owned {
		if cerr := t.browser.Close(); err == nil {
			err = cerr
		}
	}
	if t.cancel != nil {
		t.cancel()
	}
	return err
}

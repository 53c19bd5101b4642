package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lotas/titlesentinel/internal/config"
	"github.com/lotas/titlesentinel/internal/types"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const chatURL = "https://gemini.google.com/app/abc"

type fakeTransport struct {
	events chan types.PageEvent

	mu         sync.Mutex
	html       string
	snapErr    error
	failTitles int // fail this many SetTitle calls first
	attempts   int
	titles     []string
	scrolls    []string
	renders    []types.Index
	configs    []types.AgentConfig
}

func newFakeTransport(html string) *fakeTransport {
	return &fakeTransport{events: make(chan types.PageEvent, 16), html: html}
}

func (f *fakeTransport) Events() <-chan types.PageEvent { return f.events }

func (f *fakeTransport) Snapshot(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.html, f.snapErr
}

func (f *fakeTransport) SetTitle(ctx context.Context, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failTitles > 0 {
		f.failTitles--
		return errors.New("evaluate: execution context was destroyed")
	}
	f.titles = append(f.titles, title)
	return nil
}

func (f *fakeTransport) titleAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeTransport) ScrollTo(ctx context.Context, loc string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrolls = append(f.scrolls, loc)
	return nil
}

func (f *fakeTransport) Render(ctx context.Context, idx types.Index) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders = append(f.renders, idx)
	return nil
}

func (f *fakeTransport) Configure(ctx context.Context, cfg types.AgentConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
	return nil
}

func (f *fakeTransport) setHTML(html string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.html = html
}

func (f *fakeTransport) titleWrites() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.titles...)
}

func (f *fakeTransport) renderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.renders)
}

func (f *fakeTransport) lastRender() (types.Index, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.renders) == 0 {
		return types.Index{}, false
	}
	return f.renders[len(f.renders)-1], true
}

type fakeJournal struct {
	mu     sync.Mutex
	events []types.TitleEvent
}

func (j *fakeJournal) Record(ev types.TitleEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
}

func (j *fakeJournal) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (j *fakeJournal) first(kind string) (types.TitleEvent, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, ev := range j.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return types.TitleEvent{}, false
}

func (j *fakeJournal) kinds() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for _, ev := range j.events {
		out = append(out, ev.Kind)
	}
	return out
}

func chatHTML(msgs ...string) string {
	var b strings.Builder
	b.WriteString(`<html><head><title>Gemini</title></head><body><main class="conversation-container">`)
	for _, m := range msgs {
		fmt.Fprintf(&b, `<user-query><div data-message-author-role="user">%s</div></user-query>`, m)
	}
	b.WriteString("</main></body></html>")
	return b.String()
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Timing = config.Timing{
		ContentDebounce:  10 * time.Millisecond,
		TitleDebounce:    20 * time.Millisecond,
		SettleDelay:      10 * time.Millisecond,
		InitialScan:      5 * time.Millisecond,
		TitleSourceStart: 5 * time.Millisecond,
		TitleSourceRetry: 10 * time.Millisecond,
		SnapshotTimeout:  time.Second,
	}
	return cfg
}

// start runs a session until the test ends.
func start(t *testing.T, tr *fakeTransport, j Journal) *Session {
	t.Helper()
	s, err := New(testConfig(), tr, j)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errc; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func hello() types.PageEvent {
	return types.PageEvent{Type: types.EventHello, URL: chatURL, Title: "Gemini", HasTitle: true}
}

func TestSessionDerivesTitleAfterHello(t *testing.T) {
	tr := newFakeTransport(chatHTML("Trip planning to Kyoto", "What about Nara?"))
	start(t, tr, nil)
	tr.events <- hello()

	waitFor(t, "title write", func() bool { return len(tr.titleWrites()) > 0 })
	if got := tr.titleWrites()[0]; got != "Trip planning to Kyoto" {
		t.Errorf("title = %q", got)
	}

	tr.mu.Lock()
	configs := append([]types.AgentConfig(nil), tr.configs...)
	tr.mu.Unlock()
	if len(configs) != 1 {
		t.Fatalf("configure calls = %d", len(configs))
	}
	if configs[0].Primary != `[data-message-author-role="user"]` || configs[0].TitleSource != ".conversation-title" {
		t.Errorf("agent config = %+v", configs[0])
	}

	idx, ok := tr.lastRender()
	if !ok || len(idx.Entries) != 2 || idx.Empty {
		t.Errorf("render = %+v", idx)
	}
}

func TestSessionUndoesPlaceholderReset(t *testing.T) {
	tr := newFakeTransport(chatHTML("Trip planning to Kyoto"))
	start(t, tr, nil)
	tr.events <- hello()
	waitFor(t, "first write", func() bool { return len(tr.titleWrites()) == 1 })

	tr.events <- types.PageEvent{Type: types.EventTitle, Title: "Trip planning to Kyoto", HasTitle: true}
	tr.events <- types.PageEvent{Type: types.EventTitle, Title: "Gemini", HasTitle: true}
	waitFor(t, "recovery write", func() bool { return len(tr.titleWrites()) == 2 })
	if got := tr.titleWrites()[1]; got != "Trip planning to Kyoto" {
		t.Errorf("recovered title = %q", got)
	}
}

func TestSessionNavigationPicksUpNewConversation(t *testing.T) {
	tr := newFakeTransport(chatHTML("Trip planning to Kyoto"))
	j := &fakeJournal{}
	start(t, tr, j)
	tr.events <- hello()
	waitFor(t, "first write", func() bool { return len(tr.titleWrites()) == 1 })

	tr.setHTML(chatHTML("Best ramen in Osaka"))
	tr.events <- types.PageEvent{Type: types.EventHistory, Op: types.HistoryPush, URL: "https://gemini.google.com/app/def"}
	waitFor(t, "second write", func() bool { return len(tr.titleWrites()) == 2 })
	if got := tr.titleWrites()[1]; got != "Best ramen in Osaka" {
		t.Errorf("title after navigation = %q", got)
	}

	waitFor(t, "journal", func() bool {
		kinds := strings.Join(j.kinds(), ",")
		return strings.Contains(kinds, "reset") && strings.Count(kinds, "derived") == 2
	})
	reset, _ := j.first("reset")
	if reset.URL != chatURL || reset.Title != "Trip planning to Kyoto" {
		t.Errorf("reset journaled as %q under %s, want the abandoned conversation", reset.Title, reset.URL)
	}
}

func TestSessionRetriesFailedTitleWrite(t *testing.T) {
	tr := newFakeTransport(chatHTML("Trip planning to Kyoto"))
	tr.failTitles = 1
	s := start(t, tr, nil)
	tr.events <- hello()

	waitFor(t, "failed write", func() bool { return tr.titleAttempts() == 1 })
	waitFor(t, "mirror revert", func() bool {
		title, _ := s.mirror.Title()
		return title == "Gemini"
	})

	tr.events <- types.PageEvent{Type: types.EventMutations, Records: []types.MutationRecord{{Target: "BODY", Added: 1}}}
	waitFor(t, "retried write", func() bool { return len(tr.titleWrites()) == 1 })
	if got := tr.titleWrites()[0]; got != "Trip planning to Kyoto" {
		t.Errorf("title = %q", got)
	}
}

func TestSessionRerendersAfterReload(t *testing.T) {
	tr := newFakeTransport(chatHTML("Trip planning to Kyoto"))
	start(t, tr, nil)
	tr.events <- hello()
	waitFor(t, "first render", func() bool { return tr.renderCount() == 1 })

	tr.events <- types.PageEvent{Type: types.EventClosed}
	tr.events <- hello()
	waitFor(t, "render after reload", func() bool { return tr.renderCount() == 2 })

	idx, _ := tr.lastRender()
	if len(idx.Entries) != 1 {
		t.Errorf("render = %+v", idx)
	}
}

func TestSessionEmptyPageRendersPlaceholder(t *testing.T) {
	tr := newFakeTransport(`<html><head><title>Gemini</title></head><body><main></main></body></html>`)
	start(t, tr, nil)
	tr.events <- hello()

	waitFor(t, "render", func() bool { _, ok := tr.lastRender(); return ok })
	idx, _ := tr.lastRender()
	if !idx.Empty || len(idx.Entries) != 0 {
		t.Errorf("render = %+v", idx)
	}
	if w := tr.titleWrites(); len(w) != 0 {
		t.Errorf("empty page wrote titles %v", w)
	}
}

func TestSessionActivate(t *testing.T) {
	tr := newFakeTransport(chatHTML("First", "Second"))
	s := start(t, tr, nil)
	tr.events <- hello()
	waitFor(t, "render", func() bool {
		idx, ok := tr.lastRender()
		return ok && len(idx.Entries) == 2
	})
	idx, _ := tr.lastRender()

	s.Activate(5)
	s.Activate(2)
	waitFor(t, "scroll", func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.scrolls) > 0
	})
	tr.mu.Lock()
	scrolls := append([]string(nil), tr.scrolls...)
	tr.mu.Unlock()
	if len(scrolls) != 1 || scrolls[0] != idx.Entries[1].Locator {
		t.Errorf("scrolls = %v, want [%s]", scrolls, idx.Entries[1].Locator)
	}
}

func TestSessionSnapshotErrorIsAbsorbed(t *testing.T) {
	tr := newFakeTransport(chatHTML("Trip"))
	tr.snapErr = errors.New("agent busy")
	s := start(t, tr, nil)
	tr.events <- hello()

	var st types.Status
	waitFor(t, "connected status", func() bool {
		select {
		case st = <-s.Status():
		default:
		}
		return st.Connected
	})
	time.Sleep(50 * time.Millisecond)
	if w := tr.titleWrites(); len(w) != 0 {
		t.Errorf("wrote %v without a snapshot", w)
	}
}

func TestSessionReturnsWhenTransportCloses(t *testing.T) {
	tr := newFakeTransport(chatHTML("Trip"))
	s, err := New(testConfig(), tr, nil)
	if err != nil {
		t.Fatal(err)
	}
	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background()) }()

	close(tr.events)
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestNewRejectsBadSelectors(t *testing.T) {
	cfg := testConfig()
	cfg.Selectors = []string{"p[["}
	if _, err := New(cfg, newFakeTransport(""), nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestMirror(t *testing.T) {
	var sent []string
	m := NewMirror(func(title string) error {
		sent = append(sent, title)
		return nil
	})
	if _, ok := m.Title(); ok {
		t.Error("new mirror reports a title element")
	}
	m.Observe("Gemini", true)
	if err := m.SetTitle("Trip"); err != nil {
		t.Fatal(err)
	}
	if got, ok := m.Title(); !ok || got != "Trip" {
		t.Errorf("Title = %q, %v", got, ok)
	}
	if len(sent) != 1 || sent[0] != "Trip" {
		t.Errorf("sent = %v", sent)
	}
	m.Reset()
	if _, ok := m.Title(); ok {
		t.Error("reset mirror still has a title")
	}
}

func TestMirrorFailedSend(t *testing.T) {
	m := NewMirror(func(string) error { return errQueueFull })
	m.Observe("Gemini", true)
	if err := m.SetTitle("Trip"); !errors.Is(err, errQueueFull) {
		t.Fatalf("SetTitle = %v, want errQueueFull", err)
	}
	if got, _ := m.Title(); got != "Gemini" {
		t.Errorf("Title = %q after a dropped write", got)
	}
}

func TestMirrorRevert(t *testing.T) {
	m := NewMirror(func(string) error { return nil })
	m.Observe("Gemini", true)
	m.SetTitle("Trip")
	m.Revert("Trip")
	if got, ok := m.Title(); !ok || got != "Gemini" {
		t.Errorf("Title = %q, %v after revert", got, ok)
	}

	m.SetTitle("Trip")
	m.Observe("Trip", true)
	m.Revert("Trip")
	if got, _ := m.Title(); got != "Trip" {
		t.Errorf("revert undid a write the page confirmed: %q", got)
	}

	m.SetTitle("Other")
	m.Revert("Trip")
	if got, _ := m.Title(); got != "Other" {
		t.Errorf("stale revert clobbered a newer write: %q", got)
	}
}

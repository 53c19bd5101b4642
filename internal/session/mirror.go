package session

import "sync"

// Mirror is the reconciler's view of the document title. The page agent
// reports every title change; writes update the mirror as soon as they are
// queued and reach the page through send.
type Mirror struct {
	mu    sync.Mutex
	title string
	ok    bool
	send  func(title string) error

	// Last title the page itself reported.
	reported   string
	reportedOK bool
}

// NewMirror creates a mirror with no title element. send is called for
// every write; when it fails the mirror is left unchanged.
func NewMirror(send func(title string) error) *Mirror {
	return &Mirror{send: send}
}

// Title implements sentinel.Host.
func (m *Mirror) Title() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.title, m.ok
}

// SetTitle implements sentinel.Host.
func (m *Mirror) SetTitle(title string) error {
	if err := m.send(title); err != nil {
		return err
	}
	m.mu.Lock()
	m.title = title
	m.ok = true
	m.mu.Unlock()
	return nil
}

// Revert undoes a write of title that never reached the page, so the next
// enforcement sees what the page actually shows. A newer write or report
// is left alone.
func (m *Mirror) Revert(title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.title != title {
		return
	}
	m.title = m.reported
	m.ok = m.reportedOK
}

// Observe records a title reported by the page.
func (m *Mirror) Observe(title string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.title = title
	m.ok = ok
	m.reported = title
	m.reportedOK = ok
}

// Reset forgets the page, e.g. when the agent disconnects.
func (m *Mirror) Reset() {
	m.Observe("", false)
}

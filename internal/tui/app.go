package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/titlesentinel/internal/types"
)

// Activator scrolls the page to an index entry. session.Session
// implements it.
type Activator interface {
	Activate(index int)
}

// --- Messages ---

type statusMsg types.Status

type sessionDoneMsg struct{ err error }

// --- Commands ---

func waitStatus(ch <-chan types.Status) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-ch
		if !ok {
			return nil
		}
		return statusMsg(st)
	}
}

func waitDone(done <-chan error) tea.Cmd {
	return func() tea.Msg {
		return sessionDoneMsg{err: <-done}
	}
}

func activate(a Activator, index int) tea.Cmd {
	return func() tea.Msg {
		a.Activate(index)
		return nil
	}
}

// --- Model ---

type Model struct {
	status    <-chan types.Status
	done      <-chan error
	activator Activator
	source    string

	st     types.Status
	index  IndexModel
	detail DetailModel
	err    error
	width  int
	height int
}

// NewModel creates the view. source labels the transport in the top bar;
// done delivers the session's exit error.
func NewModel(status <-chan types.Status, activator Activator, source string, done <-chan error) Model {
	return Model{status: status, activator: activator, source: source, done: done}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitStatus(m.status), waitDone(m.done))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		indexWidth := m.width * IndexWidthPct / 100
		detailWidth := m.width - indexWidth - 4 // borders
		paneHeight := m.height - 4              // top bar + bottom bar
		m.index.Width = indexWidth
		m.index.Height = paneHeight
		m.detail.Width = detailWidth
		m.detail.Height = paneHeight
		return m, nil

	case statusMsg:
		m.st = types.Status(msg)
		m.index.SetIndex(m.st.Index)
		return m, waitStatus(m.status)

	case sessionDoneMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			m.index.MoveUp()
		case "down", "j":
			m.index.MoveDown()
		case "g":
			m.index.Cursor, m.index.Offset = 0, 0
		case "enter":
			if e, ok := m.index.Selected(); ok {
				return m, activate(m.activator, e.Index)
			}
		case "1", "2", "3", "4", "5", "6", "7", "8", "9":
			n := int(msg.String()[0] - '0')
			if n <= len(m.index.Entries) {
				m.index.Cursor = n - 1
				return m, activate(m.activator, n)
			}
		}
	}
	return m, nil
}

func (m Model) View() string {
	if m.err != nil {
		return fmt.Sprintf("\n  Error: %v\n\n  Press 'q' to quit.\n", m.err)
	}
	if m.width == 0 {
		return "\n  Starting...\n"
	}

	topBar := renderTopBar(m.st, m.source, m.width)

	indexBorder := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Width(m.index.Width).
		Height(m.index.Height)

	detailBorder := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.detail.Width).
		Height(m.detail.Height)

	entry, ok := m.index.Selected()
	left := indexBorder.Render(m.index.View())
	right := detailBorder.Render(m.detail.View(m.st, entry, ok))
	panes := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	bottomBarStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)
	bottomBar := bottomBarStyle.Render("↑↓/jk navigate · enter scroll page · 1-9 jump · g top · q quit")

	return lipgloss.JoinVertical(lipgloss.Left, topBar, panes, bottomBar)
}

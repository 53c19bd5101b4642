package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/titlesentinel/internal/pipeline"
	"github.com/lotas/titlesentinel/internal/types"
)

// IndexModel is the scrollable list of user messages.
type IndexModel struct {
	Entries   []types.IndexEntry
	Signature string
	Empty     bool
	Cursor    int
	Offset    int // scroll offset
	Width     int
	Height    int
}

// SetIndex replaces the entries. The cursor stays on the same row when the
// conversation only grew, and returns to the top otherwise.
func (m *IndexModel) SetIndex(idx types.Index) {
	grew := len(m.Entries) > 0 && len(idx.Entries) >= len(m.Entries) &&
		strings.HasPrefix(idx.Signature, m.Signature)
	m.Entries = idx.Entries
	m.Signature = idx.Signature
	m.Empty = idx.Empty
	if !grew {
		m.Cursor = 0
		m.Offset = 0
	}
	if m.Cursor >= len(m.Entries) {
		m.Cursor = len(m.Entries) - 1
	}
	if m.Cursor < 0 {
		m.Cursor = 0
	}
}

// Selected returns the entry under the cursor.
func (m IndexModel) Selected() (types.IndexEntry, bool) {
	if m.Cursor >= 0 && m.Cursor < len(m.Entries) {
		return m.Entries[m.Cursor], true
	}
	return types.IndexEntry{}, false
}

// MoveUp moves the cursor up.
func (m *IndexModel) MoveUp() {
	if m.Cursor > 0 {
		m.Cursor--
	}
	if m.Cursor < m.Offset {
		m.Offset = m.Cursor
	}
}

// MoveDown moves the cursor down.
func (m *IndexModel) MoveDown() {
	if m.Cursor < len(m.Entries)-1 {
		m.Cursor++
	}
	rows := m.rows()
	if m.Cursor >= m.Offset+rows {
		m.Offset = m.Cursor - rows + 1
	}
}

func (m IndexModel) rows() int {
	if m.Height < 1 {
		return 20
	}
	return m.Height
}

// View renders the list.
func (m IndexModel) View() string {
	if len(m.Entries) == 0 {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render(pipeline.PlaceholderText)
	}

	cursorStyle := lipgloss.NewStyle().Bold(true).Reverse(true)
	numStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	end := m.Offset + m.rows()
	if end > len(m.Entries) {
		end = len(m.Entries)
	}

	var b strings.Builder
	for i := m.Offset; i < end; i++ {
		e := m.Entries[i]
		num := fmt.Sprintf("%3d ", e.Index)
		text := strings.ReplaceAll(e.DisplayText, "\n", " ")
		maxLen := m.Width - lipgloss.Width(num) - 1
		if maxLen < 10 {
			maxLen = 10
		}
		if r := []rune(text); len(r) > maxLen {
			text = string(r[:maxLen-1]) + "…"
		}

		var line string
		if i == m.Cursor {
			line = num + text
			if pad := m.Width - lipgloss.Width(line); pad > 0 {
				line += strings.Repeat(" ", pad)
			}
			line = cursorStyle.Render(line)
		} else {
			line = numStyle.Render(num) + text
		}
		b.WriteString(line)
		if i < end-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

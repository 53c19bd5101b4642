package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/titlesentinel/internal/types"
)

// IndexWidthPct is the percentage of terminal width used for the index pane.
const IndexWidthPct = 55

func renderTopBar(st types.Status, source string, width int) string {
	activeStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	sourceStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	var left string
	if st.Connected {
		left = " " + activeStyle.Render("● connected")
	} else {
		left = " " + dimStyle.Render("○ waiting for page agent...")
	}
	if n := len(st.Index.Entries); n > 0 {
		left += dimStyle.Render(fmt.Sprintf("   %d messages", n))
	}

	right := sourceStyle.Render(source)
	gap := width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	padding := lipgloss.NewStyle().Width(gap)

	return left + padding.Render("") + right + " "
}

package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/titlesentinel/internal/types"
)

// DetailModel shows the reconciler state and the selected message.
type DetailModel struct {
	Width  int
	Height int
}

// View renders st and, when ok, the full text of entry.
func (m DetailModel) View(st types.Status, entry types.IndexEntry, ok bool) string {
	labelStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	warnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	var b strings.Builder

	b.WriteString(labelStyle.Render("Tab title") + "\n")
	host := st.HostTitle
	if host == "" {
		host = "(none)"
	}
	if st.DerivedTitle != "" && host == st.DerivedTitle {
		b.WriteString(okStyle.Render(m.clip(host)) + "\n\n")
	} else {
		b.WriteString(m.clip(host) + "\n\n")
	}

	b.WriteString(labelStyle.Render("Derived title") + "\n")
	if st.DerivedTitle == "" {
		b.WriteString(warnStyle.Render("not derived yet") + "\n\n")
	} else {
		b.WriteString(m.clip(st.DerivedTitle) + "\n\n")
	}

	b.WriteString(labelStyle.Render("Reconciler") + "\n")
	fmt.Fprintf(&b, "%s · %d writes · %d recoveries · %d echoes · %d navigations\n\n",
		st.State, st.Writes, st.Recoveries, st.Echoes, st.Navigations)

	if st.URL != "" {
		b.WriteString(labelStyle.Render("URL") + "\n")
		b.WriteString(m.clip(st.URL) + "\n\n")
	}

	if st.LastEvent != "" {
		b.WriteString(labelStyle.Render("Last event") + "\n")
		fmt.Fprintf(&b, "%s (%s ago)\n\n", st.LastEvent, time.Since(st.UpdatedAt).Round(time.Second))
	}

	if ok {
		b.WriteString(labelStyle.Render(fmt.Sprintf("Message %d", entry.Index)) + "\n")
		b.WriteString(lipgloss.NewStyle().Width(m.Width).Render(entry.FullText))
	}
	return b.String()
}

func (m DetailModel) clip(s string) string {
	if m.Width < 4 {
		return s
	}
	r := []rune(s)
	if len(r) > m.Width-2 {
		return string(r[:m.Width-3]) + "…"
	}
	return s
}

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/lotas/titlesentinel/internal/storage"
	"github.com/lotas/titlesentinel/internal/types"
)

// Conversation is what the export commands write: the derived title and
// the index of user messages.
type Conversation struct {
	URL      string
	Title    string
	Strategy string
	Index    types.Index
}

// Markdown formats a conversation index as a markdown document.
func Markdown(c Conversation) string {
	var b strings.Builder

	title := c.Title
	if title == "" {
		title = "Untitled conversation"
	}
	fmt.Fprintf(&b, "# %s\n", title)
	fmt.Fprintf(&b, "> Exported %s", time.Now().Format("2006-01-02 15:04"))
	if c.URL != "" {
		fmt.Fprintf(&b, " from %s", c.URL)
	}
	b.WriteString("\n")

	n := len(c.Index.Entries)
	noun := "messages"
	if n == 1 {
		noun = "message"
	}
	fmt.Fprintf(&b, "\n## Questions (%d %s)\n\n", n, noun)
	if n == 0 {
		b.WriteString("_No user messages found._\n")
		return b.String()
	}
	for _, e := range c.Index.Entries {
		text := strings.ReplaceAll(e.FullText, "\n", " ")
		fmt.Fprintf(&b, "%d. %s\n", e.Index, text)
	}
	return b.String()
}

// History formats journal rows, newest first, one line each.
func History(rows []storage.EventRow) string {
	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "%-10s %-9s %s", relativeTime(r.CreatedAt), r.Kind, r.Title)
		if r.HostTitle != "" && r.HostTitle != r.Title {
			fmt.Fprintf(&b, " (was %q)", r.HostTitle)
		}
		fmt.Fprintf(&b, "  %s\n", r.URL)
	}
	return b.String()
}

func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

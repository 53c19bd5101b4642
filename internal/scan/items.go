package scan

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/lotas/titlesentinel/internal/page"
	"github.com/lotas/titlesentinel/internal/titles"
	"github.com/lotas/titlesentinel/internal/types"
)

// Item is one extracted user message. Ref only addresses the element for
// scroll and highlight; items are rebuilt from scratch on every scan.
type Item struct {
	Text string
	Ref  page.Locator
}

// BuildItems extracts every matched element in document order.
func BuildItems(m Match, noise cascadia.Matcher) []Item {
	items := make([]Item, 0, len(m.Elements))
	for _, el := range m.Elements {
		items = append(items, Item{
			Text: Extract(el, noise),
			Ref:  page.LocatorOf(el),
		})
	}
	return items
}

// Signature fingerprints items by the first prefixLen runes of each text.
// The presentation layer skips re-rendering while it is unchanged.
func Signature(items []Item, prefixLen int) string {
	parts := make([]string, len(items))
	for i, it := range items {
		r := []rune(it.Text)
		if len(r) > prefixLen {
			r = r[:prefixLen]
		}
		parts[i] = string(r)
	}
	return strings.Join(parts, "|")
}

// BuildIndex converts items into presentation rows.
func BuildIndex(items []Item, displayLen, prefixLen int) types.Index {
	idx := types.Index{
		Signature: Signature(items, prefixLen),
		Empty:     len(items) == 0,
	}
	for i, it := range items {
		idx.Entries = append(idx.Entries, types.IndexEntry{
			Index:       i + 1,
			DisplayText: titles.Truncate(it.Text, displayLen),
			FullText:    it.Text,
			Locator:     string(it.Ref),
		})
	}
	return idx
}

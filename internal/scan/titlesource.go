package scan

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/go-shiori/dom"
	"github.com/lotas/titlesentinel/internal/page"
	"github.com/lotas/titlesentinel/internal/titles"
)

// DefaultFallbackLen caps titles synthesized from the first message.
const DefaultFallbackLen = 40

// SourceText returns the trimmed text of the host's authoritative title
// element and whether that element exists.
func SourceText(doc *page.Document, source cascadia.Matcher) (string, bool) {
	if source == nil {
		return "", false
	}
	el := cascadia.Query(doc.Root(), source)
	if el == nil {
		return "", false
	}
	text := strings.TrimSpace(dom.InnerText(el))
	if text == "" {
		text = strings.TrimSpace(dom.TextContent(el))
	}
	return text, true
}

// ReadTitleSource picks the candidate title: the authoritative element when
// it has text, else the first line of the first item truncated to
// fallbackLen. ok is false when neither exists; callers must not treat
// that as an empty title.
func ReadTitleSource(doc *page.Document, source cascadia.Matcher, items []Item, fallbackLen int) (title string, ok bool) {
	if text, _ := SourceText(doc, source); text != "" {
		return text, true
	}
	if len(items) == 0 {
		return "", false
	}
	first := strings.TrimSpace(titles.FirstLine(items[0].Text))
	if first == "" {
		return "", false
	}
	if fallbackLen <= 0 {
		fallbackLen = DefaultFallbackLen
	}
	return titles.Truncate(first, fallbackLen), true
}

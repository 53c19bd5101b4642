package scan

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/go-shiori/dom"
	"golang.org/x/net/html"
)

// DefaultNoise strips icons, timestamps and interactive controls.
const DefaultNoise = `svg, .timestamp, button, [role="button"]`

// Extract returns the normalized text of el. It works on a deep clone, so
// removing noise never touches the snapshot the element belongs to, and
// extracting twice from the same element yields the same string.
func Extract(el *html.Node, noise cascadia.Matcher) string {
	if el == nil {
		return ""
	}
	clone := dom.Clone(el, true)
	if noise != nil {
		dom.RemoveNodes(cascadia.QueryAll(clone, noise), nil)
	}
	return Normalize(dom.InnerText(clone))
}

// Normalize trims s and collapses every whitespace run to one space.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

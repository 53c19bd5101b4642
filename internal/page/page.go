// Package page models a parsed snapshot of the host document. Snapshots are
// read-only copies; nothing here ever reaches back into the live page.
package page

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-shiori/dom"
	"golang.org/x/net/html"
)

var (
	rxDisplayNone      = regexp.MustCompile(`(?i)display:\s*none`)
	rxVisibilityHidden = regexp.MustCompile(`(?i)visibility:\s*(hidden|collapse)`)
)

// Elements that never produce a layout box.
var boxless = map[string]bool{
	"head":     true,
	"script":   true,
	"style":    true,
	"template": true,
	"noscript": true,
	"title":    true,
}

// Document is a parsed snapshot.
type Document struct {
	root *html.Node
	URL  string
}

// Parse reads an HTML snapshot. The agent always serializes UTF-8, so the
// charset sniffing of dom.Parse is skipped.
func Parse(r io.Reader, url string) (*Document, error) {
	root, err := dom.FastParse(r)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &Document{root: root, URL: url}, nil
}

// ParseString is Parse for an in-memory snapshot.
func ParseString(s, url string) (*Document, error) {
	return Parse(strings.NewReader(s), url)
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Body returns the body element, or nil.
func (d *Document) Body() *html.Node {
	return dom.QuerySelector(d.root, "body")
}

// Title returns the text of the <title> element and whether it exists.
func (d *Document) Title() (string, bool) {
	el := dom.QuerySelector(d.root, "head > title")
	if el == nil {
		el = dom.QuerySelector(d.root, "title")
	}
	if el == nil {
		return "", false
	}
	return strings.TrimSpace(dom.TextContent(el)), true
}

// Visible reports whether n would get a layout box: neither it nor an
// ancestor is hidden by attribute, inline style or a boxless container.
// Stylesheets are not evaluated; the agent inlines display:none for
// elements it measures as hidden.
func Visible(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		if boxless[cur.Data] {
			return false
		}
		if dom.HasAttribute(cur, "hidden") {
			return false
		}
		style := dom.GetAttribute(cur, "style")
		if style != "" && (rxDisplayNone.MatchString(style) || rxVisibilityHidden.MatchString(style)) {
			return false
		}
	}
	return true
}

// Locator addresses an element by its element-child index path from the
// document element, e.g. "1/0/3". The agent resolves the same path in the
// live DOM; a path that no longer resolves is simply ignored there.
type Locator string

// LocatorOf computes the locator for n.
func LocatorOf(n *html.Node) Locator {
	var parts []string
	for cur := n; cur != nil && cur.Parent != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if cur.Parent.Type == html.DocumentNode {
			break
		}
		idx := 0
		for sib := cur.PrevSibling; sib != nil; sib = sib.PrevSibling {
			if sib.Type == html.ElementNode {
				idx++
			}
		}
		parts = append(parts, strconv.Itoa(idx))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return Locator(strings.Join(parts, "/"))
}

// Resolve finds the element addressed by loc, or nil.
func (d *Document) Resolve(loc Locator) *html.Node {
	cur := dom.DocumentElement(d.root)
	if cur == nil {
		return nil
	}
	if loc == "" {
		return cur
	}
	for _, part := range strings.Split(string(loc), "/") {
		idx, err := strconv.Atoi(part)
		if err != nil || idx < 0 {
			return nil
		}
		children := dom.Children(cur)
		if idx >= len(children) {
			return nil
		}
		cur = children[idx]
	}
	return cur
}

// Package scan turns a page snapshot into conversation items and a
// candidate title: selector fallback, text extraction and title source.
package scan

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/go-shiori/dom"
	"github.com/lotas/titlesentinel/internal/page"
	"golang.org/x/net/html"
)

// Strategy is one way of locating user messages, most reliable first.
type Strategy struct {
	Selector string
	Matcher  cascadia.Matcher
}

// Compile parses selectors into strategies, preserving order.
func Compile(selectors []string) ([]Strategy, error) {
	out := make([]Strategy, 0, len(selectors))
	for _, sel := range selectors {
		m, err := compileSelector(sel)
		if err != nil {
			return nil, err
		}
		out = append(out, Strategy{Selector: sel, Matcher: m})
	}
	return out, nil
}

func compileSelector(sel string) (cascadia.Matcher, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return nil, fmt.Errorf("empty selector")
	}
	g, err := cascadia.ParseGroup(sel)
	if err != nil {
		return nil, fmt.Errorf("selector %q: %w", sel, err)
	}
	return g, nil
}

// Match is the outcome of Resolve.
type Match struct {
	Strategy int // index of the winning strategy, -1 when nothing matched
	Elements []*html.Node
}

// Empty reports whether no strategy produced visible content.
func (m Match) Empty() bool { return len(m.Elements) == 0 }

// Resolve evaluates strategies in order and returns the visible, non-empty
// matches of the first strategy that has any. Later strategies are not
// evaluated. No match at all is the normal state of an empty chat, not an
// error.
func Resolve(doc *page.Document, strategies []Strategy) Match {
	for i, s := range strategies {
		var valid []*html.Node
		for _, el := range cascadia.QueryAll(doc.Root(), s.Matcher) {
			if !page.Visible(el) {
				continue
			}
			if strings.TrimSpace(dom.InnerText(el)) == "" {
				continue
			}
			valid = append(valid, el)
		}
		if len(valid) > 0 {
			return Match{Strategy: i, Elements: valid}
		}
	}
	return Match{Strategy: -1}
}

package scan

import (
	"fmt"

	"github.com/andybalholm/cascadia"
	"github.com/lotas/titlesentinel/internal/page"
	"github.com/lotas/titlesentinel/internal/types"
)

// Rules configures a Scanner.
type Rules struct {
	Selectors    []string // message strategies, most reliable first
	Noise        string   // removed from each message before reading text
	TitleSource  string   // host's authoritative conversation title
	DisplayLen   int
	FallbackLen  int
	SignatureLen int
}

// Scanner runs the selector, extraction and title-source steps over one
// snapshot.
type Scanner struct {
	rules       Rules
	strategies  []Strategy
	noise       cascadia.Matcher
	titleSource cascadia.Matcher
}

// Result is everything one scan learned about a snapshot.
type Result struct {
	Items    []Item
	Strategy string // winning selector, empty when nothing matched
	Index    types.Index
	Title    string
	HasTitle bool
}

// NewScanner compiles rules.
func NewScanner(rules Rules) (*Scanner, error) {
	strategies, err := Compile(rules.Selectors)
	if err != nil {
		return nil, err
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("no selector strategies")
	}
	s := &Scanner{rules: rules, strategies: strategies}
	if rules.Noise != "" {
		if s.noise, err = compileSelector(rules.Noise); err != nil {
			return nil, fmt.Errorf("noise: %w", err)
		}
	}
	if rules.TitleSource != "" {
		if s.titleSource, err = compileSelector(rules.TitleSource); err != nil {
			return nil, fmt.Errorf("title source: %w", err)
		}
	}
	return s, nil
}

// Primary returns the most reliable message selector.
func (s *Scanner) Primary() string {
	return s.strategies[0].Selector
}

// Scan resolves, extracts and derives the candidate title for doc.
func (s *Scanner) Scan(doc *page.Document) Result {
	m := Resolve(doc, s.strategies)
	items := BuildItems(m, s.noise)

	res := Result{Items: items}
	res.Index = BuildIndex(items, s.rules.DisplayLen, s.rules.SignatureLen)
	if !m.Empty() {
		res.Strategy = s.strategies[m.Strategy].Selector
		res.Index.Strategy = res.Strategy
	}
	res.Title, res.HasTitle = ReadTitleSource(doc, s.titleSource, items, s.rules.FallbackLen)
	return res
}

// SourceText reads the authoritative title element of doc.
func (s *Scanner) SourceText(doc *page.Document) (string, bool) {
	return SourceText(doc, s.titleSource)
}

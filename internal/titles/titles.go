// Package titles holds the string rules shared by the title reconciler and
// the content scanner: placeholder detection and display truncation.
package titles

import "strings"

// Ellipsis is appended to truncated titles.
const Ellipsis = "..."

// Truncate cuts s to max runes and appends Ellipsis when it was longer.
// Applying it to its own output returns the same string, so a title that
// passes through several stages is never double-truncated.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + Ellipsis
		}
		n++
	}
	return s
}

// FirstLine returns s up to the first newline.
func FirstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// GenericSet is the ordered list of placeholder titles the host shows while
// it has no real conversation title (app name, "My content", "Loading...").
type GenericSet []string

// DefaultGeneric mirrors the placeholders the host has been observed to use,
// including localized variants.
var DefaultGeneric = GenericSet{
	"Gemini",
	"My content",
	"我的內容",
	"Loading...",
	"New chat",
	"新對話",
}

// Matches reports whether title contains, or equals, any entry. Localized
// builds render placeholders like "Gemini - 我的內容", so entries match as
// substrings, never only exactly.
func (g GenericSet) Matches(title string) bool {
	for _, entry := range g {
		if entry == "" {
			continue
		}
		if title == entry || strings.Contains(title, entry) {
			return true
		}
	}
	return false
}

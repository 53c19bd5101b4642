package export

import (
	"encoding/json"
	"net/url"
	"time"
)

type jsonExport struct {
	Title      string      `json:"title"`
	URL        string      `json:"url,omitempty"`
	Host       string      `json:"host,omitempty"`
	Strategy   string      `json:"strategy,omitempty"`
	Signature  string      `json:"signature"`
	ExportedAt time.Time   `json:"exported_at"`
	Messages   []jsonEntry `json:"messages"`
}

type jsonEntry struct {
	Index   int    `json:"index"`
	Display string `json:"display"`
	Text    string `json:"text"`
	Locator string `json:"locator"`
}

// JSON formats a conversation index as a JSON document.
func JSON(c Conversation) (string, error) {
	out := jsonExport{
		Title:      c.Title,
		URL:        c.URL,
		Host:       extractDomain(c.URL),
		Strategy:   c.Strategy,
		Signature:  c.Index.Signature,
		ExportedAt: time.Now(),
		Messages:   make([]jsonEntry, 0, len(c.Index.Entries)),
	}
	for _, e := range c.Index.Entries {
		out.Messages = append(out.Messages, jsonEntry{
			Index:   e.Index,
			Display: e.DisplayText,
			Text:    e.FullText,
			Locator: e.Locator,
		})
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}

func extractDomain(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Hostname()
}

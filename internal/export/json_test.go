package export

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/lotas/titlesentinel/internal/types"
)

func kyoto() Conversation {
	return Conversation{
		URL:      "https://gemini.google.com/app/abc",
		Title:    "Trip planning to Kyoto",
		Strategy: `[data-message-author-role="user"]`,
		Index: types.Index{
			Entries: []types.IndexEntry{
				{Index: 1, DisplayText: "Trip planning to Kyoto", FullText: "Trip planning to Kyoto", Locator: "1/0/0"},
				{Index: 2, DisplayText: "Which temples open early?", FullText: "Which temples open early?\nAnd late?", Locator: "1/0/2"},
			},
			Signature: "Trip plann|Which temp",
		},
	}
}

func TestJSON(t *testing.T) {
	result, err := JSON(kyoto())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed jsonExport
	if err := json.Unmarshal([]byte(result), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Title != "Trip planning to Kyoto" {
		t.Errorf("title = %q", parsed.Title)
	}
	if parsed.Host != "gemini.google.com" {
		t.Errorf("host = %q", parsed.Host)
	}
	if parsed.ExportedAt.IsZero() {
		t.Error("exported_at not set")
	}
	want := []jsonEntry{
		{Index: 1, Display: "Trip planning to Kyoto", Text: "Trip planning to Kyoto", Locator: "1/0/0"},
		{Index: 2, Display: "Which temples open early?", Text: "Which temples open early?\nAnd late?", Locator: "1/0/2"},
	}
	if diff := cmp.Diff(want, parsed.Messages); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestJSON_EmptyIndexHasEmptyArray(t *testing.T) {
	result, err := JSON(Conversation{Index: types.Index{Empty: true}})
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(result), &raw); err != nil {
		t.Fatal(err)
	}
	msgs, ok := raw["messages"].([]any)
	if !ok || len(msgs) != 0 {
		t.Errorf("messages = %#v, want empty array", raw["messages"])
	}
	if _, ok := raw["url"]; ok {
		t.Error("empty url should be omitted")
	}
}

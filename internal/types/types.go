package types

import "time"

// EventType identifies a message reported by the page agent.
type EventType string

const (
	EventHello       EventType = "hello"
	EventTitle       EventType = "title"
	EventHistory     EventType = "history"
	EventMutations   EventType = "mutations"
	EventTitleSource EventType = "title-source"
	EventActivate    EventType = "activate"
	EventClosed      EventType = "closed"
)

// HistoryOp is the kind of SPA route change.
type HistoryOp string

const (
	HistoryPush    HistoryOp = "push"
	HistoryReplace HistoryOp = "replace"
	HistoryPop     HistoryOp = "pop"
)

// MutationRecord summarizes one DOM MutationRecord. The agent computes the
// fields so the full subtree never crosses the wire.
type MutationRecord struct {
	Target          string `json:"target"`    // node name, e.g. "BODY"
	ClassName       string `json:"className"` // target class attribute
	Added           int    `json:"added"`     // number of added nodes
	ContainsPrimary bool   `json:"containsPrimary"`
}

// PageEvent is a decoded agent message. Only the fields relevant to Type
// are set.
type PageEvent struct {
	Type     EventType
	URL      string
	Title    string
	HasTitle bool
	Op       HistoryOp
	Records  []MutationRecord
	Text     string // title-source text
	Present  bool   // title-source element exists
	Index    int    // activate
	At       time.Time
}

// IndexEntry is one row handed to the presentation layer.
type IndexEntry struct {
	Index       int    `json:"index"` // 1-based
	DisplayText string `json:"displayText"`
	FullText    string `json:"fullText"`
	Locator     string `json:"locator"`
}

// Index is the presentation payload for one pipeline run.
type Index struct {
	Entries   []IndexEntry `json:"entries"`
	Signature string       `json:"signature"`
	Empty     bool         `json:"empty"`
	Strategy  string       `json:"strategy,omitempty"`
}

// Status is a point-in-time view of a session, published to the TUI.
type Status struct {
	Connected    bool
	URL          string
	HostTitle    string
	DerivedTitle string
	State        string
	Writes       int
	Recoveries   int
	Echoes       int
	Navigations  int
	Index        Index
	LastEvent    string
	UpdatedAt    time.Time
}

// AgentConfig is sent to the page agent once it says hello. It tells the
// agent which elements matter for the mutation pre-filter and the
// title-source observer.
type AgentConfig struct {
	Primary     string   `json:"primary"`
	Selectors   []string `json:"selectors"` // every strategy, for visibility marking
	TitleSource string   `json:"titleSource"`
	Placeholder string   `json:"placeholder"`
}

// TitleEvent is one entry of the title journal.
type TitleEvent struct {
	Kind      string
	URL       string
	Title     string
	HostTitle string
	At        time.Time
}

package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lotas/titlesentinel/internal/types"
	_ "modernc.org/sqlite"
)

// DBFile is the journal database name inside the data directory.
const DBFile = "titlesentinel.db"

// Conversation is a page URL the companion has seen, with the last title
// derived for it.
type Conversation struct {
	ID          int64
	URL         string
	Title       string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	EventCount  int
}

// EventRow is a stored title event.
type EventRow struct {
	ID        int64
	URL       string
	Kind      string
	Title     string
	HostTitle string
	CreatedAt time.Time
}

// migration is a numbered schema change. Migrations are applied in order
// and tracked in the schema_migrations table so each runs exactly once.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS conversations (
    id            INTEGER PRIMARY KEY,
    url           TEXT UNIQUE NOT NULL,
    title         TEXT NOT NULL DEFAULT '',
    first_seen_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    last_seen_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS title_events (
    id              INTEGER PRIMARY KEY,
    conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    kind            TEXT NOT NULL,
    title           TEXT NOT NULL DEFAULT '',
    host_title      TEXT NOT NULL DEFAULT '',
    created_at      DATETIME NOT NULL
);`,
	},
	{
		Version:     2,
		Description: "index title events by conversation",
		SQL:         `CREATE INDEX IF NOT EXISTS idx_title_events_conversation ON title_events(conversation_id, created_at);`,
	},
}

// OpenDB opens (or creates) a SQLite database at the given path.
// It creates parent directories if needed, enables foreign keys and WAL mode,
// and runs any pending migrations.
func OpenDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// WAL lets `titlesentinel history` read while a session is writing.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// runMigrations ensures the schema_migrations table exists and applies any
// pending migrations in order.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// DBPath returns the journal path inside dataDir.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}

// RecordEvent stores ev, creating the conversation row for its URL on first
// sight. Events that carry a title also update the conversation's title.
func RecordEvent(db *sql.DB, ev types.TitleEvent) error {
	if ev.URL == "" {
		return fmt.Errorf("record %s event: missing url", ev.Kind)
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	convTitle := ev.Title
	if ev.Kind == "reset" {
		// A reset carries the title being abandoned, not the new one.
		convTitle = ""
	}

	var convID int64
	err = tx.QueryRow(`
		INSERT INTO conversations (url, title, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			last_seen_at = excluded.last_seen_at,
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE conversations.title END
		RETURNING id`,
		ev.URL, convTitle, at, at,
	).Scan(&convID)
	if err != nil {
		return fmt.Errorf("upsert conversation %q: %w", ev.URL, err)
	}

	if _, err := tx.Exec(
		"INSERT INTO title_events (conversation_id, kind, title, host_title, created_at) VALUES (?, ?, ?, ?, ?)",
		convID, ev.Kind, ev.Title, ev.HostTitle, at,
	); err != nil {
		return fmt.Errorf("insert %s event: %w", ev.Kind, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// EventFilter narrows ListEvents. Zero values mean no restriction.
type EventFilter struct {
	URL   string
	Kind  string
	Limit int
}

// ListEvents returns stored events, newest first.
func ListEvents(db *sql.DB, f EventFilter) ([]EventRow, error) {
	query := `SELECT e.id, c.url, e.kind, e.title, e.host_title, e.created_at
		FROM title_events e JOIN conversations c ON c.id = e.conversation_id
		WHERE (? = '' OR c.url = ?) AND (? = '' OR e.kind = ?)
		ORDER BY e.created_at DESC, e.id DESC`
	args := []any{f.URL, f.URL, f.Kind, f.Kind}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var result []EventRow
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(&r.ID, &r.URL, &r.Kind, &r.Title, &r.HostTitle, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return result, nil
}

// ListConversations returns known conversations, most recently seen first.
func ListConversations(db *sql.DB, limit int) ([]Conversation, error) {
	query := `SELECT c.id, c.url, c.title, c.first_seen_at, c.last_seen_at,
			(SELECT COUNT(*) FROM title_events e WHERE e.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.last_seen_at DESC, c.id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var result []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.URL, &c.Title, &c.FirstSeenAt, &c.LastSeenAt, &c.EventCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// PruneEvents deletes events older than cutoff and returns how many were
// removed.
func PruneEvents(db *sql.DB, cutoff time.Time) (int64, error) {
	res, err := db.Exec("DELETE FROM title_events WHERE created_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

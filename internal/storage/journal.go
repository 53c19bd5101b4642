package storage

import (
	"context"
	"database/sql"
	"sync/atomic"

	"github.com/lotas/titlesentinel/internal/applog"
	"github.com/lotas/titlesentinel/internal/types"
)

// Journal writes title events on its own goroutine so the loop never waits
// on the database. It is an audit trail only; nothing reads it back into a
// running session.
type Journal struct {
	db      *sql.DB
	events  chan types.TitleEvent
	written atomic.Int64
	dropped atomic.Int64
}

// NewJournal creates a journal with room for buffer pending events.
func NewJournal(db *sql.DB, buffer int) *Journal {
	if buffer <= 0 {
		buffer = 256
	}
	return &Journal{db: db, events: make(chan types.TitleEvent, buffer)}
}

// Record queues ev. When the buffer is full the event is dropped.
func (j *Journal) Record(ev types.TitleEvent) {
	select {
	case j.events <- ev:
	default:
		j.dropped.Add(1)
		applog.Info("journal.dropped", "kind", ev.Kind)
	}
}

// Run writes queued events until ctx is done, then flushes what is still
// buffered.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-j.events:
			j.write(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-j.events:
					j.write(ev)
				default:
					return nil
				}
			}
		}
	}
}

func (j *Journal) write(ev types.TitleEvent) {
	if err := RecordEvent(j.db, ev); err != nil {
		applog.Error("journal.write", err, "kind", ev.Kind)
		return
	}
	j.written.Add(1)
}

// Written returns how many events reached the database.
func (j *Journal) Written() int64 { return j.written.Load() }

// Dropped returns how many events were lost to a full buffer.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

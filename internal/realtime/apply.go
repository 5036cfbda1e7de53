package realtime

import (
	"log/slog"
	"time"

	"github.com/marcus/possync/internal/models"
	"github.com/marcus/possync/internal/queue"
	"github.com/marcus/possync/internal/store"
)

// Applier is the standard consumer: it funnels change events into the local
// store through the same idempotent versioned upsert pull uses, so duplicated
// delivery and pull/realtime races converge on the same final state. Records
// with unresolved queue entries are left untouched.
type Applier struct {
	store *store.Store
	queue *queue.Queue // nil when running the direct, queue-less strategy
}

// NewApplier builds an applier over the local store.
func NewApplier(st *store.Store, q *queue.Queue) *Applier {
	return &Applier{store: st, queue: q}
}

// Apply writes one event. Errors are logged, never propagated: a failed
// local write is repaired by the next pull.
func (a *Applier) Apply(ev models.ChangeEvent) {
	if a.queue != nil {
		dirty, err := a.queue.HasOutstanding(ev.Table, ev.RecordID)
		if err != nil {
			slog.Warn("realtime apply: outstanding check failed", "table", ev.Table, "record", ev.RecordID, "err", err)
			return
		}
		if dirty {
			slog.Debug("realtime apply: record has local edits, skipping", "table", ev.Table, "record", ev.RecordID)
			return
		}
	}

	switch ev.Type {
	case models.EventCreated, models.EventUpdated:
		if ev.Row == nil {
			return
		}
		if err := a.store.ApplyRemote(ev.Table, []models.Row{ev.Row}); err != nil {
			slog.Warn("realtime apply failed", "table", ev.Table, "record", ev.RecordID, "err", err)
		}

	case models.EventDeleted:
		if ev.Row != nil {
			if err := a.store.ApplyRemote(ev.Table, []models.Row{ev.Row}); err != nil {
				slog.Warn("realtime apply failed", "table", ev.Table, "record", ev.RecordID, "err", err)
			}
			return
		}
		// bodyless delete: soft-delete whatever we hold
		row, err := a.store.GetAny(ev.Table, ev.RecordID)
		if err != nil || row == nil {
			return
		}
		ts := models.Timestamp(time.Now())
		row[models.FieldDeletedAt] = ts
		row[models.FieldUpdatedAt] = ts
		if err := a.store.Put(ev.Table, row); err != nil {
			slog.Warn("realtime delete failed", "table", ev.Table, "record", ev.RecordID, "err", err)
		}
	}
}

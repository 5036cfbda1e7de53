package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/marcus/possync/internal/models"
	"github.com/marcus/possync/internal/remote"
)

// Decision is an operator's resolution for a FAILED conflict entry.
type Decision string

const (
	DecisionUseServer Decision = "use-server"
	DecisionUseLocal  Decision = "use-local"
	DecisionMerge     Decision = "merge"
)

// ListConflicts returns FAILED entries whose failure was a conflict.
// Other FAILED entries (validation, exhausted retries) are listed by the
// queue maintenance surface instead.
func (s *Queued) ListConflicts() ([]models.QueueEntry, error) {
	failed, err := s.queue.List(models.StatusFailed)
	if err != nil {
		return nil, err
	}
	var out []models.QueueEntry
	for _, e := range failed {
		if strings.HasPrefix(e.Error, "conflict:") {
			out = append(out, e)
		}
	}
	return out, nil
}

// Resolve applies an operator decision to a FAILED entry. Without a
// decision an entry simply stays FAILED; nothing is dropped silently.
//
//   - use-server: the local mutation is abandoned. The canonical server row
//     is fetched and written over the optimistic local state, then the entry
//     is closed out. The pull checkpoint has already moved past this record
//     while its entry was unresolved, so nothing else would re-deliver it.
//   - use-local: the original payload is re-enqueued as a fresh PENDING
//     entry and pushed again.
//   - merge: the caller supplies a merged payload, enqueued as an UPDATE.
func (s *Queued) Resolve(ctx context.Context, entryID string, decision Decision, merged json.RawMessage) error {
	e, err := s.queue.Get(entryID)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("resolve: entry %s not found", entryID)
	}
	if e.Status != models.StatusFailed {
		return fmt.Errorf("resolve: entry %s is %s, not FAILED", entryID, e.Status)
	}

	switch decision {
	case DecisionUseServer:
		if err := s.restoreServerRow(ctx, e.Table, e.RecordID); err != nil {
			return err
		}
		return s.queue.MarkResolved(entryID, "resolved: use-server")

	case DecisionUseLocal:
		if _, err := s.queue.Enqueue(e.Table, e.Action, e.RecordID, e.Payload); err != nil {
			return err
		}
		return s.queue.MarkResolved(entryID, "resolved: use-local, re-enqueued")

	case DecisionMerge:
		if len(merged) == 0 {
			return fmt.Errorf("resolve: merge requires a merged payload")
		}
		if _, err := s.queue.Enqueue(e.Table, models.ActionUpdate, e.RecordID, merged); err != nil {
			return err
		}
		return s.queue.MarkResolved(entryID, "resolved: merge, re-enqueued")

	default:
		return fmt.Errorf("resolve: unknown decision %q", decision)
	}
}

// restoreServerRow overwrites the local row with the server's version. When
// the server no longer has the record the local row is removed. The fetch
// runs before the entry is closed, so a failure leaves it resolvable again.
func (s *Queued) restoreServerRow(ctx context.Context, table, recordID string) error {
	row, err := s.backend.Fetch(ctx, s.tenantID, table, recordID)
	if err != nil {
		var rerr *remote.Error
		if errors.As(err, &rerr) && rerr.Kind == remote.KindNotFound {
			return s.store.Delete(table, recordID)
		}
		return fmt.Errorf("fetch server row %s/%s: %w", table, recordID, err)
	}
	if row == nil {
		return s.store.Delete(table, recordID)
	}
	return s.store.Put(table, row)
}

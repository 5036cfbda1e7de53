package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marcus/possync/internal/queue"
	"github.com/marcus/possync/internal/store"
)

// dirtySet answers whether a record has unresolved local mutations. The
// queued strategy backs it with the sync queue; Direct has none.
type dirtySet interface {
	OutstandingRecords() (map[string]bool, error)
}

// pull runs the paged pull flow shared by both strategies. q may be nil.
func pull(ctx context.Context, st *store.Store, backend Backend, tenantID string, limit int, q dirtySet) (*PullResult, error) {
	cp, err := st.GetCheckpoint(tenantID)
	if err != nil {
		return nil, err
	}
	since := ""
	if cp != nil {
		since = cp.Since
	}
	if since == "" {
		slog.Info("pull: no checkpoint, taking full snapshot", "tenant", tenantID)
	}

	result := &PullResult{Checkpoint: since}
	for {
		resp, err := backend.Pull(ctx, tenantID, since, limit)
		if err != nil {
			return result, fmt.Errorf("pull since %q: %w", since, err)
		}

		dirty := map[string]bool{}
		if q != nil {
			// re-read per page: entries resolve while we pull
			dirty, err = q.OutstandingRecords()
			if err != nil {
				return result, err
			}
		}

		page := resp.Changes[:0:0]
		for _, ch := range resp.Changes {
			if dirty[queue.OutstandingKey(ch.Table, ch.Row.ID())] {
				result.SkippedDirty++
				continue
			}
			page = append(page, ch)
		}

		if err := st.ApplyChanges(page); err != nil {
			return result, err
		}
		result.Applied += len(page)
		result.Pages++

		if resp.Checkpoint != "" {
			since = resp.Checkpoint
			if err := st.SetCheckpoint(tenantID, since); err != nil {
				return result, err
			}
			result.Checkpoint = since
		}

		if !resp.HasMore {
			break
		}
	}

	slog.Info("pull complete", "tenant", tenantID, "applied", result.Applied,
		"skipped_dirty", result.SkippedDirty, "pages", result.Pages)
	return result, nil
}

package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/marcus/possync/internal/models"
	"github.com/marcus/possync/internal/store"
)

// Direct is the direct-communication strategy: every mutation is sent to the
// server immediately and synchronously, with no queue and no retry machinery.
// A failed mutation is returned to the caller. Suited to deployments that are
// effectively always online.
type Direct struct {
	store    *store.Store
	backend  Backend
	tenantID string
	opts     Options
}

// NewDirect builds a direct synchronizer for one tenant.
func NewDirect(st *store.Store, backend Backend, tenantID string, opts Options) *Direct {
	return &Direct{store: st, backend: backend, tenantID: tenantID, opts: opts.withDefaults()}
}

// Record sends the mutation at once and applies the canonical server row to
// the local store.
func (s *Direct) Record(ctx context.Context, table string, action models.Action, recordID string, payload json.RawMessage) error {
	if !models.SyncedTables[table] {
		return nil
	}
	row, err := s.backend.Mutate(ctx, s.tenantID, table, recordID, action, payload)
	if err != nil {
		return fmt.Errorf("direct sync %s %s/%s: %w", action, table, recordID, err)
	}
	if row != nil {
		if err := s.store.Put(table, row); err != nil {
			return err
		}
	}
	slog.Debug("direct mutation applied", "table", table, "action", action, "record", recordID)
	return nil
}

// Push is a no-op: nothing is ever queued.
func (s *Direct) Push(ctx context.Context) (*PushResult, error) {
	return &PushResult{}, nil
}

// Pull applies remote deltas. With no queue there are no in-flight local
// edits to protect, so every row is applied.
func (s *Direct) Pull(ctx context.Context) (*PullResult, error) {
	return pull(ctx, s.store, s.backend, s.tenantID, s.opts.PullLimit, nil)
}

// Sync is just Pull; Push has nothing to do.
func (s *Direct) Sync(ctx context.Context) error {
	_, err := s.Pull(ctx)
	return err
}

var _ Synchronizer = (*Direct)(nil)

package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marcus/possync/internal/models"
	"github.com/marcus/possync/internal/queue"
	"github.com/marcus/possync/internal/remote"
	"github.com/marcus/possync/internal/store"
)

// Queued is the full state-machine synchronizer: every local mutation is a
// durable queue entry, drained in per-record FIFO order with bounded
// concurrency and bounded retries.
type Queued struct {
	store    *store.Store
	queue    *queue.Queue
	backend  Backend
	tenantID string
	opts     Options
	now      func() time.Time
}

// NewQueued builds a queued synchronizer for one tenant.
func NewQueued(st *store.Store, q *queue.Queue, backend Backend, tenantID string, opts Options) *Queued {
	return &Queued{
		store:    st,
		queue:    q,
		backend:  backend,
		tenantID: tenantID,
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

// Record enqueues a mutation as PENDING. The local store write has already
// happened (optimistic write in the repository); this only persists the
// intent to sync.
func (s *Queued) Record(ctx context.Context, table string, action models.Action, recordID string, payload json.RawMessage) error {
	if !models.SyncedTables[table] {
		return nil
	}
	entry, err := s.queue.Enqueue(table, action, recordID, payload)
	if err != nil {
		return err
	}
	slog.Debug("queued mutation", "table", table, "action", action, "record", recordID, "entry", entry.ID)
	return nil
}

// Push drains ready queue entries. Entries for the same record are sent
// strictly in creation order; different records run concurrently up to the
// configured limit.
func (s *Queued) Push(ctx context.Context) (*PushResult, error) {
	batches, err := s.queue.PendingBatches(s.now())
	if err != nil {
		return nil, fmt.Errorf("load pending batches: %w", err)
	}
	if len(batches) == 0 {
		return &PushResult{}, nil
	}

	var (
		mu     sync.Mutex
		result PushResult
		wg     sync.WaitGroup
		sem    = make(chan struct{}, s.opts.Concurrency)
	)

	for _, batch := range batches {
		wg.Add(1)
		sem <- struct{}{}
		go func(batch []models.QueueEntry) {
			defer wg.Done()
			defer func() { <-sem }()
			r := s.pushBatch(ctx, batch)
			mu.Lock()
			result.Synced += r.Synced
			result.Failed += r.Failed
			result.Released += r.Released
			result.Skipped += r.Skipped
			mu.Unlock()
		}(batch)
	}
	wg.Wait()

	slog.Info("push complete", "synced", result.Synced, "failed", result.Failed,
		"released", result.Released, "skipped", result.Skipped)
	return &result, nil
}

// pushBatch processes one record's FIFO chain. A transient failure stops the
// chain for this drain (the head must land before anything behind it); a
// permanent failure or conflict marks its entry FAILED and moves on, so a
// DELETE queued behind a doomed UPDATE is still attempted.
func (s *Queued) pushBatch(ctx context.Context, batch []models.QueueEntry) PushResult {
	var r PushResult
	for i, e := range batch {
		claimed, err := s.queue.Claim(e.ID)
		if err != nil {
			slog.Warn("claim failed", "entry", e.ID, "err", err)
			return r
		}
		if !claimed {
			// another drain owns this entry; leave the rest of the chain to it
			r.Skipped += len(batch) - i
			return r
		}

		row, err := s.backend.MutateEntry(ctx, s.tenantID, e)
		if err != nil {
			if !s.handleFailure(e, err, &r) {
				return r
			}
			continue
		}

		// Reconcile before marking synced: a store failure here must leave
		// the entry retryable, and the server dedups the re-send by entry id.
		if err := s.reconcile(e, row); err != nil {
			slog.Warn("reconcile failed", "entry", e.ID, "err", err)
			s.release(e, fmt.Sprintf("local store: %v", err), &r)
			return r
		}
		if err := s.queue.MarkSynced(e.ID); err != nil {
			slog.Warn("mark synced failed", "entry", e.ID, "err", err)
			return r
		}
		r.Synced++
	}
	return r
}

// handleFailure applies the failure taxonomy to a claimed entry. It returns
// true when the batch may continue with the next entry.
func (s *Queued) handleFailure(e models.QueueEntry, err error, r *PushResult) bool {
	var rerr *remote.Error
	if !errors.As(err, &rerr) {
		// context cancellation, unexpected transport state: transient
		s.release(e, err.Error(), r)
		return false
	}

	switch {
	case rerr.Kind == remote.KindConflict:
		reason := fmt.Sprintf("conflict: %s", rerr.Message)
		if ferr := s.queue.MarkFailed(e.ID, reason); ferr != nil {
			slog.Warn("mark failed", "entry", e.ID, "err", ferr)
		}
		slog.Warn("push conflict", "table", e.Table, "record", e.RecordID, "entry", e.ID)
		r.Failed++
		return true

	case rerr.Transient():
		s.release(e, rerr.Error(), r)
		return false

	default: // validation, not_found
		if ferr := s.queue.MarkFailed(e.ID, rerr.Error()); ferr != nil {
			slog.Warn("mark failed", "entry", e.ID, "err", ferr)
		}
		slog.Warn("push rejected", "table", e.Table, "record", e.RecordID, "entry", e.ID, "err", rerr)
		r.Failed++
		return true
	}
}

// release returns an entry to PENDING with backoff, or to FAILED once the
// attempt ceiling is reached.
func (s *Queued) release(e models.QueueEntry, reason string, r *PushResult) {
	attempts := e.Attempts + 1
	if attempts >= s.opts.MaxAttempts {
		if err := s.queue.MarkFailed(e.ID, fmt.Sprintf("max attempts (%d): %s", s.opts.MaxAttempts, reason)); err != nil {
			slog.Warn("mark failed", "entry", e.ID, "err", err)
		}
		slog.Warn("entry exhausted retries", "entry", e.ID, "attempts", attempts)
		r.Failed++
		return
	}
	delay := backoffDelay(s.opts.BaseDelay, s.opts.MaxDelay, e.Attempts)
	if err := s.queue.Release(e.ID, reason, s.now().Add(delay)); err != nil {
		slog.Warn("release failed", "entry", e.ID, "err", err)
		return
	}
	slog.Debug("entry released for retry", "entry", e.ID, "attempt", attempts, "delay", delay)
	r.Released++
}

// reconcile merges the canonical server row back into the local store after
// a successful push. The entry just pushed is still SYNCING at this point, so
// the outstanding check excludes it. When the record has further queued
// mutations the merge is skipped: their push will bring the row up to date,
// and overwriting now would clobber the newer optimistic state.
func (s *Queued) reconcile(e models.QueueEntry, serverRow models.Row) error {
	if serverRow == nil {
		return nil
	}
	outstanding, err := s.queue.HasOutstandingExcept(e.Table, e.RecordID, e.ID)
	if err != nil {
		return err
	}
	if outstanding {
		return nil
	}
	return s.store.Put(e.Table, serverRow)
}

// Pull fetches deltas since the checkpoint and applies them remote-wins,
// skipping records with unresolved local mutations. Each page commits
// atomically and advances the checkpoint only after its commit, so a crash
// re-pulls an already-applied page, which the versioned upsert absorbs.
func (s *Queued) Pull(ctx context.Context) (*PullResult, error) {
	return pull(ctx, s.store, s.backend, s.tenantID, s.opts.PullLimit, s.queue)
}

// ForceResync clears the pull checkpoint so the next pull takes a full
// snapshot.
func (s *Queued) ForceResync() error {
	return s.store.ClearCheckpoint(s.tenantID)
}

// Sync pushes then pulls.
func (s *Queued) Sync(ctx context.Context) error {
	if _, err := s.Push(ctx); err != nil {
		return err
	}
	_, err := s.Pull(ctx)
	return err
}

var _ Synchronizer = (*Queued)(nil)

// Package syncer reconciles the local store with the remote backend. It
// drains the sync queue against the server (push) and applies authoritative
// remote deltas back (pull).
//
// Two strategies implement the same interface. Queued records every mutation
// in the durable sync queue and drains it with the full retry state machine;
// Direct sends each mutation immediately and keeps no queue. The rest of the
// system is written against the interface so deployments can select either.
package syncer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/marcus/possync/internal/models"
	"github.com/marcus/possync/internal/remote"
)

// Synchronizer is the contract repositories and the CLI drive.
type Synchronizer interface {
	// Record registers a local mutation for delivery to the server.
	// Queued persists it as a PENDING queue entry; Direct sends it at once.
	// Tables not eligible for sync (the client-owned cart) are ignored.
	Record(ctx context.Context, table string, action models.Action, recordID string, payload json.RawMessage) error

	// Push delivers outstanding local mutations to the server.
	Push(ctx context.Context) (*PushResult, error)

	// Pull fetches remote deltas since the last checkpoint and applies them
	// to the local store with remote-wins semantics, leaving records with
	// unresolved queue entries untouched.
	Pull(ctx context.Context) (*PullResult, error)

	// Sync runs Push then Pull.
	Sync(ctx context.Context) error
}

// Backend is the remote surface the synchronizer drives. *remote.Client
// satisfies it; tests substitute fakes.
type Backend interface {
	Mutate(ctx context.Context, tenantID, table, recordID string, action models.Action, payload json.RawMessage) (models.Row, error)
	MutateEntry(ctx context.Context, tenantID string, e models.QueueEntry) (models.Row, error)
	Fetch(ctx context.Context, tenantID, table, recordID string) (models.Row, error)
	Pull(ctx context.Context, tenantID, since string, limit int) (*remote.PullResponse, error)
}

// PushResult summarises one queue drain.
type PushResult struct {
	Synced   int // entries that reached SYNCED
	Failed   int // entries that reached FAILED this drain
	Released int // entries returned to PENDING for retry
	Skipped  int // entries another drain claimed first
}

// PullResult summarises one pull.
type PullResult struct {
	Applied      int // rows written to the local store
	SkippedDirty int // rows left untouched because of unresolved local edits
	Pages        int
	Checkpoint   string
}

// Options tune the queued synchronizer.
type Options struct {
	BaseDelay   time.Duration // backoff base, default 1s
	MaxDelay    time.Duration // backoff cap, default 60s
	MaxAttempts int           // transient retries before FAILED, default 5
	Concurrency int           // concurrent per-record batches, default 4
	PullLimit   int           // rows per pull page, default 500
}

func (o Options) withDefaults() Options {
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 60 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.PullLimit <= 0 {
		o.PullLimit = 500
	}
	return o
}

// backoffDelay computes the delay before attempt n+1: base × 2^attempts,
// capped.
func backoffDelay(base, cap time.Duration, attempts int) time.Duration {
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

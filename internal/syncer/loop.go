package syncer

import (
	"context"
	"log/slog"
	"time"
)

// RunLoop runs Sync on a fixed interval until ctx is done. Errors are logged
// and the loop keeps going; a sync failure never crashes the process.
//
// Cancelling ctx stops the scheduling only. Each sync runs on a context
// detached from the loop's, so an in-flight push continues to completion or
// failure on its own rather than being aborted half way through a record's
// FIFO chain.
func RunLoop(ctx context.Context, s Synchronizer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		if err := s.Sync(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("background sync failed", "err", err)
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

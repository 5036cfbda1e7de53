package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/marcus/possync/internal/output"
	"github.com/marcus/possync/internal/syncconfig"
	"github.com/marcus/possync/internal/syncer"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Push queued mutations and pull remote changes",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		pushOnly, _ := cmd.Flags().GetBool("push")
		pullOnly, _ := cmd.Flags().GetBool("pull")
		full, _ := cmd.Flags().GetBool("full")
		watch, _ := cmd.Flags().GetBool("watch")

		if !syncconfig.IsAuthenticated() {
			output.Error("not logged in (set POSSYNC_API_KEY or run: possync config set-key)")
			return fmt.Errorf("not authenticated")
		}

		app, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer app.Close()

		ctx := cmd.Context()

		if full {
			qs, err := app.queuedSync()
			if err == nil {
				if err := qs.ForceResync(); err != nil {
					output.Error("force resync: %v", err)
					return err
				}
			} else if err := app.Store.ClearCheckpoint(app.TenantID); err != nil {
				output.Error("force resync: %v", err)
				return err
			}
			output.Info("checkpoint cleared, next pull takes a full snapshot")
		}

		if watch {
			interval := syncconfig.GetSyncInterval()
			output.Info("background sync every %s (ctrl-c to stop)", interval)
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			syncer.RunLoop(ctx, app.Sync, interval)
			return nil
		}

		if !pullOnly {
			res, err := app.Sync.Push(ctx)
			if err != nil {
				output.Error("push: %v", err)
				return err
			}
			if jsonOut {
				output.JSON(res)
			} else {
				output.Success("push: %d synced, %d failed, %d retrying, %d skipped",
					res.Synced, res.Failed, res.Released, res.Skipped)
			}
		}

		if !pushOnly {
			res, err := app.Sync.Pull(ctx)
			if err != nil {
				output.Error("pull: %v", err)
				return err
			}
			if jsonOut {
				output.JSON(res)
			} else {
				output.Success("pull: %d rows applied, %d left for local edits",
					res.Applied, res.SkippedDirty)
			}
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show sync state: queue depth, checkpoint, connectivity",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer app.Close()

		stats, err := app.Queue.GetStats()
		if err != nil {
			output.Error("queue stats: %v", err)
			return err
		}
		cp, err := app.Store.GetCheckpoint(app.TenantID)
		if err != nil {
			output.Error("checkpoint: %v", err)
			return err
		}

		reachable := true
		if _, err := app.Client.Health(context.Background()); err != nil {
			reachable = false
		}

		if jsonOut {
			return output.JSON(map[string]any{
				"tenant":     app.TenantID,
				"queue":      stats,
				"checkpoint": cp,
				"online":     reachable,
			})
		}

		output.Info("tenant: %s", app.TenantID)
		if reachable {
			output.Success("server: reachable")
		} else {
			output.Warning("server: unreachable (mutations will queue)")
		}
		if cp == nil || cp.Since == "" {
			output.Info("checkpoint: none (next pull is a full snapshot)")
		} else {
			output.Info("checkpoint: %s", cp.Since)
			if cp.LastSyncAt != nil {
				output.Info("last sync: %s ago", output.RelativeTime(*cp.LastSyncAt))
			}
		}
		output.Info("queue: %d total", stats.Total)
		for status, n := range stats.ByStatus {
			output.Info("  %-8s %d", status, n)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("push", false, "push only")
	syncCmd.Flags().Bool("pull", false, "pull only")
	syncCmd.Flags().Bool("full", false, "clear the checkpoint and pull a full snapshot")
	syncCmd.Flags().Bool("watch", false, "keep syncing on the configured interval")
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}

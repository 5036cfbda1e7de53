package cmd

import (
	"fmt"
	"time"

	"github.com/marcus/possync/internal/models"
	"github.com/marcus/possync/internal/output"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	Short:   "Inspect and maintain the sync queue",
	GroupID: "maintenance",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue entries, optionally filtered by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFlag, _ := cmd.Flags().GetString("status")

		app, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer app.Close()

		entries, err := app.Queue.List(models.QueueStatus(statusFlag))
		if err != nil {
			output.Error("list queue: %v", err)
			return err
		}
		if jsonOut {
			return output.JSON(entries)
		}
		if len(entries) == 0 {
			output.Info("queue is empty")
			return nil
		}
		for _, e := range entries {
			output.Info("%s", output.QueueEntry(e))
		}
		return nil
	},
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue contents grouped by status and table",
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
		if jsonOut {
			return output.JSON(stats)
		}
		output.Info("total: %d", stats.Total)
		for status, n := range stats.ByStatus {
			output.Info("  %-8s %d", status, n)
		}
		for table, n := range stats.ByTable {
			output.Info("  %-20s %d", table, n)
		}
		return nil
	},
}

var queuePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete SYNCED entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirmed(cmd, "delete all SYNCED queue entries") {
			return nil
		}
		app, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer app.Close()

		n, err := app.Queue.PruneSynced()
		if err != nil {
			output.Error("prune: %v", err)
			return err
		}
		output.Success("pruned %d synced entries", n)
		return nil
	},
}

var queueResetStuckCmd = &cobra.Command{
	Use:   "reset-stuck",
	Short: "Return stale SYNCING entries to PENDING",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if !confirmed(cmd, fmt.Sprintf("reset SYNCING entries older than %s to PENDING", olderThan)) {
			return nil
		}
		app, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer app.Close()

		n, err := app.Queue.ResetStuck(time.Now().Add(-olderThan))
		if err != nil {
			output.Error("reset stuck: %v", err)
			return err
		}
		output.Success("reset %d stuck entries", n)
		return nil
	},
}

var queueResetFailedCmd = &cobra.Command{
	Use:   "reset-failed",
	Short: "Return FAILED entries to PENDING for a fresh push",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirmed(cmd, "reset all FAILED entries to PENDING") {
			return nil
		}
		app, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer app.Close()

		n, err := app.Queue.ResetFailed()
		if err != nil {
			output.Error("reset failed: %v", err)
			return err
		}
		output.Success("reset %d failed entries", n)
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every queue entry regardless of status",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirmed(cmd, "delete ALL queue entries, including unsynced local mutations") {
			return nil
		}
		app, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer app.Close()

		n, err := app.Queue.ClearAll()
		if err != nil {
			output.Error("clear: %v", err)
			return err
		}
		output.Success("removed %d entries", n)
		return nil
	},
}

// confirmed gates destructive maintenance behind an explicit --yes.
func confirmed(cmd *cobra.Command, what string) bool {
	yes, _ := cmd.Flags().GetBool("yes")
	if yes {
		return true
	}
	output.Warning("this will %s; re-run with --yes to confirm", what)
	return false
}

func init() {
	queueListCmd.Flags().String("status", "", "filter by status (PENDING, SYNCING, SYNCED, FAILED)")
	queueResetStuckCmd.Flags().Duration("older-than", 10*time.Minute, "age threshold for stuck entries")

	for _, c := range []*cobra.Command{queuePruneCmd, queueResetStuckCmd, queueResetFailedCmd, queueClearCmd} {
		c.Flags().Bool("yes", false, "confirm the operation")
	}

	queueCmd.AddCommand(queueListCmd, queueStatsCmd, queuePruneCmd,
		queueResetStuckCmd, queueResetFailedCmd, queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}

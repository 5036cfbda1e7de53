package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcus/possync/internal/output"
	"github.com/marcus/possync/internal/realtime"
	"github.com/marcus/possync/internal/syncconfig"
	"github.com/spf13/cobra"
)

var listenCmd = &cobra.Command{
	Use:     "listen",
	Short:   "Apply realtime change events to the local store",
	GroupID: "sync",
	Long: `Subscribe to the tenant's change channel and write every event into the
local store. If the channel stays down past the reconnect bound, falls back
to periodic pull until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer app.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// reconnect exhaustion flips this and the pull loop takes over
		channelDown := make(chan error, 1)
		registry := realtime.NewRegistry(syncconfig.GetRealtimeURL(), syncconfig.GetAPIKey(), realtime.Options{
			OnError: func(tenantID string, err error) {
				select {
				case channelDown <- err:
				default:
				}
			},
		})
		defer registry.Close()

		applier := realtime.NewApplier(app.Store, app.Queue)
		unsubscribe, err := registry.Subscribe(app.TenantID, applier.Apply)
		if err != nil {
			output.Error("subscribe: %v", err)
			return err
		}
		defer unsubscribe()

		output.Info("listening for changes (tenant %s, ctrl-c to stop)", app.TenantID)

		select {
		case <-ctx.Done():
			return nil
		case err := <-channelDown:
			output.Warning("realtime channel down, falling back to periodic pull: %v", err)
		}

		ticker := time.NewTicker(syncconfig.GetSyncInterval())
		defer ticker.Stop()
		for {
			if _, err := app.Sync.Pull(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("fallback pull failed", "err", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(listenCmd)
}

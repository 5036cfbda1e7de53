package cmd

import (
	"fmt"

	"github.com/marcus/possync/internal/queue"
	"github.com/marcus/possync/internal/remote"
	"github.com/marcus/possync/internal/store"
	"github.com/marcus/possync/internal/syncconfig"
	"github.com/marcus/possync/internal/syncer"
)

// appContext bundles the wired data layer for a command invocation.
type appContext struct {
	Store    *store.Store
	Queue    *queue.Queue
	Client   *remote.Client
	Sync     syncer.Synchronizer
	TenantID string
}

// openApp opens the local store and wires the configured synchronizer
// strategy. The caller closes the store.
func openApp() (*appContext, error) {
	tenantID := syncconfig.GetTenantID()
	if tenantID == "" {
		return nil, fmt.Errorf("no tenant configured (run: possync config set-tenant <id>)")
	}

	st, err := store.Open(getBaseDir())
	if err != nil {
		return nil, err
	}

	deviceID, err := syncconfig.GetDeviceID()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("get device id: %w", err)
	}
	client := remote.New(syncconfig.GetServerURL(), syncconfig.GetAPIKey(), deviceID)

	app := &appContext{
		Store:    st,
		Queue:    queue.New(st.Conn()),
		Client:   client,
		TenantID: tenantID,
	}

	opts := syncer.Options{MaxAttempts: syncconfig.GetMaxAttempts()}
	switch syncconfig.GetStrategy() {
	case "direct":
		app.Sync = syncer.NewDirect(st, client, tenantID, opts)
	default:
		app.Sync = syncer.NewQueued(st, app.Queue, client, tenantID, opts)
	}
	return app, nil
}

// queuedSync returns the queued synchronizer, failing for commands that only
// make sense with a queue (conflicts, queue maintenance drains).
func (a *appContext) queuedSync() (*syncer.Queued, error) {
	q, ok := a.Sync.(*syncer.Queued)
	if !ok {
		return nil, fmt.Errorf("not available with the direct sync strategy")
	}
	return q, nil
}

func (a *appContext) Close() {
	a.Store.Close()
}

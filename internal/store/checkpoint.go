package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Checkpoint holds the pull state for one tenant.
type Checkpoint struct {
	TenantID   string
	Since      string // opaque server cursor; empty means full snapshot next pull
	LastSyncAt *time.Time
}

// GetCheckpoint returns the pull checkpoint for a tenant, or nil when the
// tenant has never pulled.
func (s *Store) GetCheckpoint(tenantID string) (*Checkpoint, error) {
	var cp Checkpoint
	var lastSync sql.NullString
	err := s.conn.QueryRow(`
		SELECT tenant_id, checkpoint, last_sync_at FROM sync_state WHERE tenant_id = ?`,
		tenantID).Scan(&cp.TenantID, &cp.Since, &lastSync)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %s: %w", tenantID, err)
	}
	if lastSync.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastSync.String); err == nil {
			cp.LastSyncAt = &t
		}
	}
	return &cp, nil
}

// SetCheckpoint records the cursor of the last successful pull. Called only
// after the pulled batch has committed, so a crash between apply and
// checkpoint re-pulls an already-applied (idempotent) batch rather than
// skipping one.
func (s *Store) SetCheckpoint(tenantID, since string) error {
	_, err := s.conn.Exec(`
		INSERT INTO sync_state (tenant_id, checkpoint, last_sync_at)
		VALUES (?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			checkpoint = excluded.checkpoint,
			last_sync_at = excluded.last_sync_at`,
		tenantID, since, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set checkpoint %s: %w", tenantID, err)
	}
	return nil
}

// ClearCheckpoint forgets the pull cursor, forcing a full snapshot on the
// next pull.
func (s *Store) ClearCheckpoint(tenantID string) error {
	_, err := s.conn.Exec(`DELETE FROM sync_state WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return fmt.Errorf("clear checkpoint %s: %w", tenantID, err)
	}
	return nil
}

// Package repo provides the per-entity query façades the UI layer consumes.
// A repository reads and writes the local store only — never the network —
// and hands every mutation to the synchronizer, which delivers it to the
// server now (direct) or later (queued).
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/possync/internal/models"
	"github.com/marcus/possync/internal/store"
	"github.com/marcus/possync/internal/syncer"
)

// Repo is a thin façade over one mirrored table, scoped to a tenant.
type Repo struct {
	store    *store.Store
	sync     syncer.Synchronizer
	table    string
	tenantID string
	now      func() time.Time
}

// New binds a repository to a table for the active tenant.
func New(st *store.Store, sync syncer.Synchronizer, table, tenantID string) *Repo {
	return &Repo{store: st, sync: sync, table: table, tenantID: tenantID, now: time.Now}
}

// FindAll returns the tenant's live rows, optionally narrowed by exact-match
// field filters.
func (r *Repo) FindAll(filter map[string]any) ([]models.Row, error) {
	rows, err := r.store.Query(r.table, models.FieldTenantID, r.tenantID)
	if err != nil {
		return nil, err
	}
	if len(filter) == 0 {
		return rows, nil
	}
	var out []models.Row
	for _, row := range rows {
		if matches(row, filter) {
			out = append(out, row)
		}
	}
	return out, nil
}

// FindByID returns the live row for id, or nil. Rows of other tenants are
// invisible.
func (r *Repo) FindByID(id string) (models.Row, error) {
	row, err := r.store.Get(r.table, id)
	if err != nil {
		return nil, err
	}
	if row == nil || row.TenantID() != r.tenantID {
		return nil, nil
	}
	return row, nil
}

// Create writes a new row optimistically and registers a CREATE mutation.
// A missing id is assigned; tenantId and updatedAt are stamped here.
func (r *Repo) Create(ctx context.Context, data map[string]any) (models.Row, error) {
	row := models.Row(data).Clone()
	if row.ID() == "" {
		row[models.FieldID] = uuid.New().String()
	}
	row[models.FieldTenantID] = r.tenantID
	row[models.FieldUpdatedAt] = models.Timestamp(r.now())
	delete(row, models.FieldDeletedAt)

	if err := r.store.Put(r.table, row); err != nil {
		return nil, err
	}
	if err := r.record(ctx, models.ActionCreate, row.ID(), row); err != nil {
		return nil, err
	}
	return row, nil
}

// Update overlays data onto the stored row, writes it optimistically, and
// registers an UPDATE mutation.
func (r *Repo) Update(ctx context.Context, id string, data map[string]any) (models.Row, error) {
	row, err := r.FindByID(id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%s/%s: not found", r.table, id)
	}
	for k, v := range data {
		if k == models.FieldID || k == models.FieldTenantID {
			continue
		}
		row[k] = v
	}
	row[models.FieldUpdatedAt] = models.Timestamp(r.now())

	if err := r.store.Put(r.table, row); err != nil {
		return nil, err
	}
	if err := r.record(ctx, models.ActionUpdate, id, row); err != nil {
		return nil, err
	}
	return row, nil
}

// Delete soft-deletes the row and registers a DELETE mutation. The row stays
// in the store, invisible to reads, until a pull confirms removal.
func (r *Repo) Delete(ctx context.Context, id string) error {
	row, err := r.FindByID(id)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("%s/%s: not found", r.table, id)
	}
	ts := models.Timestamp(r.now())
	row[models.FieldDeletedAt] = ts
	row[models.FieldUpdatedAt] = ts

	if err := r.store.Put(r.table, row); err != nil {
		return err
	}
	return r.record(ctx, models.ActionDelete, id, row)
}

func (r *Repo) record(ctx context.Context, action models.Action, id string, row models.Row) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode payload %s/%s: %w", r.table, id, err)
	}
	return r.sync.Record(ctx, r.table, action, id, payload)
}

func matches(row models.Row, filter map[string]any) bool {
	for k, want := range filter {
		if row[k] != want {
			return false
		}
	}
	return true
}

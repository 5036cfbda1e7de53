package repo

import (
	"time"

	"github.com/google/uuid"
	"github.com/marcus/possync/internal/models"
	"github.com/marcus/possync/internal/store"
)

// CartRepo owns the cart table. The cart is purely local ephemeral state:
// it is rewritten wholesale, never soft-deleted, and never enqueued for
// sync.
type CartRepo struct {
	store    *store.Store
	tenantID string
}

// NewCart binds the cart repository for the active tenant.
func NewCart(st *store.Store, tenantID string) *CartRepo {
	return &CartRepo{store: st, tenantID: tenantID}
}

// Items returns the current cart contents.
func (c *CartRepo) Items() ([]models.Row, error) {
	return c.store.Query(models.TableCart, models.FieldTenantID, c.tenantID)
}

// Replace rewrites the cart with the given items in one atomic write.
func (c *CartRepo) Replace(items []models.Row) error {
	ts := models.Timestamp(time.Now())
	rows := make([]models.Row, 0, len(items))
	for _, item := range items {
		row := item.Clone()
		if row.ID() == "" {
			row[models.FieldID] = uuid.New().String()
		}
		row[models.FieldTenantID] = c.tenantID
		row[models.FieldUpdatedAt] = ts
		rows = append(rows, row)
	}
	return c.store.Replace(models.TableCart, rows)
}

// Clear empties the cart.
func (c *CartRepo) Clear() error {
	return c.store.Clear(models.TableCart)
}

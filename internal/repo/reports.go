package repo

import (
	"context"
	"fmt"

	"github.com/marcus/possync/internal/cache"
	"github.com/marcus/possync/internal/models"
)

// ReportLoader computes or fetches one report by key.
type ReportLoader func(ctx context.Context, key string) (any, error)

// CachedReports is a read-through wrapper for computed reports: results live
// in the ephemeral cache until they expire or an order mutation for the
// tenant invalidates them. Reports are derived data and are never treated as
// durable.
type CachedReports struct {
	cache    *cache.Cache
	loader   ReportLoader
	tenantID string
}

// NewCachedReports builds the wrapper.
func NewCachedReports(c *cache.Cache, loader ReportLoader, tenantID string) *CachedReports {
	return &CachedReports{cache: c, loader: loader, tenantID: tenantID}
}

// Get returns the cached report for key, loading and caching it on a miss.
func (r *CachedReports) Get(ctx context.Context, key string) (any, error) {
	ck := r.cacheKey(key)
	if v, ok := r.cache.Get(ck); ok {
		return v, nil
	}
	v, err := r.loader(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load report %s: %w", key, err)
	}
	r.cache.Set(ck, v)
	return v, nil
}

// Invalidate drops every cached report for the tenant.
func (r *CachedReports) Invalidate() {
	r.cache.DeletePattern(r.cacheKey("*"))
}

// OnChange is registered as a realtime callback: any order activity makes
// the tenant's cached reports stale.
func (r *CachedReports) OnChange(ev models.ChangeEvent) {
	switch ev.Table {
	case models.TableOrders, models.TableOrderItems:
		r.Invalidate()
	}
}

func (r *CachedReports) cacheKey(key string) string {
	return "reports:" + r.tenantID + ":" + key
}

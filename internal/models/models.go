// Package models defines the shared types of the offline data layer: entity
// rows, sync queue entries, and the normalized change events delivered by the
// realtime listener.
package models

import (
	"encoding/json"
	"time"
)

// Well-known row field names. Every mirrored table carries these; all other
// fields are entity-specific and flow through untouched.
const (
	FieldID        = "id"
	FieldTenantID  = "tenantId"
	FieldUpdatedAt = "updatedAt"
	FieldDeletedAt = "deletedAt"
)

// Canonical table names mirrored from the server.
const (
	TableOrders        = "orders"
	TableOrderItems    = "order_items"
	TableCart          = "cart"
	TableIngredients   = "ingredients"
	TableRecipes       = "recipes"
	TableTenants       = "tenants"
	TableCachedReports = "cached_reports"
)

// SyncedTables lists the tables whose mutations are pushed to the server.
// The cart is fully client-owned and never synced.
var SyncedTables = map[string]bool{
	TableOrders:      true,
	TableOrderItems:  true,
	TableIngredients: true,
	TableRecipes:     true,
	TableTenants:     true,
}

// Row is a generic entity row: named fields to values, always including id,
// tenantId and updatedAt, with an optional deletedAt soft-delete marker.
type Row map[string]any

// ID returns the row's stable identifier.
func (r Row) ID() string {
	s, _ := r[FieldID].(string)
	return s
}

// TenantID returns the row's tenant scoping key.
func (r Row) TenantID() string {
	s, _ := r[FieldTenantID].(string)
	return s
}

// UpdatedAt returns the row's version timestamp, or the zero time when the
// field is absent or malformed.
func (r Row) UpdatedAt() time.Time {
	s, _ := r[FieldUpdatedAt].(string)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Deleted reports whether the row carries a soft-delete marker.
func (r Row) Deleted() bool {
	v, ok := r[FieldDeletedAt]
	return ok && v != nil && v != ""
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Action is a canonical mutation type recorded in the sync queue.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Valid reports whether the action is one of the canonical three.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// QueueStatus is the lifecycle state of a sync queue entry.
type QueueStatus string

const (
	StatusPending QueueStatus = "PENDING"
	StatusSyncing QueueStatus = "SYNCING"
	StatusSynced  QueueStatus = "SYNCED"
	StatusFailed  QueueStatus = "FAILED"
)

// QueueEntry is one pending local mutation, persisted in the local store.
// Seq preserves creation order; entries for the same record are pushed in
// Seq order to keep per-record causality.
type QueueEntry struct {
	Seq           int64
	ID            string // uuid, stable across retries
	Table         string
	Action        Action
	RecordID      string
	Payload       json.RawMessage
	Status        QueueStatus
	Attempts      int
	Error         string
	CreatedAt     time.Time
	LastAttemptAt *time.Time
	NextRetryAt   *time.Time
}

// EventType classifies a normalized realtime change event.
type EventType string

const (
	EventCreated EventType = "CREATED"
	EventUpdated EventType = "UPDATED"
	EventDeleted EventType = "DELETED"
)

// ChangeEvent is the single normalized shape every realtime producer payload
// is decoded into before it reaches a consumer.
type ChangeEvent struct {
	Type     EventType
	Table    string
	RecordID string
	Row      Row // nil for DELETED events that carry no body
}

// Change is one authoritative row delivered by the pull endpoint, tagged
// with the table it belongs to.
type Change struct {
	Table string `json:"table"`
	Row   Row    `json:"row"`
}

// Timestamp formats t in the wire format used for updatedAt/deletedAt fields.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

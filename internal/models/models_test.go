package models

import (
	"testing"
	"time"
)

func TestRowHelpers(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	row := Row{
		"id":        "o1",
		"tenantId":  "t1",
		"updatedAt": Timestamp(ts),
	}

	if row.ID() != "o1" || row.TenantID() != "t1" {
		t.Errorf("identity: %s/%s", row.ID(), row.TenantID())
	}
	if !row.UpdatedAt().Equal(ts) {
		t.Errorf("updatedAt: %v", row.UpdatedAt())
	}
	if row.Deleted() {
		t.Error("live row reports deleted")
	}

	row["deletedAt"] = Timestamp(ts)
	if !row.Deleted() {
		t.Error("tombstone not detected")
	}

	// nil and empty markers mean not deleted
	row["deletedAt"] = nil
	if row.Deleted() {
		t.Error("nil deletedAt treated as deleted")
	}
	row["deletedAt"] = ""
	if row.Deleted() {
		t.Error("empty deletedAt treated as deleted")
	}
}

func TestRowUpdatedAtMalformed(t *testing.T) {
	for _, row := range []Row{
		{},
		{"updatedAt": "not a time"},
		{"updatedAt": 42},
	} {
		if !row.UpdatedAt().IsZero() {
			t.Errorf("row %v: want zero time", row)
		}
	}
}

func TestRowClone(t *testing.T) {
	row := Row{"id": "o1", "total": 5.0}
	cp := row.Clone()
	cp["total"] = 9.0
	if row["total"] != 5.0 {
		t.Error("clone shares storage with original")
	}
}

func TestActionValid(t *testing.T) {
	for _, a := range []Action{ActionCreate, ActionUpdate, ActionDelete} {
		if !a.Valid() {
			t.Errorf("%s should be valid", a)
		}
	}
	for _, a := range []Action{"", "MERGE", "create"} {
		if a.Valid() {
			t.Errorf("%q should be invalid", a)
		}
	}
}

func TestSyncedTablesExcludeCart(t *testing.T) {
	if SyncedTables[TableCart] {
		t.Error("cart must never be synced")
	}
	if !SyncedTables[TableOrders] || !SyncedTables[TableOrderItems] {
		t.Error("order tables must be synced")
	}
}

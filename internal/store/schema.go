package store

// SchemaVersion is the current local store schema version
const SchemaVersion = 2

const schema = `
-- Generic entity rows mirrored from the server, one logical table per
-- table_name. Arbitrary entity fields live in the JSON data column; the
-- columns carry the fields every query path filters on.
CREATE TABLE IF NOT EXISTS records (
    table_name TEXT NOT NULL,
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL DEFAULT '',
    deleted_at TEXT,
    data JSON NOT NULL,
    PRIMARY KEY (table_name, id)
);
CREATE INDEX IF NOT EXISTS idx_records_tenant ON records(table_name, tenant_id);

-- Pending local mutations. seq preserves creation order; per-record FIFO
-- during push is derived from it.
CREATE TABLE IF NOT EXISTS sync_queue (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    table_name TEXT NOT NULL,
    action TEXT NOT NULL,
    record_id TEXT NOT NULL,
    payload JSON NOT NULL,
    status TEXT NOT NULL DEFAULT 'PENDING',
    attempts INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    last_attempt_at TEXT,
    next_retry_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_queue_status ON sync_queue(status);
CREATE INDEX IF NOT EXISTS idx_queue_record ON sync_queue(table_name, record_id);

-- Per-tenant pull checkpoint.
CREATE TABLE IF NOT EXISTS sync_state (
    tenant_id TEXT PRIMARY KEY,
    checkpoint TEXT NOT NULL DEFAULT '',
    last_sync_at TEXT
);

-- Schema version bookkeeping.
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

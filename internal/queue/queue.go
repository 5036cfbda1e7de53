// Package queue manages the ordered log of pending local mutations. The
// queue is local store data: every state transition is a single SQLite write,
// and the PENDING→SYNCING transition is the atomic step that claims an entry,
// so two concurrent drains can never double-process one.
package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/possync/internal/models"
)

// Queue persists sync queue entries in the local store's database.
type Queue struct {
	conn *sql.DB
}

// New binds a queue to the local store connection.
func New(conn *sql.DB) *Queue {
	return &Queue{conn: conn}
}

// Enqueue records a local mutation as a new PENDING entry and returns it.
func (q *Queue) Enqueue(table string, action models.Action, recordID string, payload json.RawMessage) (*models.QueueEntry, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("enqueue: invalid action %q", action)
	}
	if recordID == "" {
		return nil, fmt.Errorf("enqueue: empty record id")
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	entry := &models.QueueEntry{
		ID:        uuid.New().String(),
		Table:     table,
		Action:    action,
		RecordID:  recordID,
		Payload:   payload,
		Status:    models.StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	res, err := q.conn.Exec(`
		INSERT INTO sync_queue (id, table_name, action, record_id, payload, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Table, string(entry.Action), entry.RecordID, []byte(entry.Payload),
		string(entry.Status), entry.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("enqueue %s/%s: %w", table, recordID, err)
	}
	entry.Seq, _ = res.LastInsertId()
	return entry, nil
}

// Claim transitions an entry PENDING→SYNCING. Returns false when the entry
// was not in PENDING (already claimed by a concurrent drain, or resolved).
func (q *Queue) Claim(id string) (bool, error) {
	res, err := q.conn.Exec(`
		UPDATE sync_queue
		SET status = ?, last_attempt_at = ?
		WHERE id = ? AND status = ?`,
		string(models.StatusSyncing), now(), id, string(models.StatusPending))
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim %s: rows affected: %w", id, err)
	}
	return n == 1, nil
}

// MarkSynced transitions a SYNCING entry to its terminal SYNCED state.
// Synced entries are retained for inspection until pruned.
func (q *Queue) MarkSynced(id string) error {
	return q.transition(id, models.StatusSyncing, models.StatusSynced, "")
}

// MarkFailed transitions a SYNCING entry to FAILED with a diagnostic.
// Used for permanent failures, conflicts, and the max-attempts ceiling.
func (q *Queue) MarkFailed(id, reason string) error {
	return q.transition(id, models.StatusSyncing, models.StatusFailed, reason)
}

// Release returns a SYNCING entry to PENDING after a transient failure,
// recording the error and scheduling the next attempt at nextRetry.
func (q *Queue) Release(id, reason string, nextRetry time.Time) error {
	res, err := q.conn.Exec(`
		UPDATE sync_queue
		SET status = ?, error = ?, attempts = attempts + 1, next_retry_at = ?
		WHERE id = ? AND status = ?`,
		string(models.StatusPending), reason, nextRetry.UTC().Format(time.RFC3339Nano),
		id, string(models.StatusSyncing))
	if err != nil {
		return fmt.Errorf("release %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("release %s: entry not in SYNCING", id)
	}
	return nil
}

// MarkResolved closes out a FAILED entry after an operator decision,
// recording the resolution as the entry's final diagnostic.
func (q *Queue) MarkResolved(id, note string) error {
	return q.transition(id, models.StatusFailed, models.StatusSynced, note)
}

func (q *Queue) transition(id string, from, to models.QueueStatus, reason string) error {
	res, err := q.conn.Exec(`
		UPDATE sync_queue SET status = ?, error = ? WHERE id = ? AND status = ?`,
		string(to), reason, id, string(from))
	if err != nil {
		return fmt.Errorf("transition %s %s→%s: %w", id, from, to, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("transition %s: entry not in %s", id, from)
	}
	return nil
}

// Get returns a single entry by id, or nil when absent.
func (q *Queue) Get(id string) (*models.QueueEntry, error) {
	entries, err := q.scan(`SELECT `+columns+` FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// List returns entries filtered by status ("" for all), oldest first.
func (q *Queue) List(status models.QueueStatus) ([]models.QueueEntry, error) {
	if status == "" {
		return q.scan(`SELECT ` + columns + ` FROM sync_queue ORDER BY seq ASC`)
	}
	return q.scan(`SELECT `+columns+` FROM sync_queue WHERE status = ? ORDER BY seq ASC`, string(status))
}

// PendingBatches groups ready PENDING entries into per-record FIFO chains.
// A record contributes no batch at all while its oldest unresolved entry is
// SYNCING (claimed by another drain, or stuck after a crash) or still backing
// off: pushing a later entry ahead of its head would break per-record order.
// Batches of different records may be pushed concurrently.
func (q *Queue) PendingBatches(asOf time.Time) ([][]models.QueueEntry, error) {
	entries, err := q.scan(`
		SELECT `+columns+` FROM sync_queue
		WHERE status IN (?, ?) ORDER BY seq ASC`,
		string(models.StatusPending), string(models.StatusSyncing))
	if err != nil {
		return nil, err
	}

	cutoff := asOf.UTC()
	byRecord := make(map[string][]models.QueueEntry)
	var order []string
	for _, e := range entries {
		key := e.Table + "\x00" + e.RecordID
		if _, seen := byRecord[key]; !seen {
			order = append(order, key)
		}
		byRecord[key] = append(byRecord[key], e)
	}

	var batches [][]models.QueueEntry
	for _, key := range order {
		chain := byRecord[key]
		head := chain[0]
		if head.Status != models.StatusPending {
			continue
		}
		if head.NextRetryAt != nil && head.NextRetryAt.After(cutoff) {
			continue
		}
		batch := chain
		for i, e := range chain {
			if e.Status != models.StatusPending {
				batch = chain[:i]
				break
			}
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// HasOutstanding reports whether a record has an unresolved (PENDING or
// SYNCING) entry. Pull skips such records to avoid clobbering in-flight
// local edits.
func (q *Queue) HasOutstanding(table, recordID string) (bool, error) {
	var n int
	err := q.conn.QueryRow(`
		SELECT COUNT(*) FROM sync_queue
		WHERE table_name = ? AND record_id = ? AND status IN (?, ?)`,
		table, recordID, string(models.StatusPending), string(models.StatusSyncing)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("outstanding %s/%s: %w", table, recordID, err)
	}
	return n > 0, nil
}

// HasOutstandingExcept is HasOutstanding ignoring one entry, so a drain can
// ask about a record's remaining entries while it still holds a claimed one.
func (q *Queue) HasOutstandingExcept(table, recordID, exceptID string) (bool, error) {
	var n int
	err := q.conn.QueryRow(`
		SELECT COUNT(*) FROM sync_queue
		WHERE table_name = ? AND record_id = ? AND id != ? AND status IN (?, ?)`,
		table, recordID, exceptID, string(models.StatusPending), string(models.StatusSyncing)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("outstanding %s/%s: %w", table, recordID, err)
	}
	return n > 0, nil
}

// OutstandingRecords returns the set of table/record pairs with unresolved
// entries, for batch filtering during pull.
func (q *Queue) OutstandingRecords() (map[string]bool, error) {
	rows, err := q.conn.Query(`
		SELECT DISTINCT table_name, record_id FROM sync_queue WHERE status IN (?, ?)`,
		string(models.StatusPending), string(models.StatusSyncing))
	if err != nil {
		return nil, fmt.Errorf("outstanding records: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var table, recordID string
		if err := rows.Scan(&table, &recordID); err != nil {
			return nil, fmt.Errorf("scan outstanding record: %w", err)
		}
		out[table+"\x00"+recordID] = true
	}
	return out, rows.Err()
}

// OutstandingKey builds the lookup key used by OutstandingRecords.
func OutstandingKey(table, recordID string) string {
	return table + "\x00" + recordID
}

const columns = `seq, id, table_name, action, record_id, payload, status, attempts, error, created_at, last_attempt_at, next_retry_at`

func (q *Queue) scan(query string, args ...any) ([]models.QueueEntry, error) {
	rows, err := q.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	var out []models.QueueEntry
	for rows.Next() {
		var (
			e			models.QueueEntry
			action, status, created	string
			payload			[]byte
			lastAttempt, nextRetry	sql.NullString
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.Table, &action, &e.RecordID, &payload,
			&status, &e.Attempts, &e.Error, &created, &lastAttempt, &nextRetry); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		e.Action = models.Action(action)
		e.Status = models.QueueStatus(status)
		e.Payload = json.RawMessage(payload)
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = t
		}
		if lastAttempt.Valid {
			if t, err := time.Parse(time.RFC3339Nano, lastAttempt.String); err == nil {
				e.LastAttemptAt = &t
			}
		}
		if nextRetry.Valid {
			if t, err := time.Parse(time.RFC3339Nano, nextRetry.String); err == nil {
				e.NextRetryAt = &t
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

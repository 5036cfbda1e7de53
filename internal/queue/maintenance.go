package queue

import (
	"fmt"
	"time"

	"github.com/marcus/possync/internal/models"
)

// Stats is a per-status, per-table breakdown of queue contents.
type Stats struct {
	Total    int
	ByStatus map[models.QueueStatus]int
	ByTable  map[string]int
}

// GetStats returns queue contents grouped by status and table.
func (q *Queue) GetStats() (*Stats, error) {
	rows, err := q.conn.Query(`SELECT status, table_name, COUNT(*) FROM sync_queue GROUP BY status, table_name`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{
		ByStatus: make(map[models.QueueStatus]int),
		ByTable:  make(map[string]int),
	}
	for rows.Next() {
		var status, table string
		var n int
		if err := rows.Scan(&status, &table, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.Total += n
		stats.ByStatus[models.QueueStatus(status)] += n
		stats.ByTable[table] += n
	}
	return stats, rows.Err()
}

// PruneSynced deletes SYNCED entries, returning the number removed. This is
// the only way synced entries leave the queue.
func (q *Queue) PruneSynced() (int64, error) {
	res, err := q.conn.Exec(`DELETE FROM sync_queue WHERE status = ?`, string(models.StatusSynced))
	if err != nil {
		return 0, fmt.Errorf("prune synced: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ResetStuck returns SYNCING entries whose last attempt started before the
// cutoff to PENDING. Covers drains that died mid-flight.
func (q *Queue) ResetStuck(olderThan time.Time) (int64, error) {
	res, err := q.conn.Exec(`
		UPDATE sync_queue
		SET status = ?, next_retry_at = NULL
		WHERE status = ? AND (last_attempt_at IS NULL OR last_attempt_at < ?)`,
		string(models.StatusPending), string(models.StatusSyncing),
		olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("reset stuck: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ResetFailed returns FAILED entries to PENDING with attempt counters
// cleared, making them eligible for a fresh push. Operator-triggered.
func (q *Queue) ResetFailed() (int64, error) {
	res, err := q.conn.Exec(`
		UPDATE sync_queue
		SET status = ?, attempts = 0, error = '', next_retry_at = NULL
		WHERE status = ?`,
		string(models.StatusPending), string(models.StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("reset failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ClearAll removes every entry regardless of status.
func (q *Queue) ClearAll() (int64, error) {
	res, err := q.conn.Exec(`DELETE FROM sync_queue`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

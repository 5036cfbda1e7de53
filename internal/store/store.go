// Package store implements the persistent local store: a schema-versioned
// SQLite database holding one generic row table for every mirrored entity
// table, plus the sync queue and pull checkpoints.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marcus/possync/internal/models"
	_ "modernc.org/sqlite"
)

const dbFile = ".possync/local.db"

// Store wraps the local SQLite database.
type Store struct {
	conn    *sql.DB
	baseDir string
}

// Open opens an existing local store and runs any pending migrations.
func Open(baseDir string) (*Store, error) {
	dbPath := filepath.Join(baseDir, dbFile)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("local store not found: run 'possync init' first")
	}
	return open(dbPath, baseDir)
}

// Initialize creates the local store, its schema, and runs migrations.
func Initialize(baseDir string) (*Store, error) {
	dbPath := filepath.Join(baseDir, dbFile)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return open(dbPath, baseDir)
}

func open(dbPath, baseDir string) (*Store, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	// WAL keeps reads concurrent while writes are serialized
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")

	s := &Store{conn: conn, baseDir: baseDir}
	if err := s.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// OpenMemory opens an in-memory store, used by tests and by callers that need
// a scratch mirror (e.g. report previews).
func OpenMemory() (*Store, error) {
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	s := &Store{conn: conn}
	if err := s.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// BaseDir returns the directory the store was opened in.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Conn exposes the raw connection for the queue and checkpoint layers, which
// share this database so their writes inherit the same atomicity.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// Get returns the live row for id, or nil when the row is absent or
// soft-deleted.
func (s *Store) Get(table, id string) (models.Row, error) {
	return s.get(table, id, false)
}

// GetAny returns the row for id including soft-deleted rows. Reconciliation
// paths use it; normal reads go through Get.
func (s *Store) GetAny(table, id string) (models.Row, error) {
	return s.get(table, id, true)
}

func (s *Store) get(table, id string, includeDeleted bool) (models.Row, error) {
	q := `SELECT data FROM records WHERE table_name = ? AND id = ?`
	if !includeDeleted {
		q += ` AND deleted_at IS NULL`
	}
	var data []byte
	err := s.conn.QueryRow(q, table, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", table, id, err)
	}
	return decodeRow(data)
}

// Put upserts a row by id. The caller is the source of truth: no version
// comparison is done. Use ApplyRemote for pull/realtime writes.
func (s *Store) Put(table string, row models.Row) error {
	if row.ID() == "" {
		return fmt.Errorf("put %s: row has no id", table)
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row %s/%s: %w", table, row.ID(), err)
	}
	_, err = s.conn.Exec(`
		INSERT INTO records (table_name, id, tenant_id, updated_at, deleted_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(table_name, id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at,
			data = excluded.data`,
		table, row.ID(), row.TenantID(), rowUpdatedAt(row), rowDeletedAt(row), data)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", table, row.ID(), err)
	}
	return nil
}

// BulkPut writes all rows in a single transaction. A failure rolls back the
// whole batch; the table is never left half-updated.
func (s *Store) BulkPut(table string, rows []models.Row) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("bulk put %s: begin: %w", table, err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		if err := putTx(tx, table, row, false); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("bulk put %s: commit: %w", table, err)
	}
	return nil
}

// ApplyRemote upserts authoritative rows from pull or realtime delivery.
// The write is last-write-wins on updatedAt: a row older than what is stored
// is a no-op, which makes re-applying the same server response idempotent and
// lets pull and realtime race without divergence.
func (s *Store) ApplyRemote(table string, rows []models.Row) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("apply remote %s: begin: %w", table, err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		if err := putTx(tx, table, row, true); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply remote %s: commit: %w", table, err)
	}
	return nil
}

// ApplyChanges applies one pull page — rows spanning several tables — in a
// single transaction with the same last-write-wins rule as ApplyRemote.
func (s *Store) ApplyChanges(changes []models.Change) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("apply changes: begin: %w", err)
	}
	defer tx.Rollback()

	for _, ch := range changes {
		if err := putTx(tx, ch.Table, ch.Row, true); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply changes: commit: %w", err)
	}
	return nil
}

func putTx(tx *sql.Tx, table string, row models.Row, versioned bool) error {
	if row.ID() == "" {
		return fmt.Errorf("put %s: row has no id", table)
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row %s/%s: %w", table, row.ID(), err)
	}
	q := `
		INSERT INTO records (table_name, id, tenant_id, updated_at, deleted_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(table_name, id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at,
			data = excluded.data`
	if versioned {
		// updated_at is stored fixed-width, so string comparison orders it
		q += ` WHERE excluded.updated_at >= records.updated_at`
	}
	if _, err := tx.Exec(q, table, row.ID(), row.TenantID(), rowUpdatedAt(row), rowDeletedAt(row), data); err != nil {
		return fmt.Errorf("put %s/%s: %w", table, row.ID(), err)
	}
	return nil
}

// Delete removes a row physically. Repositories soft-delete via Put; this
// primitive serves pull-confirmed removals and client-owned tables.
func (s *Store) Delete(table, id string) error {
	_, err := s.conn.Exec(`DELETE FROM records WHERE table_name = ? AND id = ?`, table, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}
	return nil
}

// Query returns live rows where the given field equals value. tenant_id is
// served from an indexed column; any other field is matched against the JSON
// document.
func (s *Store) Query(table, field string, value any) ([]models.Row, error) {
	var rows *sql.Rows
	var err error

	switch field {
	case models.FieldTenantID:
		rows, err = s.conn.Query(`
			SELECT data FROM records
			WHERE table_name = ? AND tenant_id = ? AND deleted_at IS NULL
			ORDER BY id`, table, value)
	case models.FieldID:
		rows, err = s.conn.Query(`
			SELECT data FROM records
			WHERE table_name = ? AND id = ? AND deleted_at IS NULL`, table, value)
	default:
		if err := validateFieldName(field); err != nil {
			return nil, err
		}
		rows, err = s.conn.Query(fmt.Sprintf(`
			SELECT data FROM records
			WHERE table_name = ? AND deleted_at IS NULL
			  AND json_extract(data, '$.%s') = ?
			ORDER BY id`, field), table, value)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s.%s: %w", table, field, err)
	}
	defer rows.Close()

	var out []models.Row
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		row, err := decodeRow(data)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Clear removes every row of a table. Used for the client-owned cart and by
// forced full refreshes.
func (s *Store) Clear(table string) error {
	_, err := s.conn.Exec(`DELETE FROM records WHERE table_name = ?`, table)
	if err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	return nil
}

// Replace clears a table and writes the given rows in one transaction.
// The cart repository rewrites its table wholesale through this.
func (s *Store) Replace(table string, rows []models.Row) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("replace %s: begin: %w", table, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM records WHERE table_name = ?`, table); err != nil {
		return fmt.Errorf("replace %s: clear: %w", table, err)
	}
	for _, row := range rows {
		if err := putTx(tx, table, row, false); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace %s: commit: %w", table, err)
	}
	return nil
}

func decodeRow(data []byte) (models.Row, error) {
	var row models.Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return row, nil
}

// rowUpdatedAt returns the row's version timestamp for the updated_at column.
// RFC3339Nano trims trailing zeros, which breaks lexicographic ordering
// across sub-second precision ("…00Z" sorts after "…00.5Z"), so the column
// holds a fixed-width form instead. The JSON document keeps the wire value.
func rowUpdatedAt(row models.Row) string {
	s, _ := row[models.FieldUpdatedAt].(string)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return s
	}
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func rowDeletedAt(row models.Row) any {
	v, ok := row[models.FieldDeletedAt]
	if !ok || v == nil || v == "" {
		return nil
	}
	return v
}

// validateFieldName rejects field names that cannot be spliced into a
// json_extract path.
func validateFieldName(field string) error {
	if field == "" {
		return fmt.Errorf("query: empty field name")
	}
	for _, r := range field {
		ok := r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9')
		if !ok {
			return fmt.Errorf("query: invalid field name %q", field)
		}
	}
	if strings.HasPrefix(field, "$") {
		return fmt.Errorf("query: invalid field name %q", field)
	}
	return nil
}

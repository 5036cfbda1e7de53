package store

import (
	"database/sql"
	"fmt"
	"strconv"
)

// RunMigrations creates the base schema when missing and applies any pending
// version migrations. Safe to call on every open.
func (s *Store) RunMigrations() error {
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	version, err := s.schemaVersion()
	if err != nil {
		return err
	}

	if version < 2 {
		// v2 added backoff bookkeeping to the queue. Databases created at v2+
		// already have the columns from the base schema.
		for _, col := range []string{"attempts", "next_retry_at"} {
			exists, err := s.columnExists("sync_queue", col)
			if err != nil {
				return err
			}
			if !exists {
				typ := "INTEGER NOT NULL DEFAULT 0"
				if col == "next_retry_at" {
					typ = "TEXT"
				}
				if _, err := s.conn.Exec(fmt.Sprintf("ALTER TABLE sync_queue ADD COLUMN %s %s", col, typ)); err != nil {
					return fmt.Errorf("migrate sync_queue.%s: %w", col, err)
				}
			}
		}
	}

	if version != SchemaVersion {
		if err := s.setSchemaVersion(SchemaVersion); err != nil {
			return err
		}
	}
	return nil
}

// InitSchema applies the full current schema to a raw connection. Test
// harnesses use it to build a store-compatible database on any driver.
func InitSchema(conn *sql.DB) error {
	s := &Store{conn: conn}
	return s.RunMigrations()
}

func (s *Store) schemaVersion() (int, error) {
	var value string
	err := s.conn.QueryRow(`SELECT value FROM schema_info WHERE key = 'version'`).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", value, err)
	}
	return v, nil
}

func (s *Store) setSchemaVersion(version int) error {
	_, err := s.conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
		strconv.Itoa(version))
	if err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

func (s *Store) columnExists(table, column string) (bool, error) {
	rows, err := s.conn.Query(fmt.Sprintf("PRAGMA table_info(%s);", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

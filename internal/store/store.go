package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/rollcall/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added lookup indexes on checkin_records
// 2 - Rewrote record times in the fixed-width layout
const currentSchemaVersion = 2

// ErrNotFound is returned (wrapped) when a point lookup finds no row.
var ErrNotFound = errors.New("not found")

// ErrSessionFull is returned (wrapped) by Apply when an enforced
// CapacityChange would take a session past its max_capacity.
var ErrSessionFull = errors.New("session full")

// Store is the device-local copy of children, sessions and check-in records.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Mutation is a batch of writes applied in one transaction.
// Deletes run before upserts so a record can be re-keyed in one batch.
// Capacity changes run after session upserts.
type Mutation struct {
	Children      []model.Child
	Sessions      []model.Session
	Capacity      []CapacityChange
	Records       []model.CheckInRecord
	DeleteRecords []string
}

// CapacityChange moves a session's current_capacity by Delta relative to
// the stored value, so concurrent changes to one session never overwrite
// each other. The result is never below zero. A change on a missing
// session is a no-op unless Enforce is set.
type CapacityChange struct {
	SessionID string
	Delta     int
	// Enforce fails the whole mutation with ErrSessionFull when the
	// result would exceed max_capacity.
	Enforce   bool
	UpdatedAt time.Time
}

// Apply writes a mutation atomically.
func (s *Store) Apply(ctx context.Context, m Mutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply mutation: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, id := range m.DeleteRecords {
		if _, err := tx.ExecContext(ctx, `DELETE FROM checkin_records WHERE id = ?`, id); err != nil {
			return fmt.Errorf("apply mutation: delete record %s: %w", id, err)
		}
	}
	for _, c := range m.Children {
		if err := upsertChild(ctx, tx, c); err != nil {
			return fmt.Errorf("apply mutation: %w", err)
		}
	}
	for _, sess := range m.Sessions {
		if err := upsertSession(ctx, tx, sess); err != nil {
			return fmt.Errorf("apply mutation: %w", err)
		}
	}
	for _, c := range m.Capacity {
		if err := changeCapacity(ctx, tx, c); err != nil {
			return fmt.Errorf("apply mutation: %w", err)
		}
	}
	for _, r := range m.Records {
		if err := upsertRecord(ctx, tx, r); err != nil {
			return fmt.Errorf("apply mutation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply mutation: commit: %w", err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the indexes behind ActiveRecordForChild and PendingRecords.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_records_child_status
		ON checkin_records(child_id, status);
		CREATE INDEX IF NOT EXISTS idx_records_pending
		ON checkin_records(pending, check_in_time);
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// orderedTimeColumns are the time columns used in ORDER BY.
var orderedTimeColumns = []struct{ table, column string }{
	{"checkin_records", "check_in_time"},
	{"sessions", "starts_at"},
}

// migrateToV2 rewrites ordered time columns in timeLayout. Earlier rows
// trimmed trailing fractional zeros, so their TEXT did not sort in time order.
func migrateToV2(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate to v2: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, col := range orderedTimeColumns {
		if err := reformatTimeColumn(tx, col.table, col.column); err != nil {
			return fmt.Errorf("migrate to v2: %s.%s: %w", col.table, col.column, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate to v2: commit: %w", err)
	}
	return nil
}

func reformatTimeColumn(tx *sql.Tx, table, column string) error {
	rows, err := tx.Query(fmt.Sprintf(`SELECT id, %s FROM %s`, column, table))
	if err != nil {
		return err
	}
	// Collect first: the store holds a single connection.
	rewrite := make(map[string]string)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return err
		}
		t, err := parseTime(raw)
		if err != nil {
			rows.Close()
			return fmt.Errorf("row %s: %w", id, err)
		}
		if formatted := formatTime(t); formatted != raw {
			rewrite[id] = formatted
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for id, formatted := range rewrite {
		query := fmt.Sprintf(`UPDATE %s SET %s = ? WHERE id = ?`, table, column)
		if _, err := tx.Exec(query, formatted, id); err != nil {
			return fmt.Errorf("row %s: %w", id, err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

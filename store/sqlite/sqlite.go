/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements performance.TxStore using SQLite. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  performance.RowStore:        Monthly rows and the status compare-and-swap
  performance.UnlockStore:     Unlock requests
  performance.AuditLog:        Append-only change audit
  performance.DirectoryStore:  Users, entities, mappings
  performance.AttendanceStore: Daily presence and the monthly cache
  performance.DelayStore:      Appraisal delays
  performance.TxStore:         WithTx over a *sql.Tx

COMPARE-AND-SWAP:
  Status writes are conditional UPDATEs:
    UPDATE monthly_rows SET status = ? ... WHERE id = ? AND status = ?
  RowsAffected() == 0 means someone else moved the row first; the store
  reports (false, nil) and the workflow turns that into a conflict.

APPEND-ONLY AUDIT:
  change_audit only ever sees INSERT and SELECT.

KEY TABLES:
  users, entities, user_entity_mappings: Directory
  monthly_rows:             One row per (user, entity, year, month)
  unlock_requests:          At most one pending request per row
  change_audit:             Who changed what, when and why
  appraisal_delays:         One row per (user, year, month, reason)
  monthly_attendance_cache: Derived discipline figures
  daily_attendance:         One row per (user, date)

INDEXES:
  - idx_monthly_rows_key (UNIQUE): natural key of a row
  - idx_unlock_one_pending (UNIQUE, partial): one pending unlock per row
  - idx_change_audit_record: audit lookup by record

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/appraisal.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  pipeline := scoring.NewPipeline(store, aggregator, cfg, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - performance/store.go: Interface definitions
  - performance/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/appraisal-engine/performance"
)

// Store implements performance.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ performance.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Directory
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		manager_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_manager
		ON users(manager_id);

	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_entity_mappings (
		user_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		expected_projects INTEGER NOT NULL DEFAULT 0,
		expected_units INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (user_id, entity_id)
	);

	-- Monthly rows (the workflow's subject)
	CREATE TABLE IF NOT EXISTS monthly_rows (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		kpi_json TEXT,
		learning_json TEXT,
		work_summary TEXT,
		reviewer TEXT,
		review_notes TEXT,
		submitted_at TEXT,
		approved_at TEXT,
		returned_at TEXT,
		unlocked_at TEXT,
		computed_scores TEXT,
		last_computed_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_monthly_rows_key
		ON monthly_rows(user_id, entity_id, year, month);
	CREATE INDEX IF NOT EXISTS idx_monthly_rows_period_status
		ON monthly_rows(year, month, status);

	-- Unlock requests
	CREATE TABLE IF NOT EXISTS unlock_requests (
		id TEXT PRIMARY KEY,
		row_id TEXT NOT NULL,
		requested_by TEXT NOT NULL,
		manager_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		decision_note TEXT,
		created_at TEXT NOT NULL,
		decided_at TEXT
	);

	-- CRITICAL: a row has at most one pending unlock request
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unlock_one_pending
		ON unlock_requests(row_id) WHERE status = 'pending';
	CREATE INDEX IF NOT EXISTS idx_unlock_manager_status
		ON unlock_requests(manager_id, status);

	-- Change audit (append-only)
	CREATE TABLE IF NOT EXISTS change_audit (
		id TEXT PRIMARY KEY,
		table_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		field_name TEXT NOT NULL,
		old_value TEXT,
		new_value TEXT,
		changed_by TEXT NOT NULL,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_change_audit_record
		ON change_audit(table_name, record_id);

	-- Appraisal delays
	CREATE TABLE IF NOT EXISTS appraisal_delays (
		user_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		reason TEXT NOT NULL,
		deficit_minutes INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, year, month, reason)
	);

	-- Attendance
	CREATE TABLE IF NOT EXISTS monthly_attendance_cache (
		user_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		office_days_present INTEGER NOT NULL,
		office_days_with_meeting INTEGER NOT NULL,
		wfh_days INTEGER NOT NULL,
		leaves INTEGER NOT NULL,
		working_days_expected INTEGER NOT NULL,
		office_attendance_rate TEXT NOT NULL,
		meeting_attendance_rate TEXT NOT NULL,
		discipline_component TEXT NOT NULL,
		computed_at TEXT NOT NULL,
		PRIMARY KEY (user_id, year, month)
	);

	CREATE TABLE IF NOT EXISTS daily_attendance (
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		presence TEXT NOT NULL,
		meeting_attended BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (user_id, date)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOCKING + TRANSACTIONS
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs every store operation against a querier without locking.
// Store wraps it with the mutex; WithTx hands one bound to a *sql.Tx to fn.
type conn struct {
	q querier
}

var _ performance.Store = conn{}

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store performance.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(conn{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

func read[T any](s *Store, fn func(c conn) (T, error)) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(conn{q: s.db})
}

func write[T any](s *Store, fn func(c conn) (T, error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(conn{q: s.db})
}

func exec(s *Store, fn func(c conn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(conn{q: s.db})
}

// Reset clears all data (for testing and demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{
		"users", "entities", "user_entity_mappings", "monthly_rows", "unlock_requests",
		"change_audit", "appraisal_delays", "monthly_attendance_cache", "daily_attendance",
	} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

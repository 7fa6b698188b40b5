package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/parley/internal/ir"
	"github.com/roach88/parley/internal/rwlock"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added UNIQUE index on events(session_id, event_offset)
// 2 - Added guidelines.enabled for databases created before the column existed
const currentSchemaVersion = 2

// timeLayout is the text encoding of every *_utc column.
const timeLayout = time.RFC3339Nano

// Store provides durable storage for parley documents.
// Uses SQLite with WAL mode for concurrent read access.
//
// Each collection (guidelines, relationships, sessions, tags) is exposed as
// its own sub-store that owns one reader-writer lock. There is no lock that
// spans collections.
type Store struct {
	db *sql.DB

	guidelines    *GuidelineStore
	relationships *RelationshipStore
	sessions      *SessionStore
	tags          *TagStore
}

// Option configures a Store.
type Option func(*options)

type options struct {
	ids ir.IDGenerator
	now func() time.Time
}

// WithIDGenerator overrides the document id generator.
// Default: ir.UUIDv7Generator.
func WithIDGenerator(g ir.IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}

// WithClock overrides the wall clock used for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// collection holds what every sub-store shares: the database handle, the
// sub-store's own lock, and the id and time sources.
type collection struct {
	db   *sql.DB
	lock *rwlock.RWLock
	ids  ir.IDGenerator
	now  func() time.Time
}

func newCollection(db *sql.DB, o options) collection {
	return collection{
		db:   db,
		lock: rwlock.New(),
		ids:  o.ids,
		now:  o.now,
	}
}

func (c collection) timestamp() time.Time {
	return c.now().UTC()
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{
		ids: ir.UUIDv7Generator{},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time. A single connection also
	// keeps ":memory:" databases alive for the lifetime of the Store.
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

	return &Store{
		db:            db,
		guidelines:    &GuidelineStore{collection: newCollection(db, o)},
		relationships: &RelationshipStore{collection: newCollection(db, o)},
		sessions:      &SessionStore{collection: newCollection(db, o)},
		tags:          &TagStore{collection: newCollection(db, o)},
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using the sub-store methods.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Guidelines returns the guideline collection.
func (s *Store) Guidelines() *GuidelineStore { return s.guidelines }

// Relationships returns the relationship collection.
func (s *Store) Relationships() *RelationshipStore { return s.relationships }

// Sessions returns the session and event collection.
func (s *Store) Sessions() *SessionStore { return s.sessions }

// Tags returns the tag collection.
func (s *Store) Tags() *TagStore { return s.tags }

// SchemaVersion reports the database's PRAGMA user_version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
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

// migrateToV1 adds the UNIQUE index on event offsets for databases whose
// events table predates the table-level constraint.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_events_session_offset
		ON events(session_id, event_offset)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// migrateToV2 adds guidelines.enabled. New databases already have it from
// schema.sql, so the column is only added when missing.
func migrateToV2(db *sql.DB) error {
	exists, err := columnExists(db, "guidelines", "enabled")
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	if exists {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE guidelines ADD COLUMN enabled INTEGER NOT NULL DEFAULT 1`); err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// columnExists reports whether table has a column with the given name.
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, fmt.Errorf("scan table info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
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

package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// Verify file was created
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"guidelines", "tags", "guideline_tags", "relationships", "sessions", "events"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	sess, err := s1.Sessions().CreateSession(ctx, "agent-1", "customer-1", "hello")
	if err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	got, err := s2.Sessions().ReadSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ReadSession() after reopen failed: %v", err)
	}
	if got.Title != "hello" {
		t.Errorf("Title = %q, want %q", got.Title, "hello")
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestDB_ReturnsUnderlyingConnection(t *testing.T) {
	s := createTestStore(t)

	db := s.DB()
	if db == nil {
		t.Fatal("DB() returned nil")
	}
	if err := db.Ping(); err != nil {
		t.Errorf("DB() connection not usable: %v", err)
	}
}

// Pragma tests

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.expected); err != nil {
				t.Error(err)
			}
		})
	}
}

// Migration tests

func TestSchemaVersion_Current(t *testing.T) {
	s := createTestStore(t)

	version, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion() failed: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("SchemaVersion() = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_AddsEnabledColumnToLegacyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	// A database written before guidelines could be disabled.
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sql.Open() failed: %v", err)
	}
	_, err = db.Exec(`
		CREATE TABLE guidelines (
			id           TEXT PRIMARY KEY,
			condition    TEXT NOT NULL,
			action       TEXT NOT NULL,
			creation_utc TEXT NOT NULL
		);
		INSERT INTO guidelines (id, condition, action, creation_utc)
		VALUES ('legacy-1', 'it rains', 'bring umbrella', '2023-06-01T00:00:00Z');
	`)
	if err != nil {
		t.Fatalf("create legacy schema failed: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() on legacy database failed: %v", err)
	}
	defer s.Close()

	exists, err := columnExists(s.db, "guidelines", "enabled")
	if err != nil {
		t.Fatalf("columnExists() failed: %v", err)
	}
	if !exists {
		t.Fatal("guidelines.enabled missing after migration")
	}

	g, err := s.Guidelines().ReadGuideline(context.Background(), "legacy-1")
	if err != nil {
		t.Fatalf("ReadGuideline() failed: %v", err)
	}
	if !g.Enabled {
		t.Error("legacy guideline should default to enabled")
	}

	version, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion() failed: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("SchemaVersion() = %d, want %d", version, currentSchemaVersion)
	}
}

// Constraint tests

func TestConstraint_EventOffsetUnique(t *testing.T) {
	s := createTestStore(t)
	sess := createTestSession(t, s)

	insert := `
		INSERT INTO events (id, session_id, event_offset, source, kind, correlation_id, data, creation_utc)
		VALUES (?, ?, 0, 'customer', 'message', '<main>', '{}', '2024-01-01T00:00:00Z')
	`
	if _, err := s.db.Exec(insert, "e-1", sess.ID); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if _, err := s.db.Exec(insert, "e-2", sess.ID); err == nil {
		t.Error("expected UNIQUE violation for duplicate (session_id, event_offset)")
	}
}

func TestConstraint_DeleteSessionCascadesEvents(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, s)

	if _, err := s.Sessions().CreateEvent(ctx, sess.ID, customerMessage("hi")); err != nil {
		t.Fatalf("CreateEvent() failed: %v", err)
	}
	if err := s.Sessions().DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession() failed: %v", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		t.Fatalf("count events failed: %v", err)
	}
	if count != 0 {
		t.Errorf("events left after session delete = %d, want 0", count)
	}
}

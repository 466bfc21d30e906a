package audit

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cmdloop/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "audit.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLogAudit_AndByRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entries := []domain.AuditEntry{
		{RunID: "r1", Action: "command_blocked", ToolName: "execute_command", Command: "rm -rf /", Result: "blocked"},
		{RunID: "r2", Action: "confirm_yes", ToolName: "write_file", Result: "confirmed"},
		{RunID: "r1", Action: "tool_exec", ToolName: "read_file", Command: "Read a.txt", Result: "success"},
	}
	for _, e := range entries {
		if err := s.LogAudit(ctx, e); err != nil {
			t.Fatalf("LogAudit: %v", err)
		}
	}

	got, err := s.ByRun(ctx, "r1")
	if err != nil {
		t.Fatalf("ByRun: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for r1, got %d", len(got))
	}
	if got[0].Action != "command_blocked" || got[1].Action != "tool_exec" {
		t.Fatalf("unexpected order: %s, %s", got[0].Action, got[1].Action)
	}
	if got[0].Command != "rm -rf /" || got[0].CreatedAt.IsZero() {
		t.Fatalf("fields not stored: %+v", got[0])
	}
}

func TestRecent_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, action := range []string{"a", "b", "c"} {
		if err := s.LogAudit(ctx, domain.AuditEntry{Action: action}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].Action != "c" || got[1].Action != "b" {
		t.Fatalf("unexpected recent entries: %+v", got)
	}
}

func TestPrune_KeepsFreshEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.LogAudit(ctx, domain.AuditEntry{Action: "fresh"}); err != nil {
		t.Fatal(err)
	}
	n, err := s.Prune(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing pruned, got %d", n)
	}
}

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMigrations_FreshAndIdempotent(t *testing.T) {
	db := testDB(t)
	for i := 0; i < 2; i++ {
		if err := RunMigrations(db, testLogger()); err != nil {
			t.Fatalf("RunMigrations pass %d: %v", i, err)
		}
	}
	version, err := GetSchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Fatalf("expected schema version %d, got %d", schemaVersion, version)
	}
}

func TestRunMigrations_ColumnAlreadyPresent(t *testing.T) {
	db := testDB(t)
	// A table created with run_id up front makes the v2 ALTER fail in batch.
	if _, err := db.Exec(`CREATE TABLE audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT, action TEXT NOT NULL, tool_name TEXT,
		command TEXT, result TEXT, details TEXT, run_id TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP)`); err != nil {
		t.Fatal(err)
	}
	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	version, _ := GetSchemaVersion(db)
	if version != schemaVersion {
		t.Fatalf("expected schema version %d, got %d", schemaVersion, version)
	}
}

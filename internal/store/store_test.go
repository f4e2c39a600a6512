package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

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

	tables := []string{"reference_data", "field_changes", "submissions"}
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

func TestPing(t *testing.T) {
	s := createTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() failed: %v", err)
	}
}

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
		if err := s.verifyPragma(tt.name, tt.expected); err != nil {
			t.Error(err)
		}
	}
}

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("query user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_IndexesExist(t *testing.T) {
	s := createTestStore(t)
	for _, name := range []string{"idx_field_changes_path", "idx_field_changes_cause"} {
		if !indexExists(t, s, name) {
			t.Errorf("index %s not found", name)
		}
	}
}

func TestMigration_UpgradeFromOlderVersions(t *testing.T) {
	tests := []struct {
		name    string
		version int
		drop    []string
	}{
		{"from v0", 0, []string{"idx_field_changes_path", "idx_field_changes_cause"}},
		{"from v1", 1, []string{"idx_field_changes_cause"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "test.db")
			s, err := Open(path)
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			// Simulate a database written by an older build.
			for _, idx := range tt.drop {
				if _, err := s.db.Exec("DROP INDEX " + idx); err != nil {
					t.Fatalf("drop index: %v", err)
				}
			}
			if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", tt.version)); err != nil {
				t.Fatalf("reset user_version: %v", err)
			}
			s.Close()

			s, err = Open(path)
			if err != nil {
				t.Fatalf("reopen failed: %v", err)
			}
			defer s.Close()

			for _, idx := range tt.drop {
				if !indexExists(t, s, idx) {
					t.Errorf("index %s not recreated", idx)
				}
			}
			if err := s.verifyPragma("user_version", fmt.Sprint(currentSchemaVersion)); err != nil {
				t.Error(err)
			}
		})
	}
}

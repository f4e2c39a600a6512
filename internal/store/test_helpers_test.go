package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/engine"
)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestChange creates a single-value change.
func createTestChange(seq int64, path, value string, cause engine.Cause) engine.Change {
	return engine.Change{Seq: seq, Path: path, Value: value, Cause: cause}
}

// verifyPragma checks that a connection pragma has the expected value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// indexExists reports whether the named index is present.
func indexExists(t *testing.T, s *Store, name string) bool {
	t.Helper()
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?", name).Scan(&n)
	if err != nil {
		t.Fatalf("query index %s: %v", name, err)
	}
	return n == 1
}

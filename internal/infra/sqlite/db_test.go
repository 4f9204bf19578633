package sqlite

import (
	"path/filepath"
	"testing"
)

func TestNewDB_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatrelay.db")

	db, err := NewDB(path)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("query foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestNewDB_MissingParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no", "such", "dir", "chatrelay.db")

	if _, err := NewDB(path); err == nil {
		t.Fatal("NewDB with missing parent directory: want error, got nil")
	}
}

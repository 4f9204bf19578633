package sqlite

import (
	"database/sql"
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func TestMigrateUp_AppliesSchema(t *testing.T) {
	db := newTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}

	tables := []string{
		"users", "api_keys", "chats", "messages",
		"message_images", "user_preferences", "blacklist_tokens",
	}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after migration: %v", table, err)
		}
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := newTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("first MigrateUp: %v", err)
	}
	if err := MigrateUp(db); err != nil {
		t.Fatalf("second MigrateUp: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 1 {
		t.Errorf("schema_migrations rows = %d, want 1", count)
	}
}

func TestMigrationVersion(t *testing.T) {
	db := newTestDB(t)

	version, err := MigrationVersion(db)
	if err != nil {
		t.Fatalf("MigrationVersion before migrate: %v", err)
	}
	if version != 0 {
		t.Errorf("version before migrate = %d, want 0", version)
	}

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}

	version, err = MigrationVersion(db)
	if err != nil {
		t.Fatalf("MigrationVersion after migrate: %v", err)
	}
	if version != 1 {
		t.Errorf("version after migrate = %d, want 1", version)
	}
}

func TestVersionFromFilename(t *testing.T) {
	cases := []struct {
		name string
		want int
	}{
		{"001_init_schema.up.sql", 1},
		{"042_add_index.up.sql", 42},
		{"garbage.up.sql", 0},
	}
	for _, tc := range cases {
		if got := versionFromFilename(tc.name); got != tc.want {
			t.Errorf("versionFromFilename(%q) = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestForeignKeys_CascadeDelete(t *testing.T) {
	db := newTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}

	now := "2026-01-01T00:00:00Z"
	if _, err := db.Exec(
		`INSERT INTO users (id, email, password_hash, name, created_at, updated_at)
		 VALUES ('u1', 'u1@example.com', 'hash', 'User One', ?, ?)`, now, now,
	); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if _, err := db.Exec(
		`INSERT INTO chats (id, user_id, title, model, created_at, updated_at)
		 VALUES ('c1', 'u1', 'First chat', 'gpt-4o', ?, ?)`, now, now,
	); err != nil {
		t.Fatalf("insert chat: %v", err)
	}

	if _, err := db.Exec("DELETE FROM users WHERE id = 'u1'"); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM chats").Scan(&count); err != nil {
		t.Fatalf("count chats: %v", err)
	}
	if count != 0 {
		t.Errorf("chats after user delete = %d, want 0 (cascade)", count)
	}
}

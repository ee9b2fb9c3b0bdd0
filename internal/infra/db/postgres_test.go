package db

import (
	"testing"
	"testing/fstest"

	"content-autopilot/internal/infra/db/migrations"
)

func TestMigrationFilesSorted(t *testing.T) {
	fsys := fstest.MapFS{
		"010_late.sql":   {Data: []byte("SELECT 1")},
		"001_init.sql":   {Data: []byte("SELECT 1")},
		"README.md":      {Data: []byte("docs")},
		"002/nested.sql": {Data: []byte("SELECT 1")},
	}
	files, err := migrationFiles(fsys)
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	if len(files) != 2 || files[0] != "001_init.sql" || files[1] != "010_late.sql" {
		t.Fatalf("unexpected files: %v", files)
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	files, err := migrationFiles(migrations.Files)
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	if len(files) == 0 || files[0] != "001_init.sql" {
		t.Fatalf("expected 001_init.sql first, got %v", files)
	}
}

package db

import (
	"context"
	"delivery-dashboard/internal/adapters/cache"
	"path/filepath"
	"testing"
)

func TestOpenSqliteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	db, dialect, err := Open("sqlite", path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if dialect != cache.SQLite {
		t.Fatalf("dialect = %v, want sqlite", dialect)
	}
	if err := cache.InitSchema(context.Background(), db, dialect); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, _, err := Open("mysql", "x"); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

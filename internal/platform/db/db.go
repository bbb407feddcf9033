package db

import (
	"context"
	"database/sql"
	"delivery-dashboard/internal/adapters/cache"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Open connects to the sample cache database. driver is "pgx" for Postgres
// or "sqlite" for a local file.
func Open(driver, dsn string) (*sql.DB, cache.Dialect, error) {
	var dialect cache.Dialect
	switch driver {
	case "pgx":
		dialect = cache.Postgres
	case "sqlite":
		dialect = cache.SQLite
	default:
		return nil, 0, fmt.Errorf("openDB: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, 0, fmt.Errorf("openDB: open %s database: %w", dialect, err)
	}

	if dialect == cache.SQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, 0, fmt.Errorf("openDB: verify %s connection: %w", dialect, err)
	}

	return db, dialect, nil
}

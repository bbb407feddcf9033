package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Dialect selects placeholder and column type syntax.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

func (d Dialect) placeholder(n int) string {
	if d == SQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// InitSchema creates the telemetry sample cache tables.
func InitSchema(ctx context.Context, db *sql.DB, d Dialect) error {
	if db == nil {
		return errors.New("init schema: DB is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("init schema: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	realType, intType := "DOUBLE PRECISION", "BIGINT"
	if d == SQLite {
		realType, intType = "REAL", "INTEGER"
	}

	createSampleCacheQuery := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS sample_cache (
		job_id TEXT NOT NULL,
		idx %[2]s NOT NULL,
		value %[1]s NOT NULL,
		aux TEXT NOT NULL DEFAULT '{}',
		recorded_at_ms %[2]s NOT NULL,
		PRIMARY KEY (job_id, idx)
	);
	`, realType, intType)

	createIndexQuery := `
	CREATE INDEX IF NOT EXISTS idx_sample_cache_job_idx_desc
	ON sample_cache(job_id, idx DESC);
	`

	statements := []string{
		createSampleCacheQuery,
		createIndexQuery,
	}

	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: exec statement #%d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init schema: commit tx: %w", err)
	}

	return nil
}

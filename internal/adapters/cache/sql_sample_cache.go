package cache

import (
	"context"
	"database/sql"
	"delivery-dashboard/internal/domain"
	"delivery-dashboard/internal/platform/obs"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLSampleCache persists telemetry samples per job so a restarted dashboard
// can redraw the reward curve before the first history fetch.
//
// The first sample stored for an (job, index) pair wins, matching the
// in-memory aggregator.
type SQLSampleCache struct {
	DB      *sql.DB
	Dialect Dialect
}

func NewSQLSampleCache(db *sql.DB, dialect Dialect) *SQLSampleCache {
	return &SQLSampleCache{DB: db, Dialect: dialect}
}

// Fetch up to limit of the highest-index samples for one job.
func (s *SQLSampleCache) GetSamples(
	ctx context.Context,
	jobID string,
	limit int,
) (_ []domain.TelemetrySample, err error) {
	defer obs.Time(ctx, "sample.cache.GetSamples")(&err)

	if s.DB == nil {
		return nil, errors.New("sample cache: db is nil")
	}

	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, errors.New("get sample cache: job id must not be empty")
	}
	if limit <= 0 {
		return []domain.TelemetrySample{}, nil
	}

	q := fmt.Sprintf(`
	SELECT idx, value, aux, recorded_at_ms
	FROM sample_cache
	WHERE job_id = %s
	ORDER BY idx DESC
	LIMIT %s;
	`, s.Dialect.placeholder(1), s.Dialect.placeholder(2))

	rows, err := s.DB.QueryContext(ctx, q, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("get sample cache: query sample_cache table: %w", err)
	}
	defer rows.Close()

	out := make([]domain.TelemetrySample, 0, limit)
	for rows.Next() {
		var (
			idx        int
			value      float64
			aux        string
			recordedMS int64
		)
		if err := rows.Scan(&idx, &value, &aux, &recordedMS); err != nil {
			return nil, fmt.Errorf("get sample cache: scan rows: %w", err)
		}

		sample := domain.TelemetrySample{Index: idx, Value: value}
		if recordedMS > 0 {
			sample.Timestamp = time.UnixMilli(recordedMS).UTC()
		}
		if aux != "" && aux != "{}" {
			if err := json.Unmarshal([]byte(aux), &sample.Aux); err != nil {
				return nil, fmt.Errorf("get sample cache: decode aux for idx=%d: %w", idx, err)
			}
		}
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get sample cache: row iteration: %w", err)
	}

	return out, nil
}

// Store samples for one job; indexes already stored are left untouched.
func (s *SQLSampleCache) PutSamples(
	ctx context.Context,
	jobID string,
	samples []domain.TelemetrySample,
) (err error) {
	defer obs.Time(ctx, "sample.cache.PutSamples")(&err)

	if s.DB == nil {
		return errors.New("sample cache: db is nil")
	}

	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return errors.New("insert sample cache: job id must not be empty")
	}

	if len(samples) == 0 {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert sample cache: db begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ph := s.Dialect.placeholder
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
	INSERT INTO sample_cache (job_id, idx, value, aux, recorded_at_ms)
	VALUES (%s, %s, %s, %s, %s)
	ON CONFLICT (job_id, idx) DO NOTHING;
	`, ph(1), ph(2), ph(3), ph(4), ph(5)))
	if err != nil {
		return fmt.Errorf("insert sample cache: db prepare: %w", err)
	}
	defer stmt.Close()

	for _, sample := range samples {
		if sample.Index < 0 {
			return fmt.Errorf("insert sample cache: negative index %d", sample.Index)
		}

		aux := "{}"
		if len(sample.Aux) > 0 {
			b, err := json.Marshal(sample.Aux)
			if err != nil {
				return fmt.Errorf("insert sample cache idx=%d: encode aux: %w", sample.Index, err)
			}
			aux = string(b)
		}

		var recordedMS int64
		if !sample.Timestamp.IsZero() {
			recordedMS = sample.Timestamp.UnixMilli()
		}

		if _, err := stmt.ExecContext(ctx, jobID, sample.Index, sample.Value, aux, recordedMS); err != nil {
			return fmt.Errorf("insert sample cache idx=%d: %w", sample.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert sample cache commit: %w", err)
	}

	return nil
}

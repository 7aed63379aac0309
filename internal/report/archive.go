package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Archive persists a FinalReport as a row in run_reports, gated on
// REPORT_DATABASE_URL — pure audit storage of the report, never of the main
// queue or any in-flight scheduler state (spec.md §1's non-goal "durable
// storage of the main queue" is untouched by this).
type Archive struct {
	pool *pgxpool.Pool
}

const createRunReportsTable = `
CREATE TABLE IF NOT EXISTS run_reports (
	run_id TEXT PRIMARY KEY,
	generated_at TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL,
	report JSONB NOT NULL
)
`

// NewArchive opens a pooled connection to connString and ensures the
// run_reports table exists. Pool sizing follows the same conservative
// defaults as the teacher's own Postgres-backed store.
func NewArchive(ctx context.Context, connString string) (*Archive, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("report: parse database url: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("report: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("report: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, createRunReportsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("report: create run_reports table: %w", err)
	}
	return &Archive{pool: pool}, nil
}

// Save upserts one run's FinalReport.
func (a *Archive) Save(ctx context.Context, r FinalReport) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("report: marshal report: %w", err)
	}
	_, err = a.pool.Exec(ctx, `
		INSERT INTO run_reports (run_id, generated_at, duration_ms, report)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id) DO UPDATE SET
			generated_at = EXCLUDED.generated_at,
			duration_ms = EXCLUDED.duration_ms,
			report = EXCLUDED.report
	`, r.RunID, r.GeneratedAt, r.Duration.Milliseconds(), body)
	return err
}

// Close releases the connection pool.
func (a *Archive) Close() {
	a.pool.Close()
}

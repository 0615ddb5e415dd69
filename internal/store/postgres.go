package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/streamwatch/internal/job"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlCreateJobResults = `
        CREATE TABLE IF NOT EXISTS job_results (
            run_id TEXT NOT NULL,
            job_id TEXT NOT NULL,
            url TEXT NOT NULL,
            video_id TEXT NOT NULL,
            platform TEXT NOT NULL,
            status TEXT NOT NULL,
            started_at TIMESTAMPTZ NOT NULL,
            finished_at TIMESTAMPTZ,
            duration_found_sec DOUBLE PRECISION,
            watch_time_requested_sec INTEGER NOT NULL,
            watch_time_actual_sec DOUBLE PRECISION NOT NULL,
            proxy_used TEXT NOT NULL,
            error_message TEXT,
            error_trace TEXT,
            PRIMARY KEY (run_id, job_id)
        );
    `
	sqlCreateRunSummaries = `
        CREATE TABLE IF NOT EXISTS run_summaries (
            run_id TEXT PRIMARY KEY,
            total_jobs INTEGER NOT NULL,
            successful_jobs INTEGER NOT NULL,
            failed_jobs INTEGER NOT NULL,
            started_at TIMESTAMPTZ NOT NULL,
            finished_at TIMESTAMPTZ
        );
    `
	sqlUpsertResult = `
        INSERT INTO job_results (run_id, job_id, url, video_id, platform, status, started_at, finished_at,
            duration_found_sec, watch_time_requested_sec, watch_time_actual_sec, proxy_used, error_message, error_trace)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
        ON CONFLICT (run_id, job_id) DO UPDATE SET
            status = EXCLUDED.status,
            finished_at = EXCLUDED.finished_at,
            duration_found_sec = EXCLUDED.duration_found_sec,
            watch_time_requested_sec = EXCLUDED.watch_time_requested_sec,
            watch_time_actual_sec = EXCLUDED.watch_time_actual_sec,
            proxy_used = EXCLUDED.proxy_used,
            error_message = EXCLUDED.error_message,
            error_trace = EXCLUDED.error_trace;
    `
	sqlUpsertSummary = `
        INSERT INTO run_summaries (run_id, total_jobs, successful_jobs, failed_jobs, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (run_id) DO UPDATE SET
            total_jobs = EXCLUDED.total_jobs,
            successful_jobs = EXCLUDED.successful_jobs,
            failed_jobs = EXCLUDED.failed_jobs,
            finished_at = EXCLUDED.finished_at;
    `
)

// Postgres persists results into job_results and run_summaries. Rows are
// keyed by run id, so one database can hold many runs.
type Postgres struct {
	pool  DBPool
	runID string
	log   *zap.Logger
}

// OpenPostgres connects with pgxpool, then behaves like NewPostgres. The
// returned close function releases the pool.
func OpenPostgres(ctx context.Context, url, runID string, logger *zap.Logger) (*Postgres, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	p, err := NewPostgres(ctx, pool, runID, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return p, pool.Close, nil
}

// NewPostgres verifies the connection and creates the tables if needed.
func NewPostgres(ctx context.Context, pool DBPool, runID string, logger *zap.Logger) (*Postgres, error) {
	if runID == "" {
		return nil, errors.New("run id cannot be empty")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	for _, ddl := range []string{sqlCreateJobResults, sqlCreateRunSummaries} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return &Postgres{
		pool:  pool,
		runID: runID,
		log:   logger.Named("store").With(zap.String("run_id", runID)),
	}, nil
}

// WriteResult upserts one job row.
func (p *Postgres) WriteResult(ctx context.Context, r *job.Result) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, sqlUpsertResult, p.resultArgs(r)...); err != nil {
			return fmt.Errorf("failed to insert result of job %s: %w", r.JobID, err)
		}
		return nil
	})
}

// WriteSummary upserts the run row and re-upserts every result in one batch,
// so rows whose individual write failed are still recorded.
func (p *Postgres) WriteSummary(ctx context.Context, s job.Summary) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, sqlUpsertSummary,
			p.runID, s.TotalJobs, s.SuccessfulJobs, s.FailedJobs, s.StartedAt.UTC(), nullableTime(s.FinishedAt),
		); err != nil {
			return fmt.Errorf("failed to insert run summary: %w", err)
		}
		if len(s.Results) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for i := range s.Results {
			batch.Queue(sqlUpsertResult, p.resultArgs(&s.Results[i])...)
		}
		br := tx.SendBatch(ctx, batch)
		if br == nil {
			return fmt.Errorf("failed to send batch: batch results is nil")
		}
		defer func() {
			_ = br.Close()
		}()
		for i := range s.Results {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("failed to upsert result of job %s (index %d): %w", s.Results[i].JobID, i, err)
			}
		}
		return nil
	})
}

func (p *Postgres) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			p.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *Postgres) resultArgs(r *job.Result) []any {
	var errMsg, errTrace *string
	if r.Error != nil {
		errMsg = &r.Error.Message
		if r.Error.Trace != "" {
			errTrace = &r.Error.Trace
		}
	}
	return []any{
		p.runID, r.JobID, r.URL, r.VideoID, string(r.Platform), string(r.Status),
		r.StartedAt.UTC(), nullableTime(r.FinishedAt),
		r.DurationFoundSec, r.WatchTimeRequestedSec, r.WatchTimeActualSec, r.ProxyUsed,
		errMsg, errTrace,
	}
}

func nullableTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// Package jobstore persists cache-preload job lifecycle state in Postgres,
// backing the async POST /cache/preload 202 job-handle flow.
package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/bridgify-labs/tclcore/core/domain"
	out "github.com/bridgify-labs/tclcore/core/port/out"
	"github.com/bridgify-labs/tclcore/pkg/snowflake"
)

// Store implements core/port/out.JobStore against Postgres via sqlx.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) out.JobStore {
	return &Store{db: db}
}

// Schema is the DDL for the table this store reads and writes; callers run
// it during migration, not this package, matching the teacher's own
// repositories (which assume the schema already exists).
const Schema = `
CREATE TABLE IF NOT EXISTS cache_preload_jobs (
	id              BIGINT PRIMARY KEY,
	status          TEXT NOT NULL,
	requested_count INTEGER NOT NULL,
	completed_count INTEGER NOT NULL DEFAULT 0,
	source_lang     TEXT NOT NULL DEFAULT '',
	target_lang     TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

type jobRow struct {
	ID             int64     `db:"id"`
	Status         string    `db:"status"`
	RequestedCount int       `db:"requested_count"`
	CompletedCount int       `db:"completed_count"`
	SourceLang     string    `db:"source_lang"`
	TargetLang     string    `db:"target_lang"`
	Error          string    `db:"error"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r *jobRow) toDomain() *domain.PreloadJob {
	return &domain.PreloadJob{
		ID:             r.ID,
		Status:         domain.JobStatus(r.Status),
		RequestedCount: r.RequestedCount,
		CompletedCount: r.CompletedCount,
		SourceLang:     r.SourceLang,
		TargetLang:     r.TargetLang,
		Error:          r.Error,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func (s *Store) Create(ctx context.Context, job *domain.PreloadJob) error {
	if job.ID == 0 {
		job.ID = snowflake.ID()
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = domain.JobPending
	}

	query := `
		INSERT INTO cache_preload_jobs (
			id, status, requested_count, completed_count,
			source_lang, target_lang, error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		job.ID, string(job.Status), job.RequestedCount, job.CompletedCount,
		job.SourceLang, job.TargetLang, job.Error, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create preload job: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (*domain.PreloadJob, error) {
	query := `
		SELECT id, status, requested_count, completed_count,
		       source_lang, target_lang, error, created_at, updated_at
		FROM cache_preload_jobs
		WHERE id = $1`

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get preload job: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, status domain.JobStatus, completedCount int, errMsg string) error {
	query := `
		UPDATE cache_preload_jobs
		SET status = $2, completed_count = $3, error = $4, updated_at = NOW()
		WHERE id = $1`

	_, err := s.db.ExecContext(ctx, query, id, string(status), completedCount, errMsg)
	if err != nil {
		return fmt.Errorf("update preload job status: %w", err)
	}
	return nil
}

func (s *Store) ListPending(ctx context.Context, limit int) ([]*domain.PreloadJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, status, requested_count, completed_count,
		       source_lang, target_lang, error, created_at, updated_at
		FROM cache_preload_jobs
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2`

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, string(domain.JobPending), limit); err != nil {
		return nil, fmt.Errorf("list pending preload jobs: %w", err)
	}

	jobs := make([]*domain.PreloadJob, len(rows))
	for i, row := range rows {
		jobs[i] = row.toDomain()
	}
	return jobs, nil
}

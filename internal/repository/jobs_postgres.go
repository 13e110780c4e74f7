package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iago/media-compressor-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const mediaJobsSchema = `
CREATE TABLE IF NOT EXISTS media_jobs (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	original_name    TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ,
	result_url       TEXT,
	result_public_id TEXT,
	error_message    TEXT,
	expires_at       TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS media_jobs_expires_at_idx ON media_jobs (expires_at);
`

// PostgresJobStore persists jobs in the media_jobs table. Rows whose
// expires_at has passed are invisible to every operation.
type PostgresJobStore struct {
	pool *pgxpool.Pool
}

func NewPostgresJobStore(ctx context.Context, databaseURL string) (*PostgresJobStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	if _, err := pool.Exec(ctx, mediaJobsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure media_jobs schema: %w", err)
	}
	return &PostgresJobStore{pool: pool}, nil
}

func (r *PostgresJobStore) Close() {
	r.pool.Close()
}

func (r *PostgresJobStore) Create(ctx context.Context, job *domain.Job) error {
	result, cause, completedAt := stateColumns(job.State)
	command, err := r.pool.Exec(ctx, `
		INSERT INTO media_jobs (
			id,
			status,
			original_name,
			created_at,
			completed_at,
			result_url,
			result_public_id,
			error_message
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO NOTHING
	`,
		job.ID,
		string(job.Status()),
		job.OriginalName,
		job.CreatedAt,
		completedAt,
		result.url,
		result.publicID,
		cause,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrDuplicateJob
	}
	return nil
}

func (r *PostgresJobStore) Update(ctx context.Context, jobID string, state domain.JobState) error {
	result, cause, completedAt := stateColumns(state)
	command, err := r.pool.Exec(ctx, `
		UPDATE media_jobs
		SET status = $2,
			completed_at = $3,
			result_url = $4,
			result_public_id = $5,
			error_message = $6
		WHERE id = $1
			AND (expires_at IS NULL OR expires_at > now())
	`, jobID, string(state.Status()), completedAt, result.url, result.publicID, cause)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrUnknownJob
	}
	return nil
}

func (r *PostgresJobStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	var (
		job            domain.Job
		status         string
		completedAt    *time.Time
		resultURL      *string
		resultPublicID *string
		errorMessage   *string
	)

	err := r.pool.QueryRow(ctx, `
		SELECT id, status, original_name, created_at, completed_at, result_url, result_public_id, error_message
		FROM media_jobs
		WHERE id = $1
			AND (expires_at IS NULL OR expires_at > now())
	`, jobID).Scan(
		&job.ID,
		&status,
		&job.OriginalName,
		&job.CreatedAt,
		&completedAt,
		&resultURL,
		&resultPublicID,
		&errorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}

	jobStatus := domain.JobStatus(status)
	if !jobStatus.Valid() {
		return nil, fmt.Errorf("job %s has invalid status %q", jobID, status)
	}
	var finished time.Time
	if completedAt != nil {
		finished = completedAt.UTC()
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.State = buildState(jobStatus, domain.UploadResult{
		URL:      deref(resultURL),
		PublicID: deref(resultPublicID),
	}, deref(errorMessage), finished)
	return &job, nil
}

func (r *PostgresJobStore) Expire(ctx context.Context, jobID string, ttl time.Duration) error {
	if ttl <= 0 {
		command, err := r.pool.Exec(ctx, `DELETE FROM media_jobs WHERE id = $1`, jobID)
		if err != nil {
			return fmt.Errorf("delete job: %w", err)
		}
		if command.RowsAffected() == 0 {
			return ErrUnknownJob
		}
		return nil
	}

	command, err := r.pool.Exec(ctx, `
		UPDATE media_jobs
		SET expires_at = now() + ($2 * interval '1 millisecond')
		WHERE id = $1
			AND (expires_at IS NULL OR expires_at > now())
	`, jobID, ttl.Milliseconds())
	if err != nil {
		return fmt.Errorf("expire job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrUnknownJob
	}
	return nil
}

// DeleteExpired removes rows past their retention window.
func (r *PostgresJobStore) DeleteExpired(ctx context.Context) (int64, error) {
	command, err := r.pool.Exec(ctx, `DELETE FROM media_jobs WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs: %w", err)
	}
	return command.RowsAffected(), nil
}

type resultColumns struct {
	url      *string
	publicID *string
}

func stateColumns(state domain.JobState) (resultColumns, *string, *time.Time) {
	switch typed := state.(type) {
	case domain.Completed:
		completedAt := typed.CompletedAt.UTC()
		return resultColumns{url: &typed.Result.URL, publicID: &typed.Result.PublicID}, nil, &completedAt
	case domain.Failed:
		completedAt := typed.CompletedAt.UTC()
		return resultColumns{}, &typed.Cause, &completedAt
	default:
		return resultColumns{}, nil, nil
	}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

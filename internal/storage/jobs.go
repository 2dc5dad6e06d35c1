package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
)

// OpenSyncJob records the start of an ingestion run and returns its id.
func (r *DuckDBRepository) OpenSyncJob(ctx context.Context, triggeredBy string, startedAt time.Time) (string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	triggeredBy = strings.TrimSpace(triggeredBy)
	if triggeredBy == "" {
		return "", apperrors.NewValidationError("triggered_by", "must not be empty")
	}

	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	id := uuid.NewString()

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO sync_jobs (id, triggered_by, status, started_at) VALUES (?, ?, ?, ?)",
		id, triggeredBy, string(JobStarted), dbTime(startedAt))
	if err != nil {
		return "", storageErr(err, "failed to open sync job")
	}

	return id, nil
}

// CloseSyncJob moves a started job to completed or error, stamping
// completed_at and the duration. A job can be closed once.
func (r *DuckDBRepository) CloseSyncJob(ctx context.Context, id string, completion JobCompletion) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if completion.Status != JobCompleted && completion.Status != JobError {
		return apperrors.NewValidationError("status", "a job can only be closed as completed or error")
	}

	completedAt := completion.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	completedAt = dbTime(completedAt)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err, "failed to begin transaction")
	}

	defer func() { _ = tx.Rollback() }()

	var (
		status    string
		startedAt time.Time
	)

	err = tx.QueryRowContext(ctx, "SELECT status, started_at FROM sync_jobs WHERE id = ?", id).
		Scan(&status, &startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.Newf(apperrors.ErrTypeNotFound, "sync job %s not found", id)
	}

	if err != nil {
		return storageErr(err, "failed to read sync job %s", id)
	}

	if JobStatus(status) != JobStarted {
		return apperrors.NewConflictError("sync job %s is already %s", id, status)
	}

	duration := completedAt.Sub(startedAt.UTC()).Seconds()
	if duration < 0 {
		duration = 0
	}

	c := completion.Counters

	_, err = tx.ExecContext(ctx, `
		UPDATE sync_jobs SET
			status = ?, completed_at = ?, duration_seconds = ?,
			repos_processed = ?, vectors_upserted = ?, repos_skipped = ?, repos_failed = ?,
			error = ?
		WHERE id = ? AND status = 'started'`,
		string(completion.Status), completedAt, duration,
		c.ReposProcessed, c.VectorsUpserted, c.ReposSkipped, c.ReposFailed,
		nullIfEmpty(completion.Error), id)
	if err != nil {
		return storageErr(err, "failed to close sync job %s", id)
	}

	if err := tx.Commit(); err != nil {
		return storageErr(err, "failed to commit sync job %s", id)
	}

	return nil
}

const syncJobColumns = `id, triggered_by, status, started_at, completed_at, duration_seconds,
	repos_processed, vectors_upserted, repos_skipped, repos_failed, error`

func scanSyncJob(row rowScanner) (*SyncJob, error) {
	var (
		job         SyncJob
		status      string
		completedAt sql.NullTime
		duration    sql.NullFloat64
		errText     sql.NullString
	)

	err := row.Scan(&job.ID, &job.TriggeredBy, &status, &job.StartedAt, &completedAt, &duration,
		&job.ReposProcessed, &job.VectorsUpserted, &job.ReposSkipped, &job.ReposFailed, &errText)
	if err != nil {
		return nil, err
	}

	job.Status = JobStatus(status)
	job.StartedAt = job.StartedAt.UTC()
	job.CompletedAt = nullTimePtr(completedAt)
	job.Error = errText.String

	if duration.Valid {
		d := duration.Float64
		job.DurationSeconds = &d
	}

	return &job, nil
}

func (r *DuckDBRepository) GetSyncJob(ctx context.Context, id string) (*SyncJob, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	job, err := scanSyncJob(r.db.QueryRowContext(ctx, "SELECT "+syncJobColumns+" FROM sync_jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrTypeNotFound, "sync job %s not found", id)
	}

	if err != nil {
		return nil, storageErr(err, "failed to get sync job %s", id)
	}

	return job, nil
}

// ListSyncJobs returns the most recent jobs first.
func (r *DuckDBRepository) ListSyncJobs(ctx context.Context, limit int) ([]SyncJob, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+syncJobColumns+" FROM sync_jobs ORDER BY started_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, storageErr(err, "failed to list sync jobs")
	}
	defer rows.Close()

	var jobs []SyncJob

	for rows.Next() {
		job, err := scanSyncJob(rows)
		if err != nil {
			return nil, storageErr(err, "failed to scan sync job")
		}

		jobs = append(jobs, *job)
	}

	return jobs, rows.Err()
}

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
)

func TestSyncJob_Lifecycle(t *testing.T) {
	repo, cleanup := NewTestDB(t)
	defer cleanup()

	ctx := context.Background()
	started := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	id, err := repo.OpenSyncJob(ctx, "cli", started)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := repo.GetSyncJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobStarted, job.Status)
	assert.Equal(t, "cli", job.TriggeredBy)
	assert.Nil(t, job.CompletedAt)
	assert.Nil(t, job.DurationSeconds, "duration is null while started")

	completed := started.Add(90*time.Second + 500*time.Millisecond)
	counters := JobCounters{ReposProcessed: 3, VectorsUpserted: 7, ReposSkipped: 1}

	require.NoError(t, repo.CloseSyncJob(ctx, id, JobCompletion{
		Status:      JobCompleted,
		Counters:    counters,
		CompletedAt: completed,
	}))

	job, err = repo.GetSyncJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, job.Status)
	assert.Equal(t, counters, job.JobCounters)
	require.NotNil(t, job.CompletedAt)
	assert.True(t, completed.Equal(*job.CompletedAt))
	require.NotNil(t, job.DurationSeconds)
	assert.InDelta(t, 90.5, *job.DurationSeconds, 1e-6)

	// Completion is one-shot.
	err = repo.CloseSyncJob(ctx, id, JobCompletion{Status: JobError, Error: "late", CompletedAt: completed.Add(time.Hour)})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConflict))

	job, err = repo.GetSyncJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, job.Status)
	assert.InDelta(t, 90.5, *job.DurationSeconds, 1e-6)
}

func TestSyncJob_Error(t *testing.T) {
	repo, cleanup := NewTestDB(t)
	defer cleanup()

	ctx := context.Background()
	started := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	id, err := repo.OpenSyncJob(ctx, "schedule", started)
	require.NoError(t, err)

	require.NoError(t, repo.CloseSyncJob(ctx, id, JobCompletion{
		Status:      JobError,
		Counters:    JobCounters{ReposProcessed: 1, ReposFailed: 1},
		Error:       "database unavailable",
		CompletedAt: started.Add(2 * time.Second),
	}))

	job, err := repo.GetSyncJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobError, job.Status)
	assert.Equal(t, "database unavailable", job.Error)
	assert.Equal(t, 1, job.ReposFailed)
}

func TestSyncJob_InvalidTransitions(t *testing.T) {
	repo, cleanup := NewTestDB(t)
	defer cleanup()

	ctx := context.Background()

	_, err := repo.OpenSyncJob(ctx, " ", time.Now())
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	id, err := repo.OpenSyncJob(ctx, "cli", time.Now())
	require.NoError(t, err)

	err = repo.CloseSyncJob(ctx, id, JobCompletion{Status: JobStarted})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	err = repo.CloseSyncJob(ctx, "missing", JobCompletion{Status: JobCompleted})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))
}

func TestListSyncJobs_NewestFirst(t *testing.T) {
	repo, cleanup := NewTestDB(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []string

	for i := range 3 {
		id, err := repo.OpenSyncJob(ctx, "cli", base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)

		ids = append(ids, id)
	}

	jobs, err := repo.ListSyncJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, ids[2], jobs[0].ID)
	assert.Equal(t, ids[1], jobs[1].ID)
	assert.Equal(t, ids[0], jobs[2].ID)

	latest, err := repo.ListSyncJobs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, ids[2], latest[0].ID)
}

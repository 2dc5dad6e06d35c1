package syncer

import (
	"context"
	"os"
	"time"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
	"github.com/jmbish04/gh-stars-sink/internal/logging"
	"github.com/jmbish04/gh-stars-sink/internal/storage"
)

// Source delivers starred repositories. With since set only repositories
// starred at or after it are returned.
type Source interface {
	FetchStarred(ctx context.Context, since *time.Time) ([]Payload, error)
}

// FileSource reads a JSON array of payloads from disk.
type FileSource struct {
	Path string
}

func (f FileSource) FetchStarred(_ context.Context, since *time.Time) ([]Payload, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrTypeFatal, "failed to read batch file %s", f.Path)
	}

	payloads, err := DecodeBatch(data)
	if err != nil {
		return nil, err
	}

	if since == nil {
		return payloads, nil
	}

	filtered := payloads[:0]

	for _, p := range payloads {
		if p.StarredAt == nil || !p.StarredAt.Before(*since) {
			filtered = append(filtered, p)
		}
	}

	return filtered, nil
}

// RunOptions controls one fetch-and-sync run.
type RunOptions struct {
	TriggeredBy string
	Since       *time.Time
	// Prune deletes catalog repositories missing from a complete fetch.
	Prune bool
}

// Run fetches from src and syncs the result. A failed fetch is still
// recorded as a sync job in error.
func (s *Syncer) Run(ctx context.Context, src Source, opts RunOptions) (*Result, error) {
	var payloads []Payload

	err := logging.LoggerMiddleware("fetch-starred", func() error {
		var err error
		payloads, err = src.FetchStarred(ctx, opts.Since)

		return err
	})
	if err != nil {
		return s.recordFailedRun(ctx, opts.TriggeredBy, err)
	}

	result, err := s.SyncBatch(ctx, payloads, opts.TriggeredBy)
	if err != nil {
		return result, err
	}

	if opts.Prune {
		if opts.Since != nil {
			logging.Warn("prune skipped: an incremental fetch does not list every star")
			return result, nil
		}

		ids := make([]int64, 0, len(payloads))
		for _, p := range payloads {
			ids = append(ids, p.ID)
		}

		var pruned []int64

		err := logging.LoggerMiddleware("prune", func() error {
			var err error
			pruned, err = s.Prune(ctx, ids)

			return err
		})
		result.Pruned = pruned

		if err != nil {
			return result, err
		}
	}

	return result, nil
}

func (s *Syncer) recordFailedRun(ctx context.Context, triggeredBy string, cause error) (*Result, error) {
	started := s.now()

	jobID, err := s.store.OpenSyncJob(ctx, triggeredBy, started)
	if err != nil {
		return nil, cause
	}

	completion := storage.JobCompletion{
		Status:      storage.JobError,
		Error:       cause.Error(),
		CompletedAt: s.now(),
	}

	if err := s.store.CloseSyncJob(context.WithoutCancel(ctx), jobID, completion); err != nil {
		logging.WithError(err).Error("failed to close sync job")
	}

	s.metrics.ObserveJob(string(storage.JobError), completion.CompletedAt.Sub(started))

	return &Result{JobID: jobID, Status: storage.JobError, Err: cause}, cause
}

// Prune deletes every catalog repository whose id is not in starred and
// returns the deleted ids. An empty star list is refused so a failed or
// empty fetch cannot wipe the catalog.
func (s *Syncer) Prune(ctx context.Context, starred []int64) ([]int64, error) {
	if len(starred) == 0 {
		return nil, apperrors.NewValidationError("starred", "refusing to prune against an empty star list")
	}

	keep := make(map[int64]bool, len(starred))
	for _, id := range starred {
		keep[id] = true
	}

	stored, err := s.store.ListRepositoryIDs(ctx)
	if err != nil {
		return nil, err
	}

	var pruned []int64

	for _, id := range stored {
		if keep[id] {
			continue
		}

		if err := s.store.DeleteRepository(ctx, id); err != nil {
			return pruned, err
		}

		pruned = append(pruned, id)
	}

	if len(pruned) > 0 {
		logging.Infof("pruned %d repositories no longer starred", len(pruned))
	}

	return pruned, nil
}

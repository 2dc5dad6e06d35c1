package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
	"github.com/jmbish04/gh-stars-sink/internal/llm"
	"github.com/jmbish04/gh-stars-sink/internal/logging"
	"github.com/jmbish04/gh-stars-sink/internal/processor"
	"github.com/jmbish04/gh-stars-sink/internal/storage"
)

// AnnotateResult summarises one annotation pass.
type AnnotateResult struct {
	Candidates int
	Annotated  int
	Failed     int
	Err        error
}

// annotate summarises rec and stores the summary and its tags.
func (s *Syncer) annotate(ctx context.Context, rec storage.RepositoryRecord, readme string) error {
	start := time.Now()
	summary, err := s.summarizer.Summarize(ctx, llm.Input{
		FullName:    rec.FullName,
		Description: rec.Description,
		Language:    rec.Language,
		Topics:      rec.Topics,
		Readme:      readme,
	})
	s.metrics.ObserveCall("summarizer", start, err)

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !apperrors.IsType(err, apperrors.ErrTypeDependency) {
			err = apperrors.NewDependencyError(err, "summarizer")
		}

		return err
	}

	err = s.store.UpsertAnnotation(ctx, storage.Annotation{
		RepoID:        rec.ID,
		Summary:       summary.Text,
		Model:         summary.Model,
		LastIndexedAt: s.now(),
	})
	if apperrors.IsType(err, apperrors.ErrTypeValidation) {
		return apperrors.NewDependencyError(err, "summarizer")
	}

	if err != nil {
		return err
	}

	tagIDs := make([]int64, 0, len(summary.Tags))

	for _, tag := range summary.Tags {
		id, err := s.store.EnsureTag(ctx, tag)
		if err != nil {
			if apperrors.IsType(err, apperrors.ErrTypeValidation) {
				continue
			}

			return err
		}

		tagIDs = append(tagIDs, id)
	}

	return s.store.AttachTags(ctx, rec.ID, tagIDs)
}

// storedReadme rebuilds readme text from its stored chunks without the
// overlap the chunker repeats between neighbours.
func (s *Syncer) storedReadme(ctx context.Context, repoID int64) (string, error) {
	chunks, err := s.store.ListEmbeddings(ctx, repoID)
	if err != nil {
		return "", err
	}

	var parts []string

	for _, c := range chunks {
		if c.Source == processor.SourceReadme {
			parts = append(parts, c.Content)
		}
	}

	return s.processor.JoinSource(parts), nil
}

// Annotate summarises repositories that have no annotation or whose last
// attempt failed; with force every repository is annotated again. A failing
// summarizer flags the repository and the pass continues.
func (s *Syncer) Annotate(ctx context.Context, force bool, limit int) (*AnnotateResult, error) {
	if s.summarizer == nil {
		return nil, apperrors.NewConfigError("no summarizer configured", "annotation.provider")
	}

	candidates, err := s.store.ListAnnotationCandidates(ctx, force, limit)
	if err != nil {
		return nil, err
	}

	result := &AnnotateResult{Candidates: len(candidates)}

	var (
		mu   sync.Mutex
		merr *multierror.Error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, rec := range candidates {
		g.Go(func() error {
			readme, err := s.storedReadme(gctx, rec.ID)
			if err != nil {
				return err
			}

			err = s.annotate(gctx, rec, readme)
			if err == nil {
				mu.Lock()
				result.Annotated++
				mu.Unlock()

				return nil
			}

			if !apperrors.IsType(err, apperrors.ErrTypeDependency) {
				return err
			}

			logging.WithError(err).WithField("repo", rec.FullName).Warn("annotation failed")

			if err := s.store.MarkNeedsAnnotation(gctx, rec.ID); err != nil {
				return err
			}

			mu.Lock()
			result.Failed++
			merr = multierror.Append(merr, err)
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		merr = multierror.Append(merr, err)
		result.Err = merr.ErrorOrNil()

		return result, err
	}

	result.Err = merr.ErrorOrNil()

	logging.Infof("annotated %d of %d repositories", result.Annotated, result.Candidates)

	return result, nil
}

// Package syncer is the only writer of catalog rows. It turns batches of
// starred-repository payloads into committed per-repository units and
// audits every batch as a sync job.
package syncer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
	"github.com/jmbish04/gh-stars-sink/internal/llm"
	"github.com/jmbish04/gh-stars-sink/internal/logging"
	"github.com/jmbish04/gh-stars-sink/internal/metrics"
	"github.com/jmbish04/gh-stars-sink/internal/processor"
	"github.com/jmbish04/gh-stars-sink/internal/storage"
)

// Embedder computes vectors for chunks. All chunks are embedded or none.
type Embedder interface {
	IsEnabled() bool
	Model() string
	EmbedChunks(ctx context.Context, chunks []processor.Chunk) (map[int][]float32, error)
}

// Summarizer generates repository annotations.
type Summarizer interface {
	Summarize(ctx context.Context, input llm.Input) (*llm.Summary, error)
}

type Syncer struct {
	store      storage.Repository
	processor  *processor.Service
	embedder   Embedder
	summarizer Summarizer
	metrics    *metrics.Metrics

	concurrency    int
	captureRaw     bool
	annotateOnSync bool
	now            func() time.Time
}

// Option configures a Syncer.
type Option func(*Syncer)

func WithEmbedder(e Embedder) Option {
	return func(s *Syncer) { s.embedder = e }
}

// WithSummarizer sets the annotation collaborator. With onSync the
// annotation step also runs inside SyncBatch.
func WithSummarizer(summarizer Summarizer, onSync bool) Option {
	return func(s *Syncer) {
		s.summarizer = summarizer
		s.annotateOnSync = onSync
	}
}

func WithConcurrency(n int) Option {
	return func(s *Syncer) { s.concurrency = n }
}

func WithCaptureRaw(capture bool) Option {
	return func(s *Syncer) { s.captureRaw = capture }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Syncer) { s.metrics = m }
}

// WithClock replaces time.Now for job and sync timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

func New(store storage.Repository, proc *processor.Service, opts ...Option) *Syncer {
	s := &Syncer{
		store:       store,
		processor:   proc,
		concurrency: 4,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.concurrency < 1 {
		s.concurrency = 1
	}

	return s
}

type indexedPayload struct {
	index   int
	payload Payload
}

// groupByID keeps payloads sharing an id together, in batch order, so one
// worker applies them sequentially and the last one wins.
func groupByID(payloads []Payload) [][]indexedPayload {
	var (
		groups [][]indexedPayload
		slot   = make(map[int64]int)
	)

	for i, p := range payloads {
		if g, ok := slot[p.ID]; ok && p.ID > 0 {
			groups[g] = append(groups[g], indexedPayload{i, p})
			continue
		}

		slot[p.ID] = len(groups)
		groups = append(groups, []indexedPayload{{i, p}})
	}

	return groups
}

// SyncBatch applies payloads and records the run as a sync job. Each
// repository commits on its own; a fatal error stops the remaining work
// without rolling back what was committed, and the job is closed as
// error. The returned error is non-nil only when the batch was aborted.
func (s *Syncer) SyncBatch(ctx context.Context, payloads []Payload, triggeredBy string) (*Result, error) {
	started := s.now()

	jobID, err := s.store.OpenSyncJob(ctx, triggeredBy, started)
	if err != nil {
		return nil, err
	}

	log := logging.WithFields(map[string]interface{}{"job": jobID, "trigger": triggeredBy})
	log.Infof("sync job started with %d payloads", len(payloads))

	result := &Result{JobID: jobID}

	var (
		mu         sync.Mutex
		merr       *multierror.Error
		itemFailed bool
		group      = groupByID(payloads)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, items := range group {
		g.Go(func() error {
			for _, it := range items {
				if err := gctx.Err(); err != nil {
					return err
				}

				item := s.syncOne(gctx, it.index, it.payload)

				mu.Lock()
				result.add(item)

				if item.Err != nil {
					merr = multierror.Append(merr, item.Err)
				}

				if item.Outcome == OutcomeFailed {
					itemFailed = true
				}
				mu.Unlock()

				s.metrics.ObserveRepository(string(item.Outcome))
				s.metrics.ObserveVectors(item.VectorsWritten, item.VectorsUnchanged, item.VectorsDeleted)

				if item.Outcome == OutcomeFailed {
					return item.Err
				}
			}

			return nil
		})
	}

	fatalErr := g.Wait()

	sort.Slice(result.Items, func(i, j int) bool { return result.Items[i].Index < result.Items[j].Index })

	if fatalErr != nil && !itemFailed {
		merr = multierror.Append(merr, fatalErr)
	}

	result.Err = merr.ErrorOrNil()

	completion := storage.JobCompletion{
		Status:      storage.JobCompleted,
		Counters:    result.Counters(),
		CompletedAt: s.now(),
	}

	if fatalErr != nil {
		completion.Status = storage.JobError
		completion.Error = fatalErr.Error()
	}

	// Committed units stay committed; the job is closed even after cancellation.
	if err := s.store.CloseSyncJob(context.WithoutCancel(ctx), jobID, completion); err != nil {
		log.WithError(err).Error("failed to close sync job")

		if fatalErr == nil {
			fatalErr = err
		}
	}

	result.Status = completion.Status

	s.metrics.ObserveJob(string(completion.Status), completion.CompletedAt.Sub(started))

	log.WithFields(map[string]interface{}{
		"status":    result.Status,
		"processed": result.Processed,
		"skipped":   result.Skipped,
		"conflicts": result.Conflicts,
		"failed":    result.Failed,
		"vectors":   result.VectorsUpserted,
	}).Info("sync job finished")

	return result, fatalErr
}

func outcomeFor(err error) Outcome {
	switch apperrors.GetType(err) {
	case apperrors.ErrTypeValidation:
		return OutcomeSkipped
	case apperrors.ErrTypeConflict:
		return OutcomeConflict
	case apperrors.ErrTypeDependency:
		return OutcomeDegraded
	default:
		return OutcomeFailed
	}
}

func (s *Syncer) syncOne(ctx context.Context, index int, p Payload) ItemResult {
	p.Normalize()

	item := ItemResult{Index: index, ID: p.ID, FullName: p.FullName}
	log := logging.WithFields(map[string]interface{}{"repo": p.FullName, "id": p.ID})

	fail := func(err error) ItemResult {
		item.Outcome = outcomeFor(err)
		if item.Outcome == OutcomeDegraded {
			item.Outcome = OutcomeFailed
		}

		item.Err = err

		log.WithError(err).Warnf("repository %s", item.Outcome)

		return item
	}

	if err := p.Validate(); err != nil {
		return fail(err)
	}

	state, err := s.store.LoadSyncState(ctx, p.ID)
	if err != nil {
		return fail(err)
	}

	update, textChanged, depErr, err := s.buildUpdate(ctx, &p, state)
	if err != nil {
		return fail(err)
	}

	applied, err := s.store.ApplyRepository(ctx, *update)
	if err != nil {
		return fail(err)
	}

	item.Outcome = OutcomeUpdated
	if applied.Inserted {
		item.Outcome = OutcomeInserted
	}

	item.VectorsWritten = applied.VectorsWritten
	item.VectorsUnchanged = applied.VectorsUnchanged
	item.VectorsDeleted = applied.VectorsDeleted

	if depErr != nil {
		item.Outcome = OutcomeDegraded
		item.Err = depErr
	}

	if s.summarizer != nil && s.annotateOnSync && (!state.HasSummary || state.NeedsSummary || textChanged) {
		if err := s.annotate(ctx, update.Repo, p.Readme); err != nil {
			if outcomeFor(err) != OutcomeDegraded {
				return fail(err)
			}

			if err := s.store.MarkNeedsAnnotation(ctx, p.ID); err != nil {
				return fail(err)
			}

			item.Outcome = OutcomeDegraded
			item.Err = multierror.Append(item.Err, err).ErrorOrNil()
		} else {
			item.Annotated = true
		}
	}

	log.Debugf("repository %s: %d chunks written, %d unchanged, %d deleted",
		item.Outcome, item.VectorsWritten, item.VectorsUnchanged, item.VectorsDeleted)

	return item
}

// readmeUnchanged reports whether the stored readme chunks can be kept
// without re-chunking.
func readmeUnchanged(state *storage.SyncState, p *Payload) bool {
	return state.Exists &&
		!state.NeedsReindex &&
		state.ReadmeSHA != "" &&
		state.ReadmeSHA == p.ReadmeSHA &&
		len(state.Hashes[processor.SourceReadme]) > 0
}

// summaryInputChanged reports whether the text a summary is generated
// from differs from what is stored, independent of any embedding work.
func summaryInputChanged(state *storage.SyncState, p *Payload) bool {
	if !state.Exists {
		return false
	}

	if state.FullName != p.FullName || state.Description != p.Description {
		return true
	}

	return !p.SkipReadme && p.ReadmeSHA != state.ReadmeSHA
}

// buildUpdate chunks every source and embeds the chunks whose fingerprint
// changed. A failing or disabled embedder still sends the chunk layout so
// orphaned rows are removed; changed chunks keep their stored row and the
// repository is flagged. The returned depErr reports embedder failures.
func (s *Syncer) buildUpdate(ctx context.Context, p *Payload, state *storage.SyncState) (
	update *storage.RepositoryUpdate, textChanged bool, depErr error, err error,
) {
	update = &storage.RepositoryUpdate{
		Repo:      p.Record(s.captureRaw),
		StarredAt: p.StarredAt,
		SyncedAt:  s.now(),
	}

	textChanged = summaryInputChanged(state, p)

	if p.SkipReadme {
		update.Repo.ReadmeSHA = state.ReadmeSHA
	}

	enabled := s.embedder != nil && s.embedder.IsEnabled()
	if !enabled && len(state.Hashes) == 0 {
		return update, textChanged, nil, nil
	}

	prepared, err := s.processor.Prepare(p.Fields())
	if err != nil {
		return nil, false, nil, apperrors.Wrap(err, apperrors.ErrTypeValidation, "failed to chunk repository text")
	}

	for _, source := range processor.Sources {
		if source == processor.SourceReadme && (p.SkipReadme || readmeUnchanged(state, p)) {
			continue
		}

		chunks := prepared[source]

		if !enabled {
			// Only shrink what is already stored; nothing new can be embedded.
			if len(state.Hashes[source]) > 0 {
				update.Sources = append(update.Sources, storage.SourceUpdate{Source: source, Chunks: chunks})
			}

			continue
		}

		changed, _ := processor.Plan(chunks, state.Hashes[source])

		su := storage.SourceUpdate{Source: source, Chunks: chunks, Model: s.embedder.Model()}

		if len(changed) > 0 {
			start := time.Now()
			vectors, err := s.embedder.EmbedChunks(ctx, changed)
			s.metrics.ObserveCall("embedding", start, err)

			if err != nil {
				if ctx.Err() != nil {
					return nil, false, nil, ctx.Err()
				}

				logging.WithError(err).WithField("repo", p.FullName).
					Warnf("embedding of %s failed, keeping stored chunks", source)

				update.Repo.NeedsReindex = true
				depErr = multierror.Append(depErr, err).ErrorOrNil()
			} else {
				su.Vectors = vectors
			}
		}

		update.Sources = append(update.Sources, su)
	}

	return update, textChanged, depErr, nil
}

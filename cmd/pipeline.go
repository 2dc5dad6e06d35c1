package cmd

import (
	"context"

	"github.com/jmbish04/gh-stars-sink/internal/cache"
	"github.com/jmbish04/gh-stars-sink/internal/config"
	"github.com/jmbish04/gh-stars-sink/internal/embedding"
	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
	"github.com/jmbish04/gh-stars-sink/internal/llm"
	"github.com/jmbish04/gh-stars-sink/internal/logging"
	"github.com/jmbish04/gh-stars-sink/internal/metrics"
	"github.com/jmbish04/gh-stars-sink/internal/monitor"
	"github.com/jmbish04/gh-stars-sink/internal/processor"
	"github.com/jmbish04/gh-stars-sink/internal/storage"
	"github.com/jmbish04/gh-stars-sink/internal/syncer"
)

// pipeline holds the collaborators shared by sync, annotate and search.
type pipeline struct {
	cfg      *config.Config
	store    storage.Repository
	cache    cache.Cache
	embedder *embedding.Manager
	metrics  *metrics.Metrics
	memory   *monitor.MemoryMonitor
}

func newPipeline(cfg *config.Config, store storage.Repository) (*pipeline, error) {
	c, err := cache.NewFromConfig(cfg.Cache)
	if err != nil {
		logging.WithError(err).Warn("cache unavailable, continuing without it")

		c = cache.NoopCache{}
	}

	provider, err := embedding.NewProvider(embedding.ConfigFrom(cfg))
	if err != nil {
		c.Close()
		return nil, apperrors.NewConfigError(err.Error(), "embedding.provider")
	}

	p := &pipeline{
		cfg:   cfg,
		store: store,
		cache: c,
		embedder: embedding.NewManager(provider,
			embedding.WithRetry(cfg.Sync.MaxRetries, cfg.RetryBackoffDuration()),
			embedding.WithCache(c)),
	}

	if cfg.Debug.Enabled {
		p.metrics = metrics.New()
		p.memory = monitor.NewMemoryMonitor()
	}

	return p, nil
}

func (p *pipeline) Close() error {
	return p.cache.Close()
}

// serveMetrics exposes the metrics endpoint until ctx ends.
func (p *pipeline) serveMetrics(ctx context.Context) {
	if p.metrics == nil {
		return
	}

	go func() {
		if err := p.metrics.Serve(ctx, p.cfg.Debug.MetricsPort); err != nil {
			logging.WithError(err).Warn("metrics endpoint stopped")
		}
	}()
}

// syncer builds a Syncer. With annotate set a summarizer is attached and
// runs for new or changed repositories.
func (p *pipeline) syncer(annotate bool) (*syncer.Syncer, error) {
	chunker := processor.NewChunker(p.cfg.Sync.ChunkSize, p.cfg.Sync.ChunkOverlap, p.cfg.Sync.MaxChunks)

	opts := []syncer.Option{
		syncer.WithEmbedder(p.embedder),
		syncer.WithConcurrency(p.cfg.Sync.Concurrency),
		syncer.WithCaptureRaw(p.cfg.Sync.CaptureRaw),
		syncer.WithMetrics(p.metrics),
	}

	if annotate {
		summarizer, err := llm.NewManagerFromConfig(p.cfg)
		if err != nil {
			return nil, err
		}

		opts = append(opts, syncer.WithSummarizer(summarizer, true))
	}

	return syncer.New(p.store, processor.NewService(chunker), opts...), nil
}

package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jmbish04/gh-stars-sink/internal/cache"
	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
	"github.com/jmbish04/gh-stars-sink/internal/logging"
	"github.com/jmbish04/gh-stars-sink/internal/processor"
)

const vectorCacheTTL = 30 * 24 * time.Hour

// Manager wraps a Provider with a vector cache, bounded retries and
// dimension checks. Every failure it returns is a dependency error.
type Manager struct {
	provider     Provider
	cache        cache.Cache
	maxRetries   int
	initialDelay time.Duration

	calls     atomic.Int64
	cacheHits atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetry sets how often a failed call is retried and the first delay.
func WithRetry(maxRetries int, initialDelay time.Duration) Option {
	return func(m *Manager) {
		m.maxRetries = maxRetries
		m.initialDelay = initialDelay
	}
}

// WithCache stores computed vectors keyed by model and text fingerprint.
func WithCache(c cache.Cache) Option {
	return func(m *Manager) {
		m.cache = c
	}
}

func NewManager(provider Provider, opts ...Option) *Manager {
	m := &Manager{
		provider:     provider,
		cache:        cache.NoopCache{},
		maxRetries:   3,
		initialDelay: 500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// IsEnabled returns whether the manager's provider is enabled
func (m *Manager) IsEnabled() bool {
	return m.provider != nil && m.provider.IsEnabled()
}

// Model names the provider; it is stored alongside every vector.
func (m *Manager) Model() string {
	return m.provider.GetName()
}

func (m *Manager) Dimensions() int {
	return m.provider.GetDimensions()
}

// Stats reports provider calls and cache hits since creation.
func (m *Manager) Stats() (calls, cacheHits int64) {
	return m.calls.Load(), m.cacheHits.Load()
}

func (m *Manager) cacheKey(text string) string {
	return "embed:" + m.provider.GetName() + ":" + processor.Fingerprint(text)
}

// Embed returns the vector of text, from the cache when possible.
func (m *Manager) Embed(ctx context.Context, text string) ([]float32, error) {
	if !m.IsEnabled() {
		return nil, apperrors.NewDependencyError(ErrDisabled, "embedding provider")
	}

	key := m.cacheKey(text)

	if raw, err := m.cache.Get(ctx, key); err == nil {
		var vector []float32
		if json.Unmarshal(raw, &vector) == nil && m.validDimensions(vector) == nil {
			m.cacheHits.Add(1)
			return vector, nil
		}
	}

	var vector []float32

	operation := func() error {
		m.calls.Add(1)

		v, err := m.provider.GenerateEmbedding(ctx, text)
		if err != nil {
			if errors.Is(err, ErrDisabled) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}

			return err
		}

		if err := m.validDimensions(v); err != nil {
			return backoff.Permanent(err)
		}

		vector = v

		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.initialDelay
	policy.MaxElapsedTime = 0

	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(m.maxRetries, 0))), ctx)

	notify := func(err error, wait time.Duration) {
		logging.WithError(err).WithField("provider", m.provider.GetName()).
			Warnf("embedding failed, retrying in %s", wait)
	}

	if err := backoff.RetryNotify(operation, retry, notify); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, apperrors.NewDependencyError(err, "embedding provider")
	}

	if raw, err := json.Marshal(vector); err == nil {
		if err := m.cache.Set(ctx, key, raw, vectorCacheTTL); err != nil {
			logging.Debugf("failed to cache vector: %v", err)
		}
	}

	return vector, nil
}

// EmbedChunks embeds every chunk of one source, keyed by chunk index.
// The first failure aborts the source so a partial set is never returned.
func (m *Manager) EmbedChunks(ctx context.Context, chunks []processor.Chunk) (map[int][]float32, error) {
	vectors := make(map[int][]float32, len(chunks))

	for _, chunk := range chunks {
		v, err := m.Embed(ctx, chunk.Content)
		if err != nil {
			return nil, err
		}

		vectors[chunk.Index] = v
	}

	return vectors, nil
}

func (m *Manager) validDimensions(v []float32) error {
	if len(v) == 0 {
		return errors.New("provider returned an empty vector")
	}

	if want := m.provider.GetDimensions(); want > 0 && len(v) != want {
		return fmt.Errorf("dimension mismatch: expected %d, got %d", want, len(v))
	}

	return nil
}

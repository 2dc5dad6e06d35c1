package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jmbish04/gh-stars-sink/internal/config"
	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
	"github.com/jmbish04/gh-stars-sink/internal/logging"
)

// Manager runs a Summarizer with a per-call timeout and bounded retries.
// Failures surface as dependency errors; no substitute summary is made up.
type Manager struct {
	summarizer   Summarizer
	timeout      time.Duration
	maxRetries   int
	initialDelay time.Duration
}

// ManagerConfig configures the manager behavior
type ManagerConfig struct {
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// NewManager wraps summarizer. Zero values select the defaults.
func NewManager(summarizer Summarizer, cfg ManagerConfig) *Manager {
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}

	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	return &Manager{
		summarizer:   summarizer,
		timeout:      cfg.Timeout,
		maxRetries:   cfg.RetryAttempts,
		initialDelay: cfg.RetryDelay,
	}
}

// NewManagerFromConfig builds the summarizer named by the annotation
// configuration.
func NewManagerFromConfig(cfg *config.Config) (*Manager, error) {
	summarizer, err := NewSummarizer(Config{
		Provider: cfg.Annotation.Provider,
		Model:    cfg.Annotation.Model,
		APIKey:   cfg.Annotation.APIKey,
		BaseURL:  cfg.Annotation.BaseURL,
	}, cfg.AnnotationTimeout())
	if err != nil {
		return nil, err
	}

	return NewManager(summarizer, ManagerConfig{
		Timeout:       cfg.AnnotationTimeout(),
		RetryAttempts: cfg.Sync.MaxRetries,
		RetryDelay:    cfg.RetryBackoffDuration(),
	}), nil
}

// NewSummarizer returns the summarizer for a provider name.
func NewSummarizer(cfg Config, timeout time.Duration) (Summarizer, error) {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))

	switch cfg.Provider {
	case "", ProviderHeuristic:
		return NewHeuristicSummarizer(), nil
	case ProviderOpenAI, ProviderAnthropic, ProviderOllama:
		client, err := NewClient(cfg, timeout)
		if err != nil {
			return nil, apperrors.NewConfigError(err.Error(), "annotation.provider")
		}

		return client, nil
	default:
		return nil, apperrors.NewConfigError(fmt.Sprintf("unknown annotation provider %q", cfg.Provider), "annotation.provider")
	}
}

func (m *Manager) Name() string {
	return m.summarizer.Name()
}

// Summarize generates the summary of one repository.
func (m *Manager) Summarize(ctx context.Context, input Input) (*Summary, error) {
	var summary *Summary

	operation := func() error {
		callCtx := ctx

		if m.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, m.timeout)
			defer cancel()
		}

		s, err := m.summarizer.Summarize(callCtx, input)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}

			return err
		}

		summary = s

		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.initialDelay
	policy.MaxElapsedTime = 0

	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(m.maxRetries)), ctx)

	notify := func(err error, wait time.Duration) {
		logging.WithError(err).WithFields(map[string]interface{}{
			"summarizer": m.summarizer.Name(),
			"repo":       input.FullName,
		}).Warnf("summarization failed, retrying in %s", wait)
	}

	if err := backoff.RetryNotify(operation, retry, notify); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, apperrors.NewDependencyError(err, "summarizer")
	}

	if summary.Model == "" {
		summary.Model = m.summarizer.Name()
	}

	return summary, nil
}

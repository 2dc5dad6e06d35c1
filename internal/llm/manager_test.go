package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmbish04/gh-stars-sink/internal/config"
	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
)

type flakySummarizer struct {
	failures int32
	calls    atomic.Int32
}

func (f *flakySummarizer) Name() string { return "flaky" }

func (f *flakySummarizer) Summarize(_ context.Context, input Input) (*Summary, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("temporarily unavailable")
	}

	return &Summary{Text: "summary of " + input.FullName}, nil
}

func TestManagerRetries(t *testing.T) {
	s := &flakySummarizer{failures: 2}
	m := NewManager(s, ManagerConfig{RetryAttempts: 3, RetryDelay: time.Millisecond})

	summary, err := m.Summarize(context.Background(), Input{FullName: "a/b"})
	require.NoError(t, err)

	assert.Equal(t, "summary of a/b", summary.Text)
	assert.Equal(t, "flaky", summary.Model)
	assert.Equal(t, int32(3), s.calls.Load())
}

func TestManagerReturnsDependencyError(t *testing.T) {
	s := &flakySummarizer{failures: 10}
	m := NewManager(s, ManagerConfig{RetryAttempts: 1, RetryDelay: time.Millisecond})

	_, err := m.Summarize(context.Background(), Input{FullName: "a/b"})
	require.Error(t, err)

	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeDependency))
	assert.Equal(t, int32(2), s.calls.Load())
}

func TestManagerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewManager(&flakySummarizer{failures: 10}, ManagerConfig{RetryAttempts: 5, RetryDelay: time.Millisecond})

	_, err := m.Summarize(ctx, Input{FullName: "a/b"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewManagerFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	m, err := NewManagerFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, ProviderHeuristic, m.Name())

	cfg.Annotation.Provider = "openai"
	cfg.Annotation.APIKey = ""
	_, err = NewManagerFromConfig(cfg)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))

	cfg.Annotation.Provider = "palm"
	_, err = NewManagerFromConfig(cfg)
	assert.Error(t, err)
}

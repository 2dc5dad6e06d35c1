package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
	"github.com/jmbish04/gh-stars-sink/internal/processor"
	"github.com/jmbish04/gh-stars-sink/internal/storage"
)

type staticEmbedder struct {
	model   string
	vectors map[string][]float32
	err     error
}

func (s *staticEmbedder) IsEnabled() bool { return s != nil }
func (s *staticEmbedder) Model() string   { return s.model }

func (s *staticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}

	return s.vectors[text], nil
}

func record(id int64, fullName, description string, topics ...string) storage.RepositoryRecord {
	return storage.RepositoryRecord{
		ID:          id,
		Owner:       "acme",
		Name:        fullName[len("acme/"):],
		FullName:    fullName,
		URL:         "https://github.com/" + fullName,
		Description: description,
		Topics:      topics,
	}
}

func seed(t *testing.T) *storage.DuckDBRepository {
	t.Helper()

	repo, cleanup := storage.NewTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	syncedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	updates := []storage.RepositoryUpdate{
		{
			Repo: record(1, "acme/widget", "Terminal widgets for Go", "cli", "tui"),
			Sources: []storage.SourceUpdate{{
				Source:  processor.SourceReadme,
				Chunks:  storage.TestChunks(processor.SourceReadme, "widgets for terminals", "install with go get"),
				Vectors: map[int][]float32{0: {1, 0, 0}, 1: {0, 1, 0}},
				Model:   "test-model",
			}},
		},
		{
			Repo: record(2, "acme/gadget", "A database driver", "sql"),
			Sources: []storage.SourceUpdate{{
				Source:  processor.SourceDescription,
				Chunks:  storage.TestChunks(processor.SourceDescription, "A database driver"),
				Vectors: map[int][]float32{0: {0.6, 0.8, 0}},
				Model:   "test-model",
			}},
		},
		{
			Repo: record(3, "acme/legacy", "Old cli helpers"),
			Sources: []storage.SourceUpdate{{
				Source:  processor.SourceDescription,
				Chunks:  storage.TestChunks(processor.SourceDescription, "Old cli helpers"),
				Vectors: map[int][]float32{0: {1, 0, 0}},
				Model:   "other-model",
			}},
		},
	}

	for _, u := range updates {
		u.SyncedAt = syncedAt
		_, err := repo.ApplyRepository(ctx, u)
		require.NoError(t, err)
	}

	return repo
}

func TestSearchEngine_Lexical(t *testing.T) {
	engine := NewSearchEngine(seed(t), nil)

	results, err := engine.Search(context.Background(), Query{Raw: "cli", Mode: ModeLexical}, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Topic matches outrank description matches.
	assert.Equal(t, "acme/widget", results[0].FullName)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, []string{"topics"}, results[0].MatchFields)
	assert.Equal(t, []string{"cli", "tui"}, results[0].Topics)

	assert.Equal(t, "acme/legacy", results[1].FullName)
	assert.Equal(t, []string{"description"}, results[1].MatchFields)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchEngine_LexicalMinScore(t *testing.T) {
	engine := NewSearchEngine(seed(t), nil)

	results, err := engine.Search(context.Background(), Query{Raw: "cli"}, SearchOptions{MinScore: 1.5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].RepoID)
}

func TestSearchEngine_Semantic(t *testing.T) {
	embedder := &staticEmbedder{
		model:   "test-model",
		vectors: map[string][]float32{"install": {0, 1, 0}},
	}
	engine := NewSearchEngine(seed(t), embedder)

	results, err := engine.Search(context.Background(), Query{Raw: "install", Mode: ModeSemantic}, SearchOptions{})
	require.NoError(t, err)

	// The legacy repository was embedded with another model.
	require.Len(t, results, 2)

	assert.Equal(t, "acme/widget", results[0].FullName)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, processor.SourceReadme, results[0].Source)
	assert.Equal(t, "install with go get", results[0].Snippet)

	assert.Equal(t, "acme/gadget", results[1].FullName)
	assert.InDelta(t, 0.8, results[1].Score, 1e-6)
	assert.Equal(t, 2, results[1].Rank)
}

func TestSearchEngine_SemanticLimit(t *testing.T) {
	embedder := &staticEmbedder{
		model:   "test-model",
		vectors: map[string][]float32{"widgets": {1, 0, 0}},
	}
	engine := NewSearchEngine(seed(t), embedder)

	results, err := engine.Search(context.Background(), Query{Raw: "widgets", Mode: ModeSemantic}, SearchOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "widgets for terminals", results[0].Snippet)
}

func TestSearchEngine_SemanticErrors(t *testing.T) {
	store := seed(t)
	ctx := context.Background()

	_, err := NewSearchEngine(store, nil).Search(ctx, Query{Raw: "x", Mode: ModeSemantic}, SearchOptions{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))

	boom := errors.New("embedding backend down")
	_, err = NewSearchEngine(store, &staticEmbedder{err: boom}).Search(ctx, Query{Raw: "x", Mode: ModeSemantic}, SearchOptions{})
	assert.ErrorIs(t, err, boom)
}

func TestSearchEngine_Validation(t *testing.T) {
	engine := NewSearchEngine(seed(t), nil)
	ctx := context.Background()

	_, err := engine.Search(ctx, Query{Raw: "   "}, SearchOptions{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	_, err = engine.Search(ctx, Query{Raw: "cli", Mode: "fuzzy"}, SearchOptions{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosine([]float32{0, 0}, []float32{1, 1}))
}

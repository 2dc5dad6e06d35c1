package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMirrorTerms(t *testing.T) {
	assert.Equal(t, []string{"vector", "search"}, mirrorTerms("  Vector search VECTOR "))
	assert.Empty(t, mirrorTerms("   "))
}

func TestSearchMirror_Ranking(t *testing.T) {
	name := testRecord(1, "acme/duckdb-tools")
	name.Description = "helpers"
	name.Topics = []string{"sql"}

	topic := testRecord(2, "acme/other")
	topic.Description = "misc"
	topic.Topics = []string{"duckdb"}

	desc := testRecord(3, "acme/third")
	desc.Description = "works with DuckDB files"
	desc.Topics = nil

	none := testRecord(4, "acme/unrelated")
	none.Description = "nothing here"
	none.Topics = nil

	repo, cleanup := NewTestDBWithData(t, []RepositoryRecord{name, topic, desc, none})
	defer cleanup()

	ctx := context.Background()

	hits, err := repo.SearchMirror(ctx, "duckdb", 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, int64(1), hits[0].RepoID)
	assert.Equal(t, int64(2), hits[1].RepoID)
	assert.Equal(t, int64(3), hits[2].RepoID)
	assert.InDelta(t, 3.0, hits[0].Score, 1e-9)
	assert.InDelta(t, 1.0, hits[2].Score, 1e-9)

	// Summaries take part once annotated.
	require.NoError(t, repo.UpsertAnnotation(ctx, Annotation{RepoID: 4, Summary: "A DuckDB extension"}))

	hits, err = repo.SearchMirror(ctx, "duckdb", 10)
	require.NoError(t, err)
	require.Len(t, hits, 4)
	assert.Equal(t, int64(4), hits[2].RepoID)
	require.NotNil(t, hits[2].Summary)

	hits, err = repo.SearchMirror(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchMirror_ScoresAreFloats(t *testing.T) {
	rec := testRecord(1, "acme/vector-store")
	rec.Description = "store"
	rec.Topics = []string{"vector"}

	repo, cleanup := NewTestDBWithData(t, []RepositoryRecord{rec})
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, repo.UpsertAnnotation(ctx, Annotation{RepoID: 1, Summary: "A vector store"}))

	hits, err := repo.SearchMirror(ctx, "vector store", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	// vector: name 3 + topics 2 + summary 1.5; store: name 3 + summary 1.5 + description 1
	assert.InDelta(t, 12.0, hits[0].Score, 1e-9)
}

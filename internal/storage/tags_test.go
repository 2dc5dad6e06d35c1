package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
)

func TestEnsureTag_CaseInsensitive(t *testing.T) {
	repo, cleanup := NewTestDB(t)
	defer cleanup()

	ctx := context.Background()

	first, err := repo.EnsureTag(ctx, "Rust")
	require.NoError(t, err)

	second, err := repo.EnsureTag(ctx, "rust")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Bypass the cache to check the stored vocabulary.
	repo.tagCache.Purge()

	third, err := repo.EnsureTag(ctx, "  RUST ")
	require.NoError(t, err)
	assert.Equal(t, first, third)

	tags, err := repo.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "Rust", tags[0].Name)

	_, err = repo.EnsureTag(ctx, "")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestEnsureTag_Concurrent(t *testing.T) {
	repo, cleanup := NewTestDB(t)
	defer cleanup()

	ctx := context.Background()

	const workers = 8

	ids := make([]int64, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup

	for i := range workers {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			ids[i], errs[i] = repo.EnsureTag(ctx, "Concurrency")
		}(i)
	}

	wg.Wait()

	for i := range workers {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
}

func TestAttachTags_Idempotent(t *testing.T) {
	repo, cleanup := NewTestDBWithData(t, []RepositoryRecord{testRecord(1, "a/a"), testRecord(2, "b/b")})
	defer cleanup()

	ctx := context.Background()

	cli, err := repo.EnsureTag(ctx, "cli")
	require.NoError(t, err)
	db, err := repo.EnsureTag(ctx, "database")
	require.NoError(t, err)

	require.NoError(t, repo.AttachTags(ctx, 1, []int64{cli, db}))
	require.NoError(t, repo.AttachTags(ctx, 1, []int64{cli}))
	require.NoError(t, repo.AttachTags(ctx, 2, []int64{cli}))

	tags, err := repo.ListRepositoryTags(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "cli", tags[0].Name)
	assert.Equal(t, 2, tags[0].RepoCount)
	assert.Equal(t, "database", tags[1].Name)
	assert.Equal(t, 1, tags[1].RepoCount)

	err = repo.AttachTags(ctx, 404, []int64{cli})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))

	err = repo.AttachTags(ctx, 1, []int64{9999})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))
}

func TestDetachAndDeleteTag(t *testing.T) {
	repo, cleanup := NewTestDBWithData(t, []RepositoryRecord{testRecord(1, "a/a"), testRecord(2, "b/b")})
	defer cleanup()

	ctx := context.Background()

	tagID, err := repo.EnsureTag(ctx, "Go")
	require.NoError(t, err)
	require.NoError(t, repo.AttachTags(ctx, 1, []int64{tagID}))
	require.NoError(t, repo.AttachTags(ctx, 2, []int64{tagID}))

	require.NoError(t, repo.DetachTag(ctx, 1, tagID))

	tags, err := repo.ListRepositoryTags(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, tags)

	require.NoError(t, repo.DeleteTag(ctx, tagID))
	assert.Equal(t, 0, countRows(t, repo, "repo_ai_tags", 2))

	all, err := repo.ListTags(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	// The name can be reused and gets a fresh id.
	again, err := repo.EnsureTag(ctx, "go")
	require.NoError(t, err)
	assert.NotEqual(t, tagID, again)

	err = repo.DeleteTag(ctx, tagID)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))
}

func TestEnsureTag_CacheFollowsDelete(t *testing.T) {
	repo, cleanup := NewTestDBWithData(t, []RepositoryRecord{testRecord(1, "a/a")})
	defer cleanup()

	ctx := context.Background()

	for round := 0; round < 20; round++ {
		id, err := repo.EnsureTag(ctx, "cli")
		require.NoError(t, err)

		var wg sync.WaitGroup

		wg.Add(2)

		go func() {
			defer wg.Done()
			assert.NoError(t, repo.DeleteTag(ctx, id))
		}()

		go func() {
			defer wg.Done()
			_, err := repo.EnsureTag(ctx, "CLI")
			assert.NoError(t, err)
		}()

		wg.Wait()

		// Whatever the interleaving, a cached id must name a stored tag.
		if cached, ok := repo.tagCache.Get("cli"); ok {
			var count int
			require.NoError(t, repo.db.QueryRow("SELECT COUNT(*) FROM ai_tags WHERE id = ?", cached.(int64)).Scan(&count))
			assert.Equal(t, 1, count, "round %d", round)
		}

		fresh, err := repo.EnsureTag(ctx, "cli")
		require.NoError(t, err)
		require.NoError(t, repo.AttachTags(ctx, 1, []int64{fresh}), "round %d", round)
		require.NoError(t, repo.DeleteTag(ctx, fresh))
	}
}

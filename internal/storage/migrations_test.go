package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openRawDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("duckdb", filepath.Join(t.TempDir(), "migrations.duckdb"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}

func TestMigrateUp_CreatesSchema(t *testing.T) {
	db := openRawDB(t)
	ctx := context.Background()
	manager := NewMigrationManager(db)

	require.NoError(t, manager.MigrateUp(ctx))

	for _, table := range []string{
		"repositories", "stars", "embeddings", "repo_ai", "repo_fts", "sync_jobs", "ai_tags", "repo_ai_tags",
	} {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count)
		assert.NoError(t, err, table)
	}

	// Running again is a no-op.
	require.NoError(t, manager.MigrateUp(ctx))

	applied, err := manager.GetAppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, applied)

	status, err := manager.GetMigrationStatus(ctx)
	require.NoError(t, err)
	require.Len(t, status, 2)

	for _, s := range status {
		assert.True(t, s.Applied)
		assert.False(t, s.AppliedAt.IsZero())
	}
}

func TestMigrateDown(t *testing.T) {
	db := openRawDB(t)
	ctx := context.Background()
	manager := NewMigrationManager(db)

	require.NoError(t, manager.MigrateUp(ctx))
	require.NoError(t, manager.MigrateDown(ctx, 1))

	applied, err := manager.GetAppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, applied)

	_, err = db.Exec("SELECT COUNT(*) FROM ai_tags")
	assert.Error(t, err)

	ok, err := manager.IsMigrationApplied(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEmbeddingSourceConstraint(t *testing.T) {
	repo, cleanup := NewTestDB(t)
	defer cleanup()

	_, err := repo.db.Exec(`
		INSERT INTO embeddings (repo_id, source, chunk_index, content, dim, content_hash, vector, created_at)
		VALUES (1, 'license', 0, 'x', 1, 'h', '[1]', now())`)
	assert.Error(t, err)
}

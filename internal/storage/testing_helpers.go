package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmbish04/gh-stars-sink/internal/processor"
)

// NewTestDB creates a temporary, migrated catalog.
// Returns the repository and a cleanup function that should be deferred.
func NewTestDB(t *testing.T) (*DuckDBRepository, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "test_catalog_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	repo, err := NewDuckDBRepository(filepath.Join(tempDir, "test.duckdb"))
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to create test repository: %v", err)
	}

	if err := repo.Initialize(context.Background()); err != nil {
		repo.Close()
		os.RemoveAll(tempDir)
		t.Fatalf("failed to initialize test repository: %v", err)
	}

	cleanup := func() {
		if err := repo.Close(); err != nil {
			t.Errorf("failed to close test repository: %v", err)
		}
		if err := os.RemoveAll(tempDir); err != nil {
			t.Errorf("failed to remove temp dir: %v", err)
		}
	}

	return repo, cleanup
}

// NewTestDBWithData creates a temporary catalog pre-seeded with records,
// each stored without embeddings.
// Returns the repository and a cleanup function that should be deferred.
func NewTestDBWithData(t *testing.T, records []RepositoryRecord) (*DuckDBRepository, func()) {
	t.Helper()

	repo, cleanup := NewTestDB(t)
	syncedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, rec := range records {
		_, err := repo.ApplyRepository(context.Background(), RepositoryUpdate{Repo: rec, SyncedAt: syncedAt})
		if err != nil {
			cleanup()
			t.Fatalf("failed to store test repository %s: %v", rec.FullName, err)
		}
	}

	return repo, cleanup
}

// TestChunks builds fingerprinted chunks of one source from raw texts.
func TestChunks(source processor.Source, texts ...string) []processor.Chunk {
	chunks := make([]processor.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = processor.Chunk{
			Source:  source,
			Index:   i,
			Content: text,
			Hash:    processor.Fingerprint(text),
		}
	}

	return chunks
}

// TestVectors returns a small deterministic vector for every chunk.
func TestVectors(chunks []processor.Chunk) map[int][]float32 {
	vectors := make(map[int][]float32, len(chunks))
	for _, c := range chunks {
		vectors[c.Index] = []float32{float32(c.Index) + 1, float32(len(c.Content)), 0.5}
	}

	return vectors
}

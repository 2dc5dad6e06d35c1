package related

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/jmbish04/gh-stars-sink/internal/processor"
	"github.com/jmbish04/gh-stars-sink/internal/storage"
)

func record(id int64, fullName string, topics ...string) storage.RepositoryRecord {
	owner, name, _ := strings.Cut(fullName, "/")

	return storage.RepositoryRecord{
		ID:       id,
		Owner:    owner,
		Name:     name,
		FullName: fullName,
		URL:      "https://github.com/" + fullName,
		Topics:   topics,
	}
}

func seed(t *testing.T) *storage.DuckDBRepository {
	t.Helper()

	repo, cleanup := storage.NewTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	syncedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	withVector := func(rec storage.RepositoryRecord, vector []float32) storage.RepositoryUpdate {
		update := storage.RepositoryUpdate{Repo: rec, SyncedAt: syncedAt}
		if vector != nil {
			update.Sources = []storage.SourceUpdate{{
				Source:  processor.SourceReadme,
				Chunks:  storage.TestChunks(processor.SourceReadme, rec.FullName),
				Vectors: map[int][]float32{0: vector},
				Model:   "test-model",
			}}
		}

		return update
	}

	updates := []storage.RepositoryUpdate{
		withVector(record(1, "charm/bubbletea", "tui", "terminal"), []float32{1, 0, 0}),
		withVector(record(2, "charm/lipgloss", "tui"), []float32{1, 0, 0}),
		withVector(record(3, "other/cobra", "terminal", "cli"), nil),
		withVector(record(4, "charm/log"), nil),
		withVector(record(5, "unrelated/thing"), []float32{0, 1, 0}),
	}

	for _, u := range updates {
		if _, err := repo.ApplyRepository(ctx, u); err != nil {
			t.Fatalf("ApplyRepository(%s) error = %v", u.Repo.FullName, err)
		}
	}

	tagID, err := repo.EnsureTag(ctx, "Favourite")
	if err != nil {
		t.Fatalf("EnsureTag() error = %v", err)
	}

	for _, id := range []int64{1, 4} {
		if err := repo.AttachTags(ctx, id, []int64{tagID}); err != nil {
			t.Fatalf("AttachTags() error = %v", err)
		}
	}

	return repo
}

func TestFindRelated(t *testing.T) {
	engine := NewEngine(seed(t))

	results, err := engine.FindRelated(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("FindRelated() error = %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("FindRelated() returned %d results, want 2: %+v", len(results), results)
	}

	tests := []struct {
		fullName    string
		score       float64
		explanation []string
	}{
		{
			fullName:    "charm/lipgloss",
			score:       0.625,
			explanation: []string{"shared owner 'charm'", "shared topic (tui)", "content similarity (1.00)"},
		},
		{
			fullName:    "charm/log",
			score:       0.5,
			explanation: []string{"shared owner 'charm'", "shared tag (Favourite)"},
		},
	}

	for i, tt := range tests {
		got := results[i]
		if got.Repository.FullName != tt.fullName {
			t.Errorf("result %d = %s, want %s", i, got.Repository.FullName, tt.fullName)
		}

		if math.Abs(got.Score-tt.score) > 1e-9 {
			t.Errorf("%s score = %v, want %v", tt.fullName, got.Score, tt.score)
		}

		for _, want := range tt.explanation {
			if !strings.Contains(got.Explanation, want) {
				t.Errorf("%s explanation %q missing %q", tt.fullName, got.Explanation, want)
			}
		}
	}
}

func TestFindRelated_Limit(t *testing.T) {
	results, err := NewEngine(seed(t)).FindRelated(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("FindRelated() error = %v", err)
	}

	if len(results) != 1 || results[0].Repository.ID != 2 {
		t.Errorf("FindRelated() = %+v, want only charm/lipgloss", results)
	}
}

func TestFindRelated_UnknownRepository(t *testing.T) {
	if _, err := NewEngine(seed(t)).FindRelated(context.Background(), 404, 10); err == nil {
		t.Error("FindRelated() expected an error for an unknown repository")
	}
}

func TestJaccardAndOverlap(t *testing.T) {
	a := lowerSet([]string{"Go", "cli"})
	b := lowerSet([]string{"go", "tui", "web"})

	if got := jaccard(a, b); math.Abs(got-0.25) > 1e-9 {
		t.Errorf("jaccard() = %v, want 0.25", got)
	}

	if got := overlap(a, b); got != 0.5 {
		t.Errorf("overlap() = %v, want 0.5", got)
	}

	if got := jaccard(a, nil); got != 0 {
		t.Errorf("jaccard() with an empty set = %v, want 0", got)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2}, b: []float32{1, 2}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "length mismatch", a: []float32{1}, b: []float32{1, 0}, want: 0},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

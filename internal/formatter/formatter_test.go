package formatter

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jmbish04/gh-stars-sink/internal/processor"
	"github.com/jmbish04/gh-stars-sink/internal/query"
	"github.com/jmbish04/gh-stars-sink/internal/storage"
	"github.com/jmbish04/gh-stars-sink/internal/syncer"
)

var testNow = time.Date(2024, 9, 14, 12, 0, 0, 0, time.UTC)

func newTestFormatter() *Formatter {
	return &Formatter{now: func() time.Time { return testNow }}
}

func assertContains(t *testing.T, output string, expected ...string) {
	t.Helper()

	for _, e := range expected {
		if !strings.Contains(output, e) {
			t.Errorf("Expected output to contain %q, but got:\n%s", e, output)
		}
	}
}

func testDetails() Details {
	created := testNow.Add(-48 * time.Hour)

	return Details{
		Repo: storage.RepositoryRecord{
			ID:              42,
			FullName:        "testorg/test-repo",
			URL:             "https://github.com/testorg/test-repo",
			Description:     "A test repository for unit testing",
			Homepage:        "https://example.com",
			Language:        "Go",
			StargazersCount: 12345,
			ForksCount:      56,
			Topics:          []string{"golang", "cli"},
			LicenseSPDXID:   "MIT",
			LicenseName:     "MIT License",
			CreatedAt:       &created,
			IsArchived:      true,
			NeedsReindex:    true,
			LastSyncedAt:    testNow.Add(-time.Hour),
		},
		Star: &storage.StarRecord{RepoID: 42, StarredAt: testNow.Add(-48 * time.Hour)},
		Annotation: &storage.Annotation{
			RepoID:        42,
			Summary:       "A testing toolkit.",
			Model:         "heuristic",
			LastIndexedAt: testNow.Add(-time.Hour),
		},
		Tags: []storage.Tag{{ID: 1, Name: "testing"}, {ID: 2, Name: "go"}},
		Chunks: []storage.EmbeddingChunk{
			{Source: processor.SourceReadme, ChunkIndex: 0, Model: "hashing-256"},
			{Source: processor.SourceReadme, ChunkIndex: 1, Model: "hashing-256"},
			{Source: processor.SourceDescription, ChunkIndex: 0, Model: "hashing-256"},
		},
	}
}

func TestFormatter_FormatRepositoryLong(t *testing.T) {
	output := newTestFormatter().FormatRepository(testDetails(), FormatLong)

	assertContains(t, output,
		"testorg/test-repo  (link: https://github.com/testorg/test-repo)",
		"Description: A test repository for unit testing",
		"Homepage: https://example.com",
		"Numbers: 12,345 stars, 56 forks, 0 watchers, 0 open issues",
		"License: MIT",
		"Topics: golang, cli",
		"Created: 2 days ago",
		"Flags: archived",
		"Starred: 2 days ago",
		"Summary: A testing toolkit. (heuristic, 1 hour ago)",
		"Tags: testing, go",
		"Embeddings: 3 chunks (readme 2, description 1, model hashing-256)",
		"Needs reindex: yes",
		"Last synced: 1 hour ago",
	)
}

func TestFormatter_FormatRepositoryFallbacks(t *testing.T) {
	d := Details{Repo: storage.RepositoryRecord{ID: 7, FullName: "user/minimal"}}

	output := newTestFormatter().FormatRepository(d, FormatLong)

	assertContains(t, output,
		"user/minimal  (link: https://github.com/user/minimal)",
		"Description: -",
		"License: -",
		"Created: ?",
		"Summary: -",
		"Tags: -",
		"Embeddings: none",
		"Last synced: ?",
	)

	if strings.Contains(output, "Flags:") || strings.Contains(output, "Needs reindex") {
		t.Errorf("Unexpected optional lines in:\n%s", output)
	}

	short := newTestFormatter().FormatRepository(d, FormatShort)
	if got := strings.Count(short, "\n"); got != 1 {
		t.Errorf("Expected two lines in short format, got %d:\n%s", got+1, short)
	}
}

func TestFormatter_FormatResults(t *testing.T) {
	results := []query.Result{
		{
			RepoID: 1, FullName: "acme/widget", Description: strings.Repeat("x", 100),
			Score: 2.5, Rank: 1, MatchFields: []string{"topics"}, Summary: "Widgets.",
		},
		{
			RepoID: 2, FullName: "acme/gadget", Score: 0.8, Rank: 2,
			Source: processor.SourceReadme, Snippet: "install with go get",
		},
	}

	f := newTestFormatter()

	long := f.FormatResults(results, FormatLong)
	assertContains(t, long,
		"1. acme/widget  Score:2.50",
		strings.Repeat("x", 77)+"...",
		"Summary: Widgets.",
		"Matched: topics",
		"2. acme/gadget  Score:0.80",
		"[readme] install with go get",
	)

	short := f.FormatResults(results, FormatShort)
	if strings.Contains(short, "Matched:") {
		t.Errorf("Short format should not list matched fields:\n%s", short)
	}

	table := f.FormatResults(results, FormatTable)
	assertContains(t, table, "Repository", "acme/widget", "2.50", "acme/gadget")

	if got := f.FormatResults(nil, FormatShort); got != "No repositories found." {
		t.Errorf("Unexpected empty output %q", got)
	}
}

func TestFormatter_FormatJobs(t *testing.T) {
	seconds := 1.5
	jobs := []storage.SyncJob{{
		ID:              "0123456789abcdef",
		TriggeredBy:     "cli",
		Status:          storage.JobCompleted,
		StartedAt:       testNow.Add(-time.Hour),
		DurationSeconds: &seconds,
		JobCounters:     storage.JobCounters{ReposProcessed: 3, VectorsUpserted: 9, ReposSkipped: 1},
	}}

	output := newTestFormatter().FormatJobs(jobs)
	assertContains(t, output, "01234567", "cli", "completed", "1.5s", "1 hour ago")

	if strings.Contains(output, "89abcdef") {
		t.Errorf("Expected shortened job id in:\n%s", output)
	}

	if got := newTestFormatter().FormatJobs(nil); got != "No sync jobs recorded." {
		t.Errorf("Unexpected empty output %q", got)
	}
}

func TestFormatter_FormatTagsAndStats(t *testing.T) {
	f := newTestFormatter()

	assertContains(t, f.FormatTags([]storage.Tag{{ID: 3, Name: "cli", RepoCount: 4}}), "cli", "4")

	stats := &storage.Stats{
		TotalRepositories: 1200,
		TotalEmbeddings:   5,
		DatabaseSizeMB:    2,
		LanguageBreakdown: map[string]int{"Go": 3, "Rust": 5, "C": 3},
	}

	output := f.FormatStats(stats)
	assertContains(t, output, "Repositories:  1,200", "Database size: 2.1 MB")

	rust, goLang, c := strings.Index(output, "Rust"), strings.Index(output, "Go "), strings.Index(output, "C ")
	if rust >= c || c >= goLang {
		t.Errorf("Expected languages ordered by count then name:\n%s", output)
	}
}

func TestFormatter_FormatSyncResult(t *testing.T) {
	r := &syncer.Result{
		JobID:           "abcdef0123",
		Status:          storage.JobCompleted,
		Processed:       2,
		Inserted:        1,
		Skipped:         1,
		VectorsUpserted: 4,
		Pruned:          []int64{9},
		Items: []syncer.ItemResult{
			{FullName: "acme/bad", Outcome: syncer.OutcomeSkipped, Err: errors.New("invalid id")},
			{FullName: "acme/good", Outcome: syncer.OutcomeInserted},
		},
	}

	output := newTestFormatter().FormatSyncResult(r)
	assertContains(t, output,
		"Sync abcdef01: completed",
		"processed 2 (inserted 1), skipped 1",
		"vectors: 4 written",
		"pruned 1",
		"skipped acme/bad: invalid id",
	)

	if strings.Contains(output, "acme/good") {
		t.Errorf("Successful items should not be listed:\n%s", output)
	}
}

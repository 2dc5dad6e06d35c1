package query

import (
	"context"
	"math"
	"sort"
	"strings"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
	"github.com/jmbish04/gh-stars-sink/internal/logging"
	"github.com/jmbish04/gh-stars-sink/internal/processor"
	"github.com/jmbish04/gh-stars-sink/internal/storage"
)

// Mode represents the search mode
type Mode string

const (
	ModeLexical  Mode = "lexical"
	ModeSemantic Mode = "semantic"
)

// Query represents a search query
type Query struct {
	Raw  string
	Mode Mode
}

// SearchOptions represents search configuration options
type SearchOptions struct {
	Limit    int
	MinScore float64
}

// Result is one ranked repository.
type Result struct {
	RepoID      int64            `json:"repo_id"`
	FullName    string           `json:"full_name"`
	Description string           `json:"description"`
	Topics      []string         `json:"topics,omitempty"`
	Summary     string           `json:"summary,omitempty"`
	Score       float64          `json:"score"`
	Rank        int              `json:"rank"`
	MatchFields []string         `json:"match_fields,omitempty"` // lexical only
	Source      processor.Source `json:"source,omitempty"`       // semantic only
	Snippet     string           `json:"snippet,omitempty"`      // semantic only
}

// Engine defines the search engine interface
type Engine interface {
	Search(ctx context.Context, q Query, opts SearchOptions) ([]Result, error)
}

// Store is the part of the catalog the engine reads.
type Store interface {
	SearchMirror(ctx context.Context, query string, limit int) ([]storage.MirrorHit, error)
	GetMirrorEntry(ctx context.Context, repoID int64) (*storage.MirrorEntry, error)
	ScanVectors(ctx context.Context, fn func(storage.EmbeddingChunk) error) error
}

// Embedder turns the query text into a vector comparable with the stored
// chunks.
type Embedder interface {
	IsEnabled() bool
	Model() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchEngine implements the Engine interface
type SearchEngine struct {
	store    Store
	embedder Embedder
}

// NewSearchEngine creates a new search engine instance. embedder may be nil,
// in which case only lexical search is available.
func NewSearchEngine(store Store, embedder Embedder) *SearchEngine {
	return &SearchEngine{
		store:    store,
		embedder: embedder,
	}
}

// Search executes a search query with the specified mode and options
func (e *SearchEngine) Search(ctx context.Context, q Query, opts SearchOptions) ([]Result, error) {
	if strings.TrimSpace(q.Raw) == "" {
		return nil, apperrors.NewValidationError("query", "must not be empty")
	}

	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	switch q.Mode {
	case ModeSemantic:
		return e.searchSemantic(ctx, q.Raw, opts)
	case ModeLexical, "":
		return e.searchLexical(ctx, q.Raw, opts)
	default:
		return nil, apperrors.NewValidationError("mode", string(q.Mode))
	}
}

func (e *SearchEngine) searchLexical(ctx context.Context, query string, opts SearchOptions) ([]Result, error) {
	hits, err := e.store.SearchMirror(ctx, query, opts.Limit)
	if err != nil {
		return nil, err
	}

	terms := strings.Fields(strings.ToLower(query))
	results := make([]Result, 0, len(hits))

	for _, hit := range hits {
		if hit.Score < opts.MinScore {
			continue
		}

		r := fromMirror(hit.MirrorEntry)
		r.Score = hit.Score
		r.MatchFields = matchedFields(hit.MirrorEntry, terms)
		results = append(results, r)
	}

	return rank(results), nil
}

// searchSemantic embeds the query and scores every stored chunk of the
// same model by cosine similarity. A repository scores as its best chunk.
func (e *SearchEngine) searchSemantic(ctx context.Context, query string, opts SearchOptions) ([]Result, error) {
	if e.embedder == nil || !e.embedder.IsEnabled() {
		return nil, apperrors.New(apperrors.ErrTypeConfig, "semantic search needs an embedding provider").
			WithSuggestion("Set GH_STARS_SINK_EMBED_PROVIDER or use lexical search")
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	model := e.embedder.Model()
	best := make(map[int64]storage.EmbeddingChunk)
	scores := make(map[int64]float64)
	skipped := 0

	err = e.store.ScanVectors(ctx, func(chunk storage.EmbeddingChunk) error {
		if chunk.Model != model || len(chunk.Vector) != len(queryVec) {
			skipped++
			return nil
		}

		score := cosine(queryVec, chunk.Vector)
		if prev, ok := scores[chunk.RepoID]; !ok || score > prev {
			scores[chunk.RepoID] = score
			best[chunk.RepoID] = chunk
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if skipped > 0 {
		logging.WithField("model", model).Debugf("skipped %d chunks embedded with another model", skipped)
	}

	ids := make([]int64, 0, len(scores))
	for id, score := range scores {
		if score >= opts.MinScore {
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}

		return ids[i] < ids[j]
	})

	if len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}

	results := make([]Result, 0, len(ids))

	for _, id := range ids {
		entry, err := e.store.GetMirrorEntry(ctx, id)
		if err != nil {
			return nil, err
		}

		chunk := best[id]
		r := fromMirror(*entry)
		r.Score = scores[id]
		r.Source = chunk.Source
		r.Snippet = chunk.Content
		results = append(results, r)
	}

	return rank(results), nil
}

func fromMirror(entry storage.MirrorEntry) Result {
	r := Result{
		RepoID:      entry.RepoID,
		FullName:    entry.FullName,
		Description: entry.Description,
		Topics:      strings.Fields(entry.Topics),
	}

	if entry.Summary != nil {
		r.Summary = *entry.Summary
	}

	return r
}

// matchedFields lists the mirror fields containing at least one term.
func matchedFields(entry storage.MirrorEntry, terms []string) []string {
	summary := ""
	if entry.Summary != nil {
		summary = *entry.Summary
	}

	fields := []struct {
		name    string
		content string
	}{
		{"name", entry.FullName},
		{"topics", entry.Topics},
		{"summary", summary},
		{"description", entry.Description},
	}

	var matched []string

	for _, f := range fields {
		content := strings.ToLower(f.content)
		for _, term := range terms {
			if strings.Contains(content, term) {
				matched = append(matched, f.name)
				break
			}
		}
	}

	return matched
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64

	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}

	if na == 0 || nb == 0 {
		return 0
	}

	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// rank assigns 1-based ranks in slice order.
func rank(results []Result) []Result {
	for i := range results {
		results[i].Rank = i + 1
	}

	return results
}

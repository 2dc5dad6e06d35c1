package related

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/jmbish04/gh-stars-sink/internal/storage"
)

const (
	// BatchSize is the number of repositories read per catalog page.
	BatchSize = 100
	// MinRelatedScoreThreshold is the minimum score for a repository to count as related
	MinRelatedScoreThreshold = 0.25
	// TopNBuffer is how many top results are kept while streaming
	TopNBuffer = 100
)

// Repository represents a related repository with scoring details
type Repository struct {
	Repository  storage.RepositoryRecord `json:"repository"`
	Score       float64                  `json:"score"`
	Explanation string                   `json:"explanation"`
	Components  ScoreComponents          `json:"components"`
}

// ScoreComponents breaks down the related score by component
type ScoreComponents struct {
	SameOwner    float64 `json:"same_owner"`
	TopicOverlap float64 `json:"topic_overlap"`
	SharedTags   float64 `json:"shared_tags"`
	VectorSim    float64 `json:"vector_sim"`
	FinalScore   float64 `json:"final_score"`
}

var weights = map[string]float64{
	"same_owner":    0.30,
	"topic_overlap": 0.25,
	"shared_tags":   0.25,
	"vector_sim":    0.20,
}

type Engine interface {
	FindRelated(ctx context.Context, repoID int64, limit int) ([]Repository, error)
}

type EngineImpl struct {
	repo storage.Repository
}

func NewEngine(repo storage.Repository) *EngineImpl {
	return &EngineImpl{repo: repo}
}

// target is the repository related ones are scored against.
type target struct {
	rec      storage.RepositoryRecord
	tags     map[string]string
	centroid []float32
}

// FindRelated scores every other catalog repository against the one with
// id repoID, reading the catalog in pages so memory stays bounded by
// TopNBuffer.
func (e *EngineImpl) FindRelated(ctx context.Context, repoID int64, limit int) ([]Repository, error) {
	rec, err := e.repo.GetRepository(ctx, repoID)
	if err != nil {
		return nil, err
	}

	centroids, err := e.centroids(ctx)
	if err != nil {
		return nil, err
	}

	t := target{rec: *rec, centroid: centroids[rec.ID]}

	if t.tags, err = e.tagSet(ctx, rec.ID); err != nil {
		return nil, err
	}

	topResults := make([]Repository, 0, TopNBuffer)

	for offset := 0; ; offset += BatchSize {
		batch, err := e.repo.ListRepositories(ctx, BatchSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories: %w", err)
		}

		for _, candidate := range batch {
			if candidate.ID == rec.ID {
				continue
			}

			var candidateTags map[string]string
			if len(t.tags) > 0 {
				if candidateTags, err = e.tagSet(ctx, candidate.ID); err != nil {
					return nil, err
				}
			}

			components := calculateComponents(t, candidate, candidateTags, centroids[candidate.ID])
			if components.FinalScore < MinRelatedScoreThreshold {
				continue
			}

			topResults = append(topResults, Repository{
				Repository:  candidate,
				Score:       components.FinalScore,
				Explanation: generateExplanation(components, t, candidate, candidateTags),
				Components:  components,
			})

			if len(topResults) > TopNBuffer {
				sortResults(topResults)
				topResults = topResults[:TopNBuffer]
			}
		}

		if len(batch) < BatchSize {
			break
		}
	}

	sortResults(topResults)

	if limit > 0 && len(topResults) > limit {
		topResults = topResults[:limit]
	}

	return topResults, nil
}

func sortResults(results []Repository) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}

		return results[i].Repository.ID < results[j].Repository.ID
	})
}

// centroids averages the stored chunk vectors of each repository. Chunks
// whose model or dimension differs from the first one seen are ignored.
func (e *EngineImpl) centroids(ctx context.Context) (map[int64][]float32, error) {
	sums := make(map[int64][]float32)
	counts := make(map[int64]int)

	var (
		model string
		dim   int
	)

	err := e.repo.ScanVectors(ctx, func(chunk storage.EmbeddingChunk) error {
		if len(chunk.Vector) == 0 {
			return nil
		}

		if model == "" {
			model, dim = chunk.Model, len(chunk.Vector)
		}

		if chunk.Model != model || len(chunk.Vector) != dim {
			return nil
		}

		sum := sums[chunk.RepoID]
		if sum == nil {
			sum = make([]float32, dim)
			sums[chunk.RepoID] = sum
		}

		for i, v := range chunk.Vector {
			sum[i] += v
		}

		counts[chunk.RepoID]++

		return nil
	})
	if err != nil {
		return nil, err
	}

	for id, sum := range sums {
		n := float32(counts[id])
		for i := range sum {
			sum[i] /= n
		}
	}

	return sums, nil
}

// tagSet maps lowercased tag names to their display spelling.
func (e *EngineImpl) tagSet(ctx context.Context, repoID int64) (map[string]string, error) {
	tags, err := e.repo.ListRepositoryTags(ctx, repoID)
	if err != nil {
		return nil, err
	}

	set := make(map[string]string, len(tags))
	for _, tag := range tags {
		set[strings.ToLower(tag.Name)] = tag.Name
	}

	return set, nil
}

// calculateComponents computes the weighted score. Weights of missing
// signals are renormalised away and the result is discounted by the
// fraction of signals that fired, so a single weak signal cannot score 1.
func calculateComponents(t target, candidate storage.RepositoryRecord, candidateTags map[string]string, centroid []float32) ScoreComponents {
	var components ScoreComponents

	available := make(map[string]float64)

	if strings.EqualFold(t.rec.Owner, candidate.Owner) && t.rec.Owner != "" {
		components.SameOwner = 1
		available["same_owner"] = 1
	}

	if score := jaccard(lowerSet(t.rec.Topics), lowerSet(candidate.Topics)); score > 0 {
		components.TopicOverlap = score
		available["topic_overlap"] = score
	}

	if score := overlap(t.tags, candidateTags); score > 0 {
		components.SharedTags = score
		available["shared_tags"] = score
	}

	if score := cosineSimilarity(t.centroid, centroid); score > 0 {
		components.VectorSim = score
		available["vector_sim"] = score
	}

	if len(available) == 0 {
		return components
	}

	totalWeight := 0.0
	for name := range available {
		totalWeight += weights[name]
	}

	finalScore := 0.0
	for name, score := range available {
		finalScore += score * weights[name] / totalWeight
	}

	finalScore *= float64(len(available)) / float64(len(weights))
	components.FinalScore = finalScore

	return components
}

func generateExplanation(components ScoreComponents, t target, candidate storage.RepositoryRecord, candidateTags map[string]string) string {
	var explanations []string

	if components.SameOwner > 0 {
		explanations = append(explanations, fmt.Sprintf("shared owner '%s'", t.rec.Owner))
	}

	if components.TopicOverlap > 0 {
		explanations = append(explanations, describeShared("topic", sharedTopics(t.rec.Topics, candidate.Topics)))
	}

	if components.SharedTags > 0 {
		var shared []string
		for key, name := range t.tags {
			if _, ok := candidateTags[key]; ok {
				shared = append(shared, name)
			}
		}

		sort.Strings(shared)
		explanations = append(explanations, describeShared("tag", shared))
	}

	if components.VectorSim > 0 {
		explanations = append(explanations, fmt.Sprintf("content similarity (%.2f)", components.VectorSim))
	}

	if len(explanations) == 0 {
		return "related"
	}

	return strings.Join(explanations, " and ")
}

func describeShared(kind string, shared []string) string {
	switch {
	case len(shared) == 1:
		return fmt.Sprintf("shared %s (%s)", kind, shared[0])
	case len(shared) <= 3:
		return fmt.Sprintf("%d shared %ss (%s)", len(shared), kind, strings.Join(shared, ", "))
	default:
		return fmt.Sprintf("%d shared %ss (%s, ...)", len(shared), kind, strings.Join(shared[:3], ", "))
	}
}

func lowerSet(values []string) map[string]string {
	set := make(map[string]string, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = v
	}

	return set
}

// jaccard is the Jaccard similarity of two keyed sets.
func jaccard(a, b map[string]string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0

	for key := range a {
		if _, ok := b[key]; ok {
			intersection++
		}
	}

	return float64(intersection) / float64(len(a)+len(b)-intersection)
}

// overlap normalises the intersection by the smaller set.
func overlap(a, b map[string]string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0

	for key := range a {
		if _, ok := b[key]; ok {
			intersection++
		}
	}

	return float64(intersection) / float64(min(len(a), len(b)))
}

func sharedTopics(topics1, topics2 []string) []string {
	set := lowerSet(topics1)

	var shared []string

	for _, topic := range topics2 {
		if _, ok := set[strings.ToLower(topic)]; ok {
			shared = append(shared, topic)
		}
	}

	return shared
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64

	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

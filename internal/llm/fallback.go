package llm

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// HeuristicSummarizer builds a summary from the description and the first
// descriptive README paragraph, without calling a model.
type HeuristicSummarizer struct{}

func NewHeuristicSummarizer() *HeuristicSummarizer {
	return &HeuristicSummarizer{}
}

func (h *HeuristicSummarizer) Name() string {
	return ProviderHeuristic
}

func (h *HeuristicSummarizer) Summarize(_ context.Context, input Input) (*Summary, error) {
	var parts []string

	if d := strings.TrimSpace(input.Description); d != "" {
		parts = append(parts, ensurePeriod(d))
	}

	if purpose := extractPurpose(input.Readme); purpose != "" && !strings.EqualFold(purpose, input.Description) {
		parts = append(parts, ensurePeriod(purpose))
	}

	if len(parts) == 0 {
		parts = append(parts, input.FullName+" has no description.")
	}

	tags := append([]string{}, input.Topics...)
	if input.Language != "" {
		tags = append(tags, input.Language)
	}

	text := input.Description + "\n" + input.Readme
	tags = append(tags, extractTechnologies(text)...)
	tags = append(tags, extractUseCases(text)...)

	return &Summary{
		Text:  strings.Join(parts, " "),
		Tags:  normalizeTags(tags),
		Model: ProviderHeuristic,
	}, nil
}

var (
	markdownLink  = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)
	markdownNoise = regexp.MustCompile("[*_`]+")
	wordPattern   = regexp.MustCompile(`[a-z0-9+#.]+`)
)

// extractPurpose returns the first README line that reads like a
// description of the project.
func extractPurpose(content string) string {
	var fallback string

	for i, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)

		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "<") || strings.HasPrefix(line, "|") {
			continue
		}

		line = markdownLink.ReplaceAllString(line, "$1")
		line = strings.TrimSpace(markdownNoise.ReplaceAllString(line, ""))

		if len(line) < 20 || len(line) > 300 {
			continue
		}

		lower := strings.ToLower(line)
		for _, marker := range []string{"is a", "provides", "allows", "helps", "tool", "library", "framework"} {
			if strings.Contains(lower, marker) {
				return line
			}
		}

		if fallback == "" && i < 15 && len(line) > 50 {
			fallback = line
		}
	}

	return fallback
}

var techPatterns = map[string][]string{
	"javascript": {"javascript", "node.js", "nodejs", "npm"},
	"typescript": {"typescript"},
	"python":     {"python", "pip", "django", "flask", "fastapi"},
	"go":         {"golang", "go.mod"},
	"rust":       {"rust", "cargo"},
	"java":       {"java", "maven", "gradle"},
	"c++":        {"c++", "cmake"},
	"ruby":       {"ruby", "rails", "bundler"},
	"php":        {"php", "composer"},
	"swift":      {"swift", "xcode"},
	"kotlin":     {"kotlin"},
	"docker":     {"docker", "dockerfile"},
	"kubernetes": {"kubernetes", "k8s", "kubectl"},
	"react":      {"react", "reactjs"},
	"vue":        {"vue", "vuejs"},
	"sql":        {"sql", "postgres", "postgresql", "mysql", "sqlite", "duckdb"},
}

var useCasePatterns = map[string][]string{
	"cli":              {"cli", "terminal", "command-line"},
	"web":              {"http", "webapp", "website", "server"},
	"database":         {"database", "nosql", "storage"},
	"machine-learning": {"neural", "llm", "embeddings", "inference"},
	"testing":          {"testing", "mocking", "assertions"},
	"devops":           {"devops", "deployment", "ci/cd"},
	"security":         {"security", "encryption", "authentication"},
	"monitoring":       {"monitoring", "metrics", "observability", "tracing"},
}

func extractTechnologies(content string) []string {
	return matchPatterns(content, techPatterns)
}

func extractUseCases(content string) []string {
	return matchPatterns(content, useCasePatterns)
}

// matchPatterns matches whole words so short patterns do not fire inside
// longer ones.
func matchPatterns(content string, patterns map[string][]string) []string {
	words := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(strings.ToLower(content), -1) {
		words[strings.TrimRight(w, ".")] = true
	}

	var out []string

	for label, candidates := range patterns {
		for _, candidate := range candidates {
			if words[candidate] {
				out = append(out, label)
				break
			}
		}
	}

	sort.Strings(out)

	return out
}

const maxTags = 8

// normalizeTags trims, lowercases and deduplicates tags, keeping the first
// occurrence order.
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool)

	var out []string

	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}

		seen[tag] = true

		out = append(out, tag)
		if len(out) == maxTags {
			break
		}
	}

	return out
}

func ensurePeriod(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?") {
		return s
	}

	return s + "."
}

package llm

import (
	"context"
	"strings"
)

// Summarizer produces the annotation of one repository.
type Summarizer interface {
	Summarize(ctx context.Context, input Input) (*Summary, error)
	Name() string
}

// Input is the repository content a summary is generated from.
type Input struct {
	FullName    string
	Description string
	Language    string
	Topics      []string
	Readme      string
}

// Summary is a generated annotation together with suggested tags.
type Summary struct {
	Text  string   `json:"summary"`
	Tags  []string `json:"tags"`
	Model string   `json:"-"`
}

// Config represents summarizer configuration
type Config struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"-"`
	BaseURL  string `json:"base_url,omitempty"`
}

// Provider constants for the supported summarizers
const (
	ProviderHeuristic = "heuristic"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Default models per provider
const (
	ModelGPT4oMini = "gpt-4o-mini"
	ModelClaude    = "claude-3-5-haiku-latest"
	ModelLlama     = "llama3.2"
)

const maxReadmeRunes = 12000

// Content renders the input as the text handed to a model.
func (in Input) Content() string {
	var sb strings.Builder

	sb.WriteString("Repository: " + in.FullName + "\n")

	if in.Description != "" {
		sb.WriteString("Description: " + in.Description + "\n")
	}

	if in.Language != "" {
		sb.WriteString("Language: " + in.Language + "\n")
	}

	if len(in.Topics) > 0 {
		sb.WriteString("Topics: " + strings.Join(in.Topics, ", ") + "\n")
	}

	if in.Readme != "" {
		readme := []rune(in.Readme)
		if len(readme) > maxReadmeRunes {
			readme = readme[:maxReadmeRunes]
		}

		sb.WriteString("\nREADME:\n" + string(readme))
	}

	return sb.String()
}

package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmbish04/gh-stars-sink/internal/config"
)

// ErrDisabled is returned by the disabled provider.
var ErrDisabled = errors.New("embedding provider is disabled")

// Provider defines the interface for embedding providers
type Provider interface {
	// GenerateEmbedding generates an embedding for the given text
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// GetDimensions returns the dimensionality of embeddings produced by this provider
	GetDimensions() int

	// IsEnabled returns whether the provider is enabled and ready to use
	IsEnabled() bool

	// GetName returns the provider name recorded as the model of stored vectors
	GetName() string
}

// Config represents embedding provider configuration
type Config struct {
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	Dimensions int           `json:"dimensions"`
	BaseURL    string        `json:"base_url"`
	Command    string        `json:"command"`
	Timeout    time.Duration `json:"timeout"`
	// CacheDir holds the uv project of the python provider.
	CacheDir string `json:"cache_dir"`
}

// ConfigFrom maps the application configuration onto a provider Config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		BaseURL:    cfg.Embedding.BaseURL,
		Command:    cfg.Embedding.Command,
		Timeout:    cfg.EmbeddingTimeout(),
		CacheDir:   cfg.Cache.Directory,
	}
}

// NewProvider builds the provider named by cfg.Provider.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "", "hashing":
		return NewHashingProvider(cfg.Model, cfg.Dimensions), nil
	case "ollama":
		return NewOllamaProvider(cfg)
	case "command":
		return NewCommandProvider(cfg)
	case "python":
		return NewPythonProvider(context.Background(), cfg)
	case "disabled":
		return DisabledProvider{}, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// DisabledProvider is a no-op provider for when embeddings are disabled
type DisabledProvider struct{}

func (DisabledProvider) GenerateEmbedding(context.Context, string) ([]float32, error) {
	return nil, ErrDisabled
}

func (DisabledProvider) GetDimensions() int {
	return 0
}

func (DisabledProvider) IsEnabled() bool {
	return false
}

func (DisabledProvider) GetName() string {
	return "disabled"
}

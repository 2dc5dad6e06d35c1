package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jmbish04/gh-stars-sink/internal/python"
)

// CommandProvider runs an external program that reads a JSON array of
// texts on stdin and writes an embeddingResult on stdout.
type CommandProvider struct {
	config  Config
	argv    []string
	timeout time.Duration
}

// embeddingResult represents the JSON response of the command
type embeddingResult struct {
	Embeddings [][]float64 `json:"embeddings"`
	Model      string      `json:"model"`
	Dimension  int         `json:"dimension"`
}

func NewCommandProvider(config Config) (*CommandProvider, error) {
	argv := strings.Fields(config.Command)
	if len(argv) == 0 {
		return nil, errors.New("command embedding provider requires a command")
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, fmt.Errorf("embedding command not found: %w", err)
	}

	argv[0] = path

	return newScriptProvider(config, argv), nil
}

func (p *CommandProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return vectors[0], nil
}

// GenerateEmbeddings embeds several texts with one process invocation.
func (p *CommandProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	inputJSON, err := json.Marshal(texts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.argv[0], p.argv[1:]...)
	cmd.Stdin = bytes.NewReader(inputJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("embedding generation timeout after %v", p.timeout)
		}

		return nil, fmt.Errorf("embedding generation failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	var result embeddingResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse embedding result: %w", err)
	}

	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = toFloat32(emb)
	}

	return embeddings, nil
}

func (p *CommandProvider) GetDimensions() int {
	return p.config.Dimensions
}

func (p *CommandProvider) IsEnabled() bool {
	return true
}

func (p *CommandProvider) GetName() string {
	prefix := "command"
	if p.config.Provider == "python" {
		prefix = "python"
	}

	if p.config.Model != "" {
		return prefix + ":" + p.config.Model
	}

	return prefix
}

// DefaultPythonModel is the sentence-transformers model used when none is
// configured.
const DefaultPythonModel = "sentence-transformers/all-MiniLM-L6-v2"

// NewPythonProvider runs the bundled sentence-transformers script through
// uv. The first call installs the Python dependencies under cfg.CacheDir.
func NewPythonProvider(ctx context.Context, cfg Config) (*CommandProvider, error) {
	uvPath, err := python.FindUV()
	if err != nil {
		return nil, err
	}

	if cfg.CacheDir == "" {
		return nil, errors.New("python embedding provider requires a cache directory")
	}

	projectDir, err := python.EnsureEnvironment(ctx, uvPath, cfg.CacheDir)
	if err != nil {
		return nil, err
	}

	if cfg.Model == "" || cfg.Model == defaultHashingModel {
		cfg.Model = DefaultPythonModel
	}

	cfg.Provider = "python"

	return newScriptProvider(cfg, python.ScriptArgs(uvPath, projectDir, python.EmbedScript, "--model", cfg.Model)), nil
}

func newScriptProvider(cfg Config, argv []string) *CommandProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &CommandProvider{config: cfg, argv: argv, timeout: timeout}
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client implements Summarizer against a hosted or local model API.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient validates config, fills provider defaults and returns a client.
func NewClient(config Config, timeout time.Duration) (*Client, error) {
	switch config.Provider {
	case ProviderOpenAI:
		if config.APIKey == "" {
			return nil, fmt.Errorf("API key is required for OpenAI provider")
		}

		if config.BaseURL == "" {
			config.BaseURL = "https://api.openai.com/v1"
		}

		if config.Model == "" {
			config.Model = ModelGPT4oMini
		}
	case ProviderAnthropic:
		if config.APIKey == "" {
			return nil, fmt.Errorf("API key is required for Anthropic provider")
		}

		if config.BaseURL == "" {
			config.BaseURL = "https://api.anthropic.com/v1"
		}

		if config.Model == "" {
			config.Model = ModelClaude
		}
	case ProviderOllama:
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}

		if config.Model == "" {
			config.Model = ModelLlama
		}
	default:
		return nil, fmt.Errorf("unsupported provider: %s", config.Provider)
	}

	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) Name() string {
	return c.config.Provider + ":" + c.config.Model
}

// Summarize asks the model for a JSON object with a summary and tags.
func (c *Client) Summarize(ctx context.Context, input Input) (*Summary, error) {
	prompt := buildSummarizationPrompt(input)

	var (
		text string
		err  error
	)

	switch c.config.Provider {
	case ProviderOpenAI:
		text, err = c.completeOpenAI(ctx, prompt)
	case ProviderAnthropic:
		text, err = c.completeAnthropic(ctx, prompt)
	case ProviderOllama:
		text, err = c.completeOllama(ctx, prompt)
	default:
		err = fmt.Errorf("unsupported provider: %s", c.config.Provider)
	}

	if err != nil {
		return nil, err
	}

	summary, err := parseSummary(text)
	if err != nil {
		return nil, err
	}

	summary.Model = c.Name()

	return summary, nil
}

func buildSummarizationPrompt(input Input) string {
	return `You are an expert at analyzing software repositories.
Summarize what the repository below does in at most three sentences, then suggest up to five short lowercase tags.

Respond with a JSON object containing exactly these fields:
- summary: the summary text
- tags: an array of tag strings

Only state facts supported by the content.

` + input.Content()
}

// parseSummary accepts the model's JSON, tolerating a fenced code block.
func parseSummary(text string) (*Summary, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var summary Summary
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &summary); err != nil {
		return nil, fmt.Errorf("failed to parse summary JSON: %w", err)
	}

	summary.Text = strings.TrimSpace(summary.Text)
	if summary.Text == "" {
		return nil, fmt.Errorf("model returned an empty summary")
	}

	summary.Tags = normalizeTags(summary.Tags)

	return &summary, nil
}

// OpenAI API structures
type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []chatMessage         `json:"messages"`
	Temperature    float64               `json:"temperature,omitempty"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) completeOpenAI(ctx context.Context, prompt string) (string, error) {
	reqBody := openAIRequest{
		Model:          c.config.Model,
		Messages:       []chatMessage{{Role: "user", Content: prompt}},
		Temperature:    0.1,
		MaxTokens:      600,
		ResponseFormat: &openAIResponseFormat{Type: "json_object"},
	}

	respBody, err := c.post(ctx, "/chat/completions", reqBody, map[string]string{
		"Authorization": "Bearer " + c.config.APIKey,
	})
	if err != nil {
		return "", err
	}

	var response openAIResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("failed to parse OpenAI response: %w", err)
	}

	if response.Error != nil {
		return "", fmt.Errorf("OpenAI API error: %s", response.Error.Message)
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}

	return response.Choices[0].Message.Content, nil
}

// Anthropic API structures
type anthropicRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) completeAnthropic(ctx context.Context, prompt string) (string, error) {
	reqBody := anthropicRequest{
		Model:     c.config.Model,
		MaxTokens: 600,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
	}

	respBody, err := c.post(ctx, "/messages", reqBody, map[string]string{
		"x-api-key":         c.config.APIKey,
		"anthropic-version": "2023-06-01",
	})
	if err != nil {
		return "", err
	}

	var response anthropicResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("failed to parse Anthropic response: %w", err)
	}

	if response.Error != nil {
		return "", fmt.Errorf("Anthropic API error: %s", response.Error.Message)
	}

	if len(response.Content) == 0 {
		return "", fmt.Errorf("no response from Anthropic")
	}

	return response.Content[0].Text, nil
}

// Ollama API structures
type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func (c *Client) completeOllama(ctx context.Context, prompt string) (string, error) {
	reqBody := ollamaRequest{
		Model:  c.config.Model,
		Prompt: prompt,
		Format: "json",
	}

	respBody, err := c.post(ctx, "/api/generate", reqBody, nil)
	if err != nil {
		return "", err
	}

	var response ollamaResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("failed to parse Ollama response: %w", err)
	}

	if response.Error != "" {
		return "", fmt.Errorf("Ollama API error: %s", response.Error)
	}

	return response.Response, nil
}

func (c *Client) post(ctx context.Context, endpoint string, reqBody interface{}, headers map[string]string) ([]byte, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

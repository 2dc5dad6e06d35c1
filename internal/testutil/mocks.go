package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/jmbish04/gh-stars-sink/internal/github"
)

// MockGitHubClient implements github.Client for testing with error injection
type MockGitHubClient struct {
	mu sync.RWMutex

	starred    []github.StarredRepository
	readmes    map[string]string
	errors     map[string]error
	callCounts map[string]int
}

// MockOption is a functional option for configuring MockGitHubClient
type MockOption func(*MockGitHubClient)

// WithStarredRepos sets the starred listing, newest first.
func WithStarredRepos(repos ...github.StarredRepository) MockOption {
	return func(m *MockGitHubClient) {
		m.starred = repos
	}
}

// WithReadme sets the README body of a repository.
func WithReadme(fullName, content string) MockOption {
	return func(m *MockGitHubClient) {
		m.readmes[fullName] = content
	}
}

// WithError makes an operation fail. The key is "GetStarredRepos" or the
// full name of a repository whose README fetch should fail.
func WithError(key string, err error) MockOption {
	return func(m *MockGitHubClient) {
		m.errors[key] = err
	}
}

// NewMockGitHubClient creates a new mock GitHub client with the given options
func NewMockGitHubClient(opts ...MockOption) *MockGitHubClient {
	mock := &MockGitHubClient{
		readmes:    make(map[string]string),
		errors:     make(map[string]error),
		callCounts: make(map[string]int),
	}

	for _, opt := range opts {
		opt(mock)
	}

	return mock
}

// GetStarredRepos returns the configured listing, stopping at the first
// entry starred before since.
func (m *MockGitHubClient) GetStarredRepos(_ context.Context, since *time.Time) ([]github.StarredRepository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCounts["GetStarredRepos"]++

	if err := m.errors["GetStarredRepos"]; err != nil {
		return nil, err
	}

	var out []github.StarredRepository

	for _, entry := range m.starred {
		if since != nil && entry.StarredAt.Before(*since) {
			break
		}

		out = append(out, entry)
	}

	return out, nil
}

// GetReadme returns the configured README, or nil when none is set.
func (m *MockGitHubClient) GetReadme(_ context.Context, fullName string) (*github.Readme, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCounts["GetReadme"]++

	if err := m.errors[fullName]; err != nil {
		return nil, err
	}

	content, ok := m.readmes[fullName]
	if !ok {
		return nil, nil
	}

	return &github.Readme{Name: "README.md", Path: "README.md", SHA: "sha-" + fullName, Content: content}, nil
}

// GetCallCount returns the number of times a method was called
func (m *MockGitHubClient) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.callCounts[method]
}

// ResetCallCounts resets all call counters
func (m *MockGitHubClient) ResetCallCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCounts = make(map[string]int)
}

package github

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmbish04/gh-stars-sink/internal/config"
	"github.com/jmbish04/gh-stars-sink/internal/processor"
)

// fakeClient is an in-memory Client.
type fakeClient struct {
	mu         sync.Mutex
	starred    []StarredRepository
	listErr    error
	readmes    map[string]*Readme
	readmeErrs map[string]error
	calls      map[string]int
}

func (f *fakeClient) GetStarredRepos(ctx context.Context, since *time.Time) ([]StarredRepository, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}

	return f.starred, nil
}

func (f *fakeClient) GetReadme(ctx context.Context, fullName string) (*Readme, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.calls == nil {
		f.calls = make(map[string]int)
	}

	f.calls[fullName]++

	if err := f.readmeErrs[fullName]; err != nil {
		return nil, err
	}

	return f.readmes[fullName], nil
}

func testFetcherConfig() config.GitHubConfig {
	return config.GitHubConfig{ReadmeWorkers: 2, FetchReadmes: true}
}

func TestFetcher_FetchStarred(t *testing.T) {
	pushed := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	widget := entry(1, "acme/widget", 3)
	widget.Repo.Name = "widget"
	widget.Repo.HTMLURL = "https://github.com/acme/widget"
	widget.Repo.Topics = []string{"cli"}
	widget.Repo.PushedAt = &pushed
	widget.Repo.License = &License{SPDXID: "MIT", Name: "MIT License"}

	client := &fakeClient{
		starred: []StarredRepository{widget, entry(2, "acme/empty", 2), entry(3, "acme/flaky", 1)},
		readmes: map[string]*Readme{
			"acme/widget": {Name: "README.md", Content: "# Widget"},
		},
		readmeErrs: map[string]error{"acme/flaky": errors.New("connection reset")},
	}

	payloads, err := NewFetcher(client, testFetcherConfig()).FetchStarred(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, payloads, 3)

	p := payloads[0]
	assert.Equal(t, int64(1), p.ID)
	assert.Equal(t, "acme", p.Owner)
	assert.Equal(t, "widget", p.Name)
	assert.Equal(t, "https://github.com/acme/widget", p.URL)
	assert.Equal(t, []string{"cli"}, p.Topics)
	assert.Equal(t, "MIT", p.LicenseSPDXID)
	assert.Equal(t, &pushed, p.PushedAt)
	require.NotNil(t, p.StarredAt)
	assert.True(t, p.StarredAt.Equal(starredAt(3)))
	assert.Equal(t, "# Widget", p.Readme)
	assert.Equal(t, "README.md", p.ReadmeName)
	assert.False(t, p.SkipReadme)
	assert.NotEmpty(t, p.Raw)

	assert.Empty(t, payloads[1].Readme)
	assert.False(t, payloads[1].SkipReadme)

	assert.True(t, payloads[2].SkipReadme)

	p.Normalize()
	assert.Equal(t, processor.Fingerprint("# Widget"), p.ReadmeSHA)
}

func TestFetcher_SkipsReadmesWhenDisabled(t *testing.T) {
	client := &fakeClient{starred: []StarredRepository{entry(1, "acme/a", 1)}}

	cfg := testFetcherConfig()
	cfg.FetchReadmes = false

	payloads, err := NewFetcher(client, cfg).FetchStarred(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Empty(t, client.calls)
}

func TestFetcher_ListFailure(t *testing.T) {
	client := &fakeClient{listErr: errors.New("unauthorized")}

	_, err := NewFetcher(client, testFetcherConfig()).FetchStarred(context.Background(), nil)
	assert.EqualError(t, err, "unauthorized")
}

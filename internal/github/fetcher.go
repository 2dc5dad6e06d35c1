package github

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmbish04/gh-stars-sink/internal/cache"
	"github.com/jmbish04/gh-stars-sink/internal/config"
	"github.com/jmbish04/gh-stars-sink/internal/logging"
	"github.com/jmbish04/gh-stars-sink/internal/syncer"
)

// NewClientFromConfig picks the go-github client when a token is
// configured and the gh CLI credentials otherwise. READMEs are cached when
// c is not nil.
func NewClientFromConfig(ctx context.Context, cfg *config.Config, c cache.Cache) (Client, error) {
	var client Client

	if cfg.GitHub.Token != "" {
		client = NewTokenClient(ctx, cfg.GitHub)
	} else {
		gh, err := NewGHClient(cfg.GitHub)
		if err != nil {
			return nil, err
		}

		client = gh
	}

	if c != nil {
		client = NewCachedClient(client, c, time.Duration(cfg.Cache.TTLHours)*time.Hour)
	}

	return client, nil
}

// Fetcher turns the starred listing into sync payloads. It implements
// syncer.Source.
type Fetcher struct {
	client       Client
	pool         *WorkerPool
	fetchReadmes bool
}

var _ syncer.Source = (*Fetcher)(nil)

func NewFetcher(client Client, cfg config.GitHubConfig) *Fetcher {
	return &Fetcher{
		client:       client,
		pool:         NewWorkerPool(cfg.ReadmeWorkers, cfg.RateLimit, time.Second, 30*time.Second),
		fetchReadmes: cfg.FetchReadmes,
	}
}

// FetchStarred lists starred repositories and attaches their READMEs. A
// README that cannot be fetched marks the payload with SkipReadme so the
// stored copy survives; a failed listing fails the whole fetch.
func (f *Fetcher) FetchStarred(ctx context.Context, since *time.Time) ([]syncer.Payload, error) {
	starred, err := f.client.GetStarredRepos(ctx, since)
	if err != nil {
		return nil, err
	}

	payloads := make([]syncer.Payload, len(starred))
	for i, s := range starred {
		payloads[i] = toPayload(s)
	}

	if !f.fetchReadmes || len(starred) == 0 {
		return payloads, nil
	}

	tasks := make([]Task, len(starred))
	for i, s := range starred {
		fullName := s.Repo.FullName
		tasks[i] = Task{
			ID: fullName,
			Func: func(ctx context.Context) (interface{}, error) {
				return f.client.GetReadme(ctx, fullName)
			},
		}
	}

	failed := 0

	for i, result := range f.pool.Execute(ctx, tasks) {
		if result.Error != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			logging.WithError(result.Error).WithField("repo", result.ID).Warn("README unavailable, keeping stored copy")

			payloads[i].SkipReadme = true
			failed++

			continue
		}

		if readme, _ := result.Data.(*Readme); readme != nil {
			payloads[i].Readme = readme.Content
			payloads[i].ReadmeName = readme.Name
		}
	}

	logging.WithFields(map[string]interface{}{
		"repos":           len(payloads),
		"readme_failures": failed,
	}).Infof("fetched starred repositories")

	return payloads, nil
}

// toPayload maps the REST representation onto a sync payload. The README
// fingerprint is left to Normalize.
func toPayload(s StarredRepository) syncer.Payload {
	r := s.Repo
	starredAt := s.StarredAt

	p := syncer.Payload{
		ID:              r.ID,
		Owner:           r.Owner.Login,
		Name:            r.Name,
		FullName:        r.FullName,
		URL:             r.HTMLURL,
		Description:     r.Description,
		Language:        r.Language,
		StargazersCount: r.StargazersCount,
		WatchersCount:   r.WatchersCount,
		ForksCount:      r.ForksCount,
		OpenIssuesCount: r.OpenIssuesCount,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		PushedAt:        r.PushedAt,
		IsFork:          r.Fork,
		IsPrivate:       r.Private,
		IsArchived:      r.Archived,
		IsDisabled:      r.Disabled,
		DefaultBranch:   r.DefaultBranch,
		Topics:          r.Topics,
		Homepage:        r.Homepage,
	}

	if !starredAt.IsZero() {
		p.StarredAt = &starredAt
	}

	if r.License != nil {
		p.LicenseSPDXID = r.License.SPDXID
		p.LicenseName = r.License.Name
	}

	if raw, err := json.Marshal(s); err == nil {
		p.Raw = raw
	}

	return p
}

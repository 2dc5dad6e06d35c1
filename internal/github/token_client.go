package github

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"github.com/jmbish04/gh-stars-sink/internal/config"
	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
)

// TokenClient implements Client with go-github for environments without
// the gh CLI, authenticating with a personal access token.
type TokenClient struct {
	client   *gogithub.Client
	user     string
	perPage  int
	maxPages int
}

// NewTokenClient creates a client authenticated with cfg.Token.
func NewTokenClient(ctx context.Context, cfg config.GitHubConfig) *TokenClient {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})

	return newTokenClient(gogithub.NewClient(oauth2.NewClient(ctx, ts)), cfg)
}

func newTokenClient(client *gogithub.Client, cfg config.GitHubConfig) *TokenClient {
	perPage := cfg.PerPage
	if perPage <= 0 || perPage > 100 {
		perPage = 100
	}

	return &TokenClient{
		client:   client,
		user:     cfg.User,
		perPage:  perPage,
		maxPages: cfg.MaxPages,
	}
}

func (c *TokenClient) GetStarredRepos(ctx context.Context, since *time.Time) ([]StarredRepository, error) {
	opts := &gogithub.ActivityListStarredOptions{
		Sort:        "created",
		Direction:   "desc",
		ListOptions: gogithub.ListOptions{PerPage: c.perPage},
	}

	var all []StarredRepository

	for page := 1; ; page++ {
		starred, resp, err := c.client.Activity.ListStarred(ctx, c.user, opts)
		if err != nil {
			return nil, classifyGoGitHubError(err, "failed to fetch starred repositories")
		}

		for _, s := range starred {
			entry := fromGoGitHub(s)
			if since != nil && entry.StarredAt.Before(*since) {
				return all, nil
			}

			all = append(all, entry)
		}

		if resp.NextPage == 0 || (c.maxPages > 0 && page >= c.maxPages) {
			break
		}

		opts.Page = resp.NextPage
	}

	return all, nil
}

func (c *TokenClient) GetReadme(ctx context.Context, fullName string) (*Readme, error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok {
		return nil, apperrors.NewValidationError("full_name", "expected owner/name, got "+fullName)
	}

	file, _, err := c.client.Repositories.GetReadme(ctx, owner, name, nil)
	if err != nil {
		var respErr *gogithub.ErrorResponse
		if errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == http.StatusNotFound {
			return nil, nil
		}

		return nil, classifyGoGitHubError(err, "failed to fetch README of "+fullName)
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeGitHubAPI, "failed to decode README of "+fullName)
	}

	return &Readme{
		Name:    file.GetName(),
		Path:    file.GetPath(),
		SHA:     file.GetSHA(),
		Content: content,
	}, nil
}

func fromGoGitHub(s *gogithub.StarredRepository) StarredRepository {
	r := s.GetRepository()

	repo := Repository{
		ID:              r.GetID(),
		Name:            r.GetName(),
		FullName:        r.GetFullName(),
		Owner:           Owner{Login: r.GetOwner().GetLogin()},
		HTMLURL:         r.GetHTMLURL(),
		Description:     r.GetDescription(),
		Language:        r.GetLanguage(),
		StargazersCount: r.GetStargazersCount(),
		WatchersCount:   r.GetWatchersCount(),
		ForksCount:      r.GetForksCount(),
		OpenIssuesCount: r.GetOpenIssuesCount(),
		CreatedAt:       timestampPtr(r.CreatedAt),
		UpdatedAt:       timestampPtr(r.UpdatedAt),
		PushedAt:        timestampPtr(r.PushedAt),
		Fork:            r.GetFork(),
		Private:         r.GetPrivate(),
		Archived:        r.GetArchived(),
		Disabled:        r.GetDisabled(),
		DefaultBranch:   r.GetDefaultBranch(),
		Topics:          r.Topics,
		Homepage:        r.GetHomepage(),
	}

	if l := r.GetLicense(); l != nil {
		repo.License = &License{Key: l.GetKey(), Name: l.GetName(), SPDXID: l.GetSPDXID()}
	}

	return StarredRepository{StarredAt: s.GetStarredAt().Time, Repo: repo}
}

func timestampPtr(ts *gogithub.Timestamp) *time.Time {
	if ts == nil {
		return nil
	}

	t := ts.Time

	return &t
}

func classifyGoGitHubError(err error, message string) error {
	var (
		rateErr  *gogithub.RateLimitError
		abuseErr *gogithub.AbuseRateLimitError
		respErr  *gogithub.ErrorResponse
	)

	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return apperrors.Wrap(err, apperrors.ErrTypeRateLimit, message)
	case errors.As(err, &respErr):
		return apperrors.Wrap(err, apperrors.ErrTypeGitHubAPI, message)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	return apperrors.Wrap(err, apperrors.ErrTypeNetwork, message)
}

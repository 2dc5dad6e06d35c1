package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cli/go-gh/v2/pkg/api"

	"github.com/jmbish04/gh-stars-sink/internal/config"
	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
)

// starMediaType makes the starred endpoints include starred_at.
const starMediaType = "application/vnd.github.star+json"

// Client defines the GitHub operations the sync source needs.
type Client interface {
	// GetStarredRepos lists starred repositories, most recently starred
	// first. With since set, listing stops at the first older star.
	GetStarredRepos(ctx context.Context, since *time.Time) ([]StarredRepository, error)

	// GetReadme returns the default README of a repository, or nil when
	// the repository has none.
	GetReadme(ctx context.Context, fullName string) (*Readme, error)
}

// RESTClientInterface defines the interface for REST API operations
type RESTClientInterface interface {
	DoWithContext(ctx context.Context, method, path string, body io.Reader, response interface{}) error
}

// Repository is the REST representation of a repository.
type Repository struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	FullName        string     `json:"full_name"`
	Owner           Owner      `json:"owner"`
	HTMLURL         string     `json:"html_url"`
	Description     string     `json:"description"`
	Language        string     `json:"language"`
	StargazersCount int        `json:"stargazers_count"`
	WatchersCount   int        `json:"watchers_count"`
	ForksCount      int        `json:"forks_count"`
	OpenIssuesCount int        `json:"open_issues_count"`
	CreatedAt       *time.Time `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at"`
	PushedAt        *time.Time `json:"pushed_at"`
	Fork            bool       `json:"fork"`
	Private         bool       `json:"private"`
	Archived        bool       `json:"archived"`
	Disabled        bool       `json:"disabled"`
	DefaultBranch   string     `json:"default_branch"`
	Topics          []string   `json:"topics"`
	Homepage        string     `json:"homepage"`
	License         *License   `json:"license"`
}

type Owner struct {
	Login string `json:"login"`
}

// License represents repository license information
type License struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	SPDXID string `json:"spdx_id"`
}

// StarredRepository is one entry of the star+json listing.
type StarredRepository struct {
	StarredAt time.Time  `json:"starred_at"`
	Repo      Repository `json:"repo"`
}

// Readme is a decoded README file.
type Readme struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	SHA     string `json:"sha"`
	Content string `json:"content"`
}

type contentResponse struct {
	Readme
	Encoding string `json:"encoding"`
}

func (c contentResponse) decode() (*Readme, error) {
	readme := c.Readme

	if c.Encoding == "base64" {
		raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(c.Content, "\n", ""))
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", c.Path, err)
		}

		readme.Content = string(raw)
	}

	return &readme, nil
}

// GHClient implements Client with go-gh, reusing the gh CLI credentials.
type GHClient struct {
	starred   RESTClientInterface
	rest      RESTClientInterface
	user      string
	perPage   int
	maxPages  int
	pageDelay time.Duration
}

// NewGHClient creates a client using existing GitHub CLI authentication.
func NewGHClient(cfg config.GitHubConfig) (*GHClient, error) {
	starred, err := api.NewRESTClient(api.ClientOptions{
		Headers: map[string]string{"Accept": starMediaType},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub API client: %w", err)
	}

	rest, err := api.DefaultRESTClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub API client: %w", err)
	}

	return newGHClient(starred, rest, cfg), nil
}

func newGHClient(starred, rest RESTClientInterface, cfg config.GitHubConfig) *GHClient {
	perPage := cfg.PerPage
	if perPage <= 0 || perPage > 100 {
		perPage = 100
	}

	return &GHClient{
		starred:   starred,
		rest:      rest,
		user:      cfg.User,
		perPage:   perPage,
		maxPages:  cfg.MaxPages,
		pageDelay: 100 * time.Millisecond,
	}
}

func (c *GHClient) starredPath(page int) string {
	base := "user/starred"
	if c.user != "" {
		base = "users/" + c.user + "/starred"
	}

	return fmt.Sprintf("%s?sort=created&direction=desc&per_page=%d&page=%d", base, c.perPage, page)
}

// GetStarredRepos fetches starred repositories page by page.
func (c *GHClient) GetStarredRepos(ctx context.Context, since *time.Time) ([]StarredRepository, error) {
	var all []StarredRepository

	for page := 1; c.maxPages <= 0 || page <= c.maxPages; page++ {
		var repos []StarredRepository
		if err := c.starred.DoWithContext(ctx, http.MethodGet, c.starredPath(page), nil, &repos); err != nil {
			return nil, classifyError(err, fmt.Sprintf("failed to fetch starred repositories (page %d)", page))
		}

		for _, r := range repos {
			if since != nil && r.StarredAt.Before(*since) {
				return all, nil
			}

			all = append(all, r)
		}

		if len(repos) < c.perPage {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pageDelay):
		}
	}

	return all, nil
}

func (c *GHClient) GetReadme(ctx context.Context, fullName string) (*Readme, error) {
	var resp contentResponse

	err := c.rest.DoWithContext(ctx, http.MethodGet, "repos/"+fullName+"/readme", nil, &resp)
	if err != nil {
		var httpErr *api.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}

		return nil, classifyError(err, "failed to fetch README of "+fullName)
	}

	return resp.decode()
}

// classifyError maps go-gh HTTP errors onto the application error types.
func classifyError(err error, message string) error {
	var httpErr *api.HTTPError
	if !errors.As(err, &httpErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return apperrors.Wrap(err, apperrors.ErrTypeNetwork, message)
	}

	switch httpErr.StatusCode {
	case http.StatusTooManyRequests:
		return apperrors.Wrap(err, apperrors.ErrTypeRateLimit, message)
	case http.StatusForbidden:
		if strings.Contains(strings.ToLower(httpErr.Message), "rate limit") {
			return apperrors.Wrap(err, apperrors.ErrTypeRateLimit, message)
		}
	case http.StatusUnauthorized:
		return apperrors.Wrap(err, apperrors.ErrTypeGitHubAPI, message).
			WithSuggestion("Run 'gh auth login' or set GH_STARS_SINK_GITHUB_TOKEN")
	}

	return apperrors.Wrap(err, apperrors.ErrTypeGitHubAPI, message)
}

package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmbish04/gh-stars-sink/internal/github"
	"github.com/jmbish04/gh-stars-sink/internal/syncer"
)

// RepositoryOption is a functional option for configuring test repositories
type RepositoryOption func(*github.Repository)

// WithStars sets the stargazers count
func WithStars(count int) RepositoryOption {
	return func(r *github.Repository) {
		r.StargazersCount = count
	}
}

// WithLanguage sets the primary language
func WithLanguage(lang string) RepositoryOption {
	return func(r *github.Repository) {
		r.Language = lang
	}
}

// WithDescription sets the repository description
func WithDescription(desc string) RepositoryOption {
	return func(r *github.Repository) {
		r.Description = desc
	}
}

func WithTopics(topics ...string) RepositoryOption {
	return func(r *github.Repository) {
		r.Topics = topics
	}
}

// WithLicense sets the license information
func WithLicense(key, name, spdxID string) RepositoryOption {
	return func(r *github.Repository) {
		r.License = &github.License{Key: key, Name: name, SPDXID: spdxID}
	}
}

func WithHomepage(url string) RepositoryOption {
	return func(r *github.Repository) {
		r.Homepage = url
	}
}

func WithArchived() RepositoryOption {
	return func(r *github.Repository) {
		r.Archived = true
	}
}

// NewStarredRepository creates a starred listing entry with sensible
// defaults, starred at the given time.
func NewStarredRepository(id int64, fullName string, starredAt time.Time, opts ...RepositoryOption) github.StarredRepository {
	owner, name, _ := strings.Cut(fullName, "/")
	created := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	repo := github.Repository{
		ID:              id,
		Name:            name,
		FullName:        fullName,
		Owner:           github.Owner{Login: owner},
		HTMLURL:         "https://github.com/" + fullName,
		Description:     TestDescription,
		Language:        TestLanguage,
		StargazersCount: TestStarCount,
		DefaultBranch:   "main",
		CreatedAt:       &created,
		UpdatedAt:       &created,
		PushedAt:        &created,
	}

	for _, opt := range opts {
		opt(&repo)
	}

	return github.StarredRepository{StarredAt: starredAt, Repo: repo}
}

// NewPayload creates a sync payload the way a batch file would carry it.
func NewPayload(id int64, fullName, readme string, opts ...RepositoryOption) syncer.Payload {
	entry := NewStarredRepository(id, fullName, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), opts...)
	r := entry.Repo
	starredAt := entry.StarredAt

	p := syncer.Payload{
		ID:              r.ID,
		Owner:           r.Owner.Login,
		Name:            r.Name,
		FullName:        r.FullName,
		URL:             r.HTMLURL,
		Description:     r.Description,
		Language:        r.Language,
		StargazersCount: r.StargazersCount,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		PushedAt:        r.PushedAt,
		IsArchived:      r.Archived,
		DefaultBranch:   r.DefaultBranch,
		Topics:          r.Topics,
		Homepage:        r.Homepage,
		StarredAt:       &starredAt,
		Readme:          readme,
	}

	if r.License != nil {
		p.LicenseSPDXID = r.License.SPDXID
		p.LicenseName = r.License.Name
	}

	return p
}

// WriteBatch writes payloads as a JSON array into a temporary file and
// returns its path.
func WriteBatch(t *testing.T, payloads ...syncer.Payload) string {
	t.Helper()

	if payloads == nil {
		payloads = []syncer.Payload{}
	}

	data, err := json.Marshal(payloads)
	if err != nil {
		t.Fatalf("failed to marshal batch: %v", err)
	}

	path := filepath.Join(t.TempDir(), "batch.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write batch: %v", err)
	}

	return path
}

package syncer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
	"github.com/jmbish04/gh-stars-sink/internal/processor"
	"github.com/jmbish04/gh-stars-sink/internal/storage"
)

// Payload is one starred repository as delivered by a source.
type Payload struct {
	ID              int64      `json:"id"`
	Owner           string     `json:"owner"`
	Name            string     `json:"name"`
	FullName        string     `json:"full_name"`
	URL             string     `json:"url"`
	Description     string     `json:"description"`
	Language        string     `json:"language"`
	StargazersCount int        `json:"stargazers_count"`
	WatchersCount   int        `json:"watchers_count"`
	ForksCount      int        `json:"forks_count"`
	OpenIssuesCount int        `json:"open_issues_count"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
	PushedAt        *time.Time `json:"pushed_at,omitempty"`
	IsFork          bool       `json:"is_fork"`
	IsPrivate       bool       `json:"is_private"`
	IsArchived      bool       `json:"is_archived"`
	IsDisabled      bool       `json:"is_disabled"`
	DefaultBranch   string     `json:"default_branch"`
	Topics          []string   `json:"topics"`
	Homepage        string     `json:"homepage"`
	LicenseSPDXID   string     `json:"license_spdx_id"`
	LicenseName     string     `json:"license_name"`
	StarredAt       *time.Time `json:"starred_at,omitempty"`

	Readme     string `json:"readme"`
	ReadmeName string `json:"readme_name,omitempty"`
	ReadmeSHA  string `json:"readme_sha,omitempty"`

	// SkipReadme is set by a source that could not fetch the README. The
	// stored readme chunks and fingerprint are kept as they are.
	SkipReadme bool `json:"-"`

	// Raw is the payload as received, stored when raw capture is enabled.
	Raw json.RawMessage `json:"-"`

	decodeErr error
}

// DecodePayload parses one payload. Malformed JSON, including fields of
// the wrong type, is a validation error.
func DecodePayload(raw json.RawMessage) (Payload, error) {
	var p Payload

	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, apperrors.Wrap(err, apperrors.ErrTypeValidation, "malformed repository payload")
	}

	p.Raw = append(json.RawMessage(nil), raw...)

	return p, nil
}

// DecodeBatch splits a JSON array into payloads. An item that fails to
// decode is kept as a payload carrying its error, so it is reported as
// skipped instead of aborting the batch.
func DecodeBatch(data []byte) ([]Payload, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeValidation, "batch must be a JSON array")
	}

	payloads := make([]Payload, 0, len(items))

	for i, item := range items {
		p, err := DecodePayload(item)
		if err != nil {
			var ident struct {
				ID       int64  `json:"id"`
				FullName string `json:"full_name"`
			}

			_ = json.Unmarshal(item, &ident)

			p = Payload{ID: ident.ID, FullName: ident.FullName, decodeErr: fmt.Errorf("item %d: %w", i, err)}
		}

		payloads = append(payloads, p)
	}

	return payloads, nil
}

// Normalize fills owner and name from the full name and trims text
// fields. It is applied before validation.
func (p *Payload) Normalize() {
	p.FullName = strings.TrimSpace(p.FullName)
	p.Owner = strings.TrimSpace(p.Owner)
	p.Name = strings.TrimSpace(p.Name)

	if owner, name, ok := strings.Cut(p.FullName, "/"); ok {
		if p.Owner == "" {
			p.Owner = owner
		}

		if p.Name == "" {
			p.Name = name
		}
	}

	if p.URL == "" && p.FullName != "" {
		p.URL = "https://github.com/" + p.FullName
	}

	if p.ReadmeSHA == "" && p.Readme != "" {
		p.ReadmeSHA = processor.Fingerprint(p.Readme)
	}
}

// Validate rejects payloads that cannot be written.
func (p *Payload) Validate() error {
	if p.decodeErr != nil {
		return p.decodeErr
	}

	if p.ID <= 0 {
		return apperrors.NewValidationError("id", "must be a positive integer")
	}

	owner, name, ok := strings.Cut(p.FullName, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return apperrors.NewValidationError("full_name", fmt.Sprintf("%q is not owner/name", p.FullName))
	}

	if !strings.EqualFold(owner, p.Owner) || !strings.EqualFold(name, p.Name) {
		return apperrors.NewValidationError("full_name", fmt.Sprintf("%q does not match owner %q and name %q", p.FullName, p.Owner, p.Name))
	}

	for field, v := range map[string]int{
		"stargazers_count":  p.StargazersCount,
		"watchers_count":    p.WatchersCount,
		"forks_count":       p.ForksCount,
		"open_issues_count": p.OpenIssuesCount,
	} {
		if v < 0 {
			return apperrors.NewValidationError(field, "must not be negative")
		}
	}

	for i, topic := range p.Topics {
		if strings.TrimSpace(topic) == "" {
			return apperrors.NewValidationError("topics", fmt.Sprintf("topic %d is empty", i))
		}
	}

	return nil
}

// Fields returns the text the payload contributes to the embedding index.
func (p *Payload) Fields() processor.Fields {
	license := p.LicenseSPDXID
	if license == "" {
		license = p.LicenseName
	}

	return processor.Fields{
		Readme:      p.Readme,
		ReadmeName:  p.ReadmeName,
		Description: p.Description,
		Topics:      p.Topics,
		Homepage:    p.Homepage,
		Language:    p.Language,
		License:     license,
	}
}

// Record converts the payload to a catalog row.
func (p *Payload) Record(captureRaw bool) storage.RepositoryRecord {
	rec := storage.RepositoryRecord{
		ID:              p.ID,
		Owner:           p.Owner,
		Name:            p.Name,
		FullName:        p.FullName,
		URL:             p.URL,
		Description:     p.Description,
		Language:        p.Language,
		StargazersCount: p.StargazersCount,
		WatchersCount:   p.WatchersCount,
		ForksCount:      p.ForksCount,
		OpenIssuesCount: p.OpenIssuesCount,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
		PushedAt:        p.PushedAt,
		IsFork:          p.IsFork,
		IsPrivate:       p.IsPrivate,
		IsArchived:      p.IsArchived,
		IsDisabled:      p.IsDisabled,
		DefaultBranch:   p.DefaultBranch,
		Topics:          p.Topics,
		Homepage:        p.Homepage,
		LicenseSPDXID:   p.LicenseSPDXID,
		LicenseName:     p.LicenseName,
		ReadmeSHA:       p.ReadmeSHA,
	}

	if captureRaw {
		raw := p.Raw
		if len(raw) == 0 {
			raw, _ = json.Marshal(p)
		}

		rec.RawPayload = string(raw)
	}

	return rec
}

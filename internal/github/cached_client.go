package github

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmbish04/gh-stars-sink/internal/cache"
	"github.com/jmbish04/gh-stars-sink/internal/logging"
)

// readmeCacheKeyPrefix namespaces README bodies in the shared cache.
const readmeCacheKeyPrefix = "readme:"

// noReadme is cached for repositories without a README.
var noReadme = []byte("null")

// CachedClient wraps a Client and caches READMEs. Starred listings always
// go to the API so new stars are never hidden.
type CachedClient struct {
	client Client
	cache  cache.Cache
	ttl    time.Duration
}

// NewCachedClient creates a new cached GitHub client
func NewCachedClient(client Client, c cache.Cache, ttl time.Duration) *CachedClient {
	return &CachedClient{
		client: client,
		cache:  c,
		ttl:    ttl,
	}
}

func (c *CachedClient) GetStarredRepos(ctx context.Context, since *time.Time) ([]StarredRepository, error) {
	return c.client.GetStarredRepos(ctx, since)
}

// GetReadme returns the cached README when present, fetching and caching
// it otherwise. Cache failures are logged and fall through to the API.
func (c *CachedClient) GetReadme(ctx context.Context, fullName string) (*Readme, error) {
	key := readmeCacheKeyPrefix + fullName

	data, err := c.cache.Get(ctx, key)
	if err == nil {
		var readme *Readme
		if err := json.Unmarshal(data, &readme); err == nil {
			return readme, nil
		}

		logging.WithField("key", key).Warn("discarding corrupt cache entry")
	} else if !errors.Is(err, cache.ErrMiss) {
		logging.WithError(err).WithField("key", key).Debugf("cache read failed")
	}

	readme, err := c.client.GetReadme(ctx, fullName)
	if err != nil {
		return nil, err
	}

	data = noReadme
	if readme != nil {
		if data, err = json.Marshal(readme); err != nil {
			return readme, nil
		}
	}

	if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
		logging.WithError(err).WithField("key", key).Debugf("cache write failed")
	}

	return readme, nil
}

package cache

import (
	"time"

	"github.com/jmbish04/gh-stars-sink/internal/config"
)

const defaultMaxSizeMB = 256

// NewFromConfig opens the cache described by cfg, or a NoopCache when
// caching is disabled.
func NewFromConfig(cfg config.CacheConfig) (Cache, error) {
	if cfg.Disabled {
		return NoopCache{}, nil
	}

	cleanup, err := time.ParseDuration(cfg.CleanupFreq)
	if err != nil {
		cleanup = time.Hour
	}

	ttl := time.Duration(cfg.TTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return NewBoltCache(cfg.Directory, defaultMaxSizeMB, ttl, cleanup)
}

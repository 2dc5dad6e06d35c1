package storage

import (
	"time"

	"github.com/jmbish04/gh-stars-sink/internal/config"
	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
)

// NewDuckDBRepositoryFromConfig opens the catalog described by cfg,
// applying its query timeout and pool limits.
func NewDuckDBRepositoryFromConfig(cfg *config.DatabaseConfig) (*DuckDBRepository, error) {
	var (
		queryTimeout time.Duration
		lifetime     time.Duration
		err          error
	)

	if cfg.QueryTimeout != "" {
		queryTimeout, err = time.ParseDuration(cfg.QueryTimeout)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrTypeConfig, "invalid database.query_timeout")
		}
	}

	if cfg.ConnMaxLifetime != "" {
		lifetime, err = time.ParseDuration(cfg.ConnMaxLifetime)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrTypeConfig, "invalid database.conn_max_lifetime")
		}
	}

	repo, err := NewDuckDBRepositoryWithTimeout(cfg.Path, queryTimeout)
	if err != nil {
		return nil, err
	}

	repo.SetPoolLimits(cfg.MaxConnections, cfg.MaxIdleConns, lifetime)

	return repo, nil
}

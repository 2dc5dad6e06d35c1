package cmd

import (
	"context"
	"strconv"
	"strings"

	"github.com/jmbish04/gh-stars-sink/internal/config"
	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
	"github.com/jmbish04/gh-stars-sink/internal/storage"
)

// initializeStorage opens and migrates the catalog named by cfg.
func initializeStorage(ctx context.Context, cfg *config.Config) (*storage.DuckDBRepository, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeConfig, "failed to prepare data directories")
	}

	repo, err := storage.NewDuckDBRepositoryFromConfig(&cfg.Database)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrTypeConfig) {
			return nil, err
		}

		return nil, apperrors.Wrap(err, apperrors.ErrTypeDatabase, "failed to open catalog").
			WithSuggestion("Check database.path or pass --db-path")
	}

	if err := repo.Initialize(ctx); err != nil {
		repo.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrTypeDatabase, "failed to migrate catalog")
	}

	return repo, nil
}

// resolveRepository accepts a numeric id or an owner/name.
func resolveRepository(ctx context.Context, store storage.Repository, arg string) (*storage.RepositoryRecord, error) {
	arg = strings.TrimSpace(arg)

	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return store.GetRepository(ctx, id)
	}

	if !strings.Contains(arg, "/") {
		return nil, apperrors.NewValidationError("repository", "expected owner/name or a numeric id, got "+arg)
	}

	return store.GetRepositoryByName(ctx, arg)
}

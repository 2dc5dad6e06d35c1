package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
)

func tagKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// EnsureTag returns the id of the tag named name, creating it when no tag
// with the same case-insensitive name exists. The first spelling wins.
func (r *DuckDBRepository) EnsureTag(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, apperrors.NewValidationError("tag", "name must not be empty")
	}

	key := tagKey(name)

	// Serialises the select-then-insert so concurrent callers agree on one
	// row, and keeps cache reads ordered with DeleteTag and Clear.
	r.tagMu.Lock()
	defer r.tagMu.Unlock()

	if id, ok := r.tagCache.Get(key); ok {
		return id.(int64), nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var id int64

	err := r.db.QueryRowContext(ctx, "SELECT id FROM ai_tags WHERE name_key = ?", key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = r.db.QueryRowContext(ctx,
			"INSERT INTO ai_tags (name, name_key, created_at) VALUES (?, ?, ?) RETURNING id",
			name, key, dbTime(time.Now())).Scan(&id)
	}

	if err != nil {
		return 0, storageErr(err, "failed to ensure tag %q", name)
	}

	r.tagCache.Add(key, id)

	return id, nil
}

// AttachTags links tags to a repository. Links that already exist are
// left untouched.
func (r *DuckDBRepository) AttachTags(ctx context.Context, repoID int64, tagIDs []int64) error {
	if len(tagIDs) == 0 {
		return nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err, "failed to begin transaction")
	}

	defer func() { _ = tx.Rollback() }()

	exists, err := rowExists(ctx, tx, "SELECT COUNT(*) FROM repositories WHERE id = ?", repoID)
	if err != nil {
		return err
	}

	if !exists {
		return apperrors.Newf(apperrors.ErrTypeNotFound, "repository %d not found", repoID)
	}

	now := dbTime(time.Now())

	for _, tagID := range tagIDs {
		exists, err := rowExists(ctx, tx, "SELECT COUNT(*) FROM ai_tags WHERE id = ?", tagID)
		if err != nil {
			return err
		}

		if !exists {
			return apperrors.Newf(apperrors.ErrTypeNotFound, "tag %d not found", tagID)
		}

		_, err = tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO repo_ai_tags (repo_id, tag_id, created_at) VALUES (?, ?, ?)",
			repoID, tagID, now)
		if err != nil {
			return storageErr(err, "failed to attach tag %d to %d", tagID, repoID)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr(err, "failed to commit tags of %d", repoID)
	}

	return nil
}

func (r *DuckDBRepository) DetachTag(ctx context.Context, repoID, tagID int64) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, "DELETE FROM repo_ai_tags WHERE repo_id = ? AND tag_id = ?", repoID, tagID)
	if err != nil {
		return storageErr(err, "failed to detach tag %d from %d", tagID, repoID)
	}

	return nil
}

// DeleteTag removes a tag and every link to it.
func (r *DuckDBRepository) DeleteTag(ctx context.Context, tagID int64) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	r.tagMu.Lock()
	defer r.tagMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err, "failed to begin transaction")
	}

	defer func() { _ = tx.Rollback() }()

	var key string

	err = tx.QueryRowContext(ctx, "SELECT name_key FROM ai_tags WHERE id = ?", tagID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.Newf(apperrors.ErrTypeNotFound, "tag %d not found", tagID)
	}

	if err != nil {
		return storageErr(err, "failed to read tag %d", tagID)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM repo_ai_tags WHERE tag_id = ?", tagID); err != nil {
		return storageErr(err, "failed to unlink tag %d", tagID)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM ai_tags WHERE id = ?", tagID); err != nil {
		return storageErr(err, "failed to delete tag %d", tagID)
	}

	r.tagCache.Remove(key)

	if err := tx.Commit(); err != nil {
		return storageErr(err, "failed to commit delete of tag %d", tagID)
	}

	return nil
}

// ListTags returns the vocabulary with the number of linked repositories.
func (r *DuckDBRepository) ListTags(ctx context.Context) ([]Tag, error) {
	return r.queryTags(ctx, `
		SELECT t.id, t.name, COUNT(l.repo_id)
		FROM ai_tags t LEFT JOIN repo_ai_tags l ON l.tag_id = t.id
		GROUP BY t.id, t.name, t.name_key
		ORDER BY t.name_key`)
}

func (r *DuckDBRepository) ListRepositoryTags(ctx context.Context, repoID int64) ([]Tag, error) {
	return r.queryTags(ctx, `
		SELECT t.id, t.name, (SELECT COUNT(*) FROM repo_ai_tags c WHERE c.tag_id = t.id)
		FROM ai_tags t JOIN repo_ai_tags l ON l.tag_id = t.id
		WHERE l.repo_id = ?
		ORDER BY t.name_key`, repoID)
}

func (r *DuckDBRepository) queryTags(ctx context.Context, query string, args ...interface{}) ([]Tag, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err, "failed to list tags")
	}
	defer rows.Close()

	var tags []Tag

	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.RepoCount); err != nil {
			return nil, storageErr(err, "failed to scan tag")
		}

		tags = append(tags, tag)
	}

	return tags, rows.Err()
}

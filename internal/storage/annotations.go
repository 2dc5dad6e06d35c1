package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
)

// UpsertAnnotation stores the summary of a repository and refreshes the
// search mirror in the same transaction.
func (r *DuckDBRepository) UpsertAnnotation(ctx context.Context, annotation Annotation) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	summary := strings.TrimSpace(annotation.Summary)
	if summary == "" {
		return apperrors.NewValidationError("summary", "must not be empty")
	}

	indexedAt := annotation.LastIndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err, "failed to begin transaction")
	}

	defer func() { _ = tx.Rollback() }()

	repoExists, err := rowExists(ctx, tx, "SELECT COUNT(*) FROM repositories WHERE id = ?", annotation.RepoID)
	if err != nil {
		return err
	}

	if !repoExists {
		return apperrors.Newf(apperrors.ErrTypeNotFound, "repository %d not found", annotation.RepoID)
	}

	exists, err := rowExists(ctx, tx, "SELECT COUNT(*) FROM repo_ai WHERE repo_id = ?", annotation.RepoID)
	if err != nil {
		return err
	}

	if exists {
		_, err = tx.ExecContext(ctx,
			"UPDATE repo_ai SET summary = ?, model = ?, last_indexed_at = ? WHERE repo_id = ?",
			summary, nullIfEmpty(annotation.Model), dbTime(indexedAt), annotation.RepoID)
	} else {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO repo_ai (repo_id, summary, model, last_indexed_at) VALUES (?, ?, ?, ?)",
			annotation.RepoID, summary, nullIfEmpty(annotation.Model), dbTime(indexedAt))
	}

	if err != nil {
		return storageErr(err, "failed to write annotation of %d", annotation.RepoID)
	}

	if err := (mirrorSync{tx: tx}).onAnnotationUpsert(ctx, annotation.RepoID, summary); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE repositories SET needs_annotation = FALSE WHERE id = ?", annotation.RepoID); err != nil {
		return storageErr(err, "failed to clear annotation flag of %d", annotation.RepoID)
	}

	if err := tx.Commit(); err != nil {
		return storageErr(err, "failed to commit annotation of %d", annotation.RepoID)
	}

	return nil
}

// DeleteAnnotation removes the summary of a repository. Deleting a
// missing annotation is not an error.
func (r *DuckDBRepository) DeleteAnnotation(ctx context.Context, repoID int64) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err, "failed to begin transaction")
	}

	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM repo_ai WHERE repo_id = ?", repoID); err != nil {
		return storageErr(err, "failed to delete annotation of %d", repoID)
	}

	if err := (mirrorSync{tx: tx}).onAnnotationDelete(ctx, repoID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr(err, "failed to commit annotation delete of %d", repoID)
	}

	return nil
}

func (r *DuckDBRepository) GetAnnotation(ctx context.Context, repoID int64) (*Annotation, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var (
		annotation = Annotation{RepoID: repoID}
		model      sql.NullString
	)

	err := r.db.QueryRowContext(ctx,
		"SELECT summary, model, last_indexed_at FROM repo_ai WHERE repo_id = ?", repoID).
		Scan(&annotation.Summary, &model, &annotation.LastIndexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrTypeNotFound, "repository %d has no summary", repoID)
	}

	if err != nil {
		return nil, storageErr(err, "failed to get annotation of %d", repoID)
	}

	annotation.Model = model.String
	annotation.LastIndexedAt = annotation.LastIndexedAt.UTC()

	return &annotation, nil
}

// ListAnnotationCandidates returns repositories lacking a summary or
// flagged after a failed annotation. With force every repository is a candidate.
func (r *DuckDBRepository) ListAnnotationCandidates(ctx context.Context, force bool, limit int) ([]RepositoryRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := "SELECT " + repositoryColumns + " FROM repositories"
	if !force {
		query += " WHERE needs_annotation OR id NOT IN (SELECT repo_id FROM repo_ai)"
	}

	query += " ORDER BY id"

	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"

		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err, "failed to list annotation candidates")
	}
	defer rows.Close()

	var out []RepositoryRecord

	for rows.Next() {
		rec, err := scanRepository(rows)
		if err != nil {
			return nil, storageErr(err, "failed to scan repository")
		}

		out = append(out, *rec)
	}

	return out, rows.Err()
}

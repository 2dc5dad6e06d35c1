package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
)

// mirrorSync keeps repo_fts equal to the current repository and
// annotation state. It runs on the transaction of the mutation that
// caused it and is the only code that writes repo_fts.
type mirrorSync struct {
	tx *sql.Tx
}

func mirrorTopics(topics []string) string {
	return strings.Join(topics, " ")
}

// onRepositoryInsert creates the mirror row, carrying over an annotation
// that already exists for the id.
func (m mirrorSync) onRepositoryInsert(ctx context.Context, id int64, fullName, description string, topics []string) error {
	summary, err := m.currentSummary(ctx, id)
	if err != nil {
		return err
	}

	exists, err := rowExists(ctx, m.tx, "SELECT COUNT(*) FROM repo_fts WHERE repo_id = ?", id)
	if err != nil {
		return err
	}

	if exists {
		_, err = m.tx.ExecContext(ctx,
			"UPDATE repo_fts SET full_name = ?, description = ?, topics = ?, summary = ? WHERE repo_id = ?",
			fullName, description, mirrorTopics(topics), summary, id)
	} else {
		_, err = m.tx.ExecContext(ctx,
			"INSERT INTO repo_fts (repo_id, full_name, description, topics, summary) VALUES (?, ?, ?, ?, ?)",
			id, fullName, description, mirrorTopics(topics), summary)
	}

	if err != nil {
		return storageErr(err, "failed to create mirror entry for %d", id)
	}

	return nil
}

// onRepositoryUpdate overwrites the repository-derived fields. A missing
// row is recreated from scratch.
func (m mirrorSync) onRepositoryUpdate(ctx context.Context, id int64, fullName, description string, topics []string) error {
	res, err := m.tx.ExecContext(ctx,
		"UPDATE repo_fts SET full_name = ?, description = ?, topics = ? WHERE repo_id = ?",
		fullName, description, mirrorTopics(topics), id)
	if err != nil {
		return storageErr(err, "failed to update mirror entry for %d", id)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	return m.onRepositoryInsert(ctx, id, fullName, description, topics)
}

// onAnnotationUpsert sets the summary field, inserting the mirror row
// from the repository's current state when it does not exist yet.
func (m mirrorSync) onAnnotationUpsert(ctx context.Context, id int64, summary string) error {
	res, err := m.tx.ExecContext(ctx, "UPDATE repo_fts SET summary = ? WHERE repo_id = ?", summary, id)
	if err != nil {
		return storageErr(err, "failed to update mirror summary for %d", id)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	var (
		fullName    string
		description sql.NullString
		topics      sql.NullString
	)

	err = m.tx.QueryRowContext(ctx,
		"SELECT full_name, description, topics FROM repositories WHERE id = ?", id).
		Scan(&fullName, &description, &topics)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.Newf(apperrors.ErrTypeNotFound, "repository %d not found", id)
	}

	if err != nil {
		return storageErr(err, "failed to read repository %d for mirror", id)
	}

	_, err = m.tx.ExecContext(ctx,
		"INSERT INTO repo_fts (repo_id, full_name, description, topics, summary) VALUES (?, ?, ?, ?, ?)",
		id, fullName, description.String, mirrorTopics(decodeTopics(topics)), summary)
	if err != nil {
		return storageErr(err, "failed to create mirror entry for %d", id)
	}

	return nil
}

// onAnnotationDelete clears the summary; the row stays because the
// repository still exists.
func (m mirrorSync) onAnnotationDelete(ctx context.Context, id int64) error {
	if _, err := m.tx.ExecContext(ctx, "UPDATE repo_fts SET summary = NULL WHERE repo_id = ?", id); err != nil {
		return storageErr(err, "failed to clear mirror summary for %d", id)
	}

	return nil
}

func (m mirrorSync) onRepositoryDelete(ctx context.Context, id int64) error {
	if _, err := m.tx.ExecContext(ctx, "DELETE FROM repo_fts WHERE repo_id = ?", id); err != nil {
		return storageErr(err, "failed to delete mirror entry for %d", id)
	}

	return nil
}

// onCatalogClear drops every mirror row together with the catalog.
func (m mirrorSync) onCatalogClear(ctx context.Context) error {
	if _, err := m.tx.ExecContext(ctx, "DELETE FROM repo_fts"); err != nil {
		return storageErr(err, "failed to clear mirror")
	}

	return nil
}

func (m mirrorSync) currentSummary(ctx context.Context, id int64) (interface{}, error) {
	var summary string

	err := m.tx.QueryRowContext(ctx, "SELECT summary FROM repo_ai WHERE repo_id = ?", id).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, storageErr(err, "failed to read annotation of %d", id)
	}

	return summary, nil
}

// GetMirrorEntry reads the mirror row of a repository.
func (r *DuckDBRepository) GetMirrorEntry(ctx context.Context, repoID int64) (*MirrorEntry, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var (
		entry       = MirrorEntry{RepoID: repoID}
		description sql.NullString
		topics      sql.NullString
		summary     sql.NullString
	)

	err := r.db.QueryRowContext(ctx,
		"SELECT full_name, description, topics, summary FROM repo_fts WHERE repo_id = ?", repoID).
		Scan(&entry.FullName, &description, &topics, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrTypeNotFound, "no mirror entry for repository %d", repoID)
	}

	if err != nil {
		return nil, storageErr(err, "failed to get mirror entry for %d", repoID)
	}

	entry.Description = description.String
	entry.Topics = topics.String

	if summary.Valid {
		entry.Summary = &summary.String
	}

	return &entry, nil
}

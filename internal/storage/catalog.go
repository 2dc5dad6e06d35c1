package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
	"github.com/jmbish04/gh-stars-sink/internal/processor"
)

// ApplyRepository writes one repository as a single atomic unit: the
// catalog row (with last_synced_at touched), its star record, the
// reconciled embedding chunks of every source in update.Sources, and the
// search mirror. A full name already held by a different id yields a
// conflict error and nothing is written. Units are serialised with each
// other so the case-insensitive full-name check holds across concurrent
// callers.
func (r *DuckDBRepository) ApplyRepository(ctx context.Context, update RepositoryUpdate) (*ApplyResult, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	repo := update.Repo
	if repo.ID <= 0 {
		return nil, apperrors.NewValidationError("id", "must be a positive integer")
	}

	if update.SyncedAt.IsZero() {
		return nil, apperrors.New(apperrors.ErrTypeInternal, "apply repository: SyncedAt is required")
	}

	syncedAt := dbTime(update.SyncedAt)
	key := fullNameKey(repo.FullName)

	// Each transaction reads its own snapshot, so two units claiming the
	// same key concurrently would both pass the check below.
	r.nameMu.Lock()
	defer r.nameMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr(err, "failed to begin transaction")
	}

	defer func() { _ = tx.Rollback() }()

	var holder int64

	err = tx.QueryRowContext(ctx,
		"SELECT id FROM repositories WHERE full_name_key = ? AND id <> ? LIMIT 1", key, repo.ID).
		Scan(&holder)
	if err == nil {
		return nil, apperrors.NewConflictError(
			"full name %q is already held by repository %d", repo.FullName, holder)
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, storageErr(err, "failed to check full name uniqueness")
	}

	exists, err := rowExists(ctx, tx, "SELECT COUNT(*) FROM repositories WHERE id = ?", repo.ID)
	if err != nil {
		return nil, err
	}

	result := &ApplyResult{Inserted: !exists}
	mirror := mirrorSync{tx: tx}

	for _, src := range update.Sources {
		if err := reconcileSource(ctx, tx, repo.ID, src, syncedAt, result); err != nil {
			return nil, err
		}
	}

	result.NeedsReindex = repo.NeedsReindex || result.VectorsMissing > 0

	args := []interface{}{
		repo.Owner, repo.Name, repo.FullName, key, repo.URL, repo.Description, repo.Language,
		repo.StargazersCount, repo.WatchersCount, repo.ForksCount, repo.OpenIssuesCount,
		dbTimePtr(repo.CreatedAt), dbTimePtr(repo.UpdatedAt), dbTimePtr(repo.PushedAt),
		repo.IsFork, repo.IsPrivate, repo.IsArchived, repo.IsDisabled,
		repo.DefaultBranch, encodeTopics(repo.Topics), repo.Homepage, repo.LicenseSPDXID, repo.LicenseName,
		repo.ReadmeSHA, result.NeedsReindex, syncedAt, nullIfEmpty(repo.RawPayload),
		repo.ID,
	}

	if exists {
		_, err = tx.ExecContext(ctx, `
			UPDATE repositories SET
				owner = ?, name = ?, full_name = ?, full_name_key = ?, url = ?, description = ?, language = ?,
				stargazers_count = ?, watchers_count = ?, forks_count = ?, open_issues_count = ?,
				created_at = ?, updated_at = ?, pushed_at = ?,
				is_fork = ?, is_private = ?, is_archived = ?, is_disabled = ?,
				default_branch = ?, topics = ?, homepage = ?, license_spdx_id = ?, license_name = ?,
				readme_sha = ?, needs_reindex = ?, last_synced_at = ?, raw_payload = ?
			WHERE id = ?`, args...)
		if err != nil {
			return nil, storageErr(err, "failed to update repository %d", repo.ID)
		}

		err = mirror.onRepositoryUpdate(ctx, repo.ID, repo.FullName, repo.Description, repo.Topics)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO repositories (
				owner, name, full_name, full_name_key, url, description, language,
				stargazers_count, watchers_count, forks_count, open_issues_count,
				created_at, updated_at, pushed_at,
				is_fork, is_private, is_archived, is_disabled,
				default_branch, topics, homepage, license_spdx_id, license_name,
				readme_sha, needs_reindex, last_synced_at, raw_payload,
				id
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		if err != nil {
			return nil, storageErr(err, "failed to insert repository %d", repo.ID)
		}

		err = mirror.onRepositoryInsert(ctx, repo.ID, repo.FullName, repo.Description, repo.Topics)
	}

	if err != nil {
		return nil, err
	}

	if err := upsertStar(ctx, tx, repo.ID, update.StarredAt, syncedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr(err, "failed to commit repository %d", repo.ID)
	}

	return result, nil
}

// upsertStar overwrites the star timestamp. Without a timestamp from the
// source an existing record is kept and a new one is stamped with the
// sync time.
func upsertStar(ctx context.Context, tx *sql.Tx, repoID int64, starredAt *time.Time, syncedAt time.Time) error {
	exists, err := rowExists(ctx, tx, "SELECT COUNT(*) FROM stars WHERE repo_id = ?", repoID)
	if err != nil {
		return err
	}

	switch {
	case exists && starredAt == nil:
		return nil
	case exists:
		_, err = tx.ExecContext(ctx, "UPDATE stars SET starred_at = ? WHERE repo_id = ?", dbTime(*starredAt), repoID)
	default:
		at := syncedAt
		if starredAt != nil {
			at = dbTime(*starredAt)
		}

		_, err = tx.ExecContext(ctx, "INSERT INTO stars (repo_id, starred_at) VALUES (?, ?)", repoID, at)
	}

	if err != nil {
		return storageErr(err, "failed to write star for repository %d", repoID)
	}

	return nil
}

// LoadSyncState reads the stored fingerprints the orchestrator compares a
// payload against.
func (r *DuckDBRepository) LoadSyncState(ctx context.Context, id int64) (*SyncState, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	state := &SyncState{Hashes: make(map[processor.Source]map[int]string)}

	var (
		description     sql.NullString
		readme          sql.NullString
		needsReindex    sql.NullBool
		needsAnnotation sql.NullBool
	)

	err := r.db.QueryRowContext(ctx,
		"SELECT full_name, description, readme_sha, needs_reindex, needs_annotation FROM repositories WHERE id = ?", id).
		Scan(&state.FullName, &description, &readme, &needsReindex, &needsAnnotation)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}

	if err != nil {
		return nil, storageErr(err, "failed to load sync state for %d", id)
	}

	state.Exists = true
	state.Description = description.String
	state.ReadmeSHA = readme.String
	state.NeedsReindex = needsReindex.Bool
	state.NeedsSummary = needsAnnotation.Bool

	rows, err := r.db.QueryContext(ctx,
		"SELECT source, chunk_index, content_hash FROM embeddings WHERE repo_id = ?", id)
	if err != nil {
		return nil, storageErr(err, "failed to load chunk fingerprints for %d", id)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			source string
			index  int
			hash   string
		)

		if err := rows.Scan(&source, &index, &hash); err != nil {
			return nil, storageErr(err, "failed to scan chunk fingerprint")
		}

		src := processor.Source(source)
		if state.Hashes[src] == nil {
			state.Hashes[src] = make(map[int]string)
		}

		state.Hashes[src][index] = hash
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "failed to read chunk fingerprints")
	}

	state.HasSummary, err = rowExists(ctx, r.db, "SELECT COUNT(*) FROM repo_ai WHERE repo_id = ?", id)
	if err != nil {
		return nil, err
	}

	return state, nil
}

// DeleteRepository removes a repository and every dependent row (stars,
// embeddings, annotation, mirror entry, tag links) in one transaction.
func (r *DuckDBRepository) DeleteRepository(ctx context.Context, id int64) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err, "failed to begin transaction")
	}

	defer func() { _ = tx.Rollback() }()

	exists, err := rowExists(ctx, tx, "SELECT COUNT(*) FROM repositories WHERE id = ?", id)
	if err != nil {
		return err
	}

	if !exists {
		return apperrors.Newf(apperrors.ErrTypeNotFound, "repository %d not found", id)
	}

	for _, table := range []string{"stars", "embeddings", "repo_ai", "repo_ai_tags"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE repo_id = ?", id); err != nil {
			return storageErr(err, "failed to delete %s rows of repository %d", table, id)
		}
	}

	if err := (mirrorSync{tx: tx}).onRepositoryDelete(ctx, id); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM repositories WHERE id = ?", id); err != nil {
		return storageErr(err, "failed to delete repository %d", id)
	}

	if err := tx.Commit(); err != nil {
		return storageErr(err, "failed to commit delete of repository %d", id)
	}

	return nil
}

// MarkNeedsReindex flags a repository so the next sync recomputes its
// embeddings.
func (r *DuckDBRepository) MarkNeedsReindex(ctx context.Context, id int64) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, "UPDATE repositories SET needs_reindex = TRUE WHERE id = ?", id)
	if err != nil {
		return storageErr(err, "failed to flag repository %d for reindex", id)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.Newf(apperrors.ErrTypeNotFound, "repository %d not found", id)
	}

	return nil
}

// MarkNeedsAnnotation flags a repository whose annotation could not be
// generated so the next annotation pass retries it.
func (r *DuckDBRepository) MarkNeedsAnnotation(ctx context.Context, id int64) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, "UPDATE repositories SET needs_annotation = TRUE WHERE id = ?", id)
	if err != nil {
		return storageErr(err, "failed to flag repository %d for annotation", id)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.Newf(apperrors.ErrTypeNotFound, "repository %d not found", id)
	}

	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func rowExists(ctx context.Context, q queryRower, query string, args ...interface{}) (bool, error) {
	var count int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, storageErr(err, "failed to run existence check")
	}

	return count > 0, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}

	return s
}

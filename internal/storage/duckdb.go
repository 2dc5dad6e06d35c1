package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	_ "github.com/marcboeker/go-duckdb" // DuckDB driver

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
)

const (
	defaultQueryTimeout = 30 * time.Second
	tagCacheSize        = 512
)

// DuckDBRepository implements Repository on a single DuckDB file.
type DuckDBRepository struct {
	db           *sql.DB
	path         string
	queryTimeout time.Duration

	// nameMu is held from the full-name uniqueness check until commit.
	nameMu sync.Mutex

	tagMu    sync.Mutex
	tagCache *lru.Cache // name_key -> tag id
}

var _ Repository = (*DuckDBRepository)(nil)

// NewDuckDBRepository opens (creating if needed) the catalog at dbPath.
func NewDuckDBRepository(dbPath string) (*DuckDBRepository, error) {
	return NewDuckDBRepositoryWithTimeout(dbPath, defaultQueryTimeout)
}

// NewDuckDBRepositoryWithTimeout is NewDuckDBRepository with a per-query
// timeout applied to every read and write.
func NewDuckDBRepositoryWithTimeout(dbPath string, queryTimeout time.Duration) (*DuckDBRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cache, err := lru.New(tagCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tag cache: %w", err)
	}

	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}

	return &DuckDBRepository{
		db:           db,
		path:         dbPath,
		queryTimeout: queryTimeout,
		tagCache:     cache,
	}, nil
}

// Initialize applies pending schema migrations.
func (r *DuckDBRepository) Initialize(ctx context.Context) error {
	return NewMigrationManager(r.db).MigrateUp(ctx)
}

func (r *DuckDBRepository) Close() error {
	return r.db.Close()
}

// SetPoolLimits overrides the connection pool sizing.
func (r *DuckDBRepository) SetPoolLimits(maxOpen, maxIdle int, maxLifetime time.Duration) {
	if maxOpen > 0 {
		r.db.SetMaxOpenConns(maxOpen)
	}

	if maxIdle > 0 {
		r.db.SetMaxIdleConns(maxIdle)
	}

	if maxLifetime > 0 {
		r.db.SetConnMaxLifetime(maxLifetime)
	}
}

func (r *DuckDBRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.queryTimeout)
}

// storageErr classifies a driver error. Cancellation is passed through
// untouched so callers can tell an aborted batch from a broken database.
func storageErr(err error, format string, args ...interface{}) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf(format+": %w", append(args, err)...)
	}

	return apperrors.Wrapf(err, apperrors.ErrTypeDatabase, format, args...)
}

func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func dbTimePtr(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}

	return dbTime(*t)
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}

	t := nt.Time.UTC()

	return &t
}

func fullNameKey(fullName string) string {
	return strings.ToLower(strings.TrimSpace(fullName))
}

func encodeTopics(topics []string) string {
	if topics == nil {
		topics = []string{}
	}

	data, _ := json.Marshal(topics)

	return string(data)
}

func decodeTopics(raw sql.NullString) []string {
	topics := []string{}
	if raw.Valid && raw.String != "" {
		_ = json.Unmarshal([]byte(raw.String), &topics)
	}

	return topics
}

const repositoryColumns = `
	id, owner, name, full_name, url, description, language,
	stargazers_count, watchers_count, forks_count, open_issues_count,
	created_at, updated_at, pushed_at,
	is_fork, is_private, is_archived, is_disabled,
	default_branch, topics, homepage, license_spdx_id, license_name,
	readme_sha, needs_reindex, needs_annotation, last_synced_at, raw_payload`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRepository(row rowScanner) (*RepositoryRecord, error) {
	var (
		rec                                       RepositoryRecord
		url, description, language, branch        sql.NullString
		topics, homepage, spdx, license, readme   sql.NullString
		raw                                       sql.NullString
		createdAt, updatedAt, pushedAt            sql.NullTime
		stars, watchers, forks, issues            sql.NullInt64
		isFork, isPrivate, isArchived, isDisabled sql.NullBool
		needsReindex, needsAnnotation             sql.NullBool
	)

	err := row.Scan(
		&rec.ID, &rec.Owner, &rec.Name, &rec.FullName, &url, &description, &language,
		&stars, &watchers, &forks, &issues,
		&createdAt, &updatedAt, &pushedAt,
		&isFork, &isPrivate, &isArchived, &isDisabled,
		&branch, &topics, &homepage, &spdx, &license,
		&readme, &needsReindex, &needsAnnotation, &rec.LastSyncedAt, &raw,
	)
	if err != nil {
		return nil, err
	}

	rec.URL = url.String
	rec.Description = description.String
	rec.Language = language.String
	rec.StargazersCount = int(stars.Int64)
	rec.WatchersCount = int(watchers.Int64)
	rec.ForksCount = int(forks.Int64)
	rec.OpenIssuesCount = int(issues.Int64)
	rec.CreatedAt = nullTimePtr(createdAt)
	rec.UpdatedAt = nullTimePtr(updatedAt)
	rec.PushedAt = nullTimePtr(pushedAt)
	rec.IsFork = isFork.Bool
	rec.IsPrivate = isPrivate.Bool
	rec.IsArchived = isArchived.Bool
	rec.IsDisabled = isDisabled.Bool
	rec.DefaultBranch = branch.String
	rec.Topics = decodeTopics(topics)
	rec.Homepage = homepage.String
	rec.LicenseSPDXID = spdx.String
	rec.LicenseName = license.String
	rec.ReadmeSHA = readme.String
	rec.NeedsReindex = needsReindex.Bool
	rec.NeedsAnnotation = needsAnnotation.Bool
	rec.LastSyncedAt = rec.LastSyncedAt.UTC()
	rec.RawPayload = raw.String

	return &rec, nil
}

// GetRepository returns the catalog row for id or a not_found error.
func (r *DuckDBRepository) GetRepository(ctx context.Context, id int64) (*RepositoryRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rec, err := scanRepository(r.db.QueryRowContext(ctx,
		"SELECT "+repositoryColumns+" FROM repositories WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrTypeNotFound, "repository %d not found", id)
	}

	if err != nil {
		return nil, storageErr(err, "failed to get repository %d", id)
	}

	return rec, nil
}

// GetRepositoryByName looks a repository up by full name, ignoring case.
func (r *DuckDBRepository) GetRepositoryByName(ctx context.Context, fullName string) (*RepositoryRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rec, err := scanRepository(r.db.QueryRowContext(ctx,
		"SELECT "+repositoryColumns+" FROM repositories WHERE full_name_key = ?", fullNameKey(fullName)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrTypeNotFound, "repository %s not found", fullName).
			WithSuggestion("Run 'gh-stars-sink sync' to refresh the catalog")
	}

	if err != nil {
		return nil, storageErr(err, "failed to get repository %s", fullName)
	}

	return rec, nil
}

// ListRepositories pages through the catalog ordered by full name.
func (r *DuckDBRepository) ListRepositories(ctx context.Context, limit, offset int) ([]RepositoryRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+repositoryColumns+" FROM repositories ORDER BY full_name_key LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, storageErr(err, "failed to list repositories")
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

// ListRepositoryIDs returns every catalog id in ascending order.
func (r *DuckDBRepository) ListRepositoryIDs(ctx context.Context) ([]int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, "SELECT id FROM repositories ORDER BY id")
	if err != nil {
		return nil, storageErr(err, "failed to list repository ids")
	}
	defer rows.Close()

	var ids []int64

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr(err, "failed to scan repository id")
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (r *DuckDBRepository) GetStar(ctx context.Context, id int64) (*StarRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	star := StarRecord{RepoID: id}

	err := r.db.QueryRowContext(ctx, "SELECT starred_at FROM stars WHERE repo_id = ?", id).
		Scan(&star.StarredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrTypeNotFound, "no star recorded for repository %d", id)
	}

	if err != nil {
		return nil, storageErr(err, "failed to get star for repository %d", id)
	}

	star.StarredAt = star.StarredAt.UTC()

	return &star, nil
}

// GetStats summarises table sizes, the latest job and languages.
func (r *DuckDBRepository) GetStats(ctx context.Context) (*Stats, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	stats := &Stats{LanguageBreakdown: make(map[string]int)}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM repositories", &stats.TotalRepositories},
		{"SELECT COUNT(*) FROM stars", &stats.TotalStars},
		{"SELECT COUNT(*) FROM embeddings", &stats.TotalEmbeddings},
		{"SELECT COUNT(*) FROM repo_ai", &stats.TotalAnnotations},
		{"SELECT COUNT(*) FROM ai_tags", &stats.TotalTags},
		{"SELECT COUNT(*) FROM repositories WHERE needs_reindex", &stats.NeedsReindex},
	}

	for _, c := range counts {
		if err := r.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, storageErr(err, "failed to run %q", c.query)
		}
	}

	var lastSync sql.NullTime
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(last_synced_at) FROM repositories").Scan(&lastSync); err != nil {
		return nil, storageErr(err, "failed to get last sync time")
	}

	if lastSync.Valid {
		stats.LastSyncTime = lastSync.Time.UTC()
	}

	if jobs, err := r.ListSyncJobs(ctx, 1); err == nil && len(jobs) > 0 {
		stats.LastJob = &jobs[0]
	}

	if info, err := os.Stat(r.path); err == nil {
		stats.DatabaseSizeMB = float64(info.Size()) / (1024 * 1024)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT language, COUNT(*) FROM repositories
		WHERE language IS NOT NULL AND language <> ''
		GROUP BY language`)
	if err != nil {
		return nil, storageErr(err, "failed to get language breakdown")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			language string
			count    int
		)

		if err := rows.Scan(&language, &count); err != nil {
			return nil, storageErr(err, "failed to scan language breakdown")
		}

		stats.LanguageBreakdown[language] = count
	}

	return stats, rows.Err()
}

// Clear empties every catalog table in one transaction. Sync job history
// is kept.
func (r *DuckDBRepository) Clear(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	r.tagMu.Lock()
	defer r.tagMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err, "failed to begin transaction")
	}

	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"repo_ai_tags", "ai_tags", "repo_ai", "embeddings", "stars"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return storageErr(err, "failed to clear %s", table)
		}
	}

	if err := (mirrorSync{tx: tx}).onCatalogClear(ctx); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM repositories"); err != nil {
		return storageErr(err, "failed to clear repositories")
	}

	if err := tx.Commit(); err != nil {
		return storageErr(err, "failed to commit clear")
	}

	r.tagCache.Purge()

	return nil
}

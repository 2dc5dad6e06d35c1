package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/jmbish04/gh-stars-sink/internal/logging"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// MigrationManager handles database schema migrations
type MigrationManager struct {
	db *sql.DB
}

func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// GetMigrations returns all available migrations in order.
//
// No table declares foreign keys: the DuckDB release bundled with the
// driver cannot cascade, and its eager unique checks reject a delete and
// re-insert of the same key inside one transaction. Dependent rows are
// removed explicitly by DeleteRepository and DeleteTag, and case-insensitive
// full-name uniqueness is enforced by ApplyRepository under a store lock.
func (m *MigrationManager) GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Catalog, star ledger, embeddings, annotations, search mirror and sync jobs",
			Up: `
				CREATE TABLE IF NOT EXISTS repositories (
					id BIGINT PRIMARY KEY,
					owner VARCHAR NOT NULL,
					name VARCHAR NOT NULL,
					full_name VARCHAR NOT NULL,
					full_name_key VARCHAR NOT NULL,
					url VARCHAR,
					description VARCHAR,
					language VARCHAR,
					stargazers_count INTEGER DEFAULT 0,
					watchers_count INTEGER DEFAULT 0,
					forks_count INTEGER DEFAULT 0,
					open_issues_count INTEGER DEFAULT 0,
					created_at TIMESTAMP,
					updated_at TIMESTAMP,
					pushed_at TIMESTAMP,
					is_fork BOOLEAN DEFAULT FALSE,
					is_private BOOLEAN DEFAULT FALSE,
					is_archived BOOLEAN DEFAULT FALSE,
					is_disabled BOOLEAN DEFAULT FALSE,
					default_branch VARCHAR,
					topics VARCHAR,
					homepage VARCHAR,
					license_spdx_id VARCHAR,
					license_name VARCHAR,
					readme_sha VARCHAR,
					needs_reindex BOOLEAN DEFAULT FALSE,
					needs_annotation BOOLEAN DEFAULT FALSE,
					last_synced_at TIMESTAMP NOT NULL,
					raw_payload VARCHAR
				);

				CREATE TABLE IF NOT EXISTS stars (
					repo_id BIGINT PRIMARY KEY,
					starred_at TIMESTAMP NOT NULL
				);

				CREATE TABLE IF NOT EXISTS embeddings (
					repo_id BIGINT NOT NULL,
					source VARCHAR NOT NULL CHECK (source IN ('readme', 'description', 'topics', 'about')),
					chunk_index INTEGER NOT NULL,
					content VARCHAR NOT NULL,
					dim INTEGER NOT NULL,
					content_hash VARCHAR NOT NULL,
					vector VARCHAR NOT NULL,
					model VARCHAR,
					created_at TIMESTAMP NOT NULL,
					PRIMARY KEY (repo_id, source, chunk_index)
				);

				CREATE TABLE IF NOT EXISTS repo_ai (
					repo_id BIGINT PRIMARY KEY,
					summary VARCHAR NOT NULL,
					model VARCHAR,
					last_indexed_at TIMESTAMP NOT NULL
				);

				CREATE TABLE IF NOT EXISTS repo_fts (
					repo_id BIGINT PRIMARY KEY,
					full_name VARCHAR NOT NULL,
					description VARCHAR,
					topics VARCHAR,
					summary VARCHAR
				);

				CREATE TABLE IF NOT EXISTS sync_jobs (
					id VARCHAR PRIMARY KEY,
					triggered_by VARCHAR NOT NULL,
					status VARCHAR NOT NULL CHECK (status IN ('started', 'completed', 'error')),
					started_at TIMESTAMP NOT NULL,
					completed_at TIMESTAMP,
					duration_seconds DOUBLE,
					repos_processed INTEGER DEFAULT 0,
					vectors_upserted INTEGER DEFAULT 0,
					repos_skipped INTEGER DEFAULT 0,
					repos_failed INTEGER DEFAULT 0,
					error VARCHAR
				);

				CREATE INDEX IF NOT EXISTS idx_sync_jobs_started_at ON sync_jobs(started_at);
			`,
			Down: `
				DROP INDEX IF EXISTS idx_sync_jobs_started_at;
				DROP TABLE IF EXISTS sync_jobs;
				DROP TABLE IF EXISTS repo_fts;
				DROP TABLE IF EXISTS repo_ai;
				DROP TABLE IF EXISTS embeddings;
				DROP TABLE IF EXISTS stars;
				DROP TABLE IF EXISTS repositories;
			`,
		},
		{
			Version:     2,
			Description: "AI tag catalog",
			Up: `
				CREATE SEQUENCE IF NOT EXISTS ai_tags_id_seq START 1;

				CREATE TABLE IF NOT EXISTS ai_tags (
					id BIGINT PRIMARY KEY DEFAULT nextval('ai_tags_id_seq'),
					name VARCHAR NOT NULL,
					name_key VARCHAR NOT NULL UNIQUE,
					created_at TIMESTAMP NOT NULL
				);

				CREATE TABLE IF NOT EXISTS repo_ai_tags (
					repo_id BIGINT NOT NULL,
					tag_id BIGINT NOT NULL,
					created_at TIMESTAMP NOT NULL,
					PRIMARY KEY (repo_id, tag_id)
				);
			`,
			Down: `
				DROP TABLE IF EXISTS repo_ai_tags;
				DROP TABLE IF EXISTS ai_tags;
				DROP SEQUENCE IF EXISTS ai_tags_id_seq;
			`,
		},
	}
}

// InitializeMigrationTable creates the migration tracking table
func (m *MigrationManager) InitializeMigrationTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description VARCHAR NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`)
	if err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	return nil
}

// GetAppliedMigrations returns a list of applied migration versions
func (m *MigrationManager) GetAppliedMigrations(ctx context.Context) ([]int, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []int

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}

		versions = append(versions, version)
	}

	return versions, rows.Err()
}

func (m *MigrationManager) IsMigrationApplied(ctx context.Context, version int) (bool, error) {
	var count int

	err := m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check migration status: %w", err)
	}

	return count > 0, nil
}

// ApplyMigration runs one migration and records it in a single transaction.
func (m *MigrationManager) ApplyMigration(ctx context.Context, migration Migration) error {
	applied, err := m.IsMigrationApplied(ctx, migration.Version)
	if err != nil {
		return err
	}

	if applied {
		return fmt.Errorf("migration %d already applied", migration.Version)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx, migration.Up); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
		migration.Version, migration.Description)
	if err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	return tx.Commit()
}

// RollbackMigration reverts one applied migration.
func (m *MigrationManager) RollbackMigration(ctx context.Context, migration Migration) error {
	applied, err := m.IsMigrationApplied(ctx, migration.Version)
	if err != nil {
		return err
	}

	if !applied {
		return fmt.Errorf("migration %d not applied", migration.Version)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %d: %w", migration.Version, err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", migration.Version)
	if err != nil {
		return fmt.Errorf("failed to remove migration record %d: %w", migration.Version, err)
	}

	return tx.Commit()
}

// MigrateUp applies all pending migrations
func (m *MigrationManager) MigrateUp(ctx context.Context) error {
	if err := m.InitializeMigrationTable(ctx); err != nil {
		return err
	}

	appliedVersions, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	appliedMap := make(map[int]bool, len(appliedVersions))
	for _, version := range appliedVersions {
		appliedMap[version] = true
	}

	migrations := m.GetMigrations()
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for _, migration := range migrations {
		if appliedMap[migration.Version] {
			continue
		}

		logging.Debugf("applying migration %d: %s", migration.Version, migration.Description)

		if err := m.ApplyMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// MigrateDown rolls back migrations newer than targetVersion.
func (m *MigrationManager) MigrateDown(ctx context.Context, targetVersion int) error {
	appliedVersions, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	migrationMap := make(map[int]Migration)
	for _, migration := range m.GetMigrations() {
		migrationMap[migration.Version] = migration
	}

	sort.Sort(sort.Reverse(sort.IntSlice(appliedVersions)))

	for _, version := range appliedVersions {
		if version <= targetVersion {
			break
		}

		migration, exists := migrationMap[version]
		if !exists {
			return fmt.Errorf("migration %d not found", version)
		}

		logging.Debugf("rolling back migration %d: %s", version, migration.Description)

		if err := m.RollbackMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", version, err)
		}
	}

	return nil
}

// GetMigrationStatus reports every known migration and when it was applied.
func (m *MigrationManager) GetMigrationStatus(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.InitializeMigrationTable(ctx); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	appliedAt := make(map[int]time.Time)

	for rows.Next() {
		var (
			version int
			at      sql.NullTime
		)

		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration status: %w", err)
		}

		appliedAt[version] = at.Time
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	migrations := m.GetMigrations()
	status := make([]MigrationStatus, 0, len(migrations))

	for _, migration := range migrations {
		at, applied := appliedAt[migration.Version]
		status = append(status, MigrationStatus{
			Version:     migration.Version,
			Description: migration.Description,
			Applied:     applied,
			AppliedAt:   at,
		})
	}

	return status, nil
}

// MigrationStatus represents the status of a migration
type MigrationStatus struct {
	Version     int       `json:"version"`
	Description string    `json:"description"`
	Applied     bool      `json:"applied"`
	AppliedAt   time.Time `json:"applied_at,omitempty"`
}

package storage

import (
	"context"
	"time"

	"github.com/jmbish04/gh-stars-sink/internal/processor"
)

// Repository is the catalog store used by the sync engine and the CLI.
type Repository interface {
	Initialize(ctx context.Context) error
	Close() error

	// Catalog
	ApplyRepository(ctx context.Context, update RepositoryUpdate) (*ApplyResult, error)
	LoadSyncState(ctx context.Context, id int64) (*SyncState, error)
	GetRepository(ctx context.Context, id int64) (*RepositoryRecord, error)
	GetRepositoryByName(ctx context.Context, fullName string) (*RepositoryRecord, error)
	ListRepositories(ctx context.Context, limit, offset int) ([]RepositoryRecord, error)
	ListRepositoryIDs(ctx context.Context) ([]int64, error)
	DeleteRepository(ctx context.Context, id int64) error
	MarkNeedsReindex(ctx context.Context, id int64) error
	MarkNeedsAnnotation(ctx context.Context, id int64) error
	GetStar(ctx context.Context, id int64) (*StarRecord, error)

	// Embeddings
	ListEmbeddings(ctx context.Context, repoID int64) ([]EmbeddingChunk, error)
	ScanVectors(ctx context.Context, fn func(EmbeddingChunk) error) error

	// Annotations
	UpsertAnnotation(ctx context.Context, annotation Annotation) error
	DeleteAnnotation(ctx context.Context, repoID int64) error
	GetAnnotation(ctx context.Context, repoID int64) (*Annotation, error)
	ListAnnotationCandidates(ctx context.Context, force bool, limit int) ([]RepositoryRecord, error)

	// Search mirror (read only)
	GetMirrorEntry(ctx context.Context, repoID int64) (*MirrorEntry, error)
	SearchMirror(ctx context.Context, query string, limit int) ([]MirrorHit, error)

	// Sync jobs
	OpenSyncJob(ctx context.Context, triggeredBy string, startedAt time.Time) (string, error)
	CloseSyncJob(ctx context.Context, id string, completion JobCompletion) error
	GetSyncJob(ctx context.Context, id string) (*SyncJob, error)
	ListSyncJobs(ctx context.Context, limit int) ([]SyncJob, error)

	// Tags
	EnsureTag(ctx context.Context, name string) (int64, error)
	AttachTags(ctx context.Context, repoID int64, tagIDs []int64) error
	DetachTag(ctx context.Context, repoID, tagID int64) error
	DeleteTag(ctx context.Context, tagID int64) error
	ListTags(ctx context.Context) ([]Tag, error)
	ListRepositoryTags(ctx context.Context, repoID int64) ([]Tag, error)

	GetStats(ctx context.Context) (*Stats, error)
	Clear(ctx context.Context) error
}

// RepositoryRecord is one row of the catalog.
type RepositoryRecord struct {
	ID              int64      `json:"id"`
	Owner           string     `json:"owner"`
	Name            string     `json:"name"`
	FullName        string     `json:"full_name"`
	URL             string     `json:"url"`
	Description     string     `json:"description"`
	Language        string     `json:"language"`
	StargazersCount int        `json:"stargazers_count"`
	WatchersCount   int        `json:"watchers_count"`
	ForksCount      int        `json:"forks_count"`
	OpenIssuesCount int        `json:"open_issues_count"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
	PushedAt        *time.Time `json:"pushed_at,omitempty"`
	IsFork          bool       `json:"is_fork"`
	IsPrivate       bool       `json:"is_private"`
	IsArchived      bool       `json:"is_archived"`
	IsDisabled      bool       `json:"is_disabled"`
	DefaultBranch   string     `json:"default_branch"`
	Topics          []string   `json:"topics"`
	Homepage        string     `json:"homepage"`
	LicenseSPDXID   string     `json:"license_spdx_id"`
	LicenseName     string     `json:"license_name"`
	ReadmeSHA       string     `json:"readme_sha"`
	NeedsReindex    bool       `json:"needs_reindex"`
	NeedsAnnotation bool       `json:"needs_annotation"`
	LastSyncedAt    time.Time  `json:"last_synced_at"`
	RawPayload      string     `json:"-"`
}

// StarRecord is the current-state star timestamp for one repository.
type StarRecord struct {
	RepoID    int64     `json:"repo_id"`
	StarredAt time.Time `json:"starred_at"`
}

// EmbeddingChunk is one row of the embedding index.
type EmbeddingChunk struct {
	RepoID      int64            `json:"repo_id"`
	Source      processor.Source `json:"source"`
	ChunkIndex  int              `json:"chunk_index"`
	Content     string           `json:"content"`
	Dim         int              `json:"dim"`
	ContentHash string           `json:"content_hash"`
	Vector      []float32        `json:"vector,omitempty"`
	Model       string           `json:"model"`
	CreatedAt   time.Time        `json:"created_at"`
}

// SourceUpdate carries the complete new chunk list of one source together
// with vectors for the chunks whose fingerprint changed. Sources omitted
// from a RepositoryUpdate keep their stored chunks.
type SourceUpdate struct {
	Source  processor.Source
	Chunks  []processor.Chunk
	Vectors map[int][]float32 // keyed by chunk index
	Model   string
}

// RepositoryUpdate is everything written for one repository in one
// transaction.
type RepositoryUpdate struct {
	Repo      RepositoryRecord
	StarredAt *time.Time
	Sources   []SourceUpdate
	SyncedAt  time.Time
}

// ApplyResult reports what ApplyRepository wrote.
type ApplyResult struct {
	Inserted         bool
	VectorsWritten   int
	VectorsUnchanged int
	VectorsDeleted   int
	VectorsMissing   int
	NeedsReindex     bool
}

// SyncState is the stored state the orchestrator compares a payload
// against before calling any collaborator.
type SyncState struct {
	Exists       bool
	FullName     string
	Description  string
	ReadmeSHA    string
	NeedsReindex bool
	HasSummary   bool
	// NeedsSummary is set after a failed annotation attempt.
	NeedsSummary bool
	Hashes       map[processor.Source]map[int]string
}

// Annotation is the AI-generated summary of a repository.
type Annotation struct {
	RepoID        int64     `json:"repo_id"`
	Summary       string    `json:"summary"`
	Model         string    `json:"model"`
	LastIndexedAt time.Time `json:"last_indexed_at"`
}

// MirrorEntry is the derived lexical-search projection of a repository.
type MirrorEntry struct {
	RepoID      int64   `json:"repo_id"`
	FullName    string  `json:"full_name"`
	Description string  `json:"description"`
	Topics      string  `json:"topics"`
	Summary     *string `json:"summary,omitempty"`
}

// MirrorHit is a ranked lexical search result.
type MirrorHit struct {
	MirrorEntry
	Score float64 `json:"score"`
}

// JobStatus is the lifecycle state of a sync job.
type JobStatus string

const (
	JobStarted   JobStatus = "started"
	JobCompleted JobStatus = "completed"
	JobError     JobStatus = "error"
)

// JobCounters are the per-run totals recorded on a sync job.
type JobCounters struct {
	ReposProcessed  int `json:"repos_processed"`
	VectorsUpserted int `json:"vectors_upserted"`
	ReposSkipped    int `json:"repos_skipped"`
	ReposFailed     int `json:"repos_failed"`
}

// JobCompletion closes a sync job.
type JobCompletion struct {
	Status      JobStatus
	Counters    JobCounters
	Error       string
	CompletedAt time.Time
}

// SyncJob is one audited ingestion run.
type SyncJob struct {
	ID              string     `json:"id"`
	TriggeredBy     string     `json:"triggered_by"`
	Status          JobStatus  `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	JobCounters
	Error string `json:"error,omitempty"`
}

// Tag is an entry of the AI tag vocabulary.
type Tag struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	RepoCount int    `json:"repo_count"`
}

// Stats summarises the catalog.
type Stats struct {
	TotalRepositories int            `json:"total_repositories"`
	TotalStars        int            `json:"total_stars"`
	TotalEmbeddings   int            `json:"total_embeddings"`
	TotalAnnotations  int            `json:"total_annotations"`
	TotalTags         int            `json:"total_tags"`
	NeedsReindex      int            `json:"needs_reindex"`
	LastSyncTime      time.Time      `json:"last_sync_time"`
	LastJob           *SyncJob       `json:"last_job,omitempty"`
	DatabaseSizeMB    float64        `json:"database_size_mb"`
	LanguageBreakdown map[string]int `json:"language_breakdown"`
}

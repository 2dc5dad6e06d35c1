package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
)

// EnvPrefix is prepended to every environment variable read by the loader.
const EnvPrefix = "GH_STARS_SINK_"

const appDirName = "gh-stars-sink"

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig   `json:"database"`
	Cache      CacheConfig      `json:"cache"`
	Logging    LoggingConfig    `json:"logging"`
	Debug      DebugConfig      `json:"debug"`
	GitHub     GitHubConfig     `json:"github"`
	Sync       SyncConfig       `json:"sync"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	Annotation AnnotationConfig `json:"annotation"`
}

type DatabaseConfig struct {
	Path            string `json:"path"               env:"DB_PATH"               envDefault:"~/.config/gh-stars-sink/catalog.duckdb"`
	MaxConnections  int    `json:"max_connections"    env:"DB_MAX_CONNECTIONS"    envDefault:"10"`
	MaxIdleConns    int    `json:"max_idle_conns"     env:"DB_MAX_IDLE_CONNS"     envDefault:"5"`
	ConnMaxLifetime string `json:"conn_max_lifetime"  env:"DB_CONN_MAX_LIFETIME"  envDefault:"30m"`
	QueryTimeout    string `json:"query_timeout"      env:"DB_QUERY_TIMEOUT"      envDefault:"30s"`
}

// CacheConfig controls the bbolt cache holding README bodies and vectors.
type CacheConfig struct {
	Directory   string `json:"directory"         env:"CACHE_DIR"          envDefault:"~/.cache/gh-stars-sink"`
	TTLHours    int    `json:"ttl_hours"         env:"CACHE_TTL_HOURS"    envDefault:"168"`
	CleanupFreq string `json:"cleanup_frequency" env:"CACHE_CLEANUP_FREQ" envDefault:"1h"`
	Disabled    bool   `json:"disabled"          env:"CACHE_DISABLED"     envDefault:"false"`
}

type LoggingConfig struct {
	Level      string `json:"level"        env:"LOG_LEVEL"        envDefault:"info"`                                  // debug, info, warn, error
	Format     string `json:"format"       env:"LOG_FORMAT"       envDefault:"text"`                                  // text, json
	Output     string `json:"output"       env:"LOG_OUTPUT"       envDefault:"stderr"`                                // stdout, stderr, file
	File       string `json:"file"         env:"LOG_FILE"         envDefault:"~/.config/gh-stars-sink/logs/sync.log"` // used when output is file
	MaxSizeMB  int    `json:"max_size_mb"  env:"LOG_MAX_SIZE_MB"  envDefault:"10"`
	MaxBackups int    `json:"max_backups"  env:"LOG_MAX_BACKUPS"  envDefault:"5"`
	MaxAgeDays int    `json:"max_age_days" env:"LOG_MAX_AGE_DAYS" envDefault:"30"`
	AddSource  bool   `json:"add_source"   env:"LOG_ADD_SOURCE"   envDefault:"false"`
}

type DebugConfig struct {
	Enabled     bool `json:"enabled"      env:"DEBUG"              envDefault:"false"`
	MetricsPort int  `json:"metrics_port" env:"DEBUG_METRICS_PORT" envDefault:"9464"`
	Verbose     bool `json:"verbose"      env:"VERBOSE"            envDefault:"false"`
}

// GitHubConfig selects how starred repositories are fetched. With an empty
// Token the gh CLI credentials are used.
type GitHubConfig struct {
	Token         string `json:"-"              env:"GITHUB_TOKEN"`
	User          string `json:"user"           env:"GITHUB_USER"`
	PerPage       int    `json:"per_page"       env:"GITHUB_PER_PAGE"       envDefault:"100"`
	MaxPages      int    `json:"max_pages"      env:"GITHUB_MAX_PAGES"      envDefault:"0"`
	ReadmeWorkers int    `json:"readme_workers" env:"GITHUB_README_WORKERS" envDefault:"4"`
	RateLimit     int    `json:"rate_limit"     env:"GITHUB_RATE_LIMIT"     envDefault:"10"` // requests per second
	FetchReadmes  bool   `json:"fetch_readmes"  env:"GITHUB_FETCH_READMES"  envDefault:"true"`
}

type SyncConfig struct {
	Concurrency  int    `json:"concurrency"    env:"SYNC_CONCURRENCY"     envDefault:"4"`
	MaxRetries   int    `json:"max_retries"    env:"SYNC_MAX_RETRIES"     envDefault:"3"`
	RetryBackoff string `json:"retry_backoff"  env:"SYNC_RETRY_BACKOFF"   envDefault:"500ms"`
	CaptureRaw   bool   `json:"capture_raw"    env:"SYNC_CAPTURE_RAW"     envDefault:"false"`
	Annotate     bool   `json:"annotate"       env:"SYNC_ANNOTATE"        envDefault:"false"`
	Prune        bool   `json:"prune"          env:"SYNC_PRUNE"           envDefault:"false"`
	Schedule     string `json:"schedule"       env:"SYNC_SCHEDULE"` // standard 5-field cron expression
	ChunkSize    int    `json:"chunk_size"     env:"SYNC_CHUNK_SIZE"      envDefault:"1200"`
	ChunkOverlap int    `json:"chunk_overlap"  env:"SYNC_CHUNK_OVERLAP"   envDefault:"0"`
	MaxChunks    int    `json:"max_chunks"     env:"SYNC_MAX_CHUNKS"      envDefault:"32"`
}

// EmbeddingConfig selects the embedding collaborator: hashing, ollama,
// command, python or disabled.
type EmbeddingConfig struct {
	Provider   string `json:"provider"   env:"EMBED_PROVIDER"   envDefault:"hashing"`
	Model      string `json:"model"      env:"EMBED_MODEL"      envDefault:"feature-hash-v1"`
	Dimensions int    `json:"dimensions" env:"EMBED_DIMENSIONS" envDefault:"384"`
	BaseURL    string `json:"base_url"   env:"EMBED_BASE_URL"   envDefault:"http://localhost:11434"`
	Command    string `json:"command"    env:"EMBED_COMMAND"`
	Timeout    string `json:"timeout"    env:"EMBED_TIMEOUT"    envDefault:"30s"`
}

// AnnotationConfig configures the summarizer used by the annotation pass.
type AnnotationConfig struct {
	Provider string `json:"provider" env:"ANNOTATE_PROVIDER" envDefault:"heuristic"` // heuristic, openai, anthropic, ollama
	Model    string `json:"model"    env:"ANNOTATE_MODEL"`
	APIKey   string `json:"-"        env:"ANNOTATE_API_KEY"`
	BaseURL  string `json:"base_url" env:"ANNOTATE_BASE_URL"`
	Timeout  string `json:"timeout"  env:"ANNOTATE_TIMEOUT"  envDefault:"60s"`
}

// DefaultConfig returns the configuration produced by envDefault tags alone.
func DefaultConfig() *Config {
	cfg := &Config{}
	_ = env.ParseWithOptions(cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: map[string]string{},
	})

	return cfg
}

// LoadConfig loads configuration from file, environment variables, and command-line flags
func LoadConfig() (*Config, error) {
	return LoadConfigWithOverrides(nil)
}

// LoadConfigWithOverrides resolves configuration with the precedence
// flags > environment > config file > defaults.
func LoadConfigWithOverrides(flagOverrides map[string]interface{}) (*Config, error) {
	config := DefaultConfig()

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := applyEnvironment(config, nil); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if flagOverrides != nil {
		if err := applyFlagOverrides(config, flagOverrides); err != nil {
			return nil, fmt.Errorf("failed to apply flag overrides: %w", err)
		}
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadConfigFromFile decodes the JSON file over config so keys missing from
// the file keep their current values.
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	fileConfig := *config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	*config = fileConfig

	return nil
}

// applyEnvironment copies every field whose environment value differs from
// its default into config. envDefault always fills unset variables, so the
// environment is parsed on its own and diffed against the defaults to avoid
// clobbering values loaded from the config file.
func applyEnvironment(config *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}

	fromEnv := &Config{}
	if err := env.ParseWithOptions(fromEnv, opts); err != nil {
		return err
	}

	overlayChanged(
		reflect.ValueOf(config).Elem(),
		reflect.ValueOf(fromEnv).Elem(),
		reflect.ValueOf(DefaultConfig()).Elem(),
	)

	return nil
}

func overlayChanged(target, source, defaults reflect.Value) {
	if target.Kind() == reflect.Struct {
		for i := range source.NumField() {
			overlayChanged(target.Field(i), source.Field(i), defaults.Field(i))
		}

		return
	}

	if !reflect.DeepEqual(source.Interface(), defaults.Interface()) {
		target.Set(source)
	}
}

func applyFlagOverrides(config *Config, overrides map[string]interface{}) error {
	for key, value := range overrides {
		switch key {
		case "db-path":
			if str, ok := value.(string); ok && str != "" {
				config.Database.Path = str
			}
		case "log-level":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Level = str
			}
		case "verbose":
			if b, ok := value.(bool); ok {
				config.Debug.Verbose = b
			}
		case "debug":
			if b, ok := value.(bool); ok {
				config.Debug.Enabled = b
			}
		case "cache-dir":
			if str, ok := value.(string); ok && str != "" {
				config.Cache.Directory = str
			}
		case "concurrency":
			if n, ok := value.(int); ok && n > 0 {
				config.Sync.Concurrency = n
			}
		case "embed-provider":
			if str, ok := value.(string); ok && str != "" {
				config.Embedding.Provider = str
			}
		default:
			return fmt.Errorf("unknown override: %s", key)
		}
	}

	return nil
}

func validateConfig(config *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf(
			"invalid log level: %s (must be debug, info, warn, or error)",
			config.Logging.Level,
		)
	}

	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[strings.ToLower(config.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", config.Logging.Format)
	}

	validLogOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validLogOutputs[strings.ToLower(config.Logging.Output)] {
		return fmt.Errorf(
			"invalid log output: %s (must be stdout, stderr, or file)",
			config.Logging.Output,
		)
	}

	for name, value := range map[string]string{
		"database query timeout":  config.Database.QueryTimeout,
		"cache cleanup frequency": config.Cache.CleanupFreq,
		"sync retry backoff":      config.Sync.RetryBackoff,
		"embedding timeout":       config.Embedding.Timeout,
		"annotation timeout":      config.Annotation.Timeout,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %s", name, value)
		}
	}

	if config.Database.MaxConnections <= 0 {
		return fmt.Errorf(
			"database max connections must be positive: %d",
			config.Database.MaxConnections,
		)
	}

	if config.Sync.Concurrency <= 0 {
		return fmt.Errorf("sync concurrency must be positive: %d", config.Sync.Concurrency)
	}

	if config.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync max retries must not be negative: %d", config.Sync.MaxRetries)
	}

	if config.Sync.ChunkSize <= 0 {
		return fmt.Errorf("sync chunk size must be positive: %d", config.Sync.ChunkSize)
	}

	if config.Sync.ChunkOverlap < 0 || config.Sync.ChunkOverlap >= config.Sync.ChunkSize {
		return fmt.Errorf("sync chunk overlap must be in [0, chunk size): %d", config.Sync.ChunkOverlap)
	}

	if config.Sync.Schedule != "" {
		if _, err := cron.ParseStandard(config.Sync.Schedule); err != nil {
			return fmt.Errorf("invalid sync schedule %q: %w", config.Sync.Schedule, err)
		}
	}

	validProviders := map[string]bool{"hashing": true, "ollama": true, "command": true, "python": true, "disabled": true}
	if !validProviders[strings.ToLower(config.Embedding.Provider)] {
		return fmt.Errorf(
			"invalid embedding provider: %s (must be hashing, ollama, command, python, or disabled)",
			config.Embedding.Provider,
		)
	}

	if strings.EqualFold(config.Embedding.Provider, "command") && config.Embedding.Command == "" {
		return fmt.Errorf("embedding provider command requires embedding.command")
	}

	if config.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive: %d", config.Embedding.Dimensions)
	}

	validAnnotators := map[string]bool{"heuristic": true, "openai": true, "anthropic": true, "ollama": true}
	if !validAnnotators[strings.ToLower(config.Annotation.Provider)] {
		return fmt.Errorf("invalid annotation provider: %s", config.Annotation.Provider)
	}

	return nil
}

// RetryBackoffDuration returns the parsed initial retry interval.
func (c *Config) RetryBackoffDuration() time.Duration {
	d, err := time.ParseDuration(c.Sync.RetryBackoff)
	if err != nil {
		return 500 * time.Millisecond
	}

	return d
}

// EmbeddingTimeout returns the parsed per-call embedding timeout.
func (c *Config) EmbeddingTimeout() time.Duration {
	d, err := time.ParseDuration(c.Embedding.Timeout)
	if err != nil {
		return 30 * time.Second
	}

	return d
}

// AnnotationTimeout returns the parsed per-call summarizer timeout.
func (c *Config) AnnotationTimeout() time.Duration {
	d, err := time.ParseDuration(c.Annotation.Timeout)
	if err != nil {
		return 60 * time.Second
	}

	return d
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config) error {
	configPath := getConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the path the loader reads the JSON config from.
func ConfigPath() string {
	return getConfigPath()
}

func getConfigPath() string {
	if configPath := os.Getenv(EnvPrefix + "CONFIG"); configPath != "" {
		return expandPath(configPath)
	}

	return filepath.Join(GetConfigDir(), "config.json")
}

// expandPath expands ~ to home directory in file paths
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// ExpandAllPaths expands all paths in the configuration
func (c *Config) ExpandAllPaths() {
	c.Database.Path = expandPath(c.Database.Path)
	c.Cache.Directory = expandPath(c.Cache.Directory)
	c.Logging.File = expandPath(c.Logging.File)
}

func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", appDirName)
	}

	return filepath.Join(homeDir, ".config", appDirName)
}

// EnsureDirectories creates the database, cache and log directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Database.Path),
		c.Cache.Directory,
	}
	if strings.EqualFold(c.Logging.Output, "file") {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}

	for _, dir := range dirs {
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	return nil
}

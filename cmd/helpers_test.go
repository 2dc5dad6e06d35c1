package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/jmbish04/gh-stars-sink/internal/config"
	"github.com/jmbish04/gh-stars-sink/internal/storage"
	"github.com/jmbish04/gh-stars-sink/internal/syncer"
	"github.com/jmbish04/gh-stars-sink/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	dir := t.TempDir()

	cfg.Database.Path = filepath.Join(dir, "catalog.duckdb")
	cfg.Cache.Directory = filepath.Join(dir, "cache")
	cfg.Cache.Disabled = true
	cfg.Embedding.Provider = "hashing"
	cfg.Embedding.Dimensions = 64
	cfg.Sync.RetryBackoff = "1ms"

	return cfg
}

// newTestPipeline returns a pipeline over a fresh catalog.
func newTestPipeline(t *testing.T) (*pipeline, *storage.DuckDBRepository) {
	t.Helper()

	store, cleanup := storage.NewTestDB(t)
	t.Cleanup(cleanup)

	p, err := newPipeline(testConfig(t), store)
	if err != nil {
		t.Fatalf("newPipeline() error = %v", err)
	}

	t.Cleanup(func() { p.Close() })

	return p, store
}

// seedCatalog syncs payloads from a batch file and returns the output.
func seedCatalog(t *testing.T, p *pipeline, payloads ...syncer.Payload) string {
	t.Helper()

	var out bytes.Buffer

	src := syncer.FileSource{Path: testutil.WriteBatch(t, payloads...)}
	opts := syncOptions{RunOptions: syncer.RunOptions{TriggeredBy: "test"}}

	if err := runSync(testutil.TestContext(t), &out, p, src, opts); err != nil {
		t.Fatalf("runSync() error = %v", err)
	}

	return out.String()
}

func samplePayloads() []syncer.Payload {
	return []syncer.Payload{
		testutil.NewPayload(1, "charm/bubbletea", "A framework for building terminal user interfaces in Go.",
			testutil.WithDescription("TUI framework"), testutil.WithTopics("tui", "terminal")),
		testutil.NewPayload(2, "spf13/viper", "Read configuration from yaml, toml and environment variables.",
			testutil.WithDescription("Configuration with fangs"), testutil.WithTopics("config")),
		testutil.NewPayload(3, "BurntSushi/ripgrep", "Recursively search directories for a regex pattern.",
			testutil.WithDescription("Fast line-oriented search"), testutil.WithLanguage("Rust")),
	}
}

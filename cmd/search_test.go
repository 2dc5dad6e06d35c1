package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
	"github.com/jmbish04/gh-stars-sink/internal/formatter"
	"github.com/jmbish04/gh-stars-sink/internal/query"
	"github.com/jmbish04/gh-stars-sink/internal/testutil"
)

func TestSearchOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    searchOptions
		wantErr bool
	}{
		{name: "valid", opts: searchOptions{Query: "tui", Limit: 10, Format: formatter.FormatShort}},
		{name: "empty query", opts: searchOptions{Query: "  ", Limit: 10, Format: formatter.FormatShort}, wantErr: true},
		{name: "zero limit", opts: searchOptions{Query: "tui", Limit: 0, Format: formatter.FormatShort}, wantErr: true},
		{name: "limit too high", opts: searchOptions{Query: "tui", Limit: 51, Format: formatter.FormatShort}, wantErr: true},
		{name: "max limit", opts: searchOptions{Query: "tui", Limit: 50, Format: formatter.FormatTable}},
		{name: "bad format", opts: searchOptions{Query: "tui", Limit: 10, Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}

			if err != nil && !apperrors.IsType(err, apperrors.ErrTypeValidation) {
				t.Errorf("validate() error type = %v, want validation", apperrors.GetType(err))
			}
		})
	}
}

func TestRunSearch_Lexical(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := testutil.TestContext(t)

	seedCatalog(t, p, samplePayloads()...)

	var out bytes.Buffer

	err := runSearch(ctx, &out, query.NewSearchEngine(store, nil),
		searchOptions{Query: "terminal", Limit: 10, Format: formatter.FormatShort})
	if err != nil {
		t.Fatalf("runSearch() error = %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "charm/bubbletea") {
		t.Errorf("output missing charm/bubbletea:\n%s", got)
	}

	if strings.Contains(got, "spf13/viper") {
		t.Errorf("output should not contain spf13/viper:\n%s", got)
	}
}

func TestRunSearch_SemanticJSON(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := testutil.TestContext(t)

	seedCatalog(t, p, samplePayloads()...)

	var out bytes.Buffer

	err := runSearch(ctx, &out, query.NewSearchEngine(store, p.embedder),
		searchOptions{Query: "recursively search directories for a regex", Semantic: true, Limit: 3, Format: formatter.FormatShort, JSON: true})
	if err != nil {
		t.Fatalf("runSearch() error = %v", err)
	}

	var results []query.Result
	if err := json.Unmarshal(out.Bytes(), &results); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}

	if len(results) == 0 || results[0].FullName != "BurntSushi/ripgrep" {
		t.Fatalf("top result = %+v, want BurntSushi/ripgrep", results)
	}

	if results[0].Source == "" {
		t.Error("semantic results should name the matching source")
	}
}

func TestRunSearch_EmptyJSON(t *testing.T) {
	_, store := newTestPipeline(t)

	var out bytes.Buffer

	err := runSearch(testutil.TestContext(t), &out, query.NewSearchEngine(store, nil),
		searchOptions{Query: "nothing", Limit: 10, Format: formatter.FormatShort, JSON: true})
	if err != nil {
		t.Fatalf("runSearch() error = %v", err)
	}

	if got := strings.TrimSpace(out.String()); got != "[]" {
		t.Errorf("output = %q, want []", got)
	}
}

func TestRunSearch_SemanticWithoutEmbedder(t *testing.T) {
	_, store := newTestPipeline(t)

	var out bytes.Buffer

	err := runSearch(testutil.TestContext(t), &out, query.NewSearchEngine(store, nil),
		searchOptions{Query: "tui", Semantic: true, Limit: 10, Format: formatter.FormatShort})
	if !apperrors.IsType(err, apperrors.ErrTypeConfig) {
		t.Errorf("runSearch() error = %v, want a config error", err)
	}
}

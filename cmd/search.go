package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
	"github.com/jmbish04/gh-stars-sink/internal/formatter"
	"github.com/jmbish04/gh-stars-sink/internal/logging"
	"github.com/jmbish04/gh-stars-sink/internal/query"
)

const maxSearchLimit = 50

func SearchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Aliases:   []string{"query"},
		Usage:     "Search the catalog",
		ArgsUsage: "<query>",
		Description: `Rank starred repositories against a query. The default lexical search weighs
matches in the name, topics, summary and description. --semantic embeds the
query and ranks repositories by their most similar chunk.

Examples:
  gh-stars-sink search "terminal ui"
  gh-stars-sink search --semantic --limit 5 "parse markdown in go"`,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "semantic", Aliases: []string{"s"}, Usage: "Use embedding similarity instead of term matching"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 10, Usage: "Maximum number of results (1-50)"},
			&cli.FloatFlag{Name: "min-score", Usage: "Drop results scoring below this value"},
			&cli.StringFlag{Name: "format", Value: "short", Usage: "Output format: short, long, table"},
			&cli.BoolFlag{Name: "json", Usage: "Print results as JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() == 0 {
				return apperrors.NewValidationError("query", "a search query is required")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store, err := initializeStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			opts := searchOptions{
				Query:    strings.Join(cmd.Args().Slice(), " "),
				Semantic: cmd.Bool("semantic"),
				Limit:    int(cmd.Int("limit")),
				MinScore: cmd.Float("min-score"),
				Format:   formatter.OutputFormat(cmd.String("format")),
				JSON:     cmd.Bool("json"),
			}

			var embedder query.Embedder

			if opts.Semantic {
				p, err := newPipeline(cfg, store)
				if err != nil {
					return err
				}
				defer p.Close()

				embedder = p.embedder
			}

			return runSearch(ctx, output(cmd), query.NewSearchEngine(store, embedder), opts)
		},
	}
}

type searchOptions struct {
	Query    string
	Semantic bool
	Limit    int
	MinScore float64
	Format   formatter.OutputFormat
	JSON     bool
}

func (o searchOptions) validate() error {
	if strings.TrimSpace(o.Query) == "" {
		return apperrors.NewValidationError("query", "must not be empty")
	}

	if o.Limit < 1 || o.Limit > maxSearchLimit {
		return apperrors.NewValidationError("limit", fmt.Sprintf("must be between 1 and %d", maxSearchLimit))
	}

	switch o.Format {
	case formatter.FormatShort, formatter.FormatLong, formatter.FormatTable:
		return nil
	default:
		return apperrors.NewValidationError("format", "must be short, long or table")
	}
}

func runSearch(ctx context.Context, w io.Writer, engine query.Engine, opts searchOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}

	mode := query.ModeLexical
	if opts.Semantic {
		mode = query.ModeSemantic
	}

	logging.Debugf("searching %q (mode: %s, limit: %d)", opts.Query, mode, opts.Limit)

	results, err := engine.Search(ctx, query.Query{Raw: opts.Query, Mode: mode},
		query.SearchOptions{Limit: opts.Limit, MinScore: opts.MinScore})
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		if results == nil {
			results = []query.Result{}
		}

		return enc.Encode(results)
	}

	fmt.Fprintln(w, formatter.NewFormatter().FormatResults(results, opts.Format))

	return nil
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/jmbish04/gh-stars-sink/internal/related"
	"github.com/jmbish04/gh-stars-sink/internal/storage"
)

func RelatedCommand() *cli.Command {
	return &cli.Command{
		Name:      "related",
		Usage:     "Find catalog repositories related to one repository",
		ArgsUsage: "<owner/name | id>",
		Description: `Score every other repository by shared owner, topic overlap, shared tags and
the similarity of their embedded content.`,
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 10, Usage: "Maximum number of results"},
			&cli.BoolFlag{Name: "json", Usage: "Print results as JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := exactArgs(cmd, 1); err != nil {
				return err
			}

			return withStore(ctx, cmd, func(store *storage.DuckDBRepository) error {
				return runRelated(ctx, output(cmd), store, cmd.Args().First(), int(cmd.Int("limit")), cmd.Bool("json"))
			})
		},
	}
}

func runRelated(ctx context.Context, w io.Writer, store storage.Repository, arg string, limit int, asJSON bool) error {
	rec, err := resolveRepository(ctx, store, arg)
	if err != nil {
		return err
	}

	results, err := related.NewEngine(store).FindRelated(ctx, rec.ID, limit)
	if err != nil {
		return err
	}

	if asJSON {
		if results == nil {
			results = []related.Repository{}
		}

		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintf(w, "No repositories related to %s.\n", rec.FullName)
		return nil
	}

	fmt.Fprintf(w, "Related to %s:\n", rec.FullName)

	for i, r := range results {
		fmt.Fprintf(w, "%d. %s  Score:%.2f\n   %s\n", i+1, r.Repository.FullName, r.Score, r.Explanation)
	}

	return nil
}

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/jmbish04/gh-stars-sink/internal/formatter"
	"github.com/jmbish04/gh-stars-sink/internal/storage"
)

func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show catalog statistics",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withStore(ctx, cmd, func(store *storage.DuckDBRepository) error {
				return runStats(ctx, output(cmd), store)
			})
		},
	}
}

func runStats(ctx context.Context, w io.Writer, store storage.Repository) error {
	stats, err := store.GetStats(ctx)
	if err != nil {
		return err
	}

	fmt.Fprint(w, formatter.NewFormatter().FormatStats(stats))

	return nil
}

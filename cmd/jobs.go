package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/jmbish04/gh-stars-sink/internal/formatter"
	"github.com/jmbish04/gh-stars-sink/internal/storage"
)

func JobsCommand() *cli.Command {
	return &cli.Command{
		Name:      "jobs",
		Usage:     "Show the sync job audit log",
		ArgsUsage: "[job id]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Number of jobs to show"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withStore(ctx, cmd, func(store *storage.DuckDBRepository) error {
				return runJobs(ctx, output(cmd), store, cmd.Args().First(), int(cmd.Int("limit")))
			})
		},
	}
}

func runJobs(ctx context.Context, w io.Writer, store storage.Repository, id string, limit int) error {
	f := formatter.NewFormatter()

	if id != "" {
		job, err := store.GetSyncJob(ctx, id)
		if err != nil {
			return err
		}

		fmt.Fprintln(w, f.FormatJobs([]storage.SyncJob{*job}))

		if job.Error != "" {
			fmt.Fprintf(w, "\nError: %s\n", job.Error)
		}

		return nil
	}

	jobs, err := store.ListSyncJobs(ctx, limit)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, f.FormatJobs(jobs))

	return nil
}

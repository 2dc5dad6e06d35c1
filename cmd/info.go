package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
	"github.com/jmbish04/gh-stars-sink/internal/formatter"
	"github.com/jmbish04/gh-stars-sink/internal/storage"
)

// withStore loads the configuration, opens the catalog and hands it to fn.
func withStore(ctx context.Context, cmd *cli.Command, fn func(store *storage.DuckDBRepository) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := initializeStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(store)
}

func exactArgs(cmd *cli.Command, n int) error {
	if cmd.Args().Len() != n {
		return apperrors.Newf(apperrors.ErrTypeValidation, "expected exactly %d argument(s), got %d", n, cmd.Args().Len())
	}

	return nil
}

func InfoCommand() *cli.Command {
	return &cli.Command{
		Name:        "info",
		Usage:       "Display detailed information about a specific repository",
		Description: `Show everything the catalog holds for one repository: metadata, star time, annotation, tags and embedded chunks.`,
		ArgsUsage:   "<owner/name | id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "short", Usage: "Only print the header and description"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := exactArgs(cmd, 1); err != nil {
				return err
			}

			format := formatter.FormatLong
			if cmd.Bool("short") {
				format = formatter.FormatShort
			}

			return withStore(ctx, cmd, func(store *storage.DuckDBRepository) error {
				return runInfo(ctx, output(cmd), store, cmd.Args().First(), format)
			})
		},
	}
}

func runInfo(ctx context.Context, w io.Writer, store storage.Repository, arg string, format formatter.OutputFormat) error {
	rec, err := resolveRepository(ctx, store, arg)
	if err != nil {
		return err
	}

	d := formatter.Details{Repo: *rec}

	if d.Star, err = store.GetStar(ctx, rec.ID); err != nil && !apperrors.IsType(err, apperrors.ErrTypeNotFound) {
		return err
	}

	if d.Annotation, err = store.GetAnnotation(ctx, rec.ID); err != nil && !apperrors.IsType(err, apperrors.ErrTypeNotFound) {
		return err
	}

	if d.Tags, err = store.ListRepositoryTags(ctx, rec.ID); err != nil {
		return err
	}

	if d.Chunks, err = store.ListEmbeddings(ctx, rec.ID); err != nil {
		return err
	}

	fmt.Fprintln(w, formatter.NewFormatter().FormatRepository(d, format))

	return nil
}

func RemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Aliases:   []string{"rm"},
		Usage:     "Delete a repository and everything derived from it",
		ArgsUsage: "<owner/name | id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := exactArgs(cmd, 1); err != nil {
				return err
			}

			return withStore(ctx, cmd, func(store *storage.DuckDBRepository) error {
				return runRemove(ctx, output(cmd), store, cmd.Args().First())
			})
		},
	}
}

func runRemove(ctx context.Context, w io.Writer, store storage.Repository, arg string) error {
	rec, err := resolveRepository(ctx, store, arg)
	if err != nil {
		return err
	}

	if err := store.DeleteRepository(ctx, rec.ID); err != nil {
		return err
	}

	fmt.Fprintf(w, "Removed %s (%d)\n", rec.FullName, rec.ID)

	return nil
}

func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List catalog repositories",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 50, Usage: "Maximum number of repositories"},
			&cli.IntFlag{Name: "offset", Usage: "Number of repositories to skip"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withStore(ctx, cmd, func(store *storage.DuckDBRepository) error {
				return runList(ctx, output(cmd), store, int(cmd.Int("limit")), int(cmd.Int("offset")))
			})
		},
	}
}

func runList(ctx context.Context, w io.Writer, store storage.Repository, limit, offset int) error {
	repos, err := store.ListRepositories(ctx, limit, offset)
	if err != nil {
		return err
	}

	if len(repos) == 0 {
		fmt.Fprintln(w, "No repositories in the catalog. Run 'gh-stars-sink sync' first.")
		return nil
	}

	fmt.Fprintln(w, formatter.NewFormatter().FormatRepositories(repos))

	return nil
}

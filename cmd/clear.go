package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
	"github.com/jmbish04/gh-stars-sink/internal/storage"
)

func ClearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Remove every repository from the catalog",
		Description: `Empty the catalog: repositories, stars, embeddings, annotations and tags.
The sync job history is kept. Requires --force.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Usage: "Confirm the deletion"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if !cmd.Bool("force") {
				return apperrors.NewValidationError("force", "clear deletes the whole catalog").
					WithSuggestion("Re-run with --force to confirm")
			}

			return withStore(ctx, cmd, func(store *storage.DuckDBRepository) error {
				return runClear(ctx, output(cmd), store)
			})
		},
	}
}

func runClear(ctx context.Context, w io.Writer, store storage.Repository) error {
	if err := store.Clear(ctx); err != nil {
		return err
	}

	fmt.Fprintln(w, "Catalog cleared.")

	return nil
}

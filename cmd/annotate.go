package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/jmbish04/gh-stars-sink/internal/syncer"
)

func AnnotateCommand() *cli.Command {
	return &cli.Command{
		Name:  "annotate",
		Usage: "Summarise and tag catalog repositories",
		Description: `Generate summaries for repositories without one, or for every repository
with --force. The provider is chosen with annotation.provider; failures mark
the repository for another annotation attempt and do not stop the pass.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Usage: "Re-annotate repositories that already have a summary"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum number of repositories (0 for all)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store, err := initializeStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			p, err := newPipeline(cfg, store)
			if err != nil {
				return err
			}
			defer p.Close()

			s, err := p.syncer(true)
			if err != nil {
				return err
			}

			return runAnnotate(ctx, output(cmd), s, cmd.Bool("force"), int(cmd.Int("limit")))
		},
	}
}

type annotator interface {
	Annotate(ctx context.Context, force bool, limit int) (*syncer.AnnotateResult, error)
}

func runAnnotate(ctx context.Context, w io.Writer, a annotator, force bool, limit int) error {
	result, err := a.Annotate(ctx, force, limit)
	if err != nil {
		return err
	}

	if result.Candidates == 0 {
		fmt.Fprintln(w, "Nothing to annotate.")
		return nil
	}

	fmt.Fprintf(w, "Annotated %d of %d repositories", result.Annotated, result.Candidates)

	if result.Failed > 0 {
		fmt.Fprintf(w, ", %d failed and marked for retry", result.Failed)
	}

	fmt.Fprintln(w)

	return nil
}

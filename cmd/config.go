package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/jmbish04/gh-stars-sink/internal/config"
	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
)

func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect or initialise the configuration",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the effective configuration as JSON",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}

					return runConfigShow(output(cmd), cfg)
				},
			},
			{
				Name:  "path",
				Usage: "Print the configuration file path",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fmt.Fprintln(output(cmd), config.ConfigPath())
					return nil
				},
			},
			{
				Name:  "init",
				Usage: "Write the default configuration file",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runConfigInit(output(cmd), config.ConfigPath(), cmd.Bool("force"))
				},
			},
		},
	}
}

// runConfigShow prints cfg. Secrets carry a json:"-" tag and never appear.
func runConfigShow(w io.Writer, cfg *config.Config) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(cfg)
}

func runConfigInit(w io.Writer, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return apperrors.NewConflictError("config file %s already exists", path).
			WithSuggestion("Pass --force to overwrite it")
	}

	if err := config.SaveConfig(config.DefaultConfig()); err != nil {
		return apperrors.Wrap(err, apperrors.ErrTypeConfig, "failed to write config")
	}

	fmt.Fprintf(w, "Wrote %s\n", path)

	return nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jmbish04/gh-stars-sink/internal/config"
	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
	"github.com/jmbish04/gh-stars-sink/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
)

// NewApp builds the command tree.
func NewApp() *cli.Command {
	return &cli.Command{
		Name:    "gh-stars-sink",
		Usage:   "Mirror your GitHub stars into a local searchable catalog",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Description: `gh-stars-sink fetches the repositories you starred on GitHub and keeps a
local DuckDB catalog of them: metadata, a lexical search mirror, chunk-level
embeddings and optional AI annotations. Every sync run is audited as a job.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db-path", Usage: "Path to the catalog database"},
			&cli.StringFlag{Name: "cache-dir", Usage: "Directory of the README and vector cache"},
			&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error"},
			&cli.StringFlag{Name: "embed-provider", Usage: "Embedding provider: hashing, ollama, command, python, disabled"},
			&cli.IntFlag{Name: "concurrency", Usage: "Repositories processed in parallel"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Verbose output"},
			&cli.BoolFlag{Name: "debug", Usage: "Enable debug mode and the metrics endpoint"},
		},
		Commands: []*cli.Command{
			SyncCommand(),
			SearchCommand(),
			ListCommand(),
			InfoCommand(),
			RelatedCommand(),
			RemoveCommand(),
			JobsCommand(),
			TagsCommand(),
			AnnotateCommand(),
			StatsCommand(),
			ClearCommand(),
			ConfigCommand(),
		},
	}
}

// Execute runs the CLI until completion or an interrupt.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewApp().Run(ctx, os.Args)
	if err != nil {
		printError(os.Stderr, err)
	}

	return err
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		for _, s := range appErr.Suggestions {
			fmt.Fprintf(w, "  hint: %s\n", s)
		}
	}
}

// loadConfig resolves the configuration with the global flags applied and
// initialises logging from it.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	overrides := make(map[string]interface{})

	for _, name := range []string{"db-path", "cache-dir", "log-level", "embed-provider"} {
		if cmd.IsSet(name) {
			overrides[name] = cmd.String(name)
		}
	}

	if cmd.IsSet("concurrency") {
		overrides["concurrency"] = int(cmd.Int("concurrency"))
	}

	for _, name := range []string{"verbose", "debug"} {
		if cmd.IsSet(name) {
			overrides[name] = cmd.Bool(name)
		}
	}

	cfg, err := config.LoadConfigWithOverrides(overrides)
	if err != nil {
		return nil, apperrors.NewConfigError(err.Error(), "")
	}

	cfg.ExpandAllPaths()

	if cfg.Debug.Verbose && cfg.Logging.Level != "debug" {
		cfg.Logging.Level = "debug"
	}

	if err := logging.InitializeLogger(cfg.Logging); err != nil {
		logging.SetupFallbackLogger()
		logging.WithError(err).Warn("falling back to stderr logging")
	}

	return cfg, nil
}

func output(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}

	return os.Stdout
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v3"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
	"github.com/jmbish04/gh-stars-sink/internal/formatter"
	"github.com/jmbish04/gh-stars-sink/internal/github"
	"github.com/jmbish04/gh-stars-sink/internal/logging"
	"github.com/jmbish04/gh-stars-sink/internal/monitor"
	"github.com/jmbish04/gh-stars-sink/internal/syncer"
)

func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Fetch starred repositories and update the catalog",
		Description: `Fetch the repositories starred by the configured user (or read a JSON batch
with --from-file) and apply them to the catalog. Each run is recorded as a sync
job. With --schedule the sync repeats on a cron expression until interrupted.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "from-file", Aliases: []string{"f"}, Usage: "Read a JSON array of repository payloads instead of calling GitHub"},
			&cli.StringFlag{Name: "since", Usage: "Only fetch stars newer than a duration (72h) or date (2024-01-31)"},
			&cli.BoolFlag{Name: "prune", Usage: "Delete catalog repositories that are no longer starred"},
			&cli.BoolFlag{Name: "annotate", Usage: "Summarise new and changed repositories"},
			&cli.StringFlag{Name: "schedule", Usage: "Repeat on a cron expression, e.g. '0 */6 * * *'"},
			&cli.StringFlag{Name: "triggered-by", Value: "cli", Usage: "Label recorded on the sync job"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			since, err := parseSince(cmd.String("since"), time.Now())
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

			p.serveMetrics(ctx)

			var src syncer.Source
			if path := cmd.String("from-file"); path != "" {
				src = syncer.FileSource{Path: path}
			} else {
				client, err := github.NewClientFromConfig(ctx, cfg, p.cache)
				if err != nil {
					return apperrors.Wrap(err, apperrors.ErrTypeGitHubAPI, "failed to create GitHub client").
						WithSuggestion("Run 'gh auth login' or set GH_STARS_SINK_GITHUB_TOKEN")
				}

				src = github.NewFetcher(client, cfg.GitHub)
			}

			opts := syncOptions{
				RunOptions: syncer.RunOptions{
					TriggeredBy: cmd.String("triggered-by"),
					Since:       since,
					Prune:       cmd.Bool("prune") || cfg.Sync.Prune,
				},
				Annotate: cmd.Bool("annotate") || cfg.Sync.Annotate,
				Spinner:  !cfg.Debug.Verbose,
			}

			w := output(cmd)

			schedule := cmd.String("schedule")
			if schedule == "" {
				schedule = cfg.Sync.Schedule
			}

			if schedule != "" {
				return runScheduled(ctx, schedule, func(ctx context.Context) error {
					return runSync(ctx, w, p, src, opts)
				})
			}

			return runSync(ctx, w, p, src, opts)
		},
	}
}

type syncOptions struct {
	syncer.RunOptions
	Annotate bool
	Spinner  bool
}

func runSync(ctx context.Context, w io.Writer, p *pipeline, src syncer.Source, opts syncOptions) error {
	s, err := p.syncer(opts.Annotate)
	if err != nil {
		return err
	}

	var sp *spinner.Spinner
	if opts.Spinner {
		sp = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		sp.Suffix = " Syncing starred repositories..."
		sp.Start()
	}

	p.memory.Start(ctx, time.Second)

	result, err := s.Run(ctx, src, opts.RunOptions)

	if p.memory != nil {
		logging.Debugf("sync memory: %s", monitor.Summary(p.memory.Stop()))
	}

	if sp != nil {
		sp.Stop()
	}

	if result != nil {
		fmt.Fprintln(w, formatter.NewFormatter().FormatSyncResult(result))
	}

	if err != nil {
		return err
	}

	if result.Err != nil {
		logging.WithError(result.Err).Debugf("sync finished with item errors")
	}

	return nil
}

// runScheduled runs fn on every tick of spec until ctx ends. Runs never
// overlap; a tick that fires while a run is in progress is skipped.
func runScheduled(ctx context.Context, spec string, fn func(context.Context) error) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err := c.AddFunc(spec, func() {
		if err := fn(ctx); err != nil {
			logging.WithError(err).Error("scheduled sync failed")
		}
	})
	if err != nil {
		return apperrors.NewConfigError(fmt.Sprintf("invalid schedule %q: %v", spec, err), "sync.schedule")
	}

	logging.Infof("sync scheduled: %s", spec)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	return nil
}

// parseSince accepts a duration relative to now or a calendar date.
func parseSince(value string, now time.Time) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}

	if d, err := time.ParseDuration(value); err == nil {
		t := now.Add(-d)
		return &t, nil
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}

	return nil, apperrors.NewValidationError("since", "expected a duration like 72h or a date like 2024-01-31")
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
	"github.com/jmbish04/gh-stars-sink/internal/formatter"
	"github.com/jmbish04/gh-stars-sink/internal/storage"
)

func TagsCommand() *cli.Command {
	return &cli.Command{
		Name:  "tags",
		Usage: "Manage the tag vocabulary",
		Description: `Tags are matched case-insensitively: the first spelling of a tag is kept and
later spellings resolve to it.`,
		Commands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "List tags, or the tags of one repository",
				ArgsUsage: "[owner/name | id]",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withStore(ctx, cmd, func(store *storage.DuckDBRepository) error {
						return runTagsList(ctx, output(cmd), store, cmd.Args().First())
					})
				},
			},
			{
				Name:      "add",
				Usage:     "Attach tags to a repository, creating them as needed",
				ArgsUsage: "<owner/name | id> <tag>...",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() < 2 {
						return apperrors.NewValidationError("arguments", "expected a repository and at least one tag")
					}

					return withStore(ctx, cmd, func(store *storage.DuckDBRepository) error {
						return runTagsAdd(ctx, output(cmd), store, cmd.Args().First(), cmd.Args().Tail())
					})
				},
			},
			{
				Name:      "remove",
				Usage:     "Detach a tag from a repository",
				ArgsUsage: "<owner/name | id> <tag>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if err := exactArgs(cmd, 2); err != nil {
						return err
					}

					return withStore(ctx, cmd, func(store *storage.DuckDBRepository) error {
						return runTagsRemove(ctx, output(cmd), store, cmd.Args().Get(0), cmd.Args().Get(1))
					})
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a tag and unlink it everywhere",
				ArgsUsage: "<tag>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if err := exactArgs(cmd, 1); err != nil {
						return err
					}

					return withStore(ctx, cmd, func(store *storage.DuckDBRepository) error {
						return runTagsDelete(ctx, output(cmd), store, cmd.Args().First())
					})
				},
			},
		},
	}
}

func runTagsList(ctx context.Context, w io.Writer, store storage.Repository, repoArg string) error {
	var (
		tags []storage.Tag
		err  error
	)

	if repoArg == "" {
		tags, err = store.ListTags(ctx)
	} else {
		var rec *storage.RepositoryRecord

		if rec, err = resolveRepository(ctx, store, repoArg); err != nil {
			return err
		}

		tags, err = store.ListRepositoryTags(ctx, rec.ID)
	}

	if err != nil {
		return err
	}

	fmt.Fprintln(w, formatter.NewFormatter().FormatTags(tags))

	return nil
}

func runTagsAdd(ctx context.Context, w io.Writer, store storage.Repository, repoArg string, names []string) error {
	rec, err := resolveRepository(ctx, store, repoArg)
	if err != nil {
		return err
	}

	ids := make([]int64, 0, len(names))

	for _, name := range names {
		id, err := store.EnsureTag(ctx, name)
		if err != nil {
			return err
		}

		ids = append(ids, id)
	}

	if err := store.AttachTags(ctx, rec.ID, ids); err != nil {
		return err
	}

	fmt.Fprintf(w, "Tagged %s: %s\n", rec.FullName, strings.Join(names, ", "))

	return nil
}

// findTag looks a tag up by case-insensitive name.
func findTag(ctx context.Context, store storage.Repository, name string) (*storage.Tag, error) {
	tags, err := store.ListTags(ctx)
	if err != nil {
		return nil, err
	}

	key := strings.ToLower(strings.TrimSpace(name))

	for i := range tags {
		if strings.ToLower(tags[i].Name) == key {
			return &tags[i], nil
		}
	}

	return nil, apperrors.Newf(apperrors.ErrTypeNotFound, "tag %q not found", name)
}

func runTagsRemove(ctx context.Context, w io.Writer, store storage.Repository, repoArg, name string) error {
	rec, err := resolveRepository(ctx, store, repoArg)
	if err != nil {
		return err
	}

	tag, err := findTag(ctx, store, name)
	if err != nil {
		return err
	}

	if err := store.DetachTag(ctx, rec.ID, tag.ID); err != nil {
		return err
	}

	fmt.Fprintf(w, "Removed tag %s from %s\n", tag.Name, rec.FullName)

	return nil
}

func runTagsDelete(ctx context.Context, w io.Writer, store storage.Repository, name string) error {
	tag, err := findTag(ctx, store, name)
	if err != nil {
		return err
	}

	if err := store.DeleteTag(ctx, tag.ID); err != nil {
		return err
	}

	fmt.Fprintf(w, "Deleted tag %s (%d links)\n", tag.Name, tag.RepoCount)

	return nil
}

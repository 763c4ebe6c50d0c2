package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/repofeed/internal/application"
	"github.com/ericfisherdev/repofeed/internal/config"
)

type fetchOptions struct {
	user    string
	refresh bool
	timeout time.Duration
}

// NewFetchCommand creates the fetch command, which runs one repos query
// through the admission service and prints the stored result.
func NewFetchCommand(opts *RootOptions) *cobra.Command {
	fopts := &fetchOptions{}

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch a user's repositories once and print them",
		Long: `Fetch the repositories of a GitHub user, replace the stored list with the
result and print it.

When GitHub is unreachable the query is rejected without touching the store
and the command fails.

Examples:
  repofeed fetch
  repofeed fetch --user octocat --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if fopts.user != "" {
				cfg.GitHubUser = fopts.user
			}
			return runFetch(cmd, cfg, fopts, opts.Format)
		},
	}

	cmd.Flags().StringVarP(&fopts.user, "user", "u", "", "GitHub user (default from REPOFEED_GITHUB_USER)")
	cmd.Flags().BoolVar(&fopts.refresh, "refresh", false, "report the fetch as a user-initiated refresh")
	cmd.Flags().DurationVar(&fopts.timeout, "timeout", 30*time.Second, "maximum time to wait for the result")

	return cmd
}

func runFetch(cmd *cobra.Command, cfg *config.Config, fopts *fetchOptions, format string) error {
	logger := slog.Default()

	ctx, cancel := context.WithTimeout(cmd.Context(), fopts.timeout)
	defer cancel()

	a, err := newApp(ctx, cfg, cfg.GitHubUser, logger)
	if err != nil {
		return err
	}
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)
	a.start(gctx, g)

	view := application.NewViewState()
	a.presenter.AttachView(view)
	defer a.presenter.DetachView()

	id, err := a.presenter.LoadRepos(fopts.refresh)
	if err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("start fetch: %w", err)
	}
	logger.Debug("fetch started", "query_id", id, "user", cfg.GitHubUser)

	snap, waitErr := waitForResult(ctx, view)

	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	if waitErr != nil {
		return fmt.Errorf("fetch repos for %s: %w", cfg.GitHubUser, waitErr)
	}

	return printRepos(cmd.OutOrStdout(), snap.Repos, format)
}

// waitForResult blocks until the view shows content, an empty list or an
// error.
func waitForResult(ctx context.Context, view *application.ViewState) (application.ViewSnapshot, error) {
	for {
		changed := view.Changed()
		snap := view.Snapshot()

		switch snap.State {
		case application.ListStateContent, application.ListStateEmpty:
			return snap, nil
		case application.ListStateError:
			return snap, snap.Err
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

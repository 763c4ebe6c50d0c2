package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/repofeed/internal/config"
)

// NewListCommand creates the list command, which prints the stored
// repositories without contacting GitHub.
func NewListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the stored repositories",
		Long: `Print the repositories currently in the local database, ordered by key.

The network is never used; run "repofeed fetch" or "repofeed serve" to update
the store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := db.Close(); closeErr != nil {
					slog.Error("error closing database", "error", closeErr)
				}
			}()

			repos, err := store.ListAll().Run(ctx)
			if err != nil {
				return err
			}
			return printRepos(cmd.OutOrStdout(), repos, opts.Format)
		},
	}
}

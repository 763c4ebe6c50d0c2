// Package cli wires the repofeed components behind a cobra command tree.
package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "text" | "json"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the repofeed CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "repofeed",
		Short: "Mirror a GitHub user's repositories into a local store",
		Long: `repofeed fetches the public repositories of a GitHub user, keeps them in a
local SQLite database and serves them over HTTP.

Network queries are only admitted while GitHub is reachable; the stored list
stays available offline.

Examples:
  # Serve the API and refresh every 10 minutes
  REPOFEED_REFRESH_INTERVAL=10m repofeed serve

  # Fetch once and print the result
  repofeed fetch --user octocat

  # Print the stored list without touching the network
  repofeed list --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}

			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return nil
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewFetchCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// SetBuildInfo records the values injected at link time.
func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}
}

// BuildInfo returns the version, commit and build date.
func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

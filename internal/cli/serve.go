package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httphandler "github.com/ericfisherdev/repofeed/internal/adapter/driving/http"
	"github.com/ericfisherdev/repofeed/internal/application"
	"github.com/ericfisherdev/repofeed/internal/config"
)

// NewServeCommand creates the serve command, which runs the query pipeline
// and the HTTP API until interrupted.
func NewServeCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and keep the repository list up to date",
		Long: `Serve the REST API on REPOFEED_LISTEN_ADDR.

The repository list is fetched at startup, every REPOFEED_REFRESH_INTERVAL
when set, and on POST /api/v1/repos/refresh. Completion events are streamed
on GET /api/v1/events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()
	logger.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"refresh_interval", cfg.RefreshInterval,
		"github_user", cfg.GitHubUser,
		"offline", cfg.Offline,
	)

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
	a.presenter.ShowStored(gctx, false)

	refreshSvc := application.NewRefreshService(a.presenter, cfg.RefreshInterval)
	g.Go(func() error {
		refreshSvc.Start(gctx)
		return nil
	})

	events := httphandler.NewEventStream(a.bus, logger)
	defer events.Close()

	apiHandler := httphandler.NewHandler(a.store, refreshSvc, view, a.queue, events, logger)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g.Go(func() error {
		logger.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Streaming clients never finish on their own.
		events.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	logger.Info("repofeed started", "listen_addr", cfg.ListenAddr)

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

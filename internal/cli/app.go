package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	githubadapter "github.com/ericfisherdev/repofeed/internal/adapter/driven/github"
	"github.com/ericfisherdev/repofeed/internal/adapter/driven/reachability"
	sqliteadapter "github.com/ericfisherdev/repofeed/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/repofeed/internal/application"
	"github.com/ericfisherdev/repofeed/internal/config"
	"github.com/ericfisherdev/repofeed/internal/domain/port/driven"
	"github.com/ericfisherdev/repofeed/internal/eventbus"
	"github.com/ericfisherdev/repofeed/internal/jobqueue"
)

const queueShutdownTimeout = 10 * time.Second

// app holds the components shared by the serve and fetch commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *sqliteadapter.DB
	looper    *eventbus.Looper
	bus       *eventbus.Bus
	queue     *jobqueue.Queue
	admission *application.AdmissionService
	store     *application.RepoStore
	factory   *application.QueryFactory
	presenter *application.RepoListPresenter
}

// openStore opens the database, applies migrations and wraps the repository
// table in the asynchronous store.
func openStore(ctx context.Context, cfg *config.Config) (*sqliteadapter.DB, *application.RepoStore, error) {
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("database opened", "path", cfg.DBPath)

	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return db, application.NewRepoStore(sqliteadapter.NewRepoRecordRepo(db)), nil
}

// newApp wires every component for user. Nothing runs until start.
func newApp(ctx context.Context, cfg *config.Config, user string, logger *slog.Logger) (*app, error) {
	db, store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ghClient, err := githubadapter.NewClient(cfg.GitHubToken, cfg.GitHubAPIURL)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create github client: %w", err)
	}
	if !cfg.HasGitHubToken() {
		logger.Info("no github token configured, using anonymous requests")
	}

	queueCfg := jobqueue.DefaultConfig()
	queueCfg.MinWorkers = cfg.MinWorkers
	queueCfg.MaxWorkers = cfg.MaxWorkers
	queueCfg.LoadFactor = cfg.LoadFactor
	queueCfg.KeepAlive = cfg.WorkerKeepAlive

	queue, err := jobqueue.New(queueCfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	looper := eventbus.NewLooper(logger)
	bus := eventbus.NewBus(looper, logger)

	admission := application.NewAdmissionService(queue, newProbe(cfg), application.QueryDeps{
		GitHub: ghClient,
		Store:  store,
		Bus:    bus,
		Logger: logger,
	}, logger)

	factory := application.NewQueryFactory(admission, user)

	return &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		looper:    looper,
		bus:       bus,
		queue:     queue,
		admission: admission,
		store:     store,
		factory:   factory,
		presenter: application.NewRepoListPresenter(bus, store, factory, logger),
	}, nil
}

func newProbe(cfg *config.Config) driven.ReachabilityProbe {
	if cfg.Offline {
		return reachability.Static(false)
	}
	return reachability.NewDialProbe(cfg.ReachabilityAddr, cfg.ReachabilityTimeout)
}

// start runs the looper, the job queue and the admission loop until ctx ends.
func (a *app) start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return ignoreCanceled(a.looper.Run(ctx)) })
	a.queue.Start(ctx)
	g.Go(func() error { return ignoreCanceled(a.admission.Run(ctx)) })
}

// close drains the job queue and releases the bus and the database.
func (a *app) close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), queueShutdownTimeout)
	defer cancel()

	if err := a.queue.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("job queue shutdown error", "error", err)
	}

	a.bus.Close()
	a.looper.Close()

	if err := a.db.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

package application

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ericfisherdev/repofeed/internal/domain/model"
	"github.com/ericfisherdev/repofeed/internal/eventbus"
)

// RepoListView renders the repository list. Every method is called on the
// bus looper goroutine.
type RepoListView interface {
	ShowLoading(refresh bool)
	SetData(repos []model.RepoRecord)
	ShowContent()
	ShowEmpty()
	ShowError(err error, refresh bool)
}

// RepoListPresenter starts repository fetches and, when a fetch finishes,
// re-reads the store and updates the attached view.
type RepoListPresenter struct {
	bus     *eventbus.Bus
	store   *RepoStore
	factory *QueryFactory
	logger  *slog.Logger
	sub     *eventbus.Subscriber

	mu   sync.Mutex
	view RepoListView
}

// NewRepoListPresenter creates a presenter with no view attached.
func NewRepoListPresenter(bus *eventbus.Bus, store *RepoStore, factory *QueryFactory, logger *slog.Logger) *RepoListPresenter {
	if logger == nil {
		logger = slog.Default()
	}
	p := &RepoListPresenter{
		bus:     bus,
		store:   store,
		factory: factory,
		logger:  logger,
		sub:     eventbus.NewSubscriber("repo-list-presenter"),
	}
	eventbus.On(p.sub, p.onReposFetched)
	return p
}

// AttachView sets the view and starts listening for fetch results.
func (p *RepoListPresenter) AttachView(view RepoListView) {
	p.mu.Lock()
	p.view = view
	p.mu.Unlock()

	p.bus.Register(p.sub, eventbus.MainThread)
}

// DetachView stops listening and drops the view.
func (p *RepoListPresenter) DetachView() {
	p.bus.Unregister(p.sub, eventbus.MainThread)

	p.mu.Lock()
	p.view = nil
	p.mu.Unlock()
}

// LoadRepos shows the loading state and starts a fetch for the default user.
// It returns the query ID.
func (p *RepoListPresenter) LoadRepos(refresh bool) (string, error) {
	p.onLooper(func(view RepoListView) { view.ShowLoading(refresh) })

	q, err := p.factory.StartReposQuery("", refresh)
	if err != nil {
		return q.ID(), err
	}
	return q.ID(), nil
}

// ShowStored renders the current store contents without fetching.
func (p *RepoListPresenter) ShowStored(ctx context.Context, refresh bool) {
	p.store.ListAll().ObserveOn(ctx, p.bus.Looper(), func(_ context.Context, repos []model.RepoRecord, err error) {
		view := p.currentView()
		if view == nil {
			return
		}
		if err != nil {
			view.ShowError(err, refresh)
			return
		}

		view.SetData(repos)
		if len(repos) == 0 {
			view.ShowEmpty()
		} else {
			view.ShowContent()
		}
	})
}

func (p *RepoListPresenter) onReposFetched(ctx context.Context, ev ReposFetchedEvent) {
	if ev.User != p.factory.DefaultUser() {
		return
	}

	if !ev.Success {
		p.logger.Debug("repo fetch failed", "query_id", ev.QueryID, "error_kind", string(ev.ErrorKind))
		if view := p.currentView(); view != nil {
			view.ShowError(ev.Err(), ev.Refresh)
		}
		return
	}

	p.ShowStored(ctx, ev.Refresh)
}

func (p *RepoListPresenter) currentView() RepoListView {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

func (p *RepoListPresenter) onLooper(fn func(view RepoListView)) {
	looper := p.bus.Looper()
	if looper == nil {
		return
	}
	looper.Post(func(context.Context) {
		if view := p.currentView(); view != nil {
			fn(view)
		}
	})
}

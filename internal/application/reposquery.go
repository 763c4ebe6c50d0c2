package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/ericfisherdev/repofeed/internal/domain/model"
	"github.com/ericfisherdev/repofeed/internal/eventbus"
)

// ErrNetworkUnreachable is reported to views when a query was rejected at
// admission because the network was down.
var ErrNetworkUnreachable = errors.New("network unreachable")

// KindReposFetched identifies ReposFetchedEvent on the bus.
const KindReposFetched eventbus.Kind = "repos_fetched"

// ReposFetchedEvent is published once when a ReposQuery finishes.
type ReposFetchedEvent struct {
	QueryOutcome
	Query   *ReposQuery
	User    string
	Refresh bool
	// Results holds the fetched records on success.
	Results []model.RepoRecord
}

// Kind implements eventbus.Event.
func (ReposFetchedEvent) Kind() eventbus.Kind { return KindReposFetched }

// Err returns the failure as an error, or nil on success.
func (e ReposFetchedEvent) Err() error {
	if e.Success {
		return nil
	}
	if e.Cause != nil {
		return e.Cause
	}
	if e.ErrorKind == model.ErrorKindNetworkUnreachable {
		return ErrNetworkUnreachable
	}
	return fmt.Errorf("query %s failed: %s", e.QueryID, e.ErrorKind)
}

var _ Query = (*ReposQuery)(nil)

// ReposQuery fetches a user's repositories and replaces the stored list with
// them.
type ReposQuery struct {
	queryBase

	User    string
	Refresh bool

	results []model.RepoRecord
}

// NewReposQuery creates a network-bound, non-persistent query of medium
// priority.
func NewReposQuery(user string, refresh bool) *ReposQuery {
	q := &ReposQuery{
		User:    user,
		Refresh: refresh,
	}
	q.init(model.PriorityMedium, true, false)
	q.publish = q.publishFinished
	return q
}

// Run fetches the listing and replaces the store contents with it. A listing
// served from the HTTP cache is written too: the cache only proves GitHub's
// answer is unchanged, not that the store still holds it.
func (q *ReposQuery) Run(ctx context.Context) error {
	deps, err := q.begin()
	if err != nil {
		return err
	}
	logger := deps.Logger.With("query_id", q.id, "user", q.User)

	listing, err := deps.GitHub.FetchUserRepos(ctx, q.User)
	if err != nil {
		return fmt.Errorf("fetch repos for %s: %w", q.User, err)
	}

	written, err := deps.Store.ReplaceAll(listing.Repos).Run(ctx)
	if err != nil {
		return fmt.Errorf("store repos for %s: %w", q.User, err)
	}
	q.results = listing.Repos

	logger.Debug("repos stored",
		"fetched", len(listing.Repos),
		"created_or_updated", written,
		"from_cache", listing.FromCache,
	)
	return nil
}

func (q *ReposQuery) publishFinished(ctx context.Context, outcome QueryOutcome) {
	ev := ReposFetchedEvent{
		QueryOutcome: outcome,
		Query:        q,
		User:         q.User,
		Refresh:      q.Refresh,
	}
	if outcome.Success {
		ev.Results = q.results
	}

	q.mu.Lock()
	bus := q.deps.Bus
	q.mu.Unlock()

	publishBoth(ctx, bus, ev)
}

package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ericfisherdev/repofeed/internal/domain/model"
	"github.com/ericfisherdev/repofeed/internal/domain/port/driven"
	"github.com/ericfisherdev/repofeed/internal/eventbus"
	"github.com/ericfisherdev/repofeed/internal/jobqueue"
)

// ErrNotInjected is the failure cause of a query that ran before its
// dependencies were injected.
var ErrNotInjected = errors.New("query dependencies not injected")

// ErrQueryConsumed is returned when a query that already started or finished
// is submitted or run again. A query executes at most once.
var ErrQueryConsumed = errors.New("query already consumed")

// QueryDeps are the collaborators a query needs to execute and report.
type QueryDeps struct {
	GitHub driven.GitHubClient
	Store  *RepoStore
	Bus    *eventbus.Bus
	Logger *slog.Logger
}

// Query is a unit of work that can be admitted into the job queue. It ends
// with exactly one completion event, whichever path it takes.
type Query interface {
	jobqueue.Job
	// Inject hands the query its collaborators. It must be called before
	// Run or OnAdmissionRejected.
	Inject(deps QueryDeps)
	RequiresNetwork() bool
	// Persistent queries are queued even when the network is unreachable.
	Persistent() bool
	// OnAdmissionRejected finishes the query as NetworkUnreachable without
	// running it.
	OnAdmissionRejected(ctx context.Context)
	State() QueryState
	Outcome() (QueryOutcome, bool)
}

// QueryState tracks a query through its lifecycle.
type QueryState int

const (
	QueryCreated QueryState = iota
	QueryAdmitted
	QueryRunning
	QueryFinished
	QueryRejected
)

func (s QueryState) String() string {
	switch s {
	case QueryCreated:
		return "created"
	case QueryAdmitted:
		return "admitted"
	case QueryRunning:
		return "running"
	case QueryFinished:
		return "finished"
	case QueryRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// QueryOutcome is the terminal result of a query. It is written once.
type QueryOutcome struct {
	QueryID   string
	Success   bool
	ErrorKind model.ErrorKind
	Cause     error
}

// queryBase holds the identity, lifecycle and outcome shared by every query.
// Concrete queries embed it and set publish to emit their typed event.
type queryBase struct {
	id              string
	priority        model.Priority
	requiresNetwork bool
	persistent      bool

	mu       sync.Mutex
	deps     QueryDeps
	injected bool
	state    QueryState
	outcome  QueryOutcome
	done     bool

	// publish builds the concrete completion event and posts it.
	publish func(ctx context.Context, outcome QueryOutcome)
}

func (q *queryBase) init(priority model.Priority, requiresNetwork, persistent bool) {
	q.id = uuid.NewString()
	q.priority = priority
	q.requiresNetwork = requiresNetwork
	q.persistent = persistent
}

func (q *queryBase) ID() string { return q.id }

func (q *queryBase) Priority() model.Priority { return q.priority }

func (q *queryBase) RequiresNetwork() bool { return q.requiresNetwork }

func (q *queryBase) Persistent() bool { return q.persistent }

// RetryLimit is 1: a failed query is reported, never re-run.
func (q *queryBase) RetryLimit() int { return 1 }

func (q *queryBase) Inject(deps QueryDeps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.deps = deps
	q.injected = true
}

func (q *queryBase) State() QueryState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Outcome returns the terminal outcome once the query has finished.
func (q *queryBase) Outcome() (QueryOutcome, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outcome, q.done
}

func (q *queryBase) OnAdded(context.Context) {
	q.mu.Lock()
	if q.state == QueryCreated && !q.done {
		q.state = QueryAdmitted
	}
	q.mu.Unlock()
	q.logger().Debug("query admitted", "query_id", q.id, "priority", q.priority.String())
}

// OnFinished classifies the last attempt's error and publishes the outcome.
// A run refused with ErrQueryConsumed belongs to a duplicate enqueue and does
// not touch the outcome.
func (q *queryBase) OnFinished(ctx context.Context, err error) {
	if errors.Is(err, ErrQueryConsumed) {
		q.logger().Warn("duplicate run of consumed query ignored", "query_id", q.id)
		return
	}
	if err != nil {
		q.finish(ctx, QueryOutcome{ErrorKind: model.ErrorKindUnknown, Cause: err})
		return
	}
	q.finish(ctx, QueryOutcome{Success: true, ErrorKind: model.ErrorKindNone})
}

// OnAdmissionRejected is a no-op once the query has started or finished.
func (q *queryBase) OnAdmissionRejected(ctx context.Context) {
	q.mu.Lock()
	if q.done || (q.state != QueryCreated && q.state != QueryAdmitted) {
		q.mu.Unlock()
		q.logger().Warn("rejection of consumed query ignored", "query_id", q.id)
		return
	}
	q.state = QueryRejected
	q.mu.Unlock()

	q.finish(ctx, QueryOutcome{ErrorKind: model.ErrorKindNetworkUnreachable})
}

// begin marks the query running and returns its dependencies. It fails with
// ErrQueryConsumed unless the query is still created or admitted.
func (q *queryBase) begin() (QueryDeps, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.injected {
		return QueryDeps{}, ErrNotInjected
	}
	if q.done || (q.state != QueryCreated && q.state != QueryAdmitted) {
		return QueryDeps{}, fmt.Errorf("run query %s in state %s: %w", q.id, q.state, ErrQueryConsumed)
	}
	q.state = QueryRunning
	return q.deps, nil
}

// finish records outcome and publishes it. Calls after the first are ignored.
func (q *queryBase) finish(ctx context.Context, outcome QueryOutcome) {
	q.mu.Lock()
	logger := q.deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if q.done {
		q.mu.Unlock()
		logger.Warn("query already finished, outcome dropped", "query_id", q.id)
		return
	}
	outcome.QueryID = q.id
	q.outcome = outcome
	q.done = true
	if q.state != QueryRejected {
		q.state = QueryFinished
	}
	q.mu.Unlock()

	logger.Debug("query finished",
		"query_id", q.id,
		"success", outcome.Success,
		"error_kind", string(outcome.ErrorKind),
		"error", outcome.Cause,
	)

	if q.publish != nil {
		q.publish(ctx, outcome)
	}
}

func (q *queryBase) logger() *slog.Logger {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deps.Logger == nil {
		return slog.Default()
	}
	return q.deps.Logger
}

// publishBoth posts ev on the main-thread channel and then the any-thread
// channel.
func publishBoth(ctx context.Context, bus *eventbus.Bus, ev eventbus.Event) {
	if bus == nil {
		return
	}
	bus.Publish(ctx, ev, eventbus.MainThread)
	bus.Publish(ctx, ev, eventbus.AnyThread)
}

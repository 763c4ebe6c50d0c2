package application_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/repofeed/internal/application"
	"github.com/ericfisherdev/repofeed/internal/domain/model"
	"github.com/ericfisherdev/repofeed/internal/domain/port/driven"
	"github.com/ericfisherdev/repofeed/internal/eventbus"
	"github.com/ericfisherdev/repofeed/internal/jobqueue"
)

// --- Mock implementations ---

type mockGitHubClient struct {
	mu      sync.Mutex
	calls   int
	listing model.RepoListing
	err     error
}

func (m *mockGitHubClient) FetchUserRepos(_ context.Context, _ string) (model.RepoListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return model.RepoListing{}, m.err
	}
	return model.RepoListing{
		Repos:     append([]model.RepoRecord(nil), m.listing.Repos...),
		FromCache: m.listing.FromCache,
	}, nil
}

func (m *mockGitHubClient) set(listing model.RepoListing, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listing = listing
	m.err = err
}

func (m *mockGitHubClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// memRepoStore is an in-memory driven.RepoStore with full-replace semantics.
type memRepoStore struct {
	mu         sync.Mutex
	recs       []model.RepoRecord
	nextKey    int64
	replaceErr error
	listErr    error
	replaces   int

	// failReplaces makes the next n ReplaceAll calls return replaceErr.
	failReplaces int
}

var _ driven.RepoStore = (*memRepoStore)(nil)

func (m *memRepoStore) GetByKey(_ context.Context, key int64) (*model.RepoRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recs {
		if r.Key == key {
			rec := r
			return &rec, nil
		}
	}
	return nil, nil
}

func (m *memRepoStore) ListAll(_ context.Context) ([]model.RepoRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]model.RepoRecord(nil), m.recs...), nil
}

func (m *memRepoStore) Upsert(_ context.Context, rec model.RepoRecord) (model.UpsertStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(rec), nil
}

func (m *memRepoStore) upsertLocked(rec model.RepoRecord) model.UpsertStatus {
	for i, r := range m.recs {
		if r.RepoID == rec.RepoID {
			rec.Key = r.Key
			m.recs[i] = rec
			return model.UpsertStatus{Updated: true}
		}
	}
	m.nextKey++
	rec.Key = m.nextKey
	m.recs = append(m.recs, rec)
	return model.UpsertStatus{Created: true}
}

func (m *memRepoStore) DeleteAll(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.recs)
	m.recs = nil
	return n, nil
}

func (m *memRepoStore) ReplaceAll(_ context.Context, recs []model.RepoRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaces++
	if m.failReplaces > 0 {
		m.failReplaces--
		return 0, m.replaceErr
	}
	if m.replaceErr != nil {
		return 0, m.replaceErr
	}
	m.recs = nil
	var n int
	for _, rec := range recs {
		if m.upsertLocked(rec).Changed() {
			n++
		}
	}
	return n, nil
}

func (m *memRepoStore) snapshot() []model.RepoRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.RepoRecord(nil), m.recs...)
}

func (m *memRepoStore) replaceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaces
}

// switchProbe is a reachability probe that can be flipped by the test.
type switchProbe struct {
	up    atomic.Bool
	calls atomic.Int32
}

func (p *switchProbe) IsReachable(context.Context) bool {
	p.calls.Add(1)
	return p.up.Load()
}

// --- Pipeline fixture ---

type pipeline struct {
	looper    *eventbus.Looper
	bus       *eventbus.Bus
	queue     *jobqueue.Queue
	admission *application.AdmissionService
	factory   *application.QueryFactory
	repoStore *application.RepoStore
	store     *memRepoStore
	github    *mockGitHubClient
	probe     *switchProbe
	events    *eventRecorder
}

// newPipeline wires a looper, bus, queue and admission service the way the
// serve command does, with mocks at the edges.
func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	github := &mockGitHubClient{}
	p := newPipelineWithClient(t, github)
	p.github = github
	return p
}

// newPipelineWithClient is newPipeline with a caller-supplied GitHub client.
// The github field of the returned pipeline is nil.
func newPipelineWithClient(t *testing.T, client driven.GitHubClient) *pipeline {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	looper := eventbus.NewLooper(nil)
	looperDone := make(chan struct{})
	go func() {
		_ = looper.Run(context.Background())
		close(looperDone)
	}()
	bus := eventbus.NewBus(looper, nil)

	cfg := jobqueue.DefaultConfig()
	cfg.RetryDelay = 0
	queue, err := jobqueue.New(cfg, nil)
	require.NoError(t, err)
	queue.Start(ctx)

	store := &memRepoStore{}
	repoStore := application.NewRepoStore(store)
	probe := &switchProbe{}
	probe.up.Store(true)

	deps := application.QueryDeps{GitHub: client, Store: repoStore, Bus: bus}
	admission := application.NewAdmissionService(queue, probe, deps, nil)
	admissionDone := make(chan struct{})
	go func() {
		_ = admission.Run(ctx)
		close(admissionDone)
	}()

	p := &pipeline{
		looper:    looper,
		bus:       bus,
		queue:     queue,
		admission: admission,
		factory:   application.NewQueryFactory(admission, "RoRoche"),
		repoStore: repoStore,
		store:     store,
		probe:     probe,
	}
	p.events = newEventRecorder(t, bus, looper)

	t.Cleanup(func() {
		cancel()
		<-admissionDone
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = queue.Shutdown(shutdownCtx)
		looper.Close()
		<-looperDone
	})

	return p
}

// flush waits until every task posted to the looper so far has run.
func (p *pipeline) flush(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	require.True(t, p.looper.Post(func(context.Context) { close(done) }))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("looper did not drain")
	}
}

// eventRecorder collects ReposFetchedEvents from both channels.
type eventRecorder struct {
	mu         sync.Mutex
	any        []application.ReposFetchedEvent
	main       []application.ReposFetchedEvent
	offLoop    int
	anyArrived chan application.ReposFetchedEvent
}

func newEventRecorder(t *testing.T, bus *eventbus.Bus, looper *eventbus.Looper) *eventRecorder {
	t.Helper()

	r := &eventRecorder{anyArrived: make(chan application.ReposFetchedEvent, 32)}

	anySub := eventbus.NewSubscriber("test-any")
	eventbus.On(anySub, func(_ context.Context, ev application.ReposFetchedEvent) {
		r.mu.Lock()
		r.any = append(r.any, ev)
		r.mu.Unlock()
		r.anyArrived <- ev
	})
	bus.Register(anySub, eventbus.AnyThread)

	mainSub := eventbus.NewSubscriber("test-main")
	eventbus.On(mainSub, func(ctx context.Context, ev application.ReposFetchedEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if !looper.OnLoop(ctx) {
			r.offLoop++
		}
		r.main = append(r.main, ev)
	})
	bus.Register(mainSub, eventbus.MainThread)

	return r
}

// next waits for the next any-thread event.
func (r *eventRecorder) next(t *testing.T) application.ReposFetchedEvent {
	t.Helper()
	select {
	case ev := <-r.anyArrived:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no completion event")
		return application.ReposFetchedEvent{}
	}
}

func (r *eventRecorder) counts() (anyCount, mainCount, offLoop int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.any), len(r.main), r.offLoop
}

func consortium() model.RepoListing {
	return model.RepoListing{Repos: []model.RepoRecord{{
		RepoID:      1001,
		Name:        "git-consortium",
		Description: "Consortium of repos",
		URL:         "https://github.com/RoRoche/git-consortium",
		AvatarURL:   "https://avatars.githubusercontent.com/u/1?v=4",
	}}}
}

func names(recs []model.RepoRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Name)
	}
	return out
}

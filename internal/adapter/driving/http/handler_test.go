package httphandler_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httphandler "github.com/ericfisherdev/repofeed/internal/adapter/driving/http"
	"github.com/ericfisherdev/repofeed/internal/application"
	"github.com/ericfisherdev/repofeed/internal/domain/model"
	"github.com/ericfisherdev/repofeed/internal/eventbus"
	"github.com/ericfisherdev/repofeed/internal/jobqueue"
)

// --- Mock implementations ---

type mockRepoStore struct {
	recs []model.RepoRecord
	err  error
}

func (m *mockRepoStore) GetByKey(_ context.Context, key int64) (*model.RepoRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, r := range m.recs {
		if r.Key == key {
			rec := r
			return &rec, nil
		}
	}
	return nil, nil
}
func (m *mockRepoStore) ListAll(_ context.Context) ([]model.RepoRecord, error) {
	return m.recs, m.err
}
func (m *mockRepoStore) Upsert(_ context.Context, _ model.RepoRecord) (model.UpsertStatus, error) {
	return model.UpsertStatus{}, nil
}
func (m *mockRepoStore) DeleteAll(_ context.Context) (int, error) { return 0, nil }
func (m *mockRepoStore) ReplaceAll(_ context.Context, _ []model.RepoRecord) (int, error) {
	return 0, nil
}

type mockRefresher struct {
	id    string
	err   error
	calls int
}

func (m *mockRefresher) Refresh(_ context.Context) (string, error) {
	m.calls++
	return m.id, m.err
}

type mockQueueStats struct {
	stats jobqueue.Stats
}

func (m mockQueueStats) Stats() jobqueue.Stats { return m.stats }

// --- Helpers ---

type fixture struct {
	store     *mockRepoStore
	refresher *mockRefresher
	view      *application.ViewState
	bus       *eventbus.Bus
	events    *httphandler.EventStream
	mux       http.Handler
}

func setupHandler(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	f := &fixture{
		store: &mockRepoStore{recs: []model.RepoRecord{
			{Key: 1, RepoID: 101, Name: "android-async-task", Description: "An **async** toolkit", URL: "https://github.com/RoRoche/android-async-task"},
			{Key: 2, RepoID: 102, Name: "PoCDynamicProxy", URL: "https://github.com/RoRoche/PoCDynamicProxy"},
		}},
		refresher: &mockRefresher{id: "query-1"},
		view:      application.NewViewState(),
		bus:       eventbus.NewBus(nil, logger),
	}
	f.events = httphandler.NewEventStream(f.bus, logger)
	t.Cleanup(f.events.Close)

	h := httphandler.NewHandler(
		application.NewRepoStore(f.store),
		f.refresher,
		f.view,
		mockQueueStats{stats: jobqueue.Stats{Workers: 1, Idle: 1, Completed: 3}},
		f.events,
		logger,
	)
	f.mux = httphandler.NewServeMux(h, logger)
	return f
}

func (f *fixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// --- Tests ---

func TestHealth(t *testing.T) {
	f := setupHandler(t)

	rec := f.do(t, http.MethodGet, "/api/v1/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	resp := decode[httphandler.HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	_, err := time.Parse(time.RFC3339, resp.Time)
	assert.NoError(t, err)
}

func TestListRepos(t *testing.T) {
	f := setupHandler(t)

	rec := f.do(t, http.MethodGet, "/api/v1/repos")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[[]httphandler.RepoResponse](t, rec)
	require.Len(t, resp, 2)
	assert.Equal(t, int64(1), resp[0].Key)
	assert.Equal(t, "android-async-task", resp[0].Name)
	assert.Empty(t, resp[0].DescriptionHTML, "list omits rendered descriptions")
	assert.Equal(t, "PoCDynamicProxy", resp[1].Name)
}

func TestListRepos_Empty(t *testing.T) {
	f := setupHandler(t)
	f.store.recs = nil

	rec := f.do(t, http.MethodGet, "/api/v1/repos")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestListRepos_StoreError(t *testing.T) {
	f := setupHandler(t)
	f.store.err = errors.New("disk on fire")

	rec := f.do(t, http.MethodGet, "/api/v1/repos")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk on fire")
}

func TestGetRepo(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "found", path: "/api/v1/repos/1", wantStatus: http.StatusOK},
		{name: "not found", path: "/api/v1/repos/99", wantStatus: http.StatusNotFound},
		{name: "non numeric key", path: "/api/v1/repos/abc", wantStatus: http.StatusBadRequest},
		{name: "zero key", path: "/api/v1/repos/0", wantStatus: http.StatusBadRequest},
		{name: "negative key", path: "/api/v1/repos/-3", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupHandler(t)
			rec := f.do(t, http.MethodGet, tt.path)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestGetRepo_RendersDescription(t *testing.T) {
	f := setupHandler(t)

	rec := f.do(t, http.MethodGet, "/api/v1/repos/1")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[httphandler.RepoResponse](t, rec)
	assert.Equal(t, "An **async** toolkit", resp.Description)
	assert.Contains(t, resp.DescriptionHTML, "<strong>async</strong>")
}

func TestGetRepo_StoreError(t *testing.T) {
	f := setupHandler(t)
	f.store.err = errors.New("locked")

	rec := f.do(t, http.MethodGet, "/api/v1/repos/1")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRefreshRepos(t *testing.T) {
	f := setupHandler(t)

	rec := f.do(t, http.MethodPost, "/api/v1/repos/refresh")

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[httphandler.RefreshResponse](t, rec)
	assert.Equal(t, "query-1", resp.QueryID)
	assert.Equal(t, 1, f.refresher.calls)
}

func TestRefreshRepos_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "admission closed", err: application.ErrAdmissionClosed, wantStatus: http.StatusServiceUnavailable},
		{name: "canceled", err: context.Canceled, wantStatus: http.StatusServiceUnavailable},
		{name: "other", err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupHandler(t)
			f.refresher.err = tt.err

			rec := f.do(t, http.MethodPost, "/api/v1/repos/refresh")
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRefreshRepos_WrongMethod(t *testing.T) {
	f := setupHandler(t)

	rec := f.do(t, http.MethodGet, "/api/v1/repos/refresh")

	// GET falls through to the {key} route and fails key parsing.
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.refresher.calls)
}

func TestStatus(t *testing.T) {
	f := setupHandler(t)

	rec := f.do(t, http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[httphandler.StatusResponse](t, rec)
	assert.Equal(t, "idle", resp.State)
	assert.Equal(t, 1, resp.Queue.Workers)
	assert.Equal(t, int64(3), resp.Queue.Completed)

	f.view.ShowError(errors.New("network down"), true)

	rec = f.do(t, http.MethodGet, "/api/v1/status")
	resp = decode[httphandler.StatusResponse](t, rec)
	assert.Equal(t, "error", resp.State)
	assert.True(t, resp.Refresh)
	assert.Equal(t, "network down", resp.Error)
	assert.NotEmpty(t, resp.UpdatedAt)
}

func TestStatus_Content(t *testing.T) {
	f := setupHandler(t)
	f.view.SetData(f.store.recs)
	f.view.ShowContent()

	rec := f.do(t, http.MethodGet, "/api/v1/status")

	resp := decode[httphandler.StatusResponse](t, rec)
	assert.Equal(t, "content", resp.State)
	assert.Equal(t, 2, resp.RepoCount)
	assert.Empty(t, resp.Error)
}

func TestEvents_StreamsReposFetched(t *testing.T) {
	f := setupHandler(t)
	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	require.Eventually(t, func() bool { return f.events.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.bus.Publish(context.Background(), application.ReposFetchedEvent{
		QueryOutcome: application.QueryOutcome{QueryID: "q-7", Success: true, ErrorKind: model.ErrorKindNone},
		User:         "RoRoche",
		Results:      f.store.recs,
	}, eventbus.AnyThread)

	var eventLine, dataLine string
	for eventLine == "" || dataLine == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}

	assert.Equal(t, "repos_fetched", eventLine)
	var payload httphandler.EventResponse
	require.NoError(t, json.Unmarshal([]byte(dataLine), &payload))
	assert.Equal(t, "q-7", payload.QueryID)
	assert.Equal(t, "RoRoche", payload.User)
	assert.True(t, payload.Success)
	assert.Equal(t, 2, payload.Count)
}

func TestEvents_ClosedStreamRejectsClients(t *testing.T) {
	f := setupHandler(t)
	f.events.Close()

	rec := f.do(t, http.MethodGet, "/api/v1/events")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	h := httphandler.NewHandler(nil, nil, nil, nil, nil, logger)
	mux := httphandler.NewServeMux(h, logger)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

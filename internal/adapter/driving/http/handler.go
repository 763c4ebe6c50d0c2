package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/repofeed/internal/application"
	"github.com/ericfisherdev/repofeed/internal/domain/port/driven"
	"github.com/ericfisherdev/repofeed/internal/jobqueue"
)

// Refresher starts a repository refresh and returns the query ID.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// QueueStats reports the state of the job queue.
type QueueStats interface {
	Stats() jobqueue.Stats
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	store     *application.RepoStore
	refresher Refresher
	view      *application.ViewState
	queue     QueueStats
	events    *EventStream
	logger    *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	store *application.RepoStore,
	refresher Refresher,
	view *application.ViewState,
	queue QueueStats,
	events *EventStream,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		store:     store,
		refresher: refresher,
		view:      view,
		queue:     queue,
		events:    events,
		logger:    logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/repos", h.ListRepos)
	mux.HandleFunc("GET /api/v1/repos/{key}", h.GetRepo)
	mux.HandleFunc("POST /api/v1/repos/refresh", h.RefreshRepos)
	mux.HandleFunc("GET /api/v1/status", h.Status)
	if h.events != nil {
		mux.Handle("GET /api/v1/events", h.events)
	}

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// ListRepos returns every stored repository ordered by key.
func (h *Handler) ListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := h.store.ListAll().Run(r.Context())
	if err != nil {
		h.logger.Error("failed to list repos", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]RepoResponse, 0, len(repos))
	for _, rec := range repos {
		resp = append(resp, toRepoResponse(rec))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetRepo returns a single stored repository with its description rendered
// as HTML.
func (h *Handler) GetRepo(w http.ResponseWriter, r *http.Request) {
	key, err := strconv.ParseInt(r.PathValue("key"), 10, 64)
	if err != nil || key <= 0 {
		writeError(w, http.StatusBadRequest, "invalid repository key")
		return
	}

	rec, err := h.store.Get(key).Run(r.Context())
	if err != nil {
		if errors.Is(err, driven.ErrRepoNotFound) {
			writeError(w, http.StatusNotFound, "repository not found")
			return
		}
		h.logger.Error("failed to get repo", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toRepoDetailResponse(rec))
}

// RefreshRepos starts a refresh and returns without waiting for it.
func (h *Handler) RefreshRepos(w http.ResponseWriter, r *http.Request) {
	id, err := h.refresher.Refresh(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrAdmissionClosed) ||
			errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusServiceUnavailable, "refresh unavailable")
			return
		}
		h.logger.Error("failed to start refresh", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusAccepted, RefreshResponse{QueryID: id})
}

// Status returns the repository list state and job queue statistics.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	var stats jobqueue.Stats
	if h.queue != nil {
		stats = h.queue.Stats()
	}
	writeJSON(w, http.StatusOK, toStatusResponse(h.view.Snapshot(), stats))
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/repofeed/internal/application"
	"github.com/ericfisherdev/repofeed/internal/domain/model"
	"github.com/ericfisherdev/repofeed/internal/jobqueue"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// RepoResponse is the JSON representation of a stored repository.
type RepoResponse struct {
	Key             int64  `json:"key"`
	RepoID          int64  `json:"repo_id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	DescriptionHTML string `json:"description_html,omitempty"`
	URL             string `json:"url"`
	AvatarURL       string `json:"avatar_url"`
}

// HealthResponse is the JSON representation of a health check.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// RefreshResponse is returned when a refresh has been started.
type RefreshResponse struct {
	QueryID string `json:"query_id"`
}

// StatusResponse describes the repository list view and the job queue.
type StatusResponse struct {
	State     string         `json:"state"`
	Refresh   bool           `json:"refresh"`
	RepoCount int            `json:"repo_count"`
	Error     string         `json:"error,omitempty"`
	UpdatedAt string         `json:"updated_at,omitempty"`
	Queue     jobqueue.Stats `json:"queue"`
}

// EventResponse is the payload of a completion event on the event stream.
type EventResponse struct {
	QueryID   string `json:"query_id"`
	User      string `json:"user"`
	Refresh   bool   `json:"refresh"`
	Success   bool   `json:"success"`
	ErrorKind string `json:"error_kind"`
	Error     string `json:"error,omitempty"`
	Count     int    `json:"count"`
}

func toRepoResponse(rec model.RepoRecord) RepoResponse {
	return RepoResponse{
		Key:         rec.Key,
		RepoID:      rec.RepoID,
		Name:        rec.Name,
		Description: rec.Description,
		URL:         rec.URL,
		AvatarURL:   rec.AvatarURL,
	}
}

func toRepoDetailResponse(rec model.RepoRecord) RepoResponse {
	resp := toRepoResponse(rec)
	resp.DescriptionHTML = RenderMarkdown(rec.Description)
	return resp
}

func toStatusResponse(snap application.ViewSnapshot, stats jobqueue.Stats) StatusResponse {
	resp := StatusResponse{
		State:     string(snap.State),
		Refresh:   snap.Refresh,
		RepoCount: len(snap.Repos),
		Queue:     stats,
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	if !snap.UpdatedAt.IsZero() {
		resp.UpdatedAt = snap.UpdatedAt.Format(time.RFC3339)
	}
	return resp
}

func toEventResponse(ev application.ReposFetchedEvent) EventResponse {
	resp := EventResponse{
		QueryID:   ev.QueryID,
		User:      ev.User,
		Refresh:   ev.Refresh,
		Success:   ev.Success,
		ErrorKind: string(ev.ErrorKind),
		Count:     len(ev.Results),
	}
	if err := ev.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// Package application contains use-case orchestration services.
package application

import (
	"context"
	"log/slog"
	"time"
)

// RepoLoader starts a repository fetch and returns the query ID.
type RepoLoader interface {
	LoadRepos(refresh bool) (string, error)
}

// refreshRequest represents a manual refresh trigger.
type refreshRequest struct {
	done chan refreshResult
}

type refreshResult struct {
	queryID string
	err     error
}

// RefreshService loads the repository list at startup, then on the
// configured interval and whenever a refresh is requested.
type RefreshService struct {
	loader    RepoLoader
	interval  time.Duration
	refreshCh chan refreshRequest
}

// NewRefreshService creates a RefreshService. A zero interval disables
// periodic refresh.
func NewRefreshService(loader RepoLoader, interval time.Duration) *RefreshService {
	return &RefreshService{
		loader:    loader,
		interval:  interval,
		refreshCh: make(chan refreshRequest),
	}
}

// Start runs an initial load, then refreshes on the interval and on request.
// Start blocks until the context is canceled.
func (s *RefreshService) Start(ctx context.Context) {
	if _, err := s.loader.LoadRepos(false); err != nil {
		slog.Error("initial load failed", "error", err)
	}

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("refresh service stopped")
			return
		case <-tick:
			if _, err := s.loader.LoadRepos(true); err != nil {
				slog.Error("periodic refresh failed", "error", err)
			}
		case req := <-s.refreshCh:
			id, err := s.loader.LoadRepos(true)
			req.done <- refreshResult{queryID: id, err: err}
		}
	}
}

// Refresh requests an immediate refresh and returns the ID of the query it
// started. It does not wait for the query to finish.
func (s *RefreshService) Refresh(ctx context.Context) (string, error) {
	slog.Info("manual refresh requested")

	req := refreshRequest{done: make(chan refreshResult, 1)}

	select {
	case s.refreshCh <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case res := <-req.done:
		return res.queryID, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

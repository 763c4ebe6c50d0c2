package application

import (
	"sync"
	"time"

	"github.com/ericfisherdev/repofeed/internal/domain/model"
)

// ListState names what a repository list view is showing.
type ListState string

const (
	ListStateIdle    ListState = "idle"
	ListStateLoading ListState = "loading"
	ListStateContent ListState = "content"
	ListStateEmpty   ListState = "empty"
	ListStateError   ListState = "error"
)

// ViewState is a RepoListView that only records what it was told to show.
// It is safe to read from any goroutine.
type ViewState struct {
	mu        sync.RWMutex
	state     ListState
	refresh   bool
	repos     []model.RepoRecord
	lastErr   error
	updatedAt time.Time
	changed   chan struct{}
}

var _ RepoListView = (*ViewState)(nil)

// NewViewState creates an idle view state.
func NewViewState() *ViewState {
	return &ViewState{state: ListStateIdle, changed: make(chan struct{})}
}

// ViewSnapshot is a copy of a ViewState.
type ViewSnapshot struct {
	State     ListState
	Refresh   bool
	Repos     []model.RepoRecord
	Err       error
	UpdatedAt time.Time
}

func (v *ViewState) ShowLoading(refresh bool) {
	v.update(func() {
		v.state = ListStateLoading
		v.refresh = refresh
		v.lastErr = nil
	})
}

func (v *ViewState) SetData(repos []model.RepoRecord) {
	v.update(func() { v.repos = append([]model.RepoRecord(nil), repos...) })
}

func (v *ViewState) ShowContent() {
	v.update(func() { v.state = ListStateContent })
}

func (v *ViewState) ShowEmpty() {
	v.update(func() { v.state = ListStateEmpty })
}

func (v *ViewState) ShowError(err error, refresh bool) {
	v.update(func() {
		v.state = ListStateError
		v.refresh = refresh
		v.lastErr = err
	})
}

// Snapshot returns the current state.
func (v *ViewState) Snapshot() ViewSnapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return ViewSnapshot{
		State:     v.state,
		Refresh:   v.refresh,
		Repos:     append([]model.RepoRecord(nil), v.repos...),
		Err:       v.lastErr,
		UpdatedAt: v.updatedAt,
	}
}

// Changed returns a channel closed at the next state change.
func (v *ViewState) Changed() <-chan struct{} {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.changed
}

func (v *ViewState) update(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	fn()
	v.updatedAt = time.Now().UTC()
	close(v.changed)
	v.changed = make(chan struct{})
}

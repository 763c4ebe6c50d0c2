package application

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/repofeed/internal/deferred"
	"github.com/ericfisherdev/repofeed/internal/domain/model"
	"github.com/ericfisherdev/repofeed/internal/domain/port/driven"
)

// StoreError wraps a failure of the underlying repository store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("repo store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// RepoStore exposes the repository store as deferred tasks. Nothing touches
// storage until a returned task is run; each run performs the operation again.
type RepoStore struct {
	store driven.RepoStore
}

// NewRepoStore wraps store.
func NewRepoStore(store driven.RepoStore) *RepoStore {
	return &RepoStore{store: store}
}

// Get yields the record with the given key, or a StoreError wrapping
// driven.ErrRepoNotFound.
func (s *RepoStore) Get(key int64) deferred.Task[model.RepoRecord] {
	return deferred.Defer(func(ctx context.Context) (model.RepoRecord, error) {
		rec, err := s.store.GetByKey(ctx, key)
		if err != nil {
			return model.RepoRecord{}, &StoreError{Op: "get", Err: err}
		}
		if rec == nil {
			return model.RepoRecord{}, &StoreError{Op: "get", Err: fmt.Errorf("key %d: %w", key, driven.ErrRepoNotFound)}
		}
		return *rec, nil
	})
}

// ListAll yields every stored record in insertion order.
func (s *RepoStore) ListAll() deferred.Task[[]model.RepoRecord] {
	return deferred.Defer(func(ctx context.Context) ([]model.RepoRecord, error) {
		recs, err := s.store.ListAll(ctx)
		if err != nil {
			return nil, &StoreError{Op: "list", Err: err}
		}
		if recs == nil {
			recs = []model.RepoRecord{}
		}
		return recs, nil
	})
}

// Upsert yields whether rec was created or updated.
func (s *RepoStore) Upsert(rec model.RepoRecord) deferred.Task[model.UpsertStatus] {
	return deferred.Defer(func(ctx context.Context) (model.UpsertStatus, error) {
		status, err := s.store.Upsert(ctx, rec)
		if err != nil {
			return model.UpsertStatus{}, &StoreError{Op: "upsert", Err: err}
		}
		return status, nil
	})
}

// DeleteAll yields the number of deleted records.
func (s *RepoStore) DeleteAll() deferred.Task[int] {
	return deferred.Defer(func(ctx context.Context) (int, error) {
		n, err := s.store.DeleteAll(ctx)
		if err != nil {
			return 0, &StoreError{Op: "delete all", Err: err}
		}
		return n, nil
	})
}

// ReplaceAll yields the number of records created or updated after the store
// was cleared and refilled with recs.
func (s *RepoStore) ReplaceAll(recs []model.RepoRecord) deferred.Task[int] {
	return deferred.Defer(func(ctx context.Context) (int, error) {
		n, err := s.store.ReplaceAll(ctx, recs)
		if err != nil {
			return 0, &StoreError{Op: "replace all", Err: err}
		}
		return n, nil
	})
}

package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/repofeed/internal/domain/model"
)

// ErrRepoNotFound indicates the requested repository record does not exist.
var ErrRepoNotFound = errors.New("repository not found")

// RepoStore defines the driven port for repository record persistence.
// All methods are synchronous and block on the storage engine.
// GetByKey returns nil, nil if no record has the given key.
type RepoStore interface {
	GetByKey(ctx context.Context, key int64) (*model.RepoRecord, error)
	ListAll(ctx context.Context) ([]model.RepoRecord, error)
	Upsert(ctx context.Context, rec model.RepoRecord) (model.UpsertStatus, error)
	DeleteAll(ctx context.Context) (int, error)
	// ReplaceAll deletes every stored record, then upserts recs one by one.
	// It returns the number of rows created or updated.
	ReplaceAll(ctx context.Context, recs []model.RepoRecord) (int, error)
}

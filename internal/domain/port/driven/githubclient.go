package driven

import (
	"context"

	"github.com/ericfisherdev/repofeed/internal/domain/model"
)

// GitHubClient defines the driven port for reading from the GitHub API.
type GitHubClient interface {
	// FetchUserRepos lists every public repository owned by user, in the
	// order returned by the API.
	FetchUserRepos(ctx context.Context, user string) (model.RepoListing, error)
}

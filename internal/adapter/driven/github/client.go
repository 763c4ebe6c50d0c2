// Package github implements the GitHubClient port using the go-github library.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/repofeed/internal/domain/model"
	"github.com/ericfisherdev/repofeed/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.GitHubClient = (*Client)(nil)

// Client implements the driven.GitHubClient port using the go-github library.
type Client struct {
	gh       *gh.Client
	inflight singleflight.Group
}

// NewClient creates a GitHub API client on top of http.DefaultTransport.
// An empty baseURL targets the public API; an empty token sends anonymous
// requests.
func NewClient(token, baseURL string) (*Client, error) {
	return NewClientWithTransport(http.DefaultTransport, token, baseURL)
}

// NewClientWithTransport creates a Client whose requests end up on base,
// with the following transport stack on top of it:
//  1. oauth2 (bearer token, only when token is set)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. httpcache (ETag-based conditional request caching)
func NewClientWithTransport(base http.RoundTripper, token, baseURL string) (*Client, error) {
	cacheTransport := &httpcache.Transport{
		Transport:           base,
		Cache:               httpcache.NewMemoryCache(),
		MarkCachedResponses: true,
	}
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)

	httpClient := rateLimitClient
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = &http.Client{
			Transport: &oauth2.Transport{Source: ts, Base: rateLimitClient.Transport},
		}
	}

	client := gh.NewClient(httpClient)

	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing base URL: %w", err)
		}
		client.BaseURL = u
	}

	return &Client{gh: client}, nil
}

// FetchUserRepos retrieves every repository owned by user in API order.
// Concurrent calls for the same user share one set of requests.
//
// The listing is marked FromCache when every page was served by the HTTP
// cache, which means GitHub answered each revalidation with 304.
func (c *Client) FetchUserRepos(ctx context.Context, user string) (model.RepoListing, error) {
	if user == "" {
		return model.RepoListing{}, fmt.Errorf("fetch repos: empty user")
	}

	v, err, shared := c.inflight.Do(user, func() (any, error) {
		return c.fetchUserRepos(ctx, user)
	})
	if err != nil {
		return model.RepoListing{}, err
	}
	if shared {
		slog.Debug("github fetch shared with concurrent caller", "user", user)
	}

	return v.(model.RepoListing), nil
}

func (c *Client) fetchUserRepos(ctx context.Context, user string) (model.RepoListing, error) {
	opts := &gh.RepositoryListByUserOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	listing := model.RepoListing{
		Repos:     []model.RepoRecord{},
		FromCache: true,
	}

	for {
		repos, resp, err := c.gh.Repositories.ListByUser(ctx, user, opts)
		if err != nil {
			return model.RepoListing{}, fmt.Errorf("listing repositories for %s (page %d): %w", user, opts.Page, err)
		}

		logRateLimit(resp, user+"/repos", opts.Page, len(repos))

		if resp.Header.Get(httpcache.XFromCache) == "" {
			listing.FromCache = false
		}

		for _, repo := range repos {
			listing.Repos = append(listing.Repos, mapRepository(repo))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return listing, nil
}

// mapRepository converts a go-github Repository to a RepoRecord. It uses the
// GetXxx() helpers exclusively to avoid nil pointer panics.
func mapRepository(r *gh.Repository) model.RepoRecord {
	link := r.GetHTMLURL()
	if link == "" {
		link = r.GetURL()
	}

	return model.RepoRecord{
		RepoID:      r.GetID(),
		Name:        r.GetName(),
		Description: r.GetDescription(),
		URL:         link,
		AvatarURL:   r.GetOwner().GetAvatarURL(),
	}
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"cached", resp.Header.Get(httpcache.XFromCache) != "",
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

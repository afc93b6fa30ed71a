package platform

import (
	"context"
	"net/http"
	"time"

	"github.com/you/fanout/internal/domain"
)

// PublishResult is the platform-assigned identity of a created post.
type PublishResult struct {
	ExternalID  string
	ExternalURL string
}

// LimitsSource looks up a platform's static content constraints.
type LimitsSource interface {
	GetLimits(ctx context.Context, platform domain.Platform) (domain.Limits, error)
}

// Adapter is the per-platform contract. Implementations only make outbound
// HTTP calls; all state mutation belongs to the worker.
type Adapter interface {
	Name() domain.Platform

	// ValidateContent checks text and media against the platform's limits
	// and returns a *domain.ValidationError when the content cannot post.
	ValidateContent(ctx context.Context, body string, mediaURLs []string) error

	// PrepareMedia converts resolved media URLs into whatever handle the
	// platform's create call accepts: an uploaded blob/media id, a ready
	// container id, or the URL passed through.
	PrepareMedia(ctx context.Context, mediaURLs []string, creds *domain.Connection) ([]string, error)

	// Publish performs the create call. Errors are classified before they
	// return: *domain.TransientError is retryable, everything else is not.
	Publish(ctx context.Context, body string, creds *domain.Connection, media []string) (PublishResult, error)

	// FetchPostMetrics polls engagement counts for one published post.
	FetchPostMetrics(ctx context.Context, creds *domain.Connection, externalID string) (domain.EngagementCounts, error)

	// FetchAccountMetrics polls account-level counts (followers).
	FetchAccountMetrics(ctx context.Context, creds *domain.Connection) (domain.EngagementCounts, error)
}

// BaseURLs lets tests and self-hosted deployments point adapters at
// alternative endpoints. Zero values fall back to the public APIs.
type BaseURLs struct {
	Bluesky   string
	Threads   string
	Facebook  string
	Instagram string
	Tumblr    string
}

// Registry maps the platform enum onto its adapter instance.
type Registry struct {
	adapters map[domain.Platform]Adapter
}

func NewRegistry(limits LimitsSource, client *http.Client, urls BaseURLs) *Registry {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Registry{adapters: map[domain.Platform]Adapter{
		domain.Bluesky:   newBluesky(limits, client, urls.Bluesky),
		domain.Threads:   newThreads(limits, client, urls.Threads),
		domain.Facebook:  newFacebook(limits, client, urls.Facebook),
		domain.Instagram: newInstagram(limits, client, urls.Instagram),
		domain.Mastodon:  newMastodon(limits, client),
		domain.Tumblr:    newTumblr(limits, client, urls.Tumblr),
	}}
}

// For returns the adapter for p, or false for an unknown platform.
func (r *Registry) For(p domain.Platform) (Adapter, bool) {
	a, ok := r.adapters[p]
	return a, ok
}

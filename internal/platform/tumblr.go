package platform

import (
	"context"
	"fmt"
	"net/http"

	"github.com/you/fanout/internal/domain"
)

const defaultTumblrURL = "https://api.tumblr.com/v2"

// tumblr posts NPF content blocks to the blog named by the connection's
// account id. Media stays URL-referenced; tumblr fetches it server-side.
type tumblr struct {
	limits  LimitsSource
	client  *http.Client
	baseURL string
}

func newTumblr(limits LimitsSource, client *http.Client, baseURL string) *tumblr {
	if baseURL == "" {
		baseURL = defaultTumblrURL
	}
	return &tumblr{limits: limits, client: client, baseURL: baseURL}
}

func (t *tumblr) Name() domain.Platform { return domain.Tumblr }

func (t *tumblr) ValidateContent(ctx context.Context, body string, mediaURLs []string) error {
	return validate(ctx, t.limits, domain.Tumblr, body, mediaURLs)
}

func (t *tumblr) PrepareMedia(ctx context.Context, mediaURLs []string, creds *domain.Connection) ([]string, error) {
	return mediaURLs, nil
}

func (t *tumblr) Publish(ctx context.Context, body string, creds *domain.Connection, media []string) (PublishResult, error) {
	content := make([]map[string]any, 0, 1+len(media))
	if body != "" {
		content = append(content, map[string]any{"type": "text", "text": body})
	}
	for _, u := range media {
		content = append(content, map[string]any{
			"type":  "image",
			"media": []map[string]any{{"url": u}},
		})
	}
	payload, err := jsonBody(map[string]any{"content": content})
	if err != nil {
		return PublishResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/blog/%s/posts", t.baseURL, creds.AccountID), payload)
	if err != nil {
		return PublishResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	var out struct {
		Response struct {
			ID string `json:"id"`
		} `json:"response"`
	}
	if err := doJSON(t.client, domain.Tumblr, req, &out); err != nil {
		return PublishResult{}, err
	}
	return PublishResult{
		ExternalID:  out.Response.ID,
		ExternalURL: fmt.Sprintf("https://www.tumblr.com/%s/%s", creds.AccountName, out.Response.ID),
	}, nil
}

func (t *tumblr) FetchPostMetrics(ctx context.Context, creds *domain.Connection, externalID string) (domain.EngagementCounts, error) {
	var c domain.EngagementCounts
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/blog/%s/posts?id=%s&npf=true", t.baseURL, creds.AccountID, externalID), nil)
	if err != nil {
		return c, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	var out struct {
		Response struct {
			Posts []struct {
				NoteCount int64 `json:"note_count"`
			} `json:"posts"`
		} `json:"response"`
	}
	if err := doJSON(t.client, domain.Tumblr, req, &out); err != nil {
		return c, err
	}
	// tumblr only exposes an aggregate note count over likes, reblogs and
	// replies; record it as likes and leave shares unsupported
	if len(out.Response.Posts) > 0 {
		c.Likes = out.Response.Posts[0].NoteCount
	}
	c.SharesSupported = false
	return c, nil
}

func (t *tumblr) FetchAccountMetrics(ctx context.Context, creds *domain.Connection) (domain.EngagementCounts, error) {
	var c domain.EngagementCounts
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/blog/%s/followers", t.baseURL, creds.AccountID), nil)
	if err != nil {
		return c, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	var out struct {
		Response struct {
			TotalUsers int64 `json:"total_users"`
		} `json:"response"`
	}
	if err := doJSON(t.client, domain.Tumblr, req, &out); err != nil {
		return c, err
	}
	c.Followers = out.Response.TotalUsers
	return c, nil
}

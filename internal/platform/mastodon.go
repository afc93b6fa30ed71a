package platform

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/you/fanout/internal/domain"
)

// mastodon is instance-relative: the connection's BaseURL names the user's
// home instance and every call is made against it.
type mastodon struct {
	limits LimitsSource
	client *http.Client
}

func newMastodon(limits LimitsSource, client *http.Client) *mastodon {
	return &mastodon{limits: limits, client: client}
}

func (m *mastodon) Name() domain.Platform { return domain.Mastodon }

func (m *mastodon) ValidateContent(ctx context.Context, body string, mediaURLs []string) error {
	return validate(ctx, m.limits, domain.Mastodon, body, mediaURLs)
}

func (m *mastodon) instance(creds *domain.Connection) (string, error) {
	if creds.BaseURL == "" {
		return "", &domain.CredentialError{Platform: domain.Mastodon, Reason: "connection has no instance URL"}
	}
	return strings.TrimRight(creds.BaseURL, "/"), nil
}

// PrepareMedia uploads each attachment as multipart to /api/v2/media and
// returns the media ids.
func (m *mastodon) PrepareMedia(ctx context.Context, mediaURLs []string, creds *domain.Connection) ([]string, error) {
	instance, err := m.instance(creds)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(mediaURLs))
	for _, u := range mediaURLs {
		data, contentType, err := fetchMedia(ctx, m.client, u)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		part, err := w.CreateFormFile("file", fileName(u, contentType))
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, instance+"/api/v2/media", &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
		var out struct {
			ID string `json:"id"`
		}
		if err := doJSON(m.client, domain.Mastodon, req, &out); err != nil {
			return nil, err
		}
		ids = append(ids, out.ID)
	}
	return ids, nil
}

func (m *mastodon) Publish(ctx context.Context, body string, creds *domain.Connection, media []string) (PublishResult, error) {
	instance, err := m.instance(creds)
	if err != nil {
		return PublishResult{}, err
	}
	form := url.Values{"status": {body}}
	for _, id := range media {
		form.Add("media_ids[]", id)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		instance+"/api/v1/statuses", strings.NewReader(form.Encode()))
	if err != nil {
		return PublishResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := doJSON(m.client, domain.Mastodon, req, &out); err != nil {
		return PublishResult{}, err
	}
	return PublishResult{ExternalID: out.ID, ExternalURL: out.URL}, nil
}

func (m *mastodon) FetchPostMetrics(ctx context.Context, creds *domain.Connection, externalID string) (domain.EngagementCounts, error) {
	var c domain.EngagementCounts
	instance, err := m.instance(creds)
	if err != nil {
		return c, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/statuses/%s", instance, externalID), nil)
	if err != nil {
		return c, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	var out struct {
		FavouritesCount int64 `json:"favourites_count"`
		ReblogsCount    int64 `json:"reblogs_count"`
		RepliesCount    int64 `json:"replies_count"`
	}
	if err := doJSON(m.client, domain.Mastodon, req, &out); err != nil {
		return c, err
	}
	c.Likes = out.FavouritesCount
	c.Shares = out.ReblogsCount
	c.Comments = out.RepliesCount
	c.SharesSupported = true
	return c, nil
}

func (m *mastodon) FetchAccountMetrics(ctx context.Context, creds *domain.Connection) (domain.EngagementCounts, error) {
	var c domain.EngagementCounts
	instance, err := m.instance(creds)
	if err != nil {
		return c, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		instance+"/api/v1/accounts/verify_credentials", nil)
	if err != nil {
		return c, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	var out struct {
		FollowersCount int64 `json:"followers_count"`
	}
	if err := doJSON(m.client, domain.Mastodon, req, &out); err != nil {
		return c, err
	}
	c.Followers = out.FollowersCount
	c.SharesSupported = true
	return c, nil
}

// fileName synthesizes an upload filename from the URL path, falling back
// to an extension derived from the content type.
func fileName(mediaURL, contentType string) string {
	if u, err := url.Parse(mediaURL); err == nil {
		if parts := strings.Split(strings.Trim(u.Path, "/"), "/"); len(parts) > 0 && parts[len(parts)-1] != "" {
			return parts[len(parts)-1]
		}
	}
	switch contentType {
	case "image/png":
		return "upload.png"
	case "image/gif":
		return "upload.gif"
	case "video/mp4":
		return "upload.mp4"
	default:
		return "upload.jpg"
	}
}

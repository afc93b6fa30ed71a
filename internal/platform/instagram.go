package platform

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/you/fanout/internal/domain"
)

const defaultInstagramURL = "https://graph.facebook.com/v19.0"

// instagram uses the Graph container flow: create one container per image
// (or a carousel parent), poll it until the backend finishes processing,
// then publish. A container that never reaches FINISHED inside the poll
// window is a permanent media failure.
type instagram struct {
	limits  LimitsSource
	client  *http.Client
	baseURL string
}

func newInstagram(limits LimitsSource, client *http.Client, baseURL string) *instagram {
	if baseURL == "" {
		baseURL = defaultInstagramURL
	}
	return &instagram{limits: limits, client: client, baseURL: baseURL}
}

func (ig *instagram) Name() domain.Platform { return domain.Instagram }

func (ig *instagram) ValidateContent(ctx context.Context, body string, mediaURLs []string) error {
	return validate(ctx, ig.limits, domain.Instagram, body, mediaURLs)
}

func (ig *instagram) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		ig.baseURL+path+"?"+form.Encode(), nil)
	if err != nil {
		return err
	}
	return doJSON(ig.client, domain.Instagram, req, out)
}

func (ig *instagram) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		ig.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	return doJSON(ig.client, domain.Instagram, req, out)
}

// PrepareMedia creates one ready container per image; for multi-image posts
// each child is marked as a carousel item. The returned handles are the
// container ids to hand to Publish.
func (ig *instagram) PrepareMedia(ctx context.Context, mediaURLs []string, creds *domain.Connection) ([]string, error) {
	carousel := len(mediaURLs) > 1
	containers := make([]string, 0, len(mediaURLs))
	for _, u := range mediaURLs {
		form := url.Values{
			"image_url":    {u},
			"access_token": {creds.AccessToken},
		}
		if carousel {
			form.Set("is_carousel_item", "true")
		}
		var out struct {
			ID string `json:"id"`
		}
		if err := ig.post(ctx, "/"+creds.AccountID+"/media", form, &out); err != nil {
			return nil, err
		}
		if err := ig.awaitContainer(ctx, out.ID, creds.AccessToken); err != nil {
			return nil, err
		}
		containers = append(containers, out.ID)
	}
	return containers, nil
}

// awaitContainer polls the container's status_code with a fixed interval
// and a bounded number of polls.
func (ig *instagram) awaitContainer(ctx context.Context, containerID, token string) error {
	for i := 0; i < containerMaxPolls; i++ {
		var out struct {
			StatusCode string `json:"status_code"`
		}
		q := url.Values{"fields": {"status_code"}, "access_token": {token}}
		if err := ig.get(ctx, "/"+containerID, q, &out); err != nil {
			return err
		}
		switch out.StatusCode {
		case "FINISHED":
			return nil
		case "ERROR", "EXPIRED":
			return &domain.PlatformError{Platform: domain.Instagram, StatusCode: 0,
				Reason: "media container entered state " + out.StatusCode}
		}
		select {
		case <-ctx.Done():
			return &domain.TransientError{Cause: ctx.Err()}
		case <-time.After(containerPollInterval):
		}
	}
	return &domain.MediaTimeoutError{Platform: domain.Instagram,
		Waited: time.Duration(containerMaxPolls) * containerPollInterval}
}

func (ig *instagram) Publish(ctx context.Context, body string, creds *domain.Connection, media []string) (PublishResult, error) {
	if len(media) == 0 {
		return PublishResult{}, &domain.ValidationError{Platform: domain.Instagram,
			Reason: "instagram posts require media"}
	}
	publishID := media[0]
	if len(media) > 1 {
		// carousel parent wraps the children and needs its own ready poll
		form := url.Values{
			"media_type":   {"CAROUSEL"},
			"children":     {strings.Join(media, ",")},
			"caption":      {body},
			"access_token": {creds.AccessToken},
		}
		var parent struct {
			ID string `json:"id"`
		}
		if err := ig.post(ctx, "/"+creds.AccountID+"/media", form, &parent); err != nil {
			return PublishResult{}, err
		}
		if err := ig.awaitContainer(ctx, parent.ID, creds.AccessToken); err != nil {
			return PublishResult{}, err
		}
		publishID = parent.ID
	}
	form := url.Values{
		"creation_id":  {publishID},
		"access_token": {creds.AccessToken},
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := ig.post(ctx, "/"+creds.AccountID+"/media_publish", form, &out); err != nil {
		return PublishResult{}, err
	}
	var link struct {
		Permalink string `json:"permalink"`
	}
	q := url.Values{"fields": {"permalink"}, "access_token": {creds.AccessToken}}
	// permalink lookup is best-effort; the id alone identifies the post
	_ = ig.get(ctx, "/"+out.ID, q, &link)
	return PublishResult{ExternalID: out.ID, ExternalURL: link.Permalink}, nil
}

func (ig *instagram) FetchPostMetrics(ctx context.Context, creds *domain.Connection, externalID string) (domain.EngagementCounts, error) {
	var c domain.EngagementCounts
	var out struct {
		LikeCount     int64 `json:"like_count"`
		CommentsCount int64 `json:"comments_count"`
	}
	q := url.Values{"fields": {"like_count,comments_count"}, "access_token": {creds.AccessToken}}
	if err := ig.get(ctx, "/"+externalID, q, &out); err != nil {
		return c, err
	}
	c.Likes = out.LikeCount
	c.Comments = out.CommentsCount
	// instagram exposes no share count on media objects
	c.SharesSupported = false
	return c, nil
}

func (ig *instagram) FetchAccountMetrics(ctx context.Context, creds *domain.Connection) (domain.EngagementCounts, error) {
	var c domain.EngagementCounts
	var out struct {
		FollowersCount int64 `json:"followers_count"`
	}
	q := url.Values{"fields": {"followers_count"}, "access_token": {creds.AccessToken}}
	if err := ig.get(ctx, "/"+creds.AccountID, q, &out); err != nil {
		return c, err
	}
	c.Followers = out.FollowersCount
	return c, nil
}

package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/you/fanout/internal/domain"
)

const defaultFacebookURL = "https://graph.facebook.com/v19.0"

// facebook publishes to a page feed; single photos go through /photos with
// the page access token from the connection.
type facebook struct {
	limits  LimitsSource
	client  *http.Client
	baseURL string
}

func newFacebook(limits LimitsSource, client *http.Client, baseURL string) *facebook {
	if baseURL == "" {
		baseURL = defaultFacebookURL
	}
	return &facebook{limits: limits, client: client, baseURL: baseURL}
}

func (f *facebook) Name() domain.Platform { return domain.Facebook }

func (f *facebook) ValidateContent(ctx context.Context, body string, mediaURLs []string) error {
	return validate(ctx, f.limits, domain.Facebook, body, mediaURLs)
}

func (f *facebook) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		f.baseURL+path+"?"+form.Encode(), nil)
	if err != nil {
		return err
	}
	return doJSON(f.client, domain.Facebook, req, out)
}

func (f *facebook) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	return doJSON(f.client, domain.Facebook, req, out)
}

// PrepareMedia uploads photos unpublished and returns their ids for
// attachment to the feed post.
func (f *facebook) PrepareMedia(ctx context.Context, mediaURLs []string, creds *domain.Connection) ([]string, error) {
	ids := make([]string, 0, len(mediaURLs))
	for _, u := range mediaURLs {
		form := url.Values{
			"url":          {u},
			"published":    {"false"},
			"access_token": {creds.AccessToken},
		}
		var out struct {
			ID string `json:"id"`
		}
		if err := f.post(ctx, "/"+creds.AccountID+"/photos", form, &out); err != nil {
			return nil, err
		}
		ids = append(ids, out.ID)
	}
	return ids, nil
}

func (f *facebook) Publish(ctx context.Context, body string, creds *domain.Connection, media []string) (PublishResult, error) {
	form := url.Values{
		"message":      {body},
		"access_token": {creds.AccessToken},
	}
	for i, id := range media {
		form.Set(fmt.Sprintf("attached_media[%d]", i), fmt.Sprintf(`{"media_fbid":"%s"}`, id))
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := f.post(ctx, "/"+creds.AccountID+"/feed", form, &out); err != nil {
		return PublishResult{}, err
	}
	return PublishResult{
		ExternalID:  out.ID,
		ExternalURL: "https://www.facebook.com/" + out.ID,
	}, nil
}

func (f *facebook) FetchPostMetrics(ctx context.Context, creds *domain.Connection, externalID string) (domain.EngagementCounts, error) {
	var c domain.EngagementCounts
	var out struct {
		Reactions struct {
			Summary struct {
				TotalCount int64 `json:"total_count"`
			} `json:"summary"`
		} `json:"reactions"`
		Comments struct {
			Summary struct {
				TotalCount int64 `json:"total_count"`
			} `json:"summary"`
		} `json:"comments"`
		Shares struct {
			Count int64 `json:"count"`
		} `json:"shares"`
	}
	q := url.Values{
		"fields":       {"reactions.summary(true),comments.summary(true),shares"},
		"access_token": {creds.AccessToken},
	}
	if err := f.get(ctx, "/"+externalID, q, &out); err != nil {
		return c, err
	}
	c.Likes = out.Reactions.Summary.TotalCount
	c.Comments = out.Comments.Summary.TotalCount
	c.Shares = out.Shares.Count
	c.SharesSupported = true
	return c, nil
}

func (f *facebook) FetchAccountMetrics(ctx context.Context, creds *domain.Connection) (domain.EngagementCounts, error) {
	var c domain.EngagementCounts
	var out struct {
		FollowersCount int64 `json:"followers_count"`
	}
	q := url.Values{"fields": {"followers_count"}, "access_token": {creds.AccessToken}}
	if err := f.get(ctx, "/"+creds.AccountID, q, &out); err != nil {
		return c, err
	}
	c.Followers = out.FollowersCount
	c.SharesSupported = true
	return c, nil
}

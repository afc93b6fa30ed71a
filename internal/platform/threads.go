package platform

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/you/fanout/internal/domain"
)

const defaultThreadsURL = "https://graph.threads.net/v1.0"

// threads mirrors the instagram container flow: create, poll until
// processed, publish.
type threads struct {
	limits  LimitsSource
	client  *http.Client
	baseURL string
}

func newThreads(limits LimitsSource, client *http.Client, baseURL string) *threads {
	if baseURL == "" {
		baseURL = defaultThreadsURL
	}
	return &threads{limits: limits, client: client, baseURL: baseURL}
}

func (t *threads) Name() domain.Platform { return domain.Threads }

func (t *threads) ValidateContent(ctx context.Context, body string, mediaURLs []string) error {
	return validate(ctx, t.limits, domain.Threads, body, mediaURLs)
}

func (t *threads) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+path+"?"+form.Encode(), nil)
	if err != nil {
		return err
	}
	return doJSON(t.client, domain.Threads, req, out)
}

func (t *threads) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	return doJSON(t.client, domain.Threads, req, out)
}

// PrepareMedia passes URLs through: the container is created at publish
// time because text and media live in the same container on threads.
func (t *threads) PrepareMedia(ctx context.Context, mediaURLs []string, creds *domain.Connection) ([]string, error) {
	return mediaURLs, nil
}

func (t *threads) Publish(ctx context.Context, body string, creds *domain.Connection, media []string) (PublishResult, error) {
	form := url.Values{
		"text":         {body},
		"access_token": {creds.AccessToken},
	}
	if len(media) == 0 {
		form.Set("media_type", "TEXT")
	} else {
		// single image only; threads carousels need per-child containers
		// which the constraint table caps at one attachment
		form.Set("media_type", "IMAGE")
		form.Set("image_url", media[0])
	}
	var container struct {
		ID string `json:"id"`
	}
	if err := t.post(ctx, "/"+creds.AccountID+"/threads", form, &container); err != nil {
		return PublishResult{}, err
	}
	if err := t.awaitContainer(ctx, container.ID, creds.AccessToken); err != nil {
		return PublishResult{}, err
	}
	publishForm := url.Values{
		"creation_id":  {container.ID},
		"access_token": {creds.AccessToken},
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := t.post(ctx, "/"+creds.AccountID+"/threads_publish", publishForm, &out); err != nil {
		return PublishResult{}, err
	}
	var link struct {
		Permalink string `json:"permalink"`
	}
	q := url.Values{"fields": {"permalink"}, "access_token": {creds.AccessToken}}
	_ = t.get(ctx, "/"+out.ID, q, &link)
	return PublishResult{ExternalID: out.ID, ExternalURL: link.Permalink}, nil
}

func (t *threads) awaitContainer(ctx context.Context, containerID, token string) error {
	for i := 0; i < containerMaxPolls; i++ {
		var out struct {
			Status string `json:"status"`
		}
		q := url.Values{"fields": {"status"}, "access_token": {token}}
		if err := t.get(ctx, "/"+containerID, q, &out); err != nil {
			return err
		}
		switch out.Status {
		case "FINISHED":
			return nil
		case "ERROR", "EXPIRED":
			return &domain.PlatformError{Platform: domain.Threads, StatusCode: 0,
				Reason: "media container entered state " + out.Status}
		}
		select {
		case <-ctx.Done():
			return &domain.TransientError{Cause: ctx.Err()}
		case <-time.After(containerPollInterval):
		}
	}
	return &domain.MediaTimeoutError{Platform: domain.Threads,
		Waited: time.Duration(containerMaxPolls) * containerPollInterval}
}

func (t *threads) FetchPostMetrics(ctx context.Context, creds *domain.Connection, externalID string) (domain.EngagementCounts, error) {
	var c domain.EngagementCounts
	var out struct {
		Data []struct {
			Name   string `json:"name"`
			Values []struct {
				Value int64 `json:"value"`
			} `json:"values"`
		} `json:"data"`
	}
	q := url.Values{
		"metric":       {"likes,replies,reposts,quotes,views"},
		"access_token": {creds.AccessToken},
	}
	if err := t.get(ctx, "/"+externalID+"/insights", q, &out); err != nil {
		return c, err
	}
	for _, metric := range out.Data {
		if len(metric.Values) == 0 {
			continue
		}
		v := metric.Values[0].Value
		switch metric.Name {
		case "likes":
			c.Likes = v
		case "replies":
			c.Comments = v
		case "reposts":
			c.Shares += v
		case "quotes":
			c.Shares += v
		case "views":
			c.Views = v
		}
	}
	c.SharesSupported = true
	return c, nil
}

func (t *threads) FetchAccountMetrics(ctx context.Context, creds *domain.Connection) (domain.EngagementCounts, error) {
	var c domain.EngagementCounts
	var out struct {
		Data []struct {
			Name       string `json:"name"`
			TotalValue struct {
				Value int64 `json:"value"`
			} `json:"total_value"`
		} `json:"data"`
	}
	q := url.Values{"metric": {"followers_count"}, "access_token": {creds.AccessToken}}
	if err := t.get(ctx, "/"+creds.AccountID+"/threads_insights", q, &out); err != nil {
		return c, err
	}
	for _, metric := range out.Data {
		if metric.Name == "followers_count" {
			c.Followers = metric.TotalValue.Value
		}
	}
	c.SharesSupported = true
	return c, nil
}

package platform

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/you/fanout/internal/domain"
)

const defaultBlueskyURL = "https://bsky.social"

// bluesky posts via the atproto XRPC surface: media is uploaded as blobs,
// the post itself is a createRecord into app.bsky.feed.post.
type bluesky struct {
	limits  LimitsSource
	client  *http.Client
	baseURL string
}

func newBluesky(limits LimitsSource, client *http.Client, baseURL string) *bluesky {
	if baseURL == "" {
		baseURL = defaultBlueskyURL
	}
	return &bluesky{limits: limits, client: client, baseURL: baseURL}
}

func (b *bluesky) Name() domain.Platform { return domain.Bluesky }

func (b *bluesky) ValidateContent(ctx context.Context, body string, mediaURLs []string) error {
	return validate(ctx, b.limits, domain.Bluesky, body, mediaURLs)
}

type blueskyBlob struct {
	Type     string `json:"$type"`
	Ref      any    `json:"ref"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// PrepareMedia uploads each image and returns the blob refs as JSON strings
// to be embedded in the record.
func (b *bluesky) PrepareMedia(ctx context.Context, mediaURLs []string, creds *domain.Connection) ([]string, error) {
	handles := make([]string, 0, len(mediaURLs))
	for _, u := range mediaURLs {
		data, contentType, err := fetchMedia(ctx, b.client, u)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			b.baseURL+"/xrpc/com.atproto.repo.uploadBlob", bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
		var out struct {
			Blob struct {
				Ref struct {
					Link string `json:"$link"`
				} `json:"ref"`
				MimeType string `json:"mimeType"`
				Size     int64  `json:"size"`
			} `json:"blob"`
		}
		if err := doJSON(b.client, domain.Bluesky, req, &out); err != nil {
			return nil, err
		}
		handles = append(handles, out.Blob.Ref.Link+"|"+out.Blob.MimeType+"|"+fmt.Sprint(out.Blob.Size))
	}
	return handles, nil
}

func (b *bluesky) Publish(ctx context.Context, body string, creds *domain.Connection, media []string) (PublishResult, error) {
	record := map[string]any{
		"$type":     "app.bsky.feed.post",
		"text":      body,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	}
	if len(media) > 0 {
		images := make([]map[string]any, 0, len(media))
		for _, h := range media {
			parts := strings.SplitN(h, "|", 3)
			if len(parts) != 3 {
				continue
			}
			images = append(images, map[string]any{
				"alt": "",
				"image": blueskyBlob{
					Type:     "blob",
					Ref:      map[string]string{"$link": parts[0]},
					MimeType: parts[1],
				},
			})
		}
		record["embed"] = map[string]any{"$type": "app.bsky.embed.images", "images": images}
	}
	payload, err := jsonBody(map[string]any{
		"repo":       creds.AccountID,
		"collection": "app.bsky.feed.post",
		"record":     record,
	})
	if err != nil {
		return PublishResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+"/xrpc/com.atproto.repo.createRecord", payload)
	if err != nil {
		return PublishResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	var out struct {
		URI string `json:"uri"`
		CID string `json:"cid"`
	}
	if err := doJSON(b.client, domain.Bluesky, req, &out); err != nil {
		return PublishResult{}, err
	}
	return PublishResult{ExternalID: out.URI, ExternalURL: blueskyWebURL(creds.AccountName, out.URI)}, nil
}

// blueskyWebURL converts an at:// record URI into the public web URL.
func blueskyWebURL(handle, uri string) string {
	idx := strings.LastIndex(uri, "/")
	if idx < 0 {
		return ""
	}
	return fmt.Sprintf("https://bsky.app/profile/%s/post/%s", handle, uri[idx+1:])
}

func (b *bluesky) FetchPostMetrics(ctx context.Context, creds *domain.Connection, externalID string) (domain.EngagementCounts, error) {
	var c domain.EngagementCounts
	q := url.Values{"uri": {externalID}, "depth": {"0"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		b.baseURL+"/xrpc/app.bsky.feed.getPostThread?"+q.Encode(), nil)
	if err != nil {
		return c, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	var out struct {
		Thread struct {
			Post struct {
				LikeCount   int64 `json:"likeCount"`
				RepostCount int64 `json:"repostCount"`
				ReplyCount  int64 `json:"replyCount"`
				QuoteCount  int64 `json:"quoteCount"`
			} `json:"post"`
		} `json:"thread"`
	}
	if err := doJSON(b.client, domain.Bluesky, req, &out); err != nil {
		return c, err
	}
	c.Likes = out.Thread.Post.LikeCount
	c.Shares = out.Thread.Post.RepostCount + out.Thread.Post.QuoteCount
	c.Comments = out.Thread.Post.ReplyCount
	c.SharesSupported = true
	return c, nil
}

func (b *bluesky) FetchAccountMetrics(ctx context.Context, creds *domain.Connection) (domain.EngagementCounts, error) {
	var c domain.EngagementCounts
	q := url.Values{"actor": {creds.AccountID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		b.baseURL+"/xrpc/app.bsky.actor.getProfile?"+q.Encode(), nil)
	if err != nil {
		return c, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	var out struct {
		FollowersCount int64 `json:"followersCount"`
	}
	if err := doJSON(b.client, domain.Bluesky, req, &out); err != nil {
		return c, err
	}
	c.Followers = out.FollowersCount
	c.SharesSupported = true
	return c, nil
}

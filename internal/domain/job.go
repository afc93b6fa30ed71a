package domain

import "time"

// PublishJob is the broker message for one (post, platform) delivery.
// It carries a content snapshot so the worker publishes what the user saw
// at enqueue time; the post row stays authoritative for status.
type PublishJob struct {
	PostID        string     `json:"post_id"`
	UserID        string     `json:"user_id"`
	Platform      Platform   `json:"platform"`
	Body          string     `json:"body"`
	MediaURLs     []string   `json:"media_urls,omitempty"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
	Attempt       int        `json:"attempt"`
	CorrelationID string     `json:"correlation_id"`
}

type AnalyticsJobKind string

const (
	FetchPostMetrics    AnalyticsJobKind = "post_metrics"
	FetchAccountMetrics AnalyticsJobKind = "account_metrics"
)

// AnalyticsJob asks the analytics worker to poll one platform, either for a
// published post's engagement or for account-level follower counts.
type AnalyticsJob struct {
	Kind          AnalyticsJobKind `json:"kind"`
	PostID        string           `json:"post_id,omitempty"`
	UserID        string           `json:"user_id"`
	Platform      Platform         `json:"platform"`
	ExternalID    string           `json:"external_id,omitempty"`
	CorrelationID string           `json:"correlation_id"`
}

package domain

import "time"

// EngagementCounts is the raw poll result from a platform's metrics
// endpoint. Not every platform reports every field; absent counts stay zero
// and SharesSupported records whether shares exist at all on that platform.
type EngagementCounts struct {
	Likes           int64
	Shares          int64
	Comments        int64
	Views           int64
	Impressions     int64
	Followers       int64
	SharesSupported bool
}

// MetricSnapshot is an immutable time-series row; derived values are fixed
// at capture time from the then-current follower count.
type MetricSnapshot struct {
	ID              string    `json:"id"`
	PostID          string    `json:"post_id"`
	UserID          string    `json:"user_id"`
	Platform        Platform  `json:"platform"`
	CapturedAt      time.Time `json:"captured_at"`
	Likes           int64     `json:"likes"`
	Shares          int64     `json:"shares"`
	Comments        int64     `json:"comments"`
	Views           int64     `json:"views"`
	Impressions     int64     `json:"impressions"`
	Followers       int64     `json:"followers"`
	TotalEngagement int64     `json:"total_engagement"`
	EngagementRate  float64   `json:"engagement_rate"`
	Virality        float64   `json:"virality"`
}

// Derive computes the snapshot's derived metrics from raw counts.
func Derive(c EngagementCounts) (total int64, rate, virality float64) {
	total = c.Likes + c.Shares + c.Comments
	if c.Followers > 0 {
		rate = float64(total) / float64(c.Followers)
	}
	if c.SharesSupported && total > 0 {
		virality = float64(c.Shares) / float64(total)
	}
	return total, rate, virality
}

// FetchDue applies the age-tiered cadence: posts younger than a day are
// polled every 2h, 1-7 day old posts every 12h, older ones daily.
func FetchDue(postAge time.Duration, lastFetch *time.Time, now time.Time) bool {
	var minGap time.Duration
	switch {
	case postAge < 24*time.Hour:
		minGap = 2 * time.Hour
	case postAge < 7*24*time.Hour:
		minGap = 12 * time.Hour
	default:
		minGap = 24 * time.Hour
	}
	if lastFetch == nil {
		return true
	}
	return now.Sub(*lastFetch) >= minGap
}

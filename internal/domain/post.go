package domain

import "time"

type Platform string

const (
	Bluesky   Platform = "bluesky"
	Threads   Platform = "threads"
	Facebook  Platform = "facebook"
	Instagram Platform = "instagram"
	Mastodon  Platform = "mastodon"
	Tumblr    Platform = "tumblr"
)

var Platforms = []Platform{Bluesky, Threads, Facebook, Instagram, Mastodon, Tumblr}

func ValidPlatform(p Platform) bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

type PostStatus string

const (
	PostDraft          PostStatus = "draft"
	PostPending        PostStatus = "pending"
	PostScheduled      PostStatus = "scheduled"
	PostProcessing     PostStatus = "processing"
	PostCompleted      PostStatus = "completed"
	PostPartialSuccess PostStatus = "partial_success"
	PostFailed         PostStatus = "failed"
	PostCancelled      PostStatus = "cancelled"
)

type OutcomeStatus string

const (
	OutcomePending    OutcomeStatus = "pending"
	OutcomeProcessing OutcomeStatus = "processing"
	OutcomeCompleted  OutcomeStatus = "completed"
	OutcomeFailed     OutcomeStatus = "failed"
)

// Post is the user's publish intent; one outcome row exists per selected
// platform, created with the post and never re-keyed.
type Post struct {
	ID          string              `json:"id"`
	UserID      string              `json:"user_id"`
	Body        string              `json:"body"`
	MediaRefs   []string            `json:"media_refs"`
	Overrides   map[Platform]string `json:"overrides,omitempty"`
	Platforms   []Platform          `json:"platforms"`
	Status      PostStatus          `json:"status"`
	ScheduledAt *time.Time          `json:"scheduled_at,omitempty"`
	Timezone    string              `json:"timezone,omitempty"`
	Outcomes    []PlatformOutcome   `json:"outcomes"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// BodyFor returns the per-platform override when one exists.
func (p *Post) BodyFor(platform Platform) string {
	if override, ok := p.Overrides[platform]; ok && override != "" {
		return override
	}
	return p.Body
}

func (p *Post) Outcome(platform Platform) *PlatformOutcome {
	for i := range p.Outcomes {
		if p.Outcomes[i].Platform == platform {
			return &p.Outcomes[i]
		}
	}
	return nil
}

// PlatformOutcome is one platform's delivery slot for a post. Each publish
// job owns its slot exclusively for the job's lifetime; attempt_count only
// grows and status only moves forward, except the user-triggered retry that
// resets failed back to pending.
type PlatformOutcome struct {
	PostID          string        `json:"post_id"`
	Platform        Platform      `json:"platform"`
	Status          OutcomeStatus `json:"status"`
	ExternalID      string        `json:"external_id,omitempty"`
	ExternalURL     string        `json:"external_url,omitempty"`
	LastError       string        `json:"last_error,omitempty"`
	AttemptCount    int           `json:"attempt_count"`
	LastAttemptAt   *time.Time    `json:"last_attempt_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	LastAnalyticsAt *time.Time    `json:"last_analytics_at,omitempty"`
}

// OverallStatus folds the outcome statuses into the aggregate post status.
// Rules apply in order: any processing wins, then all-completed, then
// completed+failed mix, then all-failed. A mix still containing pending
// leaves the stored pre-dispatch status untouched.
func OverallStatus(current PostStatus, outcomes []PlatformOutcome) PostStatus {
	// cancelled is terminal; a job racing the cancellation must not revive
	// the aggregate
	if current == PostCancelled || len(outcomes) == 0 {
		return current
	}
	var pending, processing, completed, failed int
	for _, o := range outcomes {
		switch o.Status {
		case OutcomePending:
			pending++
		case OutcomeProcessing:
			processing++
		case OutcomeCompleted:
			completed++
		case OutcomeFailed:
			failed++
		}
	}
	switch {
	case processing > 0:
		return PostProcessing
	case completed == len(outcomes):
		return PostCompleted
	case pending == 0 && completed > 0 && failed > 0:
		return PostPartialSuccess
	case failed == len(outcomes):
		return PostFailed
	default:
		return current
	}
}

// Cancellable reports whether the post may still move to cancelled.
func (p *Post) Cancellable() bool {
	return p.Status == PostPending || p.Status == PostScheduled
}

package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/you/fanout/internal/domain"
)

type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

type CreatePostParams struct {
	UserID      string
	Body        string
	MediaRefs   []string
	Overrides   map[domain.Platform]string
	Platforms   []domain.Platform
	ScheduledAt *time.Time
	Timezone    string
}

// CreatePost inserts the post and exactly one outcome row per selected
// platform in one transaction. The outcome set is fixed here for the life
// of the post.
func (s *Store) CreatePost(ctx context.Context, p CreatePostParams) (string, error) {
	id := uuid.NewString()
	status := domain.PostPending
	if p.ScheduledAt != nil && p.ScheduledAt.After(time.Now()) {
		status = domain.PostScheduled
	}
	overrides, err := json.Marshal(p.Overrides)
	if err != nil {
		return "", errors.Wrap(err, "marshal overrides")
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `insert into posts(
id, user_id, body, media_refs, overrides, platforms, status, scheduled_at, timezone
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		id, p.UserID, p.Body, p.MediaRefs, overrides, platformStrings(p.Platforms),
		status, p.ScheduledAt, p.Timezone)
	if err != nil {
		return "", errors.Wrap(err, "insert post")
	}
	for _, platform := range p.Platforms {
		_, err = tx.Exec(ctx,
			`insert into platform_outcomes(post_id, platform, status) values ($1,$2,'pending')`,
			id, platform)
		if err != nil {
			return "", errors.Wrap(err, "insert outcome")
		}
	}
	return id, errors.Wrap(tx.Commit(ctx), "commit")
}

func (s *Store) GetPost(ctx context.Context, id string) (*domain.Post, error) {
	var (
		p         domain.Post
		overrides []byte
		platforms []string
	)
	err := s.db.QueryRow(ctx, `select
id, user_id, body, media_refs, overrides, platforms, status, scheduled_at, timezone, created_at, updated_at
from posts where id = $1`, id).Scan(
		&p.ID, &p.UserID, &p.Body, &p.MediaRefs, &overrides, &platforms,
		&p.Status, &p.ScheduledAt, &p.Timezone, &p.CreatedAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select post")
	}
	if err := json.Unmarshal(overrides, &p.Overrides); err != nil {
		return nil, errors.Wrap(err, "decode overrides")
	}
	for _, raw := range platforms {
		p.Platforms = append(p.Platforms, domain.Platform(raw))
	}
	p.Outcomes, err = s.listOutcomes(ctx, id)
	return &p, err
}

func (s *Store) listOutcomes(ctx context.Context, postID string) ([]domain.PlatformOutcome, error) {
	rows, err := s.db.Query(ctx, `select
post_id, platform, status, external_id, external_url, last_error,
attempt_count, last_attempt_at, completed_at, last_analytics_at
from platform_outcomes where post_id = $1 order by platform`, postID)
	if err != nil {
		return nil, errors.Wrap(err, "select outcomes")
	}
	defer rows.Close()
	var out []domain.PlatformOutcome
	for rows.Next() {
		var o domain.PlatformOutcome
		if err := rows.Scan(&o.PostID, &o.Platform, &o.Status, &o.ExternalID, &o.ExternalURL,
			&o.LastError, &o.AttemptCount, &o.LastAttemptAt, &o.CompletedAt, &o.LastAnalyticsAt); err != nil {
			return nil, errors.Wrap(err, "scan outcome")
		}
		out = append(out, o)
	}
	return out, errors.Wrap(rows.Err(), "outcomes")
}

// MarkOutcomeProcessing moves the slot to processing, stamps the attempt
// and returns the new attempt count.
func (s *Store) MarkOutcomeProcessing(ctx context.Context, postID string, platform domain.Platform, at time.Time) (int, error) {
	var attempts int
	err := s.db.QueryRow(ctx, `update platform_outcomes
set status = 'processing', last_attempt_at = $3, attempt_count = attempt_count + 1
where post_id = $1 and platform = $2
returning attempt_count`, postID, platform, at).Scan(&attempts)
	return attempts, errors.Wrap(err, "mark processing")
}

func (s *Store) CompleteOutcome(ctx context.Context, postID string, platform domain.Platform, externalID, externalURL string, at time.Time) error {
	_, err := s.db.Exec(ctx, `update platform_outcomes
set status = 'completed', external_id = $3, external_url = $4, last_error = '', completed_at = $5
where post_id = $1 and platform = $2`, postID, platform, externalID, externalURL, at)
	return errors.Wrap(err, "complete outcome")
}

func (s *Store) FailOutcome(ctx context.Context, postID string, platform domain.Platform, message string, at time.Time) error {
	_, err := s.db.Exec(ctx, `update platform_outcomes
set status = 'failed', last_error = $3, last_attempt_at = $4
where post_id = $1 and platform = $2`, postID, platform, message, at)
	return errors.Wrap(err, "fail outcome")
}

// ResetFailedOutcomes flips failed slots back to pending for a user retry
// and reports which platforms were reset.
func (s *Store) ResetFailedOutcomes(ctx context.Context, postID string) ([]domain.Platform, error) {
	rows, err := s.db.Query(ctx, `update platform_outcomes
set status = 'pending', last_error = ''
where post_id = $1 and status = 'failed'
returning platform`, postID)
	if err != nil {
		return nil, errors.Wrap(err, "reset outcomes")
	}
	defer rows.Close()
	var out []domain.Platform
	for rows.Next() {
		var p domain.Platform
		if err := rows.Scan(&p); err != nil {
			return nil, errors.Wrap(err, "scan platform")
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "reset outcomes")
}

// SetPostStatus writes the aggregate status only when it changed.
func (s *Store) SetPostStatus(ctx context.Context, postID string, status domain.PostStatus) error {
	_, err := s.db.Exec(ctx, `update posts
set status = $2, updated_at = now()
where id = $1 and status <> $2`, postID, status)
	return errors.Wrap(err, "set post status")
}

// CancelPost succeeds only while the post has not started dispatching.
func (s *Store) CancelPost(ctx context.Context, postID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `update posts
set status = 'cancelled', updated_at = now()
where id = $1 and status in ('pending','scheduled')`, postID)
	if err != nil {
		return false, errors.Wrap(err, "cancel post")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetConnection(ctx context.Context, userID string, platform domain.Platform) (*domain.Connection, error) {
	var c domain.Connection
	err := s.db.QueryRow(ctx, `select
user_id, platform, account_id, account_name, access_token, token_secret, base_url, status, expires_at, updated_at
from connections where user_id = $1 and platform = $2`, userID, platform).Scan(
		&c.UserID, &c.Platform, &c.AccountID, &c.AccountName, &c.AccessToken,
		&c.TokenSecret, &c.BaseURL, &c.Status, &c.ExpiresAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return &c, errors.Wrap(err, "select connection")
}

// ListActiveConnections feeds the daily account-metrics sweep.
func (s *Store) ListActiveConnections(ctx context.Context) ([]domain.Connection, error) {
	rows, err := s.db.Query(ctx, `select user_id, platform, account_id
from connections where status = 'active' order by user_id, platform`)
	if err != nil {
		return nil, errors.Wrap(err, "select connections")
	}
	defer rows.Close()
	var out []domain.Connection
	for rows.Next() {
		var c domain.Connection
		if err := rows.Scan(&c.UserID, &c.Platform, &c.AccountID); err != nil {
			return nil, errors.Wrap(err, "scan connection")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "connections")
}

type CompletedOutcome struct {
	PostID          string
	UserID          string
	Platform        domain.Platform
	ExternalID      string
	CompletedAt     time.Time
	LastAnalyticsAt *time.Time
}

// ListCompletedOutcomes feeds the post-metrics sweep: every completed slot
// with the owning user and the publish moment used as the age anchor.
func (s *Store) ListCompletedOutcomes(ctx context.Context, batch int) ([]CompletedOutcome, error) {
	rows, err := s.db.Query(ctx, `select
o.post_id, p.user_id, o.platform, o.external_id, o.completed_at, o.last_analytics_at
from platform_outcomes o
join posts p on p.id = o.post_id
where o.status = 'completed'
order by o.completed_at desc
limit $1`, batch)
	if err != nil {
		return nil, errors.Wrap(err, "select completed outcomes")
	}
	defer rows.Close()
	var out []CompletedOutcome
	for rows.Next() {
		var c CompletedOutcome
		if err := rows.Scan(&c.PostID, &c.UserID, &c.Platform, &c.ExternalID,
			&c.CompletedAt, &c.LastAnalyticsAt); err != nil {
			return nil, errors.Wrap(err, "scan completed outcome")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "completed outcomes")
}

func (s *Store) InsertSnapshot(ctx context.Context, m domain.MetricSnapshot) error {
	_, err := s.db.Exec(ctx, `insert into metric_snapshots(
id, post_id, user_id, platform, captured_at,
likes, shares, comments, views, impressions, followers,
total_engagement, engagement_rate, virality
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		m.ID, m.PostID, m.UserID, m.Platform, m.CapturedAt,
		m.Likes, m.Shares, m.Comments, m.Views, m.Impressions, m.Followers,
		m.TotalEngagement, m.EngagementRate, m.Virality)
	return errors.Wrap(err, "insert snapshot")
}

func (s *Store) ListSnapshots(ctx context.Context, postID string, from, to time.Time) ([]domain.MetricSnapshot, error) {
	rows, err := s.db.Query(ctx, `select
id, post_id, user_id, platform, captured_at,
likes, shares, comments, views, impressions, followers,
total_engagement, engagement_rate, virality
from metric_snapshots
where post_id = $1 and captured_at >= $2 and captured_at <= $3
order by captured_at`, postID, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "select snapshots")
	}
	defer rows.Close()
	var out []domain.MetricSnapshot
	for rows.Next() {
		var m domain.MetricSnapshot
		if err := rows.Scan(&m.ID, &m.PostID, &m.UserID, &m.Platform, &m.CapturedAt,
			&m.Likes, &m.Shares, &m.Comments, &m.Views, &m.Impressions, &m.Followers,
			&m.TotalEngagement, &m.EngagementRate, &m.Virality); err != nil {
			return nil, errors.Wrap(err, "scan snapshot")
		}
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "snapshots")
}

func (s *Store) StampAnalyticsFetch(ctx context.Context, postID string, platform domain.Platform, at time.Time) error {
	_, err := s.db.Exec(ctx, `update platform_outcomes
set last_analytics_at = $3
where post_id = $1 and platform = $2`, postID, platform, at)
	return errors.Wrap(err, "stamp analytics fetch")
}

// GetLimits reads the static content-constraint row for one platform.
func (s *Store) GetLimits(ctx context.Context, platform domain.Platform) (domain.Limits, error) {
	var l domain.Limits
	err := s.db.QueryRow(ctx, `select
max_chars, max_media, requires_media, allowed_mime_types
from platform_limits where platform = $1`, platform).Scan(
		&l.MaxChars, &l.MaxMedia, &l.RequiresMedia, &l.AllowedMIMETypes)
	return l, errors.Wrap(err, "select limits")
}

// TryAdvisoryLock is the scheduler's leader election.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `select pg_try_advisory_lock($1)`, key).Scan(&ok)
	return ok, errors.Wrap(err, "advisory lock")
}

func platformStrings(ps []domain.Platform) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}

package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/you/fanout/internal/domain"
)

// AnalyticsStore is the slice of persistence the analytics worker needs.
type AnalyticsStore interface {
	GetConnection(ctx context.Context, userID string, p domain.Platform) (*domain.Connection, error)
	InsertSnapshot(ctx context.Context, m domain.MetricSnapshot) error
	StampAnalyticsFetch(ctx context.Context, postID string, p domain.Platform, at time.Time) error
}

// Analytics executes fetch jobs: poll the platform, derive metrics, append
// an immutable snapshot. Failures log and skip; the next sweep retries
// naturally, so none of the publish retry machinery applies here.
type Analytics struct {
	store    AnalyticsStore
	adapters Adapters
	log      *zap.Logger
	now      func() time.Time
}

func NewAnalytics(store AnalyticsStore, adapters Adapters, log *zap.Logger) *Analytics {
	return &Analytics{store: store, adapters: adapters, log: log, now: time.Now}
}

func (w *Analytics) Handle(ctx context.Context, job domain.AnalyticsJob) {
	log := w.log.With(
		zap.String("kind", string(job.Kind)),
		zap.String("user_id", job.UserID),
		zap.String("platform", string(job.Platform)),
		zap.String("correlation_id", job.CorrelationID))

	adapter, ok := w.adapters.For(job.Platform)
	if !ok {
		log.Warn("no adapter for platform")
		return
	}
	creds, err := w.store.GetConnection(ctx, job.UserID, job.Platform)
	if err != nil {
		log.Warn("load connection failed", zap.Error(err))
		return
	}
	if creds == nil || !creds.Usable(w.now()) {
		log.Info("skipping fetch, connection unusable")
		return
	}

	var counts domain.EngagementCounts
	switch job.Kind {
	case domain.FetchPostMetrics:
		counts, err = adapter.FetchPostMetrics(ctx, creds, job.ExternalID)
		if err == nil && counts.Followers == 0 {
			// engagement rate needs the follower count at capture time
			if account, accErr := adapter.FetchAccountMetrics(ctx, creds); accErr == nil {
				counts.Followers = account.Followers
			}
		}
	case domain.FetchAccountMetrics:
		counts, err = adapter.FetchAccountMetrics(ctx, creds)
	default:
		log.Warn("unknown analytics job kind")
		return
	}
	if err != nil {
		log.Warn("metrics fetch failed", zap.Error(err))
		return
	}

	now := w.now()
	total, rate, virality := domain.Derive(counts)
	snapshot := domain.MetricSnapshot{
		ID:              uuid.NewString(),
		PostID:          job.PostID,
		UserID:          job.UserID,
		Platform:        job.Platform,
		CapturedAt:      now,
		Likes:           counts.Likes,
		Shares:          counts.Shares,
		Comments:        counts.Comments,
		Views:           counts.Views,
		Impressions:     counts.Impressions,
		Followers:       counts.Followers,
		TotalEngagement: total,
		EngagementRate:  rate,
		Virality:        virality,
	}
	if err := w.store.InsertSnapshot(ctx, snapshot); err != nil {
		log.Warn("snapshot insert failed", zap.Error(err))
		return
	}
	if job.Kind == domain.FetchPostMetrics {
		if err := w.store.StampAnalyticsFetch(ctx, job.PostID, job.Platform, now); err != nil {
			log.Warn("stamp fetch failed", zap.Error(err))
		}
	}
	log.Info("snapshot captured", zap.Int64("total_engagement", total))
}

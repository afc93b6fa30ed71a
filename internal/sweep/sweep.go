package sweep

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/fanout/internal/domain"
	"github.com/you/fanout/internal/storage"
)

// Store is the read surface the sweeps scan.
type Store interface {
	ListCompletedOutcomes(ctx context.Context, batch int) ([]storage.CompletedOutcome, error)
	ListActiveConnections(ctx context.Context) ([]domain.Connection, error)
}

// Broker is the enqueue surface for fetch jobs.
type Broker interface {
	EnqueueAnalytics(ctx context.Context, job domain.AnalyticsJob) error
}

// Sweeper decides which (post, platform) pairs are due for an analytics
// poll and enqueues the fetch jobs. It holds no state of its own; the
// cadence gate reads the last-fetch stamp off the outcome row.
type Sweeper struct {
	store  Store
	broker Broker
	log    *zap.Logger
	now    func() time.Time
	batch  int
}

func New(store Store, broker Broker, log *zap.Logger) *Sweeper {
	return &Sweeper{store: store, broker: broker, log: log, now: time.Now, batch: 1000}
}

// PostMetrics is the frequent sweep: every completed outcome whose
// age-tiered cadence has elapsed gets one fetch job.
func (s *Sweeper) PostMetrics(ctx context.Context) (int, error) {
	outcomes, err := s.store.ListCompletedOutcomes(ctx, s.batch)
	if err != nil {
		return 0, errors.Wrap(err, "list completed outcomes")
	}
	now := s.now()
	enqueued := 0
	for _, o := range outcomes {
		if !domain.FetchDue(now.Sub(o.CompletedAt), o.LastAnalyticsAt, now) {
			continue
		}
		job := domain.AnalyticsJob{
			Kind:          domain.FetchPostMetrics,
			PostID:        o.PostID,
			UserID:        o.UserID,
			Platform:      o.Platform,
			ExternalID:    o.ExternalID,
			CorrelationID: uuid.NewString(),
		}
		if err := s.broker.EnqueueAnalytics(ctx, job); err != nil {
			return enqueued, errors.Wrap(err, "enqueue fetch job")
		}
		enqueued++
	}
	s.log.Info("post metrics sweep",
		zap.Int("scanned", len(outcomes)), zap.Int("enqueued", enqueued))
	return enqueued, nil
}

// AccountMetrics is the daily sweep: one fetch job per active connection
// to capture follower counts.
func (s *Sweeper) AccountMetrics(ctx context.Context) (int, error) {
	conns, err := s.store.ListActiveConnections(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list connections")
	}
	for _, c := range conns {
		job := domain.AnalyticsJob{
			Kind:          domain.FetchAccountMetrics,
			UserID:        c.UserID,
			Platform:      c.Platform,
			CorrelationID: uuid.NewString(),
		}
		if err := s.broker.EnqueueAnalytics(ctx, job); err != nil {
			return 0, errors.Wrap(err, "enqueue account fetch")
		}
	}
	s.log.Info("account metrics sweep", zap.Int("enqueued", len(conns)))
	return len(conns), nil
}

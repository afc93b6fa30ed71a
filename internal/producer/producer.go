package producer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/fanout/internal/domain"
	"github.com/you/fanout/internal/media"
)

// Broker is the enqueue surface the producer needs.
type Broker interface {
	EnqueuePublish(ctx context.Context, job domain.PublishJob) error
}

// Producer fans a post out into one broker message per target platform,
// immediately or parked until the scheduled time. It never blocks on
// delivery; the correlation id returns as soon as the messages are queued.
type Producer struct {
	broker   Broker
	resolver *media.Resolver
	log      *zap.Logger
}

func New(broker Broker, resolver *media.Resolver, log *zap.Logger) *Producer {
	return &Producer{broker: broker, resolver: resolver, log: log}
}

// Dispatch enqueues one publish job per platform, snapshotting the body and
// resolved media URLs into each message.
func (p *Producer) Dispatch(ctx context.Context, post *domain.Post, platforms []domain.Platform) (string, error) {
	mediaURLs, err := p.resolver.ResolveAll(post.MediaRefs)
	if err != nil {
		return "", errors.Wrap(err, "resolve media")
	}
	var scheduledAt *time.Time
	if post.ScheduledAt != nil && post.ScheduledAt.After(time.Now()) {
		scheduledAt = post.ScheduledAt
	}
	correlationID := uuid.NewString()
	for _, platform := range platforms {
		job := domain.PublishJob{
			PostID:        post.ID,
			UserID:        post.UserID,
			Platform:      platform,
			Body:          post.BodyFor(platform),
			MediaURLs:     mediaURLs,
			ScheduledAt:   scheduledAt,
			CorrelationID: correlationID,
		}
		if err := p.broker.EnqueuePublish(ctx, job); err != nil {
			return "", errors.Wrapf(err, "enqueue %s", platform)
		}
	}
	p.log.Info("dispatched",
		zap.String("post_id", post.ID),
		zap.String("correlation_id", correlationID),
		zap.Int("platforms", len(platforms)),
		zap.Bool("scheduled", scheduledAt != nil))
	return correlationID, nil
}

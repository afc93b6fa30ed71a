package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/fanout/internal/domain"
	"github.com/you/fanout/internal/notify"
	"github.com/you/fanout/internal/platform"
)

// MaxAttempts bounds transient retries per (post, platform).
const MaxAttempts = 3

// Store is the slice of persistence the publish worker needs.
type Store interface {
	GetPost(ctx context.Context, id string) (*domain.Post, error)
	GetConnection(ctx context.Context, userID string, p domain.Platform) (*domain.Connection, error)
	MarkOutcomeProcessing(ctx context.Context, postID string, p domain.Platform, at time.Time) (int, error)
	CompleteOutcome(ctx context.Context, postID string, p domain.Platform, externalID, externalURL string, at time.Time) error
	FailOutcome(ctx context.Context, postID string, p domain.Platform, message string, at time.Time) error
	SetPostStatus(ctx context.Context, postID string, status domain.PostStatus) error
}

// Broker is the slice of the queue the worker needs for retry routing.
type Broker interface {
	EnqueueRetry(ctx context.Context, job domain.PublishJob, now time.Time) error
	DeadLetter(ctx context.Context, job domain.PublishJob) error
}

// Adapters resolves a platform to its adapter.
type Adapters interface {
	For(p domain.Platform) (platform.Adapter, bool)
}

// Publisher drives one delivery attempt per consumed message through the
// existence, idempotency and credential gates, the adapter call, and the
// outcome classification.
type Publisher struct {
	store    Store
	broker   Broker
	adapters Adapters
	sink     notify.Sink
	log      *zap.Logger
	now      func() time.Time
}

func NewPublisher(store Store, broker Broker, adapters Adapters, sink notify.Sink, log *zap.Logger) *Publisher {
	return &Publisher{store: store, broker: broker, adapters: adapters, sink: sink, log: log, now: time.Now}
}

// Handle processes one delivery to completion. A nil return means the
// message is settled (done, dropped, failed, or parked for retry); a non-nil
// return means infrastructure failed before the job reached a terminal
// write and the message should be redelivered.
func (w *Publisher) Handle(ctx context.Context, job domain.PublishJob) error {
	log := w.log.With(
		zap.String("post_id", job.PostID),
		zap.String("platform", string(job.Platform)),
		zap.String("correlation_id", job.CorrelationID))

	// step 1: existence and cancellation
	post, err := w.store.GetPost(ctx, job.PostID)
	if err != nil {
		return errors.Wrap(err, "load post")
	}
	if post == nil {
		log.Warn("dropping job for missing post")
		return nil
	}
	if post.Status == domain.PostCancelled {
		log.Info("dropping job for cancelled post")
		return nil
	}

	// step 2: idempotency; duplicate delivery of a finished slot is a no-op
	outcome := post.Outcome(job.Platform)
	if outcome == nil {
		log.Warn("dropping job with no outcome slot")
		return nil
	}
	if outcome.Status == domain.OutcomeCompleted {
		log.Info("dropping duplicate delivery for completed outcome")
		return nil
	}

	// step 3: credentials; unusable connections fail permanently since
	// retrying cannot fix them
	creds, err := w.store.GetConnection(ctx, job.UserID, job.Platform)
	if err != nil {
		return errors.Wrap(err, "load connection")
	}
	if creds == nil || !creds.Usable(w.now()) {
		credErr := &domain.CredentialError{Platform: job.Platform, Reason: "platform not connected or token expired"}
		return w.fail(ctx, log, job, credErr.Error())
	}

	// step 4: claim the slot and count the attempt
	attempts, err := w.store.MarkOutcomeProcessing(ctx, job.PostID, job.Platform, w.now())
	if err != nil {
		return errors.Wrap(err, "mark processing")
	}

	// step 5: adapter invocation
	adapter, ok := w.adapters.For(job.Platform)
	if !ok {
		return w.fail(ctx, log, job, "no adapter for platform "+string(job.Platform))
	}
	result, pubErr := w.publish(ctx, adapter, job, creds)

	// step 6: success
	if pubErr == nil {
		if err := w.store.CompleteOutcome(ctx, job.PostID, job.Platform, result.ExternalID, result.ExternalURL, w.now()); err != nil {
			return errors.Wrap(err, "complete outcome")
		}
		if err := w.reconcile(ctx, job.PostID); err != nil {
			return err
		}
		w.sink.Notify(ctx, job.UserID, notify.Published(job.Platform, result.ExternalURL), notify.PublishSucceeded, job.PostID)
		log.Info("published", zap.String("external_id", result.ExternalID), zap.Int("attempt", attempts))
		return nil
	}

	// steps 7-8: classification
	if domain.Retryable(pubErr) && attempts < MaxAttempts {
		job.Attempt = attempts
		if err := w.broker.EnqueueRetry(ctx, job, w.now()); err != nil {
			return errors.Wrap(err, "park retry")
		}
		if err := w.reconcile(ctx, job.PostID); err != nil {
			return err
		}
		log.Warn("transient failure, retry scheduled", zap.Int("attempt", attempts), zap.Error(pubErr))
		return nil
	}
	if domain.Retryable(pubErr) {
		// attempts exhausted: fail now, keep a copy for inspection
		if err := w.broker.DeadLetter(ctx, job); err != nil {
			log.Error("dead letter failed", zap.Error(err))
		}
		log.Warn("retries exhausted", zap.Int("attempt", attempts), zap.Error(pubErr))
	} else {
		log.Warn("permanent failure", zap.Int("attempt", attempts), zap.Error(pubErr))
	}
	return w.fail(ctx, log, job, pubErr.Error())
}

// publish runs the adapter pipeline: validate, prepare media, create.
func (w *Publisher) publish(ctx context.Context, adapter platform.Adapter, job domain.PublishJob, creds *domain.Connection) (platform.PublishResult, error) {
	if err := adapter.ValidateContent(ctx, job.Body, job.MediaURLs); err != nil {
		return platform.PublishResult{}, err
	}
	handles, err := adapter.PrepareMedia(ctx, job.MediaURLs, creds)
	if err != nil {
		return platform.PublishResult{}, err
	}
	return adapter.Publish(ctx, job.Body, creds, handles)
}

// fail writes the terminal failed outcome, reconciles and notifies.
func (w *Publisher) fail(ctx context.Context, log *zap.Logger, job domain.PublishJob, message string) error {
	if err := w.store.FailOutcome(ctx, job.PostID, job.Platform, message, w.now()); err != nil {
		return errors.Wrap(err, "fail outcome")
	}
	if err := w.reconcile(ctx, job.PostID); err != nil {
		return err
	}
	w.sink.Notify(ctx, job.UserID, notify.Failed(job.Platform, message), notify.PublishFailed, job.PostID)
	log.Info("outcome failed", zap.String("error", message))
	return nil
}

// reconcile recomputes the aggregate status from the fresh outcome set and
// writes it back only when it changed.
func (w *Publisher) reconcile(ctx context.Context, postID string) error {
	post, err := w.store.GetPost(ctx, postID)
	if err != nil {
		return errors.Wrap(err, "reload post")
	}
	if post == nil {
		return nil
	}
	next := domain.OverallStatus(post.Status, post.Outcomes)
	if next == post.Status {
		return nil
	}
	return errors.Wrap(w.store.SetPostStatus(ctx, postID, next), "set post status")
}

package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/fanout/internal/domain"
	"github.com/you/fanout/internal/notify"
	"github.com/you/fanout/internal/platform"
)

func newPublisher(store *fakeStore, broker *fakeBroker, adapters fakeAdapters, sink *fakeSink) *Publisher {
	return NewPublisher(store, broker, adapters, sink, zap.NewNop())
}

func TestHandleSuccess(t *testing.T) {
	store := newFakeStore(testPost(domain.Bluesky))
	broker := &fakeBroker{}
	sink := &fakeSink{}
	adapter := &fakeAdapter{name: domain.Bluesky, result: platform.PublishResult{
		ExternalID: "at://did/post/abc", ExternalURL: "https://bsky.app/profile/tester/post/abc",
	}}
	pub := newPublisher(store, broker, fakeAdapters{domain.Bluesky: adapter}, sink)

	require.NoError(t, pub.Handle(context.Background(), testJob(domain.Bluesky)))

	o := store.outcome(domain.Bluesky)
	assert.Equal(t, domain.OutcomeCompleted, o.Status)
	assert.Equal(t, "at://did/post/abc", o.ExternalID)
	assert.Equal(t, 1, o.AttemptCount)
	assert.NotNil(t, o.CompletedAt)
	assert.Equal(t, domain.PostCompleted, store.post.Status)
	assert.Equal(t, []notify.Kind{notify.PublishSucceeded}, sink.kinds)
	assert.Empty(t, broker.retries)
}

func TestHandleIdempotentRedelivery(t *testing.T) {
	store := newFakeStore(testPost(domain.Bluesky))
	adapter := &fakeAdapter{name: domain.Bluesky, result: platform.PublishResult{ExternalID: "ext-1"}}
	pub := newPublisher(store, &fakeBroker{}, fakeAdapters{domain.Bluesky: adapter}, &fakeSink{})
	ctx := context.Background()

	require.NoError(t, pub.Handle(ctx, testJob(domain.Bluesky)))
	require.NoError(t, pub.Handle(ctx, testJob(domain.Bluesky)))

	// the duplicate delivery makes no second platform call and changes nothing
	assert.Equal(t, 1, adapter.publishCalls)
	assert.Equal(t, 1, store.outcome(domain.Bluesky).AttemptCount)
	assert.Equal(t, domain.OutcomeCompleted, store.outcome(domain.Bluesky).Status)
}

func TestHandleMissingPostDrops(t *testing.T) {
	store := newFakeStore(nil)
	adapter := &fakeAdapter{name: domain.Bluesky}
	pub := newPublisher(store, &fakeBroker{}, fakeAdapters{domain.Bluesky: adapter}, &fakeSink{})

	require.NoError(t, pub.Handle(context.Background(), testJob(domain.Bluesky)))
	assert.Zero(t, adapter.publishCalls)
}

func TestHandleCancelledPostDrops(t *testing.T) {
	post := testPost(domain.Bluesky)
	post.Status = domain.PostCancelled
	store := newFakeStore(post)
	adapter := &fakeAdapter{name: domain.Bluesky}
	pub := newPublisher(store, &fakeBroker{}, fakeAdapters{domain.Bluesky: adapter}, &fakeSink{})

	require.NoError(t, pub.Handle(context.Background(), testJob(domain.Bluesky)))

	// the pending outcome never reaches processing
	assert.Equal(t, domain.OutcomePending, store.outcome(domain.Bluesky).Status)
	assert.Zero(t, store.outcome(domain.Bluesky).AttemptCount)
	assert.Zero(t, adapter.publishCalls)
}

func TestHandleCredentialFailure(t *testing.T) {
	store := newFakeStore(testPost(domain.Tumblr))
	store.conns[domain.Tumblr] = nil
	adapter := &fakeAdapter{name: domain.Tumblr}
	sink := &fakeSink{}
	broker := &fakeBroker{}
	pub := newPublisher(store, broker, fakeAdapters{domain.Tumblr: adapter}, sink)

	require.NoError(t, pub.Handle(context.Background(), testJob(domain.Tumblr)))

	o := store.outcome(domain.Tumblr)
	assert.Equal(t, domain.OutcomeFailed, o.Status)
	assert.Contains(t, o.LastError, "credentials unusable")
	// the credential gate runs before the attempt is counted
	assert.Zero(t, o.AttemptCount)
	assert.Zero(t, adapter.publishCalls)
	assert.Empty(t, broker.retries)
	assert.Equal(t, []notify.Kind{notify.PublishFailed}, sink.kinds)
	assert.Equal(t, domain.PostFailed, store.post.Status)
}

func TestHandleExpiredConnection(t *testing.T) {
	store := newFakeStore(testPost(domain.Facebook))
	store.conns[domain.Facebook].Status = domain.ConnectionExpired
	adapter := &fakeAdapter{name: domain.Facebook}
	pub := newPublisher(store, &fakeBroker{}, fakeAdapters{domain.Facebook: adapter}, &fakeSink{})

	require.NoError(t, pub.Handle(context.Background(), testJob(domain.Facebook)))
	assert.Equal(t, domain.OutcomeFailed, store.outcome(domain.Facebook).Status)
	assert.Zero(t, adapter.publishCalls)
}

func TestHandlePermanentValidationFailure(t *testing.T) {
	store := newFakeStore(testPost(domain.Mastodon))
	broker := &fakeBroker{}
	adapter := &fakeAdapter{
		name:        domain.Mastodon,
		validateErr: &domain.ValidationError{Platform: domain.Mastodon, Reason: "text is 900 characters, limit is 500"},
	}
	pub := newPublisher(store, broker, fakeAdapters{domain.Mastodon: adapter}, &fakeSink{})

	require.NoError(t, pub.Handle(context.Background(), testJob(domain.Mastodon)))

	o := store.outcome(domain.Mastodon)
	assert.Equal(t, domain.OutcomeFailed, o.Status)
	assert.Contains(t, o.LastError, "limit is 500")
	assert.Equal(t, 1, o.AttemptCount)
	assert.Zero(t, adapter.publishCalls)
	assert.Empty(t, broker.retries)
	assert.Empty(t, broker.deadLetters)
}

func TestHandleTransientRetriesThreeTimes(t *testing.T) {
	store := newFakeStore(testPost(domain.Bluesky))
	broker := &fakeBroker{}
	adapter := &fakeAdapter{
		name:       domain.Bluesky,
		publishErr: &domain.TransientError{Cause: errors.New("connection reset by peer")},
	}
	pub := newPublisher(store, broker, fakeAdapters{domain.Bluesky: adapter}, &fakeSink{})
	ctx := context.Background()

	// the broker redelivers after each parked retry; simulate that here
	require.NoError(t, pub.Handle(ctx, testJob(domain.Bluesky)))
	require.NoError(t, pub.Handle(ctx, broker.retries[0]))
	require.NoError(t, pub.Handle(ctx, broker.retries[1]))

	assert.Equal(t, 3, adapter.publishCalls)
	assert.Len(t, broker.retries, 2)
	assert.Len(t, broker.deadLetters, 1)

	o := store.outcome(domain.Bluesky)
	assert.Equal(t, domain.OutcomeFailed, o.Status)
	assert.Equal(t, 3, o.AttemptCount)
	assert.Contains(t, o.LastError, "connection reset")
	assert.Equal(t, domain.PostFailed, store.post.Status)
}

func TestHandleRetryCarriesAttempt(t *testing.T) {
	store := newFakeStore(testPost(domain.Bluesky))
	broker := &fakeBroker{}
	adapter := &fakeAdapter{
		name:       domain.Bluesky,
		publishErr: &domain.TransientError{Cause: errors.New("timeout")},
	}
	pub := newPublisher(store, broker, fakeAdapters{domain.Bluesky: adapter}, &fakeSink{})

	require.NoError(t, pub.Handle(context.Background(), testJob(domain.Bluesky)))
	require.Len(t, broker.retries, 1)
	assert.Equal(t, 1, broker.retries[0].Attempt)
	// slot stays processing while the retry is parked
	assert.Equal(t, domain.OutcomeProcessing, store.outcome(domain.Bluesky).Status)
	assert.Equal(t, domain.PostProcessing, store.post.Status)
}

func TestHandleMediaTimeoutIsPermanent(t *testing.T) {
	store := newFakeStore(testPost(domain.Instagram))
	broker := &fakeBroker{}
	adapter := &fakeAdapter{
		name:       domain.Instagram,
		prepareErr: &domain.MediaTimeoutError{Platform: domain.Instagram, Waited: 30 * time.Second},
	}
	pub := newPublisher(store, broker, fakeAdapters{domain.Instagram: adapter}, &fakeSink{})

	require.NoError(t, pub.Handle(context.Background(), testJob(domain.Instagram)))

	assert.Equal(t, domain.OutcomeFailed, store.outcome(domain.Instagram).Status)
	assert.Zero(t, adapter.publishCalls)
	assert.Empty(t, broker.retries)
}

// One platform succeeds, the other fails validation: partial success.
func TestHandlePartialSuccess(t *testing.T) {
	store := newFakeStore(testPost(domain.Bluesky, domain.Mastodon))
	broker := &fakeBroker{}
	sink := &fakeSink{}
	adapters := fakeAdapters{
		domain.Bluesky: &fakeAdapter{name: domain.Bluesky, result: platform.PublishResult{ExternalID: "ext-b"}},
		domain.Mastodon: &fakeAdapter{
			name:        domain.Mastodon,
			validateErr: &domain.ValidationError{Platform: domain.Mastodon, Reason: "too many media attachments"},
		},
	}
	pub := newPublisher(store, broker, adapters, sink)
	ctx := context.Background()

	require.NoError(t, pub.Handle(ctx, testJob(domain.Bluesky)))
	require.NoError(t, pub.Handle(ctx, testJob(domain.Mastodon)))

	assert.Equal(t, domain.OutcomeCompleted, store.outcome(domain.Bluesky).Status)
	assert.Equal(t, domain.OutcomeFailed, store.outcome(domain.Mastodon).Status)
	assert.Contains(t, store.outcome(domain.Mastodon).LastError, "too many media")
	assert.Equal(t, domain.PostPartialSuccess, store.post.Status)
}

package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/fanout/internal/domain"
	"github.com/you/fanout/internal/storage"
)

type fakeStore struct {
	completed []storage.CompletedOutcome
	conns     []domain.Connection
}

func (s *fakeStore) ListCompletedOutcomes(ctx context.Context, batch int) ([]storage.CompletedOutcome, error) {
	return s.completed, nil
}

func (s *fakeStore) ListActiveConnections(ctx context.Context) ([]domain.Connection, error) {
	return s.conns, nil
}

type fakeBroker struct{ jobs []domain.AnalyticsJob }

func (b *fakeBroker) EnqueueAnalytics(ctx context.Context, job domain.AnalyticsJob) error {
	b.jobs = append(b.jobs, job)
	return nil
}

func newSweeper(store *fakeStore, broker *fakeBroker, now time.Time) *Sweeper {
	s := New(store, broker, zap.NewNop())
	s.now = func() time.Time { return now }
	return s
}

func TestPostMetricsEnqueuesDuePairs(t *testing.T) {
	now := time.Now()
	ago := func(d time.Duration) time.Time { return now.Add(-d) }
	fetched := ago(30 * time.Minute)
	staleFetch := ago(3 * time.Hour)

	store := &fakeStore{completed: []storage.CompletedOutcome{
		// young post, never fetched: due
		{PostID: "p1", UserID: "u1", Platform: domain.Bluesky, ExternalID: "e1", CompletedAt: ago(3 * time.Hour)},
		// young post, fetched 30m ago: the 2h gate holds it back
		{PostID: "p2", UserID: "u1", Platform: domain.Mastodon, ExternalID: "e2", CompletedAt: ago(3 * time.Hour), LastAnalyticsAt: &fetched},
		// young post, fetched 3h ago: due again
		{PostID: "p3", UserID: "u2", Platform: domain.Threads, ExternalID: "e3", CompletedAt: ago(5 * time.Hour), LastAnalyticsAt: &staleFetch},
	}}
	broker := &fakeBroker{}

	enqueued, err := newSweeper(store, broker, now).PostMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, enqueued)
	require.Len(t, broker.jobs, 2)
	assert.Equal(t, "p1", broker.jobs[0].PostID)
	assert.Equal(t, "p3", broker.jobs[1].PostID)
	assert.Equal(t, domain.FetchPostMetrics, broker.jobs[0].Kind)
	assert.Equal(t, "e1", broker.jobs[0].ExternalID)
}

// Running the sweep twice inside an hour must not double-enqueue a young
// post whose first fetch just happened.
func TestPostMetricsSecondSweepGated(t *testing.T) {
	now := time.Now()
	completed := now.Add(-2 * time.Hour)

	store := &fakeStore{completed: []storage.CompletedOutcome{
		{PostID: "p1", UserID: "u1", Platform: domain.Bluesky, ExternalID: "e1", CompletedAt: completed},
	}}
	broker := &fakeBroker{}

	enqueued, err := newSweeper(store, broker, now).PostMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, enqueued)

	// the worker stamped the fetch; one hour later the gate still holds
	stamp := now
	store.completed[0].LastAnalyticsAt = &stamp
	enqueued, err = newSweeper(store, broker, now.Add(time.Hour)).PostMetrics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, enqueued)
	assert.Len(t, broker.jobs, 1)
}

func TestAccountMetricsOnePerConnection(t *testing.T) {
	store := &fakeStore{conns: []domain.Connection{
		{UserID: "u1", Platform: domain.Bluesky},
		{UserID: "u1", Platform: domain.Tumblr},
		{UserID: "u2", Platform: domain.Mastodon},
	}}
	broker := &fakeBroker{}

	enqueued, err := newSweeper(store, broker, time.Now()).AccountMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, enqueued)
	for _, job := range broker.jobs {
		assert.Equal(t, domain.FetchAccountMetrics, job.Kind)
		assert.Empty(t, job.PostID)
	}
}

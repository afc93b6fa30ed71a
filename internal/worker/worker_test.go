package worker

import (
	"context"
	"sync"
	"time"

	"github.com/you/fanout/internal/domain"
	"github.com/you/fanout/internal/notify"
	"github.com/you/fanout/internal/platform"
)

// fakeStore keeps one post in memory and mutates outcome slots the way the
// real store does with its narrow UPDATEs.
type fakeStore struct {
	mu        sync.Mutex
	post      *domain.Post
	conns     map[domain.Platform]*domain.Connection
	snapshots []domain.MetricSnapshot
}

func newFakeStore(post *domain.Post) *fakeStore {
	conns := make(map[domain.Platform]*domain.Connection)
	if post != nil {
		for _, p := range post.Platforms {
			conns[p] = activeConn(p)
		}
	}
	return &fakeStore{post: post, conns: conns}
}

func activeConn(p domain.Platform) *domain.Connection {
	return &domain.Connection{
		UserID:      "user-1",
		Platform:    p,
		AccountID:   "acct-1",
		AccountName: "tester",
		AccessToken: "token",
		BaseURL:     "https://example.social",
		Status:      domain.ConnectionActive,
	}
}

func (s *fakeStore) GetPost(ctx context.Context, id string) (*domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.post == nil || s.post.ID != id {
		return nil, nil
	}
	cp := *s.post
	cp.Outcomes = append([]domain.PlatformOutcome(nil), s.post.Outcomes...)
	return &cp, nil
}

func (s *fakeStore) GetConnection(ctx context.Context, userID string, p domain.Platform) (*domain.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[p], nil
}

func (s *fakeStore) outcome(p domain.Platform) *domain.PlatformOutcome {
	for i := range s.post.Outcomes {
		if s.post.Outcomes[i].Platform == p {
			return &s.post.Outcomes[i]
		}
	}
	return nil
}

func (s *fakeStore) MarkOutcomeProcessing(ctx context.Context, postID string, p domain.Platform, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.outcome(p)
	o.Status = domain.OutcomeProcessing
	o.AttemptCount++
	o.LastAttemptAt = &at
	return o.AttemptCount, nil
}

func (s *fakeStore) CompleteOutcome(ctx context.Context, postID string, p domain.Platform, externalID, externalURL string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.outcome(p)
	o.Status = domain.OutcomeCompleted
	o.ExternalID = externalID
	o.ExternalURL = externalURL
	o.LastError = ""
	o.CompletedAt = &at
	return nil
}

func (s *fakeStore) FailOutcome(ctx context.Context, postID string, p domain.Platform, message string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.outcome(p)
	o.Status = domain.OutcomeFailed
	o.LastError = message
	return nil
}

func (s *fakeStore) SetPostStatus(ctx context.Context, postID string, status domain.PostStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.post.Status = status
	return nil
}

func (s *fakeStore) InsertSnapshot(ctx context.Context, m domain.MetricSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, m)
	return nil
}

func (s *fakeStore) StampAnalyticsFetch(ctx context.Context, postID string, p domain.Platform, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o := s.outcome(p); o != nil {
		o.LastAnalyticsAt = &at
	}
	return nil
}

// fakeBroker records retry and dead-letter routing.
type fakeBroker struct {
	mu          sync.Mutex
	retries     []domain.PublishJob
	deadLetters []domain.PublishJob
}

func (b *fakeBroker) EnqueueRetry(ctx context.Context, job domain.PublishJob, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retries = append(b.retries, job)
	return nil
}

func (b *fakeBroker) DeadLetter(ctx context.Context, job domain.PublishJob) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deadLetters = append(b.deadLetters, job)
	return nil
}

// fakeAdapter scripts each stage of the adapter pipeline and counts the
// publish calls that reach the platform.
type fakeAdapter struct {
	name         domain.Platform
	validateErr  error
	prepareErr   error
	publishErr   error
	result       platform.PublishResult
	publishCalls int
	postCounts   domain.EngagementCounts
	postErr      error
	accCounts    domain.EngagementCounts
	accErr       error
}

func (a *fakeAdapter) Name() domain.Platform { return a.name }

func (a *fakeAdapter) ValidateContent(ctx context.Context, body string, mediaURLs []string) error {
	return a.validateErr
}

func (a *fakeAdapter) PrepareMedia(ctx context.Context, mediaURLs []string, creds *domain.Connection) ([]string, error) {
	return mediaURLs, a.prepareErr
}

func (a *fakeAdapter) Publish(ctx context.Context, body string, creds *domain.Connection, media []string) (platform.PublishResult, error) {
	a.publishCalls++
	if a.publishErr != nil {
		return platform.PublishResult{}, a.publishErr
	}
	return a.result, nil
}

func (a *fakeAdapter) FetchPostMetrics(ctx context.Context, creds *domain.Connection, externalID string) (domain.EngagementCounts, error) {
	return a.postCounts, a.postErr
}

func (a *fakeAdapter) FetchAccountMetrics(ctx context.Context, creds *domain.Connection) (domain.EngagementCounts, error) {
	return a.accCounts, a.accErr
}

type fakeAdapters map[domain.Platform]platform.Adapter

func (f fakeAdapters) For(p domain.Platform) (platform.Adapter, bool) {
	a, ok := f[p]
	return a, ok
}

// fakeSink records notifications.
type fakeSink struct {
	mu    sync.Mutex
	kinds []notify.Kind
}

func (s *fakeSink) Notify(ctx context.Context, userID, message string, kind notify.Kind, postID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, kind)
}

func testPost(platforms ...domain.Platform) *domain.Post {
	outcomes := make([]domain.PlatformOutcome, len(platforms))
	for i, p := range platforms {
		outcomes[i] = domain.PlatformOutcome{PostID: "post-1", Platform: p, Status: domain.OutcomePending}
	}
	return &domain.Post{
		ID:        "post-1",
		UserID:    "user-1",
		Body:      "hello world",
		Platforms: platforms,
		Status:    domain.PostPending,
		Outcomes:  outcomes,
	}
}

func testJob(p domain.Platform) domain.PublishJob {
	return domain.PublishJob{
		PostID:        "post-1",
		UserID:        "user-1",
		Platform:      p,
		Body:          "hello world",
		CorrelationID: "corr-1",
	}
}

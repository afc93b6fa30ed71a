package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDerive(t *testing.T) {
	total, rate, virality := Derive(EngagementCounts{
		Likes: 10, Shares: 5, Comments: 5, Followers: 100, SharesSupported: true,
	})
	assert.Equal(t, int64(20), total)
	assert.InDelta(t, 0.2, rate, 1e-9)
	assert.InDelta(t, 0.25, virality, 1e-9)
}

func TestDeriveZeroFollowers(t *testing.T) {
	total, rate, _ := Derive(EngagementCounts{Likes: 3, Followers: 0, SharesSupported: true})
	assert.Equal(t, int64(3), total)
	assert.Zero(t, rate)
}

func TestDeriveViralityUnsupported(t *testing.T) {
	_, _, virality := Derive(EngagementCounts{Likes: 10, Shares: 4, SharesSupported: false})
	assert.Zero(t, virality)
}

func TestDeriveViralityZeroEngagement(t *testing.T) {
	_, _, virality := Derive(EngagementCounts{SharesSupported: true})
	assert.Zero(t, virality)
}

func TestFetchDueTiers(t *testing.T) {
	now := time.Now()
	ago := func(d time.Duration) *time.Time { t := now.Add(-d); return &t }

	// young post: 2h gate
	assert.False(t, FetchDue(2*time.Hour, ago(time.Hour), now))
	assert.True(t, FetchDue(2*time.Hour, ago(3*time.Hour), now))

	// mid-age post: 12h gate
	assert.False(t, FetchDue(3*24*time.Hour, ago(6*time.Hour), now))
	assert.True(t, FetchDue(3*24*time.Hour, ago(13*time.Hour), now))

	// old post: 24h gate
	assert.False(t, FetchDue(10*24*time.Hour, ago(20*time.Hour), now))
	assert.True(t, FetchDue(10*24*time.Hour, ago(25*time.Hour), now))
}

func TestFetchDueNeverFetched(t *testing.T) {
	assert.True(t, FetchDue(10*24*time.Hour, nil, time.Now()))
}

// Two sweeps inside one hour for a two-hour-old post: the second must not
// re-trigger a fetch.
func TestFetchDueDoubleSweep(t *testing.T) {
	now := time.Now()
	assert.True(t, FetchDue(2*time.Hour, nil, now))

	fetched := now
	later := now.Add(time.Hour)
	assert.False(t, FetchDue(3*time.Hour, &fetched, later))
}

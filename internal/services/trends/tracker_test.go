package trends

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/agent-sterling-go/internal/clock"
	"github.com/agent-sterling-go/internal/config"
	"github.com/agent-sterling-go/internal/models"
	"github.com/agent-sterling-go/internal/platform"
	"github.com/agent-sterling-go/internal/platform/platformtest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func post(id, content string, favourites int, hour int) models.RawPost {
	return models.RawPost{
		ID:         id,
		Content:    content,
		Favourites: favourites,
		CreatedAt:  time.Date(2024, 5, 1, hour, 0, 0, 0, time.UTC),
	}
}

func newTracker(client platform.Client, clk clock.Clock) *Tracker {
	cfg := config.TrendsConfig{Cooldown: time.Hour, HistorySize: 5, SampleSize: 5, PurgeAfter: 24 * time.Hour}
	return NewTracker(client, NewTopicHistory(clk, cfg.HistorySize, cfg.PurgeAfter), cfg, clk, testLogger())
}

// TestCooldownEnforced tests topic eligibility around the cooldown boundary
func TestCooldownEnforced(t *testing.T) {
	clk := clock.NewFake(epoch)
	fake := platformtest.NewFake(models.Account{ID: "1", Handle: "sterling"})
	fake.SetTrending(models.TrendingTag{Name: "golang", Volume: 10})
	fake.SetTimeline("golang", post("a", "great release", 3, 10))
	tracker := newTracker(fake, clk)
	ctx := context.Background()

	topics, err := tracker.GetTrendingWithContext(ctx, 10)
	require.NoError(t, err)
	require.Len(t, topics, 1)

	tracker.MarkUsed("#GoLang", "a post about go")

	clk.Advance(time.Hour - time.Second)
	topics, err = tracker.GetTrendingWithContext(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, topics)

	clk.Advance(time.Second)
	topics, err = tracker.GetTrendingWithContext(ctx, 10)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, []string{"a post about go"}, topics[0].PreviousContent)
}

// TestRisingTopicsRankedFirst tests the score ordering
func TestRisingTopicsRankedFirst(t *testing.T) {
	clk := clock.NewFake(epoch)
	fake := platformtest.NewFake(models.Account{ID: "1"})
	fake.SetTrending(models.TrendingTag{Name: "steady", Volume: 100}, models.TrendingTag{Name: "spiky", Volume: 5})
	fake.SetTimeline("steady", post("s1", "ok", 10, 9), post("s2", "ok", 10, 9), post("s3", "ok", 10, 10))
	fake.SetTimeline("spiky", post("p1", "ok", 15, 14), post("p2", "ok", 1, 14), post("p3", "ok", 2, 15))
	tracker := newTracker(fake, clk)

	topics, err := tracker.GetTrendingWithContext(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, topics, 2)

	assert.Equal(t, "spiky", topics[0].Tag)
	assert.Equal(t, DirectionRising, topics[0].Trend)
	assert.InDelta(t, 12.0, topics[0].Score, 0.001)
	assert.Equal(t, 15, topics[0].PeakEngagement)

	assert.Equal(t, "steady", topics[1].Tag)
	assert.Equal(t, DirectionSteady, topics[1].Trend)
	assert.InDelta(t, 10.0, topics[1].Score, 0.001)
	assert.Equal(t, []int{9, 10}, topics[1].ActiveHours)
}

// TestNegativeTopicsSkippedForPosting tests the sentiment filter
func TestNegativeTopicsSkippedForPosting(t *testing.T) {
	clk := clock.NewFake(epoch)
	fake := platformtest.NewFake(models.Account{ID: "1"})
	fake.SetTrending(models.TrendingTag{Name: "news", Volume: 50}, models.TrendingTag{Name: "cats", Volume: 5})
	fake.SetTimeline("news", post("n1", "terrible disaster, awful news 😢", 40, 8))
	fake.SetTimeline("cats", post("c1", "I love my cat 😍", 2, 8))
	tracker := newTracker(fake, clk)

	all, err := tracker.GetTrendingWithContext(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	candidates, err := tracker.CandidatesForPosting(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "cats", candidates[0].Tag)
	assert.Equal(t, SentimentPositive, candidates[0].Sentiment)
}

// TestUnsupportedTrends tests platforms without trends
func TestUnsupportedTrends(t *testing.T) {
	fake := platformtest.NewFake(models.Account{ID: "1"})
	fake.SetError(platformtest.CallFetchTrendingTags, platform.ErrUnsupported)
	tracker := newTracker(fake, clock.NewFake(epoch))

	topics, err := tracker.GetTrending(context.Background(), 10)
	assert.NoError(t, err)
	assert.Empty(t, topics)

	fake.SetError(platformtest.CallFetchTrendingTags, errors.New("503"))
	_, err = tracker.GetTrending(context.Background(), 10)
	assert.Error(t, err)
}

// TestSampleFailureTolerated tests that one failed sample keeps the topic
func TestSampleFailureTolerated(t *testing.T) {
	fake := platformtest.NewFake(models.Account{ID: "1"})
	fake.SetTrending(models.TrendingTag{Name: "golang", Volume: 10})
	fake.SetError(platformtest.CallFetchHashtagTimeline, errors.New("timeout"))
	tracker := newTracker(fake, clock.NewFake(epoch))

	topics, err := tracker.GetTrending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Empty(t, topics[0].SamplePosts)
}

// TestTopicHistory tests bounded contents and purging
func TestTopicHistory(t *testing.T) {
	clk := clock.NewFake(epoch)
	history := NewTopicHistory(clk, 2, 24*time.Hour)

	history.MarkUsed("golang", "one")
	history.MarkUsed("golang", "two")
	history.MarkUsed("golang", "three")
	assert.Equal(t, []string{"two", "three"}, history.RecentContents("golang"))

	clk.Advance(12 * time.Hour)
	history.MarkUsed("rust", "fresh")

	clk.Advance(13 * time.Hour)
	assert.Equal(t, 1, history.Purge())
	assert.Nil(t, history.RecentContents("golang"))
	assert.Equal(t, []string{"fresh"}, history.RecentContents("rust"))
}

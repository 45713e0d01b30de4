package handlers

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/agent-sterling-go/internal/clock"
	"github.com/agent-sterling-go/internal/config"
	"github.com/agent-sterling-go/internal/i18n"
	"github.com/agent-sterling-go/internal/middleware"
	"github.com/agent-sterling-go/internal/models"
	"github.com/agent-sterling-go/internal/platform"
	"github.com/agent-sterling-go/internal/platform/platformtest"
	"github.com/agent-sterling-go/internal/services/dedupe"
	"github.com/agent-sterling-go/internal/services/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const cannedFallback = "sorry, my circuits are tangled"

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeGenerator struct {
	text    string
	prompts []string
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string, images []models.Image) string {
	g.prompts = append(g.prompts, prompt)
	return g.text
}

func (g *fakeGenerator) IsFallback(text string) bool {
	return text == cannedFallback
}

type fixture struct {
	fake      *platformtest.Fake
	generator *fakeGenerator
	dedupe    *dedupe.Store
	ledger    storage.Ledger
	clock     *clock.Fake
	stats     *Stats
}

func newFixture() *fixture {
	return &fixture{
		fake:      platformtest.NewFake(models.Account{ID: "1", Handle: "sterling"}),
		generator: &fakeGenerator{text: "what a fun thought"},
		ledger:    storage.NewMemoryLedger(),
		clock:     clock.NewFake(epoch),
		stats:     &Stats{},
	}
}

func (f *fixture) deps() Deps {
	if f.dedupe == nil {
		f.dedupe = dedupe.New(f.ledger, testLogger(), nil)
	}
	return Deps{
		Client:    f.fake,
		Generator: f.generator,
		Dedupe:    f.dedupe,
		Clock:     f.clock,
		Logger:    testLogger(),
		Stats:     f.stats,
		Self:      models.Account{ID: "1", Handle: "sterling"},
	}
}

func rawPost(id, authorID, handle, content string) models.RawPost {
	return models.RawPost{
		ID:           id,
		AuthorID:     authorID,
		AuthorHandle: handle,
		Content:      "<p>" + content + "</p>",
		Visibility:   models.VisibilityPublic,
		CreatedAt:    epoch,
	}
}

func mentionsConfig() config.MentionsConfig {
	return config.MentionsConfig{Enabled: true, CheckInterval: 2 * time.Minute, ReplyDelay: 5 * time.Second, Limit: 20}
}

// TestMentionsIdempotent tests that a mention is answered exactly once
func TestMentionsIdempotent(t *testing.T) {
	f := newFixture()
	f.fake.SetMentions(
		rawPost("3", "7", "bob", "@sterling are you awake?"),
		rawPost("2", "1", "sterling", "talking to myself"),
		rawPost("1", "8", "alice@example.social", "@sterling hello robot"),
	)
	h := NewMentionHandler(f.deps(), mentionsConfig())

	assert.Equal(t, 2*time.Minute, h.Run(context.Background()))
	replies := f.fake.Replies()
	require.Len(t, replies, 2)
	assert.Equal(t, "1", replies[0].InReplyTo)
	assert.Equal(t, "@alice@example.social what a fun thought", replies[0].Text)
	assert.Equal(t, "3", replies[1].InReplyTo)
	assert.Equal(t, "@bob what a fun thought", replies[1].Text)

	h.Run(context.Background())
	assert.Len(t, f.fake.Replies(), 2)
	assert.Equal(t, int64(2), f.stats.Responses())
	assert.Equal(t, int64(2), f.stats.Processed())
	assert.True(t, strings.Contains(f.generator.prompts[0], "hello robot"))
}

func duplicatesSkipped(t *testing.T, category dedupe.Category) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "sterling_duplicates_skipped_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "category" && label.GetValue() == string(category) {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

// TestDuplicateCountedOnce tests that a skipped mention is recorded once
func TestDuplicateCountedOnce(t *testing.T) {
	f := newFixture()
	metrics := middleware.NewMetrics()
	f.dedupe = dedupe.New(f.ledger, testLogger(), metrics)
	deps := f.deps()
	deps.Metrics = metrics
	f.fake.SetMentions(rawPost("1", "7", "bob", "@sterling hi"))
	h := NewMentionHandler(deps, mentionsConfig())

	h.Run(context.Background())
	before := duplicatesSkipped(t, dedupe.Mentions)
	h.Run(context.Background())

	assert.Equal(t, 1.0, duplicatesSkipped(t, dedupe.Mentions)-before)
	assert.Len(t, f.fake.Replies(), 1)
}

// TestMentionsReplyDelay tests the pause between replies
func TestMentionsReplyDelay(t *testing.T) {
	f := newFixture()
	f.fake.SetMentions(rawPost("2", "7", "bob", "hi"), rawPost("1", "7", "bob", "hello"))
	h := NewMentionHandler(f.deps(), mentionsConfig())

	h.Run(context.Background())
	assert.Equal(t, epoch.Add(10*time.Second), f.clock.Now())
}

// TestMentionsDisabled tests the idle delay of a disabled handler
func TestMentionsDisabled(t *testing.T) {
	f := newFixture()
	settings := mentionsConfig()
	settings.Enabled = false
	h := NewMentionHandler(f.deps(), settings)

	assert.Equal(t, IdleDelay, h.Run(context.Background()))
	assert.Zero(t, f.fake.TotalCalls())
}

// TestMentionsFetchError tests the hard-error backoff
func TestMentionsFetchError(t *testing.T) {
	f := newFixture()
	f.fake.SetError(platformtest.CallFetchMentions, errors.New("connection reset"))
	h := NewMentionHandler(f.deps(), mentionsConfig())

	assert.Equal(t, ErrorBackoff, h.Run(context.Background()))
}

// TestMentionsFailedReplyRetried tests that only successful replies are marked
func TestMentionsFailedReplyRetried(t *testing.T) {
	f := newFixture()
	f.fake.SetMentions(rawPost("1", "7", "bob", "hello"))
	f.fake.SetError(platformtest.CallReply, &platform.APIError{StatusCode: 500, Body: "oops"})
	h := NewMentionHandler(f.deps(), mentionsConfig())

	h.Run(context.Background())
	assert.Empty(t, f.fake.Replies())
	assert.False(t, f.dedupe.Seen("1", dedupe.Mentions))

	f.fake.SetError(platformtest.CallReply, nil)
	h.Run(context.Background())
	h.Run(context.Background())
	assert.Len(t, f.fake.Replies(), 1)
}

// TestMentionsKeepDirectVisibility tests that private mentions get private replies
func TestMentionsKeepDirectVisibility(t *testing.T) {
	f := newFixture()
	mention := rawPost("1", "7", "bob", "psst")
	mention.Visibility = models.VisibilityDirect
	f.fake.SetMentions(mention)
	h := NewMentionHandler(f.deps(), mentionsConfig())

	h.Run(context.Background())
	require.Len(t, f.fake.Replies(), 1)
	assert.Equal(t, models.VisibilityDirect, f.fake.Replies()[0].Visibility)
}

// TestMentionsStopOnCancel tests that a cancelled context ends the batch
func TestMentionsStopOnCancel(t *testing.T) {
	f := newFixture()
	f.fake.SetMentions(rawPost("2", "7", "bob", "hi"), rawPost("1", "7", "bob", "hello"))
	h := NewMentionHandler(f.deps(), mentionsConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.Run(ctx)
	assert.Empty(t, f.fake.Replies())
}

func hashtagsConfig() config.HashtagsConfig {
	return config.HashtagsConfig{
		Enabled:       true,
		Tags:          []string{"#golang"},
		CheckInterval: 10 * time.Minute,
		Limit:         20,
		Keywords:      []string{"generics", "release"},
		Blacklist:     []string{"spam"},
	}
}

// TestHashtagFilters tests keyword and blacklist filtering
func TestHashtagFilters(t *testing.T) {
	f := newFixture()
	f.fake.SetTimeline("golang",
		rawPost("1", "7", "bob", "Generics in golang are great"),
		rawPost("2", "7", "bob", "new release, buy my SPAM course"),
		rawPost("3", "7", "bob", "lunch was nice"),
		rawPost("4", "1", "sterling", "the release is out"),
	)
	h := NewHashtagWatcher(f.deps(), hashtagsConfig())

	assert.Equal(t, 10*time.Minute, h.Run(context.Background()))
	replies := f.fake.Replies()
	require.Len(t, replies, 1)
	assert.Equal(t, "1", replies[0].InReplyTo)
	assert.True(t, f.dedupe.Seen("2", dedupe.Posts))
	assert.True(t, f.dedupe.Seen("3", dedupe.Posts))

	h.Run(context.Background())
	assert.Len(t, f.fake.Replies(), 1)
}

// TestHashtagReplyCap tests the per-cycle reply cap
func TestHashtagReplyCap(t *testing.T) {
	f := newFixture()
	f.fake.SetTimeline("golang",
		rawPost("1", "7", "bob", "release one"),
		rawPost("2", "7", "bob", "release two"),
		rawPost("3", "7", "bob", "release three"),
	)
	settings := hashtagsConfig()
	settings.MaxRepliesPerCycle = 2
	h := NewHashtagWatcher(f.deps(), settings)

	h.Run(context.Background())
	assert.Len(t, f.fake.Replies(), 2)
	h.Run(context.Background())
	assert.Len(t, f.fake.Replies(), 3)
}

// TestHashtagFallbackNotSent tests that canned text is not sent to strangers
func TestHashtagFallbackNotSent(t *testing.T) {
	f := newFixture()
	f.generator.text = cannedFallback
	f.fake.SetTimeline("golang", rawPost("1", "7", "bob", "release day"))
	h := NewHashtagWatcher(f.deps(), hashtagsConfig())

	h.Run(context.Background())
	assert.Empty(t, f.fake.Replies())
	assert.False(t, f.dedupe.Seen("1", dedupe.Posts))
}

// TestHashtagAllTimelinesFail tests the hard-error backoff
func TestHashtagAllTimelinesFail(t *testing.T) {
	f := newFixture()
	f.fake.SetError(platformtest.CallFetchHashtagTimeline, errors.New("timeout"))
	h := NewHashtagWatcher(f.deps(), hashtagsConfig())

	assert.Equal(t, ErrorBackoff, h.Run(context.Background()))
}

func dmConfig() config.DMConfig {
	return config.DMConfig{Enabled: true, CheckInterval: 3 * time.Minute, Cooldown: 10 * time.Minute}
}

func conversation(id string, last models.RawPost) models.RawConversation {
	return models.RawConversation{
		ID:         id,
		Unread:     true,
		Accounts:   []models.Account{{ID: last.AuthorID, Handle: last.AuthorHandle}},
		LastStatus: &last,
	}
}

// TestDMRepliesOncePerMessage tests that DMs are answered once, privately
func TestDMRepliesOncePerMessage(t *testing.T) {
	f := newFixture()
	f.fake.SetConversations(
		conversation("c1", rawPost("10", "7", "alice", "can you help me?")),
		conversation("c2", rawPost("11", "1", "sterling", "sure thing")),
		models.RawConversation{ID: "c3"},
	)
	h := NewDMHandler(f.deps(), dmConfig())

	assert.Equal(t, 3*time.Minute, h.Run(context.Background()))
	replies := f.fake.Replies()
	require.Len(t, replies, 1)
	assert.Equal(t, "10", replies[0].InReplyTo)
	assert.Equal(t, models.VisibilityDirect, replies[0].Visibility)
	assert.Equal(t, "@alice what a fun thought", replies[0].Text)

	h.Run(context.Background())
	assert.Len(t, f.fake.Replies(), 1)

	restored := dedupe.New(f.ledger, testLogger(), nil)
	restored.Load(context.Background())
	assert.True(t, restored.Seen("10", dedupe.DMs))
}

// TestDMCooldown tests the per-conversation cooldown
func TestDMCooldown(t *testing.T) {
	f := newFixture()
	f.fake.SetConversations(conversation("c1", rawPost("10", "7", "alice", "hi")))
	h := NewDMHandler(f.deps(), dmConfig())
	h.Run(context.Background())

	f.fake.SetConversations(conversation("c1", rawPost("12", "7", "alice", "are you there?")))
	f.clock.Advance(5 * time.Minute)
	h.Run(context.Background())
	assert.Len(t, f.fake.Replies(), 1)

	f.clock.Advance(5 * time.Minute)
	h.Run(context.Background())
	replies := f.fake.Replies()
	require.Len(t, replies, 2)
	assert.Equal(t, "12", replies[1].InReplyTo)
}

// TestDMFallback tests the localized reply when generation fails
func TestDMFallback(t *testing.T) {
	f := newFixture()
	f.generator.text = cannedFallback
	f.fake.SetConversations(conversation("c1", rawPost("10", "7", "alice", "hello?")))
	h := NewDMHandler(f.deps(), dmConfig())

	h.Run(context.Background())
	replies := f.fake.Replies()
	require.Len(t, replies, 1)
	assert.Equal(t, "@alice "+i18n.NewDefaultLocalizer().Default(i18n.MsgDMFallback), replies[0].Text)
}

func likeConfig(probability float64) config.LikeConfig {
	return config.LikeConfig{
		Enabled:       true,
		CheckInterval: 15 * time.Minute,
		Probability:   probability,
		Tags:          []string{"golang"},
	}
}

// TestAutoLikerIdempotent tests that a post is favourited at most once
func TestAutoLikerIdempotent(t *testing.T) {
	f := newFixture()
	f.fake.SetTimeline("golang",
		rawPost("1", "7", "bob", "one"),
		rawPost("2", "1", "sterling", "mine"),
		rawPost("3", "8", "carol", "three"),
	)
	h := NewAutoLiker(f.deps(), likeConfig(1), rand.New(rand.NewSource(1)))

	assert.Equal(t, 15*time.Minute, h.Run(context.Background()))
	assert.Equal(t, []string{"1", "3"}, f.fake.Favorites())

	h.Run(context.Background())
	assert.Equal(t, []string{"1", "3"}, f.fake.Favorites())
}

// TestAutoLikerProbabilityGate tests that a post skipped by the draw is not retried
func TestAutoLikerProbabilityGate(t *testing.T) {
	f := newFixture()
	f.fake.SetTimeline("golang", rawPost("1", "7", "bob", "one"), rawPost("3", "8", "carol", "three"))
	h := NewAutoLiker(f.deps(), likeConfig(0), rand.New(rand.NewSource(1)))

	h.Run(context.Background())
	assert.Empty(t, f.fake.Favorites())
	assert.True(t, f.dedupe.Seen("1", dedupe.Likes))

	require.NoError(t, h.UpdateSettings(likeConfig(1)))
	h.Run(context.Background())
	assert.Empty(t, f.fake.Favorites())
}

// TestAutoLikerCap tests the per-cycle like cap
func TestAutoLikerCap(t *testing.T) {
	f := newFixture()
	f.fake.SetTimeline("golang", rawPost("1", "7", "bob", "a"), rawPost("2", "7", "bob", "b"), rawPost("3", "7", "bob", "c"))
	settings := likeConfig(1)
	settings.MaxLikesPerCycle = 2
	h := NewAutoLiker(f.deps(), settings, rand.New(rand.NewSource(1)))

	h.Run(context.Background())
	assert.Len(t, f.fake.Favorites(), 2)
}

// TestAutoLikerTrendingTags tests the trending fallback without configured tags
func TestAutoLikerTrendingTags(t *testing.T) {
	f := newFixture()
	f.fake.SetTrending(models.TrendingTag{Name: "caturday", Volume: 50})
	f.fake.SetTimeline("caturday", rawPost("9", "7", "bob", "look at my cat"))
	settings := likeConfig(1)
	settings.Tags = nil
	h := NewAutoLiker(f.deps(), settings, rand.New(rand.NewSource(1)))

	h.Run(context.Background())
	assert.Equal(t, []string{"9"}, f.fake.Favorites())

	f.fake.SetError(platformtest.CallFetchTrendingTags, platform.ErrUnsupported)
	assert.Equal(t, 15*time.Minute, h.Run(context.Background()))
}

// TestUpdateSettingsValidated tests that handlers reject invalid settings
func TestUpdateSettingsValidated(t *testing.T) {
	f := newFixture()
	liker := NewAutoLiker(f.deps(), likeConfig(0.5), nil)
	assert.Error(t, liker.UpdateSettings(likeConfig(1.5)))
	assert.Equal(t, 0.5, liker.Settings().Probability)

	mentions := NewMentionHandler(f.deps(), mentionsConfig())
	bad := mentionsConfig()
	bad.CheckInterval = 0
	assert.Error(t, mentions.UpdateSettings(bad))
}

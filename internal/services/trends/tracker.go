package trends

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/agent-sterling-go/internal/clock"
	"github.com/agent-sterling-go/internal/config"
	"github.com/agent-sterling-go/internal/models"
	"github.com/agent-sterling-go/internal/platform"
	"github.com/agent-sterling-go/pkg/textutil"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

type Direction string

const (
	DirectionRising Direction = "rising"
	DirectionSteady Direction = "steady"
)

const sampleConcurrency = 4

// Topic is a trending tag with a sample of recent posts
type Topic struct {
	Tag         string              `json:"tag"`
	Volume      int                 `json:"volume"`
	SamplePosts []models.PostRecord `json:"sample_posts"`
}

// TopicContext summarizes engagement and tone over a topic's sample posts
type TopicContext struct {
	Tag             string              `json:"tag"`
	Volume          int                 `json:"volume"`
	AvgEngagement   float64             `json:"avg_engagement"`
	PeakEngagement  int                 `json:"peak_engagement"`
	ActiveHours     []int               `json:"active_hours"`
	Sentiment       Sentiment           `json:"sentiment"`
	Trend           Direction           `json:"trend"`
	Score           float64             `json:"score"`
	SamplePosts     []models.PostRecord `json:"sample_posts"`
	PreviousContent []string            `json:"previous_content,omitempty"`
}

// Tracker fetches trending tags and decides which are fit to post about
type Tracker struct {
	client  platform.Client
	history *TopicHistory
	cfg     config.TrendsConfig
	clock   clock.Clock
	logger  *logrus.Logger
}

// NewTracker creates a trend tracker
func NewTracker(client platform.Client, history *TopicHistory, cfg config.TrendsConfig, clk clock.Clock, logger *logrus.Logger) *Tracker {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Hour
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 5
	}
	return &Tracker{
		client:  client,
		history: history,
		cfg:     cfg,
		clock:   clk,
		logger:  logger,
	}
}

// GetTrending returns up to limit trending tags with sample posts. A platform
// without trends yields no topics.
func (t *Tracker) GetTrending(ctx context.Context, limit int) ([]Topic, error) {
	tags, err := t.client.FetchTrendingTags(ctx, limit)
	if errors.Is(err, platform.ErrUnsupported) {
		t.logger.WithField("platform", t.client.Name()).Debug("Trending tags not supported")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(tags) > limit {
		tags = tags[:limit]
	}

	topics := make([]Topic, len(tags))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sampleConcurrency)
	for i, tag := range tags {
		i, tag := i, tag
		topics[i] = Topic{Tag: tag.Name, Volume: tag.Volume}
		g.Go(func() error {
			posts, err := t.client.FetchHashtagTimeline(gctx, tag.Name, t.cfg.SampleSize)
			if err != nil {
				t.logger.WithError(err).WithField("tag", tag.Name).Warn("Failed to sample trending tag")
				return nil
			}
			samples := make([]models.PostRecord, 0, len(posts))
			for _, post := range posts {
				samples = append(samples, platform.Format(post))
			}
			topics[i].SamplePosts = samples
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return topics, nil
}

// GetTrendingWithContext returns trending topics outside their cooldown,
// enriched and sorted by score, highest first
func (t *Tracker) GetTrendingWithContext(ctx context.Context, limit int) ([]TopicContext, error) {
	topics, err := t.GetTrending(ctx, limit)
	if err != nil {
		return nil, err
	}

	contexts := make([]TopicContext, 0, len(topics))
	for _, topic := range topics {
		if t.history.OnCooldown(topic.Tag, t.cfg.Cooldown) {
			t.logger.WithField("tag", topic.Tag).Debug("Topic on cooldown, skipping")
			continue
		}
		topicContext := Analyze(topic)
		topicContext.PreviousContent = t.history.RecentContents(topic.Tag)
		contexts = append(contexts, topicContext)
	}

	sort.SliceStable(contexts, func(i, j int) bool {
		if contexts[i].Score != contexts[j].Score {
			return contexts[i].Score > contexts[j].Score
		}
		return contexts[i].Volume > contexts[j].Volume
	})
	return contexts, nil
}

// CandidatesForPosting returns the topics fit to post about: outside their
// cooldown and not predominantly negative
func (t *Tracker) CandidatesForPosting(ctx context.Context, limit int) ([]TopicContext, error) {
	contexts, err := t.GetTrendingWithContext(ctx, limit)
	if err != nil {
		return nil, err
	}
	candidates := contexts[:0]
	for _, c := range contexts {
		if c.Sentiment == SentimentNegative {
			t.logger.WithField("tag", c.Tag).Debug("Topic sentiment negative, skipping")
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// MarkUsed records that content was posted about tag
func (t *Tracker) MarkUsed(tag, content string) {
	t.history.MarkUsed(tag, content)
}

// RecentContents returns what was previously posted about tag
func (t *Tracker) RecentContents(tag string) []string {
	return t.history.RecentContents(tag)
}

// Purge drops topics unused for more than the purge window
func (t *Tracker) Purge() int {
	purged := t.history.Purge()
	if purged > 0 {
		t.logger.WithField("purged", purged).Debug("Purged stale topics")
	}
	return purged
}

// Analyze computes the engagement, activity and sentiment context of topic
func Analyze(topic Topic) TopicContext {
	tc := TopicContext{
		Tag:         topic.Tag,
		Volume:      topic.Volume,
		Sentiment:   SentimentNeutral,
		Trend:       DirectionSteady,
		SamplePosts: topic.SamplePosts,
	}
	if len(topic.SamplePosts) == 0 {
		return tc
	}

	total := 0
	hourCounts := make(map[int]int)
	positive, negative := 0, 0
	for _, post := range topic.SamplePosts {
		engagement := 0
		if post.Raw != nil {
			engagement = post.Raw.Engagement()
			hourCounts[post.Raw.CreatedAt.UTC().Hour()]++
		}
		total += engagement
		if engagement > tc.PeakEngagement {
			tc.PeakEngagement = engagement
		}
		p, n := scoreSentiment(post.Content)
		positive += p
		negative += n
	}

	tc.AvgEngagement = float64(total) / float64(len(topic.SamplePosts))
	if tc.AvgEngagement > 0 && float64(tc.PeakEngagement) > 1.5*tc.AvgEngagement {
		tc.Trend = DirectionRising
	}
	switch {
	case positive > negative:
		tc.Sentiment = SentimentPositive
	case negative > positive:
		tc.Sentiment = SentimentNegative
	}
	tc.ActiveHours = topHours(hourCounts, 3)

	tc.Score = tc.AvgEngagement
	if tc.Trend == DirectionRising {
		tc.Score *= 2
	}
	return tc
}

func topHours(counts map[int]int, n int) []int {
	hours := make([]int, 0, len(counts))
	for hour := range counts {
		hours = append(hours, hour)
	}
	sort.Slice(hours, func(i, j int) bool {
		if counts[hours[i]] != counts[hours[j]] {
			return counts[hours[i]] > counts[hours[j]]
		}
		return hours[i] < hours[j]
	})
	if len(hours) > n {
		hours = hours[:n]
	}
	sort.Ints(hours)
	return hours
}

var (
	positiveWords = map[string]bool{
		"love": true, "great": true, "awesome": true, "amazing": true, "happy": true, "good": true,
		"best": true, "excited": true, "wonderful": true, "congrats": true, "fun": true, "beautiful": true,
		"win": true, "thanks": true, "cool": true, "nice": true,
	}
	negativeWords = map[string]bool{
		"hate": true, "awful": true, "terrible": true, "sad": true, "angry": true, "bad": true,
		"worst": true, "death": true, "died": true, "war": true, "attack": true, "disaster": true,
		"tragedy": true, "killed": true, "crisis": true, "outrage": true,
	}
	positiveEmoji = []string{"😀", "😂", "😍", "🎉", "❤️", "👍", "🥳", "😊", "🔥", "✨"}
	negativeEmoji = []string{"😢", "😭", "😡", "💔", "👎", "😠", "😞", "🙁"}
)

func scoreSentiment(text string) (positive, negative int) {
	for _, token := range textutil.Tokenize(text) {
		if positiveWords[token] {
			positive++
		}
		if negativeWords[token] {
			negative++
		}
	}
	for _, e := range positiveEmoji {
		positive += strings.Count(text, e)
	}
	for _, e := range negativeEmoji {
		negative += strings.Count(text, e)
	}
	return positive, negative
}

package posting

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agent-sterling-go/internal/clock"
	"github.com/agent-sterling-go/internal/config"
	"github.com/agent-sterling-go/internal/middleware"
	"github.com/agent-sterling-go/internal/models"
	"github.com/agent-sterling-go/internal/platform"
	"github.com/agent-sterling-go/internal/services/dedupe"
	"github.com/agent-sterling-go/internal/services/storage"
	"github.com/agent-sterling-go/internal/services/trends"
	"github.com/agent-sterling-go/pkg/textutil"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Strategy is a source of inspiration for an automatic post
type Strategy string

const (
	StrategyReplay   Strategy = "replay"
	StrategyInternet Strategy = "internet_trends"
	StrategyPlatform Strategy = "platform_trends"
)

// Strategies in selection order
var Strategies = []Strategy{StrategyReplay, StrategyInternet, StrategyPlatform}

const (
	ownPostsLimit       = 20
	maxTopicCandidates  = 3
	maxInternetAttempts = 2
	replaySimilarity    = 0.7
)

const internetTrendsContext = "Something people across the internet are talking about today in tech, science, " +
	"gaming or pop culture. Pick one lighthearted current trend and riff on it."

// Generator produces post text. IsFallback recognizes the canned text
// returned when generation failed.
type Generator interface {
	GenerateStyled(ctx context.Context, content, style string) string
	IsFallback(text string) bool
}

type postingState struct {
	DailyCount int       `json:"daily_count"`
	TotalPosts int       `json:"total_posts"`
	LastPostAt time.Time `json:"last_post_at"`
	LastReset  time.Time `json:"last_reset"`
}

type trendUsage struct {
	UsedToday bool  `json:"used_today"`
	LastReset int64 `json:"last_reset"`
}

// Stats is a snapshot of the engine's counters
type Stats struct {
	PostsToday     int       `json:"posts_today"`
	TotalPosts     int       `json:"total_posts"`
	LastPostAt     time.Time `json:"last_post_at"`
	PlatformUsed   bool      `json:"platform_trend_used_today"`
	NextDailyReset time.Time `json:"next_daily_reset"`
}

// Engine decides when to post automatically and what to post
type Engine struct {
	client     platform.Client
	generator  Generator
	tracker    *trends.Tracker
	dedupe     *dedupe.Store
	ledger     storage.Ledger
	clock      clock.Clock
	logger     *logrus.Logger
	metrics    *middleware.Metrics
	visibility models.Visibility
	trendLimit int
	maxLength  int

	mu       sync.Mutex
	rng      *rand.Rand
	settings config.AutoPostConfig
	schedule cron.Schedule
	state    postingState
	usage    trendUsage
}

// Options carries the collaborators of an Engine
type Options struct {
	Client     platform.Client
	Generator  Generator
	Tracker    *trends.Tracker
	Dedupe     *dedupe.Store
	Ledger     storage.Ledger
	Clock      clock.Clock
	Logger     *logrus.Logger
	Metrics    *middleware.Metrics
	Settings   config.AutoPostConfig
	Visibility models.Visibility
	TrendLimit int
	MaxLength  int
	Rand       *rand.Rand
}

// NewEngine creates a posting engine. Settings are validated the same way
// UpdateSettings validates them.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(opts.Clock.Now().UnixNano()))
	}
	if opts.Visibility == "" {
		opts.Visibility = models.VisibilityPublic
	}
	if opts.TrendLimit <= 0 {
		opts.TrendLimit = 10
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = 500
	}

	e := &Engine{
		client:     opts.Client,
		generator:  opts.Generator,
		tracker:    opts.Tracker,
		dedupe:     opts.Dedupe,
		ledger:     opts.Ledger,
		clock:      opts.Clock,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		visibility: opts.Visibility,
		trendLimit: opts.TrendLimit,
		maxLength:  opts.MaxLength,
		rng:        opts.Rand,
	}
	if err := e.UpdateSettings(opts.Settings); err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateSettings swaps in new auto-post settings
func (e *Engine) UpdateSettings(settings config.AutoPostConfig) error {
	if err := config.ValidateAutoPost(settings); err != nil {
		return err
	}
	schedule, err := cron.ParseStandard(settings.ResetSchedule)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = settings
	e.schedule = schedule
	return nil
}

// SetMaxLength changes the post length limit that appended hashtags must respect
func (e *Engine) SetMaxLength(n int) {
	if n <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxLength = n
}

// MaxLength returns the post length limit in effect
func (e *Engine) MaxLength() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxLength
}

// Settings returns the current auto-post settings
func (e *Engine) Settings() config.AutoPostConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Load restores counters from the ledger. Unreadable state starts fresh.
func (e *Engine) Load(ctx context.Context) {
	var state postingState
	if err := e.ledger.Load(ctx, storage.KeyPostingState, &state); err != nil {
		e.logLoadError(storage.KeyPostingState, err)
		state = postingState{}
	}
	var usage trendUsage
	if err := e.ledger.Load(ctx, storage.KeyTrendUsage, &usage); err != nil {
		e.logLoadError(storage.KeyTrendUsage, err)
		usage = trendUsage{}
	}

	e.mu.Lock()
	e.state = state
	e.usage = usage
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"posts_today":    state.DailyCount,
		"platform_used":  usage.UsedToday,
		"last_post_at":   state.LastPostAt,
		"last_reset_utc": time.Unix(usage.LastReset, 0).UTC(),
	}).Info("Posting state loaded")
}

func (e *Engine) logLoadError(key string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	e.logger.WithError(err).WithField("key", key).Warn("Failed to load ledger, starting empty")
}

// resetIfDue clears the daily counters when a reset boundary has passed.
// Caller holds e.mu.
func (e *Engine) resetIfDue(now time.Time) bool {
	changed := false
	if e.state.LastReset.IsZero() {
		e.state.LastReset = now
		changed = true
	} else if !now.Before(e.schedule.Next(e.state.LastReset.In(now.Location()))) {
		e.state.DailyCount = 0
		e.state.LastReset = now
		changed = true
	}

	if e.usage.LastReset == 0 {
		e.usage.LastReset = now.Unix()
		changed = true
	} else if !now.Before(e.schedule.Next(time.Unix(e.usage.LastReset, 0).In(now.Location()))) {
		e.usage.UsedToday = false
		e.usage.LastReset = now.Unix()
		changed = true
	}
	return changed
}

// Weights returns the strategy weights in effect now. Once a platform-trend
// post went out today its weight moves to internet trends.
func (e *Engine) Weights() map[Strategy]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetIfDue(e.clock.Now())
	return e.weightsLocked()
}

func (e *Engine) weightsLocked() map[Strategy]float64 {
	w := e.settings.StrategyWeights
	weights := map[Strategy]float64{
		StrategyReplay:   w.Replay,
		StrategyInternet: w.Internet,
		StrategyPlatform: w.Platform,
	}
	if e.usage.UsedToday {
		weights[StrategyInternet] += weights[StrategyPlatform]
		weights[StrategyPlatform] = 0
	}
	return weights
}

// SelectStrategy draws a strategy at random according to Weights
func (e *Engine) SelectStrategy() Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetIfDue(e.clock.Now())

	weights := e.weightsLocked()
	total := 0.0
	for _, s := range Strategies {
		total += weights[s]
	}
	if total <= 0 {
		return StrategyInternet
	}

	r := e.rng.Float64() * total
	for _, s := range Strategies {
		if weights[s] <= 0 {
			continue
		}
		if r < weights[s] {
			return s
		}
		r -= weights[s]
	}
	return StrategyInternet
}

// RunCycle publishes one automatic post if the interval has elapsed and the
// daily cap allows it. It reports whether a post was published.
func (e *Engine) RunCycle(ctx context.Context) (bool, error) {
	now := e.clock.Now()

	e.mu.Lock()
	settings := e.settings
	if e.resetIfDue(now) {
		e.persistLocked(ctx)
	}
	count := e.state.DailyCount
	lastPostAt := e.state.LastPostAt
	e.mu.Unlock()

	if !settings.Enabled {
		return false, nil
	}
	if count >= settings.MaxDailyPosts {
		e.logger.WithField("posts_today", count).Debug("Daily post cap reached")
		return false, nil
	}
	if !lastPostAt.IsZero() && now.Sub(lastPostAt) < settings.Interval {
		return false, nil
	}

	strategy := e.SelectStrategy()
	text, topic, used, err := e.compose(ctx, strategy)
	if err != nil {
		return false, fmt.Errorf("%s strategy: %w", used, err)
	}
	if text == "" {
		e.logger.WithField("strategy", used).Info("No fresh content this cycle")
		return false, nil
	}

	if _, err := e.client.Post(ctx, text, e.visibility); err != nil {
		return false, fmt.Errorf("failed to publish post: %w", err)
	}

	e.dedupe.RecordPost(ctx, text)
	if topic != "" {
		e.tracker.MarkUsed(topic, text)
	}

	e.mu.Lock()
	e.state.DailyCount++
	e.state.TotalPosts++
	e.state.LastPostAt = e.clock.Now()
	if used == StrategyPlatform {
		e.usage.UsedToday = true
	}
	count = e.state.DailyCount
	e.persistLocked(ctx)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.SetPostsToday(count)
	}
	e.logger.WithFields(logrus.Fields{
		"strategy":    used,
		"topic":       topic,
		"posts_today": count,
	}).Info("Published automatic post")
	return true, nil
}

// persistLocked writes counters to the ledger. Caller holds e.mu.
func (e *Engine) persistLocked(ctx context.Context) {
	if err := e.ledger.Save(ctx, storage.KeyPostingState, e.state); err != nil {
		e.logger.WithError(err).Warn("Failed to persist posting state")
	}
	if err := e.ledger.Save(ctx, storage.KeyTrendUsage, e.usage); err != nil {
		e.logger.WithError(err).Warn("Failed to persist trend usage")
	}
}

// compose returns the text to post, the topic it is about (if any) and the
// strategy that actually produced it. An empty text means nothing fresh.
func (e *Engine) compose(ctx context.Context, strategy Strategy) (string, string, Strategy, error) {
	switch strategy {
	case StrategyReplay:
		text, ok, err := e.composeReplay(ctx)
		if err != nil {
			return "", "", strategy, err
		}
		if ok {
			return text, "", strategy, nil
		}
		e.logger.Debug("Nothing to replay, falling back to internet trends")
	case StrategyPlatform:
		text, topic, err := e.composePlatform(ctx)
		if err != nil {
			e.logger.WithError(err).Warn("Platform trends unavailable, falling back to internet trends")
		} else if text != "" {
			return text, topic, strategy, nil
		} else {
			e.logger.Debug("No fresh platform topic, falling back to internet trends")
		}
	}
	return e.composeInternet(ctx), "", StrategyInternet, nil
}

func (e *Engine) composeReplay(ctx context.Context) (string, bool, error) {
	posts, err := e.client.FetchOwnPosts(ctx, ownPostsLimit)
	if err != nil {
		return "", false, err
	}
	if len(posts) == 0 {
		return "", false, nil
	}

	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].Engagement() > posts[j].Engagement()
	})
	best := platform.Format(posts[0])
	if best.Content == "" {
		return "", false, nil
	}

	prompt := fmt.Sprintf("One of your own posts did really well (%d favourites and boosts): %q. "+
		"Write a brand new post in the same spirit without repeating it.", posts[0].Engagement(), best.Content)
	text := e.generator.GenerateStyled(ctx, prompt, "")
	if !e.fresh(text) || textutil.Jaccard(text, best.Content) > replaySimilarity {
		return "", true, nil
	}
	return text, true, nil
}

func (e *Engine) composeInternet(ctx context.Context) string {
	for attempt := 0; attempt < maxInternetAttempts; attempt++ {
		text := e.generator.GenerateStyled(ctx, internetTrendsContext, "")
		if e.fresh(text) {
			return text
		}
		if ctx.Err() != nil {
			break
		}
	}
	return ""
}

func (e *Engine) composePlatform(ctx context.Context) (string, string, error) {
	candidates, err := e.tracker.CandidatesForPosting(ctx, e.trendLimit)
	if err != nil {
		return "", "", err
	}
	if len(candidates) > maxTopicCandidates {
		candidates = candidates[:maxTopicCandidates]
	}

	for _, candidate := range candidates {
		text := e.generator.GenerateStyled(ctx, describeTopic(candidate), "")
		if !e.fresh(text) {
			continue
		}
		return appendTag(text, candidate.Tag, e.MaxLength()), candidate.Tag, nil
	}
	return "", "", nil
}

// fresh reports whether text is real generated content that does not repeat a recent post
func (e *Engine) fresh(text string) bool {
	if strings.TrimSpace(text) == "" || e.generator.IsFallback(text) {
		return false
	}
	if e.dedupe.IsRecentContent(text) {
		if e.metrics != nil {
			e.metrics.RecordDuplicate("content")
		}
		e.logger.Debug("Candidate too similar to a recent post, rejected")
		return false
	}
	return true
}

func describeTopic(tc trends.TopicContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Trending on the fediverse: #%s (%s, mood %s).", tc.Tag, tc.Trend, tc.Sentiment)
	samples := tc.SamplePosts
	if len(samples) > 3 {
		samples = samples[:3]
	}
	for _, sample := range samples {
		if sample.Content != "" {
			fmt.Fprintf(&b, "\nSomeone posted: %q", textutil.TruncateAtWord(sample.Content, 200))
		}
	}
	if len(tc.PreviousContent) > 0 {
		b.WriteString("\nYou already said these about it, say something new:")
		for _, previous := range tc.PreviousContent {
			fmt.Fprintf(&b, "\n- %s", previous)
		}
	}
	return b.String()
}

func appendTag(text, tag string, maxLength int) string {
	hashtag := "#" + tag
	if strings.Contains(strings.ToLower(text), strings.ToLower(hashtag)) {
		return text
	}
	if len([]rune(text))+1+len([]rune(hashtag)) > maxLength {
		return text
	}
	return text + " " + hashtag
}

// Stats returns the current counters
func (e *Engine) Stats() Stats {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	// Without a reset baseline the next boundary is counted from now
	base := e.state.LastReset
	if base.IsZero() {
		base = now
	}
	return Stats{
		PostsToday:     e.state.DailyCount,
		TotalPosts:     e.state.TotalPosts,
		LastPostAt:     e.state.LastPostAt,
		PlatformUsed:   e.usage.UsedToday,
		NextDailyReset: e.schedule.Next(base.In(now.Location())),
	}
}

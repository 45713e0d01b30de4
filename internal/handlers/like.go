package handlers

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/agent-sterling-go/internal/config"
	"github.com/agent-sterling-go/internal/platform"
	"github.com/agent-sterling-go/internal/services/dedupe"
)

const (
	likeTimelineLimit = 20
	likeTrendingLimit = 5
)

// AutoLiker favourites a random share of the posts in its tag timelines.
// Without configured tags it follows the platform's trending tags.
type AutoLiker struct {
	base

	mu       sync.Mutex
	settings config.LikeConfig
	rng      *rand.Rand
}

// NewAutoLiker creates an auto-liker. A nil rng is seeded from the clock.
func NewAutoLiker(deps Deps, settings config.LikeConfig, rng *rand.Rand) *AutoLiker {
	b := newBase("like", deps)
	if rng == nil {
		rng = rand.New(rand.NewSource(b.clock.Now().UnixNano()))
	}
	return &AutoLiker{
		base:     b,
		settings: settings,
		rng:      rng,
	}
}

func (h *AutoLiker) Settings() config.LikeConfig {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.settings
}

func (h *AutoLiker) UpdateSettings(settings config.LikeConfig) error {
	if err := config.ValidateLike(settings); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settings = settings
	return nil
}

func (h *AutoLiker) roll(probability float64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rng.Float64() < probability
}

// Run likes posts from each tag timeline and returns the delay until the next
// run. MaxLikesPerCycle of zero means no cap.
func (h *AutoLiker) Run(ctx context.Context) time.Duration {
	settings := h.Settings()
	if !settings.Enabled {
		return IdleDelay
	}

	tags, err := h.tags(ctx, settings)
	if err != nil {
		return h.fetchFailed(err, "trending tags")
	}
	if len(tags) == 0 {
		return settings.CheckInterval
	}

	liked := 0
	failures := 0
	for _, tag := range tags {
		if ctx.Err() != nil {
			break
		}
		posts, err := h.client.FetchHashtagTimeline(ctx, tag, likeTimelineLimit)
		if err != nil {
			h.logger.WithError(err).WithField("tag", tag).Warn("Failed to fetch hashtag timeline")
			failures++
			continue
		}

		for _, raw := range posts {
			if settings.MaxLikesPerCycle > 0 && liked >= settings.MaxLikesPerCycle {
				return settings.CheckInterval
			}
			if ctx.Err() != nil {
				break
			}
			if h.isOwn(raw) || h.seen(raw.ID, dedupe.Likes) {
				continue
			}
			h.stats.AddProcessed()

			// Marked before the draw so a post gets one chance, not one per cycle.
			h.dedupe.Mark(ctx, raw.ID, dedupe.Likes)
			if !h.roll(settings.Probability) {
				continue
			}

			if err := h.client.Favorite(ctx, raw.ID); err != nil {
				h.logger.WithError(err).WithField("post_id", raw.ID).Warn("Failed to favourite post")
				continue
			}
			liked++
			h.logger.WithField("post_id", raw.ID).Debug("Favourited post")

			if !h.pause(ctx, settings.LikeDelay) {
				return settings.CheckInterval
			}
		}
	}

	if failures == len(tags) {
		return h.fetchFailed(errors.New("every tag timeline failed"), "like timelines")
	}
	if liked > 0 {
		h.logger.WithField("liked", liked).Info("Auto-like cycle finished")
	}
	return settings.CheckInterval
}

func (h *AutoLiker) tags(ctx context.Context, settings config.LikeConfig) ([]string, error) {
	if len(settings.Tags) > 0 {
		tags := make([]string, 0, len(settings.Tags))
		for _, tag := range settings.Tags {
			if tag = strings.TrimPrefix(strings.TrimSpace(tag), "#"); tag != "" {
				tags = append(tags, tag)
			}
		}
		return tags, nil
	}

	trending, err := h.client.FetchTrendingTags(ctx, likeTrendingLimit)
	if errors.Is(err, platform.ErrUnsupported) {
		h.logger.Debug("No tags configured and trends unsupported, nothing to like")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tags := make([]string, 0, len(trending))
	for _, tag := range trending {
		tags = append(tags, tag.Name)
	}
	return tags, nil
}

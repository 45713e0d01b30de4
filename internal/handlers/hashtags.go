package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agent-sterling-go/internal/config"
	"github.com/agent-sterling-go/internal/models"
	"github.com/agent-sterling-go/internal/platform"
	"github.com/agent-sterling-go/internal/services/dedupe"
	"github.com/sirupsen/logrus"
)

const hashtagPrompt = `You follow the #%s hashtag on Mastodon and found this post:
%s

Write a short reply that adds something interesting to the conversation. Do not include any @mentions or hashtags.`

// HashtagWatcher replies to posts in the watched hashtag timelines
type HashtagWatcher struct {
	base

	mu       sync.RWMutex
	settings config.HashtagsConfig
}

// NewHashtagWatcher creates a hashtag watcher
func NewHashtagWatcher(deps Deps, settings config.HashtagsConfig) *HashtagWatcher {
	return &HashtagWatcher{
		base:     newBase("hashtags", deps),
		settings: settings,
	}
}

func (h *HashtagWatcher) Settings() config.HashtagsConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.settings
}

func (h *HashtagWatcher) UpdateSettings(settings config.HashtagsConfig) error {
	if err := config.ValidateHashtags(settings); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settings = settings
	return nil
}

// Run scans every watched tag once and returns the delay until the next run.
// MaxRepliesPerCycle of zero means no cap.
func (h *HashtagWatcher) Run(ctx context.Context) time.Duration {
	settings := h.Settings()
	if !settings.Enabled || len(settings.Tags) == 0 {
		return IdleDelay
	}

	replies := 0
	failures := 0
	for _, tag := range settings.Tags {
		if ctx.Err() != nil {
			break
		}
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")

		posts, err := h.client.FetchHashtagTimeline(ctx, tag, settings.Limit)
		if err != nil {
			h.logger.WithError(err).WithField("tag", tag).Warn("Failed to fetch hashtag timeline")
			failures++
			continue
		}

		for _, raw := range posts {
			if settings.MaxRepliesPerCycle > 0 && replies >= settings.MaxRepliesPerCycle {
				return settings.CheckInterval
			}
			if ctx.Err() != nil {
				break
			}
			replied, ok := h.handle(ctx, tag, raw, settings)
			if replied {
				replies++
				if !h.pause(ctx, settings.ReplyDelay) {
					return settings.CheckInterval
				}
			}
			if !ok {
				break
			}
		}
	}

	if failures == len(settings.Tags) {
		return h.fetchFailed(fmt.Errorf("all %d hashtag timelines failed", failures), "hashtag timelines")
	}
	return settings.CheckInterval
}

// handle replies to one post if it passes the filters. ok is false when the
// context ended.
func (h *HashtagWatcher) handle(ctx context.Context, tag string, raw models.RawPost, settings config.HashtagsConfig) (replied, ok bool) {
	if h.isOwn(raw) || h.seen(raw.ID, dedupe.Posts) {
		return false, true
	}
	h.stats.AddProcessed()

	post := platform.Format(raw)
	logger := h.logger.WithFields(logrus.Fields{
		"tag":     tag,
		"post_id": raw.ID,
		"author":  raw.AuthorHandle,
	})

	if containsAny(post.Content, settings.Blacklist) {
		logger.Debug("Post matches blacklist, skipping")
		h.dedupe.Mark(ctx, raw.ID, dedupe.Posts)
		return false, true
	}
	if len(settings.Keywords) > 0 && !containsAny(post.Content, settings.Keywords) {
		h.dedupe.Mark(ctx, raw.ID, dedupe.Posts)
		return false, true
	}
	if err := h.security.ValidateInput(post.Content); err != nil {
		h.dedupe.Mark(ctx, raw.ID, dedupe.Posts)
		return false, true
	}

	text := h.generator.Generate(ctx, fmt.Sprintf(hashtagPrompt, tag, post.Content), nil)
	if h.generator.IsFallback(text) {
		// A canned reply to a stranger adds nothing; try again next cycle.
		logger.Warn("Generation failed, not replying")
		return false, ctx.Err() == nil
	}
	if err := h.reply(ctx, raw, text, replyVisibility(raw.Visibility, h.visibility)); err != nil {
		logger.WithError(err).Warn("Failed to reply to hashtag post")
		return false, ctx.Err() == nil
	}
	h.dedupe.Mark(ctx, raw.ID, dedupe.Posts)
	logger.Info("Replied to hashtag post")
	return true, true
}

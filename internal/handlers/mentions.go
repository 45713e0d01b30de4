package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agent-sterling-go/internal/config"
	"github.com/agent-sterling-go/internal/platform"
	"github.com/agent-sterling-go/internal/services/dedupe"
	"github.com/sirupsen/logrus"
)

const mentionPrompt = `Someone mentioned you on Mastodon.

Their post:
%s

Write a short, friendly and witty reply that responds to what they said. Do not include any @mentions.`

// MentionHandler replies to posts that mention the bot
type MentionHandler struct {
	base

	mu       sync.RWMutex
	settings config.MentionsConfig
}

// NewMentionHandler creates a mention handler
func NewMentionHandler(deps Deps, settings config.MentionsConfig) *MentionHandler {
	return &MentionHandler{
		base:     newBase("mentions", deps),
		settings: settings,
	}
}

func (h *MentionHandler) Settings() config.MentionsConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.settings
}

func (h *MentionHandler) UpdateSettings(settings config.MentionsConfig) error {
	if err := config.ValidateMentions(settings); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settings = settings
	return nil
}

// Run handles one batch of mentions and returns the delay until the next run
func (h *MentionHandler) Run(ctx context.Context) time.Duration {
	settings := h.Settings()
	if !settings.Enabled {
		return IdleDelay
	}

	mentions, err := h.client.FetchMentions(ctx, settings.Limit)
	if err != nil {
		return h.fetchFailed(err, "mentions")
	}

	// Notifications arrive newest first; answer in the order they were written.
	for i := len(mentions) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			break
		}
		raw := mentions[i]
		if h.isOwn(raw) || h.seen(raw.ID, dedupe.Mentions) {
			continue
		}
		h.stats.AddProcessed()

		post := platform.Format(raw)
		logger := h.logger.WithFields(logrus.Fields{
			"post_id": raw.ID,
			"author":  raw.AuthorHandle,
		})
		if err := h.security.ValidateInput(post.Content); err != nil {
			logger.WithError(err).Debug("Ignoring mention")
			h.dedupe.Mark(ctx, raw.ID, dedupe.Mentions)
			continue
		}

		text := h.generator.Generate(ctx, fmt.Sprintf(mentionPrompt, post.Content), nil)
		if err := h.reply(ctx, raw, text, replyVisibility(raw.Visibility, h.visibility)); err != nil {
			logger.WithError(err).Warn("Failed to reply to mention")
			continue
		}
		h.dedupe.Mark(ctx, raw.ID, dedupe.Mentions)
		logger.Info("Replied to mention")

		if !h.pause(ctx, settings.ReplyDelay) {
			break
		}
	}
	return settings.CheckInterval
}

package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agent-sterling-go/internal/config"
	"github.com/agent-sterling-go/internal/i18n"
	"github.com/agent-sterling-go/internal/models"
	"github.com/agent-sterling-go/internal/platform"
	"github.com/agent-sterling-go/internal/services/dedupe"
	"github.com/sirupsen/logrus"
)

const (
	conversationsLimit = 20

	dmPrompt = `You received a direct message on Mastodon:
%s

Write a helpful, friendly and concise reply. Do not include any @mentions.`
)

// DMHandler answers direct messages, at most once per conversation per cooldown
type DMHandler struct {
	base

	mu        sync.RWMutex
	settings  config.DMConfig
	repliedAt map[string]time.Time
}

// NewDMHandler creates a direct message handler
func NewDMHandler(deps Deps, settings config.DMConfig) *DMHandler {
	return &DMHandler{
		base:      newBase("dm", deps),
		settings:  settings,
		repliedAt: make(map[string]time.Time),
	}
}

func (h *DMHandler) Settings() config.DMConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.settings
}

func (h *DMHandler) UpdateSettings(settings config.DMConfig) error {
	if err := config.ValidateDM(settings); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settings = settings
	return nil
}

// Run answers unanswered conversations and returns the delay until the next run
func (h *DMHandler) Run(ctx context.Context) time.Duration {
	settings := h.Settings()
	if !settings.Enabled {
		return IdleDelay
	}

	conversations, err := h.client.FetchConversations(ctx, conversationsLimit)
	if err != nil {
		return h.fetchFailed(err, "conversations")
	}
	h.forgetExpired(settings.Cooldown)

	for _, conversation := range conversations {
		if ctx.Err() != nil {
			break
		}
		last := conversation.LastStatus
		if last == nil || h.isOwn(*last) || h.seen(last.ID, dedupe.DMs) {
			continue
		}
		logger := h.logger.WithFields(logrus.Fields{
			"conversation_id": conversation.ID,
			"status_id":       last.ID,
			"author":          last.AuthorHandle,
		})
		if h.onCooldown(conversation.ID, settings.Cooldown) {
			logger.Debug("Conversation on cooldown, skipping")
			continue
		}
		h.stats.AddProcessed()

		if err := h.answer(ctx, *last); err != nil {
			logger.WithError(err).Warn("Failed to reply to direct message")
			continue
		}
		h.dedupe.Mark(ctx, last.ID, dedupe.DMs)
		h.markReplied(conversation.ID)
		logger.Info("Replied to direct message")

		if !h.pause(ctx, settings.ReplyDelay) {
			break
		}
	}
	return settings.CheckInterval
}

func (h *DMHandler) answer(ctx context.Context, last models.RawPost) error {
	post := platform.Format(last)
	var text string
	if err := h.security.ValidateInput(post.Content); err != nil {
		text = h.localizer.Default(i18n.MsgDMFallback)
	} else {
		text = h.generator.Generate(ctx, fmt.Sprintf(dmPrompt, post.Content), nil)
		if h.generator.IsFallback(text) {
			text = h.localizer.Default(i18n.MsgDMFallback)
		}
	}
	return h.reply(ctx, last, text, models.VisibilityDirect)
}

func (h *DMHandler) onCooldown(conversationID string, cooldown time.Duration) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	at, ok := h.repliedAt[conversationID]
	return ok && h.clock.Now().Sub(at) < cooldown
}

func (h *DMHandler) markReplied(conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.repliedAt[conversationID] = h.clock.Now()
}

func (h *DMHandler) forgetExpired(cooldown time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.clock.Now()
	for id, at := range h.repliedAt {
		if now.Sub(at) >= cooldown {
			delete(h.repliedAt, id)
		}
	}
}

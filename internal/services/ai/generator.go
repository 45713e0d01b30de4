package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/agent-sterling-go/internal/clock"
	"github.com/agent-sterling-go/internal/config"
	"github.com/agent-sterling-go/internal/i18n"
	"github.com/agent-sterling-go/internal/middleware"
	"github.com/agent-sterling-go/internal/models"
	"github.com/agent-sterling-go/pkg/textutil"
	"github.com/sirupsen/logrus"
)

var errEmptyResponse = errors.New("empty response after cleanup")

// ContentGenerator wraps a Provider with rate limiting, retries and a
// fallback text. Generate never returns an error to its caller.
type ContentGenerator struct {
	provider  Provider
	limiter   middleware.RateLimiter
	clock     clock.Clock
	localizer *i18n.Localizer
	security  *middleware.SecurityMiddleware
	metrics   *middleware.Metrics
	logger    *logrus.Logger
	cfg       config.GenerationConfig

	mu        sync.RWMutex
	postStyle config.PostStyleConfig
}

// GeneratorOptions carries the collaborators of a ContentGenerator
type GeneratorOptions struct {
	Provider  Provider
	Limiter   middleware.RateLimiter
	Clock     clock.Clock
	Localizer *i18n.Localizer
	Metrics   *middleware.Metrics
	Logger    *logrus.Logger
	Config    config.GenerationConfig
	PostStyle config.PostStyleConfig
}

// NewContentGenerator creates a content generator
func NewContentGenerator(opts GeneratorOptions) *ContentGenerator {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Localizer == nil {
		opts.Localizer = i18n.NewDefaultLocalizer()
	}
	if opts.Config.MaxAttempts < 1 {
		opts.Config.MaxAttempts = 1
	}

	return &ContentGenerator{
		provider:  opts.Provider,
		limiter:   opts.Limiter,
		clock:     opts.Clock,
		localizer: opts.Localizer,
		security:  middleware.NewSecurityMiddleware(opts.Logger),
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		cfg:       opts.Config,
		postStyle: opts.PostStyle,
	}
}

// SetPostStyle replaces the post style settings used by GenerateStyled
func (g *ContentGenerator) SetPostStyle(style config.PostStyleConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.postStyle = style
}

// PostStyle returns the current post style settings
func (g *ContentGenerator) PostStyle() config.PostStyleConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.postStyle
}

// Fallback returns the text used when generation fails
func (g *ContentGenerator) Fallback() string {
	return g.localizer.Default(i18n.MsgFallbackReply)
}

// IsFallback reports whether text is the fallback text
func (g *ContentGenerator) IsFallback(text string) bool {
	return text == textutil.TruncateAtWord(g.Fallback(), g.cfg.MaxLength)
}

// Generate returns generated text truncated to the maximum post length, or
// the fallback text once every attempt has failed.
func (g *ContentGenerator) Generate(ctx context.Context, prompt string, images []models.Image) string {
	return g.generate(ctx, prompt, images, g.cfg.MaxLength)
}

// GenerateStyled generates a post about content in the given style. An empty
// or "auto" style is inferred from content.
func (g *ContentGenerator) GenerateStyled(ctx context.Context, content, style string) string {
	postStyle := g.PostStyle()
	if style == "" {
		style = postStyle.Style
	}
	style = ResolveStyle(style, content)

	maxLength := g.cfg.MaxLength
	if postStyle.MaxLength > 0 && postStyle.MaxLength < maxLength {
		maxLength = postStyle.MaxLength
	}

	text := g.generate(ctx, buildStyledPrompt(content, style, postStyle.UseEmojis, maxLength), nil, maxLength)
	if g.IsFallback(text) || !g.cfg.AppendHashtags {
		return text
	}
	return appendHashtags(text, textutil.Keywords(content, g.cfg.MaxHashtags), maxLength)
}

func (g *ContentGenerator) generate(ctx context.Context, prompt string, images []models.Image, maxLength int) string {
	logger := g.logger.WithField("provider", g.provider.Name())

	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Acquire(ctx); err != nil {
				logger.WithError(err).Debug("Generation cancelled while waiting for quota")
				break
			}
		}

		start := g.clock.Now()
		text, err := g.provider.Generate(ctx, prompt, images)
		if err == nil {
			text = g.clean(text)
			if text == "" {
				err = errEmptyResponse
			}
		}
		g.recordAttempt(err, g.clock.Now().Sub(start))

		if err == nil {
			return textutil.TruncateAtWord(text, maxLength)
		}

		logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err.Error(),
		}).Warn("AI request failed, retrying...")

		if attempt < g.cfg.MaxAttempts {
			// Exponential backoff: base, 2*base, 4*base
			wait := g.cfg.BackoffBase << uint(attempt-1)
			if err := g.clock.Sleep(ctx, wait); err != nil {
				break
			}
		}
	}

	logger.Error("All generation attempts failed, using fallback")
	if g.metrics != nil {
		g.metrics.RecordFallback()
	}
	return textutil.TruncateAtWord(g.Fallback(), g.cfg.MaxLength)
}

func (g *ContentGenerator) clean(text string) string {
	text = g.security.SanitizeOutput(text)
	if looksLikeMarkdown(text) {
		text = textutil.MarkdownToPlain(text)
	}
	return strings.TrimSpace(text)
}

func (g *ContentGenerator) recordAttempt(err error, duration time.Duration) {
	if g.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	g.metrics.RecordGeneration(g.provider.Name(), status, duration)
}

func looksLikeMarkdown(text string) bool {
	for _, marker := range []string{"**", "__", "```", "\n- ", "\n* ", "](http"} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return strings.HasPrefix(text, "- ") || strings.HasPrefix(text, "* ")
}

// appendHashtags adds #keyword tags while they fit in maxLength
func appendHashtags(text string, keywords []string, maxLength int) string {
	lower := strings.ToLower(text)
	for _, keyword := range keywords {
		tag := "#" + keyword
		if strings.Contains(lower, strings.ToLower(tag)) {
			continue
		}
		if len([]rune(text))+1+len([]rune(tag)) > maxLength {
			continue
		}
		text += " " + tag
	}
	return text
}

package handlers

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/agent-sterling-go/internal/clock"
	"github.com/agent-sterling-go/internal/i18n"
	"github.com/agent-sterling-go/internal/middleware"
	"github.com/agent-sterling-go/internal/models"
	"github.com/agent-sterling-go/internal/platform"
	"github.com/agent-sterling-go/internal/services/dedupe"
	"github.com/sirupsen/logrus"
)

const (
	// IdleDelay is how long a disabled handler waits before checking again
	IdleDelay = 60 * time.Second
	// ErrorBackoff is how long a handler waits after a failed fetch
	ErrorBackoff = 5 * time.Minute
)

// Generator produces reply text. It never fails; IsFallback recognizes the
// canned text returned when generation did.
type Generator interface {
	Generate(ctx context.Context, prompt string, images []models.Image) string
	IsFallback(text string) bool
}

// Stats counts items examined and responses sent across all handlers
type Stats struct {
	processed atomic.Int64
	responses atomic.Int64
}

func (s *Stats) AddProcessed() {
	s.processed.Add(1)
}

func (s *Stats) AddResponse() {
	s.responses.Add(1)
}

func (s *Stats) Processed() int64 {
	return s.processed.Load()
}

func (s *Stats) Responses() int64 {
	return s.responses.Load()
}

// Deps carries the collaborators shared by every handler
type Deps struct {
	Client     platform.Client
	Generator  Generator
	Dedupe     *dedupe.Store
	Clock      clock.Clock
	Logger     *logrus.Logger
	Metrics    *middleware.Metrics
	Localizer  *i18n.Localizer
	Stats      *Stats
	Self       models.Account
	Visibility models.Visibility
}

type base struct {
	name       string
	client     platform.Client
	generator  Generator
	dedupe     *dedupe.Store
	clock      clock.Clock
	logger     *logrus.Entry
	metrics    *middleware.Metrics
	localizer  *i18n.Localizer
	security   *middleware.SecurityMiddleware
	stats      *Stats
	self       models.Account
	visibility models.Visibility
}

func newBase(name string, deps Deps) base {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Stats == nil {
		deps.Stats = &Stats{}
	}
	if deps.Localizer == nil {
		deps.Localizer = i18n.NewDefaultLocalizer()
	}
	if deps.Visibility == "" {
		deps.Visibility = models.VisibilityPublic
	}
	return base{
		name:       name,
		client:     deps.Client,
		generator:  deps.Generator,
		dedupe:     deps.Dedupe,
		clock:      deps.Clock,
		logger:     deps.Logger.WithField("service", name),
		metrics:    deps.Metrics,
		localizer:  deps.Localizer,
		security:   middleware.NewSecurityMiddleware(deps.Logger),
		stats:      deps.Stats,
		self:       deps.Self,
		visibility: deps.Visibility,
	}
}

// Name identifies the handler in logs, metrics and status
func (b *base) Name() string {
	return b.name
}

func (b *base) isOwn(post models.RawPost) bool {
	if b.self.ID != "" && post.AuthorID == b.self.ID {
		return true
	}
	return b.self.Handle != "" && strings.EqualFold(post.AuthorHandle, b.self.Handle)
}

// seen reports whether id was handled before. The store counts the skip.
func (b *base) seen(id string, category dedupe.Category) bool {
	return b.dedupe.Seen(id, category)
}

func (b *base) fetchFailed(err error, what string) time.Duration {
	b.logger.WithError(err).Warnf("Failed to fetch %s", what)
	if b.metrics != nil {
		b.metrics.RecordLoopError(b.name)
	}
	return ErrorBackoff
}

// reply generates and sends a reply addressed to post's author
func (b *base) reply(ctx context.Context, post models.RawPost, text string, visibility models.Visibility) error {
	_, err := b.client.Reply(ctx, post.ID, mention(post.AuthorHandle, text), visibility)
	if err != nil {
		return err
	}
	b.stats.AddResponse()
	return nil
}

// pause waits d between actions. It reports false once ctx is done.
func (b *base) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	return b.clock.Sleep(ctx, d) == nil
}

func mention(handle, text string) string {
	if handle == "" {
		return text
	}
	prefix := "@" + strings.TrimPrefix(handle, "@") + " "
	if strings.HasPrefix(text, prefix) {
		return text
	}
	return prefix + text
}

// replyVisibility keeps private conversations private
func replyVisibility(incoming, fallback models.Visibility) models.Visibility {
	switch incoming {
	case models.VisibilityDirect, models.VisibilityPrivate:
		return incoming
	}
	return fallback
}

func containsAny(text string, words []string) bool {
	lower := strings.ToLower(text)
	for _, word := range words {
		word = strings.ToLower(strings.TrimSpace(word))
		if word != "" && strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

package middleware

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/agent-sterling-go/internal/clock"
	"github.com/agent-sterling-go/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const quotaWindow = time.Minute

// RateLimiter interface for outbound call throttling
type RateLimiter interface {
	Acquire(ctx context.Context) error
}

// QuotaLimiter enforces a per-minute request budget plus a minimum spacing
// between consecutive requests. It keeps the timestamps of the last N
// requests, so no rolling 60 second window ever holds more than N of them.
type QuotaLimiter struct {
	name    string
	rpm     int
	spacing *rate.Limiter
	clock   clock.Clock
	logger  *logrus.Logger
	metrics *Metrics

	// sem serializes callers; a waiting caller holds it so later callers queue behind.
	sem     chan struct{}
	history []time.Time
	next    int
	count   int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(name string, cfg config.LimitConfig, clk clock.Clock, logger *logrus.Logger, metrics *Metrics) *QuotaLimiter {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 1
	}

	var spacing *rate.Limiter
	if cfg.MinInterval > 0 {
		spacing = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}

	return &QuotaLimiter{
		name:    name,
		rpm:     rpm,
		spacing: spacing,
		clock:   clk,
		logger:  logger,
		metrics: metrics,
		sem:     make(chan struct{}, 1),
		history: make([]time.Time, rpm),
	}
}

// Acquire suspends the caller until one more request may be issued
func (r *QuotaLimiter) Acquire(ctx context.Context) error {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-r.sem }()

	now := r.clock.Now()

	if r.count == r.rpm {
		oldest := r.history[r.next]
		if elapsed := now.Sub(oldest); elapsed < quotaWindow {
			wait := quotaWindow - elapsed
			r.logger.WithFields(logrus.Fields{
				"limiter": r.name,
				"wait":    wait.String(),
			}).Info("Rate limit reached, waiting")
			if r.metrics != nil {
				r.metrics.RecordRateLimitWait(r.name, wait)
			}
			if err := r.clock.Sleep(ctx, wait); err != nil {
				return err
			}
			now = r.clock.Now()
		}
	}

	if r.spacing != nil {
		reservation := r.spacing.ReserveN(now, 1)
		if delay := reservation.DelayFrom(now); delay > 0 {
			if err := r.clock.Sleep(ctx, delay); err != nil {
				reservation.CancelAt(now)
				return err
			}
			now = r.clock.Now()
		}
	}

	r.history[r.next] = now
	r.next = (r.next + 1) % r.rpm
	if r.count < r.rpm {
		r.count++
	}
	return nil
}

// SecurityMiddleware provides input and output checks around generation
type SecurityMiddleware struct {
	maxInput int
	logger   *logrus.Logger
}

// NewSecurityMiddleware creates security middleware
func NewSecurityMiddleware(logger *logrus.Logger) *SecurityMiddleware {
	return &SecurityMiddleware{
		maxInput: 5000,
		logger:   logger,
	}
}

// ValidateInput performs input validation
func (s *SecurityMiddleware) ValidateInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("empty message")
	}
	if len(text) > s.maxInput {
		return fmt.Errorf("message too long: %d bytes", len(text))
	}
	return nil
}

var leadingMentions = regexp.MustCompile(`^(\s*@[\w.\-]+(@[\w.\-]+)?)+\s*`)

// SanitizeOutput removes model reasoning blocks and leading @mentions the
// model sometimes echoes back; the platform adds the reply mention itself.
func (s *SecurityMiddleware) SanitizeOutput(text string) string {
	const thinkEndTag = "</think>"
	if idx := strings.LastIndex(text, thinkEndTag); idx != -1 {
		text = text[idx+len(thinkEndTag):]
	}
	text = leadingMentions.ReplaceAllString(text, "")
	text = strings.Trim(strings.TrimSpace(text), `"`)
	return strings.TrimSpace(text)
}

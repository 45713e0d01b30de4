package platform

import (
	"context"

	"github.com/agent-sterling-go/internal/middleware"
	"github.com/agent-sterling-go/internal/models"
)

// RateLimited acquires from a shared limiter before every call to the
// wrapped client and records write actions in metrics
type RateLimited struct {
	client  Client
	limiter middleware.RateLimiter
	metrics *middleware.Metrics
}

// WithRateLimit wraps client so that every call passes through limiter
func WithRateLimit(client Client, limiter middleware.RateLimiter, metrics *middleware.Metrics) *RateLimited {
	return &RateLimited{client: client, limiter: limiter, metrics: metrics}
}

func (r *RateLimited) record(action string, err error) {
	if r.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	r.metrics.RecordPlatformAction(action, status)
}

func (r *RateLimited) Name() string {
	return r.client.Name()
}

func (r *RateLimited) Post(ctx context.Context, text string, visibility models.Visibility) (*models.PostRecord, error) {
	if err := r.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	record, err := r.client.Post(ctx, text, visibility)
	r.record("post", err)
	return record, err
}

func (r *RateLimited) Reply(ctx context.Context, postID, text string, visibility models.Visibility) (*models.PostRecord, error) {
	if err := r.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	record, err := r.client.Reply(ctx, postID, text, visibility)
	r.record("reply", err)
	return record, err
}

func (r *RateLimited) FetchMentions(ctx context.Context, limit int) ([]models.RawPost, error) {
	if err := r.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	return r.client.FetchMentions(ctx, limit)
}

func (r *RateLimited) FetchHashtagTimeline(ctx context.Context, tag string, limit int) ([]models.RawPost, error) {
	if err := r.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	return r.client.FetchHashtagTimeline(ctx, tag, limit)
}

func (r *RateLimited) FetchTrendingTags(ctx context.Context, limit int) ([]models.TrendingTag, error) {
	if err := r.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	return r.client.FetchTrendingTags(ctx, limit)
}

func (r *RateLimited) Favorite(ctx context.Context, postID string) error {
	if err := r.limiter.Acquire(ctx); err != nil {
		return err
	}
	err := r.client.Favorite(ctx, postID)
	r.record("favourite", err)
	return err
}

func (r *RateLimited) FetchConversations(ctx context.Context, limit int) ([]models.RawConversation, error) {
	if err := r.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	return r.client.FetchConversations(ctx, limit)
}

func (r *RateLimited) FetchOwnPosts(ctx context.Context, limit int) ([]models.RawPost, error) {
	if err := r.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	return r.client.FetchOwnPosts(ctx, limit)
}

func (r *RateLimited) VerifyCredentials(ctx context.Context) (*models.Account, error) {
	if err := r.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	return r.client.VerifyCredentials(ctx)
}

// Package platform defines the social platform capabilities the bot needs
// and implements them for Mastodon-compatible servers.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agent-sterling-go/internal/config"
	"github.com/agent-sterling-go/internal/models"
	"github.com/agent-sterling-go/pkg/textutil"
	"github.com/sirupsen/logrus"
)

// ErrUnsupported is returned by variants that lack a capability
var ErrUnsupported = errors.New("operation not supported by platform")

// APIError is a non-2xx response from the platform
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform request failed with status %d: %s", e.StatusCode, e.Body)
}

// Client is the capability set every platform variant implements
type Client interface {
	Name() string
	Post(ctx context.Context, text string, visibility models.Visibility) (*models.PostRecord, error)
	Reply(ctx context.Context, postID, text string, visibility models.Visibility) (*models.PostRecord, error)
	FetchMentions(ctx context.Context, limit int) ([]models.RawPost, error)
	FetchHashtagTimeline(ctx context.Context, tag string, limit int) ([]models.RawPost, error)
	FetchTrendingTags(ctx context.Context, limit int) ([]models.TrendingTag, error)
	Favorite(ctx context.Context, postID string) error
	FetchConversations(ctx context.Context, limit int) ([]models.RawConversation, error)
	FetchOwnPosts(ctx context.Context, limit int) ([]models.RawPost, error)
	VerifyCredentials(ctx context.Context) (*models.Account, error)
}

// New creates the platform variant selected by cfg.Type
func New(cfg config.PlatformConfig, logger *logrus.Logger) (Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	switch cfg.Type {
	case "mastodon":
		return NewMastodon(cfg.InstanceURL, cfg.AccessToken, timeout, logger), nil
	case "pleroma":
		return NewPleroma(cfg.InstanceURL, cfg.AccessToken, timeout, logger), nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", cfg.Type)
	}
}

// Format normalizes a raw post: HTML and URLs stripped, first five keywords
func Format(raw models.RawPost) models.PostRecord {
	content := textutil.CleanHTML(raw.Content)
	return models.PostRecord{
		ID:           raw.ID,
		Content:      content,
		AuthorHandle: raw.AuthorHandle,
		CreatedAt:    raw.CreatedAt,
		Keywords:     textutil.Keywords(content, 5),
		Raw:          &raw,
	}
}

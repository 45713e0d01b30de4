package platform

import (
	"context"
	"time"

	"github.com/agent-sterling-go/internal/models"
	"github.com/sirupsen/logrus"
)

// Pleroma speaks the Mastodon-compatible API of Pleroma and Akkoma servers.
// Those servers expose no trending tags endpoint.
type Pleroma struct {
	*Mastodon
}

// NewPleroma creates a Pleroma client for instanceURL
func NewPleroma(instanceURL, token string, timeout time.Duration, logger *logrus.Logger) *Pleroma {
	m := NewMastodon(instanceURL, token, timeout, logger)
	m.name = "pleroma"
	m.mentionFilter = "include_types[]"
	return &Pleroma{Mastodon: m}
}

func (p *Pleroma) FetchTrendingTags(ctx context.Context, limit int) ([]models.TrendingTag, error) {
	return nil, ErrUnsupported
}

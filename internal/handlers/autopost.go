package handlers

import (
	"context"
	"time"

	"github.com/agent-sterling-go/internal/services/posting"
	"github.com/agent-sterling-go/internal/services/trends"
)

// AutoPostTick is how often the auto-poster checks whether a post is due
const AutoPostTick = time.Minute

// AutoPoster drives the posting engine from the scheduler
type AutoPoster struct {
	base
	engine  *posting.Engine
	tracker *trends.Tracker
}

// NewAutoPoster creates the auto-post task
func NewAutoPoster(deps Deps, engine *posting.Engine, tracker *trends.Tracker) *AutoPoster {
	return &AutoPoster{
		base:    newBase("auto_post", deps),
		engine:  engine,
		tracker: tracker,
	}
}

// Run publishes a post if one is due and returns the delay until the next check
func (h *AutoPoster) Run(ctx context.Context) time.Duration {
	if !h.engine.Settings().Enabled {
		return IdleDelay
	}
	if h.tracker != nil {
		h.tracker.Purge()
	}

	posted, err := h.engine.RunCycle(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return AutoPostTick
		}
		h.logger.WithError(err).Error("Auto-post cycle failed")
		if h.metrics != nil {
			h.metrics.RecordLoopError(h.name)
		}
		return ErrorBackoff
	}
	if posted {
		h.stats.AddResponse()
	}
	return AutoPostTick
}

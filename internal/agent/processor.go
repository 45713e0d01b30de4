// Package agent owns the bot's lifecycle: it builds the platform client and
// every service from configuration, runs them on a scheduler and reports
// their status.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/agent-sterling-go/internal/clock"
	"github.com/agent-sterling-go/internal/config"
	"github.com/agent-sterling-go/internal/handlers"
	"github.com/agent-sterling-go/internal/i18n"
	"github.com/agent-sterling-go/internal/middleware"
	"github.com/agent-sterling-go/internal/models"
	"github.com/agent-sterling-go/internal/platform"
	"github.com/agent-sterling-go/internal/scheduler"
	"github.com/agent-sterling-go/internal/services/ai"
	"github.com/agent-sterling-go/internal/services/dedupe"
	"github.com/agent-sterling-go/internal/services/posting"
	"github.com/agent-sterling-go/internal/services/storage"
	"github.com/agent-sterling-go/internal/services/trends"
	"github.com/agent-sterling-go/pkg/logger"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNotRunning is returned by Stop when nothing is running
var ErrNotRunning = errors.New("processor not running")

// ClientFactory builds the platform client for a start request
type ClientFactory func(cfg config.PlatformConfig) (platform.Client, error)

// ProviderFactory builds the generation provider for a start request
type ProviderFactory func(ctx context.Context, cfg config.LLMConfig) (ai.Provider, error)

// StartRequest optionally overrides the configured credentials
type StartRequest struct {
	Platform *PlatformOverride `json:"platform,omitempty"`
	LLM      *LLMOverride      `json:"llm,omitempty"`
}

type PlatformOverride struct {
	Type        string `json:"type,omitempty"`
	InstanceURL string `json:"instance_url,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	Visibility  string `json:"visibility,omitempty"`
}

type LLMOverride struct {
	Provider string `json:"provider,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	Model    string `json:"model,omitempty"`
}

// ServiceStatus reports one service
type ServiceStatus struct {
	Enabled bool      `json:"enabled"`
	Running bool      `json:"running"`
	Runs    int       `json:"runs"`
	LastRun time.Time `json:"last_run,omitempty"`
	NextRun time.Time `json:"next_run,omitempty"`
}

// Status is the aggregated view polled by operators
type Status struct {
	Running        bool                     `json:"running"`
	RunID          string                   `json:"run_id,omitempty"`
	StartedAt      *time.Time               `json:"started_at,omitempty"`
	Account        string                   `json:"account,omitempty"`
	Platform       string                   `json:"platform,omitempty"`
	PostsProcessed int64                    `json:"posts_processed"`
	ResponsesSent  int64                    `json:"responses_sent"`
	Posting        *posting.Stats           `json:"posting,omitempty"`
	Services       map[string]ServiceStatus `json:"services"`
	RecentLogs     []models.LogEntry        `json:"recent_logs"`
}

// Options carries the collaborators of a Processor
type Options struct {
	Config      *config.Config
	Logger      *logrus.Logger
	Metrics     *middleware.Metrics
	Clock       clock.Clock
	Ledger      storage.Ledger
	Feed        *LogFeed
	Localizer   *i18n.Localizer
	NewClient   ClientFactory
	NewProvider ProviderFactory
	Rand        *rand.Rand
}

type run struct {
	id        string
	startedAt time.Time
	account   models.Account
	platform  string
	cancel    context.CancelFunc
	scheduler *scheduler.Scheduler
	generator *ai.ContentGenerator
	engine    *posting.Engine
	mentions  *handlers.MentionHandler
	hashtags  *handlers.HashtagWatcher
	dm        *handlers.DMHandler
	like      *handlers.AutoLiker

	generationMax int
}

// Processor starts, stops and reconfigures the bot's services. One
// processor drives at most one set of services at a time.
type Processor struct {
	cfg         *config.Config
	logger      *logrus.Logger
	metrics     *middleware.Metrics
	clock       clock.Clock
	ledger      storage.Ledger
	feed        *LogFeed
	localizer   *i18n.Localizer
	newClient   ClientFactory
	newProvider ProviderFactory
	rng         *rand.Rand
	dedupe      *dedupe.Store
	stats       *handlers.Stats

	// lifecycle serializes Start and Stop
	lifecycle sync.Mutex
	mu        sync.RWMutex
	settings  config.ServicesConfig
	current   *run
}

// NewProcessor creates an idle processor. The feed, if any, should already
// be attached to the logger.
func NewProcessor(opts Options) *Processor {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Feed == nil {
		opts.Feed = NewLogFeed()
	}
	if opts.Localizer == nil {
		opts.Localizer = i18n.NewDefaultLocalizer()
	}
	if opts.Ledger == nil {
		opts.Ledger = storage.NewMemoryLedger()
	}
	if opts.NewClient == nil {
		log := opts.Logger
		opts.NewClient = func(cfg config.PlatformConfig) (platform.Client, error) {
			return platform.New(cfg, log)
		}
	}
	if opts.NewProvider == nil {
		log := opts.Logger
		opts.NewProvider = func(ctx context.Context, cfg config.LLMConfig) (ai.Provider, error) {
			return ai.NewProvider(ctx, cfg, log)
		}
	}

	return &Processor{
		cfg:         opts.Config,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		clock:       opts.Clock,
		ledger:      opts.Ledger,
		feed:        opts.Feed,
		localizer:   opts.Localizer,
		newClient:   opts.NewClient,
		newProvider: opts.NewProvider,
		rng:         opts.Rand,
		dedupe:      dedupe.New(opts.Ledger, opts.Logger, opts.Metrics),
		stats:       &handlers.Stats{},
		settings:    opts.Config.Services,
	}
}

// Start builds every service from configuration and runs them. A running set
// of services is stopped first. Configuration errors reject the request and
// leave the processor stopped.
func (p *Processor) Start(ctx context.Context, req StartRequest) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.running() {
		p.logger.Info("Processor already running, restarting")
		p.stop()
	}

	platformCfg, llmCfg := p.resolve(req)
	if err := config.ValidatePlatform(platformCfg); err != nil {
		return invalid(err)
	}
	settings := p.Settings()
	if err := config.ValidatePostStyle(settings.PostStyle); err != nil {
		return invalid(err)
	}

	r, err := p.build(ctx, platformCfg, llmCfg, settings)
	if err != nil {
		return err
	}

	// Services outlive the request that started them.
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	if err := r.scheduler.Start(runCtx); err != nil {
		cancel()
		return err
	}

	p.mu.Lock()
	p.current = r
	p.mu.Unlock()

	logger.WithService(p.logger, "processor", r.id).WithFields(logrus.Fields{
		"platform": r.platform,
		"account":  r.account.Handle,
		"services": r.scheduler.Running(),
	}).Info("Processor started")
	return nil
}

func (p *Processor) resolve(req StartRequest) (config.PlatformConfig, config.LLMConfig) {
	platformCfg := p.cfg.Platform
	if o := req.Platform; o != nil {
		if o.Type != "" {
			platformCfg.Type = o.Type
		}
		if o.InstanceURL != "" {
			platformCfg.InstanceURL = o.InstanceURL
		}
		if o.AccessToken != "" {
			platformCfg.AccessToken = o.AccessToken
		}
		if o.Visibility != "" {
			platformCfg.Visibility = o.Visibility
		}
	}
	llmCfg := p.cfg.LLM
	if o := req.LLM; o != nil {
		if o.Provider != "" {
			llmCfg.Provider = o.Provider
		}
		if o.APIKey != "" {
			llmCfg.APIKey = o.APIKey
		}
		if o.Model != "" {
			llmCfg.Model = o.Model
		}
	}
	return platformCfg, llmCfg
}

func (p *Processor) build(ctx context.Context, platformCfg config.PlatformConfig, llmCfg config.LLMConfig, settings config.ServicesConfig) (*run, error) {
	client, err := p.newClient(platformCfg)
	if err != nil {
		return nil, invalid(err)
	}
	limiter := middleware.NewRateLimiter("platform", p.cfg.RateLimit.Platform, p.clock, p.logger, p.metrics)
	limited := platform.WithRateLimit(client, limiter, p.metrics)

	r := &run{
		id:        uuid.New().String(),
		startedAt: p.clock.Now(),
		platform:  client.Name(),
	}
	if platformCfg.VerifyOnStart {
		account, err := limited.VerifyCredentials(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to verify platform credentials: %w", err)
		}
		r.account = *account
	}

	provider, err := p.newProvider(ctx, llmCfg)
	if err != nil {
		return nil, invalid(err)
	}
	r.generator = ai.NewContentGenerator(ai.GeneratorOptions{
		Provider:  provider,
		Limiter:   middleware.NewRateLimiter("generation", p.cfg.RateLimit.Generation, p.clock, p.logger, p.metrics),
		Clock:     p.clock,
		Localizer: p.localizer,
		Metrics:   p.metrics,
		Logger:    p.logger,
		Config:    p.cfg.Generation,
		PostStyle: settings.PostStyle,
	})

	p.dedupe.Load(ctx)
	tracker := trends.NewTracker(
		limited,
		trends.NewTopicHistory(p.clock, p.cfg.Trends.HistorySize, p.cfg.Trends.PurgeAfter),
		p.cfg.Trends,
		p.clock,
		p.logger,
	)

	visibility := models.Visibility(platformCfg.Visibility)
	r.generationMax = p.cfg.Generation.MaxLength
	r.engine, err = posting.NewEngine(posting.Options{
		Client:     limited,
		Generator:  r.generator,
		Tracker:    tracker,
		Dedupe:     p.dedupe,
		Ledger:     p.ledger,
		Clock:      p.clock,
		Logger:     p.logger,
		Metrics:    p.metrics,
		Settings:   settings.AutoPost,
		Visibility: visibility,
		TrendLimit: p.cfg.Trends.Limit,
		MaxLength:  postLimit(r.generationMax, settings.PostStyle),
		Rand:       p.rng,
	})
	if err != nil {
		return nil, invalid(err)
	}
	r.engine.Load(ctx)

	deps := handlers.Deps{
		Client:     limited,
		Generator:  r.generator,
		Dedupe:     p.dedupe,
		Clock:      p.clock,
		Logger:     p.logger,
		Metrics:    p.metrics,
		Localizer:  p.localizer,
		Stats:      p.stats,
		Self:       r.account,
		Visibility: visibility,
	}
	r.mentions = handlers.NewMentionHandler(deps, settings.Mentions)
	r.hashtags = handlers.NewHashtagWatcher(deps, settings.Hashtags)
	r.dm = handlers.NewDMHandler(deps, settings.DM)
	// The engine and the liker draw from separate sources.
	var likeRand *rand.Rand
	if p.rng != nil {
		likeRand = rand.New(rand.NewSource(p.rng.Int63()))
	}
	r.like = handlers.NewAutoLiker(deps, settings.Like, likeRand)

	r.scheduler = scheduler.New(p.clock, p.logger, p.metrics)
	tasks := []scheduler.Task{
		handlers.NewAutoPoster(deps, r.engine, tracker),
		r.mentions,
		r.hashtags,
		r.dm,
		r.like,
	}
	for _, task := range tasks {
		if err := r.scheduler.Add(task); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Stop cancels every service, waits for them to exit and clears the
// in-memory dedupe sets. Persisted state is kept.
func (p *Processor) Stop(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if !p.running() {
		return ErrNotRunning
	}

	p.stop()
	return nil
}

// stop tears down the current run. Caller holds p.lifecycle.
func (p *Processor) stop() {
	p.mu.Lock()
	r := p.current
	p.mu.Unlock()
	if r == nil {
		return
	}

	r.scheduler.Stop()
	r.cancel()
	p.dedupe.Reset()

	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
	logger.WithService(p.logger, "processor", r.id).Info("Processor stopped")
}

func (p *Processor) running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current != nil
}

// Running reports whether services are running
func (p *Processor) Running() bool {
	return p.running()
}

// Status aggregates counters, per-service state and the latest log lines
func (p *Processor) Status() Status {
	p.mu.RLock()
	r := p.current
	settings := p.settings
	p.mu.RUnlock()

	status := Status{
		Running:        r != nil,
		PostsProcessed: p.stats.Processed(),
		ResponsesSent:  p.stats.Responses(),
		Services: map[string]ServiceStatus{
			"auto_post": {Enabled: settings.AutoPost.Enabled},
			"mentions":  {Enabled: settings.Mentions.Enabled},
			"hashtags":  {Enabled: settings.Hashtags.Enabled},
			"dm":        {Enabled: settings.DM.Enabled},
			"like":      {Enabled: settings.Like.Enabled},
		},
		RecentLogs: p.feed.Recent(statusLogs),
	}
	if r == nil {
		return status
	}

	startedAt := r.startedAt
	status.RunID = r.id
	status.StartedAt = &startedAt
	status.Account = r.account.Handle
	status.Platform = r.platform
	stats := r.engine.Stats()
	status.Posting = &stats
	for _, task := range r.scheduler.Status() {
		service := status.Services[task.Name]
		service.Running = task.Running
		service.Runs = task.Runs
		service.LastRun = task.LastRun
		service.NextRun = task.NextRun
		status.Services[task.Name] = service
	}
	return status
}

// Settings returns the current runtime settings
func (p *Processor) Settings() config.ServicesConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

// UpdateSettings merges raw JSON onto the settings of kind. Valid settings
// take effect immediately on running services and are kept for the next
// start; invalid ones are rejected with ErrInvalidSettings.
func (p *Processor) UpdateSettings(kind string, raw json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	updated, err := mergeSettings(p.settings, kind, raw)
	if err != nil {
		return err
	}

	if r := p.current; r != nil {
		if err := r.apply(kind, updated); err != nil {
			return invalid(err)
		}
	}
	p.settings = updated
	p.logger.WithField("kind", kind).Info("Settings updated")
	return nil
}

func (r *run) apply(kind string, settings config.ServicesConfig) error {
	switch kind {
	case KindAutoPost:
		return r.engine.UpdateSettings(settings.AutoPost)
	case KindMentions:
		return r.mentions.UpdateSettings(settings.Mentions)
	case KindHashtags:
		return r.hashtags.UpdateSettings(settings.Hashtags)
	case KindDM:
		return r.dm.UpdateSettings(settings.DM)
	case KindLike:
		return r.like.UpdateSettings(settings.Like)
	case KindPostStyle:
		r.generator.SetPostStyle(settings.PostStyle)
		r.engine.SetMaxLength(postLimit(r.generationMax, settings.PostStyle))
	}
	return nil
}

// postLimit is the tighter of the generation and post style length limits
func postLimit(generationMax int, style config.PostStyleConfig) int {
	if style.MaxLength > 0 && (generationMax <= 0 || style.MaxLength < generationMax) {
		return style.MaxLength
	}
	return generationMax
}

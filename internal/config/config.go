package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Platform   PlatformConfig   `mapstructure:"platform"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Generation GenerationConfig `mapstructure:"generation"`
	Storage    StorageConfig    `mapstructure:"storage"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Services   ServicesConfig   `mapstructure:"services"`
	Trends     TrendsConfig     `mapstructure:"trends"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
	Notify     NotifyConfig     `mapstructure:"notify"`
}

type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	StaticDir string `mapstructure:"static_dir"`
}

// PlatformConfig holds the social platform credentials. They are handed to
// the platform client at start and never mutated afterwards.
type PlatformConfig struct {
	Type          string        `mapstructure:"type"`
	InstanceURL   string        `mapstructure:"instance_url"`
	ClientID      string        `mapstructure:"client_id"`
	ClientSecret  string        `mapstructure:"client_secret"`
	AccessToken   string        `mapstructure:"access_token"`
	Visibility    string        `mapstructure:"visibility"`
	Timeout       time.Duration `mapstructure:"timeout"`
	VerifyOnStart bool          `mapstructure:"verify_on_start"`
}

type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type GenerationConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	MaxLength      int           `mapstructure:"max_length"`
	AppendHashtags bool          `mapstructure:"append_hashtags"`
	MaxHashtags    int           `mapstructure:"max_hashtags"`
}

type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Dir   string      `mapstructure:"dir"`
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type RateLimitConfig struct {
	Platform   LimitConfig `mapstructure:"platform"`
	Generation LimitConfig `mapstructure:"generation"`
}

type LimitConfig struct {
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	MinInterval       time.Duration `mapstructure:"min_interval"`
}

type ServicesConfig struct {
	AutoPost  AutoPostConfig  `mapstructure:"auto_post" json:"auto_post"`
	Mentions  MentionsConfig  `mapstructure:"mentions" json:"mentions"`
	Hashtags  HashtagsConfig  `mapstructure:"hashtags" json:"hashtags"`
	DM        DMConfig        `mapstructure:"dm" json:"dm"`
	Like      LikeConfig      `mapstructure:"like" json:"like"`
	PostStyle PostStyleConfig `mapstructure:"post_style" json:"post_style"`
}

type AutoPostConfig struct {
	Enabled         bool            `mapstructure:"enabled" json:"enabled"`
	Interval        time.Duration   `mapstructure:"interval" json:"interval"`
	MaxDailyPosts   int             `mapstructure:"max_daily_posts" json:"max_daily_posts"`
	ResetSchedule   string          `mapstructure:"reset_schedule" json:"reset_schedule"`
	StrategyWeights StrategyWeights `mapstructure:"strategy_weights" json:"strategy_weights"`
}

type StrategyWeights struct {
	Replay   float64 `mapstructure:"replay" json:"replay"`
	Internet float64 `mapstructure:"internet" json:"internet"`
	Platform float64 `mapstructure:"platform" json:"platform"`
}

type MentionsConfig struct {
	Enabled       bool          `mapstructure:"enabled" json:"enabled"`
	CheckInterval time.Duration `mapstructure:"check_interval" json:"check_interval"`
	ReplyDelay    time.Duration `mapstructure:"reply_delay" json:"reply_delay"`
	Limit         int           `mapstructure:"limit" json:"limit"`
}

type HashtagsConfig struct {
	Enabled            bool          `mapstructure:"enabled" json:"enabled"`
	Tags               []string      `mapstructure:"tags" json:"tags"`
	CheckInterval      time.Duration `mapstructure:"check_interval" json:"check_interval"`
	ReplyDelay         time.Duration `mapstructure:"reply_delay" json:"reply_delay"`
	Limit              int           `mapstructure:"limit" json:"limit"`
	MaxRepliesPerCycle int           `mapstructure:"max_replies_per_cycle" json:"max_replies_per_cycle"`
	Keywords           []string      `mapstructure:"keywords" json:"keywords"`
	Blacklist          []string      `mapstructure:"blacklist" json:"blacklist"`
}

type DMConfig struct {
	Enabled       bool          `mapstructure:"enabled" json:"enabled"`
	CheckInterval time.Duration `mapstructure:"check_interval" json:"check_interval"`
	ReplyDelay    time.Duration `mapstructure:"reply_delay" json:"reply_delay"`
	Cooldown      time.Duration `mapstructure:"cooldown" json:"cooldown"`
}

type LikeConfig struct {
	Enabled          bool          `mapstructure:"enabled" json:"enabled"`
	CheckInterval    time.Duration `mapstructure:"check_interval" json:"check_interval"`
	Probability      float64       `mapstructure:"probability" json:"probability"`
	MaxLikesPerCycle int           `mapstructure:"max_likes_per_cycle" json:"max_likes_per_cycle"`
	LikeDelay        time.Duration `mapstructure:"like_delay" json:"like_delay"`
	Tags             []string      `mapstructure:"tags" json:"tags"`
}

type PostStyleConfig struct {
	Style     string `mapstructure:"style" json:"style"`
	UseEmojis bool   `mapstructure:"use_emojis" json:"use_emojis"`
	MaxLength int    `mapstructure:"max_length" json:"max_length"`
}

type TrendsConfig struct {
	Cooldown    time.Duration `mapstructure:"cooldown"`
	HistorySize int           `mapstructure:"history_size"`
	SampleSize  int           `mapstructure:"sample_size"`
	Limit       int           `mapstructure:"limit"`
	PurgeAfter  time.Duration `mapstructure:"purge_after"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
	Directory       string   `mapstructure:"directory"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	ChatID  int64  `mapstructure:"chat_id"`
}

// Styles accepted by post_style.style. "auto" infers the style from the text.
var Styles = []string{"auto", "meme", "entertainer", "informative", "storyteller", "analyst"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.static_dir", "static")

	v.SetDefault("platform.type", "mastodon")
	v.SetDefault("platform.visibility", "public")
	v.SetDefault("platform.timeout", 30*time.Second)
	v.SetDefault("platform.verify_on_start", true)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 300)
	v.SetDefault("llm.temperature", 0.8)
	v.SetDefault("llm.timeout", 60*time.Second)

	v.SetDefault("generation.max_attempts", 3)
	v.SetDefault("generation.backoff_base", 2*time.Second)
	v.SetDefault("generation.max_length", 240)
	v.SetDefault("generation.append_hashtags", false)
	v.SetDefault("generation.max_hashtags", 2)

	v.SetDefault("storage.type", "file")
	v.SetDefault("storage.dir", "data")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.prefix", "sterling:")

	v.SetDefault("rate_limit.platform.requests_per_minute", 30)
	v.SetDefault("rate_limit.platform.min_interval", 2*time.Second)
	v.SetDefault("rate_limit.generation.requests_per_minute", 60)
	v.SetDefault("rate_limit.generation.min_interval", time.Second)

	v.SetDefault("services.auto_post.enabled", true)
	v.SetDefault("services.auto_post.interval", 3*time.Hour)
	v.SetDefault("services.auto_post.max_daily_posts", 6)
	v.SetDefault("services.auto_post.reset_schedule", "0 0 * * *")
	v.SetDefault("services.auto_post.strategy_weights.replay", 0.2)
	v.SetDefault("services.auto_post.strategy_weights.internet", 0.4)
	v.SetDefault("services.auto_post.strategy_weights.platform", 0.4)

	v.SetDefault("services.mentions.enabled", true)
	v.SetDefault("services.mentions.check_interval", 2*time.Minute)
	v.SetDefault("services.mentions.reply_delay", 5*time.Second)
	v.SetDefault("services.mentions.limit", 20)

	v.SetDefault("services.hashtags.enabled", false)
	v.SetDefault("services.hashtags.check_interval", 10*time.Minute)
	v.SetDefault("services.hashtags.reply_delay", 30*time.Second)
	v.SetDefault("services.hashtags.limit", 20)
	v.SetDefault("services.hashtags.max_replies_per_cycle", 3)

	v.SetDefault("services.dm.enabled", true)
	v.SetDefault("services.dm.check_interval", 3*time.Minute)
	v.SetDefault("services.dm.reply_delay", 5*time.Second)
	v.SetDefault("services.dm.cooldown", 10*time.Minute)

	v.SetDefault("services.like.enabled", false)
	v.SetDefault("services.like.check_interval", 15*time.Minute)
	v.SetDefault("services.like.probability", 0.3)
	v.SetDefault("services.like.max_likes_per_cycle", 5)
	v.SetDefault("services.like.like_delay", 10*time.Second)

	v.SetDefault("services.post_style.style", "entertainer")
	v.SetDefault("services.post_style.use_emojis", true)
	v.SetDefault("services.post_style.max_length", 240)

	v.SetDefault("trends.cooldown", time.Hour)
	v.SetDefault("trends.history_size", 5)
	v.SetDefault("trends.sample_size", 5)
	v.SetDefault("trends.limit", 10)
	v.SetDefault("trends.purge_after", 24*time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file.path", "logs/sterling.log")
	v.SetDefault("logging.file.max_size", 50)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age", 14)

	v.SetDefault("monitoring.metrics.enabled", false)
	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("monitoring.metrics.path", "/metrics")

	v.SetDefault("i18n.default_language", "en")
	v.SetDefault("i18n.languages", []string{"en"})
	v.SetDefault("i18n.directory", "configs/i18n")
}

// LoadConfig loads configuration from file and environment variables.
// A missing config file is not an error; defaults and environment apply.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	v.BindEnv("platform.instance_url", "MASTODON_INSTANCE_URL")
	v.BindEnv("platform.client_id", "MASTODON_CLIENT_ID")
	v.BindEnv("platform.client_secret", "MASTODON_CLIENT_SECRET")
	v.BindEnv("platform.access_token", "MASTODON_ACCESS_TOKEN")
	v.BindEnv("llm.api_key", "LLM_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("storage.redis.addr", "REDIS_ADDR")
	v.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	v.BindEnv("storage.redis.db", "REDIS_DB")
	v.BindEnv("notify.telegram.token", "TELEGRAM_BOT_TOKEN")
	v.BindEnv("notify.telegram.chat_id", "TELEGRAM_CHAT_ID")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Handle Redis address special case
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		redisPort := os.Getenv("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		config.Storage.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	switch cfg.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return fmt.Errorf("invalid log level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Output {
	case "stdout", "stderr", "file", "both":
	default:
		return fmt.Errorf("unsupported log output: %s", cfg.Logging.Output)
	}
	switch cfg.Storage.Type {
	case "file", "redis", "memory":
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	switch cfg.LLM.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}
	if cfg.Generation.MaxAttempts < 1 {
		return fmt.Errorf("generation.max_attempts must be at least 1")
	}
	if cfg.Generation.MaxLength <= 0 {
		return fmt.Errorf("generation.max_length must be positive")
	}
	if cfg.RateLimit.Platform.RequestsPerMinute <= 0 || cfg.RateLimit.Generation.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate limits must allow at least one request per minute")
	}
	if err := ValidateAutoPost(cfg.Services.AutoPost); err != nil {
		return err
	}
	if err := ValidateMentions(cfg.Services.Mentions); err != nil {
		return err
	}
	if err := ValidateHashtags(cfg.Services.Hashtags); err != nil {
		return err
	}
	if err := ValidateDM(cfg.Services.DM); err != nil {
		return err
	}
	if err := ValidateLike(cfg.Services.Like); err != nil {
		return err
	}
	return ValidatePostStyle(cfg.Services.PostStyle)
}

// ValidatePlatform checks the credentials needed to talk to the platform.
// It runs at service start rather than at load so the API can come up
// before credentials are configured.
func ValidatePlatform(cfg PlatformConfig) error {
	switch cfg.Type {
	case "mastodon", "pleroma":
	default:
		return fmt.Errorf("unsupported platform: %s", cfg.Type)
	}
	if cfg.InstanceURL == "" {
		return fmt.Errorf("platform instance url is required")
	}
	if cfg.AccessToken == "" {
		return fmt.Errorf("platform access token is required")
	}
	switch cfg.Visibility {
	case "public", "unlisted", "private", "direct":
	default:
		return fmt.Errorf("invalid visibility %q", cfg.Visibility)
	}
	return nil
}

func ValidateAutoPost(s AutoPostConfig) error {
	if s.Interval <= 0 {
		return fmt.Errorf("auto_post.interval must be positive")
	}
	if s.MaxDailyPosts < 0 {
		return fmt.Errorf("auto_post.max_daily_posts must not be negative")
	}
	if _, err := cron.ParseStandard(s.ResetSchedule); err != nil {
		return fmt.Errorf("invalid auto_post.reset_schedule: %w", err)
	}
	w := s.StrategyWeights
	if w.Replay < 0 || w.Internet < 0 || w.Platform < 0 {
		return fmt.Errorf("auto_post.strategy_weights must not be negative")
	}
	if w.Replay+w.Internet+w.Platform == 0 {
		return fmt.Errorf("auto_post.strategy_weights must not all be zero")
	}
	return nil
}

func ValidateMentions(s MentionsConfig) error {
	if s.CheckInterval <= 0 {
		return fmt.Errorf("mentions.check_interval must be positive")
	}
	if s.Limit <= 0 {
		return fmt.Errorf("mentions.limit must be positive")
	}
	return nil
}

func ValidateHashtags(s HashtagsConfig) error {
	if s.CheckInterval <= 0 {
		return fmt.Errorf("hashtags.check_interval must be positive")
	}
	if s.Limit <= 0 {
		return fmt.Errorf("hashtags.limit must be positive")
	}
	for _, tag := range s.Tags {
		if strings.TrimSpace(strings.TrimPrefix(tag, "#")) == "" {
			return fmt.Errorf("hashtags.tags contains an empty tag")
		}
	}
	return nil
}

func ValidateDM(s DMConfig) error {
	if s.CheckInterval <= 0 {
		return fmt.Errorf("dm.check_interval must be positive")
	}
	if s.Cooldown < 0 {
		return fmt.Errorf("dm.cooldown must not be negative")
	}
	return nil
}

func ValidateLike(s LikeConfig) error {
	if s.CheckInterval <= 0 {
		return fmt.Errorf("like.check_interval must be positive")
	}
	if s.Probability < 0 || s.Probability > 1 {
		return fmt.Errorf("like.probability must be within [0, 1]")
	}
	return nil
}

func ValidatePostStyle(s PostStyleConfig) error {
	valid := false
	for _, style := range Styles {
		if s.Style == style {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid post style %q", s.Style)
	}
	if s.MaxLength <= 0 {
		return fmt.Errorf("post_style.max_length must be positive")
	}
	return nil
}

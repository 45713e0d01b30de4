package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadDefaults tests that a missing file falls back to defaults
func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "mastodon", cfg.Platform.Type)
	assert.Equal(t, 3*time.Hour, cfg.Services.AutoPost.Interval)
	assert.Equal(t, 6, cfg.Services.AutoPost.MaxDailyPosts)
	assert.Equal(t, "0 0 * * *", cfg.Services.AutoPost.ResetSchedule)
	assert.Equal(t, 0.4, cfg.Services.AutoPost.StrategyWeights.Platform)
	assert.Equal(t, 0.3, cfg.Services.Like.Probability)
	assert.Equal(t, "entertainer", cfg.Services.PostStyle.Style)
}

// TestLoadFileAndEnv tests file values and environment overrides
func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
platform:
  instance_url: https://fosstodon.example
services:
  mentions:
    check_interval: 45s
  hashtags:
    tags: [golang, rust]
`), 0o644))

	t.Setenv("MASTODON_ACCESS_TOKEN", "secret")
	t.Setenv("REDIS_HOST", "cache")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://fosstodon.example", cfg.Platform.InstanceURL)
	assert.Equal(t, "secret", cfg.Platform.AccessToken)
	assert.Equal(t, 45*time.Second, cfg.Services.Mentions.CheckInterval)
	assert.Equal(t, []string{"golang", "rust"}, cfg.Services.Hashtags.Tags)
	assert.Equal(t, "cache:6379", cfg.Storage.Redis.Addr)
	assert.NoError(t, ValidatePlatform(cfg.Platform))
}

// TestLoadRejectsInvalid tests load-time validation
func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("services:\n  like:\n    probability: 1.5\n"), 0o644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "like.probability")
}

// TestLoadRejectsBadResetSchedule tests that the cron expression is checked at load
func TestLoadRejectsBadResetSchedule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("services:\n  auto_post:\n    reset_schedule: every day\n"), 0o644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "reset_schedule")
}

// TestShippedConfig tests the example configuration in the repository
func TestShippedConfig(t *testing.T) {
	cfg, err := LoadConfig("../../configs/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"en", "es"}, cfg.I18n.Languages)
}

// TestValidators tests the per-service validation rules
func TestValidators(t *testing.T) {
	platform := PlatformConfig{Type: "mastodon", InstanceURL: "https://x.example", AccessToken: "t", Visibility: "public"}
	assert.NoError(t, ValidatePlatform(platform))
	bad := platform
	bad.Type = "twitter"
	assert.Error(t, ValidatePlatform(bad))
	bad = platform
	bad.Visibility = "secret"
	assert.Error(t, ValidatePlatform(bad))

	autoPost := AutoPostConfig{Interval: time.Hour, MaxDailyPosts: 3, ResetSchedule: "0 0 * * *", StrategyWeights: StrategyWeights{Internet: 1}}
	assert.NoError(t, ValidateAutoPost(autoPost))
	badSchedule := autoPost
	badSchedule.ResetSchedule = "every day"
	assert.ErrorContains(t, ValidateAutoPost(badSchedule), "reset_schedule")
	badSchedule.ResetSchedule = ""
	assert.Error(t, ValidateAutoPost(badSchedule))
	autoPost.StrategyWeights = StrategyWeights{}
	assert.Error(t, ValidateAutoPost(autoPost))

	assert.Error(t, ValidateMentions(MentionsConfig{CheckInterval: time.Minute}))
	assert.Error(t, ValidateHashtags(HashtagsConfig{CheckInterval: time.Minute, Limit: 5, Tags: []string{"#"}}))
	assert.Error(t, ValidateDM(DMConfig{CheckInterval: time.Minute, Cooldown: -time.Second}))
	assert.Error(t, ValidateLike(LikeConfig{CheckInterval: time.Minute, Probability: -0.1}))
	assert.NoError(t, ValidatePostStyle(PostStyleConfig{Style: "auto", MaxLength: 240}))
	assert.Error(t, ValidatePostStyle(PostStyleConfig{Style: "poet", MaxLength: 240}))
}

package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/agent-sterling-go/internal/config"
	"github.com/agent-sterling-go/internal/middleware"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trendUsage struct {
	UsedToday bool  `json:"used_today"`
	LastReset int64 `json:"last_reset"`
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// TestFileLedgerRoundTrip tests saving and loading through files
func TestFileLedgerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ledger, err := NewFileLedger(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ledger.Save(ctx, KeyTrendUsage, trendUsage{UsedToday: true, LastReset: 1714521600}))

	var usage trendUsage
	require.NoError(t, ledger.Load(ctx, KeyTrendUsage, &usage))
	assert.True(t, usage.UsedToday)
	assert.Equal(t, int64(1714521600), usage.LastReset)

	raw, err := os.ReadFile(filepath.Join(dir, "trend_usage.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"used_today": true`)

	// A fresh ledger over the same directory sees the state
	reopened, err := NewFileLedger(dir)
	require.NoError(t, err)
	var ids []string
	require.NoError(t, ledger.Save(ctx, KeyRepliedDMs, []string{"1", "2"}))
	require.NoError(t, reopened.Load(ctx, KeyRepliedDMs, &ids))
	assert.Equal(t, []string{"1", "2"}, ids)
}

// TestFileLedgerMissingAndCorrupt tests error reporting for unreadable state
func TestFileLedgerMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	ledger, err := NewFileLedger(dir)
	require.NoError(t, err)

	var ids []string
	assert.ErrorIs(t, ledger.Load(context.Background(), KeyRepliedDMs, &ids), ErrNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "replied_dms.json"), []byte("{not json"), 0644))
	err = ledger.Load(context.Background(), KeyRepliedDMs, &ids)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

// TestMemoryLedger tests the in-memory backend
func TestMemoryLedger(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	posts := []string{"first", "second"}
	require.NoError(t, ledger.Save(ctx, KeyRecentPosts, posts))
	posts[0] = "mutated"

	var loaded []string
	require.NoError(t, ledger.Load(ctx, KeyRecentPosts, &loaded))
	assert.Equal(t, []string{"first", "second"}, loaded)

	assert.ErrorIs(t, ledger.Load(ctx, KeyPostingState, &loaded), ErrNotFound)
}

// TestNewLedger tests backend selection
func TestNewLedger(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Type = "memory"
	ledger, err := NewLedger(cfg, testLogger(), middleware.NewMetrics())
	require.NoError(t, err)
	require.NoError(t, ledger.Save(context.Background(), KeyRecentPosts, []string{"x"}))

	cfg.Storage.Type = "file"
	cfg.Storage.Dir = t.TempDir()
	_, err = NewLedger(cfg, testLogger(), nil)
	assert.NoError(t, err)

	cfg.Storage.Type = "sqlite"
	_, err = NewLedger(cfg, testLogger(), nil)
	assert.Error(t, err)
}

// TestRedisLedgerUnreachable tests that a dead redis is reported at construction
func TestRedisLedgerUnreachable(t *testing.T) {
	_, err := NewRedisLedger(config.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

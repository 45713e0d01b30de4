package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agent-sterling-go/internal/config"
	"github.com/agent-sterling-go/internal/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by Load when nothing was stored under the key
var ErrNotFound = errors.New("ledger entry not found")

// Ledger keys
const (
	KeyRepliedDMs   = "replied_dms"
	KeyTrendUsage   = "trend_usage"
	KeyRecentPosts  = "recent_posts"
	KeyPostingState = "posting_state"
)

// Ledger persists small JSON documents that must survive restarts
type Ledger interface {
	Load(ctx context.Context, key string, v interface{}) error
	Save(ctx context.Context, key string, v interface{}) error
	Close() error
}

// NewLedger creates the ledger backend selected by cfg.Storage.Type
func NewLedger(cfg *config.Config, logger *logrus.Logger, metrics *middleware.Metrics) (Ledger, error) {
	var ledger Ledger

	switch cfg.Storage.Type {
	case "file":
		fileLedger, err := NewFileLedger(cfg.Storage.Dir)
		if err != nil {
			return nil, err
		}
		ledger = fileLedger
	case "redis":
		redisLedger, err := NewRedisLedger(cfg.Storage.Redis)
		if err != nil {
			return nil, err
		}
		ledger = redisLedger
	case "memory":
		ledger = NewMemoryLedger()
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	logger.WithField("type", cfg.Storage.Type).Info("Ledger storage initialized")

	if metrics == nil {
		return ledger, nil
	}
	return &instrumented{ledger: ledger, metrics: metrics}, nil
}

type instrumented struct {
	ledger  Ledger
	metrics *middleware.Metrics
}

func (i *instrumented) Load(ctx context.Context, key string, v interface{}) error {
	err := i.ledger.Load(ctx, key, v)
	i.metrics.RecordStorageOperation("load", status(err))
	return err
}

func (i *instrumented) Save(ctx context.Context, key string, v interface{}) error {
	err := i.ledger.Save(ctx, key, v)
	i.metrics.RecordStorageOperation("save", status(err))
	return err
}

func (i *instrumented) Close() error {
	return i.ledger.Close()
}

func status(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "miss"
	default:
		return "error"
	}
}

// FileLedger stores each key as <dir>/<key>.json, rewritten wholesale on save
type FileLedger struct {
	dir string
	mu  sync.Mutex
}

func NewFileLedger(dir string) (*FileLedger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	return &FileLedger{dir: dir}, nil
}

func (f *FileLedger) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

func (f *FileLedger) Load(ctx context.Context, key string, v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (f *FileLedger) Save(ctx context.Context, key string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace %s: %w", key, err)
	}
	return nil
}

func (f *FileLedger) Close() error {
	return nil
}

// RedisLedger implements the ledger using Redis
type RedisLedger struct {
	client *redis.Client
	prefix string
}

func NewRedisLedger(cfg config.RedisConfig) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisLedger{
		client: client,
		prefix: cfg.Prefix,
	}, nil
}

func (r *RedisLedger) Load(ctx context.Context, key string, v interface{}) error {
	data, err := r.client.Get(ctx, r.prefix+key).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), v)
}

func (r *RedisLedger) Save(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, r.prefix+key, data, 0).Err() // No expiration for ledgers
}

func (r *RedisLedger) Close() error {
	return r.client.Close()
}

// MemoryLedger keeps encoded documents in process memory. State is lost on
// exit, which suits tests and dry runs.
type MemoryLedger struct {
	entries *cache.Cache
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries: cache.New(cache.NoExpiration, cache.NoExpiration),
	}
}

func (m *MemoryLedger) Load(ctx context.Context, key string, v interface{}) error {
	val, found := m.entries.Get(key)
	if !found {
		return ErrNotFound
	}
	return json.Unmarshal(val.([]byte), v)
}

func (m *MemoryLedger) Save(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.entries.Set(key, data, cache.NoExpiration)
	return nil
}

func (m *MemoryLedger) Close() error {
	return nil
}

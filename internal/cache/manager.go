// Package cache provides the read-through cache for derived learner data.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Config configures the cache manager.
type Config struct {
	// DefaultTTL applies when Set is called with a zero TTL.
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	// ScanCount is the batch size for pattern invalidation scans.
	ScanCount int64 `yaml:"scan_count" json:"scan_count"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 5 * time.Minute,
		ScanCount:  100,
	}
}

// Recorder receives cache hit/miss notifications. A nil Recorder is valid.
type Recorder interface {
	CacheHit(class string)
	CacheMiss(class string)
}

// Manager is a thin cache layer over a shared Redis client. It does not own
// the client; closing the manager only marks it unusable, the connection
// pool belongs to the caller.
type Manager struct {
	redis    *redis.Client
	cfg      Config
	recorder Recorder
	logger   *zap.Logger
	mu       sync.RWMutex
	closed   bool
}

// NewManager creates a cache manager over the given Redis client.
func NewManager(client *redis.Client, cfg Config, logger *zap.Logger) *Manager {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		redis:  client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "cache")),
	}
}

// SetRecorder attaches a hit/miss recorder (optional).
func (m *Manager) SetRecorder(r Recorder) { m.recorder = r }

// Get returns the raw cached value for key, or ErrCacheMiss.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", fmt.Errorf("cache manager is closed")
	}

	val, err := m.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		m.record(key, false)
		return "", ErrCacheMiss
	}
	if err != nil {
		m.logger.Error("cache get failed", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("cache get failed: %w", err)
	}

	m.record(key, true)
	return val, nil
}

// Set stores value under key. A zero ttl falls back to DefaultTTL.
func (m *Manager) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("cache manager is closed")
	}

	if ttl == 0 {
		ttl = m.cfg.DefaultTTL
	}

	if err := m.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		m.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}

	return nil
}

// GetJSON decodes the cached value for key into dest.
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	val, err := m.Get(ctx, key)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}

	return nil
}

// SetJSON encodes value as JSON and stores it under key.
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	return m.Set(ctx, key, string(data), ttl)
}

// Delete removes the given keys. Deleting absent keys is not an error.
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("cache manager is closed")
	}

	if len(keys) == 0 {
		return nil
	}

	if err := m.redis.Del(ctx, keys...).Err(); err != nil {
		m.logger.Error("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("cache delete failed: %w", err)
	}

	return nil
}

// DeletePattern removes every key matching the glob pattern. It walks the
// keyspace with SCAN rather than KEYS so invalidation never blocks Redis.
func (m *Manager) DeletePattern(ctx context.Context, pattern string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, fmt.Errorf("cache manager is closed")
	}

	deleted := 0
	iter := m.redis.Scan(ctx, 0, pattern, m.cfg.ScanCount).Iterator()
	for iter.Next(ctx) {
		if err := m.redis.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, fmt.Errorf("cache pattern delete failed: %w", err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("cache pattern scan failed: %w", err)
	}

	if deleted > 0 {
		m.logger.Info("cache pattern invalidated",
			zap.String("pattern", pattern),
			zap.Int("deleted", deleted),
		)
	}
	return deleted, nil
}

// InvalidateUser drops every cached entry derived from one user's data.
// Called after any write that changes the user's learning state.
func (m *Manager) InvalidateUser(ctx context.Context, userID string) (int, error) {
	return m.DeletePattern(ctx, UserPattern(userID))
}

// Ping checks whether the backing store is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("cache manager is closed")
	}

	return m.redis.Ping(ctx).Err()
}

// Close marks the manager unusable. The Redis client is shared and is not
// closed here.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	m.logger.Info("cache manager closed")
	return nil
}

func (m *Manager) record(key string, hit bool) {
	if m.recorder == nil {
		return
	}
	class := KeyClass(key)
	if hit {
		m.recorder.CacheHit(class)
	} else {
		m.recorder.CacheMiss(class)
	}
}

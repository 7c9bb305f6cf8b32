package domain

import (
	"context"
	"time"
)

// Cache is the short-lived lookup cache used by the velocity service.
// Supports LRU (Community) or Redis (Pro), optionally two-phase.
type Cache interface {
	// Get retrieves a value. A miss returns nil, nil.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with a TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error

	// IncrementCounter atomically increments a windowed counter and
	// returns the new count. The counter resets when the window expires.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// LocalMaxSize bounds the in-process LRU entry count.
	LocalMaxSize int

	// LocalTTL is the L1 TTL in two-phase mode.
	LocalTTL time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoPhase layers the local LRU in front of Redis.
	EnableTwoPhase bool
}

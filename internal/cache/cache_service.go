// Package cache wraps Redis for the one thing this service needs it for:
// atomic daily sequence numbers behind order link id generation. Redis is
// optional; callers fall back to local generation when it is unhealthy.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// PrefixDailySequence keys daily link-id counters: seq:<symbol>:<date>
	PrefixDailySequence = "tvbridge:seq:%s:%s"

	// DefaultSequenceTTL keeps counters two days so a rollover race never
	// expires the key mid-day
	DefaultSequenceTTL = 48 * time.Hour

	healthCheckInterval = 30 * time.Second
)

// CacheService is a thin health-checked Redis client
type CacheService struct {
	client *redis.Client
	logger zerolog.Logger

	mu          sync.Mutex
	healthy     bool
	lastChecked time.Time
}

// NewCacheService connects to Redis. A failed initial ping is not fatal:
// the service starts unhealthy and recovers when Redis comes back.
func NewCacheService(addr, password string, db int, logger zerolog.Logger) *CacheService {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	cs := &CacheService{
		client: client,
		logger: logger.With().Str("component", "CacheService").Logger(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		cs.logger.Warn().Err(err).Msg("Redis unavailable at startup, sequence generation will use fallback")
	} else {
		cs.healthy = true
	}
	cs.lastChecked = time.Now()
	return cs
}

// IsHealthy reports whether the last health check succeeded
func (cs *CacheService) IsHealthy() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.healthy
}

func (cs *CacheService) checkHealth(ctx context.Context) {
	cs.mu.Lock()
	if time.Since(cs.lastChecked) < healthCheckInterval && cs.healthy {
		cs.mu.Unlock()
		return
	}
	cs.mu.Unlock()

	err := cs.client.Ping(ctx).Err()

	cs.mu.Lock()
	cs.healthy = err == nil
	cs.lastChecked = time.Now()
	cs.mu.Unlock()
}

// IncrementDailySequence atomically increments the per-symbol daily counter
// and returns the new value (1-indexed). INCR is atomic, so concurrent
// signal handlers never share a sequence number.
func (cs *CacheService) IncrementDailySequence(ctx context.Context, symbol, dateKey string) (int64, error) {
	cs.checkHealth(ctx)
	if !cs.IsHealthy() {
		return 0, fmt.Errorf("redis unavailable")
	}

	key := fmt.Sprintf(PrefixDailySequence, symbol, dateKey)
	val, err := cs.client.Incr(ctx, key).Result()
	if err != nil {
		cs.mu.Lock()
		cs.healthy = false
		cs.mu.Unlock()
		return 0, fmt.Errorf("redis incr failed: %w", err)
	}

	// Set TTL on first increment
	if val == 1 {
		cs.client.Expire(ctx, key, DefaultSequenceTTL)
	}
	return val, nil
}

// Close releases the underlying Redis connection
func (cs *CacheService) Close() error {
	return cs.client.Close()
}

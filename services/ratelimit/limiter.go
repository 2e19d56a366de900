// Package ratelimit provides fixed-window request counters keyed by caller identity.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Result is the outcome of one counter increment
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key in fixed windows
type Limiter interface {
	// Allow counts one request against key and reports whether it stays within limit for the window
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// windowBounds returns the start of the fixed window containing now and when it resets
func windowBounds(now time.Time, window time.Duration) (start time.Time, reset time.Time) {
	start = now.Truncate(window)
	return start, start.Add(window)
}

func newResult(count int64, limit int, resetAt time.Time) *Result {
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// RedisLimiter keeps counters in Redis so every instance shares the same windows
type RedisLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisLimiter creates a new RedisLimiter
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: "ratelimit", now: time.Now}
}

func (l *RedisLimiter) key(key string, start time.Time) string {
	return fmt.Sprintf("%s:%s:%d", l.prefix, key, start.Unix())
}

// Allow implements Limiter with INCR and EXPIRE in one transaction
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	start, resetAt := windowBounds(l.now(), window)
	redisKey := l.key(key, start)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	return newResult(incr.Val(), limit, resetAt), nil
}

type counter struct {
	count   int64
	resetAt time.Time
}

// MemoryLimiter keeps counters in process memory. Suitable for a single instance only.
type MemoryLimiter struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
	logger   *zap.Logger
}

// NewMemoryLimiter creates a new MemoryLimiter
func NewMemoryLimiter(logger *zap.Logger) *MemoryLimiter {
	return &MemoryLimiter{
		counters: make(map[string]*counter),
		now:      time.Now,
		logger:   logger,
	}
}

// Allow implements Limiter
func (l *MemoryLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := l.now()
	_, resetAt := windowBounds(now, window)

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok || !now.Before(c.resetAt) {
		c = &counter{resetAt: resetAt}
		l.counters[key] = c
	}
	c.count++

	return newResult(c.count, limit, c.resetAt), nil
}

// CleanupExpired drops counters whose window has passed
func (l *MemoryLimiter) CleanupExpired() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, c := range l.counters {
		if !now.Before(c.resetAt) {
			delete(l.counters, key)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically drops expired counters until ctx is cancelled
func (l *MemoryLimiter) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Info("started rate limit cleanup worker", zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			if removed := l.CleanupExpired(); removed > 0 {
				l.logger.Debug("cleaned up rate limit counters", zap.Int("removed", removed))
			}
		case <-ctx.Done():
			l.logger.Info("stopping rate limit cleanup worker")
			return
		}
	}
}

// Len returns the number of live counters
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}

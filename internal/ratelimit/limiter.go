package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/monitoring"
	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration
type Config struct {
	IPLimitPerMin   int // requests per minute per client IP
	RefreshPerHour  int // forced trajectory recomputations per hour per user
	BurstMultiplier int // burst capacity multiplier for the IP limit
	CleanupInterval time.Duration
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() Config {
	return Config{
		IPLimitPerMin:   120,
		RefreshPerHour:  20,
		BurstMultiplier: 2,
		CleanupInterval: time.Hour,
	}
}

// Result represents the result of a rate limit check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RateLimiter provides distributed rate limiting with Redis and in-memory fallback
type RateLimiter struct {
	redisLimiter *redis_rate.Limiter
	redisClient  *RedisClient
	config       Config
	metrics      *monitoring.Metrics
	now          func() time.Time

	fallbackLimiters map[string]*rate.Limiter
	fallbackMutex    sync.RWMutex

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter. A nil or disabled client selects the in-memory limiter.
func NewRateLimiter(redisClient *RedisClient, config Config, metrics *monitoring.Metrics) *RateLimiter {
	if redisClient == nil {
		redisClient = &RedisClient{}
	}
	if config.BurstMultiplier < 1 {
		config.BurstMultiplier = 1
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Hour
	}

	rl := &RateLimiter{
		redisClient:      redisClient,
		config:           config,
		metrics:          metrics,
		now:              time.Now,
		fallbackLimiters: make(map[string]*rate.Limiter),
		stop:             make(chan struct{}),
	}

	if redisClient.IsEnabled() {
		rl.redisLimiter = redis_rate.NewLimiter(redisClient.GetClient())
		slog.Info("Redis rate limiter initialized")
	} else {
		slog.Warn("Redis unavailable, using in-memory rate limiting only")
	}

	go rl.cleanupFallbackLimiters()

	return rl
}

// Config returns the active limits
func (rl *RateLimiter) Config() Config {
	return rl.config
}

func ipKey(ip string) string {
	return fmt.Sprintf("ratelimit:ip:%s", ip)
}

func refreshKey(userID string) string {
	return fmt.Sprintf("ratelimit:user:%s:refresh", userID)
}

// AllowIP checks if an IP address is allowed to make a request (per-minute limit)
func (rl *RateLimiter) AllowIP(ctx context.Context, ip string) (*Result, error) {
	limit := rl.config.IPLimitPerMin
	return rl.allow(ctx, ipKey(ip), limit, limit*rl.config.BurstMultiplier, time.Minute)
}

// AllowRefresh checks whether a user may force another recomputation this hour.
// Refreshes bypass the result cache, so they are the expensive path worth throttling.
func (rl *RateLimiter) AllowRefresh(ctx context.Context, userID string) (*Result, error) {
	limit := rl.config.RefreshPerHour
	res, err := rl.allow(ctx, refreshKey(userID), limit, limit, time.Hour)
	if err == nil && !res.Allowed && rl.metrics != nil {
		rl.metrics.IncrementRateLimitUserBlock()
	}
	return res, err
}

// allow performs the actual rate limit check using Redis or fallback.
// A non-positive limit disables the check.
func (rl *RateLimiter) allow(ctx context.Context, key string, limit, burst int, period time.Duration) (*Result, error) {
	if limit <= 0 {
		return &Result{Allowed: true, Limit: 0, Remaining: math.MaxInt32, ResetAt: rl.now()}, nil
	}
	if burst < limit {
		burst = limit
	}

	if rl.redisClient.IsEnabled() && rl.redisLimiter != nil {
		result, err := rl.allowRedis(ctx, key, limit, burst, period)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("Redis rate limit check failed, using fallback", "key", key, "error", err)
		if rl.metrics != nil {
			rl.metrics.IncrementRateLimitRedisError()
		}
	}

	if rl.metrics != nil {
		rl.metrics.IncrementRateLimitFallback()
	}
	return rl.allowFallback(key, limit, burst, period), nil
}

func (rl *RateLimiter) allowRedis(ctx context.Context, key string, limit, burst int, period time.Duration) (*Result, error) {
	res, err := rl.redisLimiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   limit,
		Burst:  burst,
		Period: period,
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}

	return &Result{
		Allowed:    res.Allowed > 0,
		Limit:      res.Limit.Rate,
		Remaining:  res.Remaining,
		ResetAt:    rl.now().Add(res.ResetAfter),
		RetryAfter: res.RetryAfter,
	}, nil
}

// allowFallback performs rate limiting using an in-memory token bucket per key
func (rl *RateLimiter) allowFallback(key string, limit, burst int, period time.Duration) *Result {
	perToken := period / time.Duration(limit)
	now := rl.now()

	rl.fallbackMutex.Lock()
	limiter, exists := rl.fallbackLimiters[key]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(perToken), burst)
		rl.fallbackLimiters[key] = limiter
	}
	rl.fallbackMutex.Unlock()

	allowed := limiter.AllowN(now, 1)
	tokens := limiter.TokensAt(now)

	result := &Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: max(int(math.Floor(tokens)), 0),
	}

	// time until the bucket is full again
	missing := float64(burst) - tokens
	result.ResetAt = now.Add(time.Duration(missing * float64(perToken)))

	if !allowed {
		result.RetryAfter = time.Duration((1 - tokens) * float64(perToken))
		if result.RetryAfter < time.Second {
			result.RetryAfter = time.Second
		}
	}

	return result
}

// cleanupFallbackLimiters periodically drops in-memory buckets once the map grows large
func (rl *RateLimiter) cleanupFallbackLimiters() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.fallbackMutex.Lock()
			if len(rl.fallbackLimiters) > 1000 {
				slog.Info("Cleaning up fallback rate limiters", "count", len(rl.fallbackLimiters))
				rl.fallbackLimiters = make(map[string]*rate.Limiter)
			}
			rl.fallbackMutex.Unlock()
		}
	}
}

// Close stops the cleanup goroutine. The Redis client is closed by its owner.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// GetStats returns rate limiter statistics
func (rl *RateLimiter) GetStats() map[string]interface{} {
	rl.fallbackMutex.RLock()
	fallbackCount := len(rl.fallbackLimiters)
	rl.fallbackMutex.RUnlock()

	stats := map[string]interface{}{
		"redis_enabled":     rl.redisClient.IsEnabled(),
		"fallback_limiters": fallbackCount,
		"ip_per_minute":     rl.config.IPLimitPerMin,
		"refresh_per_hour":  rl.config.RefreshPerHour,
	}

	if rl.redisClient.IsEnabled() {
		stats["redis_pool"] = rl.redisClient.GetPoolStats()
	}

	return stats
}

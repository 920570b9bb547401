package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"
)

// InvalidateUser clears a user's refresh budget. Administrators use it after
// a bulk data correction when teachers need fresh trajectories immediately.
func (rl *RateLimiter) InvalidateUser(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if !rl.redisClient.IsEnabled() {
		rl.dropFallback(func(key string) bool { return key == refreshKey(userID) })
		slog.Info("Invalidated user rate limits (in-memory)", "user_id", userID)
		return nil
	}
	return rl.deleteByPattern(ctx, fmt.Sprintf("ratelimit:user:%s:*", userID))
}

// InvalidateIP removes the request budget for an IP address
func (rl *RateLimiter) InvalidateIP(ctx context.Context, ip string) error {
	if ip == "" {
		return fmt.Errorf("ip is required")
	}
	if !rl.redisClient.IsEnabled() {
		rl.dropFallback(func(key string) bool { return key == ipKey(ip) })
		slog.Info("Invalidated IP rate limits (in-memory)", "ip", ip)
		return nil
	}
	return rl.deleteByPattern(ctx, ipKey(ip))
}

// InvalidateAll removes every rate limit key
func (rl *RateLimiter) InvalidateAll(ctx context.Context) error {
	if !rl.redisClient.IsEnabled() {
		n := rl.dropFallback(func(key string) bool { return strings.HasPrefix(key, "ratelimit:") })
		slog.Warn("Invalidated all rate limits (in-memory)", "count", n)
		return nil
	}
	slog.Warn("Invalidating ALL rate limits")
	return rl.deleteByPattern(ctx, "ratelimit:*")
}

func (rl *RateLimiter) dropFallback(match func(string) bool) int {
	rl.fallbackMutex.Lock()
	defer rl.fallbackMutex.Unlock()

	dropped := 0
	for key := range rl.fallbackLimiters {
		if match(key) {
			delete(rl.fallbackLimiters, key)
			dropped++
		}
	}
	return dropped
}

// fallbackLimiter is a test hook
func (rl *RateLimiter) fallbackLimiter(key string) (*rate.Limiter, bool) {
	rl.fallbackMutex.RLock()
	defer rl.fallbackMutex.RUnlock()
	l, ok := rl.fallbackLimiters[key]
	return l, ok
}

// deleteByPattern deletes all Redis keys matching a pattern using SCAN
func (rl *RateLimiter) deleteByPattern(ctx context.Context, pattern string) error {
	client := rl.redisClient.GetClient()

	var cursor uint64
	var deletedCount int64

	for {
		keys, nextCursor, err := client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys: %w", err)
		}

		if len(keys) > 0 {
			deleted, err := client.Del(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("failed to delete keys: %w", err)
			}
			deletedCount += deleted
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	slog.Info("Deleted rate limit keys by pattern", "pattern", pattern, "count", deletedCount)
	return nil
}

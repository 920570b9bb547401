package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/monitoring"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time            { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestLimiter(t *testing.T, cfg Config) (*RateLimiter, *fakeClock, *monitoring.Metrics) {
	t.Helper()
	metrics := monitoring.NewMetrics()
	rl := NewRateLimiter(&RedisClient{}, cfg, metrics)
	clock := &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	rl.now = clock.now
	t.Cleanup(rl.Close)
	return rl, clock, metrics
}

func TestAllowRefresh_Fallback(t *testing.T) {
	rl, clock, metrics := newTestLimiter(t, Config{IPLimitPerMin: 60, RefreshPerHour: 2, BurstMultiplier: 1})
	ctx := context.Background()

	first, err := rl.AllowRefresh(ctx, "user_teacher")
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, 2, first.Limit)
	assert.Equal(t, 1, first.Remaining)

	second, err := rl.AllowRefresh(ctx, "user_teacher")
	require.NoError(t, err)
	assert.True(t, second.Allowed)
	assert.Equal(t, 0, second.Remaining)

	third, err := rl.AllowRefresh(ctx, "user_teacher")
	require.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.Equal(t, 30*time.Minute, third.RetryAfter)

	other, err := rl.AllowRefresh(ctx, "user_admin")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "budgets are per user")

	clock.advance(31 * time.Minute)
	again, err := rl.AllowRefresh(ctx, "user_teacher")
	require.NoError(t, err)
	assert.True(t, again.Allowed, "one token refills every period/limit")

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats["rate_limit_user_blocks"])
	assert.Equal(t, int64(5), stats["rate_limit_fallback_used"])
}

func TestAllowIP_BurstMultiplier(t *testing.T) {
	rl, _, _ := newTestLimiter(t, Config{IPLimitPerMin: 3, RefreshPerHour: 1, BurstMultiplier: 2})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		res, err := rl.AllowIP(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d within burst", i+1)
	}

	res, err := rl.AllowIP(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 20*time.Second, res.RetryAfter)
}

func TestAllow_ZeroLimitDisablesCheck(t *testing.T) {
	rl, _, metrics := newTestLimiter(t, Config{})
	for i := 0; i < 50; i++ {
		res, err := rl.AllowRefresh(context.Background(), "u")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	assert.Equal(t, int64(0), metrics.GetStats()["rate_limit_fallback_used"])
}

func TestInvalidateUser(t *testing.T) {
	rl, _, _ := newTestLimiter(t, Config{IPLimitPerMin: 60, RefreshPerHour: 1, BurstMultiplier: 1})
	ctx := context.Background()

	res, _ := rl.AllowRefresh(ctx, "user_teacher")
	require.True(t, res.Allowed)
	res, _ = rl.AllowRefresh(ctx, "user_teacher")
	require.False(t, res.Allowed)

	_, err := rl.AllowIP(ctx, "10.0.0.1")
	require.NoError(t, err)

	require.NoError(t, rl.InvalidateUser(ctx, "user_teacher"))
	_, exists := rl.fallbackLimiter(refreshKey("user_teacher"))
	assert.False(t, exists)
	_, exists = rl.fallbackLimiter(ipKey("10.0.0.1"))
	assert.True(t, exists, "IP budgets are untouched")

	res, _ = rl.AllowRefresh(ctx, "user_teacher")
	assert.True(t, res.Allowed)

	assert.Error(t, rl.InvalidateUser(ctx, ""))
}

func TestInvalidateIPAndAll(t *testing.T) {
	rl, _, _ := newTestLimiter(t, DefaultConfig())
	ctx := context.Background()

	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		_, err := rl.AllowIP(ctx, ip)
		require.NoError(t, err)
	}
	_, err := rl.AllowRefresh(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, rl.InvalidateIP(ctx, "10.0.0.1"))
	assert.Equal(t, 2, rl.GetStats()["fallback_limiters"])

	require.NoError(t, rl.InvalidateAll(ctx))
	assert.Equal(t, 0, rl.GetStats()["fallback_limiters"])
}

func TestIPRateLimitMiddleware(t *testing.T) {
	rl, _, metrics := newTestLimiter(t, Config{IPLimitPerMin: 1, RefreshPerHour: 1, BurstMultiplier: 1})

	router := gin.New()
	router.Use(rl.IPRateLimitMiddleware())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "192.0.2.10:5000"
		router.ServeHTTP(w, req)
		return w
	}

	w := do()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = do()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body["code"])
	assert.Equal(t, int64(1), metrics.GetStats()["rate_limit_ip_blocks"])
}

func TestCheckRefresh(t *testing.T) {
	rl, _, _ := newTestLimiter(t, Config{IPLimitPerMin: 60, RefreshPerHour: 1, BurstMultiplier: 1})

	router := gin.New()
	router.POST("/refresh", func(c *gin.Context) {
		if !rl.CheckRefresh(c, "user_teacher") {
			return
		}
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/refresh", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Refresh-Limit"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/refresh", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3600", w.Header().Get("Retry-After"))
}

func TestRedisClient_Disabled(t *testing.T) {
	client, err := NewRedisClient(context.Background(), "", "", 0)
	require.NoError(t, err)
	assert.False(t, client.IsEnabled())
	assert.Nil(t, client.GetClient())
	assert.ErrorIs(t, client.HealthCheck(context.Background()), ErrRedisDisabled)
	assert.Equal(t, false, client.GetPoolStats()["enabled"])
	assert.NoError(t, client.Close())
}

package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds application metrics
type Metrics struct {
	RequestCount        int64
	ErrorCount          int64
	CacheHits           int64
	CacheMisses         int64
	AverageResponseTime int64 // in nanoseconds
	StartTime           time.Time

	// Trajectory engine
	Computations      int64
	CoalescedJoins    int64
	ComputeErrors     int64
	DataUnavailable   int64
	NoViableOutcomes  int64
	AbandonedRequests int64

	ResponseTimes      []time.Duration
	ResponseTimesMutex sync.RWMutex

	RequestCountByStatus map[int]int64
	StatusMutex          sync.RWMutex

	CircuitBreakerOpens  int64
	CircuitBreakerCloses int64

	// Record sources (sqlite, postgres, remote)
	DataSourceRequests   map[string]int64
	DataSourceErrorCount map[string]int64
	DataSourceMutex      sync.RWMutex

	RateLimitIPBlocks      int64
	RateLimitUserBlocks    int64
	RateLimitRedisErrors   int64
	RateLimitFallbackCount int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		StartTime:            time.Now(),
		ResponseTimes:        make([]time.Duration, 0, 1000),
		RequestCountByStatus: make(map[int]int64),
		DataSourceRequests:   make(map[string]int64),
		DataSourceErrorCount: make(map[string]int64),
	}
}

// IncrementRequest increments the request count
func (m *Metrics) IncrementRequest() {
	atomic.AddInt64(&m.RequestCount, 1)
}

// IncrementError increments the error count
func (m *Metrics) IncrementError() {
	atomic.AddInt64(&m.ErrorCount, 1)
}

// IncrementCacheHit increments cache hit count
func (m *Metrics) IncrementCacheHit() {
	atomic.AddInt64(&m.CacheHits, 1)
}

// IncrementCacheMiss increments cache miss count
func (m *Metrics) IncrementCacheMiss() {
	atomic.AddInt64(&m.CacheMisses, 1)
}

// IncrementComputation counts a pipeline run (one per coalesced flight)
func (m *Metrics) IncrementComputation() {
	atomic.AddInt64(&m.Computations, 1)
}

// IncrementCoalescedJoin counts a caller that attached to an in-flight computation
func (m *Metrics) IncrementCoalescedJoin() {
	atomic.AddInt64(&m.CoalescedJoins, 1)
}

// IncrementComputeError counts a failed computation
func (m *Metrics) IncrementComputeError() {
	atomic.AddInt64(&m.ComputeErrors, 1)
}

// IncrementDataUnavailable counts students without any records
func (m *Metrics) IncrementDataUnavailable() {
	atomic.AddInt64(&m.DataUnavailable, 1)
}

// IncrementNoViable counts computations where no intervention helped
func (m *Metrics) IncrementNoViable() {
	atomic.AddInt64(&m.NoViableOutcomes, 1)
}

// IncrementAbandoned counts callers that gave up before their result arrived
func (m *Metrics) IncrementAbandoned() {
	atomic.AddInt64(&m.AbandonedRequests, 1)
}

// RecordResponseTime records response time for averaging and percentiles
func (m *Metrics) RecordResponseTime(duration time.Duration) {
	current := atomic.LoadInt64(&m.AverageResponseTime)
	atomic.StoreInt64(&m.AverageResponseTime, (current+duration.Nanoseconds())/2)

	// keep the last 1000 samples
	m.ResponseTimesMutex.Lock()
	m.ResponseTimes = append(m.ResponseTimes, duration)
	if len(m.ResponseTimes) > 1000 {
		m.ResponseTimes = m.ResponseTimes[1:]
	}
	m.ResponseTimesMutex.Unlock()
}

// RecordRequestByStatus records request count by HTTP status code
func (m *Metrics) RecordRequestByStatus(statusCode int) {
	m.StatusMutex.Lock()
	defer m.StatusMutex.Unlock()
	m.RequestCountByStatus[statusCode]++
}

// IncrementCircuitBreakerOpen increments circuit breaker open count
func (m *Metrics) IncrementCircuitBreakerOpen() {
	atomic.AddInt64(&m.CircuitBreakerOpens, 1)
}

// IncrementCircuitBreakerClose increments circuit breaker close count
func (m *Metrics) IncrementCircuitBreakerClose() {
	atomic.AddInt64(&m.CircuitBreakerCloses, 1)
}

// RecordDataSourceRequest records a record source query
func (m *Metrics) RecordDataSourceRequest(source string, success bool) {
	m.DataSourceMutex.Lock()
	defer m.DataSourceMutex.Unlock()

	m.DataSourceRequests[source]++
	if !success {
		m.DataSourceErrorCount[source]++
	}
}

// GetPercentileResponseTime calculates percentile response time
func (m *Metrics) GetPercentileResponseTime(percentile float64) time.Duration {
	m.ResponseTimesMutex.RLock()
	defer m.ResponseTimesMutex.RUnlock()

	if len(m.ResponseTimes) == 0 {
		return 0
	}

	times := make([]time.Duration, len(m.ResponseTimes))
	copy(times, m.ResponseTimes)
	sort.Slice(times, func(i, j int) bool {
		return times[i] < times[j]
	})

	index := int(float64(len(times)-1) * percentile / 100.0)
	if index >= len(times) {
		index = len(times) - 1
	}
	return times[index]
}

// GetStatusCodeDistribution returns request count by status code
func (m *Metrics) GetStatusCodeDistribution() map[int]int64 {
	m.StatusMutex.RLock()
	defer m.StatusMutex.RUnlock()

	distribution := make(map[int]int64, len(m.RequestCountByStatus))
	for code, count := range m.RequestCountByStatus {
		distribution[code] = count
	}
	return distribution
}

// GetDataSourceStats returns per-source request and error counts
func (m *Metrics) GetDataSourceStats() map[string]interface{} {
	m.DataSourceMutex.RLock()
	defer m.DataSourceMutex.RUnlock()

	stats := make(map[string]interface{}, len(m.DataSourceRequests))
	for source, requests := range m.DataSourceRequests {
		errors := m.DataSourceErrorCount[source]
		errorRate := float64(0)
		if requests > 0 {
			errorRate = float64(errors) / float64(requests) * 100
		}

		stats[source] = map[string]interface{}{
			"requests":   requests,
			"errors":     errors,
			"error_rate": errorRate,
		}
	}
	return stats
}

// GetStats returns current metrics statistics
func (m *Metrics) GetStats() map[string]interface{} {
	requests := atomic.LoadInt64(&m.RequestCount)
	errors := atomic.LoadInt64(&m.ErrorCount)
	cacheHits := atomic.LoadInt64(&m.CacheHits)
	cacheMisses := atomic.LoadInt64(&m.CacheMisses)
	avgResponseTime := atomic.LoadInt64(&m.AverageResponseTime)

	errorRate := float64(0)
	if requests > 0 {
		errorRate = float64(errors) / float64(requests) * 100
	}

	cacheHitRate := float64(0)
	if total := cacheHits + cacheMisses; total > 0 {
		cacheHitRate = float64(cacheHits) / float64(total) * 100
	}

	return map[string]interface{}{
		"uptime_seconds":         time.Since(m.StartTime).Seconds(),
		"total_requests":         requests,
		"error_count":            errors,
		"error_rate_percent":     errorRate,
		"cache_hits":             cacheHits,
		"cache_misses":           cacheMisses,
		"cache_hit_rate_percent": cacheHitRate,
		"avg_response_time_ms":   float64(avgResponseTime) / 1000000,
		"start_time":             m.StartTime.Format(time.RFC3339),

		"p50_response_time_ms":     float64(m.GetPercentileResponseTime(50)) / 1000000,
		"p95_response_time_ms":     float64(m.GetPercentileResponseTime(95)) / 1000000,
		"p99_response_time_ms":     float64(m.GetPercentileResponseTime(99)) / 1000000,
		"status_code_distribution": m.GetStatusCodeDistribution(),
		"data_source_stats":        m.GetDataSourceStats(),

		"trajectory_computations":  atomic.LoadInt64(&m.Computations),
		"trajectory_coalesced":     atomic.LoadInt64(&m.CoalescedJoins),
		"trajectory_errors":        atomic.LoadInt64(&m.ComputeErrors),
		"trajectory_no_data":       atomic.LoadInt64(&m.DataUnavailable),
		"trajectory_no_viable":     atomic.LoadInt64(&m.NoViableOutcomes),
		"trajectory_abandoned":     atomic.LoadInt64(&m.AbandonedRequests),
		"circuit_breaker_opens":    atomic.LoadInt64(&m.CircuitBreakerOpens),
		"circuit_breaker_closes":   atomic.LoadInt64(&m.CircuitBreakerCloses),
		"rate_limit_ip_blocks":     atomic.LoadInt64(&m.RateLimitIPBlocks),
		"rate_limit_user_blocks":   atomic.LoadInt64(&m.RateLimitUserBlocks),
		"rate_limit_redis_errors":  atomic.LoadInt64(&m.RateLimitRedisErrors),
		"rate_limit_fallback_used": atomic.LoadInt64(&m.RateLimitFallbackCount),
	}
}

// IncrementRateLimitIPBlock increments IP-based rate limit blocks
func (m *Metrics) IncrementRateLimitIPBlock() {
	atomic.AddInt64(&m.RateLimitIPBlocks, 1)
}

// IncrementRateLimitUserBlock increments user-based rate limit blocks
func (m *Metrics) IncrementRateLimitUserBlock() {
	atomic.AddInt64(&m.RateLimitUserBlocks, 1)
}

// IncrementRateLimitRedisError increments Redis error count for rate limiting
func (m *Metrics) IncrementRateLimitRedisError() {
	atomic.AddInt64(&m.RateLimitRedisErrors, 1)
}

// IncrementRateLimitFallback increments fallback rate limiter usage count
func (m *Metrics) IncrementRateLimitFallback() {
	atomic.AddInt64(&m.RateLimitFallbackCount, 1)
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/analysis"
	apperrors "github.com/ZanzyTHEbar/resonance-trajectory/internal/errors"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/monitoring"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/types"
)

var errDown = apperrors.NewNetworkError("records unreachable", errors.New("connection refused"))

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		SuccessThreshold: 1,
		OnStateChange: func(from, to CircuitBreakerState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }

	fail := func() error { return errDown }
	ok := func() error { return nil }

	assert.Equal(t, errDown, cb.Call(fail, nil))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, errDown, cb.Call(fail, nil))
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Call(ok, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Call(ok, nil))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute, SuccessThreshold: 2})
	now := time.Now()
	cb.now = func() time.Time { return now }

	_ = cb.Call(func() error { return errDown }, nil)
	now = now.Add(time.Hour)
	_ = cb.Call(func() error { return errDown }, nil)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_UncountedErrorsAreNeutral(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	never := func(error) bool { return false }

	err := cb.Call(func() error { return analysis.ErrDataUnavailable }, never)
	assert.ErrorIs(t, err, analysis.ErrDataUnavailable)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestRetryWithConfig(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		err       error
		attempts  int
		wantCalls int32
		wantErr   bool
	}{
		{name: "succeeds first time", failures: 0, err: errDown, attempts: 3, wantCalls: 1},
		{name: "recovers after retries", failures: 2, err: errDown, attempts: 3, wantCalls: 3},
		{name: "gives up", failures: 5, err: errDown, attempts: 3, wantCalls: 3, wantErr: true},
		{name: "non-retryable stops at once", failures: 5, err: errors.New("boom"), attempts: 3, wantCalls: 1, wantErr: true},
		{name: "data unavailable is final", failures: 5, err: analysis.ErrDataUnavailable, attempts: 3, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			err := RetryWithConfig(context.Background(), fastRetry(tt.attempts), func() error {
				if int(calls.Add(1)) <= tt.failures {
					return tt.err
				}
				return nil
			})
			assert.Equal(t, tt.wantCalls, calls.Load())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetryWithConfig_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetry(10)
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour

	done := make(chan error, 1)
	go func() {
		done <- RetryWithConfig(ctx, cfg, func() error { return errDown })
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestRetryHTTP(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := RetryHTTP(context.Background(), fastRetry(3), func() (*http.Response, error) {
		return http.Get(srv.URL)
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), hits.Load())
}

func TestRetryHTTP_NotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	resp, err := RetryHTTP(context.Background(), fastRetry(3), func() (*http.Response, error) {
		return http.Get(srv.URL)
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestHealthTracker_Levels(t *testing.T) {
	h := NewHealthTracker(DefaultDegradationConfig())
	h.Register("sqlite", nil)

	for i := 0; i < 4; i++ {
		h.Record("sqlite", errDown)
	}
	got, ok := h.Health("sqlite")
	require.True(t, ok)
	assert.Equal(t, LevelNormal, got.Level, "too few requests to judge")

	h.Record("sqlite", errDown)
	got, _ = h.Health("sqlite")
	assert.Equal(t, LevelEmergency, got.Level)
	assert.False(t, h.Available("sqlite"))

	for i := 0; i < 15; i++ {
		h.Record("sqlite", nil)
	}
	got, _ = h.Health("sqlite")
	assert.Equal(t, LevelCritical, got.Level)
	assert.Equal(t, "critical", got.Status)
	assert.True(t, h.Available("sqlite"))

	h.Reset("sqlite")
	got, _ = h.Health("sqlite")
	assert.Equal(t, int64(0), got.TotalRequests)

	h.Record("unknown", errDown)
	_, ok = h.Health("unknown")
	assert.False(t, ok)
	assert.Len(t, h.Snapshot(), 1)
}

type flakySource struct {
	failures atomic.Int32
	calls    atomic.Int32
	err      error
}

func (f *flakySource) Attendance(context.Context, string, time.Time, time.Time) ([]types.AttendanceEvent, error) {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return nil, f.err
	}
	return []types.AttendanceEvent{{ID: "a1", Status: types.StatusPresent}}, nil
}

func (f *flakySource) Assessments(context.Context, string, time.Time, time.Time) ([]types.AssessmentEvent, error) {
	return nil, nil
}

func (f *flakySource) Notes(context.Context, string, time.Time, time.Time) ([]types.NoteEvent, error) {
	return nil, analysis.ErrDataUnavailable
}

func TestResilientSource(t *testing.T) {
	metrics := monitoring.NewMetrics()
	health := NewHealthTracker(DefaultDegradationConfig())
	health.Register("remote", nil)

	inner := &flakySource{err: errDown}
	inner.failures.Store(1)
	src := NewResilientSource("remote", inner, SourceConfig{
		Retry:   fastRetry(3),
		Breaker: CircuitBreakerConfig{FailureThreshold: 5},
		Metrics: metrics,
		Health:  health,
	})

	events, err := src.Attendance(context.Background(), "s1", time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, int32(2), inner.calls.Load())

	_, err = src.Notes(context.Background(), "s1", time.Time{}, time.Now())
	assert.ErrorIs(t, err, analysis.ErrDataUnavailable)

	stats := metrics.GetDataSourceStats()["remote"].(map[string]interface{})
	assert.Equal(t, int64(1), stats["requests"])
	assert.Equal(t, int64(0), stats["errors"])

	got, _ := health.Health("remote")
	assert.Equal(t, int64(1), got.TotalRequests)
}

func TestResilientSource_OpensBreaker(t *testing.T) {
	metrics := monitoring.NewMetrics()
	inner := &flakySource{err: errDown}
	inner.failures.Store(100)
	src := NewResilientSource("remote", inner, SourceConfig{
		Retry:   fastRetry(1),
		Breaker: CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour},
		Metrics: metrics,
	})

	for i := 0; i < 2; i++ {
		_, err := src.Attendance(context.Background(), "s1", time.Time{}, time.Now())
		require.Error(t, err)
	}
	assert.Equal(t, StateOpen, src.Breaker().State())
	assert.Equal(t, int64(1), metrics.GetStats()["circuit_breaker_opens"])

	_, err := src.Attendance(context.Background(), "s1", time.Time{}, time.Now())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), inner.calls.Load(), "open breaker must not reach the source")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewHTTPError(http.StatusBadGateway, "502 Bad Gateway")))
	assert.False(t, IsRetryable(NewHTTPError(http.StatusNotFound, "404 Not Found")))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", errDown)))
	assert.False(t, IsRetryable(NewCircuitBreakerError("open", StateOpen)))
}

package resilience

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/analysis"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/monitoring"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/types"
)

// SourceConfig configures a ResilientSource. Nil Metrics and Health are allowed.
type SourceConfig struct {
	Breaker CircuitBreakerConfig
	Retry   RetryConfig
	Metrics *monitoring.Metrics
	Health  *HealthTracker
	Logger  *monitoring.Logger
}

// ResilientSource wraps a record source with retries and a circuit breaker,
// and reports every call to metrics and the health tracker.
type ResilientSource struct {
	name    string
	source  analysis.RecordSource
	breaker *CircuitBreaker
	retry   RetryConfig
	metrics *monitoring.Metrics
	health  *HealthTracker
	logger  *monitoring.Logger
}

// NewResilientSource wraps source under name
func NewResilientSource(name string, source analysis.RecordSource, cfg SourceConfig) *ResilientSource {
	s := &ResilientSource{
		name:    name,
		source:  source,
		retry:   cfg.Retry,
		metrics: cfg.Metrics,
		health:  cfg.Health,
		logger:  cfg.Logger,
	}
	if s.retry.MaxAttempts == 0 {
		s.retry = DefaultRetryConfig()
	}
	if s.logger == nil {
		s.logger = monitoring.NopLogger()
	}

	breakerCfg := cfg.Breaker
	userHook := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(from, to CircuitBreakerState) {
		s.onStateChange(from, to)
		if userHook != nil {
			userHook(from, to)
		}
	}
	s.breaker = NewCircuitBreaker(breakerCfg)
	return s
}

// Breaker exposes the circuit breaker for health reporting
func (s *ResilientSource) Breaker() *CircuitBreaker {
	return s.breaker
}

// Attendance implements analysis.RecordSource
func (s *ResilientSource) Attendance(ctx context.Context, studentID string, from, to time.Time) ([]types.AttendanceEvent, error) {
	return call(ctx, s, "attendance", func() ([]types.AttendanceEvent, error) {
		return s.source.Attendance(ctx, studentID, from, to)
	})
}

// Assessments implements analysis.RecordSource
func (s *ResilientSource) Assessments(ctx context.Context, studentID string, from, to time.Time) ([]types.AssessmentEvent, error) {
	return call(ctx, s, "assessments", func() ([]types.AssessmentEvent, error) {
		return s.source.Assessments(ctx, studentID, from, to)
	})
}

// Notes implements analysis.RecordSource
func (s *ResilientSource) Notes(ctx context.Context, studentID string, from, to time.Time) ([]types.NoteEvent, error) {
	return call(ctx, s, "notes", func() ([]types.NoteEvent, error) {
		return s.source.Notes(ctx, studentID, from, to)
	})
}

func call[T any](ctx context.Context, s *ResilientSource, op string, fn func() (T, error)) (T, error) {
	var out T
	err := RetryWithConfig(ctx, s.retry, func() error {
		return s.breaker.Call(func() error {
			var err error
			out, err = fn()
			return err
		}, countsAsFailure)
	})

	if err != nil && !countsAsFailure(err) {
		return out, err
	}
	if s.metrics != nil {
		s.metrics.RecordDataSourceRequest(s.name, err == nil)
	}
	if s.health != nil {
		s.health.Record(s.name, err)
	}
	if err != nil {
		s.logger.Warn("Record source call failed", "source", s.name, "operation", op, "error", err)
	}
	return out, err
}

// countsAsFailure excludes outcomes that say nothing about the source's health
func countsAsFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case stderrors.Is(err, context.Canceled):
		return false
	case stderrors.Is(err, analysis.ErrDataUnavailable):
		return false
	case stderrors.Is(err, ErrCircuitOpen):
		return false
	}
	return true
}

func (s *ResilientSource) onStateChange(from, to CircuitBreakerState) {
	s.logger.Warn("Record source circuit breaker state changed", "source", s.name, "from", from.String(), "to", to.String())
	if s.metrics == nil {
		return
	}
	switch to {
	case StateOpen:
		s.metrics.IncrementCircuitBreakerOpen()
	case StateClosed:
		s.metrics.IncrementCircuitBreakerClose()
	}
}

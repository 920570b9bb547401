package trajectory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/analysis"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/cache"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/intervention"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/monitoring"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/optimizer"
)

// SignalAggregator produces the signals for one student as of a point in time
type SignalAggregator interface {
	Aggregate(ctx context.Context, studentID string, asOf time.Time, lookback time.Duration) (analysis.StudentSignals, error)
}

// Service composes aggregation, estimation, scoring and optimization, and
// coalesces concurrent requests for the same student.
type Service struct {
	aggregator SignalAggregator
	estimator  *analysis.Estimator
	scorer     *analysis.Scorer
	optimizer  *optimizer.Optimizer
	catalog    *intervention.Catalog

	store    cache.Store
	flights  *coalescer
	clock    func() time.Time
	lookback time.Duration
	defaults optimizer.Constraints

	logger  *monitoring.Logger
	metrics *monitoring.Metrics
	tracer  *monitoring.Tracer
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the wall clock; asOf is the clock truncated to the day
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithCache puts a TTL result cache in front of the coalescer
func WithCache(store cache.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithLookback sets the aggregation window
func WithLookback(d time.Duration) Option {
	return func(s *Service) { s.lookback = d }
}

// WithDefaultConstraints sets the budget and target used when a request names none
func WithDefaultConstraints(c optimizer.Constraints) Option {
	return func(s *Service) { s.defaults = c }
}

// WithComputeTimeout bounds a single detached computation. The default is no bound.
func WithComputeTimeout(d time.Duration) Option {
	return func(s *Service) { s.flights.timeout = d }
}

// WithLogger sets the logger
func WithLogger(l *monitoring.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer sets the stage tracer
func WithTracer(t *monitoring.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// New builds a service. The calibration is validated here, so a bad
// configuration fails at startup with analysis.ErrConfiguration.
func New(agg SignalAggregator, cal analysis.Calibration, catalog *intervention.Catalog, opts ...Option) (*Service, error) {
	if agg == nil {
		return nil, fmt.Errorf("%w: aggregator is required", analysis.ErrConfiguration)
	}
	if catalog == nil {
		return nil, fmt.Errorf("%w: catalog is required", analysis.ErrConfiguration)
	}
	estimator, err := analysis.NewEstimator(cal)
	if err != nil {
		return nil, err
	}
	scorer, err := analysis.NewScorer(cal)
	if err != nil {
		return nil, err
	}

	s := &Service{
		aggregator: agg,
		estimator:  estimator,
		scorer:     scorer,
		optimizer:  optimizer.New(cal.Bands),
		catalog:    catalog,
		flights:    newCoalescer(0),
		clock:      time.Now,
		lookback:   analysis.DefaultAggregatorConfig().Lookback,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = monitoring.NopLogger()
	}
	if s.metrics == nil {
		s.metrics = monitoring.NewMetrics()
	}
	if s.tracer == nil {
		s.tracer = monitoring.NewTracer("trajectory", s.logger)
	}
	return s, nil
}

// Compute returns the trajectory for studentID using the default constraints
func (s *Service) Compute(ctx context.Context, studentID string) (*Result, error) {
	return s.ComputeWith(ctx, studentID, optimizer.Constraints{})
}

// Refresh drops any cached result for studentID and recomputes. Concurrent
// refreshes still share one computation.
func (s *Service) Refresh(ctx context.Context, studentID string) (*Result, error) {
	return s.RefreshWith(ctx, studentID, optimizer.Constraints{})
}

// ComputeWith returns the trajectory for studentID. Nil fields in c fall back
// to the service defaults.
func (s *Service) ComputeWith(ctx context.Context, studentID string, c optimizer.Constraints) (*Result, error) {
	return s.compute(ctx, studentID, c, false)
}

// RefreshWith is Refresh with explicit constraints
func (s *Service) RefreshWith(ctx context.Context, studentID string, c optimizer.Constraints) (*Result, error) {
	return s.compute(ctx, studentID, c, true)
}

func (s *Service) compute(ctx context.Context, studentID string, c optimizer.Constraints, refresh bool) (*Result, error) {
	if studentID == "" {
		return nil, fmt.Errorf("student id is required")
	}
	c = s.withDefaults(c)
	asOf := s.clock().Truncate(24 * time.Hour)
	key := cacheKey(studentID, asOf, c)

	if s.store != nil {
		if refresh {
			if err := s.store.Delete(ctx, key); err != nil {
				s.logger.Warn("Failed to invalidate cached trajectory", "student_id", studentID, "error", err)
			}
		} else if res, ok := s.cached(ctx, key); ok {
			return res, nil
		}
	}

	assess := func(fctx context.Context) (*snapshot, error) {
		return s.assess(fctx, studentID, asOf)
	}
	res, joined, err := s.flights.do(ctx, studentKey(studentID, asOf), key, c, assess, s.plan)
	if joined {
		s.metrics.IncrementCoalescedJoin()
	}
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		s.metrics.IncrementAbandoned()
	}
	return res, err
}

func (s *Service) withDefaults(c optimizer.Constraints) optimizer.Constraints {
	if c.Budget == nil {
		c.Budget = s.defaults.Budget
	}
	if c.TargetDrop == nil {
		c.TargetDrop = s.defaults.TargetDrop
	}
	return c
}

// assess is the leader's aggregate, estimate and score stage. Exactly one
// assess happens per flight.
func (s *Service) assess(ctx context.Context, studentID string, asOf time.Time) (*snapshot, error) {
	s.metrics.IncrementComputation()

	span, ctx := s.tracer.StartSpan(ctx, "trajectory.compute", "student_id", studentID)

	var signals analysis.StudentSignals
	err := s.tracer.Trace(ctx, "trajectory.aggregate", func(ctx context.Context) error {
		var err error
		signals, err = s.aggregator.Aggregate(ctx, studentID, asOf, s.lookback)
		return err
	})
	if err != nil {
		s.tracer.EndSpan(span, err)
		if errors.Is(err, analysis.ErrDataUnavailable) {
			s.metrics.IncrementDataUnavailable()
		} else {
			s.metrics.IncrementComputeError()
			s.logger.Error("Trajectory aggregation failed", "student_id", studentID, "error", err)
		}
		return nil, err
	}

	state := s.estimator.Estimate(signals)
	assessment := s.scorer.Score(state)
	s.tracer.EndSpan(span, nil)

	return &snapshot{
		studentID: studentID,
		asOf:      asOf,
		result: Result{
			StudentID:  studentID,
			Assessment: assessment,
			AsOf:       asOf,
			ComputedAt: s.clock(),
		},
	}, nil
}

// plan optimizes one constraint set against a shared snapshot and caches it
func (s *Service) plan(ctx context.Context, snap *snapshot, key string, c optimizer.Constraints) (*Result, error) {
	start := time.Now()
	res := snap.result
	res.Recommendations = []optimizer.Recommendation{}

	assessment := res.Assessment
	plan, err := s.optimizer.Optimize(assessment.State, assessment.Risk, s.catalog, c)
	switch {
	case errors.Is(err, optimizer.ErrNoViableIntervention):
		s.metrics.IncrementNoViable()
		res.NoViable = true
		res.TargetDrop = plan.TargetDrop
	case err != nil:
		s.metrics.IncrementComputeError()
		return nil, fmt.Errorf("failed to optimize interventions: %w", err)
	default:
		res.Recommendations = plan.Recommendations
		res.TargetDrop = plan.TargetDrop
		res.TargetMet = plan.TargetMet
	}

	s.remember(ctx, key, &res)
	s.logger.TrajectoryLogger(snap.studentID, assessment.Risk, string(assessment.Band), len(res.Recommendations), res.TargetMet, time.Since(start))
	return &res, nil
}

func (s *Service) cached(ctx context.Context, key string) (*Result, bool) {
	data, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Trajectory cache read failed", "error", err)
		s.metrics.IncrementCacheMiss()
		return nil, false
	}
	if !ok {
		s.logger.CacheLogger("get", key, false)
		s.metrics.IncrementCacheMiss()
		return nil, false
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		s.logger.Warn("Discarding undecodable cached trajectory", "error", err)
		s.metrics.IncrementCacheMiss()
		return nil, false
	}
	s.logger.CacheLogger("get", key, true)
	s.metrics.IncrementCacheHit()
	return &res, true
}

// remember writes res to the cache, logging rather than failing on errors
func (s *Service) remember(ctx context.Context, key string, res *Result) {
	if s.store == nil {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		s.logger.Warn("Failed to encode trajectory for cache", "error", err)
		return
	}
	if err := s.store.Set(ctx, key, data); err != nil {
		s.logger.Warn("Trajectory cache write failed", "error", err)
		return
	}
	s.logger.CacheLogger("set", key, false)
}

// studentKey identifies a flight: one computation per student and day
func studentKey(studentID string, asOf time.Time) string {
	return studentID + "|" + asOf.Format(time.DateOnly)
}

// cacheKey identifies a result: the student's day plus the constraints
func cacheKey(studentID string, asOf time.Time, c optimizer.Constraints) string {
	key := studentKey(studentID, asOf)
	if c.Budget != nil {
		key += "|b=" + strconv.FormatFloat(*c.Budget, 'g', -1, 64)
	}
	if c.TargetDrop != nil {
		key += "|t=" + strconv.FormatFloat(*c.TargetDrop, 'g', -1, 64)
	}
	return key
}

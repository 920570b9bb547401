package resilience

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DegradationLevel represents how unhealthy a record source currently is
type DegradationLevel int

const (
	LevelNormal DegradationLevel = iota
	LevelDegraded
	LevelCritical
	LevelEmergency
)

func (l DegradationLevel) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelDegraded:
		return "degraded"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	}
	return "unknown"
}

// DegradationConfig holds the error rate thresholds (0.0-1.0) for each level
type DegradationConfig struct {
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	HealthCheckTimeout  time.Duration `json:"health_check_timeout"`
	DegradedThreshold   float64       `json:"degraded_threshold"`
	CriticalThreshold   float64       `json:"critical_threshold"`
	EmergencyThreshold  float64       `json:"emergency_threshold"`
	MinRequests         int64         `json:"min_requests"` // below this the level stays normal
}

// DefaultDegradationConfig returns sensible defaults
func DefaultDegradationConfig() DegradationConfig {
	return DegradationConfig{
		HealthCheckInterval: 30 * time.Second,
		HealthCheckTimeout:  5 * time.Second,
		DegradedThreshold:   0.1,
		CriticalThreshold:   0.25,
		EmergencyThreshold:  0.5,
		MinRequests:         5,
	}
}

// SourceHealth is a snapshot of one record source
type SourceHealth struct {
	Source        string           `json:"source"`
	Level         DegradationLevel `json:"-"`
	Status        string           `json:"status"`
	ErrorRate     float64          `json:"error_rate"`
	TotalRequests int64            `json:"total_requests"`
	ErrorCount    int64            `json:"error_count"`
	LastError     string           `json:"last_error,omitempty"`
	LastErrorTime *time.Time       `json:"last_error_time,omitempty"`
}

// HealthCheckFunc checks a source
type HealthCheckFunc func(ctx context.Context) error

// HealthTracker tracks error rates for the record sources behind the engine
type HealthTracker struct {
	config  DegradationConfig
	sources map[string]*SourceHealth
	checks  map[string]HealthCheckFunc
	mutex   sync.RWMutex
}

// NewHealthTracker creates a tracker
func NewHealthTracker(config DegradationConfig) *HealthTracker {
	return &HealthTracker{
		config:  config,
		sources: make(map[string]*SourceHealth),
		checks:  make(map[string]HealthCheckFunc),
	}
}

// Register adds a source with an optional periodic health check
func (h *HealthTracker) Register(name string, check HealthCheckFunc) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.sources[name] = &SourceHealth{Source: name, Level: LevelNormal, Status: LevelNormal.String()}
	if check != nil {
		h.checks[name] = check
	}
	slog.Info("Registered record source for health tracking", "source", name)
}

// Record counts one request; err == nil is a success. Unknown sources are ignored.
func (h *HealthTracker) Record(name string, err error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	s, ok := h.sources[name]
	if !ok {
		return
	}
	s.TotalRequests++
	if err != nil {
		now := time.Now()
		s.ErrorCount++
		s.LastError = err.Error()
		s.LastErrorTime = &now
	}
	s.ErrorRate = float64(s.ErrorCount) / float64(s.TotalRequests)
	h.updateLevel(s)
}

func (h *HealthTracker) updateLevel(s *SourceHealth) {
	old := s.Level
	switch {
	case s.TotalRequests < h.config.MinRequests:
		s.Level = LevelNormal
	case s.ErrorRate >= h.config.EmergencyThreshold:
		s.Level = LevelEmergency
	case s.ErrorRate >= h.config.CriticalThreshold:
		s.Level = LevelCritical
	case s.ErrorRate >= h.config.DegradedThreshold:
		s.Level = LevelDegraded
	default:
		s.Level = LevelNormal
	}
	s.Status = s.Level.String()

	if old != s.Level {
		slog.Warn("Record source degradation level changed",
			"source", s.Source,
			"old_level", old.String(),
			"new_level", s.Level.String(),
			"error_rate", s.ErrorRate,
			"total_requests", s.TotalRequests)
	}
}

// Health returns a copy of the state of one source
func (h *HealthTracker) Health(name string) (SourceHealth, bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	s, ok := h.sources[name]
	if !ok {
		return SourceHealth{}, false
	}
	return *s, true
}

// Snapshot returns every source, sorted by name
func (h *HealthTracker) Snapshot() []SourceHealth {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	out := make([]SourceHealth, 0, len(h.sources))
	for _, s := range h.sources {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Available reports whether a source is usable; only emergency makes it unavailable
func (h *HealthTracker) Available(name string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	s, ok := h.sources[name]
	return ok && s.Level != LevelEmergency
}

// Reset clears a source's counters
func (h *HealthTracker) Reset(name string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.sources[name]; ok {
		h.sources[name] = &SourceHealth{Source: name, Level: LevelNormal, Status: LevelNormal.String()}
	}
}

// StartHealthChecks runs the registered checks every interval until ctx is done
func (h *HealthTracker) StartHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(h.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.runChecks(ctx)
		}
	}
}

func (h *HealthTracker) runChecks(ctx context.Context) {
	h.mutex.RLock()
	checks := make(map[string]HealthCheckFunc, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mutex.RUnlock()

	var wg sync.WaitGroup
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check HealthCheckFunc) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, h.config.HealthCheckTimeout)
			defer cancel()
			h.Record(name, check(checkCtx))
		}(name, check)
	}
	wg.Wait()
}

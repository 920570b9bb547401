package analysis

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/types"
)

// RecordSource is the read-only query interface over a student's records.
// Implementations must be safe for concurrent use.
type RecordSource interface {
	Attendance(ctx context.Context, studentID string, from, to time.Time) ([]types.AttendanceEvent, error)
	Assessments(ctx context.Context, studentID string, from, to time.Time) ([]types.AssessmentEvent, error)
	Notes(ctx context.Context, studentID string, from, to time.Time) ([]types.NoteEvent, error)
}

// AggregatorConfig holds the time constants used when reducing records
type AggregatorConfig struct {
	Lookback       time.Duration
	ScoreTau       time.Duration
	ShortScoreTau  time.Duration
	MissingWorkTau time.Duration
	LoadWindow     time.Duration
}

// DefaultAggregatorConfig returns the stock time constants
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Lookback:       90 * 24 * time.Hour,
		ScoreTau:       30 * 24 * time.Hour,
		ShortScoreTau:  10 * 24 * time.Hour,
		MissingWorkTau: 14 * 24 * time.Hour,
		LoadWindow:     14 * 24 * time.Hour,
	}
}

// Aggregator reduces raw records into StudentSignals
type Aggregator struct {
	source RecordSource
	cfg    AggregatorConfig
	ranges map[SignalName]Range
}

// NewAggregator creates an aggregator over source using the calibration's signal ranges
func NewAggregator(source RecordSource, cal Calibration, cfg AggregatorConfig) *Aggregator {
	def := DefaultAggregatorConfig()
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.ScoreTau <= 0 {
		cfg.ScoreTau = def.ScoreTau
	}
	if cfg.ShortScoreTau <= 0 {
		cfg.ShortScoreTau = def.ShortScoreTau
	}
	if cfg.MissingWorkTau <= 0 {
		cfg.MissingWorkTau = def.MissingWorkTau
	}
	if cfg.LoadWindow <= 0 {
		cfg.LoadWindow = def.LoadWindow
	}
	return &Aggregator{source: source, cfg: cfg, ranges: cal.Ranges}
}

// Lookback returns the default window length
func (a *Aggregator) Lookback() time.Duration {
	return a.cfg.Lookback
}

// Aggregate fetches records for [asOf-lookback, asOf] and reduces them to signals.
// A non-positive lookback uses the configured default.
func (a *Aggregator) Aggregate(ctx context.Context, studentID string, asOf time.Time, lookback time.Duration) (StudentSignals, error) {
	if lookback <= 0 {
		lookback = a.cfg.Lookback
	}
	window := Window{From: asOf.Add(-lookback), To: asOf}

	var (
		attendance  []types.AttendanceEvent
		assessments []types.AssessmentEvent
		notes       []types.NoteEvent
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		attendance, err = a.source.Attendance(gctx, studentID, window.From, window.To)
		if err != nil {
			return fmt.Errorf("failed to fetch attendance: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		assessments, err = a.source.Assessments(gctx, studentID, window.From, window.To)
		if err != nil {
			return fmt.Errorf("failed to fetch assessments: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		notes, err = a.source.Notes(gctx, studentID, window.From, window.To)
		if err != nil {
			return fmt.Errorf("failed to fetch notes: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return StudentSignals{}, err
	}

	pre := NewPreprocessor(window)
	attendance = pre.ProcessAttendance(attendance)
	assessments = pre.ProcessAssessments(assessments)
	notes = pre.ProcessNotes(notes)

	if len(attendance)+len(assessments)+len(notes) == 0 {
		return StudentSignals{}, fmt.Errorf("%w: student %s has no records between %s and %s",
			ErrDataUnavailable, studentID, window.From.Format(time.DateOnly), window.To.Format(time.DateOnly))
	}

	signals := make(map[SignalName]Signal, len(SignalNames))
	a.reduceAttendance(signals, attendance, window)
	a.reduceAssessments(signals, assessments, asOf)
	a.reduceNotes(signals, notes, len(assessments), asOf)

	return NewStudentSignals(studentID, asOf, signals), nil
}

func (a *Aggregator) put(signals map[SignalName]Signal, name SignalName, value float64, samples int) {
	r := a.ranges[name]
	if samples <= 0 || !finite(value) {
		signals[name] = Signal{Range: r}
		return
	}
	if r.Max > r.Min {
		value = r.Clip(value)
	}
	signals[name] = Signal{Value: value, Range: r, Samples: samples}
}

// attendanceRate counts LATE as half present; EXCUSED marks are not counted
func attendanceRate(events []types.AttendanceEvent) (float64, int) {
	var present, late, counted float64
	for _, e := range events {
		switch e.Status {
		case types.StatusPresent:
			present++
		case types.StatusLate:
			late++
		case types.StatusAbsent:
		default:
			continue
		}
		counted++
	}
	if counted == 0 {
		return 0, 0
	}
	return (present + 0.5*late) / counted, int(counted)
}

func (a *Aggregator) reduceAttendance(signals map[SignalName]Signal, events []types.AttendanceEvent, window Window) {
	rate, n := attendanceRate(events)
	a.put(signals, SignalAttendanceRate, rate, n)

	mid := window.To.Add(-window.To.Sub(window.From) / 2)
	var older, recent []types.AttendanceEvent
	for _, e := range events {
		if e.Date.Before(mid) {
			older = append(older, e)
		} else {
			recent = append(recent, e)
		}
	}
	olderRate, nOlder := attendanceRate(older)
	recentRate, nRecent := attendanceRate(recent)
	a.put(signals, SignalAttendanceTrend, recentRate-olderRate, min(nOlder, nRecent))
}

func (a *Aggregator) reduceAssessments(signals map[SignalName]Signal, events []types.AssessmentEvent, asOf time.Time) {
	values := make([]float64, len(events))
	ages := make([]float64, len(events))
	recent := 0
	for i, e := range events {
		values[i] = pct(e)
		ages[i] = ageDays(asOf, e.Date)
		if asOf.Sub(e.Date) <= a.cfg.LoadWindow {
			recent++
		}
	}
	n := len(events)

	longMean, ok := decayedMean(values, ages, days(a.cfg.ScoreTau))
	if !ok {
		n = 0
	}
	a.put(signals, SignalAvgAssessment, longMean, n)

	trendSamples := 0
	trend := 0.0
	if n >= 2 {
		shortMean, _ := decayedMean(values, ages, days(a.cfg.ShortScoreTau))
		trend = shortMean - longMean
		trendSamples = n - 1
	}
	a.put(signals, SignalAssessmentTrend, trend, trendSamples)

	volSamples := 0
	vol := 0.0
	if n >= 3 {
		vol = RobustDispersion(values)
		volSamples = n
	}
	a.put(signals, SignalAssessmentVolatility, vol, volSamples)

	a.put(signals, SignalAssessmentLoad, float64(recent), n)
}

func (a *Aggregator) reduceNotes(signals map[SignalName]Signal, events []types.NoteEvent, assessments int, asOf time.Time) {
	var (
		plain         int
		missing       float64
		positive      int
		concern       int
		interventions int
		lastDelivered time.Time
	)
	for _, e := range events {
		if e.Kind == types.NoteKindIntervention {
			if delivered(e) {
				interventions++
				if e.Date.After(lastDelivered) {
					lastDelivered = e.Date
				}
			}
			continue
		}
		plain++
		for _, tag := range e.Tags {
			switch tag {
			case types.TagMissingWork:
				missing += DecayWeight(ageDays(asOf, e.Date), days(a.cfg.MissingWorkTau))
			case types.TagPraise, types.TagImprovement:
				positive++
			case types.TagConcern, types.TagBehavior:
				concern++
			}
		}
	}

	a.put(signals, SignalMissingWork, missing, plain+assessments)

	ratio := 0.0
	if positive+concern > 0 {
		ratio = float64(positive) / float64(positive+concern)
	}
	a.put(signals, SignalPositiveNoteRatio, ratio, positive+concern)

	if interventions > 0 {
		a.put(signals, SignalInterventionRecency, math.Max(0, ageDays(asOf, lastDelivered)), interventions)
	} else {
		a.put(signals, SignalInterventionRecency, 0, 0)
	}
	a.put(signals, SignalInterventionCount, float64(interventions), len(events))
}

// delivered reports whether an intervention record describes support that actually happened
func delivered(e types.NoteEvent) bool {
	switch e.Status {
	case "PLANNED", "CANCELLED", "CANCELED":
		return false
	}
	return true
}

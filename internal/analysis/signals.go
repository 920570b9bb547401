package analysis

import (
	"math"
	"sort"
	"time"
)

// SignalName identifies a bounded summary statistic over a student's records
type SignalName string

const (
	SignalAttendanceRate       SignalName = "attendance_rate"
	SignalAttendanceTrend      SignalName = "attendance_trend"
	SignalAvgAssessment        SignalName = "avg_assessment_pct"
	SignalAssessmentTrend      SignalName = "assessment_trend"
	SignalAssessmentVolatility SignalName = "assessment_volatility"
	SignalAssessmentLoad       SignalName = "assessment_load"
	SignalMissingWork          SignalName = "missing_work_count"
	SignalPositiveNoteRatio    SignalName = "positive_note_ratio"
	SignalInterventionRecency  SignalName = "intervention_recency_days"
	SignalInterventionCount    SignalName = "intervention_count"
)

// SignalNames lists every signal the aggregator produces
var SignalNames = []SignalName{
	SignalAttendanceRate,
	SignalAttendanceTrend,
	SignalAvgAssessment,
	SignalAssessmentTrend,
	SignalAssessmentVolatility,
	SignalAssessmentLoad,
	SignalMissingWork,
	SignalPositiveNoteRatio,
	SignalInterventionRecency,
	SignalInterventionCount,
}

// Range is the valid interval of a signal value
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Clip bounds x to the range
func (r Range) Clip(x float64) float64 {
	return clip(x, r.Min, r.Max)
}

// Signal is one observed statistic together with its sample size
type Signal struct {
	Value   float64 `json:"value"`
	Range   Range   `json:"range"`
	Samples int     `json:"samples"`
}

// Missing reports whether the signal carries no usable evidence
func (s Signal) Missing() bool {
	return s.Samples <= 0 || math.IsNaN(s.Value) || math.IsInf(s.Value, 0)
}

// Normalized maps the value onto [0,1] using its range
func (s Signal) Normalized() float64 {
	if s.Missing() || s.Range.Max <= s.Range.Min {
		return 0.5
	}
	return clip((s.Value-s.Range.Min)/(s.Range.Max-s.Range.Min), 0, 1)
}

// StudentSignals is the aggregator output for one student at one point in time.
// It is never mutated after construction.
type StudentSignals struct {
	StudentID string
	AsOf      time.Time
	signals   map[SignalName]Signal
}

// NewStudentSignals copies the given signals into an immutable set
func NewStudentSignals(studentID string, asOf time.Time, signals map[SignalName]Signal) StudentSignals {
	cp := make(map[SignalName]Signal, len(signals))
	for name, sig := range signals {
		cp[name] = sig
	}
	return StudentSignals{StudentID: studentID, AsOf: asOf, signals: cp}
}

// Get returns a signal by name
func (s StudentSignals) Get(name SignalName) (Signal, bool) {
	sig, ok := s.signals[name]
	return sig, ok
}

// Len returns the number of signals present, missing or not
func (s StudentSignals) Len() int {
	return len(s.signals)
}

// Names returns the signal names in sorted order
func (s StudentSignals) Names() []SignalName {
	names := make([]SignalName, 0, len(s.signals))
	for name := range s.signals {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

package analysis

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimate_AllMissing(t *testing.T) {
	est := mustEstimator()

	tests := []struct {
		name    string
		signals StudentSignals
	}{
		{name: "no signals at all", signals: NewStudentSignals("s", testAsOf, nil)},
		{
			name: "every signal has zero samples",
			signals: func() StudentSignals {
				sigs := map[SignalName]Signal{}
				for _, name := range SignalNames {
					sigs[name] = Signal{Value: 0.9, Range: Range{Min: 0, Max: 1}}
				}
				return NewStudentSignals("s", testAsOf, sigs)
			}(),
		},
		{
			name: "non-finite values are treated as missing",
			signals: fullSignals(map[SignalName]float64{
				SignalAttendanceRate: math.NaN(),
				SignalAvgAssessment:  math.Inf(1),
				SignalMissingWork:    math.Inf(-1),
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, NeutralState, est.Estimate(tt.signals))
		})
	}
}

func TestEstimate_ClampingInvariant(t *testing.T) {
	est := mustEstimator()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		sigs := map[SignalName]Signal{}
		for _, name := range SignalNames {
			sigs[name] = Signal{
				Value:   rng.Float64()*40 - 20,
				Range:   Range{Min: rng.Float64() - 1, Max: rng.Float64() + 1},
				Samples: rng.Intn(30),
			}
		}
		v := est.Estimate(NewStudentSignals("s", testAsOf, sigs))
		for _, d := range Dimensions {
			x := v.Get(d)
			require.GreaterOrEqual(t, x, 0.0, "dimension %s", d)
			require.LessOrEqual(t, x, 1.0, "dimension %s", d)
		}
	}
}

func TestEstimate_HealthyStudent(t *testing.T) {
	v := mustEstimator().Estimate(fullSignals(map[SignalName]float64{
		SignalAttendanceRate: 0.95,
		SignalAvgAssessment:  0.88,
		SignalMissingWork:    0,
	}))

	assert.InDelta(t, 0.8725, v.E, 1e-9)
	assert.InDelta(t, 0.804, v.M, 1e-9)
	assert.InDelta(t, 0.5, v.S, 1e-9)
	assert.InDelta(t, 0.5, v.P, 1e-9)
	assert.InDelta(t, 0.25, v.L, 1e-9)
	assert.Equal(t, 0.0, v.W)
}

func TestEstimate_CompoundDeterioration(t *testing.T) {
	v := mustEstimator().Estimate(fullSignals(map[SignalName]float64{
		SignalAttendanceRate: 0.40,
		SignalAvgAssessment:  0.35,
		SignalMissingWork:    5,
	}))

	assert.InDelta(t, 0.32, v.E, 1e-9)
	assert.InDelta(t, 0.38, v.M, 1e-9)
	assert.InDelta(t, 0.75, v.L, 1e-9)
	// Patterns {E,M} and {E,L} fire: 1 - (1-0.48)(1-0.72)
	assert.InDelta(t, 0.8544, v.W, 1e-9)
}

func TestEstimate_ConfidenceShrinksTowardNeutral(t *testing.T) {
	est := mustEstimator()
	cal := DefaultCalibration()

	build := func(samples int) StudentSignals {
		return NewStudentSignals("s", testAsOf, map[SignalName]Signal{
			SignalAttendanceRate: {Value: 1, Range: cal.Ranges[SignalAttendanceRate], Samples: samples},
		})
	}

	low := est.Estimate(build(2))
	high := est.Estimate(build(10))

	assert.Greater(t, low.E, 0.5)
	assert.Greater(t, high.E, low.E)
	assert.InDelta(t, 0.5+0.55*0.5, high.E, 1e-9)
	assert.InDelta(t, 0.5+0.55*0.2*0.5, low.E, 1e-9)
}

func TestEstimate_WarningRequiresCompoundPressure(t *testing.T) {
	// Only mastery is poor: no pattern has every member adverse
	v := mustEstimator().Estimate(fullSignals(map[SignalName]float64{
		SignalAttendanceRate: 1,
		SignalAvgAssessment:  0,
		SignalMissingWork:    0,
	}))
	assert.Less(t, v.M, 0.5)
	assert.Equal(t, 0.0, v.W)
}

func TestEstimate_Pure(t *testing.T) {
	est := mustEstimator()
	signals := fullSignals(map[SignalName]float64{
		SignalAttendanceRate:       0.7,
		SignalAssessmentVolatility: 0.2,
		SignalInterventionRecency:  12,
	})
	first := est.Estimate(signals)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, est.Estimate(signals))
	}
}

func TestNewEstimator_RejectsInvalidCalibration(t *testing.T) {
	cal := DefaultCalibration()
	cal.Mastery = nil
	_, err := NewEstimator(cal)
	assert.ErrorIs(t, err, ErrConfiguration)
}

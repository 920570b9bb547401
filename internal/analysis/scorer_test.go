package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_NeutralState(t *testing.T) {
	a := mustScorer().Score(NeutralState)
	assert.Equal(t, 50, a.Risk)
	assert.Equal(t, BandAtRisk, a.Band)
	assert.Equal(t, NeutralState, a.State)
}

func TestScore_Scenarios(t *testing.T) {
	est, sc := mustEstimator(), mustScorer()

	tests := []struct {
		name     string
		signals  map[SignalName]float64
		wantRisk int
		wantBand Band
	}{
		{
			name: "healthy student",
			signals: map[SignalName]float64{
				SignalAttendanceRate: 0.95,
				SignalAvgAssessment:  0.88,
				SignalMissingWork:    0,
			},
			wantRisk: 26,
			wantBand: BandStable,
		},
		{
			name: "struggling student",
			signals: map[SignalName]float64{
				SignalAttendanceRate: 0.40,
				SignalAvgAssessment:  0.35,
				SignalMissingWork:    5,
			},
			wantRisk: 81,
			wantBand: BandCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := sc.Score(est.Estimate(fullSignals(tt.signals)))
			assert.Equal(t, tt.wantRisk, a.Risk)
			assert.Equal(t, tt.wantBand, a.Band)
		})
	}
}

func TestScore_Pure(t *testing.T) {
	sc := mustScorer()
	v := StateVector{E: 0.31, M: 0.62, S: 0.44, P: 0.7, L: 0.55, W: 0.2}
	first := sc.Score(v)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, sc.Score(v))
	}
}

func TestScore_Bounds(t *testing.T) {
	sc := mustScorer()

	best := sc.Score(StateVector{E: 1, M: 1, S: 1, P: 1, L: 0, W: 0})
	assert.Equal(t, 0, best.Risk)
	assert.Equal(t, BandThriving, best.Band)

	worst := sc.Score(StateVector{E: 0, M: 0, S: 0, P: 0, L: 1, W: 1})
	assert.Equal(t, 100, worst.Risk)
	assert.Equal(t, BandCritical, worst.Band)
}

func TestScore_ContributorsSortedDescending(t *testing.T) {
	a := mustScorer().Score(StateVector{E: 0.1, M: 0.9, S: 0.5, P: 0.5, L: 0.2, W: 0})
	require.Len(t, a.Contributors, 6)
	assert.Equal(t, DimEngagement, a.Contributors[0].Dimension)
	for i := 1; i < len(a.Contributors); i++ {
		assert.GreaterOrEqual(t, a.Contributors[i-1].Contribution, a.Contributors[i].Contribution)
	}
}

func TestBandFor_Monotonic(t *testing.T) {
	bands := DefaultCalibration().Bands
	for r1 := 0; r1 <= 100; r1++ {
		for r2 := r1 + 1; r2 <= 100; r2++ {
			assert.LessOrEqual(t, bands.BandFor(r1).Severity(), bands.BandFor(r2).Severity(),
				"risk %d vs %d", r1, r2)
		}
	}
}

func TestBandFor_Boundaries(t *testing.T) {
	bands := BandThresholds{Stable: 25, AtRisk: 45, Critical: 65}

	tests := []struct {
		risk int
		want Band
	}{
		{0, BandThriving},
		{24, BandThriving},
		{25, BandStable},
		{44, BandStable},
		{45, BandAtRisk},
		{64, BandAtRisk},
		{65, BandCritical},
		{100, BandCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, bands.BandFor(tt.risk), "risk %d", tt.risk)
		assert.LessOrEqual(t, bands.LowerBound(tt.want), tt.risk)
	}
}

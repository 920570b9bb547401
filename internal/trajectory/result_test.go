package trajectory

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/analysis"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/optimizer"
)

func TestResult_Response(t *testing.T) {
	res := &Result{
		StudentID: "s1",
		Assessment: analysis.RiskAssessment{
			Risk:  81,
			Band:  analysis.BandCritical,
			State: analysis.StateVector{E: 0.32, M: 0.38, S: 0.5, P: 0.5, L: 0.75, W: 0.85444},
		},
		Recommendations: []optimizer.Recommendation{
			{ActionKey: "Tutoring", Name: "Tutoring", Cost: 5, PredictedDrop: 10.555, Rationale: "Addresses low Mastery via targeted tutoring"},
		},
		TargetDrop: 17,
		TargetMet:  true,
		AsOf:       time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
	}

	resp := res.Response()
	assert.Equal(t, 0.85, resp.State.W)
	assert.Equal(t, 0.32, resp.State.E)
	assert.Equal(t, "CRITICAL", resp.State.Band)
	assert.Equal(t, "2026-03-10", resp.AsOf)
	require.Len(t, resp.Recommendations, 1)
	assert.Equal(t, 10.6, resp.Recommendations[0].PredictedRiskDrop)

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"performance_band":"CRITICAL"`)
	assert.Contains(t, string(body), `"predicted_risk_drop":10.6`)
}

func TestResult_ResponseWithoutRecommendations(t *testing.T) {
	resp := (&Result{StudentID: "s1"}).Response()
	assert.NotNil(t, resp.Recommendations)
	assert.Empty(t, resp.Recommendations)

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"recommendations":[]`)
}
